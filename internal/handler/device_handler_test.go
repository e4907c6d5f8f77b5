package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestDeviceHandler_RevokeBadID(t *testing.T) {
	h := &DeviceHandler{}

	tests := []string{"abc", "-1", "", "1.5"}
	for _, id := range tests {
		c, w := newTestContext(t, http.MethodPost, "/api/devices/"+id+"/revoke", nil)
		c.Params = gin.Params{{Key: "id", Value: id}}
		c.Set("user_id", uint(42))

		h.Revoke(c)
		assert.Equal(t, http.StatusBadRequest, w.Code, "id=%q", id)
	}
}
