package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
	"github.com/yourusername/support-portal-api/internal/service"
)

// DeviceHandler обрабатывает управление доверенными устройствами
type DeviceHandler struct {
	deviceTrust *service.DeviceTrustService
}

// NewDeviceHandler создает новый обработчик устройств
func NewDeviceHandler(deviceTrust *service.DeviceTrustService) *DeviceHandler {
	return &DeviceHandler{deviceTrust: deviceTrust}
}

// List обрабатывает GET /devices
func (h *DeviceHandler) List(c *gin.Context) {
	userID := c.GetUint("user_id")

	devices, err := h.deviceTrust.ListDevices(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices", "error_type": "internal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// Revoke обрабатывает POST /devices/:id/revoke
func (h *DeviceHandler) Revoke(c *gin.Context) {
	userID := c.GetUint("user_id")

	deviceID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id", "error_type": "validation"})
		return
	}

	if err := h.deviceTrust.RevokeDevice(userID, uint(deviceID)); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found", "error_type": "not_found"})
		case errors.Is(err, apperrors.ErrForbidden):
			// Чужое устройство неотличимо от несуществующего
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found", "error_type": "not_found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke device", "error_type": "internal"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Stats обрабатывает GET /devices/stats
func (h *DeviceHandler) Stats(c *gin.Context) {
	userID := c.GetUint("user_id")

	stats, err := h.deviceTrust.Stats(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get device stats", "error_type": "internal"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
