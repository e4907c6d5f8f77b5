package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_BeforeSaveHashesPlaintext(t *testing.T) {
	user := &User{Email: "jdoe@example.com", Password: "Plain-Password-1!"}

	require.NoError(t, user.BeforeSave(nil))
	assert.True(t, strings.HasPrefix(user.Password, "$2"))
	assert.True(t, user.CheckPassword("Plain-Password-1!"))
	assert.False(t, user.CheckPassword("wrong"))
}

// Повторное сохранение не должно хешировать уже захешированный пароль
func TestUser_BeforeSaveSkipsBcryptHash(t *testing.T) {
	user := &User{Email: "jdoe@example.com", Password: "Plain-Password-1!"}
	require.NoError(t, user.BeforeSave(nil))
	hashed := user.Password

	require.NoError(t, user.BeforeSave(nil))
	assert.Equal(t, hashed, user.Password)
}

func TestUser_IsActive(t *testing.T) {
	assert.True(t, (&User{Status: UserStatusActive}).IsActive())
	assert.False(t, (&User{Status: UserStatusBlocked}).IsActive())
	assert.False(t, (&User{Status: ""}).IsActive())
}
