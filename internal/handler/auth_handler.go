package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/support-portal-api/internal/service"
)

// AuthHandler обрабатывает запросы, связанные со входом
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler создает новый обработчик аутентификации
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginVerifyRequest представляет подтверждение входа кодом
type LoginVerifyRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Otp        string `json:"otp" binding:"required,len=8,numeric"`
	DeviceName string `json:"device_name" binding:"omitempty,max=100"`
}

// Login обрабатывает POST /auth/login.
// Проверка пароля выполняется всегда; доверие устройства решает только,
// нужен ли дополнительно одноразовый код.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation"})
		return
	}

	result, err := h.authService.Login(
		c.Request.Context(),
		req.Email,
		req.Password,
		deviceFingerprint(c),
		c.ClientIP(),
		c.Request.UserAgent(),
	)
	if err != nil {
		respondLoginError(c, err)
		return
	}

	if result.RequiresOtp {
		c.JSON(http.StatusOK, gin.H{
			"requires_otp": true,
			"message":      "A verification code has been sent to your email.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requires_otp": false,
		"accessToken":  result.AccessToken,
		"tokenType":    "Bearer",
		"expiresIn":    result.ExpiresIn,
		"user":         result.User,
	})
}

// LoginVerify обрабатывает POST /auth/login/verify
func (h *AuthHandler) LoginVerify(c *gin.Context) {
	var req LoginVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation"})
		return
	}

	result, err := h.authService.VerifyLoginOtp(
		c.Request.Context(),
		req.Email,
		req.Otp,
		deviceFingerprint(c),
		c.ClientIP(),
		c.Request.UserAgent(),
		req.DeviceName,
	)
	if err != nil {
		respondLoginError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken": result.AccessToken,
		"tokenType":   "Bearer",
		"expiresIn":   result.ExpiresIn,
		"user":        result.User,
	})
}

func respondLoginError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{
			"message":    "Invalid email or password.",
			"error_type": "invalid_credentials",
		})
	case errors.Is(err, service.ErrAccountBlocked):
		c.JSON(http.StatusForbidden, gin.H{
			"message":    "This account is not available.",
			"error_type": "account_blocked",
		})
	default:
		respondResetFlowError(c, err)
	}
}

// deviceFingerprint возвращает отпечаток устройства: либо присланный
// клиентом заголовок, либо стабильный хеш характеристик запроса.
func deviceFingerprint(c *gin.Context) string {
	if fp := c.GetHeader("X-Device-Fingerprint"); fp != "" {
		if len(fp) > 64 {
			fp = fp[:64]
		}
		return fp
	}

	sum := sha256.Sum256([]byte(c.Request.UserAgent() + "|" + c.GetHeader("Accept-Language")))
	return hex.EncodeToString(sum[:])
}
