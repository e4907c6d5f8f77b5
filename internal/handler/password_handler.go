package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
	"github.com/yourusername/support-portal-api/internal/service"
)

// resetSessionCookie carries the opaque reset session id between the request,
// verify and reset steps.
const resetSessionCookie = "reset_session"

// resetSessionCookieMaxAge limits the cookie lifetime; the authoritative TTL
// lives on the server-side session state.
const resetSessionCookieMaxAge = 30 * 60

// PasswordHandler обрабатывает поток сброса пароля
type PasswordHandler struct {
	resetService *service.PasswordResetService
}

// NewPasswordHandler создает новый обработчик сброса пароля
func NewPasswordHandler(resetService *service.PasswordResetService) *PasswordHandler {
	return &PasswordHandler{resetService: resetService}
}

// PasswordRequestRequest представляет запрос на начало сброса
type PasswordRequestRequest struct {
	Login string `json:"login" binding:"required,min=3,max=100"`
}

// PasswordVerifyRequest представляет отправку кода
type PasswordVerifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Otp   string `json:"otp" binding:"required,len=8,numeric"`
}

// PasswordResetRequest представляет установку нового пароля
type PasswordResetRequest struct {
	Password             string `json:"password" binding:"required"`
	PasswordConfirmation string `json:"password_confirmation" binding:"required"`
}

// PasswordResendRequest представляет запрос повторной отправки кода
type PasswordResendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Request обрабатывает POST /password/request.
// Ответ одинаков для существующих и несуществующих учетных записей.
func (h *PasswordHandler) Request(c *gin.Context) {
	var req PasswordRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation"})
		return
	}

	sessionID, err := h.resetService.RequestReset(c.Request.Context(), req.Login, c.ClientIP())
	if err != nil {
		respondResetFlowError(c, err)
		return
	}

	c.SetCookie(resetSessionCookie, sessionID, resetSessionCookieMaxAge, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"message": "If an account exists for this login, a verification code has been sent.",
	})
}

// VerifyPage обрабатывает GET /password/verify: данные для страницы ввода кода
func (h *PasswordHandler) VerifyPage(c *gin.Context) {
	sessionID, _ := c.Cookie(resetSessionCookie)
	status, err := h.resetService.Status(sessionID)
	if err != nil {
		respondResetFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"masked_email":  status.MaskedEmail,
		"valid":         status.Valid,
		"expires_at":    status.ExpiresAt,
		"attempts_left": status.AttemptsLeft,
	})
}

// Status обрабатывает GET /password/status
func (h *PasswordHandler) Status(c *gin.Context) {
	sessionID, _ := c.Cookie(resetSessionCookie)
	status, err := h.resetService.Status(sessionID)
	if err != nil {
		respondResetFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":         status.Valid,
		"expires_at":    status.ExpiresAt,
		"attempts_used": status.AttemptsUsed,
		"attempts_left": status.AttemptsLeft,
		"max_attempts":  status.MaxAttempts,
	})
}

// Verify обрабатывает POST /password/verify
func (h *PasswordHandler) Verify(c *gin.Context) {
	var req PasswordVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation"})
		return
	}

	sessionID, _ := c.Cookie(resetSessionCookie)
	attemptsLeft, err := h.resetService.VerifyCode(c.Request.Context(), sessionID, req.Email, req.Otp, c.ClientIP())
	if err != nil {
		if errors.Is(err, service.ErrOtpMismatch) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"message":       "Incorrect code.",
				"error_type":    "otp_mismatch",
				"attempts_left": attemptsLeft,
			})
			return
		}
		respondResetFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"redirect": "/password/reset",
	})
}

// Reset обрабатывает POST /password/reset
func (h *PasswordHandler) Reset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation"})
		return
	}

	sessionID, _ := c.Cookie(resetSessionCookie)
	err := h.resetService.Finalize(c.Request.Context(), sessionID, req.Password, req.PasswordConfirmation, c.ClientIP())
	if err != nil {
		respondResetFlowError(c, err)
		return
	}

	// Сессия сброса завершена — cookie больше не нужна
	c.SetCookie(resetSessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Password has been reset. Please sign in again on all devices.",
		"redirect": "/login",
	})
}

// Resend обрабатывает POST /password/resend
func (h *PasswordHandler) Resend(c *gin.Context) {
	var req PasswordResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation"})
		return
	}

	sessionID, _ := c.Cookie(resetSessionCookie)
	err := h.resetService.Resend(c.Request.Context(), sessionID, req.Email, c.ClientIP())
	if err != nil {
		respondResetFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "A new verification code has been sent."})
}

// respondResetFlowError отображает ошибки потока сброса в HTTP-ответы.
// Внутренние детали наружу не выходят: тексты сообщений общие, подробности
// остаются в логах сервисов.
func respondResetFlowError(c *gin.Context, err error) {
	var rateErr *service.RateLimitExceededError
	if errors.As(err, &rateErr) {
		retryAfter := int(rateErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"message":     "Too many attempts. Please try again later.",
			"error_type":  "rate_limited",
			"retry_after": retryAfter,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrOtpResendSuppressed):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"message":    "Please wait before requesting a new code.",
			"error_type": "resend_suppressed",
		})
	case errors.Is(err, service.ErrOtpExpired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message":    "Code expired. Please request a new one.",
			"error_type": "otp_expired",
			"redirect":   "/password/request",
		})
	case errors.Is(err, service.ErrOtpAttemptsExhausted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message":    "Too many incorrect attempts. Please request a new code.",
			"error_type": "otp_attempts_exhausted",
			"redirect":   "/password/request",
		})
	case errors.Is(err, service.ErrSessionExpired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message":    "Your reset session has expired. Please start over.",
			"error_type": "session_expired",
			"redirect":   "/password/request",
		})
	case errors.Is(err, service.ErrSamePassword):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message":    "New password must differ from the current one.",
			"error_type": "same_password",
		})
	case errors.Is(err, service.ErrWeakPassword):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message":    "Password must be 12-72 characters and contain upper and lower case letters, a digit and a symbol.",
			"error_type": "weak_password",
		})
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"message":    "Invalid request data",
			"error_type": "validation",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"message":    "Something went wrong. Please try again.",
			"error_type": "internal",
		})
	}
}
