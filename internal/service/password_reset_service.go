package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	"github.com/yourusername/support-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// Password policy bounds.
const (
	passwordMinLength = 12
	passwordMaxLength = 72 // bcrypt input limit
)

// PasswordResetService orchestrates the reset flow: request, OTP challenge,
// and the credential finalizer. Requests for unknown accounts always see the
// same generic outcome.
type PasswordResetService struct {
	userRepo      repository.UserRepository
	sessionRepo   repository.SessionRepository
	otpService    *OtpService
	rateLimiter   *RateLimitPolicy
	resetSessions *ResetSessionStore
}

func NewPasswordResetService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	otpService *OtpService,
	rateLimiter *RateLimitPolicy,
	resetSessions *ResetSessionStore,
) (*PasswordResetService, error) {
	if userRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if sessionRepo == nil {
		return nil, fmt.Errorf("session repository is required")
	}
	if otpService == nil {
		return nil, fmt.Errorf("otp service is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limit policy is required")
	}
	if resetSessions == nil {
		return nil, fmt.Errorf("reset session store is required")
	}
	return &PasswordResetService{
		userRepo:      userRepo,
		sessionRepo:   sessionRepo,
		otpService:    otpService,
		rateLimiter:   rateLimiter,
		resetSessions: resetSessions,
	}, nil
}

// RequestReset begins a reset for the login (email or username) and returns
// an opaque reset session id. An unknown or blocked account gets a decoy id
// that is never stored, so the response is indistinguishable from the real
// thing. Only rate limiting and delivery failure surface as errors.
func (s *PasswordResetService) RequestReset(ctx context.Context, login, ip string) (string, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return "", fmt.Errorf("%w: empty login", apperrors.ErrValidation)
	}

	if err := s.rateLimiter.AllowResetRequest(ip); err != nil {
		return "", err
	}

	user, err := s.lookupAccount(login)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Printf("[PasswordReset] Request for unknown login=%q ip=%s", login, ip)
			return NewSessionID(), nil
		}
		return "", err
	}
	if !user.IsActive() {
		log.Printf("[PasswordReset] Request for blocked account id=%d ip=%s", user.ID, ip)
		return NewSessionID(), nil
	}

	if err := s.otpService.Issue(ctx, user.Email, false); err != nil {
		// Подавление повтора означает, что живой код уже есть — для
		// вызывающего это тот же общий успех.
		if errors.Is(err, ErrOtpResendSuppressed) {
			log.Printf("[PasswordReset] Issue suppressed for account id=%d ip=%s", user.ID, ip)
		} else {
			return "", err
		}
	}

	sessionID := NewSessionID()
	sess := &ResetSession{
		Email:     strings.ToLower(user.Email),
		AccountID: user.ID,
	}
	if err := s.resetSessions.Save(sessionID, sess); err != nil {
		return "", fmt.Errorf("failed to save reset session: %w", err)
	}

	log.Printf("[PasswordReset] Reset requested for account id=%d ip=%s", user.ID, ip)
	return sessionID, nil
}

// VerifyCode passes the submitted code through the rate limit policy and the
// verification transaction, then marks the session verified. The submitted
// email must match the session's pending email.
func (s *PasswordResetService) VerifyCode(ctx context.Context, resetSessionID, email, code, ip string) (attemptsLeft int, err error) {
	sess, err := s.resetSessions.Get(resetSessionID)
	if err != nil {
		return 0, err
	}
	if !strings.EqualFold(strings.TrimSpace(email), sess.Email) {
		log.Printf("[PasswordReset] Verify email mismatch for account id=%d ip=%s", sess.AccountID, ip)
		return 0, ErrSessionExpired
	}

	// Обе корзины (ip и учетная запись) проверяются до транзакции.
	if err := s.rateLimiter.AllowVerify(ip, sess.AccountID); err != nil {
		return 0, err
	}

	attemptsLeft, err = s.otpService.Verify(sess.Email, code, ip)
	if err != nil {
		return attemptsLeft, err
	}

	sess.OtpVerified = true
	if err := s.resetSessions.Save(resetSessionID, sess); err != nil {
		return 0, fmt.Errorf("failed to persist verified reset session: %w", err)
	}
	return 0, nil
}

// Status reports the live code state for the session's pending email.
func (s *PasswordResetService) Status(resetSessionID string) (*OtpStatus, error) {
	sess, err := s.resetSessions.Get(resetSessionID)
	if err != nil {
		return nil, err
	}
	return s.otpService.Status(sess.Email)
}

// Resend issues a replacement code for the session's pending email.
func (s *PasswordResetService) Resend(ctx context.Context, resetSessionID, email, ip string) error {
	sess, err := s.resetSessions.Get(resetSessionID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(email), sess.Email) {
		return ErrSessionExpired
	}

	if err := s.rateLimiter.AllowResend(ip); err != nil {
		return err
	}
	return s.otpService.Issue(ctx, sess.Email, true)
}

// Finalize rotates the credential after a verified OTP challenge: stores the
// new hash, revokes every live session of the account, closes the consumed
// code and clears the reset session. A second submission finds no verified
// session state and fails closed.
func (s *PasswordResetService) Finalize(ctx context.Context, resetSessionID, password, confirmation, ip string) error {
	sess, err := s.resetSessions.Get(resetSessionID)
	if err != nil {
		return err
	}
	if !sess.OtpVerified {
		log.Printf("[PasswordReset] Finalize without verified otp for account id=%d ip=%s", sess.AccountID, ip)
		return ErrSessionExpired
	}

	if password != confirmation {
		return fmt.Errorf("%w: password confirmation does not match", apperrors.ErrValidation)
	}
	if err := ValidatePasswordPolicy(password); err != nil {
		return err
	}

	user, err := s.userRepo.GetByID(sess.AccountID)
	if err != nil {
		return err
	}
	if user.CheckPassword(password) {
		return ErrSamePassword
	}

	if err := s.userRepo.UpdatePassword(user.ID, password); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	// Все живые сессии принудительно завершаются: смена пароля требует
	// повторного входа на каждом устройстве.
	if _, err := s.sessionRepo.RevokeAllForUser(user.ID, "password_reset"); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	if err := s.otpService.MarkUsed(sess.Email, ip); err != nil {
		log.Printf("[PasswordReset] Failed to close otp records for account id=%d: %v", user.ID, err)
	}

	if err := s.resetSessions.Delete(resetSessionID); err != nil {
		log.Printf("[PasswordReset] Failed to clear reset session for account id=%d: %v", user.ID, err)
	}

	log.Printf("[PasswordReset] Password reset completed for account id=%d ip=%s", user.ID, ip)
	return nil
}

func (s *PasswordResetService) lookupAccount(login string) (*entity.User, error) {
	if strings.Contains(login, "@") {
		return s.userRepo.GetByEmail(strings.ToLower(login))
	}
	return s.userRepo.GetByUsername(login)
}

// ValidatePasswordPolicy enforces length 12–72 and all four character
// classes: upper, lower, digit, symbol.
func ValidatePasswordPolicy(password string) error {
	// Минимум считается в символах, максимум — в байтах (предел входа bcrypt).
	if utf8.RuneCountInString(password) < passwordMinLength || len(password) > passwordMaxLength {
		return fmt.Errorf("%w: password must be %d-%d characters",
			ErrWeakPassword, passwordMinLength, passwordMaxLength)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return fmt.Errorf("%w: password must contain upper and lower case letters, a digit and a symbol",
			ErrWeakPassword)
	}
	return nil
}
