package service

import (
	"errors"
	"fmt"
	"time"
)

// Flow specific errors used by handlers for stable error_type mapping.
var (
	// ErrOtpExpired covers both a genuinely expired code and a missing one:
	// the two are deliberately indistinguishable to the caller.
	ErrOtpExpired           = errors.New("otp_expired")
	ErrOtpMismatch          = errors.New("otp_mismatch")
	ErrOtpAttemptsExhausted = errors.New("otp_attempts_exhausted")
	ErrOtpResendSuppressed  = errors.New("otp_resend_suppressed")
	ErrOtpDeliveryFailed    = errors.New("otp_delivery_failed")
	ErrTooManyRequests      = errors.New("too_many_requests")
	ErrSamePassword         = errors.New("same_password")
	ErrWeakPassword         = errors.New("weak_password")
	ErrSessionExpired       = errors.New("reset_session_expired")
	ErrInvalidCredentials   = errors.New("invalid_credentials")
	ErrAccountBlocked       = errors.New("account_blocked")
)

// RateLimitExceededError carries the remaining window duration so handlers
// can surface a Retry-After value.
type RateLimitExceededError struct {
	Window     string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("%s: window %s, retry after %s", ErrTooManyRequests, e.Window, e.RetryAfter)
}

func (e *RateLimitExceededError) Unwrap() error {
	return ErrTooManyRequests
}
