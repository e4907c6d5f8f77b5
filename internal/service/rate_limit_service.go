package service

import (
	"fmt"
	"log"
	"time"

	"github.com/yourusername/support-portal-api/internal/config"
	"github.com/yourusername/support-portal-api/internal/domain/repository"
)

// Window names used in keys and error context.
const (
	windowResetRequest = "reset-request"
	windowVerifyIP     = "verify-by-ip"
	windowVerifyUser   = "verify-by-user"
	windowResend       = "resend"
)

// RateLimitPolicy wraps the counter store with the named windows protecting
// the reset flow. Counting is fail-closed: the counter is incremented before
// the protected operation runs, on success and failure alike, and a counter
// store error rejects the request instead of waving it through.
type RateLimitPolicy struct {
	counters repository.CounterRepository
	cfg      config.RateLimitConfig
}

func NewRateLimitPolicy(counters repository.CounterRepository, cfg config.RateLimitConfig) (*RateLimitPolicy, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter repository is required")
	}
	applyWindowDefaults(&cfg)
	return &RateLimitPolicy{counters: counters, cfg: cfg}, nil
}

func applyWindowDefaults(cfg *config.RateLimitConfig) {
	if cfg.ResetRequest.Limit <= 0 {
		cfg.ResetRequest = config.RateLimitWindow{Limit: 3, WindowSec: 60}
	}
	if cfg.VerifyIP.Limit <= 0 {
		cfg.VerifyIP = config.RateLimitWindow{Limit: 15, WindowSec: 30}
	}
	if cfg.VerifyUser.Limit <= 0 {
		cfg.VerifyUser = config.RateLimitWindow{Limit: 5, WindowSec: 30}
	}
	if cfg.Resend.Limit <= 0 {
		cfg.Resend = config.RateLimitWindow{Limit: 5, WindowSec: 30}
	}
}

// AllowResetRequest gates POST /password/request by client IP.
func (p *RateLimitPolicy) AllowResetRequest(ip string) error {
	return p.check(windowResetRequest, "rl:otp:request:"+ip, p.cfg.ResetRequest)
}

// AllowResend gates POST /password/resend by client IP.
func (p *RateLimitPolicy) AllowResend(ip string) error {
	return p.check(windowResend, "rl:otp:resend:"+ip, p.cfg.Resend)
}

// AllowVerify gates verification by both the client IP and the pending
// account. Exceeding either window rejects the request before the
// verification transaction is touched.
func (p *RateLimitPolicy) AllowVerify(ip string, accountID uint) error {
	if err := p.AllowVerifyIP(ip); err != nil {
		return err
	}
	return p.AllowVerifyUser(accountID)
}

// AllowVerifyIP checks only the per-IP verify window. Callers that need an
// account lookup to learn the account id must spend this window first, so an
// unknown login never bypasses throttling.
func (p *RateLimitPolicy) AllowVerifyIP(ip string) error {
	return p.check(windowVerifyIP, "rl:otp:verify:ip:"+ip, p.cfg.VerifyIP)
}

// AllowVerifyUser checks only the per-account verify window.
func (p *RateLimitPolicy) AllowVerifyUser(accountID uint) error {
	return p.check(windowVerifyUser, fmt.Sprintf("rl:otp:verify:user:%d", accountID), p.cfg.VerifyUser)
}

func (p *RateLimitPolicy) check(window, key string, w config.RateLimitWindow) error {
	count, err := p.counters.IncrementWithTTL(key, time.Duration(w.WindowSec)*time.Second)
	if err != nil {
		// fail-closed: ошибка хранилища счетчиков отклоняет запрос
		return fmt.Errorf("rate limit counter unavailable for %s: %w", window, err)
	}

	if count > int64(w.Limit) {
		retryAfter, ttlErr := p.counters.TimeRemaining(key)
		if ttlErr != nil || retryAfter <= 0 {
			retryAfter = time.Duration(w.WindowSec) * time.Second
		}
		log.Printf("[RateLimitPolicy] Limit exceeded window=%s key=%s count=%d limit=%d retry_after=%s",
			window, key, count, w.Limit, retryAfter)
		return &RateLimitExceededError{Window: window, RetryAfter: retryAfter}
	}
	return nil
}
