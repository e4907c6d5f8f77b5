package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/support-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// ResetSession is the explicit request-scoped state of one pending password
// reset: which account it targets and whether the OTP step has been passed.
// It is always loaded and saved by key, never looked up ambiently.
type ResetSession struct {
	Email       string `json:"email"`
	AccountID   uint   `json:"account_id"`
	OtpVerified bool   `json:"otp_verified"`
}

// ResetSessionStore keeps reset sessions in the cache under opaque IDs with a TTL.
type ResetSessionStore struct {
	cache repository.CacheRepository
	ttl   time.Duration
}

func NewResetSessionStore(cache repository.CacheRepository, ttl time.Duration) (*ResetSessionStore, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache repository is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ResetSessionStore{cache: cache, ttl: ttl}, nil
}

// NewSessionID returns a fresh opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

func resetSessionKey(id string) string {
	return "pwdreset:session:" + id
}

// Save stores the session state, resetting its TTL.
func (s *ResetSessionStore) Save(id string, sess *ResetSession) error {
	if id == "" {
		return fmt.Errorf("%w: empty reset session id", apperrors.ErrValidation)
	}
	return s.cache.SetJSON(resetSessionKey(id), sess, s.ttl)
}

// Get loads the session state. A missing or expired session returns
// ErrSessionExpired.
func (s *ResetSessionStore) Get(id string) (*ResetSession, error) {
	if id == "" {
		return nil, ErrSessionExpired
	}
	var sess ResetSession
	err := s.cache.GetJSON(resetSessionKey(id), &sess)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	return &sess, nil
}

// Delete clears the session state.
func (s *ResetSessionStore) Delete(id string) error {
	if id == "" {
		return nil
	}
	return s.cache.Delete(resetSessionKey(id))
}
