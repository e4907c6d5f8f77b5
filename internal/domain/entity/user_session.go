package entity

import "time"

// UserSession stores an authenticated session record (hash-only model).
// The raw session token never touches the database.
type UserSession struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	TokenHash         string     `gorm:"column:token_hash;type:text;not null;uniqueIndex" json:"-"`
	DeviceFingerprint string     `gorm:"size:64;not null;default:''" json:"device_fingerprint"`
	IPAddress         string     `gorm:"size:50;not null;default:''" json:"ip_address"`
	UserAgent         string     `gorm:"type:text;not null;default:''" json:"user_agent"`
	ExpiresAt         time.Time  `gorm:"not null;index" json:"expires_at"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	RevokedAt         *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	Reason            string     `gorm:"size:255" json:"reason,omitempty"`
}

// NewUserSession creates a session entity using a precomputed SHA-256 token hash.
func NewUserSession(userID uint, tokenHash, fingerprint, ipAddress, userAgent string, expiresAt time.Time) *UserSession {
	return &UserSession{
		UserID:            userID,
		TokenHash:         tokenHash,
		DeviceFingerprint: fingerprint,
		IPAddress:         ipAddress,
		UserAgent:         userAgent,
		ExpiresAt:         expiresAt,
		CreatedAt:         time.Now(),
	}
}

// IsValid checks session validity.
func (s *UserSession) IsValid() bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(time.Now())
}

// Revoke marks the session as revoked with reason.
func (s *UserSession) Revoke(reason string) {
	now := time.Now()
	s.RevokedAt = &now
	s.Reason = reason
}

func (UserSession) TableName() string {
	return "user_sessions"
}
