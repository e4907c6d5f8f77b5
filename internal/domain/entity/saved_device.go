package entity

import "time"

// SavedDevice stores a trust relationship between an account and a device
// fingerprint. Trust is a sliding window: every trusted use pushes
// TrustExpiresAt forward.
type SavedDevice struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;uniqueIndex:idx_saved_devices_user_fp" json:"user_id"`
	DeviceFingerprint string     `gorm:"size:64;not null;uniqueIndex:idx_saved_devices_user_fp" json:"device_fingerprint"`
	IPAddress         string     `gorm:"size:50;not null;default:''" json:"ip_address"`
	DeviceName        string     `gorm:"size:100;default:''" json:"device_name,omitempty"`
	LastUsedAt        time.Time  `gorm:"not null" json:"last_used_at"`
	TrustExpiresAt    time.Time  `gorm:"not null;index" json:"trust_expires_at"`
	RevokedAt         *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (SavedDevice) TableName() string {
	return "saved_devices"
}

// IsTrusted reports whether the trust window is still open. A revoked record
// never regains trust.
func (d *SavedDevice) IsTrusted(now time.Time) bool {
	return d.RevokedAt == nil && d.TrustExpiresAt.After(now)
}

// Revoke closes the trust window permanently.
func (d *SavedDevice) Revoke(now time.Time) {
	d.RevokedAt = &now
}
