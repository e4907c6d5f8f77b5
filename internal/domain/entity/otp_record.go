package entity

import "time"

// OtpRecord stores one hashed one-time passcode challenge for an email.
// Only the HMAC digest of the code is persisted, never the plaintext.
type OtpRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Email       string     `gorm:"size:100;not null;index" json:"email"`
	CodeHash    string     `gorm:"size:64;not null" json:"-"`
	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	UsedAt      *time.Time `gorm:"index" json:"used_at,omitempty"`
	UsedIP      string     `gorm:"size:50;default:''" json:"used_ip,omitempty"`
	ResendCount int        `gorm:"not null;default:0" json:"resend_count"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (OtpRecord) TableName() string {
	return "otp_records"
}

func (o *OtpRecord) IsUsed() bool {
	return o.UsedAt != nil
}

func (o *OtpRecord) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// IsLive reports whether the record can still be consumed.
func (o *OtpRecord) IsLive(now time.Time) bool {
	return !o.IsUsed() && !o.IsExpired(now)
}
