package repository

import (
	"time"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
)

// DeviceRepository persists account/device trust records.
type DeviceRepository interface {
	Create(device *entity.SavedDevice) error
	GetByID(id uint) (*entity.SavedDevice, error)
	GetByUserAndFingerprint(userID uint, fingerprint string) (*entity.SavedDevice, error)
	ListByUser(userID uint) ([]entity.SavedDevice, error)
	Update(device *entity.SavedDevice) error
	// RefreshTrust slides the trust window forward and records the last-seen IP.
	RefreshTrust(id uint, lastUsedAt, trustExpiresAt time.Time, ipAddress string) error
	Revoke(id uint, revokedAt time.Time) error
	// RevokeExpired marks every record whose trust window has closed as
	// revoked and returns the number of affected rows. Idempotent.
	RevokeExpired(now time.Time) (int64, error)
}
