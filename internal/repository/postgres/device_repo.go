package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// DeviceRepo реализует repository.DeviceRepository
type DeviceRepo struct {
	db *gorm.DB
}

// NewDeviceRepo создает новый репозиторий доверенных устройств
func NewDeviceRepo(db *gorm.DB) *DeviceRepo {
	return &DeviceRepo{db: db}
}

func (r *DeviceRepo) Create(device *entity.SavedDevice) error {
	return r.db.Create(device).Error
}

func (r *DeviceRepo) GetByID(id uint) (*entity.SavedDevice, error) {
	var device entity.SavedDevice
	err := r.db.First(&device, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}

// GetByUserAndFingerprint возвращает запись для пары (пользователь, отпечаток)
func (r *DeviceRepo) GetByUserAndFingerprint(userID uint, fingerprint string) (*entity.SavedDevice, error) {
	var device entity.SavedDevice
	err := r.db.
		Where("user_id = ? AND device_fingerprint = ?", userID, fingerprint).
		First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get saved device: %w", err)
	}
	return &device, nil
}

func (r *DeviceRepo) ListByUser(userID uint) ([]entity.SavedDevice, error) {
	var devices []entity.SavedDevice
	err := r.db.
		Where("user_id = ?", userID).
		Order("last_used_at DESC").
		Find(&devices).Error
	return devices, err
}

// Update сохраняет запись целиком (включая сброс revoked_at в NULL)
func (r *DeviceRepo) Update(device *entity.SavedDevice) error {
	return r.db.Model(device).
		Select("ip_address", "device_name", "last_used_at", "trust_expires_at", "revoked_at").
		Updates(device).Error
}

// RefreshTrust продлевает скользящее окно доверия и фиксирует последний IP
func (r *DeviceRepo) RefreshTrust(id uint, lastUsedAt, trustExpiresAt time.Time, ipAddress string) error {
	return r.db.Model(&entity.SavedDevice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_used_at":     lastUsedAt,
			"trust_expires_at": trustExpiresAt,
			"ip_address":       ipAddress,
		}).Error
}

func (r *DeviceRepo) Revoke(id uint, revokedAt time.Time) error {
	return r.db.Model(&entity.SavedDevice{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", revokedAt).Error
}

// RevokeExpired помечает отозванными все записи с закрывшимся окном доверия.
// Идемпотентна: повторный запуск не находит новых строк.
func (r *DeviceRepo) RevokeExpired(now time.Time) (int64, error) {
	result := r.db.Model(&entity.SavedDevice{}).
		Where("revoked_at IS NULL AND trust_expires_at <= ?", now).
		Update("revoked_at", now)
	return result.RowsAffected, result.Error
}
