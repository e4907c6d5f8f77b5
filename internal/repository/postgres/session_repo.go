package postgres

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// SessionRepo реализует repository.SessionRepository
type SessionRepo struct {
	db *gorm.DB
}

// NewSessionRepo создает новый репозиторий сессий
func NewSessionRepo(db *gorm.DB) (*SessionRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil for SessionRepo")
	}
	return &SessionRepo{db: db}, nil
}

// Create создает новую сессию и возвращает ее ID
func (r *SessionRepo) Create(session *entity.UserSession) (uint, error) {
	if err := r.db.Create(session).Error; err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	return session.ID, nil
}

// GetByTokenHash находит сессию по хешу токена
func (r *SessionRepo) GetByTokenHash(tokenHash string) (*entity.UserSession, error) {
	var session entity.UserSession
	err := r.db.Where("token_hash = ?", tokenHash).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetByID находит сессию по ID
func (r *SessionRepo) GetByID(id uint) (*entity.UserSession, error) {
	var session entity.UserSession
	err := r.db.First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// RevokeByID отзывает отдельную сессию
func (r *SessionRepo) RevokeByID(id uint, reason string) error {
	now := time.Now()
	return r.db.Model(&entity.UserSession{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"revoked_at": now,
			"reason":     reason,
		}).Error
}

// RevokeAllForUser отзывает все активные сессии пользователя.
// Используется при сбросе пароля: все устройства должны заново пройти вход.
func (r *SessionRepo) RevokeAllForUser(userID uint, reason string) (int64, error) {
	now := time.Now()
	result := r.db.Model(&entity.UserSession{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]interface{}{
			"revoked_at": now,
			"reason":     reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to revoke sessions for user %d: %w", userID, result.Error)
	}
	log.Printf("[SessionRepo] Отозвано %d сессий для пользователя ID=%d (причина: %s)",
		result.RowsAffected, userID, reason)
	return result.RowsAffected, nil
}

// GetActiveForUser получает все активные сессии пользователя
func (r *SessionRepo) GetActiveForUser(userID uint) ([]*entity.UserSession, error) {
	var sessions []*entity.UserSession
	err := r.db.
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// CleanupExpired удаляет просроченные и отозванные сессии
func (r *SessionRepo) CleanupExpired() (int64, error) {
	result := r.db.
		Where("expires_at < ? OR revoked_at IS NOT NULL", time.Now()).
		Delete(&entity.UserSession{})
	return result.RowsAffected, result.Error
}
