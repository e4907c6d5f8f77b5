package repository

import (
	"github.com/yourusername/support-portal-api/internal/domain/entity"
)

// SessionRepository интерфейс для работы с сессиями пользователей
type SessionRepository interface {
	// Create создает новую сессию и возвращает ее ID
	Create(session *entity.UserSession) (uint, error)

	// GetByTokenHash находит сессию по SHA-256 хешу токена
	GetByTokenHash(tokenHash string) (*entity.UserSession, error)

	// GetByID находит сессию по ее ID
	GetByID(id uint) (*entity.UserSession, error)

	// RevokeByID отзывает отдельную сессию
	RevokeByID(id uint, reason string) error

	// RevokeAllForUser отзывает все активные сессии пользователя
	RevokeAllForUser(userID uint, reason string) (int64, error)

	// GetActiveForUser получает все активные сессии пользователя
	GetActiveForUser(userID uint) ([]*entity.UserSession, error)

	// CleanupExpired удаляет все просроченные и отозванные сессии
	CleanupExpired() (int64, error)
}
