package repository

import (
	"time"
)

// CacheRepository определяет методы для работы с кешем
type CacheRepository interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	SetJSON(key string, value interface{}, expiration time.Duration) error
	GetJSON(key string, dest interface{}) error
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)
	// TimeRemaining возвращает оставшееся время жизни ключа.
	// Для отсутствующего ключа возвращает 0.
	TimeRemaining(key string) (time.Duration, error)
}

// CounterRepository — атомарный счетчик с TTL для окон rate limiting.
type CounterRepository interface {
	// IncrementWithTTL атомарно увеличивает счетчик; при создании ключа
	// устанавливает TTL окна. Возвращает значение после инкремента.
	IncrementWithTTL(key string, window time.Duration) (int64, error)

	// TimeRemaining возвращает оставшееся время окна для ключа (0, если ключа нет).
	TimeRemaining(key string) (time.Duration, error)
}
