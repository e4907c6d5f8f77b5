package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// CounterRepo реализует repository.CounterRepository поверх Redis.
// INCR атомарен на стороне Redis, внешних блокировок не требуется.
type CounterRepo struct {
	client redis.UniversalClient
	ctx    context.Context
}

// NewCounterRepo создает новый репозиторий счетчиков
func NewCounterRepo(client redis.UniversalClient) (*CounterRepo, error) {
	if client == nil {
		return nil, fmt.Errorf("Redis client cannot be nil for CounterRepo")
	}
	return &CounterRepo{
		client: client,
		ctx:    context.Background(),
	}, nil
}

// IncrementWithTTL атомарно увеличивает счетчик; на первом инкременте ключ
// получает TTL окна. Возвращает значение счетчика после инкремента.
func (r *CounterRepo) IncrementWithTTL(key string, window time.Duration) (int64, error) {
	count, err := r.client.Incr(r.ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	// Если это первый запрос в окне — устанавливаем TTL
	if count == 1 {
		if err := r.client.Expire(r.ctx, key, window).Err(); err != nil {
			log.Printf("[CounterRepo] Failed to set TTL for key %s: %v", key, err)
		}
	}
	return count, nil
}

// TimeRemaining возвращает оставшееся время окна для ключа
func (r *CounterRepo) TimeRemaining(key string) (time.Duration, error) {
	ttl, err := r.client.TTL(r.ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
