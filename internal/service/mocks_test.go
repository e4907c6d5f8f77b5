package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	"github.com/yourusername/support-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// ============================================================================
// Моки и фейки для тестирования сервисов
// ============================================================================

// MockUserRepository реализует repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(user *entity.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(id uint) (*entity.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(email string) (*entity.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) GetByUsername(username string) (*entity.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) Update(user *entity.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) UpdatePassword(userID uint, newPassword string) error {
	args := m.Called(userID, newPassword)
	return args.Error(0)
}

// MockSessionRepository реализует repository.SessionRepository
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(session *entity.UserSession) (uint, error) {
	args := m.Called(session)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockSessionRepository) GetByTokenHash(tokenHash string) (*entity.UserSession, error) {
	args := m.Called(tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.UserSession), args.Error(1)
}

func (m *MockSessionRepository) GetByID(id uint) (*entity.UserSession, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.UserSession), args.Error(1)
}

func (m *MockSessionRepository) RevokeByID(id uint, reason string) error {
	args := m.Called(id, reason)
	return args.Error(0)
}

func (m *MockSessionRepository) RevokeAllForUser(userID uint, reason string) (int64, error) {
	args := m.Called(userID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionRepository) GetActiveForUser(userID uint) ([]*entity.UserSession, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.UserSession), args.Error(1)
}

func (m *MockSessionRepository) CleanupExpired() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

// MockDeviceRepository реализует repository.DeviceRepository
type MockDeviceRepository struct {
	mock.Mock
}

func (m *MockDeviceRepository) Create(device *entity.SavedDevice) error {
	args := m.Called(device)
	return args.Error(0)
}

func (m *MockDeviceRepository) GetByID(id uint) (*entity.SavedDevice, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SavedDevice), args.Error(1)
}

func (m *MockDeviceRepository) GetByUserAndFingerprint(userID uint, fingerprint string) (*entity.SavedDevice, error) {
	args := m.Called(userID, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SavedDevice), args.Error(1)
}

func (m *MockDeviceRepository) ListByUser(userID uint) ([]entity.SavedDevice, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.SavedDevice), args.Error(1)
}

func (m *MockDeviceRepository) Update(device *entity.SavedDevice) error {
	args := m.Called(device)
	return args.Error(0)
}

func (m *MockDeviceRepository) RefreshTrust(id uint, lastUsedAt, trustExpiresAt time.Time, ipAddress string) error {
	args := m.Called(id, lastUsedAt, trustExpiresAt, ipAddress)
	return args.Error(0)
}

func (m *MockDeviceRepository) Revoke(id uint, revokedAt time.Time) error {
	args := m.Called(id, revokedAt)
	return args.Error(0)
}

func (m *MockDeviceRepository) RevokeExpired(now time.Time) (int64, error) {
	args := m.Called(now)
	return args.Get(0).(int64), args.Error(1)
}

// fakeOtpRepo — потокобезопасная in-memory реализация repository.OtpRepository.
// VerifyAndConsume сериализуется мьютексом, воспроизводя контракт
// пессимистичной блокировки боевого репозитория.
type fakeOtpRepo struct {
	mu     sync.Mutex
	nextID uint
	rows   []*entity.OtpRecord

	// Подставные ошибки для имитации сбоев хранилища.
	createErr error
	deleteErr error
}

func newFakeOtpRepo() *fakeOtpRepo {
	return &fakeOtpRepo{}
}

func (f *fakeOtpRepo) Create(rec *entity.OtpRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	rec.ID = f.nextID
	clone := *rec
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeOtpRepo) liveLocked(email string) *entity.OtpRecord {
	now := time.Now()
	var latest *entity.OtpRecord
	for _, r := range f.rows {
		if r.Email == email && r.UsedAt == nil && r.ExpiresAt.After(now) {
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
	}
	return latest
}

func (f *fakeOtpRepo) GetLiveByEmail(email string) (*entity.OtpRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec := f.liveLocked(email); rec != nil {
		clone := *rec
		return &clone, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeOtpRepo) DeleteByEmail(email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var kept []*entity.OtpRecord
	var deleted int64
	for _, r := range f.rows {
		if r.Email == email {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return deleted, nil
}

func (f *fakeOtpRepo) DeleteByID(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*entity.OtpRecord
	for _, r := range f.rows {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeOtpRepo) VerifyAndConsume(email, ip string, maxAttempts int, match func(codeHash string) bool) (*repository.OtpVerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := &repository.OtpVerifyResult{}
	rec := f.liveLocked(email)
	if rec == nil {
		result.Outcome = repository.OtpVerifyNoLiveRecord
		return result, nil
	}
	if rec.Attempts >= maxAttempts {
		result.Outcome = repository.OtpVerifyAttemptsExhausted
		return result, nil
	}
	if !match(rec.CodeHash) {
		rec.Attempts++
		result.Outcome = repository.OtpVerifyMismatch
		result.AttemptsLeft = maxAttempts - rec.Attempts
		if result.AttemptsLeft < 0 {
			result.AttemptsLeft = 0
		}
		return result, nil
	}
	now := time.Now()
	rec.UsedAt = &now
	rec.UsedIP = ip
	result.Outcome = repository.OtpVerifySuccess
	result.UsedRecordID = rec.ID
	return result, nil
}

func (f *fakeOtpRepo) MarkUsedByEmail(email, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, r := range f.rows {
		if r.Email == email && r.UsedAt == nil {
			used := now
			r.UsedAt = &used
			r.UsedIP = ip
		}
	}
	return nil
}

// countRows возвращает количество записей для email (живых и исторических)
func (f *fakeOtpRepo) countRows(email string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.Email == email {
			n++
		}
	}
	return n
}

// fakeCache — in-memory реализация repository.CacheRepository с TTL
type fakeCache struct {
	mu   sync.Mutex
	data map[string]fakeCacheEntry
}

type fakeCacheEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]fakeCacheEntry{}}
}

func (f *fakeCache) getLocked(key string) (fakeCacheEntry, bool) {
	e, ok := f.data[key]
	if !ok {
		return fakeCacheEntry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(f.data, key)
		return fakeCacheEntry{}, false
	}
	return e, true
}

func (f *fakeCache) Set(key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fakeCacheEntry{value: fmt.Sprint(value), expiresAt: expiryFrom(expiration)}
	return nil
}

func (f *fakeCache) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.getLocked(key)
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return e.value, nil
}

func (f *fakeCache) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeCache) Exists(key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.getLocked(key)
	return ok, nil
}

func (f *fakeCache) SetJSON(key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fakeCacheEntry{value: string(data), expiresAt: expiryFrom(expiration)}
	return nil
}

func (f *fakeCache) GetJSON(key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.getLocked(key)
	if !ok {
		return apperrors.ErrNotFound
	}
	return json.Unmarshal([]byte(e.value), dest)
}

func (f *fakeCache) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.getLocked(key); ok {
		return false, nil
	}
	f.data[key] = fakeCacheEntry{value: fmt.Sprint(value), expiresAt: expiryFrom(expiration)}
	return true, nil
}

func (f *fakeCache) TimeRemaining(key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.getLocked(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, nil
	}
	remaining := time.Until(e.expiresAt)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func expiryFrom(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return time.Now().Add(expiration)
}

// fakeCounter — in-memory реализация repository.CounterRepository
type fakeCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Time{}}
}

func (f *fakeCounter) IncrementWithTTL(key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exp, ok := f.expires[key]; ok && time.Now().After(exp) {
		delete(f.counts, key)
		delete(f.expires, key)
	}
	f.counts[key]++
	if f.counts[key] == 1 {
		f.expires[key] = time.Now().Add(window)
	}
	return f.counts[key], nil
}

func (f *fakeCounter) TimeRemaining(key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.expires[key]
	if !ok {
		return 0, nil
	}
	remaining := time.Until(exp)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// captureEmailService записывает отправленные коды
type captureEmailService struct {
	mu      sync.Mutex
	sent    []string
	to      []string
	failErr error
}

func (s *captureEmailService) SendOtpCode(ctx context.Context, toEmail, code, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.sent = append(s.sent, code)
	s.to = append(s.to, toEmail)
	return nil
}

func (s *captureEmailService) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

func (s *captureEmailService) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
