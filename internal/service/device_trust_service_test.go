package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

const testFingerprint = "a3f1c2d4e5b6978812345678901234567890abcdef1234567890abcdef123456"

func newTestDeviceTrust(t *testing.T, repo *MockDeviceRepository) *DeviceTrustService {
	t.Helper()
	svc, err := NewDeviceTrustService(repo, 90*24*time.Hour, 24)
	require.NoError(t, err)
	return svc
}

func trustedDevice(userID uint, ip string) *entity.SavedDevice {
	now := time.Now()
	return &entity.SavedDevice{
		ID:                7,
		UserID:            userID,
		DeviceFingerprint: testFingerprint,
		IPAddress:         ip,
		LastUsedAt:        now.Add(-24 * time.Hour),
		TrustExpiresAt:    now.Add(30 * 24 * time.Hour),
	}
}

func TestDeviceTrust_EvaluateEmptyFingerprint(t *testing.T) {
	repo := new(MockDeviceRepository)
	svc := newTestDeviceTrust(t, repo)

	decision, err := svc.Evaluate(1, "", "192.168.1.10")
	require.NoError(t, err)
	assert.False(t, decision.Trusted)
	assert.True(t, decision.RequireOtp)
	assert.Equal(t, TrustReasonNewDevice, decision.Reason)
	repo.AssertNotCalled(t, "GetByUserAndFingerprint")
}

func TestDeviceTrust_EvaluateUnknownDevice(t *testing.T) {
	repo := new(MockDeviceRepository)
	repo.On("GetByUserAndFingerprint", uint(1), testFingerprint).Return(nil, apperrors.ErrNotFound)
	svc := newTestDeviceTrust(t, repo)

	decision, err := svc.Evaluate(1, testFingerprint, "192.168.1.10")
	require.NoError(t, err)
	assert.False(t, decision.Trusted)
	assert.True(t, decision.RequireOtp)
	assert.Equal(t, TrustReasonNewDevice, decision.Reason)
}

func TestDeviceTrust_EvaluateTrustedSameSubnet(t *testing.T) {
	repo := new(MockDeviceRepository)
	device := trustedDevice(1, "192.168.1.10")
	repo.On("GetByUserAndFingerprint", uint(1), testFingerprint).Return(device, nil)
	// Доверенное использование продлевает окно
	repo.On("RefreshTrust", device.ID, mock.AnythingOfType("time.Time"),
		mock.AnythingOfType("time.Time"), "192.168.1.77").Return(nil)
	svc := newTestDeviceTrust(t, repo)

	// Другой адрес, но та же /24
	decision, err := svc.Evaluate(1, testFingerprint, "192.168.1.77")
	require.NoError(t, err)
	assert.True(t, decision.Trusted)
	assert.False(t, decision.RequireOtp)
	repo.AssertExpectations(t)
}

func TestDeviceTrust_EvaluateSubnetChanged(t *testing.T) {
	repo := new(MockDeviceRepository)
	device := trustedDevice(1, "192.168.1.10")
	repo.On("GetByUserAndFingerprint", uint(1), testFingerprint).Return(device, nil)
	svc := newTestDeviceTrust(t, repo)

	decision, err := svc.Evaluate(1, testFingerprint, "192.168.2.10")
	require.NoError(t, err)
	assert.False(t, decision.Trusted)
	assert.True(t, decision.RequireOtp)
	assert.Equal(t, TrustReasonIPChanged, decision.Reason)
	// Окно не продлевается при отказе в доверии
	repo.AssertNotCalled(t, "RefreshTrust")
}

func TestDeviceTrust_EvaluateExpiredTrust(t *testing.T) {
	repo := new(MockDeviceRepository)
	device := trustedDevice(1, "192.168.1.10")
	device.TrustExpiresAt = time.Now().Add(-time.Hour)
	repo.On("GetByUserAndFingerprint", uint(1), testFingerprint).Return(device, nil)
	svc := newTestDeviceTrust(t, repo)

	decision, err := svc.Evaluate(1, testFingerprint, "192.168.1.10")
	require.NoError(t, err)
	assert.False(t, decision.Trusted)
	assert.Equal(t, TrustReasonTrustExpired, decision.Reason)
}

func TestDeviceTrust_EvaluateRevokedDevice(t *testing.T) {
	repo := new(MockDeviceRepository)
	device := trustedDevice(1, "192.168.1.10")
	device.Revoke(time.Now())
	repo.On("GetByUserAndFingerprint", uint(1), testFingerprint).Return(device, nil)
	svc := newTestDeviceTrust(t, repo)

	decision, err := svc.Evaluate(1, testFingerprint, "192.168.1.10")
	require.NoError(t, err)
	assert.False(t, decision.Trusted)
	assert.Equal(t, TrustReasonTrustExpired, decision.Reason)
}

func TestDeviceTrust_EnrollNewDevice(t *testing.T) {
	repo := new(MockDeviceRepository)
	repo.On("GetByUserAndFingerprint", uint(1), testFingerprint).Return(nil, apperrors.ErrNotFound)
	repo.On("Create", mock.MatchedBy(func(d *entity.SavedDevice) bool {
		return d.UserID == 1 &&
			d.DeviceFingerprint == testFingerprint &&
			d.IPAddress == "192.168.1.10" &&
			d.TrustExpiresAt.After(time.Now().Add(89*24*time.Hour))
	})).Return(nil)
	svc := newTestDeviceTrust(t, repo)

	err := svc.EnrollOrRefresh(1, testFingerprint, "192.168.1.10", "Chrome on Linux")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestDeviceTrust_RefreshClearsRevocation(t *testing.T) {
	repo := new(MockDeviceRepository)
	device := trustedDevice(1, "192.168.1.10")
	device.Revoke(time.Now().Add(-time.Hour))
	repo.On("GetByUserAndFingerprint", uint(1), testFingerprint).Return(device, nil)
	repo.On("Update", mock.MatchedBy(func(d *entity.SavedDevice) bool {
		// Пройденный OTP восстанавливает доверие, включая ранее отозванные записи
		return d.RevokedAt == nil && d.IPAddress == "10.1.2.3"
	})).Return(nil)
	svc := newTestDeviceTrust(t, repo)

	err := svc.EnrollOrRefresh(1, testFingerprint, "10.1.2.3", "")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestDeviceTrust_EnrollEmptyFingerprint(t *testing.T) {
	svc := newTestDeviceTrust(t, new(MockDeviceRepository))
	err := svc.EnrollOrRefresh(1, "", "10.1.2.3", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestDeviceTrust_RevokeForeignDevice(t *testing.T) {
	repo := new(MockDeviceRepository)
	device := trustedDevice(2, "192.168.1.10") // принадлежит другой учетной записи
	repo.On("GetByID", uint(7)).Return(device, nil)
	svc := newTestDeviceTrust(t, repo)

	err := svc.RevokeDevice(1, 7)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	repo.AssertNotCalled(t, "Revoke")
}

func TestDeviceTrust_RevokeOwnDevice(t *testing.T) {
	repo := new(MockDeviceRepository)
	device := trustedDevice(1, "192.168.1.10")
	repo.On("GetByID", uint(7)).Return(device, nil)
	repo.On("Revoke", uint(7), mock.AnythingOfType("time.Time")).Return(nil)
	svc := newTestDeviceTrust(t, repo)

	require.NoError(t, svc.RevokeDevice(1, 7))
	repo.AssertExpectations(t)
}

func TestDeviceTrust_Stats(t *testing.T) {
	now := time.Now()
	revoked := now.Add(-time.Hour)
	devices := []entity.SavedDevice{
		{ID: 1, TrustExpiresAt: now.Add(24 * time.Hour)},
		{ID: 2, TrustExpiresAt: now.Add(24 * time.Hour)},
		{ID: 3, TrustExpiresAt: now.Add(-24 * time.Hour)},
		{ID: 4, TrustExpiresAt: now.Add(24 * time.Hour), RevokedAt: &revoked},
	}
	repo := new(MockDeviceRepository)
	repo.On("ListByUser", uint(1)).Return(devices, nil)
	svc := newTestDeviceTrust(t, repo)

	stats, err := svc.Stats(1)
	require.NoError(t, err)
	assert.Equal(t, &DeviceStats{Total: 4, Trusted: 2, Expired: 1, Revoked: 1}, stats)
}

func TestDeviceTrust_ListDevices(t *testing.T) {
	now := time.Now()
	devices := []entity.SavedDevice{
		{ID: 1, DeviceName: "Chrome", IPAddress: "10.0.0.1", TrustExpiresAt: now.Add(time.Hour)},
		{ID: 2, DeviceName: "Firefox", IPAddress: "10.0.0.2", TrustExpiresAt: now.Add(-time.Hour)},
	}
	repo := new(MockDeviceRepository)
	repo.On("ListByUser", uint(1)).Return(devices, nil)
	svc := newTestDeviceTrust(t, repo)

	views, err := svc.ListDevices(1)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].Trusted)
	assert.False(t, views[1].Trusted)
}

func TestDeviceTrust_CleanupExpired(t *testing.T) {
	repo := new(MockDeviceRepository)
	repo.On("RevokeExpired", mock.AnythingOfType("time.Time")).Return(int64(3), nil)
	svc := newTestDeviceTrust(t, repo)

	n, err := svc.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDeviceTrust_CleanupError(t *testing.T) {
	repo := new(MockDeviceRepository)
	repo.On("RevokeExpired", mock.AnythingOfType("time.Time")).Return(int64(0), errors.New("db down"))
	svc := newTestDeviceTrust(t, repo)

	_, err := svc.CleanupExpired()
	assert.Error(t, err)
}

func TestSameSubnet(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		bits int
		want bool
	}{
		{"same /24", "192.168.1.10", "192.168.1.200", 24, true},
		{"different /24", "192.168.1.10", "192.168.2.10", 24, false},
		{"identical", "10.0.0.1", "10.0.0.1", 24, true},
		{"wider prefix", "192.168.1.10", "192.168.2.10", 16, true},
		{"same /64 v6", "2001:db8:1:2::10", "2001:db8:1:2::ff", 24, true},
		{"different /64 v6", "2001:db8:1:2::10", "2001:db8:1:3::10", 24, false},
		{"mixed families", "192.168.1.10", "2001:db8::1", 24, false},
		{"unparseable", "not-an-ip", "192.168.1.10", 24, false},
		{"both empty", "", "", 24, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sameSubnet(tt.a, tt.b, tt.bits))
		})
	}
}
