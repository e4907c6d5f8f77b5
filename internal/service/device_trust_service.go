package service

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	"github.com/yourusername/support-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// Trust decision reasons surfaced to callers and logs.
const (
	TrustReasonNewDevice    = "new device"
	TrustReasonTrustExpired = "trust expired"
	TrustReasonIPChanged    = "ip changed"
)

// TrustDecision is the outcome of evaluating a device at login. It only ever
// decides whether the OTP challenge may be skipped; the primary credential
// check is not its business.
type TrustDecision struct {
	Trusted    bool   `json:"trusted"`
	Reason     string `json:"reason,omitempty"`
	RequireOtp bool   `json:"require_otp"`
}

// DeviceView is a device record with its current trust status resolved.
type DeviceView struct {
	ID             uint       `json:"id"`
	DeviceName     string     `json:"device_name,omitempty"`
	IPAddress      string     `json:"ip_address"`
	LastUsedAt     time.Time  `json:"last_used_at"`
	TrustExpiresAt time.Time  `json:"trust_expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	Trusted        bool       `json:"trusted"`
}

// DeviceStats summarizes an account's devices.
type DeviceStats struct {
	Total   int `json:"total"`
	Trusted int `json:"trusted"`
	Expired int `json:"expired"`
	Revoked int `json:"revoked"`
}

// DeviceTrustService maintains per-account device trust records and decides
// whether a returning device may skip the OTP challenge.
type DeviceTrustService struct {
	deviceRepo  repository.DeviceRepository
	trustWindow time.Duration
	subnetBits  int
}

func NewDeviceTrustService(deviceRepo repository.DeviceRepository, trustWindow time.Duration, subnetBits int) (*DeviceTrustService, error) {
	if deviceRepo == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if trustWindow <= 0 {
		trustWindow = 90 * 24 * time.Hour
	}
	if subnetBits <= 0 || subnetBits > 32 {
		subnetBits = 24
	}
	return &DeviceTrustService{
		deviceRepo:  deviceRepo,
		trustWindow: trustWindow,
		subnetBits:  subnetBits,
	}, nil
}

// Evaluate decides whether the (account, fingerprint) pair is trusted from
// the given IP. A trusted outcome refreshes the sliding window as a side
// effect. A changed subnet forces re-challenge even for a valid record.
func (s *DeviceTrustService) Evaluate(userID uint, fingerprint, ip string) (*TrustDecision, error) {
	if fingerprint == "" {
		return &TrustDecision{Trusted: false, Reason: TrustReasonNewDevice, RequireOtp: true}, nil
	}

	device, err := s.deviceRepo.GetByUserAndFingerprint(userID, fingerprint)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return &TrustDecision{Trusted: false, Reason: TrustReasonNewDevice, RequireOtp: true}, nil
		}
		return nil, err
	}

	now := time.Now()
	if !device.IsTrusted(now) {
		log.Printf("[DeviceTrust] Trust invalid for user=%d device=%d (revoked=%t expired=%t)",
			userID, device.ID, device.RevokedAt != nil, !device.TrustExpiresAt.After(now))
		return &TrustDecision{Trusted: false, Reason: TrustReasonTrustExpired, RequireOtp: true}, nil
	}

	if !sameSubnet(device.IPAddress, ip, s.subnetBits) {
		log.Printf("[DeviceTrust] Subnet change for user=%d device=%d last_ip=%s ip=%s",
			userID, device.ID, device.IPAddress, ip)
		return &TrustDecision{Trusted: false, Reason: TrustReasonIPChanged, RequireOtp: true}, nil
	}

	// Доверенное использование продлевает скользящее окно.
	if err := s.deviceRepo.RefreshTrust(device.ID, now, now.Add(s.trustWindow), ip); err != nil {
		log.Printf("[DeviceTrust] Failed to refresh trust for device=%d: %v", device.ID, err)
	}
	return &TrustDecision{Trusted: true}, nil
}

// EnrollOrRefresh records the device as trusted after a successful OTP
// challenge: a new record for a first-seen device, a refreshed window
// otherwise (including previously revoked records — the OTP was just passed).
func (s *DeviceTrustService) EnrollOrRefresh(userID uint, fingerprint, ip, deviceName string) error {
	if fingerprint == "" {
		return fmt.Errorf("%w: empty device fingerprint", apperrors.ErrValidation)
	}

	now := time.Now()
	device, err := s.deviceRepo.GetByUserAndFingerprint(userID, fingerprint)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		device = &entity.SavedDevice{
			UserID:            userID,
			DeviceFingerprint: fingerprint,
			IPAddress:         ip,
			DeviceName:        deviceName,
			LastUsedAt:        now,
			TrustExpiresAt:    now.Add(s.trustWindow),
		}
		if err := s.deviceRepo.Create(device); err != nil {
			return fmt.Errorf("failed to save device: %w", err)
		}
		log.Printf("[DeviceTrust] Enrolled device for user=%d fingerprint=%s...", userID, shortFingerprint(fingerprint))
		return nil
	}

	device.IPAddress = ip
	device.LastUsedAt = now
	device.TrustExpiresAt = now.Add(s.trustWindow)
	device.RevokedAt = nil
	if deviceName != "" {
		device.DeviceName = deviceName
	}
	if err := s.deviceRepo.Update(device); err != nil {
		return fmt.Errorf("failed to refresh device: %w", err)
	}
	log.Printf("[DeviceTrust] Refreshed device=%d for user=%d", device.ID, userID)
	return nil
}

// ListDevices returns the account's devices with trust status resolved.
func (s *DeviceTrustService) ListDevices(userID uint) ([]DeviceView, error) {
	devices, err := s.deviceRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]DeviceView, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		views = append(views, DeviceView{
			ID:             d.ID,
			DeviceName:     d.DeviceName,
			IPAddress:      d.IPAddress,
			LastUsedAt:     d.LastUsedAt,
			TrustExpiresAt: d.TrustExpiresAt,
			RevokedAt:      d.RevokedAt,
			Trusted:        d.IsTrusted(now),
		})
	}
	return views, nil
}

// RevokeDevice revokes one of the account's own devices.
func (s *DeviceTrustService) RevokeDevice(userID, deviceID uint) error {
	device, err := s.deviceRepo.GetByID(deviceID)
	if err != nil {
		return err
	}
	if device.UserID != userID {
		return apperrors.ErrForbidden
	}
	if err := s.deviceRepo.Revoke(deviceID, time.Now()); err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}
	log.Printf("[DeviceTrust] Revoked device=%d for user=%d", deviceID, userID)
	return nil
}

// Stats summarizes the account's devices.
func (s *DeviceTrustService) Stats(userID uint) (*DeviceStats, error) {
	devices, err := s.deviceRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stats := &DeviceStats{Total: len(devices)}
	for i := range devices {
		d := &devices[i]
		switch {
		case d.RevokedAt != nil:
			stats.Revoked++
		case !d.TrustExpiresAt.After(now):
			stats.Expired++
		default:
			stats.Trusted++
		}
	}
	return stats, nil
}

// CleanupExpired revokes records whose trust window has closed. Safe to run
// concurrently with itself or to skip: Evaluate treats expired trust as
// untrusted on read regardless.
func (s *DeviceTrustService) CleanupExpired() (int64, error) {
	n, err := s.deviceRepo.RevokeExpired(time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[DeviceTrust] Cleanup revoked %d expired device records", n)
	}
	return n, nil
}

// sameSubnet compares the network portion of two addresses: v4bits for IPv4
// (default /24), /64 for IPv6. Unparseable or mixed-family pairs never match.
func sameSubnet(a, b string, v4bits int) bool {
	ipA := net.ParseIP(a)
	ipB := net.ParseIP(b)
	if ipA == nil || ipB == nil {
		return false
	}

	a4, b4 := ipA.To4(), ipB.To4()
	if (a4 == nil) != (b4 == nil) {
		return false
	}

	if a4 != nil {
		mask := net.CIDRMask(v4bits, 32)
		return a4.Mask(mask).Equal(b4.Mask(mask))
	}

	mask := net.CIDRMask(64, 128)
	return ipA.Mask(mask).Equal(ipB.Mask(mask))
}

func shortFingerprint(fp string) string {
	if len(fp) <= 8 {
		return fp
	}
	return fp[:8]
}
