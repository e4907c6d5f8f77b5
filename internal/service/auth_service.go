package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	"github.com/yourusername/support-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
	"github.com/yourusername/support-portal-api/pkg/auth"
)

// LoginResult is the outcome of a login attempt. When RequiresOtp is set, a
// code has been sent to the account email and no session was created yet.
type LoginResult struct {
	RequiresOtp bool         `json:"requires_otp"`
	TrustReason string       `json:"trust_reason,omitempty"`
	AccessToken string       `json:"access_token,omitempty"`
	ExpiresIn   int          `json:"expires_in,omitempty"`
	User        *entity.User `json:"user,omitempty"`
}

// AuthService handles login. The primary credential check always runs first;
// device trust only ever decides whether the OTP challenge may be skipped.
type AuthService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	deviceTrust *DeviceTrustService
	otpService  *OtpService
	rateLimiter *RateLimitPolicy
	jwtService  *auth.JWTService
}

func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	deviceTrust *DeviceTrustService,
	otpService *OtpService,
	rateLimiter *RateLimitPolicy,
	jwtService *auth.JWTService,
) (*AuthService, error) {
	if userRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if sessionRepo == nil {
		return nil, fmt.Errorf("session repository is required")
	}
	if deviceTrust == nil {
		return nil, fmt.Errorf("device trust service is required")
	}
	if otpService == nil {
		return nil, fmt.Errorf("otp service is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limit policy is required")
	}
	if jwtService == nil {
		return nil, fmt.Errorf("jwt service is required")
	}
	return &AuthService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		deviceTrust: deviceTrust,
		otpService:  otpService,
		rateLimiter: rateLimiter,
		jwtService:  jwtService,
	}, nil
}

// Login verifies the primary credential, then consults device trust. A
// trusted device gets a session immediately; anything else triggers the OTP
// challenge to the account email.
func (s *AuthService) Login(ctx context.Context, email, password, fingerprint, ip, userAgent string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Printf("[AuthService] Login for unknown email=%q ip=%s", email, ip)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.CheckPassword(password) {
		log.Printf("[AuthService] Wrong password for account id=%d ip=%s", user.ID, ip)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, ErrAccountBlocked
	}

	decision, err := s.deviceTrust.Evaluate(user.ID, fingerprint, ip)
	if err != nil {
		return nil, fmt.Errorf("device trust evaluation failed: %w", err)
	}
	if decision.Trusted {
		return s.establishSession(user, fingerprint, ip, userAgent)
	}

	log.Printf("[AuthService] Untrusted device for account id=%d reason=%q ip=%s",
		user.ID, decision.Reason, ip)
	if err := s.otpService.Issue(ctx, user.Email, false); err != nil {
		if errors.Is(err, ErrOtpResendSuppressed) {
			// Живой код уже отправлен недавно — пусть пользователь введет его.
			return &LoginResult{RequiresOtp: true, TrustReason: decision.Reason}, nil
		}
		return nil, err
	}
	return &LoginResult{RequiresOtp: true, TrustReason: decision.Reason}, nil
}

// VerifyLoginOtp consumes the challenge code, enrolls the device as trusted
// and establishes a session.
func (s *AuthService) VerifyLoginOtp(ctx context.Context, email, code, fingerprint, ip, userAgent, deviceName string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	// Окно по IP тратится до поиска аккаунта: иначе запросы с несуществующими
	// email вообще не попадали бы под лимит.
	if err := s.rateLimiter.AllowVerifyIP(ip); err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrOtpExpired
		}
		return nil, err
	}

	if err := s.rateLimiter.AllowVerifyUser(user.ID); err != nil {
		return nil, err
	}

	if _, err := s.otpService.Verify(user.Email, code, ip); err != nil {
		return nil, err
	}

	if fingerprint != "" {
		if err := s.deviceTrust.EnrollOrRefresh(user.ID, fingerprint, ip, deviceName); err != nil {
			log.Printf("[AuthService] Failed to enroll device for account id=%d: %v", user.ID, err)
		}
	}
	return s.establishSession(user, fingerprint, ip, userAgent)
}

func (s *AuthService) establishSession(user *entity.User, fingerprint, ip, userAgent string) (*LoginResult, error) {
	expiry := s.jwtService.AccessTokenExpiry()
	tokenHash := sha256Hex(uuid.NewString())

	session := entity.NewUserSession(user.ID, tokenHash, fingerprint, ip, userAgent, time.Now().Add(expiry))
	sessionID, err := s.sessionRepo.Create(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	accessToken, err := s.jwtService.GenerateToken(user.ID, sessionID, user.Email)
	if err != nil {
		return nil, err
	}

	log.Printf("[AuthService] Session id=%d established for account id=%d ip=%s", sessionID, user.ID, ip)
	return &LoginResult{
		AccessToken: accessToken,
		ExpiresIn:   int(expiry.Seconds()),
		User:        user,
	}, nil
}

// GetSession returns the session record for middleware validity checks.
func (s *AuthService) GetSession(sessionID uint) (*entity.UserSession, error) {
	return s.sessionRepo.GetByID(sessionID)
}

// CleanupSessions removes expired and revoked session rows.
func (s *AuthService) CleanupSessions() (int64, error) {
	return s.sessionRepo.CleanupExpired()
}
