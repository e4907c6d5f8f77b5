package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	"github.com/yourusername/support-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// MaxOTPAttempts is the fixed attempt budget per code. It is a constant, not
// configuration: every path that touches the budget must agree on one value.
const MaxOTPAttempts = 3

// otpCodeDigits is the length of the numeric code.
const otpCodeDigits = 8

// OtpStatus describes the live code for an email, if any.
type OtpStatus struct {
	Valid        bool       `json:"valid"`
	MaskedEmail  string     `json:"masked_email,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	AttemptsUsed int        `json:"attempts_used"`
	AttemptsLeft int        `json:"attempts_left"`
	MaxAttempts  int        `json:"max_attempts"`
	ResendCount  int        `json:"resend_count"`
}

// OtpService issues, verifies and retires one-time passcodes. An email has at
// most one live code at any time: issuing deletes everything that came before.
type OtpService struct {
	otpRepo      repository.OtpRepository
	emailService EmailService
	cache        repository.CacheRepository
	otpTTL       time.Duration
	suppression  time.Duration
	secret       string
}

func NewOtpService(
	otpRepo repository.OtpRepository,
	emailService EmailService,
	cache repository.CacheRepository,
	otpTTL time.Duration,
	suppression time.Duration,
	secret string,
) (*OtpService, error) {
	if otpRepo == nil {
		return nil, fmt.Errorf("otp repository is required")
	}
	if emailService == nil {
		return nil, fmt.Errorf("email service is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache repository is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("otp hmac secret is required")
	}
	if otpTTL <= 0 {
		otpTTL = 5 * time.Minute
	}
	if suppression <= 0 {
		suppression = 30 * time.Second
	}

	return &OtpService{
		otpRepo:      otpRepo,
		emailService: emailService,
		cache:        cache,
		otpTTL:       otpTTL,
		suppression:  suppression,
		secret:       secret,
	}, nil
}

// Issue mints a new code for the email, deleting every prior record first,
// and hands it to the email collaborator. No record survives a failed
// delivery. isResend carries the resend counter across the replacement.
func (s *OtpService) Issue(ctx context.Context, email string, isResend bool) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: empty email", apperrors.ErrValidation)
	}

	// Окно подавления захватывается атомарно (SetNX): повторенный запрос в
	// течение 30 секунд не приводит ко второму письму.
	suppressKey := otpSuppressKey(email)
	claimed, err := s.cache.SetNX(suppressKey, 1, s.suppression)
	if err != nil {
		return fmt.Errorf("failed to claim resend suppression window: %w", err)
	}
	if !claimed {
		remaining, _ := s.cache.TimeRemaining(suppressKey)
		log.Printf("[OtpService] Issue suppressed for email=%s remaining=%s", maskEmail(email), remaining)
		return fmt.Errorf("%w: please wait %d seconds before requesting a new code",
			ErrOtpResendSuppressed, int(remaining.Seconds())+1)
	}

	resendCount := 0
	if isResend {
		if prior, err := s.otpRepo.GetLiveByEmail(email); err == nil {
			resendCount = prior.ResendCount + 1
		} else {
			resendCount = 1
		}
	}

	// Инвариант единственного живого кода: все предыдущие записи удаляются
	// до вставки новой.
	deleted, err := s.otpRepo.DeleteByEmail(email)
	if err != nil {
		// Без живого кода окно подавления бессмысленно: держать его —
		// значит блокировать повторный запрос после сбоя базы.
		s.releaseSuppression(suppressKey, email)
		return fmt.Errorf("failed to delete prior otp records: %w", err)
	}
	if deleted > 0 {
		log.Printf("[OtpService] Deleted %d prior otp records for email=%s", deleted, maskEmail(email))
	}

	code, err := generateOtpCode()
	if err != nil {
		s.releaseSuppression(suppressKey, email)
		return fmt.Errorf("failed to generate otp code: %w", err)
	}

	now := time.Now()
	record := &entity.OtpRecord{
		Email:       email,
		CodeHash:    s.hashCode(code),
		ExpiresAt:   now.Add(s.otpTTL),
		Attempts:    0,
		ResendCount: resendCount,
		CreatedAt:   now,
	}
	if err := s.otpRepo.Create(record); err != nil {
		s.releaseSuppression(suppressKey, email)
		return fmt.Errorf("failed to create otp record: %w", err)
	}

	idempotencyKey := fmt.Sprintf("otp:%s:%d", sha256Hex(email), record.ID)
	if err := s.emailService.SendOtpCode(ctx, email, code, idempotencyKey); err != nil {
		// Запись не должна существовать без состоявшейся доставки.
		if delErr := s.otpRepo.DeleteByID(record.ID); delErr != nil {
			log.Printf("[OtpService] Failed to roll back otp record id=%d: %v", record.ID, delErr)
		}
		s.releaseSuppression(suppressKey, email)
		log.Printf("[OtpService] Delivery failed for email=%s: %v", maskEmail(email), err)
		return fmt.Errorf("%w: %v", ErrOtpDeliveryFailed, err)
	}

	log.Printf("[OtpService] Issued otp for email=%s record_id=%d resend_count=%d expires_at=%s",
		maskEmail(email), record.ID, resendCount, record.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (s *OtpService) releaseSuppression(suppressKey, email string) {
	if err := s.cache.Delete(suppressKey); err != nil {
		log.Printf("[OtpService] Failed to release suppression window for email=%s: %v", maskEmail(email), err)
	}
}

// Verify runs the submitted code through the atomic check-and-consume
// transaction. On nil error the code matched and the record is consumed.
// On ErrOtpMismatch the returned attemptsLeft is meaningful.
func (s *OtpService) Verify(email, code, ip string) (attemptsLeft int, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return 0, fmt.Errorf("%w: email and code are required", apperrors.ErrValidation)
	}

	expected := s.hashCode(code)
	match := func(storedHash string) bool {
		return subtle.ConstantTimeCompare([]byte(expected), []byte(storedHash)) == 1
	}

	result, err := s.otpRepo.VerifyAndConsume(email, ip, MaxOTPAttempts, match)
	if err != nil {
		return 0, fmt.Errorf("otp verification transaction failed: %w", err)
	}

	switch result.Outcome {
	case repository.OtpVerifySuccess:
		log.Printf("[OtpService] Verified otp for email=%s ip=%s record_id=%d",
			maskEmail(email), ip, result.UsedRecordID)
		return 0, nil
	case repository.OtpVerifyMismatch:
		log.Printf("[OtpService] Otp mismatch for email=%s ip=%s attempts_left=%d",
			maskEmail(email), ip, result.AttemptsLeft)
		if result.AttemptsLeft <= 0 {
			return 0, ErrOtpAttemptsExhausted
		}
		return result.AttemptsLeft, ErrOtpMismatch
	case repository.OtpVerifyAttemptsExhausted:
		log.Printf("[OtpService] Otp attempts exhausted for email=%s ip=%s", maskEmail(email), ip)
		return 0, ErrOtpAttemptsExhausted
	default:
		log.Printf("[OtpService] No live otp for email=%s ip=%s", maskEmail(email), ip)
		return 0, ErrOtpExpired
	}
}

// Status reports the live code for the email, or Valid=false when none.
func (s *OtpService) Status(email string) (*OtpStatus, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	status := &OtpStatus{
		MaskedEmail: maskEmail(email),
		MaxAttempts: MaxOTPAttempts,
	}

	rec, err := s.otpRepo.GetLiveByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return status, nil
		}
		return nil, err
	}

	status.Valid = true
	exp := rec.ExpiresAt
	status.ExpiresAt = &exp
	status.AttemptsUsed = rec.Attempts
	status.AttemptsLeft = MaxOTPAttempts - rec.Attempts
	if status.AttemptsLeft < 0 {
		status.AttemptsLeft = 0
	}
	status.ResendCount = rec.ResendCount
	return status, nil
}

// MarkUsed closes any still-live code for the email. Called by the password
// finalizer so a consumed reset can never be replayed with the same code.
func (s *OtpService) MarkUsed(email, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.otpRepo.MarkUsedByEmail(email, ip)
}

func otpSuppressKey(email string) string {
	return "otp:suppress:" + sha256Hex(email)
}

func generateOtpCode() (string, error) {
	max := big.NewInt(100000000) // 10^8
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpCodeDigits, n.Int64()), nil
}

func (s *OtpService) hashCode(code string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// maskEmail hides most of the local part: "john.doe@x.com" -> "j******e@x.com".
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + domain
}
