package repository

import (
	"github.com/yourusername/support-portal-api/internal/domain/entity"
)

// OtpVerifyOutcome is the terminal state of one verification attempt.
type OtpVerifyOutcome int

const (
	// OtpVerifySuccess — the code matched and the record was consumed.
	OtpVerifySuccess OtpVerifyOutcome = iota
	// OtpVerifyMismatch — the code did not match; the attempt was counted.
	OtpVerifyMismatch
	// OtpVerifyNoLiveRecord — no unconsumed, unexpired record exists for the email.
	OtpVerifyNoLiveRecord
	// OtpVerifyAttemptsExhausted — the record has no attempts left.
	OtpVerifyAttemptsExhausted
)

// OtpVerifyResult carries the outcome and the remaining attempt budget.
type OtpVerifyResult struct {
	Outcome      OtpVerifyOutcome
	AttemptsLeft int
	UsedRecordID uint
}

// OtpRepository persists one-time passcode records. VerifyAndConsume is the
// only method allowed to mutate attempts or mark a record used; it must run
// the whole check inside one transaction with a row lock held on the record,
// so concurrent submissions for the same email serialize and at most one
// observes success.
type OtpRepository interface {
	Create(rec *entity.OtpRecord) error
	GetLiveByEmail(email string) (*entity.OtpRecord, error)
	// DeleteByEmail removes every record for the email, live or historical,
	// and returns how many rows were removed.
	DeleteByEmail(email string) (int64, error)
	DeleteByID(id uint) error
	// VerifyAndConsume re-fetches the live record under a pessimistic lock and
	// applies the submitted code through match (a constant-time comparison
	// against the stored hash, supplied by the caller).
	VerifyAndConsume(email, ip string, maxAttempts int, match func(codeHash string) bool) (*OtpVerifyResult, error)
	// MarkUsedByEmail closes any still-live record for the email without a
	// code check. Used by the password finalizer after a verified reset.
	MarkUsedByEmail(email, ip string) error
}
