package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/support-portal-api/internal/domain/entity"
	"github.com/yourusername/support-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/support-portal-api/internal/pkg/errors"
)

// OtpRepo реализует repository.OtpRepository
type OtpRepo struct {
	db *gorm.DB
}

// NewOtpRepo создает новый репозиторий одноразовых кодов
func NewOtpRepo(db *gorm.DB) *OtpRepo {
	return &OtpRepo{db: db}
}

func (r *OtpRepo) Create(rec *entity.OtpRecord) error {
	return r.db.Create(rec).Error
}

// GetLiveByEmail возвращает действующий (не использованный и не истекший) код для email
func (r *OtpRepo) GetLiveByEmail(email string) (*entity.OtpRecord, error) {
	var rec entity.OtpRecord
	err := r.db.
		Where("email = ? AND used_at IS NULL AND expires_at > ?", email, time.Now()).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get live otp record: %w", err)
	}
	return &rec, nil
}

// DeleteByEmail удаляет все записи для email (инвариант единственного живого кода)
func (r *OtpRepo) DeleteByEmail(email string) (int64, error) {
	result := r.db.Where("email = ?", email).Delete(&entity.OtpRecord{})
	return result.RowsAffected, result.Error
}

func (r *OtpRepo) DeleteByID(id uint) error {
	return r.db.Delete(&entity.OtpRecord{}, id).Error
}

// VerifyAndConsume выполняет проверку кода атомарно: запись блокируется
// SELECT ... FOR UPDATE на все время транзакции, поэтому параллельные попытки
// для одного email сериализуются и успех возможен ровно один раз.
// Любая неожиданная ошибка откатывает транзакцию целиком — счетчик
// попыток остается нетронутым.
func (r *OtpRepo) VerifyAndConsume(email, ip string, maxAttempts int, match func(codeHash string) bool) (*repository.OtpVerifyResult, error) {
	result := &repository.OtpVerifyResult{}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var rec entity.OtpRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("email = ? AND used_at IS NULL AND expires_at > ?", email, time.Now()).
			Order("created_at DESC").
			First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Outcome = repository.OtpVerifyNoLiveRecord
				return nil
			}
			return fmt.Errorf("failed to lock otp record: %w", err)
		}

		if rec.Attempts >= maxAttempts {
			result.Outcome = repository.OtpVerifyAttemptsExhausted
			result.AttemptsLeft = 0
			return nil
		}

		if !match(rec.CodeHash) {
			if err := tx.Model(&entity.OtpRecord{}).
				Where("id = ?", rec.ID).
				UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
				return fmt.Errorf("failed to increment attempts: %w", err)
			}
			result.Outcome = repository.OtpVerifyMismatch
			result.AttemptsLeft = maxAttempts - (rec.Attempts + 1)
			if result.AttemptsLeft < 0 {
				result.AttemptsLeft = 0
			}
			return nil
		}

		now := time.Now()
		if err := tx.Model(&entity.OtpRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"used_at": now,
				"used_ip": ip,
			}).Error; err != nil {
			return fmt.Errorf("failed to consume otp record: %w", err)
		}
		result.Outcome = repository.OtpVerifySuccess
		result.UsedRecordID = rec.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUsedByEmail закрывает все еще живые записи для email без проверки кода
func (r *OtpRepo) MarkUsedByEmail(email, ip string) error {
	now := time.Now()
	return r.db.Model(&entity.OtpRecord{}).
		Where("email = ? AND used_at IS NULL", email).
		Updates(map[string]interface{}{
			"used_at": now,
			"used_ip": ip,
		}).Error
}
