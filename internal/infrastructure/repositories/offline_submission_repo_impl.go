package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"pospay.backend/internal/domain/entities"
	domainerrors "pospay.backend/internal/domain/errors"
	domainRepos "pospay.backend/internal/domain/repositories"
	"pospay.backend/internal/infrastructure/models"
)

const pgUniqueViolation = "23505"

// OfflineSubmissionRepositoryImpl implements OfflineSubmissionRepository
type OfflineSubmissionRepositoryImpl struct {
	db *gorm.DB
}

func NewOfflineSubmissionRepository(db *gorm.DB) *OfflineSubmissionRepositoryImpl {
	return &OfflineSubmissionRepositoryImpl{db: db}
}

func (r *OfflineSubmissionRepositoryImpl) Reserve(ctx context.Context, s *entities.OfflineSubmission) error {
	m := &models.OfflineSubmission{
		ID:          s.ID,
		MerchantID:  s.MerchantID,
		JobID:       s.JobID,
		RequestID:   s.RequestID,
		PayerUserID: s.PayerUserID,
		AmountMinor: s.Amount.MinorUnits(),
		Currency:    string(s.Currency),
		Status:      string(s.Status),
		PaidAt:      s.PaidAt.UTC(),
		CreatedAt:   s.CreatedAt.UTC(),
	}
	if err := GetDB(ctx, r.db).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return domainRepos.ErrDuplicateSubmission
		}
		return err
	}
	return nil
}

func (r *OfflineSubmissionRepositoryImpl) GetByJob(ctx context.Context, merchantID, jobID uuid.UUID) (*entities.OfflineSubmission, error) {
	var m models.OfflineSubmission
	if err := GetDB(ctx, r.db).
		Where("merchant_id = ? AND job_id = ?", merchantID, jobID).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.OfflineSubmission{
		ID:          m.ID,
		MerchantID:  m.MerchantID,
		JobID:       m.JobID,
		RequestID:   m.RequestID,
		PayerUserID: m.PayerUserID,
		Amount:      entities.Amount(m.AmountMinor),
		Currency:    entities.Currency(m.Currency),
		Status:      entities.PaymentRequestStatus(m.Status),
		PaidAt:      m.PaidAt,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// isUniqueViolation recognizes postgres (pgx) and sqlite constraint errors.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
