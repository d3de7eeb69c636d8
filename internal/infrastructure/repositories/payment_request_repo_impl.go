package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"pospay.backend/internal/domain/entities"
	domainerrors "pospay.backend/internal/domain/errors"
	domainRepos "pospay.backend/internal/domain/repositories"
	"pospay.backend/internal/infrastructure/models"
)

// PaymentRequestRepositoryImpl implements PaymentRequestRepository
type PaymentRequestRepositoryImpl struct {
	db *gorm.DB
}

func NewPaymentRequestRepository(db *gorm.DB) *PaymentRequestRepositoryImpl {
	return &PaymentRequestRepositoryImpl{db: db}
}

func (r *PaymentRequestRepositoryImpl) Create(ctx context.Context, req *entities.PaymentRequest) error {
	m := &models.PaymentRequest{
		ID:           req.ID,
		MerchantID:   req.MerchantID,
		MerchantName: req.MerchantName,
		AmountMinor:  req.Amount.MinorUnits(),
		Currency:     string(req.Currency),
		Note:         req.Note.Ptr(),
		Status:       string(req.Status),
		Version:      req.Version,
		ExpiresAt:    req.ExpiresAt.UTC(),
		CreatedAt:    req.CreatedAt.UTC(),
		UpdatedAt:    req.UpdatedAt.UTC(),
	}
	return GetDB(ctx, r.db).Create(m).Error
}

func (r *PaymentRequestRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentRequest, error) {
	var m models.PaymentRequest
	if err := GetDB(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

func (r *PaymentRequestRepositoryImpl) GetByMerchantID(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]*entities.PaymentRequest, int, error) {
	var total int64
	if err := GetDB(ctx, r.db).Model(&models.PaymentRequest{}).
		Where("merchant_id = ?", merchantID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.PaymentRequest
	if err := GetDB(ctx, r.db).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	requests := make([]*entities.PaymentRequest, 0, len(ms))
	for i := range ms {
		requests = append(requests, r.toEntity(&ms[i]))
	}
	return requests, int(total), nil
}

// CompareAndSetStatus issues one conditional UPDATE. Zero affected rows means the
// row left pending or moved to another version first.
func (r *PaymentRequestRepositoryImpl) CompareAndSetStatus(ctx context.Context, t entities.StatusTransition) (*entities.PaymentRequest, error) {
	if !entities.PaymentRequestStatusPending.CanTransitionTo(t.To) {
		return nil, fmt.Errorf("invalid transition to %q", t.To)
	}

	at := t.At.UTC()
	updates := map[string]interface{}{
		"status":     string(t.To),
		"version":    gorm.Expr("version + 1"),
		"updated_at": at,
	}
	switch t.To {
	case entities.PaymentRequestStatusPaid:
		if t.PaidBy == nil || *t.PaidBy == uuid.Nil {
			return nil, errors.New("paid transition requires a payer")
		}
		updates["paid_by_user_id"] = *t.PaidBy
		updates["paid_at"] = at
	case entities.PaymentRequestStatusCanceled:
		updates["canceled_at"] = at
	}

	q := GetDB(ctx, r.db).Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ? AND version = ?", t.RequestID, string(entities.PaymentRequestStatusPending), t.FromVersion)
	if t.RequireUnexpired {
		q = q.Where("expires_at > ?", at)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domainRepos.ErrStaleTransition
	}
	return r.GetByID(ctx, t.RequestID)
}

func (r *PaymentRequestRepositoryImpl) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]*entities.PaymentRequest, error) {
	var ms []models.PaymentRequest
	if err := GetDB(ctx, r.db).
		Where("status = ? AND expires_at < ?", string(entities.PaymentRequestStatusPending), now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}

	requests := make([]*entities.PaymentRequest, 0, len(ms))
	for i := range ms {
		requests = append(requests, r.toEntity(&ms[i]))
	}
	return requests, nil
}

func (r *PaymentRequestRepositoryImpl) toEntity(m *models.PaymentRequest) *entities.PaymentRequest {
	return &entities.PaymentRequest{
		ID:           m.ID,
		MerchantID:   m.MerchantID,
		MerchantName: m.MerchantName,
		Amount:       entities.Amount(m.AmountMinor),
		Currency:     entities.Currency(m.Currency),
		Note:         null.StringFromPtr(m.Note),
		Status:       entities.PaymentRequestStatus(m.Status),
		Version:      m.Version,
		PaidByUserID: m.PaidByUserID,
		PaidAt:       null.TimeFromPtr(m.PaidAt),
		CanceledAt:   null.TimeFromPtr(m.CanceledAt),
		ExpiresAt:    m.ExpiresAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
