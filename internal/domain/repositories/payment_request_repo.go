package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"pospay.backend/internal/domain/entities"
)

// ErrStaleTransition is returned by CompareAndSetStatus when the row was no longer
// pending at the expected version. The caller reloads to learn who won.
var ErrStaleTransition = errors.New("stale payment request transition")

// PaymentRequestRepository interface
type PaymentRequestRepository interface {
	Create(ctx context.Context, request *entities.PaymentRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentRequest, error)
	GetByMerchantID(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]*entities.PaymentRequest, int, error)
	// CompareAndSetStatus is the single mutation path for a request's status. It
	// applies the transition atomically or returns ErrStaleTransition.
	CompareAndSetStatus(ctx context.Context, t entities.StatusTransition) (*entities.PaymentRequest, error)
	GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]*entities.PaymentRequest, error)
}
