package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"pospay.backend/internal/domain/entities"
)

// CreditInstruction moves a settled POS payment from payer to merchant.
type CreditInstruction struct {
	RequestID   uuid.UUID
	MerchantID  uuid.UUID
	PayerUserID uuid.UUID
	Amount      entities.Amount
	Currency    entities.Currency
	SettledAt   time.Time
}

// LedgerService is the external settlement collaborator. Implementations must be
// idempotent per RequestID.
type LedgerService interface {
	Credit(ctx context.Context, in CreditInstruction) error
}
