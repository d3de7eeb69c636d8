package entities

import (
	"time"

	"github.com/google/uuid"
)

// JobTypePOSPayment is the only offline job type the server reconciles today.
const JobTypePOSPayment = "pos_payment"

// OfflinePaymentIntent is what a merchant device captured while it had no
// connectivity: the payer it read over NFC and the amount it charged.
type OfflinePaymentIntent struct {
	PayerUserID uuid.UUID `json:"payerUserId"`
	Amount      Amount    `json:"amount"`
	Currency    Currency  `json:"currency"`
	Note        string    `json:"note,omitempty"`
	AcceptedAt  time.Time `json:"acceptedAt"`
}

// OfflineSubmission is the server-side dedup record for one (merchant, job) pair.
type OfflineSubmission struct {
	ID          uuid.UUID            `json:"id"`
	MerchantID  uuid.UUID            `json:"merchantId"`
	JobID       uuid.UUID            `json:"jobId"`
	RequestID   uuid.UUID            `json:"requestId"`
	PayerUserID uuid.UUID            `json:"payerUserId"`
	Amount      Amount               `json:"amount"`
	Currency    Currency             `json:"currency"`
	Status      PaymentRequestStatus `json:"status"`
	PaidAt      time.Time            `json:"paidAt"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// OfflineOutcome is the canonical result returned for a submitted job. Replays of
// the same job return the original outcome with Duplicate set.
type OfflineOutcome struct {
	JobID        uuid.UUID            `json:"jobId"`
	RequestID    uuid.UUID            `json:"requestId"`
	Status       PaymentRequestStatus `json:"status"`
	Amount       Amount               `json:"amount"`
	Currency     Currency             `json:"currency"`
	PaidByUserID uuid.UUID            `json:"paidByUserId"`
	PaidAt       time.Time            `json:"paidAt"`
	Duplicate    bool                 `json:"duplicate"`
}

// Outcome renders the stored submission as the canonical outcome.
func (s *OfflineSubmission) Outcome(duplicate bool) *OfflineOutcome {
	return &OfflineOutcome{
		JobID:        s.JobID,
		RequestID:    s.RequestID,
		Status:       s.Status,
		Amount:       s.Amount,
		Currency:     s.Currency,
		PaidByUserID: s.PayerUserID,
		PaidAt:       s.PaidAt,
		Duplicate:    duplicate,
	}
}
