package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// PaymentRequestStatus represents the status of a payment request
type PaymentRequestStatus string

const (
	PaymentRequestStatusPending  PaymentRequestStatus = "pending"
	PaymentRequestStatusPaid     PaymentRequestStatus = "paid"
	PaymentRequestStatusExpired  PaymentRequestStatus = "expired"
	PaymentRequestStatusCanceled PaymentRequestStatus = "canceled"
)

// MaxNoteLength bounds the free-text note, counted in characters.
const MaxNoteLength = 140

// IsTerminal reports whether no further transition is allowed from s.
func (s PaymentRequestStatus) IsTerminal() bool {
	switch s {
	case PaymentRequestStatusPaid, PaymentRequestStatusExpired, PaymentRequestStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo enforces the one-directional lifecycle: only pending moves, and
// only into a terminal state.
func (s PaymentRequestStatus) CanTransitionTo(next PaymentRequestStatus) bool {
	return s == PaymentRequestStatusPending && next.IsTerminal()
}

// PaymentRequest represents a merchant's POS payment request
type PaymentRequest struct {
	ID           uuid.UUID            `json:"requestId"`
	MerchantID   uuid.UUID            `json:"merchantId"`
	MerchantName string               `json:"merchantName,omitempty"`
	Amount       Amount               `json:"amount"`
	Currency     Currency             `json:"currency"`
	Note         null.String          `json:"note,omitempty"`
	Status       PaymentRequestStatus `json:"status"`
	Version      int                  `json:"-"`
	PaidByUserID *uuid.UUID           `json:"paidByUserId,omitempty"`
	PaidAt       null.Time            `json:"paidAt,omitempty"`
	CanceledAt   null.Time            `json:"canceledAt,omitempty"`
	ExpiresAt    time.Time            `json:"expiresAt"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// IsOverdue reports a pending request whose TTL elapsed at now.
func (r *PaymentRequest) IsOverdue(now time.Time) bool {
	return r.Status == PaymentRequestStatusPending && now.After(r.ExpiresAt)
}

// StatusTransition is a compare-and-set instruction against one request. It only
// applies when the stored row is still pending at FromVersion.
type StatusTransition struct {
	RequestID   uuid.UUID
	FromVersion int
	To          PaymentRequestStatus
	At          time.Time
	// PaidBy is required when To is paid.
	PaidBy *uuid.UUID
	// RequireUnexpired additionally requires expires_at > At, so a settlement can
	// never land on a request whose TTL already elapsed.
	RequireUnexpired bool
}
