package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRequest rows are never deleted; terminal rows are the audit trail.
type PaymentRequest struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	MerchantID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	MerchantName string     `gorm:"type:varchar(255)"`
	AmountMinor  int64      `gorm:"column:amount_minor;not null"`
	Currency     string     `gorm:"type:varchar(3);not null"`
	Note         *string    `gorm:"type:text"`
	Status       string     `gorm:"type:varchar(20);not null;index:idx_payment_requests_status_expires,priority:1"`
	Version      int        `gorm:"not null;default:0"`
	PaidByUserID *uuid.UUID `gorm:"type:uuid"`
	PaidAt       *time.Time
	CanceledAt   *time.Time
	ExpiresAt    time.Time `gorm:"not null;index:idx_payment_requests_status_expires,priority:2"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
