package models

import (
	"time"

	"github.com/google/uuid"
)

type OfflineSubmission struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	MerchantID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_offline_submissions_merchant_job,priority:1"`
	JobID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_offline_submissions_merchant_job,priority:2"`
	RequestID   uuid.UUID `gorm:"type:uuid;not null;index"`
	PayerUserID uuid.UUID `gorm:"type:uuid;not null"`
	AmountMinor int64     `gorm:"column:amount_minor;not null"`
	Currency    string    `gorm:"type:varchar(3);not null"`
	Status      string    `gorm:"type:varchar(20);not null"`
	PaidAt      time.Time `gorm:"not null"`
	CreatedAt   time.Time
}
