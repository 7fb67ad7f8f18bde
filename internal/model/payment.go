package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentStatus is the escrow disposition summary for a booking's payment.
type PaymentStatus string

const (
	PaymentHeld              PaymentStatus = "HELD"
	PaymentPartiallyReleased PaymentStatus = "PARTIALLY_RELEASED"
	PaymentSettled           PaymentStatus = "SETTLED"
	PaymentCompleted         PaymentStatus = "COMPLETED"
)

// Payment is the 1:1 payment record for a booking. The boolean flags are a
// fast-path denormalization of the escrow ledger fold; they are only ever
// rewritten in the same transaction as the ledger append they summarize.
type Payment struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	BookingID string `gorm:"type:uuid;not null;uniqueIndex"`

	Status PaymentStatus `gorm:"size:32;not null;index"`

	DepositInEscrow bool `gorm:"not null;default:false"`
	DepositRefunded bool `gorm:"not null;default:false"`

	RefundAmountCents int64
	RefundedAt        *time.Time

	// ProviderRef is the gateway's charge reference used for refunds.
	ProviderRef string `gorm:"size:128"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
