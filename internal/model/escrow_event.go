package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EscrowEventType enumerates every fund movement the platform records.
type EscrowEventType string

const (
	EventHoldRoomFee              EscrowEventType = "HOLD_ROOM_FEE"
	EventHoldSecurityDeposit      EscrowEventType = "HOLD_SECURITY_DEPOSIT"
	EventReleaseRoomFeeSplit      EscrowEventType = "RELEASE_ROOM_FEE_SPLIT"
	EventReleaseDepositToCustomer EscrowEventType = "RELEASE_DEPOSIT_TO_CUSTOMER"
	EventPayRealtorFromDeposit    EscrowEventType = "PAY_REALTOR_FROM_DEPOSIT"
	EventPayBalanceFromCustomer   EscrowEventType = "PAY_BALANCE_FROM_CUSTOMER"
	EventRefundRoomFeeToCustomer  EscrowEventType = "REFUND_ROOM_FEE_TO_CUSTOMER"
	EventRefundPartialToCustomer  EscrowEventType = "REFUND_PARTIAL_TO_CUSTOMER"
	EventRefundPartialToRealtor   EscrowEventType = "REFUND_PARTIAL_TO_REALTOR"
)

// Escrow parties.
const (
	PartyCustomer = "CUSTOMER"
	PartyRealtor  = "REALTOR"
	PartyPlatform = "PLATFORM"
)

// EscrowEvent is one append-only ledger entry. Rows are never updated or
// deleted; the current fund disposition of a booking is a fold over its
// event sequence. The single exception is ProviderResponse, which the
// payment-webhook handler fills in once the gateway confirms or reverses the
// transfer identified by TransactionReference.
type EscrowEvent struct {
	ID        string          `gorm:"type:uuid;primaryKey"`
	BookingID string          `gorm:"type:uuid;not null;index:idx_escrow_booking_executed,priority:1"`
	EventType EscrowEventType `gorm:"size:40;not null;index"`

	AmountCents int64  `gorm:"not null"`
	Currency    string `gorm:"size:3;not null"`

	FromParty string `gorm:"size:16;not null"`
	ToParty   string `gorm:"size:16;not null"`

	ExecutedAt           time.Time `gorm:"not null;index:idx_escrow_booking_executed,priority:2"`
	TransactionReference string    `gorm:"size:128;index"`

	ProviderResponse datatypes.JSON
	Notes            string `gorm:"type:text"`
	TriggeredBy      string `gorm:"size:64;not null"`
}

func (e *EscrowEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
