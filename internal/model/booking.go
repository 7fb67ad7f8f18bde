package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookingStatus is the overall lifecycle status of a booking.
type BookingStatus string

const (
	BookingPending       BookingStatus = "PENDING"
	BookingActive        BookingStatus = "ACTIVE"
	BookingDisputeOpened BookingStatus = "DISPUTE_OPENED"
	BookingCancelled     BookingStatus = "CANCELLED"
	BookingCompleted     BookingStatus = "COMPLETED"
)

// StayStatus is the physical-occupancy sub-state of a booking. It only ever
// advances: NOT_STARTED -> CHECKED_IN -> CHECKED_OUT.
type StayStatus string

const (
	StayNotStarted StayStatus = "NOT_STARTED"
	StayCheckedIn  StayStatus = "CHECKED_IN"
	StayCheckedOut StayStatus = "CHECKED_OUT"
)

// PayoutStatus tracks whether the realtor's share has left escrow.
type PayoutStatus string

const (
	PayoutNone    PayoutStatus = "NONE"
	PayoutPending PayoutStatus = "PENDING"
	PayoutPaid    PayoutStatus = "PAID"
)

// Booking is a stay reservation with funds held in escrow.
//
// CheckInAtSnapshot/CheckOutAtSnapshot are the scheduled times captured at
// booking creation. All timer math runs off the snapshots so that later edits
// to a property's hours never retroactively change which jobs are due.
type Booking struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	GuestID    string `gorm:"size:64;not null;index"`
	RealtorID  string `gorm:"size:64;not null;index"`
	PropertyID string `gorm:"size:64;not null;index"`

	Status     BookingStatus `gorm:"size:32;not null;index"`
	StayStatus StayStatus    `gorm:"size:32;not null;index"`

	CheckInAtSnapshot  time.Time `gorm:"not null;index"`
	CheckOutAtSnapshot time.Time `gorm:"not null;index"`

	// Actual times, nil until the corresponding transition happens.
	CheckInTime  *time.Time
	CheckOutTime *time.Time

	CheckinConfirmedAt      *time.Time
	DisputeWindowClosesAt   *time.Time
	DepositRefundEligibleAt *time.Time `gorm:"index"`
	RealtorDisputeClosesAt  *time.Time

	TotalPriceCents      int64  `gorm:"not null"`
	SecurityDepositCents int64  `gorm:"not null"`
	Currency             string `gorm:"size:3;not null"`

	PayoutStatus PayoutStatus `gorm:"size:16;not null;default:'NONE'"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Payment *Payment `gorm:"foreignKey:BookingID"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
