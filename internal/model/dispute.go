package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DisputeSubject scopes what a dispute is about. Automation only yields to
// disputes whose subject touches the funds it is about to move.
type DisputeSubject string

const (
	DisputeSecurityDeposit   DisputeSubject = "SECURITY_DEPOSIT"
	DisputeBookingGeneral    DisputeSubject = "BOOKING_GENERAL"
	DisputePropertyCondition DisputeSubject = "PROPERTY_CONDITION"
)

// DisputeStatus lifecycle for a dispute.
type DisputeStatus string

const (
	DisputeOpen             DisputeStatus = "OPEN"
	DisputeAwaitingResponse DisputeStatus = "AWAITING_RESPONSE"
	DisputeEscalated        DisputeStatus = "ESCALATED"
	DisputeResolved         DisputeStatus = "RESOLVED"
)

// BlockingDisputeStatuses are the statuses that pause automated fund
// movement on the dispute's subject.
var BlockingDisputeStatuses = []DisputeStatus{
	DisputeOpen,
	DisputeAwaitingResponse,
	DisputeEscalated,
}

// Dispute is a contest raised by either party against a booking's funds.
type Dispute struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	BookingID string         `gorm:"type:uuid;not null;index"`
	Subject   DisputeSubject `gorm:"size:32;not null;index"`
	Status    DisputeStatus  `gorm:"size:32;not null;index"`

	OpenedBy   string `gorm:"size:64;not null"`
	Reason     string `gorm:"type:text"`
	Resolution string `gorm:"type:text"`

	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
	ResolvedAt *time.Time
}

func (d *Dispute) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
