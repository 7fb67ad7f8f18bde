package model

import "time"

// EventClaim is the row behind the claim-once primitive. The composite
// unique index makes insertion the atomic "has this exactly-once action
// already happened" check: a duplicate-key error on insert means the event
// already fired. Scope keys are booking IDs for reminder emails and provider
// event IDs for inbound payment webhooks.
type EventClaim struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	ScopeKey  string    `gorm:"size:128;not null;index:uniq_event_claim,unique,priority:1"`
	EventType string    `gorm:"size:64;not null;index:uniq_event_claim,unique,priority:2"`
	ClaimedAt time.Time `gorm:"not null"`
}
