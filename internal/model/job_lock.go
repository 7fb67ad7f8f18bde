package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobLock is the cross-instance mutex for scheduled jobs. The unique JobName
// index means at most one row per job can exist; creating the row is
// acquiring the lock. A row whose ExpiresAt has passed is considered
// abandoned (the holder crashed mid-run) and may be reclaimed.
type JobLock struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	JobName   string    `gorm:"size:64;not null;uniqueIndex"`
	LockedBy  string    `gorm:"size:128;not null"`
	LockedAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`

	// BookingIDs records the batch the holder is working through, for
	// operator visibility when a run has to be investigated.
	BookingIDs datatypes.JSON
}
