package joblock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shortlet-escrow-backend/internal/model"
)

// Coordinator hands out distributed job locks backed by the job_locks table.
// The unique job_name index is the actual mutex: creating the row is
// acquiring the lock. Instances do not share memory, so this table is the
// only cross-instance coordination primitive.
type Coordinator struct {
	db       *gorm.DB
	instance string
}

// Lock is a held job lock. Pass it back to Release on clean completion; a
// lock that is never released expires at ExpiresAt and gets reclaimed by a
// later run.
type Lock struct {
	JobName   string
	LockedBy  string
	ExpiresAt time.Time
}

// NewCoordinator creates a coordinator. The instance identifier recorded in
// locked_by combines hostname and a per-process suffix so operators can see
// which deployment holds a lock.
func NewCoordinator(db *gorm.DB) *Coordinator {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Coordinator{
		db:       db,
		instance: fmt.Sprintf("%s/%s", host, uuid.NewString()[:8]),
	}
}

// Acquire attempts to take the lock for jobName. It returns (nil, nil) when
// another instance holds an unexpired lock: that is the normal "someone else
// is running this job" outcome, not an error. A row past its expiry is
// treated as abandoned and reclaimed.
func (c *Coordinator) Acquire(ctx context.Context, jobName string, ttl time.Duration) (*Lock, error) {
	now := time.Now().UTC()

	// Clear a stale row first. The WHERE clause makes this race-safe: only
	// one of two competing instances deletes the expired row, and the
	// unique index arbitrates the inserts that follow.
	if err := c.db.WithContext(ctx).
		Where("job_name = ? AND expires_at <= ?", jobName, now).
		Delete(&model.JobLock{}).Error; err != nil {
		return nil, fmt.Errorf("failed to clear stale lock for %s: %w", jobName, err)
	}

	row := model.JobLock{
		JobName:   jobName,
		LockedBy:  c.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	err := c.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return &Lock{JobName: jobName, LockedBy: c.instance, ExpiresAt: row.ExpiresAt}, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to acquire lock for %s: %w", jobName, err)
}

// Annotate records the batch of booking IDs the holder is processing.
// Purely informational; failures here never abort a run.
func (c *Coordinator) Annotate(ctx context.Context, lock *Lock, bookingIDs []string) error {
	if lock == nil || len(bookingIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(bookingIDs)
	if err != nil {
		return err
	}
	return c.db.WithContext(ctx).
		Model(&model.JobLock{}).
		Where("job_name = ? AND locked_by = ?", lock.JobName, lock.LockedBy).
		Update("booking_ids", payload).Error
}

// Release deletes the lock row on clean completion. Only the holder's own
// row is deleted, so releasing after expiry cannot steal a successor's lock.
func (c *Coordinator) Release(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	return c.db.WithContext(ctx).
		Where("job_name = ? AND locked_by = ?", lock.JobName, lock.LockedBy).
		Delete(&model.JobLock{}).Error
}
