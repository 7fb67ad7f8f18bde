package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shortlet-escrow-backend/internal/model"
	"shortlet-escrow-backend/internal/notification"
)

// Claim event types used by the reminder job. A row in event_claims for
// (bookingID, type) means the reminder already went out; restarts and
// overlapping runs cannot double-send.
const (
	ClaimCheckInReminder  = "CHECK_IN_REMINDER"
	ClaimCheckOutReminder = "CHECK_OUT_REMINDER"
)

// ReminderJob sends one-shot reminders to guests whose scheduled check-in or
// check-out falls inside the lead window.
type ReminderJob struct {
	deps Deps
}

// NewReminderJob builds the job.
func NewReminderJob(deps Deps) *ReminderJob {
	return &ReminderJob{deps: deps}
}

func (j *ReminderJob) Name() string { return "lifecycle-reminder-job" }

// RunOnce performs one cycle of the job.
func (j *ReminderJob) RunOnce(ctx context.Context) error {
	lock, err := j.deps.Locks.Acquire(ctx, j.Name(), j.deps.Cfg.LockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		j.deps.Logger.Debug("lock held elsewhere, skipping tick", zap.String("job", j.Name()))
		return nil
	}
	defer func() {
		if err := j.deps.Locks.Release(ctx, lock); err != nil {
			j.deps.Logger.Warn("failed to release job lock", zap.String("job", j.Name()), zap.Error(err))
		}
	}()

	now := time.Now().UTC()
	windowEnd := now.Add(j.deps.Cfg.ReminderLead)

	sent, skipped, failed := 0, 0, 0

	// Upcoming check-ins.
	var checkIns []model.Booking
	err = j.deps.DB.WithContext(ctx).
		Where("status = ? AND stay_status = ?", model.BookingActive, model.StayNotStarted).
		Where("check_in_at_snapshot BETWEEN ? AND ?", now, windowEnd).
		Limit(j.deps.Cfg.BatchSize).
		Find(&checkIns).Error
	if err != nil {
		return fmt.Errorf("check-in reminder query failed: %w", err)
	}
	for _, b := range checkIns {
		s, sk, f := j.remind(ctx, b, ClaimCheckInReminder, notification.EventCheckInReminder, b.CheckInAtSnapshot)
		sent, skipped, failed = sent+s, skipped+sk, failed+f
	}

	// Upcoming check-outs.
	var checkOuts []model.Booking
	err = j.deps.DB.WithContext(ctx).
		Where("stay_status = ?", model.StayCheckedIn).
		Where("check_out_at_snapshot BETWEEN ? AND ?", now, windowEnd).
		Limit(j.deps.Cfg.BatchSize).
		Find(&checkOuts).Error
	if err != nil {
		return fmt.Errorf("check-out reminder query failed: %w", err)
	}
	for _, b := range checkOuts {
		s, sk, f := j.remind(ctx, b, ClaimCheckOutReminder, notification.EventCheckOutReminder, b.CheckOutAtSnapshot)
		sent, skipped, failed = sent+s, skipped+sk, failed+f
	}

	j.deps.Logger.Info("reminder cycle complete",
		zap.Int("sent", sent),
		zap.Int("already_sent", skipped),
		zap.Int("failed", failed))
	return nil
}

// remind claims and sends a single reminder. Returns (sent, skipped, failed)
// as 0/1 counters.
func (j *ReminderJob) remind(ctx context.Context, booking model.Booking, claimType, eventType string, due time.Time) (int, int, int) {
	won, err := j.deps.Claims.TryClaim(ctx, booking.ID, claimType)
	if err != nil {
		j.deps.Logger.Error("reminder claim failed",
			zap.String("job", j.Name()),
			zap.String("booking_id", booking.ID),
			zap.Error(err))
		return 0, 0, 1
	}
	if !won {
		return 0, 1, 0
	}

	j.deps.Notifier.Notify(booking.GuestID, eventType, map[string]string{
		"bookingId": booking.ID,
		"dueAt":     due.Format(time.RFC3339),
	})
	return 1, 0, 0
}
