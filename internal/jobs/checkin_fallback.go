package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shortlet-escrow-backend/internal/model"
)

// CheckInFallbackJob auto-confirms check-in for bookings whose guest never
// pressed the button: ACTIVE bookings past the scheduled check-in plus the
// fallback delay, with no manual confirmation and the payment still HELD.
type CheckInFallbackJob struct {
	deps Deps
}

// NewCheckInFallbackJob builds the job.
func NewCheckInFallbackJob(deps Deps) *CheckInFallbackJob {
	return &CheckInFallbackJob{deps: deps}
}

func (j *CheckInFallbackJob) Name() string { return "check-in-fallback-job" }

// RunOnce performs one cycle of the job.
func (j *CheckInFallbackJob) RunOnce(ctx context.Context) error {
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

	cutoff := time.Now().UTC().Add(-j.deps.Cfg.CheckInFallbackDelay)

	var bookings []model.Booking
	err = j.deps.DB.WithContext(ctx).
		Joins("JOIN payments ON payments.booking_id = bookings.id").
		Where("bookings.status = ?", model.BookingActive).
		Where("bookings.stay_status = ?", model.StayNotStarted).
		Where("bookings.checkin_confirmed_at IS NULL").
		Where("bookings.check_in_at_snapshot <= ?", cutoff).
		Where("payments.status = ?", model.PaymentHeld).
		Limit(j.deps.Cfg.BatchSize).
		Find(&bookings).Error
	if err != nil {
		return fmt.Errorf("eligible-bookings query failed: %w", err)
	}

	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	if err := j.deps.Locks.Annotate(ctx, lock, ids); err != nil {
		j.deps.Logger.Warn("failed to annotate lock", zap.String("job", j.Name()), zap.Error(err))
	}

	var confirmed, failed int
	for _, booking := range bookings {
		if _, err := j.deps.Lifecycle.AutoConfirmCheckIn(ctx, booking.ID); err != nil {
			failed++
			j.deps.Logger.Error("auto check-in failed",
				zap.String("job", j.Name()),
				zap.String("booking_id", booking.ID),
				zap.Error(err))
			continue
		}
		confirmed++
	}

	j.deps.Logger.Info("check-in fallback cycle complete",
		zap.Int("eligible", len(bookings)),
		zap.Int("confirmed", confirmed),
		zap.Int("failed", failed))
	return nil
}
