package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shortlet-escrow-backend/internal/lifecycle"
	"shortlet-escrow-backend/internal/model"
)

// CheckoutJob checks out bookings whose scheduled check-out has passed with
// no manual checkout. Running it twice in succession is harmless: the second
// run finds no eligible rows because check_out_time is now set.
type CheckoutJob struct {
	deps Deps
}

// NewCheckoutJob builds the job.
func NewCheckoutJob(deps Deps) *CheckoutJob {
	return &CheckoutJob{deps: deps}
}

func (j *CheckoutJob) Name() string { return "checkout-automation-job" }

// RunOnce performs one cycle of the job.
func (j *CheckoutJob) RunOnce(ctx context.Context) error {
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

	var bookings []model.Booking
	err = j.deps.DB.WithContext(ctx).
		Where("stay_status = ?", model.StayCheckedIn).
		Where("check_out_time IS NULL").
		Where("check_out_at_snapshot <= ?", now).
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

	var checkedOut, skipped, failed int
	for _, booking := range bookings {
		_, err := j.deps.Lifecycle.Checkout(ctx, booking.ID, "system")
		switch {
		case err == nil:
			checkedOut++
		case errors.Is(err, lifecycle.ErrPrecondition):
			// Someone checked out manually between the query and now.
			skipped++
		default:
			failed++
			j.deps.Logger.Error("automated checkout failed",
				zap.String("job", j.Name()),
				zap.String("booking_id", booking.ID),
				zap.Error(err))
		}
	}

	j.deps.Logger.Info("checkout automation cycle complete",
		zap.Int("eligible", len(bookings)),
		zap.Int("checked_out", checkedOut),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
	return nil
}
