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

// DepositRefundJob releases security deposits back to guests once the
// realtor dispute window has closed. Bookings with an active
// SECURITY_DEPOSIT dispute are skipped for this cycle and reconsidered on
// the next one; a skip is not an error and is never retried inside a tick.
type DepositRefundJob struct {
	deps Deps
}

// NewDepositRefundJob builds the job.
func NewDepositRefundJob(deps Deps) *DepositRefundJob {
	return &DepositRefundJob{deps: deps}
}

func (j *DepositRefundJob) Name() string { return "deposit-refund-job" }

// RunOnce performs one cycle of the job.
func (j *DepositRefundJob) RunOnce(ctx context.Context) error {
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
		Joins("JOIN payments ON payments.booking_id = bookings.id").
		Where("bookings.stay_status = ?", model.StayCheckedOut).
		Where("bookings.deposit_refund_eligible_at <= ?", now).
		Where("payments.deposit_in_escrow = ?", true).
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

	var refunded, disputed, skipped, failed int
	for _, booking := range bookings {
		blocked, err := j.deps.Disputes.HasBlockingDispute(ctx, booking.ID, model.DisputeSecurityDeposit)
		if err != nil {
			failed++
			j.deps.Logger.Error("dispute check failed",
				zap.String("job", j.Name()),
				zap.String("booking_id", booking.ID),
				zap.Error(err))
			continue
		}
		if blocked {
			disputed++
			j.deps.Logger.Info("deposit refund deferred, dispute open",
				zap.String("booking_id", booking.ID))
			continue
		}

		err = j.deps.Lifecycle.CompleteAndRefundDeposit(ctx, booking.ID, "system")
		switch {
		case err == nil:
			refunded++
		case errors.Is(err, lifecycle.ErrPrecondition):
			skipped++
		default:
			failed++
			j.deps.Logger.Error("deposit refund failed",
				zap.String("job", j.Name()),
				zap.String("booking_id", booking.ID),
				zap.Error(err))
		}
	}

	j.deps.Logger.Info("deposit refund cycle complete",
		zap.Int("eligible", len(bookings)),
		zap.Int("refunded", refunded),
		zap.Int("disputed", disputed),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
	return nil
}
