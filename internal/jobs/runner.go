package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shortlet-escrow-backend/config"
	"shortlet-escrow-backend/internal/dedupe"
	"shortlet-escrow-backend/internal/dispute"
	"shortlet-escrow-backend/internal/joblock"
	"shortlet-escrow-backend/internal/lifecycle"
	"shortlet-escrow-backend/internal/notification"
)

// Job is one scheduled automation worker. RunOnce performs a full cycle:
// acquire lock, query a bounded batch, process each booking independently,
// log a summary, release the lock. Errors returned here are job-level (lock
// or batch-query failures); per-booking failures are handled inside.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Deps bundles what every job needs. Jobs share the collaborators but keep
// their own eligibility predicates.
type Deps struct {
	DB        *gorm.DB
	Locks     *joblock.Coordinator
	Claims    *dedupe.Guard
	Disputes  *dispute.Guard
	Lifecycle *lifecycle.Service
	Notifier  notification.Notifier
	Cfg       config.JobsConfig
	Logger    *zap.Logger
}

// Runner executes a job on a fixed interval until the context is cancelled.
// Every instance of the deployment runs its own runners; the job lock
// decides which instance actually does the work each tick.
type Runner struct {
	job      Job
	interval time.Duration
	logger   *zap.Logger
}

// NewRunner wraps a job in a periodic runner.
func NewRunner(job Job, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{job: job, interval: interval, logger: logger}
}

// Run executes the job immediately and then on every tick. A failed tick is
// logged and retried on the next one; nothing here is fatal to the process.
func (r *Runner) Run(ctx context.Context) {
	r.tick(ctx)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner shutting down", zap.String("job", r.job.Name()))
			return
		case <-timer.C:
			r.tick(ctx)
			timer.Reset(r.interval)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if err := r.job.RunOnce(ctx); err != nil {
		r.logger.Error("job run failed", zap.String("job", r.job.Name()), zap.Error(err))
	}
}

// All constructs the four automation jobs.
func All(deps Deps) []Job {
	return []Job{
		NewCheckInFallbackJob(deps),
		NewReminderJob(deps),
		NewCheckoutJob(deps),
		NewDepositRefundJob(deps),
	}
}
