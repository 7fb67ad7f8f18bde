package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shortlet-escrow-backend/config"
	"shortlet-escrow-backend/internal/db"
	"shortlet-escrow-backend/internal/dedupe"
	"shortlet-escrow-backend/internal/dispute"
	"shortlet-escrow-backend/internal/escrow"
	"shortlet-escrow-backend/internal/gateway"
	"shortlet-escrow-backend/internal/joblock"
	"shortlet-escrow-backend/internal/lifecycle"
	"shortlet-escrow-backend/internal/model"
)

type fakeGateway struct {
	mu        sync.Mutex
	refunds   int
	transfers int
}

func (f *fakeGateway) Refund(context.Context, string, int64, string) (*gateway.ProviderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds++
	return &gateway.ProviderResult{Reference: fmt.Sprintf("re_%d", f.refunds), Status: "succeeded"}, nil
}

func (f *fakeGateway) Transfer(context.Context, string, int64, string) (*gateway.ProviderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers++
	return &gateway.ProviderResult{Reference: fmt.Sprintf("tr_%d", f.transfers), Status: "paid"}, nil
}

func (f *fakeGateway) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunds
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string // "userID/eventType"
}

func (n *recordingNotifier) Notify(userID, eventType string, _ map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, userID+"/"+eventType)
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if strings.HasSuffix(s, "/"+eventType) {
			c++
		}
	}
	return c
}

type testEnv struct {
	db       *gorm.DB
	deps     Deps
	gw       *fakeGateway
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	gw := &fakeGateway{}
	notifier := &recordingNotifier{}
	disputes := dispute.NewGuard(gdb)
	claims := dedupe.NewGuard(gdb)

	lifecycleCfg := config.LifecycleConfig{
		GuestDisputeWindow:   2 * time.Hour,
		RealtorDisputeWindow: 4 * time.Hour,
		DisputeGrace:         10 * time.Minute,
	}
	svc := lifecycle.NewService(gdb, escrow.NewLedger(gdb), disputes, claims, gw, notifier, lifecycleCfg, zap.NewNop())

	return &testEnv{
		db:       gdb,
		gw:       gw,
		notifier: notifier,
		deps: Deps{
			DB:        gdb,
			Locks:     joblock.NewCoordinator(gdb),
			Claims:    claims,
			Disputes:  disputes,
			Lifecycle: svc,
			Notifier:  notifier,
			Cfg: config.JobsConfig{
				BatchSize:            100,
				LockTTL:              10 * time.Minute,
				CheckInFallbackDelay: 30 * time.Minute,
				ReminderLead:         2 * time.Hour,
			},
			Logger: zap.NewNop(),
		},
	}
}

// seedBooking creates an ACTIVE, not-started booking with a HELD payment and
// applies the given column overrides.
func (e *testEnv) seedBooking(t *testing.T, overrides map[string]any) *model.Booking {
	t.Helper()
	now := time.Now().UTC()
	booking := &model.Booking{
		GuestID:              "guest-1",
		RealtorID:            "realtor-1",
		PropertyID:           "prop-1",
		Status:               model.BookingActive,
		StayStatus:           model.StayNotStarted,
		CheckInAtSnapshot:    now.Add(-time.Hour),
		CheckOutAtSnapshot:   now.Add(24 * time.Hour),
		TotalPriceCents:      50000,
		SecurityDepositCents: 20000,
		Currency:             "NGN",
		PayoutStatus:         model.PayoutNone,
	}
	require.NoError(t, e.db.Create(booking).Error)
	require.NoError(t, e.db.Create(&model.Payment{
		BookingID:   booking.ID,
		Status:      model.PaymentHeld,
		ProviderRef: "ch_test",
	}).Error)
	if len(overrides) > 0 {
		require.NoError(t, e.db.Model(&model.Booking{}).
			Where("id = ?", booking.ID).
			Updates(overrides).Error)
	}
	return booking
}

func (e *testEnv) reload(t *testing.T, bookingID string) *model.Booking {
	t.Helper()
	var b model.Booking
	require.NoError(t, e.db.Preload("Payment").First(&b, "id = ?", bookingID).Error)
	return &b
}

func TestCheckInFallbackJob(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	due := env.seedBooking(t, map[string]any{
		"check_in_at_snapshot": now.Add(-2 * time.Hour),
	})
	notYetDue := env.seedBooking(t, map[string]any{
		"check_in_at_snapshot": now.Add(-10 * time.Minute),
	})
	alreadyConfirmed := env.seedBooking(t, map[string]any{
		"check_in_at_snapshot": now.Add(-2 * time.Hour),
		"checkin_confirmed_at": now.Add(-90 * time.Minute),
		"stay_status":          model.StayCheckedIn,
	})

	job := NewCheckInFallbackJob(env.deps)
	require.NoError(t, job.RunOnce(context.Background()))

	assert.Equal(t, model.StayCheckedIn, env.reload(t, due.ID).StayStatus)
	assert.Equal(t, model.StayNotStarted, env.reload(t, notYetDue.ID).StayStatus,
		"the fallback delay has not elapsed yet")

	// The manually confirmed booking keeps its original confirmation time.
	confirmed := env.reload(t, alreadyConfirmed.ID)
	assert.WithinDuration(t, now.Add(-90*time.Minute), *confirmed.CheckinConfirmedAt, time.Second)

	// A second run finds nothing left to confirm.
	require.NoError(t, job.RunOnce(context.Background()))
	var locks int64
	require.NoError(t, env.db.Model(&model.JobLock{}).Count(&locks).Error)
	assert.EqualValues(t, 0, locks, "the lock must be released after each run")
}

func TestCheckInFallbackJob_SkipsUnheldPayments(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	booking := env.seedBooking(t, map[string]any{
		"check_in_at_snapshot": now.Add(-2 * time.Hour),
	})
	require.NoError(t, env.db.Model(&model.Payment{}).
		Where("booking_id = ?", booking.ID).
		Update("status", model.PaymentCompleted).Error)

	require.NoError(t, NewCheckInFallbackJob(env.deps).RunOnce(context.Background()))
	assert.Equal(t, model.StayNotStarted, env.reload(t, booking.ID).StayStatus)
}

func TestCheckoutJob_RunTwiceSingleTransition(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	booking := env.seedBooking(t, map[string]any{
		"stay_status":           model.StayCheckedIn,
		"check_in_time":         now.Add(-24 * time.Hour),
		"checkin_confirmed_at":  now.Add(-24 * time.Hour),
		"check_out_at_snapshot": now.Add(-time.Hour),
	})

	job := NewCheckoutJob(env.deps)
	require.NoError(t, job.RunOnce(context.Background()))
	require.NoError(t, job.RunOnce(context.Background()))

	fresh := env.reload(t, booking.ID)
	assert.Equal(t, model.StayCheckedOut, fresh.StayStatus)
	require.NotNil(t, fresh.CheckOutTime)
	assert.True(t, fresh.Payment.DepositInEscrow)

	var holds int64
	require.NoError(t, env.db.Model(&model.EscrowEvent{}).
		Where("booking_id = ? AND event_type = ?", booking.ID, model.EventHoldSecurityDeposit).
		Count(&holds).Error)
	assert.EqualValues(t, 1, holds, "running the job twice must hold the deposit exactly once")
}

func TestDepositRefundJob(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	ctx := context.Background()

	checkedOut := func() *model.Booking {
		b := env.seedBooking(t, map[string]any{
			"stay_status":                model.StayCheckedOut,
			"check_in_time":              now.Add(-48 * time.Hour),
			"checkin_confirmed_at":       now.Add(-48 * time.Hour),
			"check_out_time":             now.Add(-5 * time.Hour),
			"deposit_refund_eligible_at": now.Add(-time.Minute),
			"payout_status":              model.PayoutPending,
		})
		require.NoError(t, env.db.Model(&model.Payment{}).
			Where("booking_id = ?", b.ID).
			Update("deposit_in_escrow", true).Error)
		return b
	}

	clean := checkedOut()
	contested := checkedOut()
	d, err := env.deps.Disputes.Open(ctx, contested.ID, model.DisputeSecurityDeposit, "realtor-1", "stains")
	require.NoError(t, err)

	job := NewDepositRefundJob(env.deps)
	require.NoError(t, job.RunOnce(ctx))

	assert.Equal(t, 1, env.gw.refundCount())
	assert.False(t, env.reload(t, clean.ID).Payment.DepositInEscrow)
	assert.True(t, env.reload(t, contested.ID).Payment.DepositInEscrow,
		"a disputed deposit must stay in escrow")

	// Rerunning changes nothing while the dispute stays open.
	require.NoError(t, job.RunOnce(ctx))
	assert.Equal(t, 1, env.gw.refundCount())

	// Once resolved, the next cycle picks the booking up.
	require.NoError(t, env.deps.Disputes.Resolve(ctx, d.ID, "withdrawn"))
	require.NoError(t, job.RunOnce(ctx))
	assert.Equal(t, 2, env.gw.refundCount())
	assert.False(t, env.reload(t, contested.ID).Payment.DepositInEscrow)
}

func TestReminderJob_NoDoubleSend(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	ctx := context.Background()

	env.seedBooking(t, map[string]any{
		"check_in_at_snapshot": now.Add(time.Hour),
	})
	env.seedBooking(t, map[string]any{
		"stay_status":           model.StayCheckedIn,
		"check_in_time":         now.Add(-20 * time.Hour),
		"checkin_confirmed_at":  now.Add(-20 * time.Hour),
		"check_out_at_snapshot": now.Add(90 * time.Minute),
	})
	// Outside the lead window; no reminder yet.
	env.seedBooking(t, map[string]any{
		"check_in_at_snapshot": now.Add(5 * time.Hour),
	})

	job := NewReminderJob(env.deps)
	require.NoError(t, job.RunOnce(ctx))
	require.NoError(t, job.RunOnce(ctx))

	assert.Equal(t, 1, env.notifier.count("booking.check_in_reminder"))
	assert.Equal(t, 1, env.notifier.count("booking.check_out_reminder"))
}

func TestRunOnce_LockHeldElsewhere(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	ctx := context.Background()

	booking := env.seedBooking(t, map[string]any{
		"stay_status":           model.StayCheckedIn,
		"check_in_time":         now.Add(-24 * time.Hour),
		"checkin_confirmed_at":  now.Add(-24 * time.Hour),
		"check_out_at_snapshot": now.Add(-time.Hour),
	})

	other := joblock.NewCoordinator(env.db)
	held, err := other.Acquire(ctx, "checkout-automation-job", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	// The tick yields without error and without touching any booking.
	require.NoError(t, NewCheckoutJob(env.deps).RunOnce(ctx))
	assert.Equal(t, model.StayCheckedIn, env.reload(t, booking.ID).StayStatus)

	require.NoError(t, other.Release(ctx, held))
	require.NoError(t, NewCheckoutJob(env.deps).RunOnce(ctx))
	assert.Equal(t, model.StayCheckedOut, env.reload(t, booking.ID).StayStatus)
}
