package lifecycle

import (
	"context"
	"fmt"
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
	"shortlet-escrow-backend/internal/model"
)

// gatewayCall records one fake provider invocation.
type gatewayCall struct {
	Target      string
	AmountCents int64
	Currency    string
}

// fakeGateway satisfies gateway.PaymentGateway and records every call.
type fakeGateway struct {
	mu          sync.Mutex
	refunds     []gatewayCall
	transfers   []gatewayCall
	refundErr   error
	transferErr error
}

func (f *fakeGateway) Refund(_ context.Context, providerRef string, amountCents int64, currency string) (*gateway.ProviderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds = append(f.refunds, gatewayCall{Target: providerRef, AmountCents: amountCents, Currency: currency})
	return &gateway.ProviderResult{
		Reference: fmt.Sprintf("re_test_%d", len(f.refunds)),
		Status:    "succeeded",
	}, nil
}

func (f *fakeGateway) Transfer(_ context.Context, destination string, amountCents int64, currency string) (*gateway.ProviderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers = append(f.transfers, gatewayCall{Target: destination, AmountCents: amountCents, Currency: currency})
	return &gateway.ProviderResult{
		Reference: fmt.Sprintf("tr_test_%d", len(f.transfers)),
		Status:    "paid",
	}, nil
}

func (f *fakeGateway) refundCalls() []gatewayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gatewayCall(nil), f.refunds...)
}

func (f *fakeGateway) transferCalls() []gatewayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gatewayCall(nil), f.transfers...)
}

// recordedNotification is one captured Notify call.
type recordedNotification struct {
	UserID    string
	EventType string
	Payload   map[string]string
}

// recordingNotifier satisfies notification.Notifier.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []recordedNotification
}

func (n *recordingNotifier) Notify(userID, eventType string, payload map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recordedNotification{UserID: userID, EventType: eventType, Payload: payload})
}

func (n *recordingNotifier) byType(eventType string) []recordedNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedNotification
	for _, s := range n.sent {
		if s.EventType == eventType {
			out = append(out, s)
		}
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func testLifecycleConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		GuestDisputeWindow:   2 * time.Hour,
		RealtorDisputeWindow: 4 * time.Hour,
		DisputeGrace:         10 * time.Minute,
	}
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeGateway, *recordingNotifier) {
	gdb := newTestDB(t)
	gw := &fakeGateway{}
	notifier := &recordingNotifier{}
	svc := NewService(gdb, escrow.NewLedger(gdb), dispute.NewGuard(gdb), dedupe.NewGuard(gdb),
		gw, notifier, testLifecycleConfig(), zap.NewNop())
	return svc, gdb, gw, notifier
}

// seedBooking creates an ACTIVE, not-started booking with its room fee HELD.
func seedBooking(t *testing.T, gdb *gorm.DB) *model.Booking {
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
	require.NoError(t, gdb.Create(booking).Error)
	require.NoError(t, gdb.Create(&model.Payment{
		BookingID:   booking.ID,
		Status:      model.PaymentHeld,
		ProviderRef: "ch_test_1",
	}).Error)
	return booking
}

// backdateBooking rewrites timestamp columns directly so windows that would
// take hours to close can be tested immediately.
func backdateBooking(t *testing.T, gdb *gorm.DB, bookingID string, cols map[string]any) {
	t.Helper()
	require.NoError(t, gdb.Model(&model.Booking{}).
		Where("id = ?", bookingID).
		Updates(cols).Error)
}

func reloadBooking(t *testing.T, gdb *gorm.DB, bookingID string) *model.Booking {
	t.Helper()
	var b model.Booking
	require.NoError(t, gdb.Preload("Payment").First(&b, "id = ?", bookingID).Error)
	return &b
}

func TestConfirmCheckIn_OpensDisputeWindow(t *testing.T) {
	svc, gdb, _, notifier := newTestService(t)
	booking := seedBooking(t, gdb)

	result, err := svc.ConfirmCheckIn(context.Background(), booking.ID, "guest-1")
	require.NoError(t, err)
	require.NotNil(t, result.CheckInTime)
	require.NotNil(t, result.DisputeWindowClosesAt)
	assert.False(t, result.AlreadyCheckedIn)
	assert.Equal(t, 2*time.Hour, result.DisputeWindowClosesAt.Sub(*result.CheckInTime))

	fresh := reloadBooking(t, gdb, booking.ID)
	assert.Equal(t, model.StayCheckedIn, fresh.StayStatus)
	assert.NotNil(t, fresh.CheckinConfirmedAt)

	// Both parties are notified once.
	confirmed := notifier.byType("booking.check_in_confirmed")
	require.Len(t, confirmed, 2)
	assert.ElementsMatch(t, []string{"guest-1", "realtor-1"},
		[]string{confirmed[0].UserID, confirmed[1].UserID})
}

func TestConfirmCheckIn_SecondCallIsNoOp(t *testing.T) {
	svc, gdb, _, notifier := newTestService(t)
	booking := seedBooking(t, gdb)
	ctx := context.Background()

	first, err := svc.ConfirmCheckIn(ctx, booking.ID, "guest-1")
	require.NoError(t, err)

	second, err := svc.ConfirmCheckIn(ctx, booking.ID, "guest-1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyCheckedIn)
	require.NotNil(t, second.DisputeWindowClosesAt)
	assert.WithinDuration(t, *first.DisputeWindowClosesAt, *second.DisputeWindowClosesAt, time.Second,
		"the window computed at the original check-in must be preserved")

	// No second round of notifications.
	assert.Len(t, notifier.byType("booking.check_in_confirmed"), 2)
}

func TestConfirmCheckIn_RequiresActiveBooking(t *testing.T) {
	svc, gdb, _, _ := newTestService(t)
	booking := seedBooking(t, gdb)
	require.NoError(t, gdb.Model(&model.Booking{}).
		Where("id = ?", booking.ID).
		Update("status", model.BookingPending).Error)

	_, err := svc.ConfirmCheckIn(context.Background(), booking.ID, "guest-1")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestConfirmCheckIn_RequiresHeldPayment(t *testing.T) {
	svc, gdb, _, _ := newTestService(t)
	booking := seedBooking(t, gdb)
	require.NoError(t, gdb.Model(&model.Payment{}).
		Where("booking_id = ?", booking.ID).
		Update("status", model.PaymentCompleted).Error)

	_, err := svc.ConfirmCheckIn(context.Background(), booking.ID, "guest-1")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestConfirmCheckIn_UnknownBooking(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.ConfirmCheckIn(context.Background(), "no-such-booking", "guest-1")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestCheckout_SetsRefundEligibilityAndHoldsDeposit(t *testing.T) {
	svc, gdb, _, _ := newTestService(t)
	booking := seedBooking(t, gdb)
	ctx := context.Background()

	_, err := svc.ConfirmCheckIn(ctx, booking.ID, "guest-1")
	require.NoError(t, err)

	result, err := svc.Checkout(ctx, booking.ID, "guest-1")
	require.NoError(t, err)

	// Realtor window plus grace: 4h + 10m after the actual checkout.
	assert.Equal(t, 4*time.Hour+10*time.Minute,
		result.DepositRefundEligibleAt.Sub(result.CheckOutTime))
	assert.Equal(t, result.DepositRefundEligibleAt, result.RealtorDisputeClosesAt)

	fresh := reloadBooking(t, gdb, booking.ID)
	assert.Equal(t, model.StayCheckedOut, fresh.StayStatus)
	assert.Equal(t, model.PayoutPending, fresh.PayoutStatus)
	require.NotNil(t, fresh.Payment)
	assert.True(t, fresh.Payment.DepositInEscrow)

	var events []model.EscrowEvent
	require.NoError(t, gdb.Where("booking_id = ? AND event_type = ?",
		booking.ID, model.EventHoldSecurityDeposit).Find(&events).Error)
	require.Len(t, events, 1)
	assert.EqualValues(t, 20000, events[0].AmountCents)
	assert.Contains(t, events[0].Notes, "deposit release eligible at")
}

func TestCheckout_RequiresCheckIn(t *testing.T) {
	svc, gdb, _, _ := newTestService(t)
	booking := seedBooking(t, gdb)

	_, err := svc.Checkout(context.Background(), booking.ID, "guest-1")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestCheckout_SecondCallRejected(t *testing.T) {
	svc, gdb, _, _ := newTestService(t)
	booking := seedBooking(t, gdb)
	ctx := context.Background()

	_, err := svc.ConfirmCheckIn(ctx, booking.ID, "guest-1")
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, booking.ID, "guest-1")
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, booking.ID, "guest-1")
	assert.ErrorIs(t, err, ErrPrecondition)

	// Still exactly one deposit hold on the ledger.
	var count int64
	require.NoError(t, gdb.Model(&model.EscrowEvent{}).
		Where("booking_id = ? AND event_type = ?", booking.ID, model.EventHoldSecurityDeposit).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
