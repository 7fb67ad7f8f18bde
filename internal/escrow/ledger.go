package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shortlet-escrow-backend/internal/model"
)

// Ledger records fund movement as immutable facts. Append is the only write;
// everything a caller wants to know about a booking's funds is a query over
// the event sequence.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger over the given database handle.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Append writes one escrow event. It must be called with the transaction
// handle of the state transition it belongs to, so the event is only visible
// if the booking/payment updates commit.
func (l *Ledger) Append(tx *gorm.DB, event *model.EscrowEvent) error {
	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("failed to append escrow event %s for booking %s: %w",
			event.EventType, event.BookingID, err)
	}
	return nil
}

// EventsForBooking returns the booking's full event sequence in execution
// order.
func (l *Ledger) EventsForBooking(ctx context.Context, bookingID string) ([]model.EscrowEvent, error) {
	var events []model.EscrowEvent
	err := l.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("executed_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load escrow events for booking %s: %w", bookingID, err)
	}
	return events, nil
}

// HasEventType reports whether at least one event of the given type exists
// for the booking.
func (l *Ledger) HasEventType(ctx context.Context, bookingID string, eventType model.EscrowEventType) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&model.EscrowEvent{}).
		Where("booking_id = ? AND event_type = ?", bookingID, eventType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkProviderOutcome records the gateway's asynchronous verdict on the
// event carrying the given transaction reference. This is the one sanctioned
// write to an existing row: it fills in confirmation metadata, never the
// financial facts.
func (l *Ledger) MarkProviderOutcome(ctx context.Context, transactionReference, outcome string, raw json.RawMessage) error {
	payload, err := json.Marshal(map[string]any{
		"outcome":    outcome,
		"raw":        raw,
		"receivedAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	res := l.db.WithContext(ctx).
		Model(&model.EscrowEvent{}).
		Where("transaction_reference = ?", transactionReference).
		Update("provider_response", datatypes.JSON(payload))
	if res.Error != nil {
		return fmt.Errorf("failed to mark provider outcome for %s: %w", transactionReference, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no escrow event with transaction reference %s", transactionReference)
	}
	return nil
}

// Position is the derived fund disposition of one booking: a fold over its
// event sequence. The Payment row's flags must always agree with it.
type Position struct {
	HeldCents               int64
	ReleasedToRealtorCents  int64
	RefundedToCustomerCents int64
	DepositHeld             bool
}

// PositionForBooking folds the booking's events into its current position.
func (l *Ledger) PositionForBooking(ctx context.Context, bookingID string) (Position, error) {
	events, err := l.EventsForBooking(ctx, bookingID)
	if err != nil {
		return Position{}, err
	}
	return Fold(events), nil
}

// Fold reduces an event sequence to the funds currently held, released, and
// refunded. Exposed separately so callers holding events already can project
// without a second query.
func Fold(events []model.EscrowEvent) Position {
	var p Position
	for _, ev := range events {
		switch ev.EventType {
		case model.EventHoldRoomFee, model.EventPayBalanceFromCustomer:
			p.HeldCents += ev.AmountCents
		case model.EventHoldSecurityDeposit:
			p.HeldCents += ev.AmountCents
			p.DepositHeld = true
		case model.EventReleaseRoomFeeSplit, model.EventRefundPartialToRealtor:
			p.HeldCents -= ev.AmountCents
			p.ReleasedToRealtorCents += ev.AmountCents
		case model.EventPayRealtorFromDeposit:
			p.HeldCents -= ev.AmountCents
			p.ReleasedToRealtorCents += ev.AmountCents
			p.DepositHeld = false
		case model.EventReleaseDepositToCustomer:
			p.HeldCents -= ev.AmountCents
			p.RefundedToCustomerCents += ev.AmountCents
			p.DepositHeld = false
		case model.EventRefundRoomFeeToCustomer, model.EventRefundPartialToCustomer:
			p.HeldCents -= ev.AmountCents
			p.RefundedToCustomerCents += ev.AmountCents
		}
	}
	return p
}
