package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shortlet-escrow-backend/config"
	"shortlet-escrow-backend/internal/dedupe"
	"shortlet-escrow-backend/internal/dispute"
	"shortlet-escrow-backend/internal/escrow"
	"shortlet-escrow-backend/internal/gateway"
	"shortlet-escrow-backend/internal/model"
	"shortlet-escrow-backend/internal/notification"
)

// Service owns every booking status / stay-status transition and its side
// effects. Each operation runs inside a single transaction covering the
// booking/payment updates and the escrow ledger appends; notification
// intents collected during the transaction are dispatched only after commit,
// so a failed transition never leaks a notification and a failed
// notification never rolls back a transition.
type Service struct {
	db       *gorm.DB
	ledger   *escrow.Ledger
	disputes *dispute.Guard
	claims   *dedupe.Guard
	gateway  gateway.PaymentGateway
	notifier notification.Notifier
	cfg      config.LifecycleConfig
	logger   *zap.Logger
}

// NewService wires the state machine to its collaborators.
func NewService(db *gorm.DB, ledger *escrow.Ledger, disputes *dispute.Guard,
	claims *dedupe.Guard, gw gateway.PaymentGateway, notifier notification.Notifier,
	cfg config.LifecycleConfig, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		ledger:   ledger,
		disputes: disputes,
		claims:   claims,
		gateway:  gw,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// CheckInResult is returned by both the manual and the automated check-in
// confirmation.
type CheckInResult struct {
	BookingID             string     `json:"bookingId"`
	CheckInTime           *time.Time `json:"checkInTime"`
	DisputeWindowClosesAt *time.Time `json:"disputeWindowClosesAt"`
	AlreadyCheckedIn      bool       `json:"alreadyCheckedIn"`
}

// loadBooking fetches a booking with its payment inside the given handle.
func loadBooking(tx *gorm.DB, bookingID string) (*model.Booking, error) {
	var booking model.Booking
	err := tx.Preload("Payment").First(&booking, "id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	return &booking, nil
}

// dispatch fires the collected notification intents. Best-effort by design.
func (s *Service) dispatch(intents []notification.Intent) {
	for _, in := range intents {
		s.notifier.Notify(in.UserID, in.EventType, in.Payload)
	}
}

// ConfirmCheckIn marks the guest as checked in and opens the guest dispute
// window. Calling it on an already-checked-in booking is a no-op, not an
// error: the result carries AlreadyCheckedIn=true and the window computed at
// the original check-in. Idempotency is by booking state, not call count.
func (s *Service) ConfirmCheckIn(ctx context.Context, bookingID, actor string) (*CheckInResult, error) {
	const op = "confirmCheckIn"

	var result *CheckInResult
	var intents []notification.Intent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := loadBooking(tx, bookingID)
		if err != nil {
			return err
		}

		if booking.StayStatus != model.StayNotStarted {
			result = &CheckInResult{
				BookingID:             booking.ID,
				CheckInTime:           booking.CheckInTime,
				DisputeWindowClosesAt: booking.DisputeWindowClosesAt,
				AlreadyCheckedIn:      true,
			}
			return nil
		}
		if booking.Status != model.BookingActive {
			return precondition(op, bookingID, fmt.Sprintf("booking status is %s", booking.Status))
		}
		if booking.Payment == nil {
			return precondition(op, bookingID, "no payment on record")
		}
		switch booking.Payment.Status {
		case model.PaymentHeld, model.PaymentPartiallyReleased, model.PaymentSettled:
		default:
			return precondition(op, bookingID, fmt.Sprintf("payment status is %s", booking.Payment.Status))
		}

		now := time.Now().UTC()
		windowCloses := now.Add(s.cfg.GuestDisputeWindow)

		// Guarded update: the WHERE clause keeps stay status monotonic even
		// if two callers race past the precondition read.
		res := tx.Model(&model.Booking{}).
			Where("id = ? AND stay_status = ?", bookingID, model.StayNotStarted).
			Updates(map[string]any{
				"stay_status":              model.StayCheckedIn,
				"check_in_time":            now,
				"checkin_confirmed_at":     now,
				"dispute_window_closes_at": windowCloses,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update booking %s: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race; treat as the no-op path.
			fresh, err := loadBooking(tx, bookingID)
			if err != nil {
				return err
			}
			result = &CheckInResult{
				BookingID:             fresh.ID,
				CheckInTime:           fresh.CheckInTime,
				DisputeWindowClosesAt: fresh.DisputeWindowClosesAt,
				AlreadyCheckedIn:      true,
			}
			return nil
		}

		result = &CheckInResult{
			BookingID:             bookingID,
			CheckInTime:           &now,
			DisputeWindowClosesAt: &windowCloses,
		}
		payload := map[string]string{
			"bookingId":             bookingID,
			"disputeWindowClosesAt": windowCloses.Format(time.RFC3339),
		}
		intents = append(intents,
			notification.Intent{UserID: booking.GuestID, EventType: notification.EventCheckInConfirmed, Payload: payload},
			notification.Intent{UserID: booking.RealtorID, EventType: notification.EventCheckInConfirmed, Payload: payload},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(intents)
	s.logger.Info("check-in confirmed",
		zap.String("booking_id", bookingID),
		zap.String("actor", actor),
		zap.Bool("already_checked_in", result.AlreadyCheckedIn))
	return result, nil
}

// AutoConfirmCheckIn is ConfirmCheckIn performed by the automation layer. It
// returns the same result shape, including DisputeWindowClosesAt.
func (s *Service) AutoConfirmCheckIn(ctx context.Context, bookingID string) (*CheckInResult, error) {
	return s.ConfirmCheckIn(ctx, bookingID, "system")
}

// CheckoutResult is returned by Checkout.
type CheckoutResult struct {
	BookingID               string    `json:"bookingId"`
	CheckOutTime            time.Time `json:"checkOutTime"`
	DepositRefundEligibleAt time.Time `json:"depositRefundEligibleAt"`
	RealtorDisputeClosesAt  time.Time `json:"realtorDisputeClosesAt"`
}

// Checkout marks the stay finished, opens the realtor dispute window, and
// records the security deposit as held in escrow pending release. Requires
// an active check-in and no prior checkout.
func (s *Service) Checkout(ctx context.Context, bookingID, actor string) (*CheckoutResult, error) {
	const op = "checkout"

	var result *CheckoutResult
	var intents []notification.Intent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := loadBooking(tx, bookingID)
		if err != nil {
			return err
		}

		if booking.StayStatus != model.StayCheckedIn {
			return precondition(op, bookingID, fmt.Sprintf("stay status is %s", booking.StayStatus))
		}
		if booking.CheckOutTime != nil {
			return precondition(op, bookingID, "checkout time already set")
		}

		now := time.Now().UTC()
		releaseAt := now.Add(s.cfg.RealtorDisputeWindow + s.cfg.DisputeGrace)

		res := tx.Model(&model.Booking{}).
			Where("id = ? AND stay_status = ? AND check_out_time IS NULL", bookingID, model.StayCheckedIn).
			Updates(map[string]any{
				"stay_status":                model.StayCheckedOut,
				"check_out_time":             now,
				"realtor_dispute_closes_at":  releaseAt,
				"deposit_refund_eligible_at": releaseAt,
				"payout_status":              model.PayoutPending,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update booking %s: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return precondition(op, bookingID, "checkout already performed")
		}

		if booking.Payment != nil {
			if err := tx.Model(&model.Payment{}).
				Where("id = ?", booking.Payment.ID).
				Update("deposit_in_escrow", true).Error; err != nil {
				return fmt.Errorf("failed to flag deposit for booking %s: %w", bookingID, err)
			}
		}

		event := &model.EscrowEvent{
			BookingID:   bookingID,
			EventType:   model.EventHoldSecurityDeposit,
			AmountCents: booking.SecurityDepositCents,
			Currency:    booking.Currency,
			FromParty:   model.PartyCustomer,
			ToParty:     model.PartyPlatform,
			ExecutedAt:  now,
			Notes:       fmt.Sprintf("deposit release eligible at %s", releaseAt.Format(time.RFC3339)),
			TriggeredBy: actor,
		}
		if err := s.ledger.Append(tx, event); err != nil {
			return err
		}

		result = &CheckoutResult{
			BookingID:               bookingID,
			CheckOutTime:            now,
			DepositRefundEligibleAt: releaseAt,
			RealtorDisputeClosesAt:  releaseAt,
		}
		payload := map[string]string{
			"bookingId":               bookingID,
			"depositRefundEligibleAt": releaseAt.Format(time.RFC3339),
		}
		intents = append(intents,
			notification.Intent{UserID: booking.GuestID, EventType: notification.EventCheckedOut, Payload: payload},
			notification.Intent{UserID: booking.RealtorID, EventType: notification.EventCheckedOut, Payload: payload},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(intents)
	s.logger.Info("checkout recorded",
		zap.String("booking_id", bookingID),
		zap.String("actor", actor),
		zap.Time("deposit_refund_eligible_at", result.DepositRefundEligibleAt))
	return result, nil
}
