package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shortlet-escrow-backend/internal/gateway"
	"shortlet-escrow-backend/internal/model"
	"shortlet-escrow-backend/internal/notification"
)

// Movement claim types. The scope key is the booking ID and there is one
// claim per fund pot, so each pot reaches the provider at most once no matter
// how many callers race past the precondition reads (a manual API call
// against a job tick, or two job runs overlapping after a stale-lock
// takeover).
const (
	claimRoomFeeMove    = "ROOM_FEE_MOVE"
	claimDepositRelease = "DEPOSIT_RELEASE"
)

// claimMovement takes the movement claim for a booking's fund pot. A lost
// claim surfaces as a precondition violation, the same "someone else got
// there first" outcome as a lost guarded update.
func (s *Service) claimMovement(ctx context.Context, op, bookingID, claimType string) error {
	won, err := s.claims.TryClaim(ctx, bookingID, claimType)
	if err != nil {
		return err
	}
	if !won {
		return precondition(op, bookingID, "fund movement already claimed")
	}
	return nil
}

// releaseMovement hands a movement claim back. Only valid while no money has
// moved: once a gateway call may have gone through, the claim stays held even
// if the local transaction fails, so a retry can never pay out twice.
func (s *Service) releaseMovement(ctx context.Context, bookingID, claimType string) {
	if err := s.claims.Release(ctx, bookingID, claimType); err != nil {
		s.logger.Error("failed to release movement claim",
			zap.String("booking_id", bookingID),
			zap.String("claim", claimType),
			zap.Error(err))
	}
}

func providerResponseJSON(result *gateway.ProviderResult) []byte {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	return raw
}

// CompleteAndRefundDeposit refunds the security deposit to the guest and
// completes the booking. Preconditions: checked out, past the eligibility
// time, deposit still in escrow, and no blocking SECURITY_DEPOSIT dispute.
// The movement claim is taken before the gateway refund, so callers racing
// past the precondition reads reach the provider at most once; the guarded
// payment update keeps the local flags consistent with the ledger.
func (s *Service) CompleteAndRefundDeposit(ctx context.Context, bookingID, triggeredBy string) error {
	const op = "completeAndRefundDeposit"

	booking, err := loadBooking(s.db.WithContext(ctx), bookingID)
	if err != nil {
		return err
	}
	if booking.StayStatus != model.StayCheckedOut {
		return precondition(op, bookingID, fmt.Sprintf("stay status is %s", booking.StayStatus))
	}
	if booking.DepositRefundEligibleAt == nil || booking.DepositRefundEligibleAt.After(time.Now().UTC()) {
		return precondition(op, bookingID, "deposit not yet eligible for refund")
	}
	if booking.Payment == nil || !booking.Payment.DepositInEscrow {
		return precondition(op, bookingID, "deposit is not in escrow")
	}

	blocked, err := s.disputes.HasBlockingDispute(ctx, bookingID, model.DisputeSecurityDeposit)
	if err != nil {
		return err
	}
	if blocked {
		return precondition(op, bookingID, "open security-deposit dispute")
	}

	if err := s.claimMovement(ctx, op, bookingID, claimDepositRelease); err != nil {
		return err
	}

	providerResult, err := s.gateway.Refund(ctx, booking.Payment.ProviderRef, booking.SecurityDepositCents, booking.Currency)
	if err != nil {
		// Nothing moved; surrender the claim so a later retry can refund.
		s.releaseMovement(ctx, bookingID, claimDepositRelease)
		return fmt.Errorf("deposit refund failed for booking %s: %w", bookingID, err)
	}

	var intents []notification.Intent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		res := tx.Model(&model.Payment{}).
			Where("booking_id = ? AND deposit_in_escrow = ?", bookingID, true).
			Updates(map[string]any{
				"deposit_in_escrow":   false,
				"deposit_refunded":    true,
				"refund_amount_cents": booking.SecurityDepositCents,
				"refunded_at":         now,
				"status":              model.PaymentCompleted,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update payment for booking %s: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return precondition(op, bookingID, "deposit already released")
		}

		if err := tx.Model(&model.Booking{}).
			Where("id = ?", bookingID).
			Update("status", model.BookingCompleted).Error; err != nil {
			return fmt.Errorf("failed to complete booking %s: %w", bookingID, err)
		}

		event := &model.EscrowEvent{
			BookingID:            bookingID,
			EventType:            model.EventReleaseDepositToCustomer,
			AmountCents:          booking.SecurityDepositCents,
			Currency:             booking.Currency,
			FromParty:            model.PartyPlatform,
			ToParty:              model.PartyCustomer,
			ExecutedAt:           now,
			TransactionReference: providerResult.Reference,
			ProviderResponse:     providerResponseJSON(providerResult),
			TriggeredBy:          triggeredBy,
		}
		if err := s.ledger.Append(tx, event); err != nil {
			return err
		}

		intents = append(intents, notification.Intent{
			UserID:    booking.GuestID,
			EventType: notification.EventDepositRefunded,
			Payload: map[string]string{
				"bookingId":   bookingID,
				"amountCents": fmt.Sprintf("%d", booking.SecurityDepositCents),
			},
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.dispatch(intents)
	s.logger.Info("deposit refunded and booking completed",
		zap.String("booking_id", bookingID),
		zap.Int64("amount_cents", booking.SecurityDepositCents),
		zap.String("triggered_by", triggeredBy))
	return nil
}

// ReleaseRoomFee pays the room fee out of escrow to the realtor once the
// guest dispute window has closed. Blocked by general and property-condition
// disputes; the deposit-specific guard does not apply here.
func (s *Service) ReleaseRoomFee(ctx context.Context, bookingID, actor string) error {
	const op = "releaseRoomFee"

	booking, err := loadBooking(s.db.WithContext(ctx), bookingID)
	if err != nil {
		return err
	}
	if booking.CheckinConfirmedAt == nil {
		return precondition(op, bookingID, "guest has not checked in")
	}
	if booking.DisputeWindowClosesAt == nil || booking.DisputeWindowClosesAt.After(time.Now().UTC()) {
		return precondition(op, bookingID, "guest dispute window still open")
	}
	if booking.PayoutStatus == model.PayoutPaid {
		return precondition(op, bookingID, "room fee already released")
	}

	blocked, err := s.disputes.HasBlockingDispute(ctx, bookingID,
		model.DisputeBookingGeneral, model.DisputePropertyCondition)
	if err != nil {
		return err
	}
	if blocked {
		return precondition(op, bookingID, "open dispute on booking")
	}

	if err := s.claimMovement(ctx, op, bookingID, claimRoomFeeMove); err != nil {
		return err
	}

	providerResult, err := s.gateway.Transfer(ctx, booking.RealtorID, booking.TotalPriceCents, booking.Currency)
	if err != nil {
		s.releaseMovement(ctx, bookingID, claimRoomFeeMove)
		return fmt.Errorf("room fee transfer failed for booking %s: %w", bookingID, err)
	}

	var intents []notification.Intent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		res := tx.Model(&model.Booking{}).
			Where("id = ? AND payout_status <> ?", bookingID, model.PayoutPaid).
			Update("payout_status", model.PayoutPaid)
		if res.Error != nil {
			return fmt.Errorf("failed to update payout status for booking %s: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return precondition(op, bookingID, "room fee already released")
		}

		if err := tx.Model(&model.Payment{}).
			Where("booking_id = ? AND status = ?", bookingID, model.PaymentHeld).
			Update("status", model.PaymentPartiallyReleased).Error; err != nil {
			return fmt.Errorf("failed to update payment status for booking %s: %w", bookingID, err)
		}

		event := &model.EscrowEvent{
			BookingID:            bookingID,
			EventType:            model.EventReleaseRoomFeeSplit,
			AmountCents:          booking.TotalPriceCents,
			Currency:             booking.Currency,
			FromParty:            model.PartyPlatform,
			ToParty:              model.PartyRealtor,
			ExecutedAt:           now,
			TransactionReference: providerResult.Reference,
			ProviderResponse:     providerResponseJSON(providerResult),
			TriggeredBy:          actor,
		}
		if err := s.ledger.Append(tx, event); err != nil {
			return err
		}

		intents = append(intents, notification.Intent{
			UserID:    booking.RealtorID,
			EventType: notification.EventRoomFeeReleased,
			Payload: map[string]string{
				"bookingId":   bookingID,
				"amountCents": fmt.Sprintf("%d", booking.TotalPriceCents),
			},
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.dispatch(intents)
	s.logger.Info("room fee released to realtor",
		zap.String("booking_id", bookingID),
		zap.Int64("amount_cents", booking.TotalPriceCents),
		zap.String("actor", actor))
	return nil
}

// Cancel cancels a booking before check-in and refunds the room fee to the
// guest.
func (s *Service) Cancel(ctx context.Context, bookingID, actor string) error {
	const op = "cancel"

	booking, err := loadBooking(s.db.WithContext(ctx), bookingID)
	if err != nil {
		return err
	}
	if booking.StayStatus != model.StayNotStarted {
		return precondition(op, bookingID, "cancellation is only possible before check-in")
	}
	switch booking.Status {
	case model.BookingPending, model.BookingActive:
	default:
		return precondition(op, bookingID, fmt.Sprintf("booking status is %s", booking.Status))
	}

	var providerResult *gateway.ProviderResult
	if booking.Payment != nil && booking.Payment.Status == model.PaymentHeld {
		// The room fee pot shares a claim with ReleaseRoomFee, so a
		// cancellation refund and a realtor payout can never both happen.
		if err := s.claimMovement(ctx, op, bookingID, claimRoomFeeMove); err != nil {
			return err
		}
		providerResult, err = s.gateway.Refund(ctx, booking.Payment.ProviderRef, booking.TotalPriceCents, booking.Currency)
		if err != nil {
			s.releaseMovement(ctx, bookingID, claimRoomFeeMove)
			return fmt.Errorf("cancellation refund failed for booking %s: %w", bookingID, err)
		}
	}

	var intents []notification.Intent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		res := tx.Model(&model.Booking{}).
			Where("id = ? AND stay_status = ? AND status IN ?",
				bookingID, model.StayNotStarted,
				[]model.BookingStatus{model.BookingPending, model.BookingActive}).
			Update("status", model.BookingCancelled)
		if res.Error != nil {
			return fmt.Errorf("failed to cancel booking %s: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return precondition(op, bookingID, "booking already transitioned")
		}

		if providerResult != nil {
			if err := tx.Model(&model.Payment{}).
				Where("booking_id = ?", bookingID).
				Updates(map[string]any{
					"status":              model.PaymentCompleted,
					"refund_amount_cents": booking.TotalPriceCents,
					"refunded_at":         now,
				}).Error; err != nil {
				return fmt.Errorf("failed to update payment for booking %s: %w", bookingID, err)
			}

			event := &model.EscrowEvent{
				BookingID:            bookingID,
				EventType:            model.EventRefundRoomFeeToCustomer,
				AmountCents:          booking.TotalPriceCents,
				Currency:             booking.Currency,
				FromParty:            model.PartyPlatform,
				ToParty:              model.PartyCustomer,
				ExecutedAt:           now,
				TransactionReference: providerResult.Reference,
				ProviderResponse:     providerResponseJSON(providerResult),
				TriggeredBy:          actor,
			}
			if err := s.ledger.Append(tx, event); err != nil {
				return err
			}
		}

		payload := map[string]string{"bookingId": bookingID}
		intents = append(intents,
			notification.Intent{UserID: booking.GuestID, EventType: notification.EventBookingCancelled, Payload: payload},
			notification.Intent{UserID: booking.RealtorID, EventType: notification.EventBookingCancelled, Payload: payload},
		)
		return nil
	})
	if err != nil {
		return err
	}

	s.dispatch(intents)
	s.logger.Info("booking cancelled",
		zap.String("booking_id", bookingID), zap.String("actor", actor))
	return nil
}

// ConfirmPaymentHold records that the provider captured the guest's room fee
// and the funds now sit in escrow. Invoked by webhook ingestion; idempotent
// by ledger content, so at-least-once webhook delivery is safe even past the
// claim guard.
func (s *Service) ConfirmPaymentHold(ctx context.Context, bookingID, providerRef string) error {
	booking, err := loadBooking(s.db.WithContext(ctx), bookingID)
	if err != nil {
		return err
	}

	held, err := s.ledger.HasEventType(ctx, bookingID, model.EventHoldRoomFee)
	if err != nil {
		return err
	}
	if held {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if booking.Payment == nil {
			payment := &model.Payment{
				BookingID:   bookingID,
				Status:      model.PaymentHeld,
				ProviderRef: providerRef,
			}
			if err := tx.Create(payment).Error; err != nil {
				return fmt.Errorf("failed to create payment for booking %s: %w", bookingID, err)
			}
		} else if err := tx.Model(&model.Payment{}).
			Where("id = ?", booking.Payment.ID).
			Updates(map[string]any{"status": model.PaymentHeld, "provider_ref": providerRef}).Error; err != nil {
			return fmt.Errorf("failed to update payment for booking %s: %w", bookingID, err)
		}

		if booking.Status == model.BookingPending {
			if err := tx.Model(&model.Booking{}).
				Where("id = ? AND status = ?", bookingID, model.BookingPending).
				Update("status", model.BookingActive).Error; err != nil {
				return fmt.Errorf("failed to activate booking %s: %w", bookingID, err)
			}
		}

		event := &model.EscrowEvent{
			BookingID:            bookingID,
			EventType:            model.EventHoldRoomFee,
			AmountCents:          booking.TotalPriceCents,
			Currency:             booking.Currency,
			FromParty:            model.PartyCustomer,
			ToParty:              model.PartyPlatform,
			ExecutedAt:           time.Now().UTC(),
			TransactionReference: providerRef,
			TriggeredBy:          "webhook",
		}
		return s.ledger.Append(tx, event)
	})
}

// SettleDepositDispute applies an agreed split of the security deposit after
// a SECURITY_DEPOSIT dispute resolves: part to the realtor for damages, the
// remainder back to the guest. Either share may be zero.
func (s *Service) SettleDepositDispute(ctx context.Context, bookingID string, toRealtorCents int64, triggeredBy string) error {
	const op = "settleDepositDispute"

	booking, err := loadBooking(s.db.WithContext(ctx), bookingID)
	if err != nil {
		return err
	}
	if booking.Payment == nil || !booking.Payment.DepositInEscrow {
		return precondition(op, bookingID, "deposit is not in escrow")
	}
	if toRealtorCents < 0 || toRealtorCents > booking.SecurityDepositCents {
		return precondition(op, bookingID, "split exceeds the deposit")
	}

	blocked, err := s.disputes.HasBlockingDispute(ctx, bookingID, model.DisputeSecurityDeposit)
	if err != nil {
		return err
	}
	if blocked {
		return precondition(op, bookingID, "dispute must be resolved before settlement")
	}

	toCustomerCents := booking.SecurityDepositCents - toRealtorCents

	// Shares the deposit claim with CompleteAndRefundDeposit: after a dispute
	// resolves, an admin settlement racing the refund job moves the pot once.
	if err := s.claimMovement(ctx, op, bookingID, claimDepositRelease); err != nil {
		return err
	}

	var realtorResult, customerResult *gateway.ProviderResult
	moved := false
	if toRealtorCents > 0 {
		realtorResult, err = s.gateway.Transfer(ctx, booking.RealtorID, toRealtorCents, booking.Currency)
		if err != nil {
			s.releaseMovement(ctx, bookingID, claimDepositRelease)
			return fmt.Errorf("dispute payout transfer failed for booking %s: %w", bookingID, err)
		}
		moved = true
	}
	if toCustomerCents > 0 {
		customerResult, err = s.gateway.Refund(ctx, booking.Payment.ProviderRef, toCustomerCents, booking.Currency)
		if err != nil {
			if !moved {
				s.releaseMovement(ctx, bookingID, claimDepositRelease)
			}
			return fmt.Errorf("dispute partial refund failed for booking %s: %w", bookingID, err)
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		res := tx.Model(&model.Payment{}).
			Where("booking_id = ? AND deposit_in_escrow = ?", bookingID, true).
			Updates(map[string]any{
				"deposit_in_escrow":   false,
				"deposit_refunded":    toCustomerCents > 0,
				"refund_amount_cents": toCustomerCents,
				"refunded_at":         now,
				"status":              model.PaymentCompleted,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update payment for booking %s: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return precondition(op, bookingID, "deposit already released")
		}

		if err := tx.Model(&model.Booking{}).
			Where("id = ?", bookingID).
			Update("status", model.BookingCompleted).Error; err != nil {
			return fmt.Errorf("failed to complete booking %s: %w", bookingID, err)
		}

		if toRealtorCents > 0 {
			event := &model.EscrowEvent{
				BookingID:            bookingID,
				EventType:            model.EventPayRealtorFromDeposit,
				AmountCents:          toRealtorCents,
				Currency:             booking.Currency,
				FromParty:            model.PartyPlatform,
				ToParty:              model.PartyRealtor,
				ExecutedAt:           now,
				TransactionReference: realtorResult.Reference,
				ProviderResponse:     providerResponseJSON(realtorResult),
				Notes:                "security deposit split per dispute resolution",
				TriggeredBy:          triggeredBy,
			}
			if err := s.ledger.Append(tx, event); err != nil {
				return err
			}
		}
		if toCustomerCents > 0 {
			event := &model.EscrowEvent{
				BookingID:            bookingID,
				EventType:            model.EventRefundPartialToCustomer,
				AmountCents:          toCustomerCents,
				Currency:             booking.Currency,
				FromParty:            model.PartyPlatform,
				ToParty:              model.PartyCustomer,
				ExecutedAt:           now,
				TransactionReference: customerResult.Reference,
				ProviderResponse:     providerResponseJSON(customerResult),
				Notes:                "security deposit remainder per dispute resolution",
				TriggeredBy:          triggeredBy,
			}
			if err := s.ledger.Append(tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}
