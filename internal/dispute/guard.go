package dispute

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"shortlet-escrow-backend/internal/model"
)

// Guard answers the one question automation asks before moving funds: is
// there an active dispute on this booking touching this subject? The check
// is subject-scoped: a general dispute does not block a deposit-specific
// automation and vice versa.
type Guard struct {
	db *gorm.DB
}

// NewGuard creates a dispute guard over the given database handle.
func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db}
}

// HasBlockingDispute reports whether the booking has a dispute in OPEN,
// AWAITING_RESPONSE, or ESCALATED status on any of the given subjects.
func (g *Guard) HasBlockingDispute(ctx context.Context, bookingID string, subjects ...model.DisputeSubject) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&model.Dispute{}).
		Where("booking_id = ? AND subject IN ? AND status IN ?",
			bookingID, subjects, model.BlockingDisputeStatuses).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("dispute lookup failed for booking %s: %w", bookingID, err)
	}
	return count > 0, nil
}

// Open raises a dispute and marks the booking DISPUTE_OPENED. The booking
// status is a lifecycle summary only; fund-movement decisions always go
// through HasBlockingDispute against the dispute rows themselves.
func (g *Guard) Open(ctx context.Context, bookingID string, subject model.DisputeSubject, openedBy, reason string) (*model.Dispute, error) {
	d := &model.Dispute{
		BookingID: bookingID,
		Subject:   subject,
		Status:    model.DisputeOpen,
		OpenedBy:  openedBy,
		Reason:    reason,
	}
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var booking model.Booking
		if err := tx.First(&booking, "id = ?", bookingID).Error; err != nil {
			return err
		}
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		return tx.Model(&model.Booking{}).
			Where("id = ?", bookingID).
			Update("status", model.BookingDisputeOpened).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open dispute for booking %s: %w", bookingID, err)
	}
	return d, nil
}

// Resolve closes a dispute. Fund splits agreed during resolution are applied
// separately by the lifecycle service; Resolve only flips the dispute row so
// the next automation cycle stops skipping the booking.
func (g *Guard) Resolve(ctx context.Context, disputeID, resolution string) error {
	now := time.Now().UTC()
	res := g.db.WithContext(ctx).
		Model(&model.Dispute{}).
		Where("id = ? AND status IN ?", disputeID, model.BlockingDisputeStatuses).
		Updates(map[string]any{
			"status":      model.DisputeResolved,
			"resolution":  resolution,
			"resolved_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve dispute %s: %w", disputeID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("dispute %s is not open", disputeID)
	}
	return nil
}
