package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"shortlet-escrow-backend/internal/model"
)

// Guard is the generic claim-once primitive. TryClaim inserts a row under a
// unique (scope_key, event_type) constraint; whoever gets the insert through
// owns the event. Reminder jobs key claims by booking ID, webhook ingestion
// by provider event ID.
type Guard struct {
	db *gorm.DB
}

// NewGuard creates a claim guard over the given database handle.
func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db}
}

// TryClaim atomically claims (scopeKey, eventType). It returns true when
// this call won the claim, false when the event was already claimed. A
// duplicate-key collision is a normal outcome, not an error; anything else
// propagates.
func (g *Guard) TryClaim(ctx context.Context, scopeKey, eventType string) (bool, error) {
	claim := model.EventClaim{
		ScopeKey:  scopeKey,
		EventType: eventType,
		ClaimedAt: time.Now().UTC(),
	}
	err := g.db.WithContext(ctx).Create(&claim).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return false, fmt.Errorf("failed to claim %s/%s: %w", scopeKey, eventType, err)
}

// Release surrenders a claim so the event can be claimed again. Callers use
// it when the work behind a won claim failed before any side effect happened;
// a claim must never be released once the side effect may have occurred.
func (g *Guard) Release(ctx context.Context, scopeKey, eventType string) error {
	err := g.db.WithContext(ctx).
		Where("scope_key = ? AND event_type = ?", scopeKey, eventType).
		Delete(&model.EventClaim{}).Error
	if err != nil {
		return fmt.Errorf("failed to release claim %s/%s: %w", scopeKey, eventType, err)
	}
	return nil
}

// Claimed reports whether (scopeKey, eventType) has already been claimed,
// without claiming it.
func (g *Guard) Claimed(ctx context.Context, scopeKey, eventType string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&model.EventClaim{}).
		Where("scope_key = ? AND event_type = ?", scopeKey, eventType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
