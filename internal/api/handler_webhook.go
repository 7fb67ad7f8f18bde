package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// webhookClaimType is the dedupe event type for inbound payment webhooks;
// the scope key is the provider's event ID.
const webhookClaimType = "payment.webhook"

// paymentWebhookRequest is the provider's event envelope. Providers deliver
// at least once, so the handler must treat redelivery as a no-op.
type paymentWebhookRequest struct {
	EventID   string          `json:"eventId" binding:"required"`
	Type      string          `json:"type" binding:"required"`
	BookingID string          `json:"bookingId"`
	Reference string          `json:"reference"`
	Raw       json.RawMessage `json:"raw"`
}

// PostPaymentWebhook handles POST /api/webhooks/payment.
//
// The claim guard makes ingestion idempotent: the first delivery of an event
// ID wins, every later delivery is acknowledged without effect. Duplicates
// must get a 200, otherwise the provider retries them forever. The inverse
// invariant also holds: a delivery answered with a non-2xx surrenders its
// claim first, so the provider's retry of a transiently failed event is a
// fresh attempt rather than a swallowed duplicate.
func (h *Handler) PostPaymentWebhook(c *gin.Context) {
	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	won, err := h.claims.TryClaim(c.Request.Context(), req.EventID, webhookClaimType)
	if err != nil {
		h.logger.Error("webhook claim failed", zap.String("event_id", req.EventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !won {
		c.JSON(http.StatusOK, gin.H{"duplicate": true})
		return
	}

	switch req.Type {
	case "charge.succeeded":
		if req.BookingID == "" {
			h.releaseWebhookClaim(c, req.EventID)
			c.JSON(http.StatusBadRequest, gin.H{"error": "bookingId is required for charge events"})
			return
		}
		if err := h.lifecycle.ConfirmPaymentHold(c.Request.Context(), req.BookingID, req.Reference); err != nil {
			h.releaseWebhookClaim(c, req.EventID)
			h.writeLifecycleError(c, err)
			return
		}

	case "transfer.confirmed", "transfer.failed", "transfer.reversed":
		outcome := map[string]string{
			"transfer.confirmed": "transferConfirmed",
			"transfer.failed":    "transferFailed",
			"transfer.reversed":  "transferReversed",
		}[req.Type]
		if err := h.ledger.MarkProviderOutcome(c.Request.Context(), req.Reference, outcome, req.Raw); err != nil {
			// The escrow event may simply not be committed yet; hand the
			// claim back and let the provider retry.
			h.logger.Warn("failed to record provider outcome",
				zap.String("event_id", req.EventID),
				zap.String("reference", req.Reference),
				zap.Error(err))
			h.releaseWebhookClaim(c, req.EventID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "provider outcome not recorded"})
			return
		}

	default:
		h.logger.Info("ignoring webhook event type",
			zap.String("event_id", req.EventID),
			zap.String("type", req.Type))
	}

	c.JSON(http.StatusOK, gin.H{"processed": true})
}

func (h *Handler) releaseWebhookClaim(c *gin.Context, eventID string) {
	if err := h.claims.Release(c.Request.Context(), eventID, webhookClaimType); err != nil {
		h.logger.Error("failed to release webhook claim",
			zap.String("event_id", eventID), zap.Error(err))
	}
}
