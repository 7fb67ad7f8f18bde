package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shortlet-escrow-backend/internal/escrow"
	"shortlet-escrow-backend/internal/lifecycle"
)

// actorFrom resolves the acting identity for manual transitions. The
// surrounding application authenticates; the engine only records who acted.
func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor-Id"); actor != "" {
		return actor
	}
	return "api"
}

// writeLifecycleError maps engine errors onto HTTP statuses. Precondition
// violations are the caller's problem to explain, not server faults.
func (h *Handler) writeLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
	case errors.Is(err, lifecycle.ErrPrecondition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("lifecycle operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// PostCheckIn handles POST /api/bookings/:booking_id/check-in.
func (h *Handler) PostCheckIn(c *gin.Context) {
	result, err := h.lifecycle.ConfirmCheckIn(c.Request.Context(), c.Param("booking_id"), actorFrom(c))
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PostCheckout handles POST /api/bookings/:booking_id/checkout.
func (h *Handler) PostCheckout(c *gin.Context) {
	result, err := h.lifecycle.Checkout(c.Request.Context(), c.Param("booking_id"), actorFrom(c))
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PostCancel handles POST /api/bookings/:booking_id/cancel.
func (h *Handler) PostCancel(c *gin.Context) {
	if err := h.lifecycle.Cancel(c.Request.Context(), c.Param("booking_id"), actorFrom(c)); err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// PostReleaseRoomFee handles POST /api/bookings/:booking_id/release-room-fee.
func (h *Handler) PostReleaseRoomFee(c *gin.Context) {
	if err := h.lifecycle.ReleaseRoomFee(c.Request.Context(), c.Param("booking_id"), actorFrom(c)); err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

// escrowViewResponse is the audit view of one booking's funds.
type escrowViewResponse struct {
	BookingID string          `json:"bookingId"`
	Events    any             `json:"events"`
	Position  escrow.Position `json:"position"`
}

// GetEscrowView handles GET /api/bookings/:booking_id/escrow.
func (h *Handler) GetEscrowView(c *gin.Context) {
	bookingID := c.Param("booking_id")

	events, err := h.ledger.EventsForBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load escrow events"})
		return
	}

	c.JSON(http.StatusOK, escrowViewResponse{
		BookingID: bookingID,
		Events:    events,
		Position:  escrow.Fold(events),
	})
}
