package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shortlet-escrow-backend/internal/model"
)

type openDisputeRequest struct {
	Subject model.DisputeSubject `json:"subject" binding:"required"`
	Reason  string               `json:"reason"`
}

// PostOpenDispute handles POST /api/bookings/:booking_id/disputes.
func (h *Handler) PostOpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Subject {
	case model.DisputeSecurityDeposit, model.DisputeBookingGeneral, model.DisputePropertyCondition:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown dispute subject"})
		return
	}

	d, err := h.disputes.Open(c.Request.Context(), c.Param("booking_id"), req.Subject, actorFrom(c), req.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, d)
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution" binding:"required"`

	// For SECURITY_DEPOSIT disputes: how much of the deposit the realtor
	// keeps. The remainder is refunded to the guest.
	BookingID      string `json:"bookingId"`
	ToRealtorCents *int64 `json:"toRealtorCents"`
}

// PostResolveDispute handles POST /api/disputes/:dispute_id/resolve.
func (h *Handler) PostResolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.disputes.Resolve(c.Request.Context(), c.Param("dispute_id"), req.Resolution); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	// An agreed deposit split settles immediately after resolution.
	if req.ToRealtorCents != nil && req.BookingID != "" {
		if err := h.lifecycle.SettleDepositDispute(c.Request.Context(), req.BookingID, *req.ToRealtorCents, actorFrom(c)); err != nil {
			h.writeLifecycleError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"resolved": true})
}
