package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"shortlet-escrow-backend/config"
	"shortlet-escrow-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/bookings/:booking_id/check-in", h.PostCheckIn)
		api.POST("/bookings/:booking_id/checkout", h.PostCheckout)
		api.POST("/bookings/:booking_id/cancel", h.PostCancel)
		api.POST("/bookings/:booking_id/release-room-fee", h.PostReleaseRoomFee)

		api.GET("/bookings/:booking_id/escrow", caching, h.GetEscrowView)

		api.POST("/bookings/:booking_id/disputes", h.PostOpenDispute)
		api.POST("/disputes/:dispute_id/resolve", h.PostResolveDispute)

		api.POST("/webhooks/payment", h.PostPaymentWebhook)
	}

	return r
}
