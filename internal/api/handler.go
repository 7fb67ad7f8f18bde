package api

import (
	"go.uber.org/zap"

	"shortlet-escrow-backend/internal/dedupe"
	"shortlet-escrow-backend/internal/dispute"
	"shortlet-escrow-backend/internal/escrow"
	"shortlet-escrow-backend/internal/lifecycle"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	lifecycle *lifecycle.Service
	ledger    *escrow.Ledger
	disputes  *dispute.Guard
	claims    *dedupe.Guard
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *lifecycle.Service, ledger *escrow.Ledger,
	disputes *dispute.Guard, claims *dedupe.Guard, logger *zap.Logger) *Handler {
	return &Handler{
		lifecycle: svc,
		ledger:    ledger,
		disputes:  disputes,
		claims:    claims,
		logger:    logger,
	}
}
