package gateway

import "context"

// ProviderResult is the gateway's confirmation metadata for one fund
// movement. It is stored verbatim on the escrow event so the ledger stays
// reconcilable against the provider's records.
type ProviderResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Raw       string `json:"raw,omitempty"`
}

// PaymentGateway is the adapter boundary to the payment provider. The engine
// never talks to a provider SDK directly; everything goes through this
// interface so tests can substitute a fake and a provider swap stays local
// to this package.
type PaymentGateway interface {
	// Refund returns money from escrow to the customer's original payment
	// method, identified by the charge reference.
	Refund(ctx context.Context, providerRef string, amountCents int64, currency string) (*ProviderResult, error)

	// Transfer moves money from escrow to a connected account (the
	// realtor's payout destination).
	Transfer(ctx context.Context, destination string, amountCents int64, currency string) (*ProviderResult, error)
}
