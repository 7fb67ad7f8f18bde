package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/transfer"
)

// StripeGateway implements PaymentGateway on Stripe charges and connected
// account transfers.
type StripeGateway struct{}

// NewStripeGateway configures the Stripe client and returns the gateway.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

// Refund issues a (possibly partial) refund against the original charge.
func (g *StripeGateway) Refund(ctx context.Context, providerRef string, amountCents int64, currency string) (*ProviderResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerRef),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe refund for %s failed: %w", providerRef, err)
	}
	return &ProviderResult{
		Reference: r.ID,
		Status:    string(r.Status),
	}, nil
}

// Transfer pays out to the realtor's connected account.
func (g *StripeGateway) Transfer(ctx context.Context, destination string, amountCents int64, currency string) (*ProviderResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(strings.ToLower(currency)),
		Destination: stripe.String(destination),
	}
	params.Context = ctx

	tr, err := transfer.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe transfer to %s failed: %w", destination, err)
	}
	return &ProviderResult{
		Reference: tr.ID,
		Status:    "pending",
	}, nil
}
