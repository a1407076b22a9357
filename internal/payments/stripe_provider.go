package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/baraholka/api/internal/services"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey string
	// SuccessURL and CancelURL are where checkout returns the user. The
	// Telegram Mini App deep link is the usual target.
	SuccessURL string
	CancelURL  string
	Logger     StripeLogger
	Clock      func() time.Time
	// Sessions overrides the checkout API, used by tests.
	Sessions stripeSessionAPI
}

// StripeProvider mints checkout invoices through Stripe Checkout sessions.
type StripeProvider struct {
	sessions   stripeSessionAPI
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     StripeLogger
}

var _ services.PaymentGateway = (*StripeProvider)(nil)

// NewStripeProvider constructs a StripeProvider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, nil)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions:   sessions,
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// CreateInvoice mints a single-item checkout session for the requested amount.
func (p *StripeProvider) CreateInvoice(ctx context.Context, req services.InvoiceRequest) (services.Invoice, error) {
	if p == nil || p.sessions == nil {
		return services.Invoice{}, errors.New("stripe: provider is not initialised")
	}
	if req.Amount <= 0 {
		return services.Invoice{}, errors.New("stripe: invoice amount must be positive")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "eur"
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Marketplace purchase"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
		}},
	}
	params.Context = ctx
	if p.successURL != "" {
		params.SuccessURL = stripe.String(p.successURL)
	}
	if p.cancelURL != "" {
		params.CancelURL = stripe.String(p.cancelURL)
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["user_id"] = req.UserID
	params.Metadata = metadata

	session, err := p.sessions.New(params)
	if err != nil {
		p.logger(ctx, "payments.invoice_failed", map[string]any{
			"user_id": req.UserID,
			"amount":  req.Amount,
			"error":   err.Error(),
		})
		return services.Invoice{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.invoice_created", map[string]any{
		"user_id":    req.UserID,
		"amount":     req.Amount,
		"session_id": session.ID,
	})
	return services.Invoice{
		ID:          session.ID,
		CheckoutURL: session.URL,
	}, nil
}
