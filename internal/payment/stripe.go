package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bookslot/internal/config"
	"bookslot/internal/domain"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeProvider implements domain.PaymentProvider with Stripe Checkout.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

func NewStripeProvider(cfg config.PaymentConfig) (*StripeProvider, error) {
	return newStripeProvider(cfg, nil)
}

func newStripeProvider(cfg config.PaymentConfig, backends *stripe.Backends) (*StripeProvider, error) {
	if cfg.StripeSecretKey == "" {
		return nil, domain.ErrPaymentNotConfigured
	}
	return &StripeProvider{
		api:           client.New(cfg.StripeSecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in domain.CheckoutSessionParams) (*domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(in.Currency)),
				UnitAmount:  stripe.Int64(in.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(in.ProductName)},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	if !in.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(in.ExpiresAt.Unix())
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", domain.ErrUpstreamUnavailable, err)
	}
	return &domain.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) ProcessRefund(ctx context.Context, paymentIntentID string) (*domain.RefundResult, error) {
	if paymentIntentID == "" {
		return nil, errors.New("payment intent id is required")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: refund %s: %v", domain.ErrUpstreamUnavailable, paymentIntentID, err)
	}
	ok := r.Status != stripe.RefundStatusFailed && r.Status != stripe.RefundStatusCanceled
	return &domain.RefundResult{Success: ok, RefundID: r.ID}, nil
}

// ParseWebhook verifies the Stripe-Signature header over the raw body and
// extracts the checkout session.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: webhook signature: %v", domain.ErrInvalidInput, err)
	}

	out := &domain.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if out.Type != domain.WebhookCheckoutCompleted && out.Type != domain.WebhookCheckoutExpired {
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: webhook event without data", domain.ErrInvalidInput)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: decode checkout session: %v", domain.ErrInvalidInput, err)
	}
	out.SessionID = session.ID
	out.Paid = session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	out.Metadata = session.Metadata
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	return out, nil
}
