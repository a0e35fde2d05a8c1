package payment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bookslot/internal/config"
	"bookslot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testWebhookSecret = "whsec_test"

func TestIsEligibleForRefund(t *testing.T) {
	start := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	boundary := start.Add(-24 * time.Hour)

	assert.True(t, IsEligibleForRefund(start, 24, boundary), "the boundary is inclusive")
	assert.False(t, IsEligibleForRefund(start, 24, boundary.Add(time.Second)))
	assert.True(t, IsEligibleForRefund(start, 24, boundary.Add(-time.Hour)))
	assert.True(t, IsEligibleForRefund(start, 0, start))
	assert.False(t, IsEligibleForRefund(start, 0, start.Add(time.Second)))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *StripeProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	p, err := newStripeProvider(config.PaymentConfig{StripeSecretKey: "sk_test_123", WebhookSecret: testWebhookSecret},
		&stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	require.NoError(t, err)
	return p
}

func TestNewStripeProvider_NotConfigured(t *testing.T) {
	_, err := NewStripeProvider(config.PaymentConfig{})
	assert.ErrorIs(t, err, domain.ErrPaymentNotConfigured)
}

func TestCreateCheckoutSession(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "5000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "2024-03-04", r.PostForm.Get("metadata[date]"))
		assert.Equal(t, "guest@example.com", r.PostForm.Get("customer_email"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	})

	s, err := p.CreateCheckoutSession(context.Background(), domain.CheckoutSessionParams{
		ProductName:   "Consult",
		AmountCents:   5000,
		Currency:      "USD",
		CustomerEmail: "guest@example.com",
		SuccessURL:    "https://example.com/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://example.com/cancel",
		Metadata:      map[string]string{"date": "2024-03-04"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", s.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", s.URL)
}

func TestCreateCheckoutSession_UpstreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"bad currency"}}`)
	})

	_, err := p.CreateCheckoutSession(context.Background(), domain.CheckoutSessionParams{AmountCents: 100, Currency: "xxx"})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestProcessRefund(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"re_1","object":"refund","status":"succeeded"}`)
	})

	res, err := p.ProcessRefund(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "re_1", res.RefundID)

	_, err = p.ProcessRefund(context.Background(), "")
	assert.Error(t, err)
}

func signed(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func TestParseWebhook(t *testing.T) {
	p := newTestProvider(t, func(http.ResponseWriter, *http.Request) {})

	t.Run("CheckoutCompleted", func(t *testing.T) {
		body, header := signed(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed",
			"data":{"object":{"id":"cs_1","object":"checkout.session","payment_intent":"pi_1","payment_status":"paid",
			"metadata":{"event_type_id":"2"}}}}`)

		ev, err := p.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, domain.WebhookCheckoutCompleted, ev.Type)
		assert.Equal(t, "cs_1", ev.SessionID)
		assert.Equal(t, "pi_1", ev.PaymentIntentID)
		assert.True(t, ev.Paid)
		assert.Equal(t, "2", ev.Metadata["event_type_id"])
	})

	t.Run("CheckoutExpired", func(t *testing.T) {
		body, header := signed(t, `{"id":"evt_2","object":"event","type":"checkout.session.expired",
			"data":{"object":{"id":"cs_2","object":"checkout.session","payment_status":"unpaid"}}}`)

		ev, err := p.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, domain.WebhookCheckoutExpired, ev.Type)
		assert.Equal(t, "cs_2", ev.SessionID)
		assert.False(t, ev.Paid)
	})

	t.Run("OtherEventsPassThrough", func(t *testing.T) {
		body, header := signed(t, `{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

		ev, err := p.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, "customer.created", ev.Type)
		assert.Empty(t, ev.SessionID)
	})

	t.Run("BadSignature", func(t *testing.T) {
		body, _ := signed(t, `{"id":"evt_4","object":"event","type":"checkout.session.completed"}`)
		_, err := p.ParseWebhook(body, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
