package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/mstgnz/payflow/gateway"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{
		"secretKey":     "sk_test_123",
		"webhookSecret": "whsec_test",
		"baseUrl":       server.URL,
	}))
	return g
}

func TestGateway_RequiredConfig(t *testing.T) {
	g := New()
	assert.NoError(t, gateway.ValidateConfig(Name, map[string]string{"secretKey": "sk_test_abc"}, g.RequiredConfig()))
	assert.Error(t, gateway.ValidateConfig(Name, map[string]string{"secretKey": "pk_test_abc"}, g.RequiredConfig()))
}

func TestGateway_Authorise(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "authorise:p1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "10000", r.PostForm.Get("amount"))
		assert.Equal(t, "zar", r.PostForm.Get("currency"))
		assert.Equal(t, "manual", r.PostForm.Get("capture_method"))
		assert.Equal(t, "order-1", r.PostForm.Get("metadata[merchant_reference]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":10000,"currency":"zar","status":"requires_capture"}`))
	})

	res, err := g.Authorise(context.Background(), gateway.AuthoriseRequest{
		PaymentID: "p1", Amount: decimal.RequireFromString("100.00"), Currency: "ZAR", Token: "pm_card_visa", MerchantReference: "order-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pi_123", res.TransactionID)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "requires_capture", res.Meta["status"])
}

func TestGateway_AuthoriseRequiresAction(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":500,"currency":"zar","status":"requires_action"}`))
	})

	res, err := g.Authorise(context.Background(), gateway.AuthoriseRequest{PaymentID: "p1", Amount: decimal.NewFromInt(5), Currency: "ZAR"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "payment intent requires_action", res.Message)
}

func TestGateway_CaptureVoidRefund(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_intents/pi_123/capture":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "6000", r.PostForm.Get("amount_to_capture"))
			_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":10000,"amount_received":6000,"status":"succeeded"}`))
		case "/v1/payment_intents/pi_123/cancel":
			_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":10000,"status":"canceled"}`))
		case "/v1/refunds":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
			assert.Equal(t, "customer request", r.PostForm.Get("metadata[reason]"))
			assert.Equal(t, "refund:p1:r1", r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"id":"re_1","object":"refund","amount":4000,"status":"succeeded"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	res, err := g.Capture(ctx, gateway.CaptureRequest{PaymentID: "p1", TransactionID: "pi_123", Amount: decimal.NewFromInt(60)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(60)))

	res, err = g.Void(ctx, gateway.VoidRequest{PaymentID: "p1", TransactionID: "pi_123"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = g.Refund(ctx, gateway.RefundRequest{PaymentID: "p1", TransactionID: "pi_123", Amount: decimal.NewFromInt(40), Reason: "customer request", IdempotencyKey: "refund:p1:r1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "re_1", res.TransactionID)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(40)))
}

func TestGateway_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		reason    string
		transient bool
	}{
		{"card declined", http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`, gateway.ReasonDeclined, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"api_error","code":"rate_limit","message":"Too many requests"}}`, gateway.ReasonRateLimited, true},
		{"server error", http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`, gateway.ReasonServer, true},
		{"invalid request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"No such payment_intent"}}`, gateway.ReasonClient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := g.Capture(context.Background(), gateway.CaptureRequest{PaymentID: "p1", TransactionID: "pi_123", Amount: decimal.NewFromInt(1)})
			var gwErr *gateway.Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.reason, gwErr.FailureKind())
			assert.Equal(t, tt.transient, gwErr.Transient())
			assert.False(t, gwErr.InDoubt())
		})
	}
}

func TestGateway_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{"secretKey": "sk_test_123", "baseUrl": url}))

	_, err := g.Void(context.Background(), gateway.VoidRequest{PaymentID: "p1", TransactionID: "pi_123"})
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.True(t, gwErr.InDoubt())
}

const capturedEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "payment_intent.succeeded",
  "created": 1764000000,
  "data": {"object": {"id": "pi_123", "object": "payment_intent", "amount": 10000, "currency": "zar",
    "status": "succeeded", "metadata": {"merchant_reference": "order-1"}}}
}`

func TestGateway_VerifyWebhook(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := []byte(capturedEvent)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})
	headers := http.Header{}
	headers.Set(SignatureHeader, signed.Header)
	assert.NoError(t, g.VerifyWebhook(headers, payload))

	wrong := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	headers.Set(SignatureHeader, wrong.Header)
	var verr *gateway.VerificationError
	assert.True(t, errors.As(g.VerifyWebhook(headers, payload), &verr))

	assert.True(t, errors.As(g.VerifyWebhook(http.Header{}, payload), &verr))
}

func TestGateway_ParseWebhook(t *testing.T) {
	g := New()

	event, err := g.ParseWebhook([]byte(capturedEvent))
	require.NoError(t, err)
	assert.Equal(t, EventCaptured, event.EventType)
	assert.Equal(t, "pi_123", event.TransactionID)
	assert.Equal(t, "order-1", event.MerchantReference)
	assert.Equal(t, "ZAR", event.Currency)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, time.Unix(1764000000, 0).UTC(), event.Timestamp)
	assert.Equal(t, "evt_1", event.ProcessorID())
}

func TestGateway_ParseWebhookEventTypes(t *testing.T) {
	g := New()
	tests := []struct {
		payload string
		want    string
	}{
		{`{"id":"evt_2","type":"payment_intent.amount_capturable_updated","created":1,"data":{"object":{"id":"pi_1","amount":100}}}`, EventAuthorized},
		{`{"id":"evt_3","type":"payment_intent.payment_failed","created":1,"data":{"object":{"id":"pi_1","amount":100}}}`, EventFailed},
		{`{"id":"evt_4","type":"payment_intent.canceled","created":1,"data":{"object":{"id":"pi_1","amount":100}}}`, EventVoided},
		{`{"id":"evt_5","type":"charge.refunded","created":1,"data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount_refunded":100,"refunded":true}}}`, EventRefunded},
		{`{"id":"evt_6","type":"charge.refunded","created":1,"data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount_refunded":50,"refunded":false}}}`, EventPartialRefunded},
		{`{"id":"evt_7","type":"customer.created","created":1,"data":{"object":{"id":"cus_1"}}}`, "customer.created"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			event, err := g.ParseWebhook([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.EventType)
		})
	}

	event, err := g.ParseWebhook([]byte(tests[3].payload))
	require.NoError(t, err)
	assert.Equal(t, "pi_1", event.TransactionID)
}

func TestGateway_ParseWebhookInvalid(t *testing.T) {
	g := New()
	var perr *gateway.ParseError

	_, err := g.ParseWebhook([]byte(`not json`))
	assert.True(t, errors.As(err, &perr))

	_, err = g.ParseWebhook([]byte(`{"type":"payment_intent.succeeded"}`))
	assert.True(t, errors.As(err, &perr))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10000), toMinor(decimal.RequireFromString("100.00")))
	assert.Equal(t, int64(1999), toMinor(decimal.RequireFromString("19.99")))
	assert.True(t, fromMinor(4050).Equal(decimal.RequireFromString("40.50")))
}
