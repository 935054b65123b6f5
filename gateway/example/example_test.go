package example

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstgnz/payflow/gateway"
)

func newSimulated(t *testing.T) *Gateway {
	t.Helper()
	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{"webhookSecret": "whsec"}))
	return g
}

func TestGateway_Registered(t *testing.T) {
	adapter, err := gateway.DefaultRegistry.Create(Name)
	require.NoError(t, err)
	assert.Equal(t, Name, adapter.Name())
	assert.Equal(t, gateway.Capabilities{VerifyWebhook: true, ParseWebhook: true}, adapter.Capabilities())
}

func TestGateway_SimulatedSuccess(t *testing.T) {
	g := newSimulated(t)
	ctx := context.Background()

	res, err := g.Authorise(ctx, gateway.AuthoriseRequest{PaymentID: "p1", Amount: decimal.RequireFromString("100.00"), Currency: "ZAR", Token: "tok"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "txn_abc123", res.TransactionID)
	assert.Equal(t, "auth_xyz789", res.Meta["authorization_code"])
	assert.Equal(t, "authorised", res.Meta["state"])
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("100")))

	res, err = g.Capture(ctx, gateway.CaptureRequest{PaymentID: "p1", TransactionID: "txn_abc123", Amount: decimal.RequireFromString("100")})
	require.NoError(t, err)
	assert.Equal(t, "captured", res.Meta["state"])

	res, err = g.Refund(ctx, gateway.RefundRequest{PaymentID: "p1", TransactionID: "txn_abc123", Amount: decimal.RequireFromString("40")})
	require.NoError(t, err)
	assert.Equal(t, "refunded", res.Meta["state"])

	res, err = g.Void(ctx, gateway.VoidRequest{PaymentID: "p1", TransactionID: "txn_abc123", Amount: decimal.RequireFromString("40")})
	require.NoError(t, err)
	assert.Equal(t, "voided", res.Meta["state"])
}

func TestGateway_SimulatedFailures(t *testing.T) {
	g := newSimulated(t)
	ctx := context.Background()

	tests := []struct {
		amount string
		status int
	}{
		{"10.99", http.StatusTooManyRequests},
		{"10.77", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			_, err := g.Authorise(ctx, gateway.AuthoriseRequest{PaymentID: "p1", Amount: amount})
			var gwErr *gateway.Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.status, gwErr.Status())
			assert.True(t, gwErr.Transient())

			_, err = g.Refund(ctx, gateway.RefundRequest{PaymentID: "p1", Amount: amount})
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, "refund", gwErr.Op)
		})
	}
}

func TestGateway_RemoteMode(t *testing.T) {
	var seen wireRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/capture", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "capture:p1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_, _ = w.Write([]byte(`{"status":"failed","transaction_id":"txn_remote","state":"authorised","message":"insufficient funds"}`))
	}))
	defer server.Close()

	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{"webhookSecret": "whsec", "baseUrl": server.URL, "apiKey": "key"}))

	res, err := g.Capture(context.Background(), gateway.CaptureRequest{
		PaymentID: "p1", TransactionID: "txn_remote", Amount: decimal.RequireFromString("12.5"), Currency: "ZAR",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient funds", res.Message)
	assert.Equal(t, "12.50", seen.Amount)
	assert.Equal(t, "txn_remote", seen.TransactionID)
}

func TestGateway_RemoteRefundsSendCallerKeys(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"success","transaction_id":"txn_abc123","refund_id":"rf_1","state":"refunded"}`))
	}))
	defer server.Close()

	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{"webhookSecret": "whsec", "baseUrl": server.URL}))

	ctx := context.Background()
	for i, value := range []string{"40", "60"} {
		res, err := g.Refund(ctx, gateway.RefundRequest{
			PaymentID: "pay_1", TransactionID: "txn_abc123", Amount: decimal.RequireFromString(value),
			IdempotencyKey: "refund:pay_1:" + value,
		})
		require.NoError(t, err, "refund %d", i)
		assert.True(t, res.Success)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"refund:pay_1:40", "refund:pay_1:60"}, keys)
}

func TestGateway_RemoteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{"webhookSecret": "whsec", "baseUrl": server.URL}))

	_, err := g.Void(context.Background(), gateway.VoidRequest{PaymentID: "p1", Amount: decimal.NewFromInt(1)})
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.Status())
}

func TestGateway_VerifyWebhook(t *testing.T) {
	g := newSimulated(t)
	payload := []byte(`{"transaction_id":"txn_abc123","event":"payment_captured","amount":10000,"timestamp":1764000000}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, gateway.HMACVerifier{Secret: "whsec"}.Sign(payload))
	assert.NoError(t, g.VerifyWebhook(headers, payload))

	headers.Set(SignatureHeader, "deadbeef")
	var verr *gateway.VerificationError
	assert.True(t, errors.As(g.VerifyWebhook(headers, payload), &verr))
}

func TestGateway_ParseWebhook(t *testing.T) {
	g := newSimulated(t)

	event, err := g.ParseWebhook([]byte(`{"transaction_id":"txn_abc123","event":"payment_captured","amount":10000,"timestamp":1764000000,"currency":"zar"}`))
	require.NoError(t, err)
	assert.Equal(t, "payment_captured", event.EventType)
	assert.Equal(t, "txn_abc123", event.TransactionID)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, "ZAR", event.Currency)
	assert.Equal(t, time.Unix(1764000000, 0).UTC(), event.Timestamp)
	assert.Equal(t, "txn_abc123:payment_captured", event.ProcessorID())

	event, err = g.ParseWebhook([]byte(`{"transaction_id":"txn_abc123","event":"payment_refunded","amount":"4000","timestamp":"2025-11-25T10:00:00Z","event_id":"evt_9","merchant_reference":"order-1"}`))
	require.NoError(t, err)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, time.Date(2025, 11, 25, 10, 0, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "evt_9", event.ProcessorID())
	assert.Equal(t, "order-1", event.MerchantReference)
}

func TestGateway_ParseWebhookInvalid(t *testing.T) {
	g := newSimulated(t)

	for name, payload := range map[string]string{
		"not json":      `{`,
		"missing event": `{"transaction_id":"txn_abc123","amount":1}`,
		"bad amount":    `{"transaction_id":"txn_abc123","event":"payment_failed","amount":"ten"}`,
		"bad timestamp": `{"transaction_id":"txn_abc123","event":"payment_failed","amount":1,"timestamp":"yesterday"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := g.ParseWebhook([]byte(payload))
			var perr *gateway.ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}
}
