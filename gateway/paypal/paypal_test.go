package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstgnz/payflow/gateway"
)

func newTestGateway(t *testing.T, mux *http.ServeMux) (*Gateway, *int32) {
	t.Helper()
	var tokens int32
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokens, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":32400}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{"clientId": "client", "clientSecret": "secret", "baseUrl": server.URL}))
	return g, &tokens
}

func TestGateway_Capabilities(t *testing.T) {
	g := New()
	assert.Equal(t, gateway.Capabilities{}, g.Capabilities())
	_, err := g.ParseWebhook([]byte(`{}`))
	assert.ErrorIs(t, err, gateway.ErrUnsupported)

	assert.Error(t, gateway.ValidateConfig(Name, map[string]string{"clientId": "c", "clientSecret": "s", "environment": "prod"}, g.RequiredConfig()))
	assert.NoError(t, gateway.ValidateConfig(Name, map[string]string{"clientId": "c", "clientSecret": "s", "environment": "live"}, g.RequiredConfig()))
}

func TestGateway_AuthoriseCaptureRefund(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/checkout/orders/ORDER1/authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		assert.Equal(t, "authorise:p1", r.Header.Get("PayPal-Request-Id"))
		_, _ = w.Write([]byte(`{"id":"ORDER1","status":"COMPLETED","purchase_units":[{"payments":{"authorizations":[
			{"id":"AUTH1","status":"CREATED","amount":{"currency_code":"USD","value":"100.00"}}]}}]}`))
	})
	mux.HandleFunc("/v2/payments/authorizations/AUTH1/capture", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"currency_code": "USD", "value": "60.00"}, body["amount"])
		assert.Equal(t, true, body["final_capture"])
		_, _ = w.Write([]byte(`{"id":"CAP1","status":"COMPLETED","amount":{"currency_code":"USD","value":"60.00"}}`))
	})
	mux.HandleFunc("/v2/payments/captures/CAP1/refund", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refund:p1:r1", r.Header.Get("PayPal-Request-Id"))
		_, _ = w.Write([]byte(`{"id":"REF1","status":"COMPLETED","amount":{"currency_code":"USD","value":"20.00"}}`))
	})
	g, tokens := newTestGateway(t, mux)
	ctx := context.Background()

	res, err := g.Authorise(ctx, gateway.AuthoriseRequest{PaymentID: "p1", Token: "ORDER1", Amount: decimal.NewFromInt(100), Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "AUTH1", res.TransactionID)

	res, err = g.Capture(ctx, gateway.CaptureRequest{PaymentID: "p1", TransactionID: "AUTH1", Amount: decimal.NewFromInt(60), Currency: "usd"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "CAP1", res.TransactionID)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(60)))

	res, err = g.Refund(ctx, gateway.RefundRequest{PaymentID: "p1", TransactionID: "CAP1", Amount: decimal.NewFromInt(20), Currency: "USD", IdempotencyKey: "refund:p1:r1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "REF1", res.TransactionID)

	assert.Equal(t, int32(1), atomic.LoadInt32(tokens))
}

func TestGateway_VoidNoContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/payments/authorizations/AUTH1/void", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	g, _ := newTestGateway(t, mux)

	res, err := g.Void(context.Background(), gateway.VoidRequest{PaymentID: "p1", TransactionID: "AUTH1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "AUTH1", res.TransactionID)
}

func TestGateway_AuthoriseWithoutAuthorization(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/checkout/orders/ORDER1/authorize", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ORDER1","status":"PAYER_ACTION_REQUIRED","purchase_units":[]}`))
	})
	g, _ := newTestGateway(t, mux)

	res, err := g.Authorise(context.Background(), gateway.AuthoriseRequest{PaymentID: "p1", Token: "ORDER1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no authorization")
}

func TestGateway_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		reason    string
		transient bool
	}{
		{"declined", http.StatusUnprocessableEntity, gateway.ReasonDeclined, false},
		{"rate limited", http.StatusTooManyRequests, gateway.ReasonRateLimited, true},
		{"unavailable", http.StatusServiceUnavailable, gateway.ReasonServer, true},
		{"not found", http.StatusNotFound, gateway.ReasonClient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v2/payments/authorizations/AUTH1/capture", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed"}`))
			})
			g, _ := newTestGateway(t, mux)

			_, err := g.Capture(context.Background(), gateway.CaptureRequest{PaymentID: "p1", TransactionID: "AUTH1", Amount: decimal.NewFromInt(1)})
			var gwErr *gateway.Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.reason, gwErr.FailureKind())
			assert.Equal(t, tt.transient, gwErr.Transient())
		})
	}
}

func TestGateway_TokenFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	g := New().(*Gateway)
	require.NoError(t, g.Initialize(map[string]string{"clientId": "client", "clientSecret": "bad", "baseUrl": server.URL}))

	_, err := g.Void(context.Background(), gateway.VoidRequest{PaymentID: "p1", TransactionID: "AUTH1"})
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusUnauthorized, gwErr.Status())
	assert.False(t, gwErr.Transient())
}
