// Package example implements the reference gateway. Without a base URL it
// simulates the processor locally: amounts ending in .99 are rate limited
// and amounts ending in .77 hit a bad gateway.
package example

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/mstgnz/payflow/gateway"
)

const (
	Name = "example"

	SignatureHeader = "x-signature"

	simulatedTxnID    = "txn_abc123"
	simulatedAuthCode = "auth_xyz789"
)

// Gateway is the example adapter
type Gateway struct {
	client   *gateway.HTTPClient
	apiKey   string
	verifier gateway.HMACVerifier
	now      func() time.Time
}

// New creates an uninitialised example gateway
func New() gateway.Adapter {
	return &Gateway{now: time.Now}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{VerifyWebhook: true, ParseWebhook: true}
}

func (g *Gateway) RequiredConfig() []gateway.ConfigField {
	return []gateway.ConfigField{
		{
			Key:         "webhookSecret",
			Required:    true,
			Type:        "secret",
			Description: "Shared secret for x-signature webhook verification",
			Example:     "whsec_example",
		},
		{
			Key:         "baseUrl",
			Required:    false,
			Type:        "url",
			Description: "Sandbox endpoint; requests are simulated locally when empty",
			Example:     "https://sandbox.gateway.example",
		},
		{
			Key:         "apiKey",
			Required:    false,
			Type:        "secret",
			Description: "Bearer token sent to the sandbox endpoint",
		},
		{
			Key:         "timeout",
			Required:    false,
			Type:        "string",
			Description: "Sandbox request timeout",
			Example:     "10s",
		},
	}
}

func (g *Gateway) Initialize(config map[string]string) error {
	g.verifier = gateway.HMACVerifier{
		Gateway: Name,
		Secret:  config["webhookSecret"],
		Header:  SignatureHeader,
	}
	g.apiKey = config["apiKey"]
	if base := config["baseUrl"]; base != "" {
		headers := map[string]string{}
		if g.apiKey != "" {
			headers["Authorization"] = "Bearer " + g.apiKey
		}
		g.client = gateway.NewHTTPClient(gateway.HTTPClientConfig{
			Gateway:        Name,
			BaseURL:        base,
			Timeout:        cast.ToDuration(config["timeout"]),
			DefaultHeaders: headers,
		})
	}
	if g.now == nil {
		g.now = time.Now
	}
	return nil
}

// wireRequest is the body sent to the sandbox endpoint
type wireRequest struct {
	PaymentID     string `json:"payment_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id,omitempty"`
	Token         string `json:"token,omitempty"`
	Reference     string `json:"reference,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// wireResponse is the processor answer in both simulated and remote modes
type wireResponse struct {
	Status            string `json:"status"`
	TransactionID     string `json:"transaction_id"`
	AuthorizationCode string `json:"authorization_code"`
	State             string `json:"state"`
	Message           string `json:"message,omitempty"`
	RefundID          string `json:"refund_id,omitempty"`
}

func (g *Gateway) Authorise(ctx context.Context, req gateway.AuthoriseRequest) (*gateway.PaymentResult, error) {
	return g.call(ctx, "authorise", "authorised", req.IdempotencyKey, wireRequest{
		PaymentID: req.PaymentID,
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Token:     req.Token,
		Reference: req.MerchantReference,
	}, "")
}

func (g *Gateway) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.PaymentResult, error) {
	return g.call(ctx, "capture", "captured", req.IdempotencyKey, wireRequest{
		PaymentID:     req.PaymentID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		TransactionID: req.TransactionID,
	}, req.TransactionID)
}

func (g *Gateway) Void(ctx context.Context, req gateway.VoidRequest) (*gateway.PaymentResult, error) {
	return g.call(ctx, "void", "voided", req.IdempotencyKey, wireRequest{
		PaymentID:     req.PaymentID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		TransactionID: req.TransactionID,
	}, req.TransactionID)
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.PaymentResult, error) {
	return g.call(ctx, "refund", "refunded", req.IdempotencyKey, wireRequest{
		PaymentID:     req.PaymentID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		TransactionID: req.TransactionID,
		Reason:        req.Reason,
	}, req.TransactionID)
}

func (g *Gateway) call(ctx context.Context, op, state, key string, body wireRequest, fallbackTxn string) (*gateway.PaymentResult, error) {
	var (
		resp wireResponse
		raw  []byte
	)
	if g.client == nil {
		if err := ctx.Err(); err != nil {
			return nil, gateway.ConnectionError(Name, op, err)
		}
		if err := simulateFailure(op, body.Amount); err != nil {
			return nil, err
		}
		resp = wireResponse{
			Status:            "success",
			TransactionID:     simulatedTxnID,
			AuthorizationCode: simulatedAuthCode,
			State:             state,
		}
		raw, _ = json.Marshal(resp)
	} else {
		httpResp, err := g.client.SendJSON(ctx, op, http.MethodPost, "/"+op, map[string]string{
			"Idempotency-Key": gateway.RequestKey(key, op, body.PaymentID),
		}, body)
		if err != nil {
			return nil, err
		}
		raw = httpResp.Body
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, gateway.Classify(Name, op, http.StatusBadGateway, "malformed response: "+err.Error())
		}
	}

	amount, _ := decimal.NewFromString(body.Amount)
	result := &gateway.PaymentResult{
		Success:       strings.EqualFold(resp.Status, "success"),
		TransactionID: firstNonEmpty(resp.RefundID, resp.TransactionID, fallbackTxn),
		Amount:        &amount,
		Message:       resp.Message,
		Meta:          gateway.RawMeta(raw),
	}
	if !result.Success && result.Message == "" {
		result.Message = fmt.Sprintf("%s %s", op, resp.Status)
	}
	return result, nil
}

// simulateFailure reproduces the sandbox's magic amounts
func simulateFailure(op, amount string) error {
	switch {
	case strings.HasSuffix(amount, ".99"):
		return gateway.Classify(Name, op, http.StatusTooManyRequests, "rate limited")
	case strings.HasSuffix(amount, ".77"):
		return gateway.Classify(Name, op, http.StatusBadGateway, "bad gateway")
	}
	return nil
}

func (g *Gateway) VerifyWebhook(headers http.Header, payload []byte) error {
	return g.verifier.Verify(headers, payload)
}

func (g *Gateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, &gateway.ParseError{Gateway: Name, Err: err}
	}

	txnID := cast.ToString(data["transaction_id"])
	eventType := cast.ToString(data["event"])
	if eventType == "" || (txnID == "" && data["merchant_reference"] == nil) {
		return nil, &gateway.ParseError{Gateway: Name, Err: fmt.Errorf("event and transaction_id are required")}
	}

	minor, err := cast.ToInt64E(data["amount"])
	if err != nil {
		return nil, &gateway.ParseError{Gateway: Name, Err: fmt.Errorf("amount: %w", err)}
	}

	event := &gateway.WebhookEvent{
		EventType:         eventType,
		MerchantReference: cast.ToString(data["merchant_reference"]),
		TransactionID:     txnID,
		Amount:            decimal.New(minor, -2),
		Currency:          strings.ToUpper(cast.ToString(data["currency"])),
		ProviderEventID:   cast.ToString(data["event_id"]),
		Meta:              data,
	}
	if ts, ok := data["timestamp"]; ok && ts != nil {
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, &gateway.ParseError{Gateway: Name, Err: fmt.Errorf("timestamp: %w", err)}
		}
		event.Timestamp = t.UTC()
	}
	return event, nil
}

// parseTimestamp accepts unix seconds or any layout cast understands
func parseTimestamp(v any) (time.Time, error) {
	if n, ok := v.(float64); ok {
		return time.Unix(int64(n), 0), nil
	}
	return cast.ToTimeE(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
