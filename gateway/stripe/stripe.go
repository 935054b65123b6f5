// Package stripe adapts Stripe manual-capture PaymentIntents to the gateway
// contract.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/mstgnz/payflow/gateway"
)

const (
	Name            = "stripe"
	SignatureHeader = "Stripe-Signature"
)

// Gateway talks to the Stripe API
type Gateway struct {
	intents       paymentintent.Client
	refunds       refund.Client
	webhookSecret string
}

// New creates an uninitialised Stripe gateway
func New() gateway.Adapter {
	return &Gateway{}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{VerifyWebhook: true, ParseWebhook: true}
}

func (g *Gateway) RequiredConfig() []gateway.ConfigField {
	return []gateway.ConfigField{
		{
			Key:         "secretKey",
			Required:    true,
			Type:        "secret",
			Description: "Stripe secret API key",
			Example:     "sk_test_...",
			Pattern:     `^(sk|rk)_(test|live)_`,
		},
		{
			Key:         "webhookSecret",
			Required:    false,
			Type:        "secret",
			Description: "Signing secret of the webhook endpoint",
			Example:     "whsec_...",
		},
		{
			Key:         "baseUrl",
			Required:    false,
			Type:        "url",
			Description: "API base URL override, used with stripe-mock",
		},
	}
}

func (g *Gateway) Initialize(config map[string]string) error {
	backendConfig := &stripego.BackendConfig{
		// retries are owned by the payflow retry engine
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	}
	if base := config["baseUrl"]; base != "" {
		backendConfig.URL = stripego.String(base)
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendConfig)

	g.intents = paymentintent.Client{B: backend, Key: config["secretKey"]}
	g.refunds = refund.Client{B: backend, Key: config["secretKey"]}
	g.webhookSecret = config["webhookSecret"]
	return nil
}

func (g *Gateway) Authorise(ctx context.Context, req gateway.AuthoriseRequest) (*gateway.PaymentResult, error) {
	params := &stripego.PaymentIntentParams{
		Amount:             stripego.Int64(toMinor(req.Amount)),
		Currency:           stripego.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripego.String(req.Token),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		CaptureMethod:      stripego.String(string(stripego.PaymentIntentCaptureMethodManual)),
		Confirm:            stripego.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(gateway.RequestKey(req.IdempotencyKey, "authorise", req.PaymentID))
	params.AddMetadata("payment_id", req.PaymentID)
	if req.MerchantReference != "" {
		params.AddMetadata("merchant_reference", req.MerchantReference)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, classify("authorise", err)
	}
	return intentResult(pi, pi.Status == stripego.PaymentIntentStatusRequiresCapture || pi.Status == stripego.PaymentIntentStatusSucceeded), nil
}

func (g *Gateway) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.PaymentResult, error) {
	params := &stripego.PaymentIntentCaptureParams{
		AmountToCapture: stripego.Int64(toMinor(req.Amount)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(gateway.RequestKey(req.IdempotencyKey, "capture", req.PaymentID))

	pi, err := g.intents.Capture(req.TransactionID, params)
	if err != nil {
		return nil, classify("capture", err)
	}
	return intentResult(pi, pi.Status == stripego.PaymentIntentStatusSucceeded), nil
}

func (g *Gateway) Void(ctx context.Context, req gateway.VoidRequest) (*gateway.PaymentResult, error) {
	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey(gateway.RequestKey(req.IdempotencyKey, "void", req.PaymentID))

	pi, err := g.intents.Cancel(req.TransactionID, params)
	if err != nil {
		return nil, classify("void", err)
	}
	return intentResult(pi, pi.Status == stripego.PaymentIntentStatusCanceled), nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.PaymentResult, error) {
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(req.TransactionID),
		Amount:        stripego.Int64(toMinor(req.Amount)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(gateway.RequestKey(req.IdempotencyKey, "refund", req.PaymentID))
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	r, err := g.refunds.New(params)
	if err != nil {
		return nil, classify("refund", err)
	}
	amount := fromMinor(r.Amount)
	result := &gateway.PaymentResult{
		Success:       r.Status == stripego.RefundStatusSucceeded || r.Status == stripego.RefundStatusPending,
		TransactionID: r.ID,
		Amount:        &amount,
		Meta:          rawMeta(r.LastResponse, r),
	}
	if !result.Success {
		result.Message = "refund " + string(r.Status)
	}
	return result, nil
}

// VerifyWebhook checks the Stripe-Signature header and its timestamp tolerance
func (g *Gateway) VerifyWebhook(headers http.Header, payload []byte) error {
	if g.webhookSecret == "" {
		return &gateway.VerificationError{Gateway: Name, Reason: "no webhook secret configured"}
	}
	_, err := webhook.ConstructEventWithOptions(payload, headers.Get(SignatureHeader), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return &gateway.VerificationError{Gateway: Name, Reason: err.Error()}
	}
	return nil
}

// Canonical event types emitted by ParseWebhook
const (
	EventAuthorized      = "payment_authorized"
	EventCaptured        = "payment_captured"
	EventFailed          = "payment_failed"
	EventVoided          = "payment_voided"
	EventRefunded        = "payment_refunded"
	EventPartialRefunded = "payment_partially_refunded"
)

func (g *Gateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &gateway.ParseError{Gateway: Name, Err: err}
	}
	if event.ID == "" || event.Data == nil {
		return nil, &gateway.ParseError{Gateway: Name, Err: errors.New("event id and data are required")}
	}

	out := &gateway.WebhookEvent{
		EventType:       string(event.Type),
		ProviderEventID: event.ID,
		Timestamp:       time.Unix(event.Created, 0).UTC(),
		Meta:            map[string]any{"stripe_type": string(event.Type)},
	}

	switch event.Type {
	case stripego.EventTypePaymentIntentAmountCapturableUpdated,
		stripego.EventTypePaymentIntentSucceeded,
		stripego.EventTypePaymentIntentPaymentFailed,
		stripego.EventTypePaymentIntentCanceled:
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, &gateway.ParseError{Gateway: Name, Err: err}
		}
		out.TransactionID = pi.ID
		out.Amount = fromMinor(pi.Amount)
		out.Currency = strings.ToUpper(string(pi.Currency))
		out.MerchantReference = pi.Metadata["merchant_reference"]
		out.EventType = intentEventType(event.Type)
	case stripego.EventTypeChargeRefunded:
		var charge stripego.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, &gateway.ParseError{Gateway: Name, Err: err}
		}
		if charge.PaymentIntent != nil {
			out.TransactionID = charge.PaymentIntent.ID
		}
		out.Amount = fromMinor(charge.AmountRefunded)
		out.Currency = strings.ToUpper(string(charge.Currency))
		out.MerchantReference = charge.Metadata["merchant_reference"]
		out.EventType = EventPartialRefunded
		if charge.Refunded {
			out.EventType = EventRefunded
		}
	}
	return out, nil
}

func intentEventType(t stripego.EventType) string {
	switch t {
	case stripego.EventTypePaymentIntentAmountCapturableUpdated:
		return EventAuthorized
	case stripego.EventTypePaymentIntentSucceeded:
		return EventCaptured
	case stripego.EventTypePaymentIntentPaymentFailed:
		return EventFailed
	default:
		return EventVoided
	}
}

func intentResult(pi *stripego.PaymentIntent, success bool) *gateway.PaymentResult {
	amount := fromMinor(pi.Amount)
	if pi.AmountReceived > 0 {
		amount = fromMinor(pi.AmountReceived)
	}
	result := &gateway.PaymentResult{
		Success:       success,
		TransactionID: pi.ID,
		Amount:        &amount,
		Meta:          rawMeta(pi.LastResponse, pi),
	}
	if !success {
		result.Message = "payment intent " + string(pi.Status)
	}
	return result
}

// classify maps stripe-go errors onto gateway errors. Card errors are
// definitive declines; anything without an HTTP status never got an answer.
func classify(op string, err error) error {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) || stripeErr.HTTPStatusCode == 0 {
		return gateway.ConnectionError(Name, op, err)
	}
	if stripeErr.Type == stripego.ErrorTypeCard {
		declined := gateway.Declined(Name, op, stripeErr.Msg)
		declined.Err = err
		return declined
	}
	classified := gateway.Classify(Name, op, stripeErr.HTTPStatusCode, fmt.Sprintf("%s: %s", stripeErr.Code, stripeErr.Msg))
	classified.Err = err
	return classified
}

func rawMeta(resp *stripego.APIResponse, v any) map[string]any {
	if resp != nil && len(resp.RawJSON) > 0 {
		return gateway.RawMeta(resp.RawJSON)
	}
	data, _ := json.Marshal(v)
	return gateway.RawMeta(data)
}

// toMinor converts to the smallest currency unit; zero-decimal currencies
// are not supported
func toMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
