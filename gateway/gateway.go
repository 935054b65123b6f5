package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Capabilities declares the optional operations an adapter supports
type Capabilities struct {
	VerifyWebhook bool `json:"verify_webhook"`
	ParseWebhook  bool `json:"parse_webhook"`
}

// PaymentResult is the canonical outcome of a gateway call
type PaymentResult struct {
	Success       bool             `json:"success"`
	TransactionID string           `json:"transaction_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Message       string           `json:"message,omitempty"`
	Meta          map[string]any   `json:"meta,omitempty"`
}

// AuthoriseRequest reserves funds against an opaque payment token
type AuthoriseRequest struct {
	PaymentID         string
	Amount            decimal.Decimal
	Currency          string
	Token             string
	MerchantReference string
	// IdempotencyKey is forwarded to gateways that deduplicate requests
	IdempotencyKey string
}

// CaptureRequest settles a prior authorisation
type CaptureRequest struct {
	PaymentID      string
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// VoidRequest cancels an authorisation before capture
type VoidRequest struct {
	PaymentID      string
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// RefundRequest returns captured funds
type RefundRequest struct {
	PaymentID     string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Reason        string
	// IdempotencyKey is unique per refund so partial refunds stay distinct
	IdempotencyKey string
}

// RequestKey returns the idempotency key to send with a gateway call,
// falling back to the operation and payment id
func RequestKey(key, op, paymentID string) string {
	if key != "" {
		return key
	}
	return op + ":" + paymentID
}

// WebhookEvent is a gateway notification in canonical form
type WebhookEvent struct {
	EventType         string          `json:"event_type"`
	MerchantReference string          `json:"merchant_reference,omitempty"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	ProviderEventID   string          `json:"provider_event_id,omitempty"`
	Meta              map[string]any  `json:"meta,omitempty"`
}

// ProcessorID identifies the event for deduplication: the provider's own
// event id, or transaction id and event type combined
func (e *WebhookEvent) ProcessorID() string {
	if e.ProviderEventID != "" {
		return e.ProviderEventID
	}
	return e.TransactionID + ":" + e.EventType
}

// ConfigField represents a configuration entry a gateway needs
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // "string", "url", "boolean", "secret"
	Description string `json:"description"`
	Example     string `json:"example"`
	Pattern     string `json:"pattern,omitempty"`
	MinLength   int    `json:"min_length,omitempty"`
}

// Adapter is the contract every payment gateway implements
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	RequiredConfig() []ConfigField
	Initialize(config map[string]string) error

	Authorise(ctx context.Context, req AuthoriseRequest) (*PaymentResult, error)
	Capture(ctx context.Context, req CaptureRequest) (*PaymentResult, error)
	Void(ctx context.Context, req VoidRequest) (*PaymentResult, error)
	Refund(ctx context.Context, req RefundRequest) (*PaymentResult, error)

	// VerifyWebhook and ParseWebhook are only called when the matching
	// capability is declared.
	VerifyWebhook(headers http.Header, payload []byte) error
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// Factory creates an uninitialised adapter
type Factory func() Adapter

// NoWebhooks can be embedded by adapters without webhook support
type NoWebhooks struct{}

func (NoWebhooks) VerifyWebhook(http.Header, []byte) error {
	return ErrUnsupported
}

func (NoWebhooks) ParseWebhook([]byte) (*WebhookEvent, error) {
	return nil, ErrUnsupported
}

// RawMeta decodes a JSON body into a meta map, keeping the raw text when the
// body is not an object
func RawMeta(body []byte) map[string]any {
	meta := map[string]any{}
	if len(body) == 0 {
		return meta
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return map[string]any{"raw": string(body)}
	}
	return meta
}
