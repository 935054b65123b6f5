package payment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a payment
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorised Status = "authorised"
	StatusCaptured   Status = "captured"
	StatusVoided     Status = "voided"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorised, StatusCaptured, StatusVoided,
		StatusRefunded, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// RefundStatus summarises how much of a payment has been returned
type RefundStatus string

const (
	RefundNone    RefundStatus = "none"
	RefundPartial RefundStatus = "partial"
	RefundFull    RefundStatus = "full"
)

// EventSource identifies who produced a payment event
type EventSource string

const (
	SourceGateway    EventSource = "gateway"
	SourceWebhook    EventSource = "webhook"
	SourceUserAction EventSource = "user_action"
	SourceScheduler  EventSource = "scheduler"
)

// DefaultCurrency is used when a command or webhook carries no currency
const DefaultCurrency = "ZAR"

// Payment is a single money-movement record
type Payment struct {
	ID                string
	Gateway           string
	Amount            decimal.Decimal
	Currency          string
	Status            Status
	GatewayTxnID      string
	MerchantReference string
	GatewayResponse   json.RawMessage
	Metadata          json.RawMessage
	IdempotencyKey    string

	// RefundedAmount is the sum of all refunds recorded for the payment.
	RefundedAmount decimal.Decimal

	// LastEventAt is the timestamp of the newest webhook event applied so far.
	LastEventAt *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// New creates a pending payment with a fresh identifier
func New(gateway string, amount decimal.Decimal, currency string) *Payment {
	if currency == "" {
		currency = DefaultCurrency
	}
	now := time.Now().UTC()
	return &Payment{
		ID:             uuid.NewString(),
		Gateway:        gateway,
		Amount:         amount.Round(2),
		Currency:       currency,
		Status:         StatusPending,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RemainingRefundable returns amount minus everything refunded so far
func (p *Payment) RemainingRefundable() decimal.Decimal {
	remaining := p.Amount.Sub(p.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// FullyRefunded reports whether nothing is left to refund
func (p *Payment) FullyRefunded() bool {
	return p.RefundedAmount.IsPositive() && p.RemainingRefundable().IsZero()
}

// RefundStatus derives the refund marker from the refunded amount
func (p *Payment) RefundStatus() RefundStatus {
	switch {
	case p.RefundedAmount.IsZero():
		return RefundNone
	case p.FullyRefunded():
		return RefundFull
	default:
		return RefundPartial
	}
}

// Refund is a partial or full return of captured funds
type Refund struct {
	ID              string
	PaymentID       string
	Amount          decimal.Decimal
	Reason          string
	Status          string
	GatewayRefundID string
	CreatedAt       time.Time
}

// Event is an append-only audit entry attached to a payment
type Event struct {
	ID             int64
	PaymentID      string
	Type           string
	Message        string
	Payload        json.RawMessage
	Source         EventSource
	ProcessorTxnID string
	CreatedAt      time.Time
}

// NewEvent builds an event, encoding data as its payload
func NewEvent(paymentID, eventType, message string, source EventSource, data any) *Event {
	payload, err := json.Marshal(data)
	if err != nil || data == nil {
		payload = json.RawMessage(`{}`)
	}
	return &Event{
		PaymentID: paymentID,
		Type:      eventType,
		Message:   message,
		Payload:   payload,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// Change groups the writes that must be committed together for one command
// or webhook delivery. Payment is written with a version check, Refund and
// Event are inserted.
type Change struct {
	Payment *Payment
	Refund  *Refund
	Event   *Event
}
