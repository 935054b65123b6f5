// Package webhook turns gateway notifications into payment state.
//
// A delivery is verified, parsed into a canonical event, resolved to a
// payment (or a placeholder), checked against the payment's last applied
// event time and its event log, then applied through the state machine.
// Running the pipeline twice for the same delivery is harmless.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mstgnz/payflow/gateway"
	"github.com/mstgnz/payflow/infra/lock"
	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/payment"
)

// Canonical event types understood by the reconciler
const (
	EventAuthorized = "payment_authorized"
	EventCaptured   = "payment_captured"
	EventFailed     = "payment_failed"
	EventRefunded   = "payment_refunded"
	EventVoided     = "payment_voided"
)

var eventTransitions = map[string]payment.Status{
	EventAuthorized: payment.StatusAuthorised,
	EventCaptured:   payment.StatusCaptured,
	EventFailed:     payment.StatusFailed,
	EventRefunded:   payment.StatusRefunded,
	EventVoided:     payment.StatusVoided,
}

var (
	// ErrStaleEvent means the event is older than the last one applied
	ErrStaleEvent = errors.New("webhook event is older than the last applied event")
	// ErrDuplicateEvent means the event was already applied
	ErrDuplicateEvent = errors.New("webhook event already applied")
	// ErrUnresolved means no payment matched and none could be created
	ErrUnresolved = errors.New("webhook event does not match any payment")
)

// IsNoop reports whether err is an expected discard of a redelivered or
// reordered event
func IsNoop(err error) bool {
	return errors.Is(err, ErrStaleEvent) || errors.Is(err, ErrDuplicateEvent)
}

// IsTerminal reports whether retrying the delivery can never succeed
func IsTerminal(err error) bool {
	var (
		verr *gateway.VerificationError
		perr *gateway.ParseError
		nerr *gateway.NotConfiguredError
	)
	return errors.As(err, &verr) || errors.As(err, &perr) || errors.As(err, &nerr) ||
		errors.Is(err, ErrUnresolved)
}

// Delivery is one inbound notification as received over HTTP
type Delivery struct {
	ID         string      `json:"id"`
	Gateway    string      `json:"gateway"`
	Headers    http.Header `json:"headers"`
	Payload    []byte      `json:"payload"`
	ReceivedAt time.Time   `json:"received_at"`
}

// NewDelivery stamps a delivery with an id and receive time
func NewDelivery(gatewayName string, headers http.Header, payload []byte) Delivery {
	return Delivery{
		ID:         uuid.NewString(),
		Gateway:    gatewayName,
		Headers:    headers.Clone(),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

// Outcome describes what a successful reconciliation did
type Outcome struct {
	PaymentID    string
	EventType    string
	Status       payment.Status
	Placeholder  bool
	Transitioned bool
	// Logged is set when the gateway cannot parse notifications and only the
	// raw payload was recorded
	Logged bool
}

// Store is the persistence the reconciler needs
type Store interface {
	CreatePayment(ctx context.Context, p *payment.Payment) error
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	FindByMerchantReference(ctx context.Context, gateway, reference string) (*payment.Payment, error)
	FindByTransactionID(ctx context.Context, gateway, txnID string) (*payment.Payment, error)
	HasEvent(ctx context.Context, paymentID, processorTxnID string) (bool, error)
	Save(ctx context.Context, change payment.Change) error
}

// Gateways resolves configured adapters by name
type Gateways interface {
	Get(name string) (gateway.Adapter, error)
}

// Reconciler applies webhook deliveries to payments
type Reconciler struct {
	store    Store
	gateways Gateways
	locker   lock.Locker
	sink     payment.EventSink
	log      *logger.SystemLogger
}

// NewReconciler creates a reconciler. locker must be shared with the
// orchestrator so commands and webhooks serialize on the same payment.
func NewReconciler(store Store, gateways Gateways, locker lock.Locker, sink payment.EventSink, log *logger.SystemLogger) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if sink == nil {
		sink = payment.NopSink{}
	}
	return &Reconciler{store: store, gateways: gateways, locker: locker, sink: sink, log: log}
}

// Verify checks a delivery's signature when the gateway supports it. It is
// meant to run synchronously so that a bad signature is rejected to the sender.
func (r *Reconciler) Verify(gatewayName string, headers http.Header, payload []byte) error {
	adapter, err := r.gateways.Get(gatewayName)
	if err != nil {
		return err
	}
	if !adapter.Capabilities().VerifyWebhook {
		return nil
	}
	return adapter.VerifyWebhook(headers, payload)
}

// Reconcile runs the full pipeline for one delivery
func (r *Reconciler) Reconcile(ctx context.Context, d Delivery) (*Outcome, error) {
	adapter, err := r.gateways.Get(d.Gateway)
	if err != nil {
		return nil, err
	}
	caps := adapter.Capabilities()

	if caps.VerifyWebhook {
		if err := adapter.VerifyWebhook(d.Headers, d.Payload); err != nil {
			return nil, err
		}
	}

	if !caps.ParseWebhook {
		r.log.Info("Webhook received for gateway without parser", logger.LogContext{
			Gateway: d.Gateway,
			Fields:  map[string]any{"delivery_id": d.ID, "payload": string(d.Payload)},
		})
		return &Outcome{Logged: true}, nil
	}

	event, err := adapter.ParseWebhook(d.Payload)
	if err != nil {
		var perr *gateway.ParseError
		if !errors.As(err, &perr) {
			err = &gateway.ParseError{Gateway: d.Gateway, Err: err}
		}
		return nil, err
	}
	if event.Currency == "" {
		event.Currency = payment.DefaultCurrency
	}

	target, placeholder, err := r.resolve(ctx, d.Gateway, event, caps.VerifyWebhook)
	if err != nil {
		return nil, err
	}

	unlock, err := r.locker.Lock(ctx, lock.PaymentKey(target.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := r.store.GetPayment(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	lc := logger.LogContext{
		Gateway:   d.Gateway,
		PaymentID: p.ID,
		Fields:    map[string]any{"delivery_id": d.ID, "event_type": event.EventType},
	}

	if !event.Timestamp.IsZero() && p.LastEventAt != nil && event.Timestamp.Before(*p.LastEventAt) {
		return nil, fmt.Errorf("%w: %s at %s, last applied %s", ErrStaleEvent, event.EventType,
			event.Timestamp.Format(time.RFC3339), p.LastEventAt.Format(time.RFC3339))
	}

	processorID := event.ProcessorID()
	seen, err := r.store.HasEvent(ctx, p.ID, processorID)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, processorID)
	}

	change := payment.Change{Payment: p}
	change.Event = payment.NewEvent(p.ID, event.EventType,
		fmt.Sprintf("webhook %s received", event.EventType), payment.SourceWebhook,
		map[string]any{"delivery_id": d.ID, "event": event})
	change.Event.ProcessorTxnID = processorID

	if !event.Timestamp.IsZero() && (p.LastEventAt == nil || event.Timestamp.After(*p.LastEventAt)) {
		ts := event.Timestamp.UTC()
		p.LastEventAt = &ts
	}
	if p.GatewayTxnID == "" {
		p.GatewayTxnID = event.TransactionID
	}

	outcome := &Outcome{PaymentID: p.ID, EventType: event.EventType, Placeholder: placeholder}
	if to, ok := eventTransitions[event.EventType]; ok {
		changed, err := payment.Transition(p, to)
		switch {
		case err != nil:
			// the event is kept for audit even when the state machine refuses it
			r.log.Warn("Webhook transition rejected", withField(lc, "error", err.Error()))
		case changed && to == payment.StatusRefunded:
			change.Refund = settleRefund(p, event)
		}
		outcome.Transitioned = changed
	}

	if err := r.store.Save(ctx, change); err != nil {
		if errors.Is(err, payment.ErrDuplicateEvent) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, processorID)
		}
		return nil, err
	}
	r.sink.Publish(context.WithoutCancel(ctx), p, change.Event)

	outcome.Status = p.Status
	r.log.Info("Webhook applied", withField(lc, "status", string(p.Status)))
	return outcome, nil
}

// resolve finds the payment an event belongs to. Placeholders are only
// created for verified deliveries.
func (r *Reconciler) resolve(ctx context.Context, gatewayName string, event *gateway.WebhookEvent, verified bool) (*payment.Payment, bool, error) {
	p, err := r.find(ctx, gatewayName, event)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, payment.ErrNotFound) {
		return nil, false, err
	}
	if !verified {
		r.log.Warn("Unverified webhook does not match any payment", logger.LogContext{
			Gateway: gatewayName,
			Fields: map[string]any{
				"merchant_reference": event.MerchantReference,
				"transaction_id":     event.TransactionID,
			},
		})
		return nil, false, ErrUnresolved
	}

	ref := event.MerchantReference
	if ref == "" {
		ref = event.TransactionID
	}
	if ref == "" {
		ref = event.ProcessorID()
	}
	unlock, err := r.locker.Lock(ctx, lock.ReferenceKey(gatewayName, ref))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	// another delivery may have created it while we waited
	if p, err := r.find(ctx, gatewayName, event); err == nil {
		return p, false, nil
	} else if !errors.Is(err, payment.ErrNotFound) {
		return nil, false, err
	}

	p = payment.New(gatewayName, event.Amount, event.Currency)
	p.Status = payment.StatusUnknown
	p.MerchantReference = event.MerchantReference
	p.GatewayTxnID = event.TransactionID
	if err := r.store.CreatePayment(ctx, p); err != nil {
		return nil, false, err
	}
	r.log.Info("Created placeholder payment for unmatched webhook", logger.LogContext{
		Gateway:   gatewayName,
		PaymentID: p.ID,
		Fields:    map[string]any{"event_type": event.EventType},
	})
	return p, true, nil
}

func (r *Reconciler) find(ctx context.Context, gatewayName string, event *gateway.WebhookEvent) (*payment.Payment, error) {
	if event.MerchantReference != "" {
		p, err := r.store.FindByMerchantReference(ctx, gatewayName, event.MerchantReference)
		if err == nil || !errors.Is(err, payment.ErrNotFound) {
			return p, err
		}
	}
	if event.TransactionID != "" {
		return r.store.FindByTransactionID(ctx, gatewayName, event.TransactionID)
	}
	return nil, payment.ErrNotFound
}

// settleRefund records whatever was still refundable when the gateway
// reports a full refund the service did not initiate
func settleRefund(p *payment.Payment, event *gateway.WebhookEvent) *payment.Refund {
	remaining := p.RemainingRefundable()
	if !remaining.IsPositive() {
		return nil
	}
	p.RefundedAmount = p.RefundedAmount.Add(remaining)
	return &payment.Refund{
		ID:              uuid.NewString(),
		PaymentID:       p.ID,
		Amount:          remaining,
		Reason:          "refunded at gateway",
		Status:          "succeeded",
		GatewayRefundID: event.TransactionID,
		CreatedAt:       time.Now().UTC(),
	}
}

func withField(lc logger.LogContext, key string, value any) logger.LogContext {
	fields := make(map[string]any, len(lc.Fields)+1)
	for k, v := range lc.Fields {
		fields[k] = v
	}
	fields[key] = value
	lc.Fields = fields
	return lc
}
