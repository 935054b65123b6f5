// Package orchestrator runs payment commands: each one takes the payment
// lock, checks the state machine, wraps the gateway call in an idempotency
// key and the retry policy, then commits the new state with one audit event.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mstgnz/payflow/gateway"
	"github.com/mstgnz/payflow/idempotency"
	"github.com/mstgnz/payflow/infra/lock"
	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/payment"
	"github.com/mstgnz/payflow/retry"
)

// Store is the persistence the orchestrator needs
type Store interface {
	CreatePayment(ctx context.Context, p *payment.Payment) error
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	Save(ctx context.Context, change payment.Change) error
	ListEvents(ctx context.Context, paymentID string) ([]*payment.Event, error)
	ListRefunds(ctx context.Context, paymentID string) ([]*payment.Refund, error)
}

// Gateways resolves configured adapters by name
type Gateways interface {
	Get(name string) (gateway.Adapter, error)
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Store      Store
	Gateways   Gateways
	Guard      *idempotency.Guard
	Retry      *retry.Engine
	Strategies []retry.Strategy
	Locker     lock.Locker
	Sink       payment.EventSink
	Logger     *logger.SystemLogger
	// CommandTimeout bounds a whole command including retries; zero disables it
	CommandTimeout time.Duration
}

// Orchestrator executes payment commands
type Orchestrator struct {
	store      Store
	gateways   Gateways
	guard      *idempotency.Guard
	retry      *retry.Engine
	strategies []retry.Strategy
	locker     lock.Locker
	sink       payment.EventSink
	log        *logger.SystemLogger
	timeout    time.Duration
}

// New creates an orchestrator. Missing optional collaborators get defaults.
func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if d.Sink == nil {
		d.Sink = payment.NopSink{}
	}
	if d.Strategies == nil {
		d.Strategies = retry.DefaultStrategies()
	}
	return &Orchestrator{
		store:      d.Store,
		gateways:   d.Gateways,
		guard:      d.Guard,
		retry:      d.Retry,
		strategies: d.Strategies,
		locker:     d.Locker,
		sink:       d.Sink,
		log:        d.Logger,
		timeout:    d.CommandTimeout,
	}
}

// AuthoriseCommand creates a payment and reserves funds
type AuthoriseCommand struct {
	Gateway           string
	Amount            decimal.Decimal
	Currency          string
	Token             string
	MerchantReference string
	Metadata          json.RawMessage
	// IdempotencyKey is the caller's optional key for the whole create call
	IdempotencyKey string
}

// AuthoriseResult is the outcome of CreateAndAuthorise
type AuthoriseResult struct {
	PaymentID     string          `json:"payment_id"`
	Status        payment.Status  `json:"status"`
	Gateway       string          `json:"gateway"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id,omitempty"`
	GatewayMeta   map[string]any  `json:"gateway_meta,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// CommandResult is the outcome of capture, void and refund
type CommandResult struct {
	PaymentID           string               `json:"payment_id"`
	Status              payment.Status       `json:"status"`
	RefundStatus        payment.RefundStatus `json:"refund_status"`
	Amount              decimal.Decimal      `json:"amount"`
	RemainingRefundable decimal.Decimal      `json:"remaining_refundable"`
	TransactionID       string               `json:"transaction_id,omitempty"`
	RefundID            string               `json:"refund_id,omitempty"`
	GatewayMeta         map[string]any       `json:"gateway_meta,omitempty"`
}

// PaymentView is a payment with its refunds and event history
type PaymentView struct {
	Payment *payment.Payment
	Refunds []*payment.Refund
	History []*payment.Event
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// CreateAndAuthorise creates a pending payment and authorises it. A gateway
// decline leaves the payment failed and returns the result together with a
// permanent *gateway.Error.
func (o *Orchestrator) CreateAndAuthorise(ctx context.Context, cmd AuthoriseCommand) (*AuthoriseResult, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	cmd.Amount = cmd.Amount.Round(2)
	cmd.Currency = strings.ToUpper(cmd.Currency)
	if !cmd.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", payment.ErrInvalidAmount)
	}
	adapter, err := o.gateways.Get(cmd.Gateway)
	if err != nil {
		return nil, err
	}

	var result AuthoriseResult
	if cmd.IdempotencyKey == "" {
		result, err = o.createAndAuthorise(ctx, adapter, cmd)
	} else {
		result, err = idempotency.Execute(ctx, o.guard, "create:"+cmd.IdempotencyKey, "create:"+fingerprint(cmd),
			func(ctx context.Context) (AuthoriseResult, error) {
				return o.createAndAuthorise(ctx, adapter, cmd)
			})
	}
	if err != nil {
		if result.PaymentID == "" {
			return nil, err
		}
		return &result, err
	}
	if result.Status == payment.StatusFailed {
		return &result, gateway.Declined(cmd.Gateway, "authorise", result.Message)
	}
	return &result, nil
}

// createAndAuthorise returns a nil error for declines so the outcome can be
// stored under the caller's idempotency key
func (o *Orchestrator) createAndAuthorise(ctx context.Context, adapter gateway.Adapter, cmd AuthoriseCommand) (AuthoriseResult, error) {
	p := payment.New(cmd.Gateway, cmd.Amount, cmd.Currency)
	p.MerchantReference = cmd.MerchantReference
	p.Metadata = cmd.Metadata
	p.IdempotencyKey = cmd.IdempotencyKey
	if err := o.store.CreatePayment(ctx, p); err != nil {
		return AuthoriseResult{}, err
	}

	unlock, err := o.locker.Lock(ctx, lock.PaymentKey(p.ID))
	if err != nil {
		return AuthoriseResult{}, err
	}
	defer unlock()

	res, callErr := idempotency.Execute(ctx, o.guard, "authorise:"+p.ID, "authorise",
		func(ctx context.Context) (gateway.PaymentResult, error) {
			return o.invoke(ctx, p.ID, "authorise", func(ctx context.Context) (*gateway.PaymentResult, error) {
				return adapter.Authorise(ctx, gateway.AuthoriseRequest{
					PaymentID:         p.ID,
					Amount:            p.Amount,
					Currency:          p.Currency,
					Token:             cmd.Token,
					MerchantReference: p.MerchantReference,
					IdempotencyKey:    "authorise:" + p.ID,
				})
			})
		})

	switch {
	case callErr == nil && res.Success:
		_, err = payment.Transition(p, payment.StatusAuthorised)
		p.GatewayTxnID = firstNonEmpty(res.TransactionID, p.GatewayTxnID)
		p.GatewayResponse = encodeMeta(res.Meta)
	case callErr == nil || !inDoubt(callErr):
		_, err = payment.Transition(p, payment.StatusFailed)
		if callErr == nil {
			p.GatewayResponse = encodeMeta(res.Meta)
		}
	}
	if err != nil {
		return AuthoriseResult{}, err
	}

	event := attemptEvent(p.ID, "authorise", &res, callErr)
	if err := o.commit(ctx, payment.Change{Payment: p, Event: event}); err != nil {
		return AuthoriseResult{}, err
	}

	out := AuthoriseResult{
		PaymentID:     p.ID,
		Status:        p.Status,
		Gateway:       p.Gateway,
		Amount:        p.Amount,
		Currency:      p.Currency,
		TransactionID: p.GatewayTxnID,
		GatewayMeta:   res.Meta,
		Message:       res.Message,
	}
	return out, callErr
}

// Capture settles an authorised payment in full. A given amount must equal
// the authorised amount; partial captures are not supported.
func (o *Orchestrator) Capture(ctx context.Context, id string, amount *decimal.Decimal) (*CommandResult, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	return o.command(ctx, id, "capture",
		func(p *payment.Payment) (decimal.Decimal, error) {
			if err := payment.EnsureCanCapture(p); err != nil {
				return decimal.Zero, err
			}
			if amount != nil && !amount.Round(2).Equal(p.Amount) {
				return decimal.Zero, fmt.Errorf("%w: capture amount must equal the authorised amount %s", payment.ErrInvalidAmount, p.Amount.StringFixed(2))
			}
			return p.Amount, nil
		},
		func(ctx context.Context, adapter gateway.Adapter, p *payment.Payment, value decimal.Decimal, key string) (*gateway.PaymentResult, error) {
			return adapter.Capture(ctx, gateway.CaptureRequest{
				PaymentID:      p.ID,
				TransactionID:  p.GatewayTxnID,
				Amount:         value,
				Currency:       p.Currency,
				IdempotencyKey: key,
			})
		},
		func(p *payment.Payment, res gateway.PaymentResult, _ decimal.Decimal, change *payment.Change) error {
			if _, err := payment.Transition(p, payment.StatusCaptured); err != nil {
				return err
			}
			// some gateways refund against a capture id rather than the authorisation
			p.GatewayTxnID = firstNonEmpty(res.TransactionID, p.GatewayTxnID)
			p.GatewayResponse = encodeMeta(res.Meta)
			return nil
		})
}

// Void cancels an authorised payment
func (o *Orchestrator) Void(ctx context.Context, id string) (*CommandResult, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	return o.command(ctx, id, "void",
		func(p *payment.Payment) (decimal.Decimal, error) {
			return p.Amount, payment.EnsureCanVoid(p)
		},
		func(ctx context.Context, adapter gateway.Adapter, p *payment.Payment, value decimal.Decimal, key string) (*gateway.PaymentResult, error) {
			return adapter.Void(ctx, gateway.VoidRequest{
				PaymentID:      p.ID,
				TransactionID:  p.GatewayTxnID,
				Amount:         value,
				Currency:       p.Currency,
				IdempotencyKey: key,
			})
		},
		func(p *payment.Payment, res gateway.PaymentResult, _ decimal.Decimal, change *payment.Change) error {
			if _, err := payment.Transition(p, payment.StatusVoided); err != nil {
				return err
			}
			p.GatewayResponse = encodeMeta(res.Meta)
			return nil
		})
}

// Refund returns captured funds. amount defaults to everything still
// refundable; the payment becomes refunded once nothing remains.
func (o *Orchestrator) Refund(ctx context.Context, id string, amount *decimal.Decimal, reason string) (*CommandResult, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	return o.command(ctx, id, "refund",
		func(p *payment.Payment) (decimal.Decimal, error) {
			value := p.RemainingRefundable()
			if amount != nil {
				value = amount.Round(2)
			}
			return value, payment.EnsureCanRefund(p, value)
		},
		func(ctx context.Context, adapter gateway.Adapter, p *payment.Payment, value decimal.Decimal, key string) (*gateway.PaymentResult, error) {
			return adapter.Refund(ctx, gateway.RefundRequest{
				PaymentID:      p.ID,
				TransactionID:  p.GatewayTxnID,
				Amount:         value,
				Currency:       p.Currency,
				Reason:         reason,
				IdempotencyKey: key,
			})
		},
		func(p *payment.Payment, res gateway.PaymentResult, value decimal.Decimal, change *payment.Change) error {
			change.Refund = &payment.Refund{
				ID:              uuid.NewString(),
				PaymentID:       p.ID,
				Amount:          value,
				Reason:          reason,
				Status:          "succeeded",
				GatewayRefundID: res.TransactionID,
				CreatedAt:       time.Now().UTC(),
			}
			p.RefundedAmount = p.RefundedAmount.Add(value)
			p.GatewayResponse = encodeMeta(res.Meta)
			if p.FullyRefunded() {
				if _, err := payment.Transition(p, payment.StatusRefunded); err != nil {
					return err
				}
			}
			return nil
		})
}

type (
	guardFunc func(p *payment.Payment) (decimal.Decimal, error)
	callFunc  func(ctx context.Context, adapter gateway.Adapter, p *payment.Payment, value decimal.Decimal, key string) (*gateway.PaymentResult, error)
	applyFunc func(p *payment.Payment, res gateway.PaymentResult, value decimal.Decimal, change *payment.Change) error
)

// command is the shared shape of capture, void and refund
func (o *Orchestrator) command(ctx context.Context, id, op string, guard guardFunc, call callFunc, apply applyFunc) (*CommandResult, error) {
	unlock, err := o.locker.Lock(ctx, lock.PaymentKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := o.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	value, err := guard(p)
	if err != nil {
		return nil, err
	}
	adapter, err := o.gateways.Get(p.Gateway)
	if err != nil {
		return nil, err
	}

	key := op + ":" + p.ID
	if op == "refund" {
		key += ":" + uuid.NewString()
	}
	res, callErr := idempotency.Execute(ctx, o.guard, key, op,
		func(ctx context.Context) (gateway.PaymentResult, error) {
			return o.invoke(ctx, p.ID, op, func(ctx context.Context) (*gateway.PaymentResult, error) {
				return call(ctx, adapter, p, value, key)
			})
		})

	change := payment.Change{Payment: p}
	if callErr == nil && res.Success {
		if err := apply(p, res, value, &change); err != nil {
			return nil, err
		}
	}
	change.Event = attemptEvent(p.ID, op, &res, callErr)
	if err := o.commit(ctx, change); err != nil {
		return nil, err
	}

	if callErr != nil {
		return nil, callErr
	}
	if !res.Success {
		return nil, gateway.Declined(p.Gateway, op, res.Message)
	}

	out := &CommandResult{
		PaymentID:           p.ID,
		Status:              p.Status,
		RefundStatus:        p.RefundStatus(),
		Amount:              value,
		RemainingRefundable: p.RemainingRefundable(),
		TransactionID:       p.GatewayTxnID,
		GatewayMeta:         res.Meta,
	}
	if change.Refund != nil {
		out.RefundID = change.Refund.ID
		out.TransactionID = change.Refund.GatewayRefundID
	}
	return out, nil
}

// invoke runs one gateway operation under the retry policy
func (o *Orchestrator) invoke(ctx context.Context, paymentID, op string, fn func(ctx context.Context) (*gateway.PaymentResult, error)) (gateway.PaymentResult, error) {
	var result *gateway.PaymentResult
	err := o.retry.Do(ctx, retry.Call{PaymentID: paymentID, Operation: op}, o.strategies,
		func(ctx context.Context, attempt int) error {
			res, err := fn(ctx)
			if err != nil {
				return err
			}
			if res == nil {
				return fmt.Errorf("%s returned no result", op)
			}
			result = res
			return nil
		})
	if err != nil {
		return gateway.PaymentResult{}, err
	}
	return *result, nil
}

// commit persists the change even if the caller has gone away, because the
// gateway call it records has already happened
func (o *Orchestrator) commit(ctx context.Context, change payment.Change) error {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.Save(ctx, change); err != nil {
		o.log.Error("Failed to persist payment change", err, logger.LogContext{
			PaymentID: change.Payment.ID,
			Gateway:   change.Payment.Gateway,
		})
		return err
	}
	if change.Event != nil {
		o.sink.Publish(ctx, change.Payment, change.Event)
	}
	return nil
}

// Get returns a payment with its refunds and history
func (o *Orchestrator) Get(ctx context.Context, id string) (*PaymentView, error) {
	p, err := o.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	refunds, err := o.store.ListRefunds(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := o.store.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PaymentView{Payment: p, Refunds: refunds, History: history}, nil
}

// attemptEvent records the outcome of one command, success or not
func attemptEvent(paymentID, op string, res *gateway.PaymentResult, callErr error) *payment.Event {
	data := map[string]any{"success": false}
	var message string
	switch {
	case callErr != nil:
		data["error"] = callErr.Error()
		data["failure_kind"] = retry.KindOf(callErr)
		var gwErr *gateway.Error
		if errors.As(callErr, &gwErr) {
			data["transient"] = gwErr.Transient()
			data["status_code"] = gwErr.StatusCode
		}
		message = op + " failed: " + callErr.Error()
	case res.Success:
		data["success"] = true
		data["transaction_id"] = res.TransactionID
		data["result"] = res.Meta
		if res.Amount != nil {
			data["amount"] = res.Amount.StringFixed(2)
		}
		message = op + " succeeded"
	default:
		data["result"] = res.Meta
		data["message"] = res.Message
		message = op + " declined"
		if res.Message != "" {
			message += ": " + res.Message
		}
	}
	return payment.NewEvent(paymentID, op+"_attempt", message, payment.SourceGateway, data)
}

// inDoubt reports failures after which the gateway may still have acted
func inDoubt(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var d interface{ InDoubt() bool }
	return errors.As(err, &d) && d.InDoubt()
}

func encodeMeta(meta map[string]any) json.RawMessage {
	if meta == nil {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return data
}

// fingerprint ties a client idempotency key to the request it was first used with
func fingerprint(cmd AuthoriseCommand) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		cmd.Gateway, cmd.Amount.StringFixed(2), cmd.Currency, cmd.Token, cmd.MerchantReference,
	}, "|")))
	return hex.EncodeToString(sum[:8])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
