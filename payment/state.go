package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusAuthorised, StatusCaptured, StatusFailed},
	StatusUnknown:    {StatusAuthorised, StatusCaptured, StatusVoided, StatusRefunded, StatusFailed},
	StatusAuthorised: {StatusCaptured, StatusVoided, StatusFailed},
	StatusCaptured:   {StatusRefunded},
}

// CanTransition reports whether a payment may move from one status to another
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the payment to status to. Requesting the current status is
// a no-op and reports changed=false.
func Transition(p *Payment, to Status) (changed bool, err error) {
	if !to.Valid() {
		return false, fmt.Errorf("invalid payment status %q", to)
	}
	if p.Status == to {
		return false, nil
	}
	if !CanTransition(p.Status, to) {
		return false, &StateConflictError{
			Operation: "transition",
			From:      p.Status,
			To:        to,
			Reason:    fmt.Sprintf("%s is not reachable from %s", to, p.Status),
		}
	}
	p.Status = to
	return true, nil
}

// EnsureCanCapture checks that an authorised, unrefunded payment may be captured
func EnsureCanCapture(p *Payment) error {
	if p.Status != StatusAuthorised {
		return conflict("capture", p, "only authorised payments can be captured")
	}
	if !p.RemainingRefundable().Equal(p.Amount) {
		return conflict("capture", p, "payment has refunds recorded")
	}
	return nil
}

// EnsureCanVoid checks that an authorised payment may be voided
func EnsureCanVoid(p *Payment) error {
	if p.Status != StatusAuthorised {
		return conflict("void", p, "only authorised payments can be voided")
	}
	if p.FullyRefunded() {
		return conflict("void", p, "payment is fully refunded")
	}
	return nil
}

// EnsureCanRefund checks that amount can be returned from a captured payment
func EnsureCanRefund(p *Payment, amount decimal.Decimal) error {
	if p.Status == StatusVoided {
		return conflict("refund", p, "voided payments cannot be refunded")
	}
	if p.Status != StatusCaptured {
		return conflict("refund", p, "only captured payments can be refunded")
	}
	remaining := p.RemainingRefundable()
	if remaining.IsZero() {
		return conflict("refund", p, "nothing left to refund")
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: refund amount must be greater than zero", ErrInvalidAmount)
	}
	if amount.GreaterThan(remaining) {
		return conflict("refund", p, fmt.Sprintf("refund %s exceeds remaining %s", amount.StringFixed(2), remaining.StringFixed(2)))
	}
	return nil
}

func conflict(op string, p *Payment, reason string) *StateConflictError {
	return &StateConflictError{Operation: op, From: p.Status, Reason: reason}
}
