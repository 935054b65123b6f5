package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrUnsupported = errors.New("operation not supported by gateway")

// Kind separates failures worth retrying from final ones
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Failure reasons, used by retry matchers and attempt records
const (
	ReasonConnection  = "connection"
	ReasonTimeout     = "timeout"
	ReasonRateLimited = "rate_limited"
	ReasonServer      = "server_error"
	ReasonClient      = "client_error"
	ReasonDeclined    = "declined"
)

// Error is a classified gateway failure
type Error struct {
	Gateway    string
	Op         string
	Kind       Kind
	Reason     string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (%s, HTTP %d): %s", e.Gateway, e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s failed (%s): %s", e.Gateway, e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is expected to clear on retry
func (e *Error) Transient() bool { return e.Kind == KindTransient }

// FailureKind returns the reason used for retry matching
func (e *Error) FailureKind() string { return e.Reason }

// Status returns the HTTP status the gateway answered with, or 0
func (e *Error) Status() int { return e.StatusCode }

// InDoubt reports whether the request may have reached the gateway without
// an answer coming back
func (e *Error) InDoubt() bool {
	return e.Reason == ReasonConnection || e.Reason == ReasonTimeout
}

// Classify builds an error from a gateway HTTP status code
func Classify(gateway, op string, statusCode int, message string) *Error {
	e := &Error{Gateway: gateway, Op: op, StatusCode: statusCode, Message: message}
	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Kind, e.Reason = KindTransient, ReasonRateLimited
	case statusCode >= 500:
		e.Kind, e.Reason = KindTransient, ReasonServer
	default:
		e.Kind, e.Reason = KindPermanent, ReasonClient
	}
	return e
}

// ConnectionError wraps a transport failure where no response was received
func ConnectionError(gateway, op string, err error) *Error {
	reason := ReasonConnection
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		reason = ReasonTimeout
	}
	return &Error{Gateway: gateway, Op: op, Kind: KindTransient, Reason: reason, Err: err}
}

// Declined wraps a definitive negative answer from the gateway
func Declined(gateway, op, message string) *Error {
	if message == "" {
		message = "declined by gateway"
	}
	return &Error{Gateway: gateway, Op: op, Kind: KindPermanent, Reason: ReasonDeclined, Message: message}
}

// NotConfiguredError is returned for gateway names without a configured adapter
type NotConfiguredError struct {
	Gateway string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("payment gateway '%s' is not configured", e.Gateway)
}

// VerificationError means a webhook signature was missing or wrong
type VerificationError struct {
	Gateway string
	Reason  string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("webhook verification failed for %s: %s", e.Gateway, e.Reason)
}

// ParseError means a webhook payload could not be understood
type ParseError struct {
	Gateway string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s webhook payload: %v", e.Gateway, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
