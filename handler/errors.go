package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mstgnz/payflow/gateway"
	"github.com/mstgnz/payflow/idempotency"
	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/infra/response"
	"github.com/mstgnz/payflow/infra/validate"
	"github.com/mstgnz/payflow/payment"
	"github.com/mstgnz/payflow/retry"
)

// Error codes returned in the response envelope
const (
	CodeValidationFailed      = "validation_failed"
	CodePaymentNotFound       = "payment_not_found"
	CodeStateConflict         = "state_conflict"
	CodeConcurrentUpdate      = "concurrent_update"
	CodeIdempotencyInProgress = "idempotency_in_progress"
	CodeIdempotencyConflict   = "idempotency_key_conflict"
	CodeGatewayNotConfigured  = "gateway_not_configured"
	CodeGatewayDeclined       = "gateway_declined"
	CodeGatewayUnavailable    = "gateway_unavailable"
	CodeSignatureInvalid      = "webhook_signature_invalid"
	CodePayloadInvalid        = "webhook_payload_invalid"
	CodeTimeout               = "timeout"
	CodeInternal              = "internal_error"
)

type apiError struct {
	status  int
	code    string
	message string
}

// classify maps a domain error onto an HTTP status and error code. On the
// webhook route an unknown gateway is a 404 rather than a 422.
func classify(err error, webhookRoute bool) apiError {
	var (
		verrs      validator.ValidationErrors
		race       *idempotency.RaceError
		keyClash   *idempotency.KeyConflictError
		notConf    *gateway.NotConfiguredError
		verify     *gateway.VerificationError
		parse      *gateway.ParseError
		aborted    *retry.AbortedError
		gatewayErr *gateway.Error
	)
	switch {
	case errors.As(err, &verrs), errors.Is(err, payment.ErrInvalidAmount):
		return apiError{http.StatusBadRequest, CodeValidationFailed, "Validation error"}
	case errors.Is(err, payment.ErrNotFound):
		return apiError{http.StatusNotFound, CodePaymentNotFound, "Payment not found"}
	case payment.IsStateConflict(err):
		return apiError{http.StatusConflict, CodeStateConflict, "Operation not allowed in the current payment state"}
	case errors.Is(err, payment.ErrConcurrentUpdate):
		return apiError{http.StatusConflict, CodeConcurrentUpdate, "Payment was modified concurrently, retry the request"}
	case errors.As(err, &race):
		return apiError{http.StatusConflict, CodeIdempotencyInProgress, "Operation already in progress"}
	case errors.As(err, &keyClash):
		return apiError{http.StatusUnprocessableEntity, CodeIdempotencyConflict, "Idempotency key reused with a different request"}
	case errors.As(err, &notConf):
		if webhookRoute {
			return apiError{http.StatusNotFound, CodeGatewayNotConfigured, "Gateway not configured"}
		}
		return apiError{http.StatusUnprocessableEntity, CodeGatewayNotConfigured, "Gateway not configured"}
	case errors.As(err, &verify):
		return apiError{http.StatusUnauthorized, CodeSignatureInvalid, "Webhook signature verification failed"}
	case errors.As(err, &parse):
		return apiError{http.StatusBadRequest, CodePayloadInvalid, "Webhook payload could not be parsed"}
	case errors.As(err, &aborted), errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, CodeTimeout, "Operation timed out"}
	case errors.As(err, &gatewayErr):
		if gatewayErr.Transient() {
			return apiError{http.StatusServiceUnavailable, CodeGatewayUnavailable, "Gateway temporarily unavailable"}
		}
		return apiError{http.StatusPaymentRequired, CodeGatewayDeclined, "Gateway declined the operation"}
	default:
		return apiError{http.StatusInternalServerError, CodeInternal, "Internal server error"}
	}
}

// writeError renders err through classify. data rides along in the envelope,
// which lets a declined authorisation still return the failed payment.
func writeError(w http.ResponseWriter, log *logger.SystemLogger, lc logger.LogContext, err error, webhookRoute bool, data any) {
	ae := classify(err, webhookRoute)
	if ae.status >= http.StatusInternalServerError && ae.status != http.StatusServiceUnavailable && ae.status != http.StatusGatewayTimeout {
		log.Error("Request failed", err, lc)
	}

	shown := err
	if ae.code == CodeInternal {
		shown = errors.New("an unexpected error occurred")
	}
	if msgs := validate.Messages(err); msgs != nil && data == nil {
		data = map[string]any{"fields": msgs}
	}
	response.Fail(w, ae.status, ae.code, ae.message, shown, data)
}
