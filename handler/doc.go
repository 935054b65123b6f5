// Package handler exposes the payment service over HTTP.
//
// PaymentHandler maps the payment API onto the orchestrator:
//
//	POST /payments                 create and authorise (Idempotency-Key honoured)
//	GET  /payments/{id}            payment, refunds and history
//	POST /payments/{id}/capture    {"amount": "60.00"} optional
//	POST /payments/{id}/void
//	POST /payments/{id}/refund     {"amount": "10.00", "reason": "..."}
//
// WebhookHandler verifies gateway notifications synchronously and hands them
// to a webhook.Queue; the reconciliation result never reaches the sender.
//
// Every error is rendered through the response envelope with a stable
// error_code, see errors.go for the mapping.
package handler
