package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/infra/response"
	"github.com/mstgnz/payflow/webhook"
)

// CodeQueueUnavailable is returned when a verified delivery cannot be queued
const CodeQueueUnavailable = "queue_unavailable"

// WebhookVerifier checks a delivery synchronously
type WebhookVerifier interface {
	Verify(gatewayName string, headers http.Header, payload []byte) error
}

// WebhookQueue accepts verified deliveries
type WebhookQueue interface {
	Enqueue(ctx context.Context, d webhook.Delivery) error
}

// WebhookHandler receives gateway notifications. It only verifies and
// queues; reconciliation happens in the worker.
type WebhookHandler struct {
	verifier WebhookVerifier
	queue    WebhookQueue
	log      *logger.SystemLogger
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(verifier WebhookVerifier, queue WebhookQueue, log *logger.SystemLogger) *WebhookHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &WebhookHandler{verifier: verifier, queue: queue, log: log}
}

// PaymentStatus handles POST /webhooks/payment-status/{gateway}
func (h *WebhookHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	gatewayName := strings.ToLower(chi.URLParam(r, "gateway"))
	lc := logger.LogContext{Gateway: gatewayName, RequestID: middleware.GetReqID(r.Context())}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(w, http.StatusRequestEntityTooLarge, CodePayloadInvalid, "Webhook payload too large", nil, nil)
			return
		}
		response.Fail(w, http.StatusBadRequest, CodePayloadInvalid, "Failed to read webhook payload", err, nil)
		return
	}

	if err := h.verifier.Verify(gatewayName, r.Header, payload); err != nil {
		writeError(w, h.log, lc, err, true, nil)
		return
	}
	if len(payload) == 0 || !json.Valid(payload) {
		response.Fail(w, http.StatusBadRequest, CodePayloadInvalid, "Webhook payload must be a JSON document", nil, nil)
		return
	}

	delivery := webhook.NewDelivery(gatewayName, r.Header, payload)
	if err := h.queue.Enqueue(r.Context(), delivery); err != nil {
		h.log.Error("Failed to queue webhook delivery", err, lc)
		response.Fail(w, http.StatusServiceUnavailable, CodeQueueUnavailable, "Webhook could not be queued, retry later", nil, nil)
		return
	}

	h.log.Debug("Webhook delivery queued", logger.LogContext{
		Gateway:   gatewayName,
		RequestID: lc.RequestID,
		Fields:    map[string]any{"delivery_id": delivery.ID},
	})
	response.Success(w, http.StatusOK, "Webhook received", map[string]any{"delivery_id": delivery.ID})
}
