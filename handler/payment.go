package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/infra/response"
	"github.com/mstgnz/payflow/orchestrator"
	"github.com/mstgnz/payflow/payment"
)

// IdempotencyKeyHeader lets clients retry POST /payments safely
const IdempotencyKeyHeader = "Idempotency-Key"

// PaymentService is the orchestrator surface the handler depends on
type PaymentService interface {
	CreateAndAuthorise(ctx context.Context, cmd orchestrator.AuthoriseCommand) (*orchestrator.AuthoriseResult, error)
	Capture(ctx context.Context, id string, amount *decimal.Decimal) (*orchestrator.CommandResult, error)
	Void(ctx context.Context, id string) (*orchestrator.CommandResult, error)
	Refund(ctx context.Context, id string, amount *decimal.Decimal, reason string) (*orchestrator.CommandResult, error)
	Get(ctx context.Context, id string) (*orchestrator.PaymentView, error)
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	payments PaymentService
	validate *validator.Validate
	log      *logger.SystemLogger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentService, validate *validator.Validate, log *logger.SystemLogger) *PaymentHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &PaymentHandler{payments: payments, validate: validate, log: log}
}

// CreatePaymentRequest is the body of POST /payments
type CreatePaymentRequest struct {
	Gateway           string          `json:"gateway" validate:"required,max=32"`
	Amount            decimal.Decimal `json:"amount" validate:"money"`
	Currency          string          `json:"currency" validate:"required,iso4217"`
	Token             string          `json:"token" validate:"required,max=255"`
	MerchantReference string          `json:"merchant_reference" validate:"omitempty,max=128"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}

// CaptureRequest is the optional body of POST /payments/{id}/capture. A given
// amount must match the authorised amount.
type CaptureRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"omitempty,money"`
}

// RefundRequest is the body of POST /payments/{id}/refund
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"omitempty,money"`
	Reason string           `json:"reason" validate:"required,max=255"`
}

// CreatePayment handles POST /payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		response.Fail(w, http.StatusBadRequest, CodeValidationFailed, "Invalid request format", err, nil)
		return
	}
	req.Gateway = strings.ToLower(strings.TrimSpace(req.Gateway))
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > 255 {
		response.Fail(w, http.StatusBadRequest, CodeValidationFailed, "Idempotency-Key too long", nil, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, "", req.Gateway, err, nil)
		return
	}

	res, err := h.payments.CreateAndAuthorise(r.Context(), orchestrator.AuthoriseCommand{
		Gateway:           req.Gateway,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Token:             req.Token,
		MerchantReference: req.MerchantReference,
		Metadata:          req.Metadata,
		IdempotencyKey:    key,
	})
	if err != nil {
		var data any
		if res != nil {
			data = res
		}
		h.fail(w, r, paymentIDOf(res), req.Gateway, err, data)
		return
	}
	response.Success(w, http.StatusCreated, "Payment authorised", res)
}

// GetPayment handles GET /payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.payments.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, id, "", err, nil)
		return
	}
	response.Success(w, http.StatusOK, "", newPaymentView(view))
}

// CapturePayment handles POST /payments/{id}/capture
func (h *PaymentHandler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CaptureRequest
	if !h.decodeAndValidate(w, r, id, &req) {
		return
	}
	res, err := h.payments.Capture(r.Context(), id, req.Amount)
	h.commandResult(w, r, id, "Payment captured", res, err)
}

// VoidPayment handles POST /payments/{id}/void
func (h *PaymentHandler) VoidPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.payments.Void(r.Context(), id)
	h.commandResult(w, r, id, "Payment voided", res, err)
}

// RefundPayment handles POST /payments/{id}/refund
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req RefundRequest
	if !h.decodeAndValidate(w, r, id, &req) {
		return
	}
	res, err := h.payments.Refund(r.Context(), id, req.Amount, req.Reason)
	h.commandResult(w, r, id, "Payment refunded", res, err)
}

func (h *PaymentHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, id string, v any) bool {
	if err := decodeBody(r, v); err != nil {
		response.Fail(w, http.StatusBadRequest, CodeValidationFailed, "Invalid request format", err, nil)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.fail(w, r, id, "", err, nil)
		return false
	}
	return true
}

func (h *PaymentHandler) commandResult(w http.ResponseWriter, r *http.Request, id, message string, res *orchestrator.CommandResult, err error) {
	if err != nil {
		var data any
		if res != nil {
			data = res
		}
		h.fail(w, r, id, "", err, data)
		return
	}
	response.Success(w, http.StatusOK, message, res)
}

func (h *PaymentHandler) fail(w http.ResponseWriter, r *http.Request, paymentID, gatewayName string, err error, data any) {
	lc := logger.LogContext{
		Gateway:   gatewayName,
		PaymentID: paymentID,
		RequestID: middleware.GetReqID(r.Context()),
		Fields:    map[string]any{"path": r.URL.Path},
	}
	writeError(w, h.log, lc, err, false, data)
}

// decodeBody decodes JSON into v; an empty body leaves v untouched
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func paymentIDOf(res *orchestrator.AuthoriseResult) string {
	if res == nil {
		return ""
	}
	return res.PaymentID
}

// PaymentView is the GET /payments/{id} body
type PaymentView struct {
	Payment PaymentDTO  `json:"payment"`
	Refunds []RefundDTO `json:"refunds"`
	History []EventDTO  `json:"history"`
}

// PaymentDTO is the public shape of a payment
type PaymentDTO struct {
	ID                  string               `json:"id"`
	Amount              decimal.Decimal      `json:"amount"`
	Currency            string               `json:"currency"`
	Status              payment.Status       `json:"status"`
	RefundStatus        payment.RefundStatus `json:"refund_status"`
	RefundedAmount      decimal.Decimal      `json:"refunded_amount"`
	RemainingRefundable decimal.Decimal      `json:"remaining_refundable"`
	Gateway             string               `json:"gateway"`
	GatewayTxnID        string               `json:"gateway_txn_id,omitempty"`
	MerchantReference   string               `json:"merchant_reference,omitempty"`
	Metadata            json.RawMessage      `json:"metadata,omitempty"`
	LastEventAt         *time.Time           `json:"last_event_at,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// RefundDTO is the public shape of a refund
type RefundDTO struct {
	ID              string          `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason,omitempty"`
	Status          string          `json:"status"`
	GatewayRefundID string          `json:"gateway_refund_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EventDTO is one history entry
type EventDTO struct {
	ID        int64               `json:"id"`
	Type      string              `json:"type"`
	Message   string              `json:"message,omitempty"`
	Source    payment.EventSource `json:"source"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

func newPaymentView(v *orchestrator.PaymentView) PaymentView {
	p := v.Payment
	out := PaymentView{
		Payment: PaymentDTO{
			ID:                  p.ID,
			Amount:              p.Amount,
			Currency:            p.Currency,
			Status:              p.Status,
			RefundStatus:        p.RefundStatus(),
			RefundedAmount:      p.RefundedAmount,
			RemainingRefundable: p.RemainingRefundable(),
			Gateway:             p.Gateway,
			GatewayTxnID:        p.GatewayTxnID,
			MerchantReference:   p.MerchantReference,
			Metadata:            p.Metadata,
			LastEventAt:         p.LastEventAt,
			CreatedAt:           p.CreatedAt,
			UpdatedAt:           p.UpdatedAt,
		},
		Refunds: make([]RefundDTO, 0, len(v.Refunds)),
		History: make([]EventDTO, 0, len(v.History)),
	}
	for _, r := range v.Refunds {
		out.Refunds = append(out.Refunds, RefundDTO{
			ID: r.ID, Amount: r.Amount, Reason: r.Reason, Status: r.Status,
			GatewayRefundID: r.GatewayRefundID, CreatedAt: r.CreatedAt,
		})
	}
	for _, e := range v.History {
		out.History = append(out.History, EventDTO{
			ID: e.ID, Type: e.Type, Message: e.Message, Source: e.Source,
			Payload: e.Payload, CreatedAt: e.CreatedAt,
		})
	}
	return out
}
