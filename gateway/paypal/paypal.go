// Package paypal adapts PayPal Orders v2 authorisations to the gateway
// contract. The token passed to Authorise is an order the buyer approved.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/mstgnz/payflow/gateway"
)

const Name = "paypal"

// Gateway talks to the PayPal REST API
type Gateway struct {
	gateway.NoWebhooks

	client *paypal.Client
	mu     sync.Mutex
}

// New creates an uninitialised PayPal gateway
func New() gateway.Adapter {
	return &Gateway{}
}

func (g *Gateway) Name() string { return Name }

// Capabilities is empty: PayPal notifications are logged raw by the reconciler
func (g *Gateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{}
}

func (g *Gateway) RequiredConfig() []gateway.ConfigField {
	return []gateway.ConfigField{
		{Key: "clientId", Required: true, Type: "string", Description: "REST app client id"},
		{Key: "clientSecret", Required: true, Type: "secret", Description: "REST app secret"},
		{Key: "environment", Required: false, Type: "string", Description: "sandbox or live", Pattern: `^(sandbox|live)$`},
		{Key: "baseUrl", Required: false, Type: "url", Description: "API base URL override"},
	}
}

func (g *Gateway) Initialize(config map[string]string) error {
	base := paypal.APIBaseSandBox
	if config["environment"] == "live" {
		base = paypal.APIBaseLive
	}
	if config["baseUrl"] != "" {
		base = strings.TrimRight(config["baseUrl"], "/")
	}

	client, err := paypal.NewClient(config["clientId"], config["clientSecret"], base)
	if err != nil {
		return err
	}
	g.client = client
	return nil
}

type money struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type amountRequest struct {
	Amount       *paypal.PurchaseUnitAmount `json:"amount,omitempty"`
	FinalCapture bool                       `json:"final_capture,omitempty"`
	NoteToPayer  string                     `json:"note_to_payer,omitempty"`
}

type paymentResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *money `json:"amount,omitempty"`
}

type authorizeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Authorizations []paymentResource `json:"authorizations"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (g *Gateway) Authorise(ctx context.Context, req gateway.AuthoriseRequest) (*gateway.PaymentResult, error) {
	var resp authorizeResponse
	raw, err := g.send(ctx, "authorise", fmt.Sprintf("/v2/checkout/orders/%s/authorize", req.Token), req.PaymentID, req.IdempotencyKey, struct{}{}, &resp)
	if err != nil {
		return nil, err
	}

	var auth *paymentResource
	for _, pu := range resp.PurchaseUnits {
		if len(pu.Payments.Authorizations) > 0 {
			auth = &pu.Payments.Authorizations[0]
			break
		}
	}
	if auth == nil {
		return &gateway.PaymentResult{
			Success: false,
			Message: "order " + resp.ID + " returned no authorization",
			Meta:    gateway.RawMeta(raw),
		}, nil
	}
	return resourceResult(*auth, raw, req.Amount, "CREATED", "PENDING"), nil
}

func (g *Gateway) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.PaymentResult, error) {
	var resp paymentResource
	raw, err := g.send(ctx, "capture", "/v2/payments/authorizations/"+req.TransactionID+"/capture", req.PaymentID, req.IdempotencyKey,
		amountRequest{Amount: purchaseAmount(req.Amount, req.Currency), FinalCapture: true}, &resp)
	if err != nil {
		return nil, err
	}
	return resourceResult(resp, raw, req.Amount, "COMPLETED", "PENDING"), nil
}

func (g *Gateway) Void(ctx context.Context, req gateway.VoidRequest) (*gateway.PaymentResult, error) {
	var resp paymentResource
	raw, err := g.send(ctx, "void", "/v2/payments/authorizations/"+req.TransactionID+"/void", req.PaymentID, req.IdempotencyKey, nil, &resp)
	if err != nil {
		return nil, err
	}
	// a 204 carries no body and means the authorization is voided
	if resp.ID == "" {
		resp = paymentResource{ID: req.TransactionID, Status: "VOIDED"}
	}
	return resourceResult(resp, raw, req.Amount, "VOIDED"), nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.PaymentResult, error) {
	var resp paymentResource
	raw, err := g.send(ctx, "refund", "/v2/payments/captures/"+req.TransactionID+"/refund", req.PaymentID, req.IdempotencyKey,
		amountRequest{Amount: purchaseAmount(req.Amount, req.Currency), NoteToPayer: req.Reason}, &resp)
	if err != nil {
		return nil, err
	}
	return resourceResult(resp, raw, req.Amount, "COMPLETED", "PENDING"), nil
}

// send issues an authenticated request, fetching an access token on first use
func (g *Gateway) send(ctx context.Context, op, path, paymentID, key string, body, out any) ([]byte, error) {
	if err := g.ensureToken(ctx, op); err != nil {
		return nil, err
	}

	httpReq, err := g.client.NewRequest(ctx, http.MethodPost, g.client.APIBase+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal request: %w", err)
	}
	httpReq.Header.Set("PayPal-Request-Id", gateway.RequestKey(key, op, paymentID))
	httpReq.Header.Set("Prefer", "return=representation")

	var buf bytes.Buffer
	if err := g.client.SendWithAuth(httpReq, &buf); err != nil {
		return nil, classify(op, err)
	}
	if buf.Len() > 0 {
		if err := json.Unmarshal(buf.Bytes(), out); err != nil {
			return nil, gateway.Classify(Name, op, http.StatusBadGateway, "malformed response: "+err.Error())
		}
	}
	return buf.Bytes(), nil
}

func (g *Gateway) ensureToken(ctx context.Context, op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client.Token != nil {
		return nil
	}
	if _, err := g.client.GetAccessToken(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}

// classify maps PayPal failures onto gateway errors. 422 is how PayPal
// reports business declines such as INSTRUMENT_DECLINED.
func classify(op string, err error) error {
	var perr *paypal.ErrorResponse
	if !errors.As(err, &perr) || perr.Response == nil {
		return gateway.ConnectionError(Name, op, err)
	}
	message := perr.Message
	if perr.Name != "" {
		message = perr.Name + ": " + message
	}
	if perr.Response.StatusCode == http.StatusUnprocessableEntity {
		declined := gateway.Declined(Name, op, message)
		declined.Err = err
		return declined
	}
	classified := gateway.Classify(Name, op, perr.Response.StatusCode, message)
	classified.Err = err
	return classified
}

func purchaseAmount(amount decimal.Decimal, currency string) *paypal.PurchaseUnitAmount {
	return &paypal.PurchaseUnitAmount{Currency: strings.ToUpper(currency), Value: amount.StringFixed(2)}
}

func resourceResult(res paymentResource, raw []byte, requested decimal.Decimal, okStatuses ...string) *gateway.PaymentResult {
	amount := requested
	if res.Amount != nil {
		if v, err := decimal.NewFromString(res.Amount.Value); err == nil {
			amount = v
		}
	}
	result := &gateway.PaymentResult{
		TransactionID: res.ID,
		Amount:        &amount,
		Meta:          gateway.RawMeta(raw),
	}
	for _, s := range okStatuses {
		if strings.EqualFold(res.Status, s) {
			result.Success = true
		}
	}
	if !result.Success {
		result.Message = "paypal status " + res.Status
	}
	return result
}
