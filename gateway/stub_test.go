package gateway

import (
	"context"
	"errors"
)

type stubAdapter struct {
	NoWebhooks
	name     string
	config   map[string]string
	initErr  error
	result   *PaymentResult
	callErr  error
	captured []CaptureRequest
}

func (s *stubAdapter) Name() string               { return s.name }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{} }
func (s *stubAdapter) RequiredConfig() []ConfigField {
	return []ConfigField{
		{Key: "secretKey", Required: true, Type: "secret"},
		{Key: "baseUrl", Required: false, Type: "url"},
	}
}

func (s *stubAdapter) Initialize(config map[string]string) error {
	s.config = config
	return s.initErr
}

func (s *stubAdapter) Authorise(context.Context, AuthoriseRequest) (*PaymentResult, error) {
	return s.result, s.callErr
}

func (s *stubAdapter) Capture(_ context.Context, req CaptureRequest) (*PaymentResult, error) {
	s.captured = append(s.captured, req)
	return s.result, s.callErr
}

func (s *stubAdapter) Void(context.Context, VoidRequest) (*PaymentResult, error) {
	return s.result, s.callErr
}

func (s *stubAdapter) Refund(context.Context, RefundRequest) (*PaymentResult, error) {
	return nil, errors.New("refund not stubbed")
}
