package gateway

import (
	"context"
	"time"

	"github.com/mstgnz/payflow/infra/logger"
)

// loggedAdapter records the timing and outcome of every gateway call
type loggedAdapter struct {
	Adapter
	log *logger.SystemLogger
}

// WithLogging wraps an adapter so each call is logged
func WithLogging(a Adapter, log *logger.SystemLogger) Adapter {
	if log == nil {
		return a
	}
	return &loggedAdapter{Adapter: a, log: log}
}

func (l *loggedAdapter) Authorise(ctx context.Context, req AuthoriseRequest) (*PaymentResult, error) {
	start := time.Now()
	res, err := l.Adapter.Authorise(ctx, req)
	l.observe("authorise", req.PaymentID, start, res, err)
	return res, err
}

func (l *loggedAdapter) Capture(ctx context.Context, req CaptureRequest) (*PaymentResult, error) {
	start := time.Now()
	res, err := l.Adapter.Capture(ctx, req)
	l.observe("capture", req.PaymentID, start, res, err)
	return res, err
}

func (l *loggedAdapter) Void(ctx context.Context, req VoidRequest) (*PaymentResult, error) {
	start := time.Now()
	res, err := l.Adapter.Void(ctx, req)
	l.observe("void", req.PaymentID, start, res, err)
	return res, err
}

func (l *loggedAdapter) Refund(ctx context.Context, req RefundRequest) (*PaymentResult, error) {
	start := time.Now()
	res, err := l.Adapter.Refund(ctx, req)
	l.observe("refund", req.PaymentID, start, res, err)
	return res, err
}

func (l *loggedAdapter) observe(op, paymentID string, start time.Time, res *PaymentResult, err error) {
	lc := logger.LogContext{
		Gateway:   l.Name(),
		PaymentID: paymentID,
		Fields: map[string]any{
			"operation":     op,
			"processing_ms": time.Since(start).Milliseconds(),
		},
	}
	switch {
	case err != nil:
		lc.Fields["error"] = err.Error()
		l.log.Warn("Gateway call failed", lc)
	case res != nil && !res.Success:
		lc.Fields["message"] = res.Message
		l.log.Info("Gateway declined request", lc)
	default:
		l.log.Debug("Gateway call succeeded", lc)
	}
}
