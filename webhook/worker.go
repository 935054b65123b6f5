package webhook

import (
	"context"

	"github.com/mstgnz/payflow/infra/logger"
)

// Worker drains a queue into the reconciler
type Worker struct {
	queue      Queue
	reconciler *Reconciler
	log        *logger.SystemLogger
}

// NewWorker creates a worker
func NewWorker(queue Queue, reconciler *Reconciler, log *logger.SystemLogger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{queue: queue, reconciler: reconciler, log: log}
}

// Run blocks until ctx ends
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Webhook worker started")
	defer w.log.Info("Webhook worker stopped")
	return w.queue.Consume(ctx, w.Handle)
}

// Handle reconciles one delivery. Discards and permanently bad deliveries
// are acknowledged; anything else is returned for redelivery.
func (w *Worker) Handle(ctx context.Context, d Delivery) error {
	lc := logger.LogContext{Gateway: d.Gateway, Fields: map[string]any{"delivery_id": d.ID}}

	outcome, err := w.reconciler.Reconcile(ctx, d)
	switch {
	case err == nil:
		if outcome.PaymentID != "" {
			lc.PaymentID = outcome.PaymentID
		}
		w.log.Debug("Webhook delivery processed", lc)
		return nil
	case IsNoop(err):
		w.log.Debug("Webhook delivery discarded", withField(lc, "reason", err.Error()))
		return nil
	case IsTerminal(err):
		w.log.Warn("Webhook delivery rejected", withField(lc, "error", err.Error()))
		return nil
	default:
		w.log.Error("Webhook reconciliation failed", err, lc)
		return err
	}
}
