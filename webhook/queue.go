package webhook

import (
	"context"
	"errors"
	"sync"

	"github.com/mstgnz/payflow/infra/logger"
)

// ErrQueueClosed is returned when enqueuing after the queue stopped
var ErrQueueClosed = errors.New("webhook queue is closed")

// Handler processes one delivery. A nil error acknowledges it; an error asks
// the transport to redeliver when it can.
type Handler func(ctx context.Context, d Delivery) error

// Queue hands deliveries from the HTTP layer to background workers
type Queue interface {
	Enqueue(ctx context.Context, d Delivery) error
	// Consume blocks, feeding deliveries to h until ctx ends
	Consume(ctx context.Context, h Handler) error
}

// MemoryQueue is an in-process queue backed by a buffered channel.
// Deliveries are lost on restart and failed ones are not redelivered.
type MemoryQueue struct {
	ch      chan Delivery
	workers int
	log     *logger.SystemLogger

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding up to size pending deliveries,
// consumed by workers goroutines
func NewMemoryQueue(size, workers int, log *logger.SystemLogger) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MemoryQueue{ch: make(chan Delivery, size), workers: workers, log: log}
}

// Enqueue waits for buffer space or ctx
func (q *MemoryQueue) Enqueue(ctx context.Context, d Delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume starts the workers. Once ctx ends they finish whatever is still
// buffered, without cancellation, and Consume returns when all are done.
func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer q.drain(context.WithoutCancel(ctx), h)
			for ctx.Err() == nil {
				select {
				case <-ctx.Done():
				case d := <-q.ch:
					q.handle(ctx, h, d)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// drain handles buffered deliveries until the channel is empty
func (q *MemoryQueue) drain(ctx context.Context, h Handler) {
	for {
		select {
		case d := <-q.ch:
			q.handle(ctx, h, d)
		default:
			return
		}
	}
}

func (q *MemoryQueue) handle(ctx context.Context, h Handler, d Delivery) {
	if err := h(ctx, d); err != nil {
		q.log.Warn("Dropping webhook delivery after failure", logger.LogContext{
			Gateway: d.Gateway,
			Fields:  map[string]any{"delivery_id": d.ID, "error": err.Error()},
		})
	}
}

// Close rejects further deliveries
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the number of pending deliveries
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
