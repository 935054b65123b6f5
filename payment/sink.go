package payment

import "context"

// EventSink receives every event after it has been committed
type EventSink interface {
	Publish(ctx context.Context, p *Payment, e *Event)
}

// NopSink discards events
type NopSink struct{}

func (NopSink) Publish(context.Context, *Payment, *Event) {}
