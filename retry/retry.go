package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mstgnz/payflow/infra/logger"
)

// Attempt is one failed invocation recorded by the engine
type Attempt struct {
	PaymentID   string
	Number      int
	Operation   string
	FailureKind string
	Message     string
	CreatedAt   time.Time
}

// Recorder persists failed attempts
type Recorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// Call identifies what is being retried
type Call struct {
	PaymentID string
	Operation string
}

// AbortedError is returned when the caller's context ends while waiting
// between attempts. It unwraps to both the context error and the last failure.
type AbortedError struct {
	Attempts int
	Last     error
	Cause    error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("retry aborted after %d attempt(s): %v (last failure: %v)", e.Attempts, e.Cause, e.Last)
}

func (e *AbortedError) Unwrap() []error {
	return []error{e.Cause, e.Last}
}

// Engine runs callbacks under a list of retry strategies
type Engine struct {
	recorder Recorder
	logger   *logger.SystemLogger
	sleep    func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures an Engine
type Option func(*Engine)

// WithSleep replaces the suspension function, mainly for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithRand seeds jitter from r
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rnd = r }
}

// NewEngine creates a retry engine that records every failed attempt
func NewEngine(recorder Recorder, log *logger.SystemLogger, opts ...Option) *Engine {
	e := &Engine{
		recorder: recorder,
		logger:   log,
		sleep:    sleepContext,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do invokes fn until it succeeds, fails with an unmatched error, or the
// matching strategy runs out of attempts. Attempts are numbered from 1.
func (e *Engine) Do(ctx context.Context, call Call, strategies []Strategy, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		strategy, ok := match(strategies, err)
		if !ok {
			return err
		}

		e.record(ctx, call, attempt, err)

		if attempt >= strategy.MaxAttempts {
			e.logger.Warn("Retries exhausted", logger.LogContext{
				PaymentID: call.PaymentID,
				Fields: map[string]any{
					"operation": call.Operation,
					"strategy":  strategy.Name,
					"attempts":  attempt,
				},
			})
			return err
		}

		delay := e.delay(strategy, attempt)
		e.logger.Debug("Retrying after failure", logger.LogContext{
			PaymentID: call.PaymentID,
			Fields: map[string]any{
				"operation": call.Operation,
				"strategy":  strategy.Name,
				"attempt":   attempt,
				"delay_ms":  delay.Milliseconds(),
			},
		})

		if serr := e.sleep(ctx, delay); serr != nil {
			return &AbortedError{Attempts: attempt, Last: err, Cause: serr}
		}
	}
}

func match(strategies []Strategy, err error) (Strategy, bool) {
	for _, s := range strategies {
		if s.Match != nil && s.Match(err) {
			return s, true
		}
	}
	return Strategy{}, false
}

func (e *Engine) delay(s Strategy, attempt int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.Delay(attempt, e.rnd)
}

func (e *Engine) record(ctx context.Context, call Call, attempt int, err error) {
	if e.recorder == nil {
		return
	}
	a := Attempt{
		PaymentID:   call.PaymentID,
		Number:      attempt,
		Operation:   call.Operation,
		FailureKind: KindOf(err),
		Message:     err.Error(),
		CreatedAt:   time.Now().UTC(),
	}
	// the attempt log must survive a cancelled command context
	if rerr := e.recorder.RecordAttempt(context.WithoutCancel(ctx), a); rerr != nil {
		e.logger.Error("Failed to record retry attempt", rerr, logger.LogContext{
			PaymentID: call.PaymentID,
			Fields:    map[string]any{"operation": call.Operation, "attempt": attempt},
		})
	}
}
