package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mstgnz/payflow/infra/logger"
)

// State is the lifecycle state of an idempotency record
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Record is the durable marker for one keyed execution
type Record struct {
	Key       string
	Operation string
	State     State
	Result    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists idempotency records. Claim must be an atomic conditional
// insert: exactly one concurrent caller gets claimed=true for a key, the
// others receive the existing record.
type Store interface {
	Claim(ctx context.Context, key, operation string) (claimed bool, existing *Record, err error)
	Complete(ctx context.Context, key string, result []byte) error
	Release(ctx context.Context, key string) error
}

// RaceError means another execution holds the key and has not completed
type RaceError struct {
	Key       string
	Operation string
	Since     time.Time
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("operation %s with key %s is already in progress since %s", e.Operation, e.Key, e.Since.Format(time.RFC3339))
}

// KeyConflictError means a key was reused for a different operation
type KeyConflictError struct {
	Key      string
	Existing string
	Request  string
}

func (e *KeyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %s belongs to operation %s, not %s", e.Key, e.Existing, e.Request)
}

// Resolver decides what happens when a key is found in progress. It may
// return a completed record to replay, or an error. It must never report an
// in-progress record as success.
type Resolver func(ctx context.Context, rec *Record) (*Record, error)

// FailInDoubt is the default resolver: the caller is told the operation is in flight
func FailInDoubt(_ context.Context, rec *Record) (*Record, error) {
	return nil, &RaceError{Key: rec.Key, Operation: rec.Operation, Since: rec.CreatedAt}
}

// ReleasePolicy reports whether a failed operation's claim may be dropped so
// that the same key can run again
type ReleasePolicy func(err error) bool

type inDoubt interface {
	InDoubt() bool
}

// ReleaseDefinite drops the claim when the failure is known to have had no
// effect downstream. Failures that may have reached the gateway, and
// cancellations, keep the record in progress for an operator to resolve.
func ReleaseDefinite(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var d inDoubt
	if errors.As(err, &d) {
		return !d.InDoubt()
	}
	return true
}

// Guard runs operations at most once per key
type Guard struct {
	store   Store
	logger  *logger.SystemLogger
	resolve Resolver
	release ReleasePolicy
}

// Option configures a Guard
type Option func(*Guard)

// WithResolver replaces the in-progress resolution policy
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolve = r }
}

// WithReleasePolicy replaces the failure release policy
func WithReleasePolicy(p ReleasePolicy) Option {
	return func(g *Guard) { g.release = p }
}

// NewGuard creates a guard over store
func NewGuard(store Store, log *logger.SystemLogger, opts ...Option) *Guard {
	g := &Guard{
		store:   store,
		logger:  log,
		resolve: FailInDoubt,
		release: ReleaseDefinite,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs fn once for key. A completed key replays its stored result
// without calling fn. The result is stored as JSON, so T must round-trip
// through encoding/json.
func Execute[T any](ctx context.Context, g *Guard, key, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	claimed, existing, err := g.store.Claim(ctx, key, operation)
	if err != nil {
		return zero, fmt.Errorf("claim idempotency key %s: %w", key, err)
	}

	if !claimed {
		if existing.Operation != operation {
			return zero, &KeyConflictError{Key: key, Existing: existing.Operation, Request: operation}
		}
		rec := existing
		if rec.State != StateCompleted {
			rec, err = g.resolve(ctx, existing)
			if err != nil {
				return zero, err
			}
			if rec == nil || rec.State != StateCompleted {
				return zero, &RaceError{Key: key, Operation: operation, Since: existing.CreatedAt}
			}
		}
		var out T
		if err := json.Unmarshal(rec.Result, &out); err != nil {
			return zero, fmt.Errorf("decode stored result for %s: %w", key, err)
		}
		g.logger.Debug("Replayed idempotent result", logger.LogContext{
			Fields: map[string]any{"key": key, "operation": operation},
		})
		return out, nil
	}

	result, err := fn(ctx)
	if err != nil {
		if g.release(err) {
			if rerr := g.store.Release(context.WithoutCancel(ctx), key); rerr != nil {
				g.logger.Error("Failed to release idempotency key", rerr, logger.LogContext{
					Fields: map[string]any{"key": key},
				})
			}
		} else {
			g.logger.Warn("Idempotency key left in progress after failure", logger.LogContext{
				Fields: map[string]any{"key": key, "operation": operation, "error": err.Error()},
			})
		}
		return zero, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encode result for %s: %w", key, err)
	}
	if err := g.store.Complete(context.WithoutCancel(ctx), key, payload); err != nil {
		return zero, fmt.Errorf("complete idempotency key %s: %w", key, err)
	}
	return result, nil
}
