package retry

import (
	"errors"
	"math/rand"
	"net/http"
	"time"
)

// Backoff selects the delay formula of a strategy
type Backoff string

const (
	BackoffFixed             Backoff = "fixed"
	BackoffExponential       Backoff = "exponential"
	BackoffJitter            Backoff = "jitter"
	BackoffCappedExponential Backoff = "capped_exponential"
)

// Failure kinds reported by errors that implement FailureKind
const (
	KindConnection = "connection"
	KindTimeout    = "timeout"
)

// Matcher decides whether a strategy applies to a failure
type Matcher func(err error) bool

// Strategy describes how one class of failure is retried
type Strategy struct {
	Name        string
	Match       Matcher
	Backoff     Backoff
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Delay returns how long to wait after the given failed attempt (1-based)
func (s Strategy) Delay(attempt int, rnd *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch s.Backoff {
	case BackoffExponential:
		return exponential(s.BaseDelay, attempt)
	case BackoffCappedExponential:
		d := exponential(s.BaseDelay, attempt)
		if s.MaxDelay > 0 && d > s.MaxDelay {
			return s.MaxDelay
		}
		return d
	case BackoffJitter:
		base := s.BaseDelay.Milliseconds()
		if base <= 0 {
			return s.BaseDelay
		}
		return time.Duration(base+rnd.Int63n(2*base+1)) * time.Millisecond
	default:
		return s.BaseDelay
	}
}

func exponential(base time.Duration, attempt int) time.Duration {
	// 2^30 already exceeds any sane delay; keep the shift from overflowing
	if attempt > 31 {
		attempt = 31
	}
	return base * time.Duration(1<<(attempt-1))
}

type kinded interface {
	FailureKind() string
}

type statused interface {
	Status() int
}

// KindOf returns the failure kind carried by err, or "error"
func KindOf(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.FailureKind()
	}
	return "error"
}

// MatchKind matches failures whose FailureKind is one of kinds
func MatchKind(kinds ...string) Matcher {
	return func(err error) bool {
		var k kinded
		if !errors.As(err, &k) {
			return false
		}
		for _, kind := range kinds {
			if k.FailureKind() == kind {
				return true
			}
		}
		return false
	}
}

// MatchStatus matches failures carrying one of the given HTTP status codes
func MatchStatus(codes ...int) Matcher {
	return func(err error) bool {
		var s statused
		if !errors.As(err, &s) {
			return false
		}
		for _, code := range codes {
			if s.Status() == code {
				return true
			}
		}
		return false
	}
}

// DefaultStrategies returns the gateway retry policy: connection failures
// back off exponentially, rate limits are capped, and 5xx responses jitter.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:        "connection",
			Match:       MatchKind(KindConnection, KindTimeout),
			Backoff:     BackoffExponential,
			BaseDelay:   300 * time.Millisecond,
			MaxAttempts: 4,
		},
		{
			Name:        "rate_limited",
			Match:       MatchStatus(http.StatusTooManyRequests),
			Backoff:     BackoffCappedExponential,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
			MaxAttempts: 5,
		},
		{
			Name: "server_error",
			Match: MatchStatus(http.StatusInternalServerError, http.StatusBadGateway,
				http.StatusServiceUnavailable, http.StatusGatewayTimeout),
			Backoff:     BackoffJitter,
			BaseDelay:   400 * time.Millisecond,
			MaxAttempts: 3,
		},
	}
}

// Scale returns a copy of strategies with every delay multiplied by factor.
// A factor of zero disables waiting entirely.
func Scale(strategies []Strategy, factor float64) []Strategy {
	out := make([]Strategy, len(strategies))
	for i, s := range strategies {
		s.BaseDelay = time.Duration(float64(s.BaseDelay) * factor)
		s.MaxDelay = time.Duration(float64(s.MaxDelay) * factor)
		out[i] = s
	}
	return out
}
