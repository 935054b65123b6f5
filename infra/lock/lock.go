// Package lock provides per-payment mutual exclusion, in process or across
// replicas through Redis.
package lock

import (
	"context"
	"errors"
)

// ErrNotHeld is returned when releasing a lock that expired or was taken over
var ErrNotHeld = errors.New("lock not held")

// Unlock releases a held lock
type Unlock func()

// Locker serializes work per key. Lock blocks until the key is free or ctx ends.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// PaymentKey scopes a lock to one payment
func PaymentKey(paymentID string) string {
	return "payment:" + paymentID
}

// ReferenceKey scopes a lock to an external gateway reference
func ReferenceKey(gateway, reference string) string {
	return "ref:" + gateway + ":" + reference
}
