package payment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("payment not found")
	ErrConcurrentUpdate = errors.New("payment was modified concurrently")
	ErrDuplicateEvent   = errors.New("payment event already recorded")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// StateConflictError reports a command or transition the state machine rejected
type StateConflictError struct {
	Operation string
	From      Status
	To        Status
	Reason    string
}

func (e *StateConflictError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot %s payment in status %s", e.Operation, e.From)
	}
	return fmt.Sprintf("cannot %s payment in status %s: %s", e.Operation, e.From, e.Reason)
}

// IsStateConflict reports whether err carries a StateConflictError
func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}
