package transaction

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for requests that cannot start a transaction.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidResponse is returned for responses the engine cannot send or match.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrInvalidState is returned when an operation is not allowed in the
	// transaction's current state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrTransactionNotFound is returned for unknown or stale transaction ids.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionExists is returned when a request reuses a live key.
	ErrTransactionExists = errors.New("transaction already exists")

	// ErrTimeout is reported when a transaction hits its timeout deadline.
	ErrTimeout = errors.New("transaction timeout")
)

// TimeoutError reports which timer expired.
type TimeoutError struct {
	Key   Key
	Timer string
	State State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s: timer %s fired in %s", e.Key, e.Timer, e.State)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Error describes a failed operation on a transaction.
type Error struct {
	Key   Key
	Op    string
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transaction %s: %s in state %s: %v", e.Key, e.Op, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
