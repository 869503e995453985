package call

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransactionState is returned when an operation does not fit
	// the current transaction or dialog state. Nothing is changed.
	ErrInvalidTransactionState = errors.New("invalid transaction state")

	ErrCallNotFound         = errors.New("call not found")
	ErrDialogNotFound       = errors.New("dialog not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidStatus is returned for status codes outside 100..699.
	ErrInvalidStatus = errors.New("invalid status code")
	// ErrInvalidMethod is returned for a method the operation cannot send.
	ErrInvalidMethod = errors.New("invalid method")

	// ErrInvalidExpires is returned for a negative Expires value.
	ErrInvalidExpires = errors.New("invalid expires")
)

func stateError(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidTransactionState, fmt.Sprintf(format, args...), cause)
}
