package config

import (
	"errors"
	"fmt"
)

// ErrInvalid matches every *Error.
var ErrInvalid = errors.New("invalid configuration")

// Error reports a rejected configuration field.
type Error struct {
	Field  string
	Value  any
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *Error) Is(target error) bool { return target == ErrInvalid }

func invalid(field string, value any, reason string) *Error {
	return &Error{Field: field, Value: value, Reason: reason}
}
