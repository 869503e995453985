package message

import (
	"errors"
	"fmt"
)

var (
	// Parser errors
	ErrInvalidMessage     = errors.New("invalid SIP message")
	ErrInvalidRequestLine = errors.New("invalid request line")
	ErrInvalidStatusLine  = errors.New("invalid status line")
	ErrInvalidHeader      = errors.New("invalid header format")
	ErrInvalidSIPVersion  = errors.New("invalid SIP version")
	ErrInvalidStatusCode  = errors.New("invalid status code")
	ErrInvalidURI         = errors.New("invalid URI")
	ErrBodyTruncated      = errors.New("body shorter than Content-Length")

	// Validation errors
	ErrMissingHeader = errors.New("missing required header")
	ErrInvalidMethod = errors.New("invalid SIP method")

	// Size errors
	ErrMessageTooLarge = errors.New("message too large")
	ErrHeaderTooLarge  = errors.New("header too large")
	ErrTooManyHeaders  = errors.New("too many headers")

	// Serialization errors
	ErrInvalidHeaderName  = errors.New("invalid header name")
	ErrInvalidHeaderValue = errors.New("invalid header value")
	ErrMissingRequestURI  = errors.New("missing request URI")
)

// ParseError is returned by Parser.Parse. Offset is the byte offset of the
// offending line in the input, or -1 when it cannot be determined.
type ParseError struct {
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Offset < 0 {
		return "parse SIP message: " + e.Err.Error()
	}
	return fmt.Sprintf("parse SIP message at offset %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(offset int, err error) *ParseError {
	return &ParseError{Offset: offset, Err: err}
}

// FormatError is returned by Parser.Serialize when a message cannot be
// written to the wire. Header names the offending header, if any.
type FormatError struct {
	Header string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Header == "" {
		return "serialize SIP message: " + e.Err.Error()
	}
	return fmt.Sprintf("serialize SIP message: header %q: %v", e.Header, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
