package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrClosed is returned when operation is attempted on closed transport
	ErrClosed = errors.New("transport closed")

	// ErrBufferFull is returned when send buffer is full
	ErrBufferFull = errors.New("send buffer full")

	// ErrInvalidAddress is returned for malformed addresses
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnreachable is returned when no peer listens on the destination
	ErrUnreachable = errors.New("destination unreachable")

	// ErrMessageTooLarge is returned when message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// Error describes a failed transport operation.
type Error struct {
	Transport string
	Op        string
	Addr      string
	Err       error
	Temporary bool
}

func (e *Error) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Transport, e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Transport, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(transport, op, addr string, err error) *Error {
	if errors.Is(err, net.ErrClosed) {
		err = ErrClosed
	}
	return &Error{
		Transport: transport,
		Op:        op,
		Addr:      addr,
		Err:       err,
		Temporary: isTemporary(err),
	}
}

// isTemporary checks if error is temporary and operation can be retried
func isTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBufferFull) {
		return true
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// isTimeout checks if error is a timeout
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
