package dialog

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidResponse = errors.New("invalid response")
	ErrDialogNotFound  = errors.New("dialog not found")
	ErrInvalidState    = errors.New("invalid dialog state")
	ErrTerminated      = errors.New("dialog terminated")

	// ErrCSeqOutOfOrder rejects an in-dialog request whose CSeq does not
	// exceed the last remote CSeq.
	ErrCSeqOutOfOrder = errors.New("CSeq out of order")

	// ErrRouteSetFrozen is returned when the route set of a confirmed
	// dialog would change.
	ErrRouteSetFrozen = errors.New("route set is frozen")
)
