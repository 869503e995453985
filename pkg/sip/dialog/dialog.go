// Package dialog tracks SIP dialogs (RFC 3261 section 12): their keys,
// CSeq spaces, route sets and remote targets.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/looplab/fsm"

	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
)

// State of a dialog.
type State string

const (
	StateInit       State = "init"
	StateEarly      State = "early"
	StateConfirmed  State = "confirmed"
	StateTerminated State = "terminated"
)

func (s State) String() string { return string(s) }

// Role of the local UA in a dialog.
type Role int

const (
	UAC Role = iota
	UAS
)

func (r Role) String() string {
	if r == UAS {
		return "uas"
	}
	return "uac"
}

const (
	evEarly     = "early"
	evConfirm   = "confirm"
	evTerminate = "terminate"
)

func newFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateInit.String(),
		fsm.Events{
			{Name: evEarly, Src: []string{StateInit.String()}, Dst: StateEarly.String()},
			{Name: evConfirm, Src: []string{StateInit.String(), StateEarly.String()}, Dst: StateConfirmed.String()},
			{Name: evTerminate, Src: []string{StateInit.String(), StateEarly.String(), StateConfirmed.String()}, Dst: StateTerminated.String()},
		},
		fsm.Callbacks{},
	)
}

// Dialog is a peer-to-peer SIP relationship.
type Dialog struct {
	id      handle.ID
	key     Key
	role    Role
	machine *fsm.FSM

	// From/To header values as this UA sends them, tags included.
	local  string
	remote string

	remoteTarget *message.URI
	routes       RouteSet
	seq          Sequence
	inviteCSeq   uint32
	method       string

	transactions map[handle.ID]struct{}
}

func (d *Dialog) ID() handle.ID { return d.id }

func (d *Dialog) Key() Key { return d.key }

func (d *Dialog) Role() Role { return d.role }

func (d *Dialog) State() State { return State(d.machine.Current()) }

func (d *Dialog) CallID() string { return d.key.CallID }

func (d *Dialog) LocalTag() string { return d.key.LocalTag }

func (d *Dialog) RemoteTag() string { return d.key.RemoteTag }

// LocalURI returns the local address as used in the From header of
// requests this UA sends.
func (d *Dialog) LocalURI() string { return d.local }

// RemoteURI returns the remote address as used in the To header.
func (d *Dialog) RemoteURI() string { return d.remote }

// RemoteTarget returns the current remote Contact URI.
func (d *Dialog) RemoteTarget() *message.URI { return d.remoteTarget.Clone() }

func (d *Dialog) RouteSet() *RouteSet { return &d.routes }

func (d *Dialog) LocalCSeq() uint32 { return d.seq.Local() }

// RemoteCSeq returns the last accepted remote CSeq.
func (d *Dialog) RemoteCSeq() (uint32, bool) { return d.seq.Remote() }

// InviteCSeq is the CSeq number of the last INVITE, reused by ACK and
// CANCEL.
func (d *Dialog) InviteCSeq() uint32 { return d.inviteCSeq }

// Method is the method that created the dialog.
func (d *Dialog) Method() string { return d.method }

func (d *Dialog) IsEarly() bool { return d.State() == StateEarly }

func (d *Dialog) IsConfirmed() bool { return d.State() == StateConfirmed }

func (d *Dialog) IsTerminated() bool { return d.State() == StateTerminated }

// AddTransaction records a transaction as open inside the dialog.
func (d *Dialog) AddTransaction(id handle.ID) { d.transactions[id] = struct{}{} }

func (d *Dialog) RemoveTransaction(id handle.ID) { delete(d.transactions, id) }

// Transactions returns the ids of the open transactions.
func (d *Dialog) Transactions() []handle.ID {
	ids := make([]handle.ID, 0, len(d.transactions))
	for id := range d.transactions {
		ids = append(ids, id)
	}
	return ids
}

// NewRequest builds an in-dialog request: Request-URI and Route from the
// remote target and route set, From/To with tags, the dialog Call-ID and
// the next local CSeq. Via and Contact are left to the caller.
func (d *Dialog) NewRequest(method string) (*message.Request, error) {
	if method == message.MethodAck || method == message.MethodCancel {
		return nil, fmt.Errorf("%w: %s reuses the INVITE CSeq", ErrInvalidRequest, method)
	}
	if d.IsTerminated() {
		return nil, ErrTerminated
	}
	if d.remoteTarget == nil {
		return nil, fmt.Errorf("%w: no remote target", ErrInvalidState)
	}
	seq := d.seq.Next()
	if method == message.MethodInvite {
		d.inviteCSeq = seq
	}
	return d.build(method, seq), nil
}

// NewAck builds the ACK for a 2xx to the dialog's last INVITE.
func (d *Dialog) NewAck() (*message.Request, error) {
	if d.role != UAC || !d.IsConfirmed() {
		return nil, fmt.Errorf("%w: ACK needs a confirmed UAC dialog", ErrInvalidState)
	}
	return d.build(message.MethodAck, d.inviteCSeq), nil
}

func (d *Dialog) build(method string, seq uint32) *message.Request {
	req := &message.Request{Method: method, Headers: message.NewHeaders()}
	d.routes.apply(req, d.remoteTarget)
	req.AddHeader("Max-Forwards", strconv.Itoa(message.DefaultMaxForwards))
	req.AddHeader("From", d.local)
	req.AddHeader("To", d.remote)
	req.AddHeader("Call-ID", d.key.CallID)
	req.AddHeader("CSeq", message.FormatCSeq(seq, method))
	req.SetBody(nil)
	return req
}

// ProcessRequest applies an inbound in-dialog request. An out-of-order
// CSeq is rejected with ErrCSeqOutOfOrder and leaves the dialog untouched.
// Target-refresh requests update the remote target.
func (d *Dialog) ProcessRequest(req *message.Request) error {
	if d.IsTerminated() {
		return ErrTerminated
	}
	seq, _, err := message.CSeq(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := d.seq.Check(seq, req.Method); err != nil {
		return err
	}
	if req.Method == message.MethodInvite {
		// remote re-INVITE
		d.inviteCSeq = seq
	}
	if message.IsTargetRefresh(req.Method) {
		d.refreshTarget(req)
	}
	return nil
}

func (d *Dialog) refreshTarget(msg message.Message) {
	contact := msg.GetHeader("Contact")
	if contact == "" {
		return
	}
	if uri, err := message.AddressURI(contact); err == nil {
		d.remoteTarget = uri
	}
}

// applyResponse updates a UAC dialog from a tagged 1xx or 2xx.
func (d *Dialog) applyResponse(resp *message.Response) error {
	if d.IsTerminated() {
		return ErrTerminated
	}
	d.refreshTarget(resp)
	if !d.routes.Frozen() {
		if err := d.routes.Set(resp.GetHeaders("Record-Route"), UAC); err != nil {
			return err
		}
	}
	if d.remote != "" && message.Tag(d.remote) == "" {
		d.remote = message.WithTag(d.remote, d.key.RemoteTag)
	}
	return d.advance(resp.IsSuccess())
}

// advance moves to early or confirmed. A confirmed dialog stays confirmed.
func (d *Dialog) advance(success bool) error {
	switch {
	case success && d.State() != StateConfirmed:
		if err := d.fire(evConfirm); err != nil {
			return err
		}
		d.routes.freeze()
	case !success && d.State() == StateInit:
		return d.fire(evEarly)
	}
	return nil
}

func (d *Dialog) fire(event string) error {
	err := d.machine.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return nil
}
