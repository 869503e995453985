package transaction

import "github.com/tanbro/sipua/pkg/sip/message"

// State is a transaction state name as used by the state machines.
type State string

const (
	StateCalling    State = "Calling"
	StateTrying     State = "Trying"
	StateProceeding State = "Proceeding"
	StateCompleted  State = "Completed"
	StateConfirmed  State = "Confirmed"
	StateAccepted   State = "Accepted"
	StateTerminated State = "Terminated"
)

func (s State) String() string { return string(s) }

// Kind distinguishes the four transaction state machines.
type Kind int

const (
	ClientInvite Kind = iota
	ClientNonInvite
	ServerInvite
	ServerNonInvite
)

func (k Kind) String() string {
	switch k {
	case ClientInvite:
		return "client_invite"
	case ClientNonInvite:
		return "client_non_invite"
	case ServerInvite:
		return "server_invite"
	case ServerNonInvite:
		return "server_non_invite"
	default:
		return "unknown"
	}
}

// IsClient reports whether k is a client transaction kind.
func (k Kind) IsClient() bool { return k == ClientInvite || k == ClientNonInvite }

// IsInvite reports whether k is an INVITE transaction kind.
func (k Kind) IsInvite() bool { return k == ClientInvite || k == ServerInvite }

func kindFor(method string, client bool) Kind {
	invite := method == message.MethodInvite
	switch {
	case client && invite:
		return ClientInvite
	case client:
		return ClientNonInvite
	case invite:
		return ServerInvite
	default:
		return ServerNonInvite
	}
}
