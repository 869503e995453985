package transaction

import (
	"time"

	"github.com/looplab/fsm"

	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
)

// Transaction is one client or server transaction. All fields are owned by
// the Engine; callers only read through the accessors while holding the
// stack lock.
type Transaction struct {
	id       handle.ID
	key      Key
	kind     Kind
	machine  *fsm.FSM
	reliable bool

	request *message.Request
	reqData []byte
	// dest is the request destination for client transactions and the
	// request source for server transactions.
	dest string

	response *message.Response
	respData []byte
	ackData  []byte

	ackReceived bool
	created     time.Time

	// deadlines, zero when disarmed
	interval     time.Duration
	retransmitAt time.Time
	timeoutAt    time.Time
	timeoutName  string
	terminateAt  time.Time
}

func (tx *Transaction) ID() handle.ID { return tx.id }

func (tx *Transaction) Key() Key { return tx.key }

func (tx *Transaction) Kind() Kind { return tx.kind }

// State returns the current state machine state.
func (tx *Transaction) State() State { return State(tx.machine.Current()) }

// Request returns the request that started the transaction.
func (tx *Transaction) Request() *message.Request { return tx.request }

// Response returns the last response sent or received, or nil.
func (tx *Transaction) Response() *message.Response { return tx.response }

// Destination is where requests (client) or responses (server) are sent.
func (tx *Transaction) Destination() string { return tx.dest }

func (tx *Transaction) Reliable() bool { return tx.reliable }

func (tx *Transaction) IsClient() bool { return tx.kind.IsClient() }

func (tx *Transaction) IsInvite() bool { return tx.kind.IsInvite() }

// AckReceived reports whether a server INVITE transaction saw the ACK for
// its 2xx.
func (tx *Transaction) AckReceived() bool { return tx.ackReceived }

// Age returns how long the transaction has existed at now.
func (tx *Transaction) Age(now time.Time) time.Duration { return now.Sub(tx.created) }

func (tx *Transaction) is(states ...State) bool {
	cur := tx.State()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}

func (tx *Transaction) startRetransmit(now time.Time, interval time.Duration) {
	if tx.reliable {
		return
	}
	tx.interval = interval
	tx.retransmitAt = now.Add(interval)
}

func (tx *Transaction) stopRetransmit() {
	tx.interval = 0
	tx.retransmitAt = time.Time{}
}

func (tx *Transaction) setTimeout(now time.Time, name string, d time.Duration) {
	tx.timeoutName = name
	tx.timeoutAt = now.Add(d)
}

func (tx *Transaction) clearTimeout() {
	tx.timeoutName = ""
	tx.timeoutAt = time.Time{}
}

// nextDeadline returns the earliest armed deadline.
func (tx *Transaction) nextDeadline() time.Time {
	var next time.Time
	for _, d := range []time.Time{tx.retransmitAt, tx.timeoutAt, tx.terminateAt} {
		if d.IsZero() {
			continue
		}
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}
	return next
}

func due(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}
