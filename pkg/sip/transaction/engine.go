// Package transaction implements the RFC 3261 client and server transaction
// state machines.
//
// The engine owns no goroutines. Timers are deadlines that the caller
// drives through RunTimers, and inbound messages arrive through
// HandleMessage. The engine is not safe for concurrent use; the stack
// serializes access with its own lock.
package transaction

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/metrics"
	"github.com/tanbro/sipua/pkg/sip/transport"
)

// Engine matches messages to transactions and runs their timers.
type Engine struct {
	transport transport.Transport
	parser    *message.Parser
	timers    Timers
	handler   Handler
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	table *handle.Table[*Transaction]
	index map[Key]handle.ID
}

// Option configures an Engine.
type Option func(*Engine)

func WithTimers(t Timers) Option {
	return func(e *Engine) { e.timers = t.withDefaults() }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithParser(p *message.Parser) Option {
	return func(e *Engine) {
		if p != nil {
			e.parser = p
		}
	}
}

// WithClock replaces time.Now for deadline arithmetic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithHandler(h Handler) Option {
	return func(e *Engine) { e.SetHandler(h) }
}

// NewEngine creates an engine sending through tp.
func NewEngine(tp transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport: tp,
		parser:    message.NewParser(false),
		timers:    DefaultTimers(),
		handler:   NopHandler{},
		log:       slog.Default(),
		now:       time.Now,
		table:     handle.NewTable[*Transaction](),
		index:     make(map[Key]handle.ID),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "transaction")
	return e
}

// SetHandler installs the transaction user. A nil h restores NopHandler.
func (e *Engine) SetHandler(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	e.handler = h
}

func (e *Engine) Timers() Timers { return e.timers }

func (e *Engine) Transport() transport.Transport { return e.transport }

// Len returns the number of live transactions.
func (e *Engine) Len() int { return e.table.Len() }

// Get returns the live transaction for id.
func (e *Engine) Get(id handle.ID) (*Transaction, bool) {
	return e.table.Get(id)
}

// Lookup returns the live transaction for key.
func (e *Engine) Lookup(key Key) (*Transaction, bool) {
	id, ok := e.index[key]
	if !ok {
		return nil, false
	}
	return e.table.Get(id)
}

// Request starts a client transaction for req and sends it to dest.
// Nothing is created when the first send fails.
func (e *Engine) Request(req *message.Request, dest string) (*Transaction, error) {
	if req == nil || req.Method == message.MethodAck {
		return nil, fmt.Errorf("%w: ACK and nil requests are sent outside transactions", ErrInvalidRequest)
	}
	key, err := requestKey(req)
	if err != nil {
		return nil, err
	}
	if _, ok := e.index[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionExists, key)
	}
	data, err := e.parser.Serialize(req)
	if err != nil {
		return nil, err
	}
	if err := e.transport.Send(data, dest); err != nil {
		return nil, err
	}

	now := e.now()
	tx := &Transaction{
		key:      key,
		kind:     kindFor(req.Method, true),
		reliable: e.transport.Reliable(),
		request:  req,
		reqData:  data,
		dest:     dest,
		created:  now,
	}
	tx.machine = newFSM(tx.kind)
	e.insert(tx)

	tx.startRetransmit(now, e.timers.T1)
	if tx.kind == ClientInvite {
		tx.setTimeout(now, "B", e.timers.Timeout())
	} else {
		tx.setTimeout(now, "F", e.timers.Timeout())
	}
	return tx, nil
}

// Respond sends resp on the server transaction id.
func (e *Engine) Respond(id handle.ID, resp *message.Response) error {
	tx, ok := e.table.Get(id)
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.IsClient() {
		return &Error{Key: tx.key, Op: "respond", State: tx.State(), Err: ErrInvalidState}
	}
	if resp == nil || resp.StatusCode < 100 || resp.StatusCode > 699 {
		return ErrInvalidResponse
	}

	allowed := tx.is(StateTrying, StateProceeding)
	if tx.kind == ServerInvite {
		allowed = tx.is(StateProceeding)
	}
	if !allowed {
		return &Error{Key: tx.key, Op: "respond", State: tx.State(), Err: ErrInvalidState}
	}

	data, err := e.parser.Serialize(resp)
	if err != nil {
		return err
	}
	if err := e.transport.Send(data, tx.dest); err != nil {
		e.log.Warn("response send failed", "tx", tx.key.String(), "status", resp.StatusCode, "error", err)
		e.terminate(tx)
		return err
	}
	tx.response = resp
	tx.respData = data

	now := e.now()
	switch {
	case resp.IsProvisional():
		if tx.kind == ServerNonInvite {
			return fire(tx.machine, evProvisional)
		}
		return nil
	case tx.kind == ServerInvite && resp.IsSuccess():
		if err := fire(tx.machine, evSuccess); err != nil {
			return err
		}
		tx.startRetransmit(now, e.timers.T1)
		tx.setTimeout(now, "L", e.timers.Timeout())
	case tx.kind == ServerInvite:
		if err := fire(tx.machine, evFinal); err != nil {
			return err
		}
		tx.startRetransmit(now, e.timers.T1)
		tx.setTimeout(now, "H", e.timers.Timeout())
	default:
		if err := fire(tx.machine, evFinal); err != nil {
			return err
		}
		e.wait(tx, now, e.timers.WaitJ(tx.reliable))
	}
	return nil
}

// AckReceived stops 2xx retransmission on an Accepted INVITE server
// transaction. The transaction lingers until timer L to absorb
// retransmitted INVITEs.
func (e *Engine) AckReceived(id handle.ID) error {
	tx, ok := e.table.Get(id)
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.kind != ServerInvite || !tx.is(StateAccepted) {
		return &Error{Key: tx.key, Op: "ack", State: tx.State(), Err: ErrInvalidState}
	}
	tx.ackReceived = true
	tx.stopRetransmit()
	return nil
}

// Terminate removes a transaction without sending anything.
func (e *Engine) Terminate(id handle.ID) error {
	tx, ok := e.table.Get(id)
	if !ok {
		return ErrTransactionNotFound
	}
	e.terminate(tx)
	return nil
}

// Send serializes msg and sends it outside any transaction; used for ACKs
// to 2xx responses.
func (e *Engine) Send(msg message.Message, dest string) error {
	data, err := e.parser.Serialize(msg)
	if err != nil {
		return err
	}
	return e.transport.Send(data, dest)
}

// HandleMessage routes one inbound message.
func (e *Engine) HandleMessage(msg message.Message, source string) {
	switch m := msg.(type) {
	case *message.Request:
		e.handleRequest(m, source)
	case *message.Response:
		e.handleResponse(m)
	}
}

func (e *Engine) handleRequest(req *message.Request, source string) {
	key, err := ServerKey(req)
	if err != nil {
		e.drop("invalid_request", err, "method", req.Method)
		return
	}
	if tx, ok := e.Lookup(key); ok {
		e.absorbRequest(tx, req, source)
		return
	}
	if req.Method == message.MethodAck {
		e.handler.OnAck(nil, req, source)
		return
	}

	tx := &Transaction{
		key:      key,
		kind:     kindFor(req.Method, false),
		reliable: e.transport.Reliable(),
		request:  req,
		dest:     source,
		created:  e.now(),
	}
	tx.machine = newFSM(tx.kind)
	e.insert(tx)
	e.handler.OnRequest(tx, req)
}

func (e *Engine) absorbRequest(tx *Transaction, req *message.Request, source string) {
	if req.Method == message.MethodAck {
		switch tx.State() {
		case StateCompleted:
			if err := fire(tx.machine, evAck); err != nil {
				e.log.Error("ack transition failed", "tx", tx.key.String(), "error", err)
				return
			}
			tx.stopRetransmit()
			tx.clearTimeout()
			e.wait(tx, e.now(), e.timers.WaitIK(tx.reliable))
		case StateAccepted:
			tx.ackReceived = true
			tx.stopRetransmit()
			e.handler.OnAck(tx, req, source)
		}
		return
	}

	if tx.respData == nil || !tx.is(StateProceeding, StateCompleted, StateAccepted) {
		return
	}
	if err := e.transport.Send(tx.respData, tx.dest); err != nil {
		e.transportFailure(tx, err)
		return
	}
	e.metrics.Retransmission(tx.kind.String())
}

func (e *Engine) handleResponse(resp *message.Response) {
	key, err := ClientKey(resp)
	if err != nil {
		e.drop("invalid_response", err, "status", resp.StatusCode)
		return
	}
	tx, ok := e.Lookup(key)
	if !ok {
		e.drop("stray_response", nil, "key", key.String(), "status", resp.StatusCode)
		return
	}
	if tx.kind == ClientInvite {
		e.inviteResponse(tx, resp)
	} else {
		e.nonInviteResponse(tx, resp)
	}
}

func (e *Engine) inviteResponse(tx *Transaction, resp *message.Response) {
	now := e.now()
	switch {
	case resp.IsProvisional():
		if !tx.is(StateCalling, StateProceeding) {
			return
		}
		if err := fire(tx.machine, evProvisional); err != nil {
			e.log.Error("provisional transition failed", "tx", tx.key.String(), "error", err)
			return
		}
		tx.stopRetransmit()
		tx.clearTimeout()
		tx.response = resp
		e.handler.OnResponse(tx, resp)

	case resp.IsSuccess():
		switch tx.State() {
		case StateCalling, StateProceeding:
			if err := fire(tx.machine, evSuccess); err != nil {
				e.log.Error("success transition failed", "tx", tx.key.String(), "error", err)
				return
			}
			tx.stopRetransmit()
			tx.clearTimeout()
			tx.response = resp
			tx.terminateAt = now.Add(e.timers.Timeout())
			e.handler.OnResponse(tx, resp)
		case StateAccepted:
			e.handler.OnResponse(tx, resp)
		}

	default:
		switch tx.State() {
		case StateCalling, StateProceeding:
			data, err := e.parser.Serialize(NewAck(tx.request, resp))
			if err != nil {
				e.log.Error("cannot build ACK", "tx", tx.key.String(), "error", err)
				return
			}
			if err := fire(tx.machine, evFinal); err != nil {
				e.log.Error("final transition failed", "tx", tx.key.String(), "error", err)
				return
			}
			tx.stopRetransmit()
			tx.clearTimeout()
			tx.response = resp
			tx.ackData = data
			if err := e.transport.Send(data, tx.dest); err != nil {
				e.transportFailure(tx, err)
				return
			}
			e.handler.OnResponse(tx, resp)
			if e.table.Contains(tx.id) {
				e.wait(tx, now, e.timers.WaitD(tx.reliable))
			}
		case StateCompleted:
			if err := e.transport.Send(tx.ackData, tx.dest); err != nil {
				e.transportFailure(tx, err)
				return
			}
			e.metrics.Retransmission(tx.kind.String())
		}
	}
}

func (e *Engine) nonInviteResponse(tx *Transaction, resp *message.Response) {
	if !tx.is(StateTrying, StateProceeding) {
		return
	}
	tx.response = resp
	if resp.IsProvisional() {
		if err := fire(tx.machine, evProvisional); err != nil {
			e.log.Error("provisional transition failed", "tx", tx.key.String(), "error", err)
			return
		}
		if !tx.retransmitAt.IsZero() {
			tx.interval = e.timers.T2
		}
		e.handler.OnResponse(tx, resp)
		return
	}

	if err := fire(tx.machine, evFinal); err != nil {
		e.log.Error("final transition failed", "tx", tx.key.String(), "error", err)
		return
	}
	tx.stopRetransmit()
	tx.clearTimeout()
	e.handler.OnResponse(tx, resp)
	if e.table.Contains(tx.id) {
		e.wait(tx, e.now(), e.timers.WaitIK(tx.reliable))
	}
}

// RunTimers fires every deadline that is due at now.
func (e *Engine) RunTimers(now time.Time) {
	for _, id := range e.table.IDs() {
		tx, ok := e.table.Get(id)
		if !ok {
			continue
		}
		switch {
		case due(tx.terminateAt, now):
			e.terminate(tx)
		case due(tx.timeoutAt, now):
			e.expire(tx)
		case due(tx.retransmitAt, now):
			e.retransmit(tx, now)
		}
	}
}

// NextDeadline returns the earliest armed deadline, or the zero time.
func (e *Engine) NextDeadline() time.Time {
	var next time.Time
	e.table.Each(func(_ handle.ID, tx *Transaction) bool {
		if d := tx.nextDeadline(); !d.IsZero() && (next.IsZero() || d.Before(next)) {
			next = d
		}
		return true
	})
	return next
}

func (e *Engine) retransmit(tx *Transaction, now time.Time) {
	data := tx.reqData
	if !tx.IsClient() {
		data = tx.respData
	}
	if err := e.transport.Send(data, tx.dest); err != nil {
		e.transportFailure(tx, err)
		return
	}
	e.metrics.Retransmission(tx.kind.String())
	e.log.Debug("retransmitted", "tx", tx.key.String(), "state", tx.State().String(), "interval", tx.interval)

	if tx.kind == ClientNonInvite && tx.is(StateProceeding) {
		tx.interval = e.timers.T2
	} else {
		tx.interval = e.timers.NextInterval(tx.interval)
	}
	tx.retransmitAt = now.Add(tx.interval)
}

func (e *Engine) expire(tx *Transaction) {
	state := tx.State()
	if tx.kind == ServerInvite && (state == StateCompleted || tx.ackReceived) {
		if state == StateCompleted {
			e.log.Debug("no ACK for final response", "tx", tx.key.String())
		}
		e.terminate(tx)
		return
	}

	err := &TimeoutError{Key: tx.key, Timer: tx.timeoutName, State: state}
	e.metrics.TransactionTimeout(tx.kind.String())
	e.log.Info("transaction timed out", "tx", tx.key.String(), "timer", tx.timeoutName, "state", state.String())
	if !e.remove(tx) {
		return
	}
	e.handler.OnTimeout(tx, err)
	e.handler.OnTerminated(tx)
}

func (e *Engine) transportFailure(tx *Transaction, err error) {
	e.log.Warn("transport failure", "tx", tx.key.String(), "dest", tx.dest, "error", err)
	if !e.remove(tx) {
		return
	}
	e.handler.OnTransportError(tx, err)
	e.handler.OnTerminated(tx)
}

// wait arms the final linger timer, terminating at once when it is zero.
func (e *Engine) wait(tx *Transaction, now time.Time, d time.Duration) {
	if d <= 0 {
		e.terminate(tx)
		return
	}
	tx.terminateAt = now.Add(d)
}

func (e *Engine) insert(tx *Transaction) {
	tx.id = e.table.Insert(tx)
	e.index[tx.key] = tx.id
	e.metrics.TransactionStarted(tx.kind.String())
	e.log.Debug("transaction created", "tx", tx.key.String(), "id", tx.id.String(), "state", tx.State().String())
}

func (e *Engine) terminate(tx *Transaction) {
	if e.remove(tx) {
		e.handler.OnTerminated(tx)
	}
}

func (e *Engine) remove(tx *Transaction) bool {
	if !e.table.Remove(tx.id) {
		return false
	}
	if id, ok := e.index[tx.key]; ok && id == tx.id {
		delete(e.index, tx.key)
	}
	if err := fire(tx.machine, evTerminate); err != nil {
		e.log.Error("terminate transition failed", "tx", tx.key.String(), "error", err)
	}
	tx.stopRetransmit()
	tx.clearTimeout()
	tx.terminateAt = time.Time{}
	e.metrics.TransactionEnded()
	e.log.Debug("transaction terminated", "tx", tx.key.String(), "id", tx.id.String(), "age", tx.Age(e.now()))
	return true
}

func (e *Engine) drop(reason string, err error, args ...any) {
	e.metrics.MessageDropped(reason)
	if err != nil {
		args = append(args, "error", err)
	}
	e.log.Debug("message dropped", append([]any{"reason", reason}, args...)...)
}
