package call

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tanbro/sipua/pkg/sip/dialog"
	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transaction"
)

type sentAck struct {
	req  *message.Request
	dest string
}

// Call is one INVITE session with all the dialogs it produced.
type Call struct {
	id       handle.ID
	outbound bool
	request  *message.Request
	invite   handle.ID
	reinvite handle.ID
	// localTag is the To tag of every response to an inbound INVITE.
	localTag string

	dialogs []handle.ID
	current handle.ID

	provisional   bool
	cancelPending bool
	cancelled     bool
	finished      bool
	noAnswerAt    time.Time

	answered map[handle.ID]bool
	acks     map[handle.ID]sentAck
}

func newCall(outbound bool, req *message.Request) *Call {
	return &Call{
		outbound: outbound,
		request:  req,
		answered: make(map[handle.ID]bool),
		acks:     make(map[handle.ID]sentAck),
	}
}

func (c *Call) ID() handle.ID { return c.id }

func (c *Call) Outbound() bool { return c.outbound }

// Request returns the INVITE that started the call.
func (c *Call) Request() *message.Request { return c.request }

// Transaction returns the id of the INVITE transaction.
func (c *Call) Transaction() handle.ID { return c.invite }

// CurrentDialog returns the confirmed dialog, or the first early one.
func (c *Call) CurrentDialog() handle.ID { return c.current }

func (c *Call) Dialogs() []handle.ID { return slices.Clone(c.dialogs) }

func (c *Call) finish() {
	c.finished = true
	c.noAnswerAt = time.Time{}
	c.cancelPending = false
}

func (c *Call) removeDialog(id handle.ID) {
	c.dialogs = slices.DeleteFunc(c.dialogs, func(d handle.ID) bool { return d == id })
	delete(c.answered, id)
	delete(c.acks, id)
	if c.current == id {
		c.current = handle.Nil
		if n := len(c.dialogs); n > 0 {
			c.current = c.dialogs[n-1]
		}
	}
}

// Initiate sends an INVITE from from to to. It returns at once; the
// outcome arrives as events. A request that cannot be sent is reported as
// CallRequestFailure, not as an error.
func (m *Manager) Initiate(to, from string, opts ...Option) (handle.ID, error) {
	o := collect(opts)
	reqOpts := append(m.baseOptions(from, true), o.requestOptions()...)
	req, err := message.BuildRequest(message.MethodInvite, to, from, reqOpts...)
	if err != nil {
		return handle.Nil, err
	}
	m.stamp(req)
	dest, err := destination(req)
	if err != nil {
		return handle.Nil, err
	}
	d, err := m.dialogs.CreateUAC(req)
	if err != nil {
		return handle.Nil, err
	}

	c := newCall(true, req)
	c.id = m.calls.Insert(c)
	m.attachDialog(c, d)
	m.log.Debug("call created", "call_id", c.id.String(), "to", to)

	tx, err := m.engine.Request(req, dest)
	if err != nil {
		m.log.Warn("INVITE not sent", "call_id", c.id.String(), "dest", dest, "error", err)
		c.finish()
		m.push(&event.Event{
			Type:    event.ForFailure(event.CategoryCall),
			CallID:  c.id,
			Request: req,
			Err:     err,
		})
		m.endCallDialogs(c)
		return c.id, nil
	}
	c.invite = tx.ID()
	d.AddTransaction(tx.ID())
	m.bind(tx, &binding{purpose: purposeInvite, call: c.id, dialog: d.ID()})
	return c.id, nil
}

// Terminate ends a call or one of its dialogs. A confirmed dialog gets a
// BYE. An unanswered outbound INVITE is cancelled, once a provisional
// response has arrived. An unanswered inbound INVITE is declined. A nil
// dialogID selects the current dialog.
func (m *Manager) Terminate(callID, dialogID handle.ID) error {
	c, ok := m.calls.Get(callID)
	if !ok {
		return ErrCallNotFound
	}
	if dialogID.IsNil() {
		dialogID = c.current
	}
	var d *dialog.Dialog
	if !dialogID.IsNil() {
		d, ok = m.dialogs.Get(dialogID)
		if !ok || m.dialogCall[dialogID] != callID {
			return ErrDialogNotFound
		}
	}

	if d != nil && d.IsConfirmed() {
		return m.sendBye(c, d)
	}
	inv, ok := m.engine.Get(c.invite)
	if c.outbound {
		if !ok || !(inv.State() == transaction.StateCalling || inv.State() == transaction.StateProceeding) {
			return stateError(transaction.ErrInvalidState, "call %s has no pending INVITE", callID)
		}
		if c.cancelled || c.cancelPending {
			return stateError(transaction.ErrInvalidState, "call %s is already cancelled", callID)
		}
		if !c.provisional {
			c.cancelPending = true
			return nil
		}
		return m.sendCancel(c)
	}
	if !ok || inv.State() != transaction.StateProceeding {
		return stateError(transaction.ErrInvalidState, "call %s has no pending INVITE", callID)
	}
	return m.answerInvite(c, inv, message.StatusDecline, options{})
}

// SendAck acknowledges the 2xx that confirmed dialogID. The ACK is kept
// and repeated for every retransmitted 2xx.
func (m *Manager) SendAck(dialogID handle.ID, opts ...Option) error {
	d, ok := m.dialogs.Get(dialogID)
	if !ok {
		return ErrDialogNotFound
	}
	c, ok := m.calls.Get(m.dialogCall[dialogID])
	if !ok {
		return ErrCallNotFound
	}
	if d.Role() != dialog.UAC || !d.IsConfirmed() {
		return stateError(dialog.ErrInvalidState, "dialog %s is %s %s", dialogID, d.Role(), d.State())
	}
	inv, ok := m.engine.Get(c.invite)
	if !ok || inv.State() != transaction.StateAccepted {
		return stateError(transaction.ErrInvalidState, "INVITE of call %s is not accepted", c.id)
	}
	return m.ack(c, d, collect(opts))
}

func (m *Manager) ack(c *Call, d *dialog.Dialog, o options) error {
	ack, err := d.NewAck()
	if err != nil {
		return stateError(err, "ACK for dialog %s", d.ID())
	}
	ack.HeaderSet().Prepend("Via", m.via())
	m.stamp(ack)
	o.apply(ack)
	dest, err := destination(ack)
	if err != nil {
		return err
	}
	if err := m.engine.Send(ack, dest); err != nil {
		return err
	}
	c.acks[d.ID()] = sentAck{req: ack, dest: dest}
	return nil
}

// SendRequest sends an in-dialog request such as INFO, UPDATE or REFER.
// Responses arrive as CallMessage events, or Notification events for a
// NOTIFY inside a subscription.
func (m *Manager) SendRequest(dialogID handle.ID, method string, opts ...Option) (handle.ID, error) {
	method = strings.ToUpper(method)
	switch method {
	case message.MethodAck, message.MethodCancel, message.MethodBye, message.MethodInvite, message.MethodRegister:
		return handle.Nil, fmt.Errorf("%w: %s cannot be sent with SendRequest", ErrInvalidMethod, method)
	}
	d, ok := m.dialogs.Get(dialogID)
	if !ok {
		return handle.Nil, ErrDialogNotFound
	}
	if d.State() == dialog.StateInit {
		return handle.Nil, stateError(dialog.ErrInvalidState, "dialog %s is not established", dialogID)
	}
	req, err := d.NewRequest(method)
	if err != nil {
		return handle.Nil, stateError(err, "%s in dialog %s", method, dialogID)
	}
	m.prepareInDialog(req, d, collect(opts))

	b := &binding{purpose: purposeCallRequest, call: m.dialogCall[dialogID], dialog: dialogID}
	if subID, ok := m.dialogSub[dialogID]; ok {
		switch method {
		case message.MethodNotify:
			b = &binding{purpose: purposeNotify, subscription: subID, dialog: dialogID,
				closing: terminating(req.GetHeader("Subscription-State"))}
		case message.MethodSubscribe:
			b = &binding{purpose: purposeSubscribe, subscription: subID, dialog: dialogID}
		}
	}
	tx, err := m.sendInDialog(req, d)
	if err != nil {
		return handle.Nil, err
	}
	m.bind(tx, b)
	return tx.ID(), nil
}

func (m *Manager) sendInDialog(req *message.Request, d *dialog.Dialog) (*transaction.Transaction, error) {
	dest, err := destination(req)
	if err != nil {
		return nil, err
	}
	tx, err := m.engine.Request(req, dest)
	if err != nil {
		return nil, err
	}
	d.AddTransaction(tx.ID())
	return tx, nil
}

func (m *Manager) sendBye(c *Call, d *dialog.Dialog) error {
	req, err := d.NewRequest(message.MethodBye)
	if err != nil {
		return stateError(err, "BYE in dialog %s", d.ID())
	}
	m.prepareInDialog(req, d, options{})
	tx, err := m.sendInDialog(req, d)
	if err != nil {
		m.endDialog(d)
		return err
	}
	m.bind(tx, &binding{purpose: purposeBye, call: c.id, dialog: d.ID()})
	return nil
}

func (m *Manager) sendCancel(c *Call) error {
	inv, ok := m.engine.Get(c.invite)
	if !ok || !(inv.State() == transaction.StateCalling || inv.State() == transaction.StateProceeding) {
		return stateError(transaction.ErrInvalidState, "call %s has no pending INVITE", c.id)
	}
	cancel := transaction.NewCancel(inv.Request())
	m.stamp(cancel)
	tx, err := m.engine.Request(cancel, inv.Destination())
	if err != nil {
		return err
	}
	c.cancelled = true
	m.bind(tx, &binding{purpose: purposeCancel, call: c.id})
	return nil
}

func (m *Manager) inviteResponse(tx *transaction.Transaction, b *binding, resp *message.Response) {
	c, ok := m.calls.Get(b.call)
	if !ok || c.invite != tx.ID() {
		return
	}
	d, _, err := m.dialogs.HandleResponse(tx.Request(), resp)
	if err != nil {
		m.log.Warn("response does not fit a dialog", "call_id", c.id.String(), "status", resp.StatusCode, "error", err)
	}
	if d != nil {
		m.attachDialog(c, d)
	}
	e := &event.Event{TransactionID: tx.ID(), CallID: c.id, Request: tx.Request(), Response: resp}
	if d != nil {
		e.DialogID = d.ID()
	}

	switch {
	case resp.IsProvisional():
		if !c.provisional {
			c.provisional = true
			c.noAnswerAt = m.cfg.Now().Add(m.cfg.NoAnswer)
		}
		if c.cancelPending {
			c.cancelPending = false
			if err := m.sendCancel(c); err != nil {
				m.log.Warn("deferred CANCEL failed", "call_id", c.id.String(), "error", err)
			}
		}
		e.Type, _ = event.ForResponse(event.CategoryCall, resp.StatusCode)
		m.push(e)

	case resp.IsSuccess():
		cancelled := c.cancelled || c.cancelPending
		c.finish()
		if d == nil {
			return
		}
		if c.answered[d.ID()] {
			if a, ok := c.acks[d.ID()]; ok {
				if err := m.engine.Send(a.req, a.dest); err != nil {
					m.log.Warn("ACK retransmission failed", "call_id", c.id.String(), "error", err)
				}
			}
			return
		}
		c.answered[d.ID()] = true
		if cancelled {
			// answered despite the CANCEL: confirm and hang up
			if err := m.ack(c, d, options{}); err != nil {
				m.log.Warn("ACK failed", "call_id", c.id.String(), "error", err)
			}
			if err := m.sendBye(c, d); err != nil {
				m.log.Warn("BYE failed", "call_id", c.id.String(), "error", err)
			}
			return
		}
		e.Type = event.CallAnswered
		m.push(e)

	default:
		c.finish()
		e.Type, _ = event.ForResponse(event.CategoryCall, resp.StatusCode)
		m.push(e)
		m.endCallDialogs(c)
	}
}

// inDialogResponse reports the response to an in-dialog request. A final
// 481 means the peer lost the dialog.
func (m *Manager) inDialogResponse(tx *transaction.Transaction, b *binding, resp *message.Response, cat event.Category) {
	typ, ok := event.ForResponse(cat, resp.StatusCode)
	if !ok {
		return
	}
	m.push(&event.Event{
		Type:           typ,
		TransactionID:  tx.ID(),
		CallID:         b.call,
		DialogID:       b.dialog,
		SubscriptionID: b.subscription,
		Request:        tx.Request(),
		Response:       resp,
	})
	if !resp.IsFinal() {
		return
	}
	switch {
	case resp.StatusCode == message.StatusCallTransactionNotExist && !b.subscription.IsNil():
		m.endSubscription(b.subscription)
	case resp.StatusCode == message.StatusCallTransactionNotExist:
		m.endDialogID(b.dialog)
	case b.closing:
		m.endSubscription(b.subscription)
	}
}

func (m *Manager) answerInvite(c *Call, tx *transaction.Transaction, status int, o options) error {
	if tx.State() != transaction.StateProceeding {
		return stateError(transaction.ErrInvalidState, "INVITE transaction %s is %s", tx.ID(), tx.State())
	}
	tag := c.localTag
	if status == message.StatusTrying {
		tag = ""
	}
	resp := m.response(tx.Request(), status, tag, o)
	if status > message.StatusTrying && status < 300 {
		if err := dialog.CheckUAS(tx.Request(), resp); err != nil {
			return stateError(err, "cannot answer call %s with %d", c.id, status)
		}
	}
	if err := m.respond(tx, resp); err != nil {
		return err
	}
	switch {
	case status == message.StatusTrying:
	case status < 300:
		d, err := m.dialogs.CreateUAS(tx.Request(), resp)
		if err == nil {
			m.attachDialog(c, d)
		}
		if status >= 200 {
			c.finish()
		}
		return err
	default:
		c.finish()
		m.endCallDialogs(c)
	}
	return nil
}

func (m *Manager) inboundInvite(tx *transaction.Transaction, req *message.Request) {
	m.reply(tx, message.StatusTrying, "")
	c := newCall(false, req)
	c.invite = tx.ID()
	c.localTag = message.GenerateTag()
	c.id = m.calls.Insert(c)
	m.bind(tx, &binding{purpose: purposeInboundInvite, call: c.id})
	m.log.Debug("incoming call", "call_id", c.id.String(), "from", req.GetHeader("From"))
	m.push(&event.Event{Type: event.CallInvite, TransactionID: tx.ID(), CallID: c.id, Request: req})
}

func (m *Manager) inboundCancel(tx *transaction.Transaction, req *message.Request) {
	key := transaction.Key{Branch: message.Branch(req), Method: message.MethodInvite}
	inv, ok := m.engine.Lookup(key)
	if !ok {
		m.reply(tx, message.StatusCallTransactionNotExist, message.GenerateTag())
		return
	}
	var c *Call
	if b, ok := m.bindings[inv.ID()]; ok {
		c, _ = m.calls.Get(b.call)
	}
	if c == nil {
		m.reply(tx, message.StatusCallTransactionNotExist, message.GenerateTag())
		return
	}
	m.reply(tx, message.StatusOK, c.localTag)
	if inv.State() != transaction.StateProceeding {
		return
	}
	if err := m.respond(inv, m.response(inv.Request(), message.StatusRequestTerminated, c.localTag, options{})); err != nil {
		m.log.Warn("487 not sent", "call_id", c.id.String(), "error", err)
	}
	c.finish()
	m.push(&event.Event{Type: event.CallCancelled, TransactionID: inv.ID(), CallID: c.id, Request: req})
	m.endCallDialogs(c)
}

func (m *Manager) inboundInDialog(tx *transaction.Transaction, req *message.Request) {
	d, ok := m.dialogs.Match(req)
	if !ok {
		if req.Method == message.MethodNotify {
			if s := m.subscriptionFor(req); s != nil {
				m.inboundNotify(tx, req, s, handle.Nil)
				return
			}
		}
		m.reply(tx, message.StatusCallTransactionNotExist, "")
		return
	}
	if err := d.ProcessRequest(req); err != nil {
		m.log.Info("in-dialog request rejected", "dialog_id", d.ID().String(), "method", req.Method, "error", err)
		status := message.StatusServerInternalError
		if d.IsTerminated() {
			status = message.StatusCallTransactionNotExist
		}
		m.reply(tx, status, "")
		return
	}
	d.AddTransaction(tx.ID())

	if subID, ok := m.dialogSub[d.ID()]; ok {
		s, _ := m.subscriptions.Get(subID)
		switch {
		case s != nil && req.Method == message.MethodNotify:
			m.inboundNotify(tx, req, s, d.ID())
		case s != nil && req.Method == message.MethodSubscribe:
			s.tx = tx.ID()
			m.bind(tx, &binding{purpose: purposeInboundSubscribe, subscription: subID, dialog: d.ID()})
			m.push(&event.Event{Type: event.InSubscriptionNew, TransactionID: tx.ID(), SubscriptionID: subID, DialogID: d.ID(), Request: req})
		default:
			m.bind(tx, &binding{purpose: purposeInboundMessage, subscription: subID, dialog: d.ID()})
			m.push(&event.Event{Type: event.MessageNew, TransactionID: tx.ID(), SubscriptionID: subID, DialogID: d.ID(), Request: req})
		}
		return
	}

	c, ok := m.calls.Get(m.dialogCall[d.ID()])
	if !ok {
		m.reply(tx, message.StatusCallTransactionNotExist, "")
		return
	}
	e := &event.Event{TransactionID: tx.ID(), CallID: c.id, DialogID: d.ID(), Request: req}
	switch req.Method {
	case message.MethodInvite:
		m.reply(tx, message.StatusTrying, "")
		m.bind(tx, &binding{purpose: purposeInboundReinvite, call: c.id, dialog: d.ID()})
		e.Type = event.CallReinvite
		m.push(e)
	case message.MethodBye:
		m.reply(tx, message.StatusOK, "")
		if inv, ok := m.engine.Get(c.invite); ok && !inv.IsClient() && inv.State() == transaction.StateProceeding {
			if err := m.respond(inv, m.response(inv.Request(), message.StatusRequestTerminated, c.localTag, options{})); err != nil {
				m.log.Warn("487 not sent", "call_id", c.id.String(), "error", err)
			}
			c.finish()
		}
		e.Type = event.CallClosed
		m.push(e)
		m.endDialog(d)
	default:
		m.bind(tx, &binding{purpose: purposeInboundCallRequest, call: c.id, dialog: d.ID()})
		e.Type = event.CallMessageNew
		m.push(e)
	}
}

func (m *Manager) attachDialog(c *Call, d *dialog.Dialog) {
	id := d.ID()
	if _, ok := m.dialogCall[id]; !ok {
		m.dialogCall[id] = c.id
		c.dialogs = append(c.dialogs, id)
	}
	if c.current.IsNil() || d.IsConfirmed() {
		c.current = id
	}
}

func (m *Manager) endDialogID(id handle.ID) {
	if d, ok := m.dialogs.Get(id); ok {
		m.endDialog(d)
	}
}

// endDialog terminates d and releases its call when nothing is left.
func (m *Manager) endDialog(d *dialog.Dialog) {
	id := d.ID()
	if err := m.dialogs.Terminate(id); err != nil {
		m.log.Debug("dialog termination", "dialog_id", id.String(), "error", err)
	}
	delete(m.dialogSub, id)
	callID, ok := m.dialogCall[id]
	if !ok {
		return
	}
	delete(m.dialogCall, id)
	if c, ok := m.calls.Get(callID); ok {
		c.removeDialog(id)
		m.releaseIfIdle(c)
	}
}

func (m *Manager) endCallDialogs(c *Call) {
	for _, id := range c.Dialogs() {
		m.endDialogID(id)
	}
	m.releaseIfIdle(c)
}

func (m *Manager) releaseIfIdle(c *Call) {
	if !c.finished || len(c.dialogs) > 0 {
		return
	}
	if !m.calls.Remove(c.id) {
		return
	}
	m.log.Debug("call released", "call_id", c.id.String())
	m.push(&event.Event{Type: event.CallReleased, CallID: c.id})
}
