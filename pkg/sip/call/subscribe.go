package call

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tanbro/sipua/pkg/sip/dialog"
	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transaction"
)

// Subscription is an event subscription (RFC 6665). Outbound
// subscriptions receive NOTIFY; inbound ones send it.
type Subscription struct {
	id       handle.ID
	outbound bool
	event    string
	expires  int

	callID   string
	localTag string
	request  *message.Request
	tx       handle.ID
	dialog   handle.ID
	active   bool
}

func (s *Subscription) ID() handle.ID { return s.id }

// Outbound reports whether this UA is the subscriber.
func (s *Subscription) Outbound() bool { return s.outbound }

// Event returns the event package, e.g. "presence".
func (s *Subscription) Event() string { return s.event }

func (s *Subscription) Dialog() handle.ID { return s.dialog }

// Active reports whether the SUBSCRIBE was accepted with a 2xx.
func (s *Subscription) Active() bool { return s.active }

// Subscribe sends a SUBSCRIBE for eventName to to. The dialog is created
// by the 2xx; NOTIFY requests arrive as SubscriptionNotify. A SUBSCRIBE
// that cannot be sent is reported as SubscriptionRequestFailure and the
// subscription is forgotten.
func (m *Manager) Subscribe(to, from, eventName string, expires int, opts ...Option) (handle.ID, error) {
	if expires < 0 {
		return handle.Nil, fmt.Errorf("%w: %d", ErrInvalidExpires, expires)
	}
	o := collect(opts)
	reqOpts := append(m.baseOptions(from, true), o.requestOptions()...)
	reqOpts = append(reqOpts,
		message.WithHeader("Event", eventName),
		message.WithHeader("Expires", expiresValue(expires)),
	)
	req, err := message.BuildRequest(message.MethodSubscribe, to, from, reqOpts...)
	if err != nil {
		return handle.Nil, err
	}
	m.stamp(req)
	dest, err := destination(req)
	if err != nil {
		return handle.Nil, err
	}
	s := &Subscription{
		outbound: true,
		event:    eventName,
		expires:  expires,
		callID:   message.CallID(req),
		localTag: message.FromTag(req),
		request:  req,
	}
	s.id = m.subscriptions.Insert(s)
	tx, err := m.engine.Request(req, dest)
	if err != nil {
		m.log.Warn("SUBSCRIBE not sent", "subscription_id", s.id.String(), "dest", dest, "error", err)
		m.push(&event.Event{Type: event.SubscriptionRequestFailure, SubscriptionID: s.id, Request: req, Err: err})
		m.endSubscription(s.id)
		return s.id, nil
	}
	s.tx = tx.ID()
	m.bind(tx, &binding{purpose: purposeSubscribe, subscription: s.id})
	return s.id, nil
}

// Notify sends a NOTIFY with the given Subscription-State on an inbound
// subscription. A state of "terminated" ends the subscription once the
// NOTIFY completes.
func (m *Manager) Notify(subID handle.ID, state string, opts ...Option) (handle.ID, error) {
	s, ok := m.subscriptions.Get(subID)
	if !ok {
		return handle.Nil, ErrSubscriptionNotFound
	}
	if s.outbound {
		return handle.Nil, fmt.Errorf("%w: subscription %s is not ours to notify", ErrInvalidMethod, subID)
	}
	d, ok := m.dialogs.Get(s.dialog)
	if !ok {
		return handle.Nil, stateError(dialog.ErrInvalidState, "subscription %s is not established", subID)
	}
	req, err := d.NewRequest(message.MethodNotify)
	if err != nil {
		return handle.Nil, stateError(err, "NOTIFY in dialog %s", d.ID())
	}
	req.SetHeader("Event", s.event)
	req.SetHeader("Subscription-State", state)
	m.prepareInDialog(req, d, collect(opts))
	tx, err := m.sendInDialog(req, d)
	if err != nil {
		return handle.Nil, err
	}
	m.bind(tx, &binding{purpose: purposeNotify, subscription: s.id, dialog: d.ID(), closing: terminating(state)})
	return tx.ID(), nil
}

func terminating(state string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(state)), "terminated")
}

// subscriptionFor finds the outbound subscription of a NOTIFY that beat
// the 2xx to the SUBSCRIBE.
func (m *Manager) subscriptionFor(req *message.Request) *Subscription {
	callID, tag := message.CallID(req), message.ToTag(req)
	var found *Subscription
	m.subscriptions.Each(func(_ handle.ID, s *Subscription) bool {
		if s.outbound && s.callID == callID && s.localTag == tag {
			found = s
			return false
		}
		return true
	})
	return found
}

func (m *Manager) inboundNotify(tx *transaction.Transaction, req *message.Request, s *Subscription, dialogID handle.ID) {
	closing := terminating(req.GetHeader("Subscription-State"))
	m.bind(tx, &binding{purpose: purposeInboundNotify, subscription: s.id, dialog: dialogID, closing: closing})
	m.push(&event.Event{
		Type:           event.SubscriptionNotify,
		TransactionID:  tx.ID(),
		SubscriptionID: s.id,
		DialogID:       dialogID,
		Request:        req,
	})
}

func (m *Manager) inboundSubscribe(tx *transaction.Transaction, req *message.Request) {
	s := &Subscription{
		event:    req.GetHeader("Event"),
		callID:   message.CallID(req),
		localTag: message.GenerateTag(),
		request:  req,
		tx:       tx.ID(),
	}
	if n, err := strconv.Atoi(req.GetHeader("Expires")); err == nil {
		s.expires = n
	}
	s.id = m.subscriptions.Insert(s)
	m.bind(tx, &binding{purpose: purposeInboundSubscribe, subscription: s.id})
	m.push(&event.Event{Type: event.InSubscriptionNew, TransactionID: tx.ID(), SubscriptionID: s.id, Request: req})
}

func (m *Manager) subscribeResponse(tx *transaction.Transaction, b *binding, resp *message.Response) {
	s, ok := m.subscriptions.Get(b.subscription)
	if !ok {
		return
	}
	if resp.IsSuccess() && s.dialog.IsNil() {
		d, _, err := m.dialogs.HandleResponse(tx.Request(), resp)
		if err != nil {
			m.log.Warn("no dialog for subscription", "subscription_id", s.id.String(), "error", err)
		} else if d != nil {
			s.dialog = d.ID()
			m.dialogSub[d.ID()] = s.id
		}
	}
	if resp.IsSuccess() {
		s.active = true
	}
	typ, ok := event.ForResponse(event.CategorySubscription, resp.StatusCode)
	if !ok {
		return
	}
	m.push(&event.Event{
		Type:           typ,
		TransactionID:  tx.ID(),
		SubscriptionID: s.id,
		DialogID:       s.dialog,
		Request:        tx.Request(),
		Response:       resp,
	})
	if resp.IsFinal() && !resp.IsSuccess() && (!s.active || resp.StatusCode == message.StatusCallTransactionNotExist) {
		m.endSubscription(s.id)
	}
}

func (m *Manager) answerSubscribe(s *Subscription, tx *transaction.Transaction, status int, o options) error {
	tag := s.localTag
	if status == message.StatusTrying {
		tag = ""
	}
	resp := m.response(tx.Request(), status, tag, o)
	if status >= 200 && status < 300 && s.expires > 0 && !o.has("Expires") {
		resp.SetHeader("Expires", expiresValue(s.expires))
	}
	if status >= 200 && status < 300 && s.dialog.IsNil() {
		if err := dialog.CheckUAS(tx.Request(), resp); err != nil {
			return stateError(err, "cannot accept subscription %s", s.id)
		}
	}
	if err := m.respond(tx, resp); err != nil {
		return err
	}
	switch {
	case status >= 200 && status < 300:
		s.active = true
		if !s.dialog.IsNil() {
			return nil
		}
		d, err := m.dialogs.CreateUAS(tx.Request(), resp)
		if err != nil {
			return err
		}
		s.dialog = d.ID()
		m.dialogSub[d.ID()] = s.id
	case status >= 300 && !s.active:
		m.endSubscription(s.id)
	}
	return nil
}

// endSubscription forgets a subscription and its dialog.
func (m *Manager) endSubscription(id handle.ID) {
	s, ok := m.subscriptions.Get(id)
	if !ok {
		return
	}
	m.subscriptions.Remove(id)
	if s.dialog.IsNil() {
		return
	}
	delete(m.dialogSub, s.dialog)
	if err := m.dialogs.Terminate(s.dialog); err != nil {
		m.log.Debug("dialog termination", "dialog_id", s.dialog.String(), "error", err)
	}
	m.log.Debug("subscription ended", "subscription_id", id.String())
}
