// Package call is the transaction user of the stack. It drives calls,
// registrations, out-of-dialog requests and subscriptions on top of the
// transaction and dialog engines and queues an event for every outcome.
//
// A Manager is not safe for concurrent use; the stack calls it with its
// lock held.
package call

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tanbro/sipua/pkg/sip/auth"
	"github.com/tanbro/sipua/pkg/sip/dialog"
	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transaction"
)

// DefaultNoAnswer is how long an outbound call may ring before it is
// cancelled.
const DefaultNoAnswer = 3 * time.Minute

const maxAuthRetries = 3

// Config describes the local user agent.
type Config struct {
	// Host and Port are advertised in Via and Contact.
	Host      string
	Port      int
	Transport string
	UserAgent string
	NoAnswer  time.Duration

	Credentials   *auth.Store
	Authenticator auth.Authenticator
	Logger        *slog.Logger
	Now           func() time.Time
}

type purpose int

const (
	purposeInvite purpose = iota
	purposeCancel
	purposeBye
	purposeCallRequest
	purposeRegister
	purposeMessage
	purposeSubscribe
	purposeNotify

	purposeInboundInvite
	purposeInboundReinvite
	purposeInboundCallRequest
	purposeInboundMessage
	purposeInboundSubscribe
	purposeInboundNotify
)

// binding ties a transaction to the object it works for.
type binding struct {
	purpose      purpose
	call         handle.ID
	dialog       handle.ID
	registration handle.ID
	subscription handle.ID

	// nonce is the last challenge answered on this request chain.
	nonce   string
	retries int
	// closing marks a NOTIFY that ends its subscription.
	closing bool
}

// Manager owns calls, registrations and subscriptions.
type Manager struct {
	engine  *transaction.Engine
	dialogs *dialog.Manager
	cfg     Config
	log     *slog.Logger

	calls         *handle.Table[*Call]
	registrations *handle.Table[*Registration]
	subscriptions *handle.Table[*Subscription]

	bindings   map[handle.ID]*binding
	dialogCall map[handle.ID]handle.ID
	dialogSub  map[handle.ID]handle.ID

	events []*event.Event
}

// NewManager creates a manager and installs it as the handler of engine.
func NewManager(engine *transaction.Engine, dialogs *dialog.Manager, cfg Config) *Manager {
	if cfg.Transport == "" {
		cfg.Transport = "UDP"
	}
	cfg.Transport = strings.ToUpper(cfg.Transport)
	if cfg.NoAnswer <= 0 {
		cfg.NoAnswer = DefaultNoAnswer
	}
	if cfg.Credentials == nil {
		cfg.Credentials = &auth.Store{}
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.Digest{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Manager{
		engine:        engine,
		dialogs:       dialogs,
		cfg:           cfg,
		log:           cfg.Logger.With("component", "call"),
		calls:         handle.NewTable[*Call](),
		registrations: handle.NewTable[*Registration](),
		subscriptions: handle.NewTable[*Subscription](),
		bindings:      make(map[handle.ID]*binding),
		dialogCall:    make(map[handle.ID]handle.ID),
		dialogSub:     make(map[handle.ID]handle.ID),
	}
	engine.SetHandler(m)
	return m
}

func (m *Manager) SetUserAgent(ua string) { m.cfg.UserAgent = ua }

func (m *Manager) UserAgent() string { return m.cfg.UserAgent }

// Credentials returns the store consulted for digest challenges.
func (m *Manager) Credentials() *auth.Store { return m.cfg.Credentials }

func (m *Manager) Call(id handle.ID) (*Call, bool) { return m.calls.Get(id) }

func (m *Manager) Registration(id handle.ID) (*Registration, bool) {
	return m.registrations.Get(id)
}

func (m *Manager) Subscription(id handle.ID) (*Subscription, bool) {
	return m.subscriptions.Get(id)
}

// Calls returns the number of live calls.
func (m *Manager) Calls() int { return m.calls.Len() }

// TakeEvents returns the queued events in order and empties the queue.
func (m *Manager) TakeEvents() []*event.Event {
	out := m.events
	m.events = nil
	return out
}

func (m *Manager) push(e *event.Event) {
	if e.TextInfo == "" {
		switch {
		case e.Response != nil:
			e.TextInfo = e.Response.ReasonPhrase
		case e.Err != nil:
			e.TextInfo = e.Err.Error()
		}
	}
	m.events = append(m.events, e)
}

func (m *Manager) bind(tx *transaction.Transaction, b *binding) {
	m.bindings[tx.ID()] = b
}

// RunTimers fires the no-answer timers of ringing calls and refreshes
// registrations that are about to expire.
func (m *Manager) RunTimers(now time.Time) {
	var ringing []*Call
	m.calls.Each(func(_ handle.ID, c *Call) bool {
		if due(c.noAnswerAt, now) {
			ringing = append(ringing, c)
		}
		return true
	})
	for _, c := range ringing {
		c.noAnswerAt = time.Time{}
		m.log.Info("call not answered", "call_id", c.id.String())
		m.push(&event.Event{Type: event.CallNoAnswer, CallID: c.id, TransactionID: c.invite})
		if err := m.sendCancel(c); err != nil {
			m.log.Warn("cannot cancel unanswered call", "call_id", c.id.String(), "error", err)
		}
	}

	var expiring []*Registration
	m.registrations.Each(func(_ handle.ID, r *Registration) bool {
		if r.active && !r.pending && due(r.refreshAt, now) {
			expiring = append(expiring, r)
		}
		return true
	})
	for _, r := range expiring {
		if err := m.sendRegister(r, r.expires); err != nil {
			r.active = false
			m.push(&event.Event{Type: event.RegistrationFailure, RegistrationID: r.id, Err: err})
		}
	}
}

// NextDeadline returns the earliest call-level deadline, or the zero time.
func (m *Manager) NextDeadline() time.Time {
	var next time.Time
	earliest := func(d time.Time) {
		if !d.IsZero() && (next.IsZero() || d.Before(next)) {
			next = d
		}
	}
	m.calls.Each(func(_ handle.ID, c *Call) bool {
		earliest(c.noAnswerAt)
		return true
	})
	m.registrations.Each(func(_ handle.ID, r *Registration) bool {
		if r.active && !r.pending {
			earliest(r.refreshAt)
		}
		return true
	})
	return next
}

func due(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

// OnRequest implements transaction.Handler.
func (m *Manager) OnRequest(tx *transaction.Transaction, req *message.Request) {
	switch {
	case req.Method == message.MethodCancel:
		m.inboundCancel(tx, req)
	case message.ToTag(req) != "":
		m.inboundInDialog(tx, req)
	case req.Method == message.MethodInvite:
		m.inboundInvite(tx, req)
	case req.Method == message.MethodSubscribe:
		m.inboundSubscribe(tx, req)
	default:
		m.bind(tx, &binding{purpose: purposeInboundMessage})
		m.push(&event.Event{Type: event.MessageNew, TransactionID: tx.ID(), Request: req})
	}
}

// OnResponse implements transaction.Handler.
func (m *Manager) OnResponse(tx *transaction.Transaction, resp *message.Response) {
	b, ok := m.bindings[tx.ID()]
	if !ok {
		m.log.Debug("response for unbound transaction", "tx", tx.Key().String(), "status", resp.StatusCode)
		return
	}
	if m.retryAuth(tx, b, resp) {
		return
	}
	switch b.purpose {
	case purposeInvite:
		m.inviteResponse(tx, b, resp)
	case purposeBye:
		if resp.IsFinal() {
			m.endDialogID(b.dialog)
		}
	case purposeCallRequest:
		m.inDialogResponse(tx, b, resp, event.CategoryCallMessage)
	case purposeRegister:
		m.registerResponse(tx, b, resp)
	case purposeMessage:
		m.outOfDialogResponse(tx, resp)
	case purposeSubscribe:
		m.subscribeResponse(tx, b, resp)
	case purposeNotify:
		m.inDialogResponse(tx, b, resp, event.CategoryNotification)
	}
}

// OnAck implements transaction.Handler.
func (m *Manager) OnAck(tx *transaction.Transaction, ack *message.Request, _ string) {
	var c *Call
	if tx != nil {
		if b, ok := m.bindings[tx.ID()]; ok {
			c, _ = m.calls.Get(b.call)
		}
	}
	d, matched := m.dialogs.Match(ack)
	if c == nil && matched {
		c, _ = m.calls.Get(m.dialogCall[d.ID()])
	}
	if c == nil {
		m.log.Debug("stray ACK", "call_id", message.CallID(ack))
		return
	}

	acked := tx != nil
	if !acked {
		for _, id := range []handle.ID{c.invite, c.reinvite} {
			inv, ok := m.engine.Get(id)
			if !ok || inv.IsClient() || inv.State() != transaction.StateAccepted || inv.AckReceived() {
				continue
			}
			if err := m.engine.AckReceived(id); err == nil {
				acked = true
			}
		}
	}
	if !acked {
		m.log.Debug("duplicate ACK", "call_id", c.id.String())
		return
	}
	e := &event.Event{Type: event.CallAck, CallID: c.id, Ack: ack}
	if matched {
		e.DialogID = d.ID()
	}
	m.push(e)
}

// OnTimeout implements transaction.Handler.
func (m *Manager) OnTimeout(tx *transaction.Transaction, err error) {
	m.failed(tx, err)
}

// OnTransportError implements transaction.Handler.
func (m *Manager) OnTransportError(tx *transaction.Transaction, err error) {
	m.failed(tx, err)
}

// OnTerminated implements transaction.Handler.
func (m *Manager) OnTerminated(tx *transaction.Transaction) {
	b, ok := m.bindings[tx.ID()]
	if !ok {
		return
	}
	delete(m.bindings, tx.ID())
	if d, ok := m.dialogs.Get(b.dialog); ok {
		d.RemoveTransaction(tx.ID())
	}
	if b.purpose != purposeInvite {
		return
	}
	c, ok := m.calls.Get(b.call)
	if !ok || c.invite != tx.ID() {
		return
	}
	// forks that never got a 2xx die with the INVITE transaction
	for _, id := range c.Dialogs() {
		if d, ok := m.dialogs.Get(id); ok && !d.IsConfirmed() {
			m.endDialog(d)
		}
	}
	m.releaseIfIdle(c)
}

func (m *Manager) failed(tx *transaction.Transaction, err error) {
	b, ok := m.bindings[tx.ID()]
	if !ok {
		return
	}
	switch b.purpose {
	case purposeInvite:
		c, ok := m.calls.Get(b.call)
		if !ok || c.invite != tx.ID() {
			return
		}
		c.finish()
		m.push(&event.Event{
			Type:          event.ForFailure(event.CategoryCall),
			TransactionID: tx.ID(),
			CallID:        c.id,
			Request:       tx.Request(),
			Err:           err,
		})
		m.endCallDialogs(c)
	case purposeBye:
		m.endDialogID(b.dialog)
	case purposeCallRequest:
		m.push(&event.Event{
			Type:          event.ForFailure(event.CategoryCallMessage),
			TransactionID: tx.ID(),
			CallID:        b.call,
			DialogID:      b.dialog,
			Request:       tx.Request(),
			Err:           err,
		})
	case purposeRegister:
		if r, ok := m.registrations.Get(b.registration); ok {
			r.pending, r.active = false, false
		}
		m.push(&event.Event{
			Type:           event.ForFailure(event.CategoryRegistration),
			TransactionID:  tx.ID(),
			RegistrationID: b.registration,
			Request:        tx.Request(),
			Err:            err,
		})
	case purposeMessage:
		m.push(&event.Event{
			Type:          event.ForFailure(event.CategoryMessage),
			TransactionID: tx.ID(),
			Request:       tx.Request(),
			Err:           err,
		})
	case purposeSubscribe:
		m.push(&event.Event{
			Type:           event.ForFailure(event.CategorySubscription),
			TransactionID:  tx.ID(),
			SubscriptionID: b.subscription,
			Request:        tx.Request(),
			Err:            err,
		})
		m.endSubscription(b.subscription)
	case purposeNotify:
		m.push(&event.Event{
			Type:           event.ForFailure(event.CategoryNotification),
			TransactionID:  tx.ID(),
			SubscriptionID: b.subscription,
			DialogID:       b.dialog,
			Request:        tx.Request(),
			Err:            err,
		})
		if b.closing {
			m.endSubscription(b.subscription)
		}
	case purposeInboundInvite, purposeInboundReinvite:
		if !errors.Is(err, transaction.ErrTimeout) {
			return
		}
		// 2xx never acknowledged: hang up
		c, ok := m.calls.Get(b.call)
		if !ok {
			return
		}
		if d, ok := m.dialogs.Get(c.current); ok && d.IsConfirmed() {
			m.log.Info("no ACK for 2xx, sending BYE", "call_id", c.id.String(), "dialog_id", d.ID().String())
			if err := m.sendBye(c, d); err != nil {
				m.log.Warn("BYE failed", "call_id", c.id.String(), "error", err)
			}
		}
	}
}

// Answer responds on the server transaction txID. A 1xx or 2xx to an
// INVITE or SUBSCRIBE creates or confirms the UAS dialog.
func (m *Manager) Answer(txID handle.ID, status int, opts ...Option) error {
	if status < 100 || status > 699 {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	tx, ok := m.engine.Get(txID)
	if !ok {
		return stateError(transaction.ErrTransactionNotFound, "transaction %s", txID)
	}
	if tx.IsClient() {
		return stateError(transaction.ErrInvalidState, "transaction %s is a client transaction", txID)
	}
	o := collect(opts)
	b := m.bindings[txID]
	if b == nil {
		return m.respond(tx, m.response(tx.Request(), status, tagFor(status), o))
	}

	switch b.purpose {
	case purposeInboundInvite:
		c, ok := m.calls.Get(b.call)
		if !ok {
			return stateError(transaction.ErrInvalidState, "INVITE transaction %s has no call", txID)
		}
		return m.answerInvite(c, tx, status, o)
	case purposeInboundSubscribe:
		s, ok := m.subscriptions.Get(b.subscription)
		if !ok {
			return stateError(transaction.ErrInvalidState, "SUBSCRIBE transaction %s has no subscription", txID)
		}
		return m.answerSubscribe(s, tx, status, o)
	}

	if err := m.respond(tx, m.response(tx.Request(), status, tagFor(status), o)); err != nil {
		return err
	}
	switch {
	case b.purpose == purposeInboundReinvite && status >= 200 && status < 300:
		if c, ok := m.calls.Get(b.call); ok {
			c.reinvite = txID
		}
	case b.purpose == purposeInboundNotify && b.closing && status >= 200:
		m.endSubscription(b.subscription)
	}
	return nil
}

func tagFor(status int) string {
	if status == message.StatusTrying {
		return ""
	}
	return message.GenerateTag()
}

// respond sends resp, mapping state errors to ErrInvalidTransactionState.
func (m *Manager) respond(tx *transaction.Transaction, resp *message.Response) error {
	err := m.engine.Respond(tx.ID(), resp)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transaction.ErrInvalidState), errors.Is(err, transaction.ErrTransactionNotFound):
		return stateError(err, "respond %d", resp.StatusCode)
	default:
		return err
	}
}

// reply sends an automatic response and logs failures.
func (m *Manager) reply(tx *transaction.Transaction, status int, tag string) {
	resp := m.response(tx.Request(), status, tag, options{})
	if err := m.engine.Respond(tx.ID(), resp); err != nil {
		m.log.Warn("automatic response failed", "tx", tx.Key().String(), "status", status, "error", err)
	}
}

func (m *Manager) response(req *message.Request, status int, tag string, o options) *message.Response {
	resp := message.NewResponse(req, status, o.reason).ToTag(tag).Build()
	if status > 100 && status < 300 && needsResponseContact(req.Method) && !o.has("Contact") {
		user := ""
		if req.RequestURI != nil {
			user = req.RequestURI.User
		}
		resp.SetHeader("Contact", m.contact(user))
	}
	m.stamp(resp)
	o.apply(resp)
	return resp
}

func needsResponseContact(method string) bool {
	switch method {
	case message.MethodInvite, message.MethodSubscribe, message.MethodRefer, message.MethodUpdate:
		return true
	}
	return false
}

// stamp adds the User-Agent header.
func (m *Manager) stamp(msg message.Message) {
	if m.cfg.UserAgent != "" && msg.GetHeader("User-Agent") == "" {
		msg.SetHeader("User-Agent", m.cfg.UserAgent)
	}
}

// via returns a Via value for this UA with a fresh branch.
func (m *Manager) via() string {
	v := &message.Via{Transport: m.cfg.Transport, Host: m.cfg.Host, Port: m.cfg.Port}
	v.Params = v.Params.Set("branch", message.GenerateBranch())
	return v.String()
}

func (m *Manager) contact(user string) string {
	u := &message.URI{Scheme: "sip", User: user, Host: m.cfg.Host, Port: m.cfg.Port}
	if m.cfg.Transport != "UDP" {
		u.Params = u.Params.Set("transport", strings.ToLower(m.cfg.Transport))
	}
	return "<" + u.String() + ">"
}

// baseOptions are the BuildRequest options every request of this UA
// carries. withContact adds a Contact for the user of from.
func (m *Manager) baseOptions(from string, withContact bool) []message.RequestOption {
	opts := []message.RequestOption{message.WithVia(m.cfg.Transport, m.cfg.Host, m.cfg.Port)}
	if !withContact {
		return opts
	}
	if uri, err := message.AddressURI(from); err == nil {
		opts = append(opts, message.WithContact(m.contact(uri.User)))
	}
	return opts
}

// prepareInDialog completes a request built by a dialog.
func (m *Manager) prepareInDialog(req *message.Request, d *dialog.Dialog, o options) {
	req.HeaderSet().Prepend("Via", m.via())
	if message.IsTargetRefresh(req.Method) && req.GetHeader("Contact") == "" && !o.has("Contact") {
		user := ""
		if uri, err := message.AddressURI(d.LocalURI()); err == nil {
			user = uri.User
		}
		req.SetHeader("Contact", m.contact(user))
	}
	m.stamp(req)
	o.apply(req)
}

// destination returns where req is sent: the first loose route, or the
// Request-URI.
func destination(req *message.Request) (string, error) {
	target := req.RequestURI
	if routes := message.SplitList(req.GetHeaders("Route")); len(routes) > 0 {
		if uri, err := message.AddressURI(routes[0]); err == nil && uri.Params.Has("lr") {
			target = uri
		}
	}
	if target == nil || target.Host == "" {
		return "", fmt.Errorf("%w: no destination for %s", message.ErrMissingRequestURI, req.Method)
	}
	return target.HostPort(), nil
}

// looseRoute makes a user supplied proxy a loose route.
func looseRoute(route string) string {
	uri, err := message.AddressURI(route)
	if err != nil {
		return route
	}
	uri = uri.Clone()
	uri.Params = uri.Params.Set("lr", "")
	return "<" + uri.String() + ">"
}

func expiresValue(seconds int) string { return strconv.Itoa(seconds) }
