package dialog

import (
	"fmt"
	"log/slog"

	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/metrics"
)

// Manager indexes dialogs by id and key. It is not safe for concurrent
// use.
type Manager struct {
	table   *handle.Table[*Dialog]
	byKey   map[Key]handle.ID
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		table: handle.NewTable[*Dialog](),
		byKey: make(map[Key]handle.ID),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "dialog")
	return m
}

func (m *Manager) Len() int { return m.table.Len() }

func (m *Manager) Get(id handle.ID) (*Dialog, bool) { return m.table.Get(id) }

// Lookup finds a dialog by key. A key with an empty remote tag finds the
// pending UAC dialog.
func (m *Manager) Lookup(key Key) (*Dialog, bool) {
	id, ok := m.byKey[key]
	if !ok {
		return nil, false
	}
	return m.table.Get(id)
}

// CreateUAC registers the pending dialog of an outbound dialog-creating
// request, keyed by Call-ID and From tag with the remote tag unset.
func (m *Manager) CreateUAC(req *message.Request) (*Dialog, error) {
	if !message.IsDialogCreating(req.Method) {
		return nil, fmt.Errorf("%w: %s does not create dialogs", ErrInvalidRequest, req.Method)
	}
	key, err := KeyFromMessage(req, false)
	if err != nil {
		return nil, err
	}
	key.RemoteTag = ""
	if _, ok := m.byKey[key]; ok {
		return nil, fmt.Errorf("%w: pending dialog %s exists", ErrInvalidState, key)
	}
	d, err := newUAC(req, key)
	if err != nil {
		return nil, err
	}
	m.insert(d)
	return d, nil
}

func newUAC(req *message.Request, key Key) (*Dialog, error) {
	seq, _, err := message.CSeq(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	d := &Dialog{
		key:          key,
		role:         UAC,
		machine:      newFSM(),
		local:        req.GetHeader("From"),
		remote:       req.GetHeader("To"),
		remoteTarget: req.RequestURI.Clone(),
		seq:          newSequence(seq),
		method:       req.Method,
		transactions: make(map[handle.ID]struct{}),
	}
	if req.Method == message.MethodInvite {
		d.inviteCSeq = seq
	}
	if key.RemoteTag != "" {
		d.remote = message.WithTag(d.remote, key.RemoteTag)
	}
	return d, nil
}

// HandleResponse applies a response to the dialog-creating request req.
// It returns the dialog the response belongs to, or nil when the response
// does not establish one (no To tag, 100, or a failure). created is true
// when a new dialog was made for a forked response.
func (m *Manager) HandleResponse(req *message.Request, resp *message.Response) (d *Dialog, created bool, err error) {
	if resp.StatusCode == message.StatusTrying || !(resp.IsProvisional() || resp.IsSuccess()) {
		return nil, false, nil
	}
	key, err := KeyFromMessage(resp, false)
	if err != nil {
		return nil, false, err
	}
	if key.RemoteTag == "" {
		if resp.IsSuccess() {
			return nil, false, fmt.Errorf("%w: 2xx without To tag", ErrInvalidResponse)
		}
		return nil, false, nil
	}

	if d, ok := m.Lookup(key); ok {
		return d, false, d.applyResponse(resp)
	}
	if d, ok := m.Lookup(key.pending()); ok && d.RemoteTag() == "" {
		delete(m.byKey, d.key)
		d.key = key
		d.remote = message.WithTag(d.remote, key.RemoteTag)
		m.byKey[key] = d.id
		m.log.Debug("dialog bound", "dialog_id", d.id.String(), "key", key.String())
		return d, false, d.applyResponse(resp)
	}

	// a fork: another UAS answered the same request
	d, err = newUAC(req, key)
	if err != nil {
		return nil, false, err
	}
	m.insert(d)
	m.log.Debug("forked dialog", "dialog_id", d.id.String(), "key", key.String())
	return d, true, d.applyResponse(resp)
}

// CheckUAS reports whether resp, sent to req, can create a UAS dialog.
// It has no side effect, so a caller can run it before the response
// leaves.
func CheckUAS(req *message.Request, resp *message.Response) error {
	if !message.IsDialogCreating(req.Method) {
		return fmt.Errorf("%w: %s does not create dialogs", ErrInvalidRequest, req.Method)
	}
	if resp.StatusCode == message.StatusTrying || !(resp.IsProvisional() || resp.IsSuccess()) {
		return fmt.Errorf("%w: status %d does not create dialogs", ErrInvalidResponse, resp.StatusCode)
	}
	if message.ToTag(resp) == "" {
		return fmt.Errorf("%w: response has no To tag", ErrInvalidResponse)
	}
	if message.FromTag(req) == "" {
		return fmt.Errorf("%w: request has no From tag", ErrInvalidRequest)
	}
	if message.CallID(req) == "" {
		return fmt.Errorf("%w: no Call-ID", ErrInvalidRequest)
	}
	if _, _, err := message.CSeq(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// CreateUAS creates or advances the UAS dialog for a to-tagged 1xx or 2xx
// the TU sends to req.
func (m *Manager) CreateUAS(req *message.Request, resp *message.Response) (*Dialog, error) {
	if err := CheckUAS(req, resp); err != nil {
		return nil, err
	}
	key := Key{CallID: message.CallID(req), LocalTag: message.ToTag(resp), RemoteTag: message.FromTag(req)}

	if d, ok := m.Lookup(key); ok {
		return d, d.advance(resp.IsSuccess())
	}

	seq, _, _ := message.CSeq(req)
	d := &Dialog{
		key:          key,
		role:         UAS,
		machine:      newFSM(),
		local:        resp.GetHeader("To"),
		remote:       req.GetHeader("From"),
		method:       req.Method,
		transactions: make(map[handle.ID]struct{}),
	}
	d.seq.setRemote(seq)
	if req.Method == message.MethodInvite {
		d.inviteCSeq = seq
	}
	d.refreshTarget(req)
	if err := d.routes.Set(req.GetHeaders("Record-Route"), UAS); err != nil {
		return nil, err
	}
	if err := d.advance(resp.IsSuccess()); err != nil {
		return nil, err
	}
	m.insert(d)
	return d, nil
}

// Match finds the dialog of an inbound in-dialog request.
func (m *Manager) Match(req *message.Request) (*Dialog, bool) {
	key, err := KeyFromMessage(req, true)
	if err != nil || key.LocalTag == "" {
		return nil, false
	}
	return m.Lookup(key)
}

// Siblings returns the dialogs sharing Call-ID and local tag with d,
// d included.
func (m *Manager) Siblings(d *Dialog) []*Dialog {
	var out []*Dialog
	m.table.Each(func(_ handle.ID, other *Dialog) bool {
		if other.key.CallID == d.key.CallID && other.key.LocalTag == d.key.LocalTag {
			out = append(out, other)
		}
		return true
	})
	return out
}

// Terminate moves the dialog to terminated and forgets it.
func (m *Manager) Terminate(id handle.ID) error {
	d, ok := m.table.Get(id)
	if !ok {
		return ErrDialogNotFound
	}
	if err := d.fire(evTerminate); err != nil {
		return err
	}
	m.table.Remove(id)
	if cur, ok := m.byKey[d.key]; ok && cur == id {
		delete(m.byKey, d.key)
	}
	m.metrics.DialogEnded()
	m.log.Debug("dialog terminated", "dialog_id", id.String(), "key", d.key.String())
	return nil
}

func (m *Manager) insert(d *Dialog) {
	d.id = m.table.Insert(d)
	m.byKey[d.key] = d.id
	m.metrics.DialogCreated(d.role.String())
	m.log.Debug("dialog created", "dialog_id", d.id.String(), "key", d.key.String(), "role", d.role.String())
}
