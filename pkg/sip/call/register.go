package call

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transaction"
)

// refreshRatio is the share of the granted lifetime after which a binding
// is refreshed.
const refreshRatio = 0.9

// Registration is a binding of a contact to an address-of-record at a
// registrar. All REGISTER requests of one registration share the Call-ID.
type Registration struct {
	id        handle.ID
	aor       string
	registrar *message.URI
	contact   string
	expires   int
	callID    string
	cseq      uint32

	tx        handle.ID
	pending   bool
	active    bool
	granted   int
	refreshAt time.Time
}

func (r *Registration) ID() handle.ID { return r.id }

// AOR returns the address-of-record used in From and To.
func (r *Registration) AOR() string { return r.aor }

func (r *Registration) Contact() string { return r.contact }

// Active reports whether the registrar accepted the last REGISTER.
func (r *Registration) Active() bool { return r.active }

// Expires returns the lifetime the registrar granted, in seconds.
func (r *Registration) Expires() int { return r.granted }

// Register binds contact to from at the registrar proxy. An empty proxy
// selects the domain of from; an empty contact selects this UA. The
// binding is refreshed before it expires until Unregister. A REGISTER that
// cannot be sent is reported as RegistrationFailure; the registration is
// kept so that it can be refreshed or removed.
func (m *Manager) Register(from, proxy, contact string, expires int) (handle.ID, error) {
	if expires < 0 {
		return handle.Nil, fmt.Errorf("%w: %d", ErrInvalidExpires, expires)
	}
	r := &Registration{
		aor:     from,
		contact: contact,
		expires: expires,
		callID:  message.GenerateCallID(m.cfg.Host),
	}
	if proxy != "" {
		uri, err := message.AddressURI(proxy)
		if err != nil {
			return handle.Nil, fmt.Errorf("proxy: %w", err)
		}
		r.registrar = uri
	}
	if r.contact == "" {
		uri, err := message.AddressURI(from)
		if err != nil {
			return handle.Nil, fmt.Errorf("from: %w", err)
		}
		r.contact = m.contact(uri.User)
	}

	r.id = m.registrations.Insert(r)
	if err := m.sendRegister(r, expires); err != nil {
		m.registrations.Remove(r.id)
		return handle.Nil, err
	}
	m.log.Info("registering", "registration_id", r.id.String(), "aor", from, "expires", expires)
	return r.id, nil
}

// Refresh sends a new REGISTER with expires seconds.
func (m *Manager) Refresh(regID handle.ID, expires int) error {
	r, ok := m.registrations.Get(regID)
	if !ok {
		return ErrRegistrationNotFound
	}
	if expires < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidExpires, expires)
	}
	if r.pending {
		return stateError(transaction.ErrInvalidState, "registration %s has a REGISTER in progress", regID)
	}
	return m.sendRegister(r, expires)
}

// Unregister removes the binding at the registrar with Expires 0.
func (m *Manager) Unregister(regID handle.ID) error {
	return m.Refresh(regID, 0)
}

// RemoveRegistration forgets a registration locally. Nothing is sent.
func (m *Manager) RemoveRegistration(regID handle.ID) error {
	if !m.registrations.Remove(regID) {
		return ErrRegistrationNotFound
	}
	return nil
}

func (m *Manager) sendRegister(r *Registration, expires int) error {
	r.cseq++
	opts := append(m.baseOptions(r.aor, false),
		message.WithCallID(r.callID),
		message.WithCSeq(r.cseq),
		message.WithContact(r.contact),
		message.WithHeader("Expires", expiresValue(expires)),
	)
	req, err := message.BuildRequest(message.MethodRegister, r.aor, r.aor, opts...)
	if err != nil {
		return err
	}
	if r.registrar != nil {
		req.RequestURI = r.registrar.Clone()
	}
	m.stamp(req)
	dest, err := destination(req)
	if err != nil {
		return err
	}
	tx, err := m.engine.Request(req, dest)
	if err != nil {
		m.log.Warn("REGISTER not sent", "registration_id", r.id.String(), "dest", dest, "error", err)
		r.active, r.refreshAt = false, time.Time{}
		m.push(&event.Event{Type: event.RegistrationFailure, RegistrationID: r.id, Request: req, Err: err})
		return nil
	}
	r.tx = tx.ID()
	r.pending = true
	r.expires = expires
	m.bind(tx, &binding{purpose: purposeRegister, registration: r.id})
	return nil
}

func (m *Manager) registerResponse(tx *transaction.Transaction, b *binding, resp *message.Response) {
	r, ok := m.registrations.Get(b.registration)
	if !ok || !resp.IsFinal() {
		return
	}
	r.pending = false
	switch {
	case resp.IsSuccess() && r.expires == 0:
		r.active, r.granted, r.refreshAt = false, 0, time.Time{}
		m.log.Info("unregistered", "registration_id", r.id.String())
	case resp.IsSuccess():
		r.granted = grantedExpires(resp, r.contact, r.expires)
		r.active = r.granted > 0
		r.refreshAt = m.cfg.Now().Add(time.Duration(float64(r.granted)*refreshRatio) * time.Second)
		m.log.Info("registered", "registration_id", r.id.String(), "expires", r.granted)
	default:
		r.active, r.refreshAt = false, time.Time{}
	}
	typ, _ := event.ForResponse(event.CategoryRegistration, resp.StatusCode)
	m.push(&event.Event{
		Type:           typ,
		TransactionID:  tx.ID(),
		RegistrationID: r.id,
		Request:        tx.Request(),
		Response:       resp,
	})
}

// grantedExpires reads the lifetime a registrar granted: the expires
// parameter of our Contact, then the Expires header, then what was asked.
func grantedExpires(resp *message.Response, contact string, requested int) int {
	ours, _ := message.AddressURI(contact)
	for _, value := range message.SplitList(resp.GetHeaders("Contact")) {
		addr, err := message.ParseAddress(value)
		if err != nil || (ours != nil && addr.URI.HostPort() != ours.HostPort()) {
			continue
		}
		if v, ok := addr.Params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	if n, err := strconv.Atoi(resp.GetHeader("Expires")); err == nil {
		return n
	}
	return requested
}
