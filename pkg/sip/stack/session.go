package stack

import (
	"github.com/tanbro/sipua/pkg/sip/auth"
	"github.com/tanbro/sipua/pkg/sip/call"
	"github.com/tanbro/sipua/pkg/sip/handle"
)

// Session is exclusive access to a Context, returned by Lock. Every call
// after Unlock fails with ErrSessionReleased.
type Session struct {
	c        *Context
	released bool
}

// Lock acquires the Context lock. Release it with Session.Unlock.
func (c *Context) Lock() *Session {
	c.mu.Lock()
	return &Session{c: c}
}

// Do runs fn with the Context locked.
func (c *Context) Do(fn func(s *Session) error) error {
	s := c.Lock()
	defer s.Unlock()
	return fn(s)
}

// Unlock releases the Context lock. Further calls are no-ops.
func (s *Session) Unlock() {
	if s.released {
		return
	}
	s.released = true
	s.c.mu.Unlock()
}

// manager returns the call manager of a running Context.
func (s *Session) manager() (*call.Manager, error) {
	if s.released {
		return nil, ErrSessionReleased
	}
	if !s.c.running {
		return nil, ErrNotRunning
	}
	return s.c.calls, nil
}

// SetUserAgent changes the User-Agent header of subsequent messages.
func (s *Session) SetUserAgent(ua string) error {
	if s.released {
		return ErrSessionReleased
	}
	s.c.userAgent = ua
	if s.c.calls != nil {
		s.c.calls.SetUserAgent(ua)
	}
	return nil
}

// AddAuthInfo adds digest credentials used to answer 401 and 407
// challenges. An empty realm matches any realm.
func (s *Session) AddAuthInfo(cred auth.Credential) error {
	if s.released {
		return ErrSessionReleased
	}
	s.c.creds.Add(cred)
	return nil
}

func (s *Session) ClearAuthInfo() error {
	if s.released {
		return ErrSessionReleased
	}
	s.c.creds.Clear()
	return nil
}

// Initiate places a call from from to to and returns its call id.
func (s *Session) Initiate(to, from string, opts ...call.Option) (handle.ID, error) {
	m, err := s.manager()
	if err != nil {
		return handle.Nil, err
	}
	return m.Initiate(to, from, opts...)
}

// Terminate hangs up a call: BYE when confirmed, CANCEL while ringing,
// 603 for an unanswered inbound call. dialogID may be nil to pick the
// call's current dialog.
func (s *Session) Terminate(callID, dialogID handle.ID) error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.Terminate(callID, dialogID)
}

func (s *Session) SendAck(dialogID handle.ID, opts ...call.Option) error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.SendAck(dialogID, opts...)
}

// SendRequest sends a request such as INFO, UPDATE or NOTIFY inside a
// dialog and returns its transaction id.
func (s *Session) SendRequest(dialogID handle.ID, method string, opts ...call.Option) (handle.ID, error) {
	m, err := s.manager()
	if err != nil {
		return handle.Nil, err
	}
	return m.SendRequest(dialogID, method, opts...)
}

// Answer responds to the inbound request of transaction txID.
func (s *Session) Answer(txID handle.ID, status int, opts ...call.Option) error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.Answer(txID, status, opts...)
}

func (s *Session) Register(from, proxy, contact string, expires int) (handle.ID, error) {
	m, err := s.manager()
	if err != nil {
		return handle.Nil, err
	}
	return m.Register(from, proxy, contact, expires)
}

func (s *Session) Refresh(regID handle.ID, expires int) error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.Refresh(regID, expires)
}

func (s *Session) Unregister(regID handle.ID) error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.Unregister(regID)
}

// RemoveRegistration forgets a registration without contacting the
// registrar.
func (s *Session) RemoveRegistration(regID handle.ID) error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	return m.RemoveRegistration(regID)
}

func (s *Session) SendMessage(method, to, from string, opts ...call.Option) (handle.ID, error) {
	m, err := s.manager()
	if err != nil {
		return handle.Nil, err
	}
	return m.SendMessage(method, to, from, opts...)
}

func (s *Session) Subscribe(to, from, eventName string, expires int, opts ...call.Option) (handle.ID, error) {
	m, err := s.manager()
	if err != nil {
		return handle.Nil, err
	}
	return m.Subscribe(to, from, eventName, expires, opts...)
}

func (s *Session) Notify(subID handle.ID, state string, opts ...call.Option) (handle.ID, error) {
	m, err := s.manager()
	if err != nil {
		return handle.Nil, err
	}
	return m.Notify(subID, state, opts...)
}

// Call returns the live call with id.
func (s *Session) Call(id handle.ID) (*call.Call, bool) {
	m, err := s.manager()
	if err != nil {
		return nil, false
	}
	return m.Call(id)
}

func (s *Session) Registration(id handle.ID) (*call.Registration, bool) {
	m, err := s.manager()
	if err != nil {
		return nil, false
	}
	return m.Registration(id)
}

func (s *Session) Subscription(id handle.ID) (*call.Subscription, bool) {
	m, err := s.manager()
	if err != nil {
		return nil, false
	}
	return m.Subscription(id)
}
