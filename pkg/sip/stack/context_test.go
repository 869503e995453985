package stack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/tanbro/sipua/pkg/sip/auth"
	"github.com/tanbro/sipua/pkg/sip/config"
	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transport"
)

const (
	localAddr = "127.0.0.1:5060"
	peerAddr  = "127.0.0.1:5070"
	waitLimit = 2 * time.Second
)

// sink forwards the events a test cares about to a channel, after running
// an optional hook on the dispatching goroutine.
type sink struct {
	NopListener

	mu     sync.Mutex
	hook   func(c *Context, e *event.Event)
	events chan *event.Event
}

func newSink() *sink {
	return &sink{events: make(chan *event.Event, 64)}
}

func (k *sink) setHook(h func(c *Context, e *event.Event)) {
	k.mu.Lock()
	k.hook = h
	k.mu.Unlock()
}

func (k *sink) put(c *Context, e *event.Event) {
	k.mu.Lock()
	h := k.hook
	k.mu.Unlock()
	if h != nil {
		h(c, e)
	}
	k.events <- e
}

func (k *sink) OnCallInvite(c *Context, e *event.Event)      { k.put(c, e) }
func (k *sink) OnCallRinging(c *Context, e *event.Event)     { k.put(c, e) }
func (k *sink) OnCallAnswered(c *Context, e *event.Event)    { k.put(c, e) }
func (k *sink) OnCallAck(c *Context, e *event.Event)         { k.put(c, e) }
func (k *sink) OnCallClosed(c *Context, e *event.Event)      { k.put(c, e) }
func (k *sink) OnCallReleased(c *Context, e *event.Event)    { k.put(c, e) }
func (k *sink) OnMessageNew(c *Context, e *event.Event)      { k.put(c, e) }
func (k *sink) OnMessageAnswered(c *Context, e *event.Event) { k.put(c, e) }

// peer is the remote user agent, driven by hand over the hub.
type peer struct {
	t      *testing.T
	ep     *transport.Endpoint
	parser *message.Parser
}

func (p *peer) send(m message.Message) {
	data, err := p.parser.Serialize(m)
	require.NoError(p.t, err)
	require.NoError(p.t, p.ep.Send(data, localAddr))
}

func (p *peer) sendRaw(data string) {
	require.NoError(p.t, p.ep.Send([]byte(data), localAddr))
}

// expect returns the first received message accepted by match.
func (p *peer) expect(what string, match func(message.Message) bool) message.Message {
	deadline := time.Now().Add(waitLimit)
	for time.Now().Before(deadline) {
		pkt, ok, err := p.ep.Receive(50 * time.Millisecond)
		require.NoError(p.t, err)
		if !ok {
			continue
		}
		msg, err := p.parser.Parse(pkt.Data)
		require.NoError(p.t, err)
		if match(msg) {
			return msg
		}
	}
	p.t.Fatalf("peer did not receive %s", what)
	return nil
}

func (p *peer) expectRequest(method string) *message.Request {
	msg := p.expect(method, func(m message.Message) bool {
		req, ok := m.(*message.Request)
		return ok && req.Method == method
	})
	return msg.(*message.Request)
}

func (p *peer) expectResponse(status int) *message.Response {
	msg := p.expect("a response", func(m message.Message) bool {
		resp, ok := m.(*message.Response)
		return ok && resp.StatusCode == status
	})
	return msg.(*message.Response)
}

func (p *peer) message(body string) *message.Request {
	req, err := message.BuildRequest(message.MethodMessage, "sip:alice@"+localAddr, "sip:bob@"+peerAddr,
		message.WithVia("UDP", "127.0.0.1", 5070),
		message.WithBody("text/plain", []byte(body)))
	require.NoError(p.t, err)
	return req
}

type StackSuite struct {
	suite.Suite

	hub  *transport.Hub
	ep   *transport.Endpoint
	peer *peer
	sink *sink
	reg  *prometheus.Registry
	ctx  *Context
}

func TestStackSuite(t *testing.T) {
	suite.Run(t, new(StackSuite))
}

func (s *StackSuite) SetupTest() {
	s.hub = transport.NewHub()
	s.ep = s.hub.Endpoint(localAddr)
	s.peer = &peer{t: s.T(), ep: s.hub.Endpoint(peerAddr), parser: message.NewParser(false)}
	s.start(config.CallbackSimple)
}

func (s *StackSuite) TearDownTest() {
	if s.ctx.Running() {
		s.Require().NoError(s.ctx.Stop(context.Background()))
	}
	_ = s.ep.Close()
	_ = s.peer.ep.Close()
}

func (s *StackSuite) start(mode string) {
	cfg := config.Default()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Callbacks.Mode = mode
	cfg.Callbacks.Workers = 2

	s.sink = newSink()
	s.reg = prometheus.NewRegistry()
	c, err := New(cfg, s.sink, WithTransport(s.ep), WithRegisterer(s.reg))
	s.Require().NoError(err)
	s.Require().NoError(c.Start(context.Background()))
	s.ctx = c
}

func (s *StackSuite) waitFor(typ event.Type) *event.Event {
	timeout := time.After(waitLimit)
	for {
		select {
		case e := <-s.sink.events:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			s.FailNow("event not delivered", typ.String())
			return nil
		}
	}
}

// counter reads a counter from the suite registry; labels must match
// exactly one series.
func (s *StackSuite) counter(name string, labels map[string]string) float64 {
	families, err := s.reg.Gather()
	s.Require().NoError(err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func (s *StackSuite) TestLifecycleErrors() {
	s.True(s.ctx.Running())
	s.Equal(localAddr, s.ctx.LocalAddr().String())
	s.ErrorIs(s.ctx.Start(context.Background()), ErrAlreadyRunning)

	s.Require().NoError(s.ctx.Stop(context.Background()))
	s.False(s.ctx.Running())
	s.ErrorIs(s.ctx.Stop(context.Background()), ErrNotRunning)

	err := s.ctx.Do(func(ss *Session) error {
		_, err := ss.Initiate("sip:bob@"+peerAddr, "sip:alice@"+localAddr)
		return err
	})
	s.ErrorIs(err, ErrNotRunning)
}

func (s *StackSuite) TestInboundMessageAnswered() {
	s.peer.send(s.peer.message("hello"))

	e := s.waitFor(event.MessageNew)
	s.Require().NotNil(e.Request)
	s.Equal("hello", string(e.Request.Body()))

	err := s.ctx.Do(func(ss *Session) error {
		return ss.Answer(e.TransactionID, message.StatusOK)
	})
	s.Require().NoError(err)

	resp := s.peer.expectResponse(message.StatusOK)
	s.Equal(message.CallID(e.Request), message.CallID(resp))
	s.Equal(1.0, s.counter("sipua_stack_events_total", map[string]string{"type": "MessageNew"}))
}

func (s *StackSuite) TestOutboundCallAnsweredAndAcked() {
	err := s.ctx.Do(func(ss *Session) error {
		_, err := ss.Initiate("sip:bob@"+peerAddr, "sip:alice@"+localAddr)
		return err
	})
	s.Require().NoError(err)

	inv := s.peer.expectRequest(message.MethodInvite)
	s.Equal("sip:bob@"+peerAddr, inv.RequestURI.String())

	s.peer.send(message.NewResponse(inv, message.StatusRinging, "").ToTag("T1").Build())
	ringing := s.waitFor(event.CallRinging)
	s.False(ringing.DialogID.IsNil())

	s.peer.send(message.NewResponse(inv, message.StatusOK, "").
		ToTag("T1").
		Contact(message.MustParseURI("sip:bob@" + peerAddr)).
		Build())
	answered := s.waitFor(event.CallAnswered)
	s.Equal(ringing.DialogID, answered.DialogID)
	s.Equal("OK", answered.TextInfo)

	err = s.ctx.Do(func(ss *Session) error {
		return ss.SendAck(answered.DialogID)
	})
	s.Require().NoError(err)

	ack := s.peer.expectRequest(message.MethodAck)
	s.Equal(message.CallID(inv), message.CallID(ack))
	s.Equal("sip:bob@"+peerAddr, ack.RequestURI.String())
}

func (s *StackSuite) TestHangupFromCallback() {
	s.sink.setHook(func(c *Context, e *event.Event) {
		if e.Type != event.CallAnswered {
			return
		}
		err := c.Do(func(ss *Session) error {
			if err := ss.SendAck(e.DialogID); err != nil {
				return err
			}
			return ss.Terminate(e.CallID, e.DialogID)
		})
		assert.NoError(s.T(), err)
	})

	err := s.ctx.Do(func(ss *Session) error {
		_, err := ss.Initiate("sip:bob@"+peerAddr, "sip:alice@"+localAddr)
		return err
	})
	s.Require().NoError(err)

	inv := s.peer.expectRequest(message.MethodInvite)
	s.peer.send(message.NewResponse(inv, message.StatusOK, "").
		ToTag("T9").
		Contact(message.MustParseURI("sip:bob@" + peerAddr)).
		Build())

	answered := s.waitFor(event.CallAnswered)
	s.peer.expectRequest(message.MethodAck)
	bye := s.peer.expectRequest(message.MethodBye)
	s.peer.send(message.BuildResponse(bye, message.StatusOK, ""))

	released := s.waitFor(event.CallReleased)
	s.Equal(answered.CallID, released.CallID)
	err = s.ctx.Do(func(ss *Session) error {
		_, ok := ss.Call(answered.CallID)
		s.False(ok)
		return nil
	})
	s.NoError(err)
}

func (s *StackSuite) TestUnparsableMessageDropped() {
	s.peer.sendRaw("this is not a SIP message\r\n\r\n")
	s.peer.send(s.peer.message("after"))

	e := s.waitFor(event.MessageNew)
	s.Equal("after", string(e.Request.Body()))
	s.Equal(1.0, s.counter("sipua_stack_messages_dropped_total", map[string]string{"reason": "parse"}))
}

func (s *StackSuite) TestListenerPanicRecovered() {
	var once sync.Once
	s.sink.setHook(func(_ *Context, e *event.Event) {
		once.Do(func() { panic("listener bug") })
	})

	s.peer.send(s.peer.message("first"))
	s.peer.send(s.peer.message("second"))

	e := s.waitFor(event.MessageNew)
	s.Equal("second", string(e.Request.Body()))
	s.True(s.ctx.Running())
}

func (s *StackSuite) TestPoolCallbacks() {
	s.Require().NoError(s.ctx.Stop(context.Background()))
	s.start(config.CallbackPool)

	s.peer.send(s.peer.message("one"))
	s.peer.send(s.peer.message("two"))

	bodies := map[string]bool{}
	bodies[string(s.waitFor(event.MessageNew).Request.Body())] = true
	bodies[string(s.waitFor(event.MessageNew).Request.Body())] = true
	s.Equal(map[string]bool{"one": true, "two": true}, bodies)
}

func (s *StackSuite) TestSessionReleased() {
	ss := s.ctx.Lock()
	ss.Unlock()
	ss.Unlock()

	_, err := ss.Initiate("sip:bob@"+peerAddr, "sip:alice@"+localAddr)
	s.ErrorIs(err, ErrSessionReleased)
	s.ErrorIs(ss.SetUserAgent("x"), ErrSessionReleased)
	s.ErrorIs(ss.AddAuthInfo(auth.Credential{Username: "alice"}), ErrSessionReleased)
	s.ErrorIs(ss.Terminate(handle.Nil, handle.Nil), ErrSessionReleased)

	// the lock was really released
	done := make(chan struct{})
	go func() {
		s.ctx.Lock().Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitLimit):
		s.FailNow("context lock still held")
	}
}

func (s *StackSuite) TestUserAgentApplied() {
	err := s.ctx.Do(func(ss *Session) error {
		if err := ss.SetUserAgent("softphone/2.0"); err != nil {
			return err
		}
		_, err := ss.SendMessage(message.MethodOptions, "sip:bob@"+peerAddr, "sip:alice@"+localAddr)
		return err
	})
	s.Require().NoError(err)

	opts := s.peer.expectRequest(message.MethodOptions)
	s.Equal("softphone/2.0", opts.GetHeader("User-Agent"))
	s.Contains(opts.GetHeader("Via"), "SIP/2.0/UDP 127.0.0.1:5060")

	s.peer.send(message.BuildResponse(opts, message.StatusOK, ""))
	answered := s.waitFor(event.MessageAnswered)
	s.Equal(message.StatusOK, answered.StatusCode())
}

func (s *StackSuite) TestStopFromCallback() {
	for _, mode := range []string{config.CallbackSimple, config.CallbackPool} {
		s.Run(mode, func() {
			if s.ctx.Running() {
				s.Require().NoError(s.ctx.Stop(context.Background()))
			}
			s.start(mode)

			stopped := make(chan error, 1)
			s.sink.setHook(func(c *Context, e *event.Event) {
				if e.Type == event.MessageNew {
					stopped <- c.Stop(context.Background())
				}
			})
			s.peer.send(s.peer.message("bye"))

			select {
			case err := <-stopped:
				s.NoError(err)
			case <-time.After(waitLimit):
				s.FailNow("Stop from a callback did not return")
			}
			s.Eventually(func() bool { return !s.ctx.Running() }, waitLimit, 5*time.Millisecond)
			s.ErrorIs(s.ctx.Stop(context.Background()), ErrNotRunning)
			s.Require().NoError(s.ctx.Start(context.Background()), "restartable after a callback stop")
		})
	}
}

func (s *StackSuite) TestCloseFromCallbackRefused() {
	closed := make(chan error, 1)
	s.sink.setHook(func(c *Context, e *event.Event) {
		if e.Type == event.MessageNew {
			closed <- c.Close(context.Background())
		}
	})
	s.peer.send(s.peer.message("close"))
	s.waitFor(event.MessageNew)
	s.ErrorIs(<-closed, ErrInCallback)
	s.True(s.ctx.Running())
}

func TestCloseReleasesTransport(t *testing.T) {
	hub := transport.NewHub()
	ep := hub.Endpoint(localAddr)

	c, err := New(config.Default(), nil, WithTransport(ep))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Close(context.Background()))
	assert.False(t, c.Running())
	assert.Nil(t, c.LocalAddr())
	assert.ErrorIs(t, ep.Send([]byte("x"), peerAddr), transport.ErrClosed)

	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	assert.NoError(t, c.Close(context.Background()))
	err = c.Do(func(s *Session) error {
		_, err := s.SendMessage(message.MethodOptions, "sip:bob@"+peerAddr, "sip:alice@"+localAddr)
		return err
	})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCloseBeforeStart(t *testing.T) {
	c, err := New(config.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Do(func(s *Session) error {
		return s.AddAuthInfo(auth.Credential{Username: "alice", Password: "secret"})
	}))

	require.NoError(t, c.Close(context.Background()))
	assert.Zero(t, c.creds.Len())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Listen.Transport = "sctp"

	c, err := New(cfg, nil)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, config.ErrInvalid))

	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "listen.transport", cerr.Field)
}

func TestSettingsBeforeStart(t *testing.T) {
	c, err := New(config.Default(), nil)
	require.NoError(t, err)
	assert.Nil(t, c.LocalAddr())

	err = c.Do(func(s *Session) error {
		if err := s.AddAuthInfo(auth.Credential{Username: "alice", Password: "secret"}); err != nil {
			return err
		}
		return s.SetUserAgent("early/1.0")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.creds.Len())
	assert.Equal(t, "early/1.0", c.userAgent)

	require.NoError(t, c.Do(func(s *Session) error { return s.ClearAuthInfo() }))
	assert.Zero(t, c.creds.Len())
	assert.ErrorIs(t, c.Stop(context.Background()), ErrNotRunning)
}

func TestRunStopsOnCancel(t *testing.T) {
	hub := transport.NewHub()
	ep := hub.Endpoint(localAddr)
	defer ep.Close()

	c, err := New(config.Default(), nil, WithTransport(ep))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- c.Run(ctx) }()

	require.Eventually(t, c.Running, waitLimit, 5*time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(waitLimit):
		t.Fatal("Run did not return")
	}
	assert.False(t, c.Running())
}

func TestClockDrivesTimers(t *testing.T) {
	var now time.Time
	var mu sync.Mutex
	clk := ClockFunc(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	now = time.Unix(1_700_000_000, 0)

	c, err := New(config.Default(), nil, WithClock(clk))
	require.NoError(t, err)
	assert.Equal(t, now, c.clock.Now())
}
