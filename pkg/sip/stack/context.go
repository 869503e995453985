// Package stack runs a SIP user agent: it owns the transport, the
// transaction and dialog engines and the call manager, and delivers their
// events to a Listener from a single event loop goroutine.
//
// Every mutating operation goes through a Session obtained from
// Context.Lock, so the application and the loop never touch the engines
// at the same time.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"braces.dev/errtrace"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tanbro/sipua/pkg/sip/auth"
	"github.com/tanbro/sipua/pkg/sip/call"
	"github.com/tanbro/sipua/pkg/sip/config"
	"github.com/tanbro/sipua/pkg/sip/dialog"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/metrics"
	"github.com/tanbro/sipua/pkg/sip/transaction"
	"github.com/tanbro/sipua/pkg/sip/transport"
)

var (
	ErrAlreadyRunning = errors.New("stack already running")
	ErrNotRunning     = errors.New("stack not running")
	ErrClosed         = errors.New("stack closed")
	// ErrSessionReleased is returned by a Session after Unlock.
	ErrSessionReleased = errors.New("session released")
	// ErrInCallback is returned by operations a listener callback must not
	// run on the Context it was handed.
	ErrInCallback = errors.New("not allowed from a listener callback")
)

// Context is one user agent instance. Several may run in a process.
//
// The Context passed to Listener methods is a view of the same instance.
// Stop called on it only signals the loop, which finishes its teardown
// once the callback returns.
type Context struct {
	*state
	callback bool
}

type state struct {
	cfg      config.Config
	listener Listener
	log      *slog.Logger

	clock         Clock
	parser        *message.Parser
	registerer    prometheus.Registerer
	authenticator auth.Authenticator
	metrics       *metrics.Metrics

	// mu guards everything below and the engines.
	mu        sync.Mutex
	userAgent string
	creds     *auth.Store
	transport transport.Transport
	ownsTP    bool
	engine    *transaction.Engine
	dialogs   *dialog.Manager
	calls     *call.Manager
	running   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	pool      *errgroup.Group

	// lifecycle is serialized separately so Stop can wait for the loop
	// without holding mu.
	lifecycle sync.Mutex

	// view is handed to listener callbacks.
	view *Context
}

// New validates cfg and builds a stopped Context delivering events to l.
func New(cfg config.Config, l Listener, opts ...Option) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if l == nil {
		l = NopListener{}
	}
	c := &Context{state: &state{
		cfg:       cfg,
		listener:  l,
		log:       slog.Default(),
		clock:     systemClock{},
		userAgent: cfg.UserAgent,
		creds:     &auth.Store{},
	}}
	c.view = &Context{state: c.state, callback: true}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "stack")
	if c.parser == nil {
		c.parser = message.NewParser(cfg.StrictParsing)
	}
	if c.authenticator == nil {
		c.authenticator = auth.Digest{}
	}
	if c.registerer != nil || cfg.Metrics.Enabled {
		c.metrics = metrics.New(c.registerer, cfg.Metrics.Namespace)
	}
	for _, cred := range cfg.Credentials {
		c.creds.Add(cred)
	}
	return c, nil
}

// Config returns the configuration the Context was built with.
func (c *Context) Config() config.Config { return c.cfg }

// Running reports whether the event loop is up.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LocalAddr returns the address of the transport, or nil before Start.
func (c *Context) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	return c.transport.LocalAddr()
}

// Start opens the transport, starts the event loop and returns once the
// loop is running.
func (c *Context) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := c.open(); err != nil {
		c.mu.Unlock()
		return errtrace.Wrap(err)
	}
	c.build()
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.pool = c.newPool()
	c.running = true
	tp := c.transport
	c.mu.Unlock()

	ready := make(chan struct{})
	go c.loop(loopCtx, ready, done)

	select {
	case <-ready:
	case <-ctx.Done():
		cancel()
		<-done
		return errtrace.Wrap(ctx.Err())
	}
	c.log.Info("stack started",
		"local_addr", tp.LocalAddr(),
		"transport", tp.Protocol(),
		"callbacks", c.cfg.Callbacks.Mode)
	return nil
}

// Stop ends the event loop, waits for running callbacks and closes the
// transport the Context opened itself. From a listener callback it only
// signals the loop and returns.
func (c *Context) Stop(ctx context.Context) error {
	if c.callback {
		c.mu.Lock()
		running, cancel := c.running, c.cancel
		c.mu.Unlock()
		if !running {
			return ErrNotRunning
		}
		cancel()
		c.log.Debug("stop requested from callback")
		return nil
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	running, cancel, done := c.running, c.cancel, c.done
	c.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}
	c.log.Info("stack stopped")
	return nil
}

// Run starts the Context, blocks until ctx is done and stops it.
func (c *Context) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return c.Stop(context.WithoutCancel(ctx))
}

// Close stops the Context if it is running and releases its engines and
// its transport, an injected one included. A closed Context cannot be
// started again.
func (c *Context) Close(ctx context.Context) error {
	if c.callback {
		return ErrInCallback
	}
	if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.engine, c.dialogs, c.calls = nil, nil, nil
	c.creds.Clear()
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport, c.ownsTP = nil, false
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		return errtrace.Wrap(err)
	}
	return nil
}

// finish runs on the loop goroutine once it leaves: it waits for pool
// callbacks and closes the transport the Context opened.
func (c *Context) finish() {
	if c.pool != nil {
		_ = c.pool.Wait()
	}
	c.teardown()
}

func (c *Context) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if c.ownsTP && c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.log.Warn("closing transport", "error", err)
		}
		c.transport = nil
		c.ownsTP = false
	}
}

// open creates the configured transport unless one was injected.
func (c *Context) open() error {
	if c.transport != nil {
		return nil
	}
	l := c.cfg.Listen
	opts := transport.Options{ReuseAddr: l.ReuseAddr, Logger: c.log}
	var (
		tp  transport.Transport
		err error
	)
	switch l.Transport {
	case config.TransportTCP:
		tp, err = transport.ListenTCP(l.Network(), l.HostPort(), opts)
	default:
		tp, err = transport.ListenUDP(l.Network(), l.HostPort(), opts)
	}
	if err != nil {
		return fmt.Errorf("open %s transport on %s: %w", l.Transport, l.HostPort(), err)
	}
	c.transport = tp
	c.ownsTP = true
	return nil
}

// build creates fresh engines around the open transport.
func (c *Context) build() {
	t := c.cfg.Timers
	c.engine = transaction.NewEngine(c.transport,
		transaction.WithTimers(transaction.Timers{T1: t.T1, T2: t.T2, T4: t.T4}),
		transaction.WithLogger(c.log),
		transaction.WithMetrics(c.metrics),
		transaction.WithParser(c.parser),
		transaction.WithClock(c.clock.Now),
	)
	c.dialogs = dialog.NewManager(dialog.WithLogger(c.log), dialog.WithMetrics(c.metrics))
	host, port := c.advertised()
	proto := c.transport.Protocol()
	if proto == transport.ProtocolMem {
		// in-memory endpoints advertise the protocol they emulate
		proto = transport.ProtocolUDP
		if c.transport.Reliable() {
			proto = transport.ProtocolTCP
		}
	}
	c.calls = call.NewManager(c.engine, c.dialogs, call.Config{
		Host:          host,
		Port:          port,
		Transport:     proto,
		UserAgent:     c.userAgent,
		NoAnswer:      t.NoAnswer,
		Credentials:   c.creds,
		Authenticator: c.authenticator,
		Logger:        c.log,
		Now:           c.clock.Now,
	})
}

// advertised returns the host and port put in Via and Contact.
func (c *Context) advertised() (string, int) {
	host, port := "", c.cfg.Listen.Port
	if h, p, err := net.SplitHostPort(c.transport.LocalAddr().String()); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = guessHost(c.cfg.Listen.Family == config.FamilyInet6)
	}
	if m := c.cfg.Masquerade; m.Address != "" {
		host = m.Address
		if m.Port > 0 {
			port = m.Port
		}
	}
	return host, port
}

// guessHost picks the first non-loopback interface address of the family.
func guessHost(v6 bool) string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok || ipn.IP.IsLoopback() || ipn.IP.IsLinkLocalUnicast() {
				continue
			}
			if (ipn.IP.To4() == nil) == v6 {
				return ipn.IP.String()
			}
		}
	}
	if v6 {
		return "::1"
	}
	return "127.0.0.1"
}
