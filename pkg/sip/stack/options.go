package stack

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanbro/sipua/pkg/sip/auth"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transport"
)

// Clock supplies the monotonic time that drives every SIP timer.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Context.
type Option func(*Context)

// WithTransport makes the Context use tp instead of opening the configured
// listener. The caller keeps ownership: Stop does not close it.
func WithTransport(tp transport.Transport) Option {
	return func(c *Context) { c.transport = tp }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces the system clock, mostly for tests.
func WithClock(clk Clock) Option {
	return func(c *Context) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithRegisterer enables metrics and registers them with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Context) { c.registerer = reg }
}

// WithAuthenticator replaces the digest authenticator used to answer
// challenges.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *Context) { c.authenticator = a }
}

func WithParser(p *message.Parser) Option {
	return func(c *Context) { c.parser = p }
}
