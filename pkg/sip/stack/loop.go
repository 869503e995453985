package stack

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tanbro/sipua/pkg/sip/config"
	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transport"
)

const minWait = time.Millisecond

func (c *Context) loop(ctx context.Context, ready chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	defer c.finish()
	close(ready)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.iterate() {
			// receive failed; back off so a broken socket does not spin
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

// iterate runs the timers, waits for one message and dispatches the events
// produced meanwhile. It returns false when the transport failed.
func (c *Context) iterate() bool {
	c.mu.Lock()
	now := c.clock.Now()
	c.engine.RunTimers(now)
	c.calls.RunTimers(now)
	wait := c.pollWait(now)
	tp := c.transport
	c.mu.Unlock()

	pkt, ok, err := tp.Receive(wait)
	healthy := true
	if err != nil {
		healthy = false
		if !errors.Is(err, transport.ErrClosed) {
			c.log.Warn("receive failed", "error", err)
		}
	}

	var msg message.Message
	if ok {
		msg, err = c.parser.Parse(pkt.Data)
		if err != nil {
			c.metrics.MessageDropped("parse")
			c.log.Debug("dropping unparsable message", "source", pkt.Source, "size", len(pkt.Data), "error", err)
			msg = nil
		}
	}

	c.mu.Lock()
	if msg != nil {
		c.engine.HandleMessage(msg, pkt.Source.String())
	}
	events := c.calls.TakeEvents()
	c.mu.Unlock()

	c.dispatch(events)
	return healthy
}

// pollWait bounds the receive wait by the next timer deadline.
func (c *Context) pollWait(now time.Time) time.Duration {
	wait := c.cfg.PollInterval
	for _, d := range []time.Time{c.engine.NextDeadline(), c.calls.NextDeadline()} {
		if d.IsZero() {
			continue
		}
		if until := d.Sub(now); until < wait {
			wait = until
		}
	}
	return max(wait, minWait)
}

func (c *Context) newPool() *errgroup.Group {
	if c.cfg.Callbacks.Mode != config.CallbackPool {
		return nil
	}
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Callbacks.Workers)
	return g
}

// dispatch hands events to the listener in order. In pool mode Go blocks
// while every worker is busy.
func (c *Context) dispatch(events []*event.Event) {
	for _, e := range events {
		c.metrics.Event(e.Type.String())
		if c.pool == nil {
			c.invoke(e)
			continue
		}
		c.pool.Go(func() error {
			c.invoke(e)
			return nil
		})
	}
}

func (c *Context) invoke(e *event.Event) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveCallback(time.Since(start))
		if r := recover(); r != nil {
			c.log.Error("listener panicked",
				"event", e.Type.String(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	if err := Dispatch(c.listener, c.view, e); err != nil {
		c.log.Warn("event not dispatched", "event", e.Type.String(), "error", err)
	}
}
