package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/stack"
)

func newListenCmd(a *app) *cobra.Command {
	var status int
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Answer inbound calls and messages until interrupted",
		Long: `Listen on the configured address. Inbound INVITEs are answered with
--status; MESSAGE and OPTIONS requests get 200 OK.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status < 200 || status > 699 {
				return fmt.Errorf("--status must be a final response code, got %d", status)
			}
			c, err := a.newStack(&answerer{status: status, log: a.log})
			if err != nil {
				return err
			}
			defer c.Close(context.Background())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&status, "status", message.StatusNotFound, "response code for inbound INVITEs")
	return cmd
}

// answerer is the listener of the listen command.
type answerer struct {
	stack.NopListener
	status int
	log    *slog.Logger
}

func (l *answerer) OnCallInvite(c *stack.Context, e *event.Event) {
	l.log.Info("incoming call", "from", e.Request.GetHeader("From"), "status", l.status)
	l.answer(c, e, l.status)
}

func (l *answerer) OnCallAck(_ *stack.Context, e *event.Event) {
	l.log.Info("call established", "call_id", e.CallID.String())
}

func (l *answerer) OnCallMessageNew(c *stack.Context, e *event.Event) {
	l.answer(c, e, message.StatusOK)
}

func (l *answerer) OnCallClosed(_ *stack.Context, e *event.Event) {
	l.log.Info("call closed", "call_id", e.CallID.String())
}

func (l *answerer) OnMessageNew(c *stack.Context, e *event.Event) {
	switch e.Request.Method {
	case message.MethodMessage:
		l.log.Info("message", "from", e.Request.GetHeader("From"), "body", string(e.Request.Body()))
	case message.MethodOptions:
	default:
		l.answer(c, e, message.StatusMethodNotAllowed)
		return
	}
	l.answer(c, e, message.StatusOK)
}

func (l *answerer) OnInSubscriptionNew(c *stack.Context, e *event.Event) {
	l.answer(c, e, message.StatusMethodNotAllowed)
}

func (l *answerer) answer(c *stack.Context, e *event.Event, status int) {
	err := c.Do(func(s *stack.Session) error {
		return s.Answer(e.TransactionID, status)
	})
	if err != nil {
		l.log.Warn("cannot answer", "method", e.Request.Method, "status", status, "error", err)
	}
}
