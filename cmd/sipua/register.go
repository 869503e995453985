package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/stack"
)

func newRegisterCmd(a *app) *cobra.Command {
	var (
		expires int
		contact string
	)
	cmd := &cobra.Command{
		Use:   "register <from> <proxy>",
		Short: "Register with a registrar and unregister on exit",
		Long: `Register <from> through <proxy> using the credentials of the
configuration. The binding is refreshed until interrupted and removed on
exit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			l := &registrant{log: a.log, outcome: make(chan error, 4)}
			c, err := a.newStack(l)
			if err != nil {
				return err
			}
			if err := c.Start(ctx); err != nil {
				return err
			}
			defer c.Close(context.Background())

			var regID handle.ID
			err = c.Do(func(s *stack.Session) error {
				id, err := s.Register(args[0], args[1], contact, expires)
				regID = id
				return err
			})
			if err != nil {
				return err
			}

			select {
			case err := <-l.outcome:
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", args[0])
			case <-ctx.Done():
				return nil
			}

			<-ctx.Done()
			err = c.Do(func(s *stack.Session) error { return s.Unregister(regID) })
			if err != nil {
				return err
			}
			select {
			case err := <-l.outcome:
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "unregistered %s\n", args[0])
				}
				return err
			case <-time.After(5 * time.Second):
				return fmt.Errorf("no answer to unregister")
			}
		},
	}
	cmd.Flags().IntVar(&expires, "expires", 3600, "requested binding lifetime in seconds")
	cmd.Flags().StringVar(&contact, "contact", "", "contact to bind (default: local address)")
	return cmd
}

// registrant is the listener of the register command.
type registrant struct {
	stack.NopListener
	log     *slog.Logger
	outcome chan error
}

func (l *registrant) OnRegistrationSuccess(_ *stack.Context, e *event.Event) {
	l.log.Info("registration accepted", "status", e.StatusCode(), "registration_id", e.RegistrationID.String())
	l.report(nil)
}

func (l *registrant) OnRegistrationFailure(_ *stack.Context, e *event.Event) {
	err := fmt.Errorf("registration failed: %d %s", e.StatusCode(), e.TextInfo)
	l.log.Warn("registration failed", "status", e.StatusCode(), "reason", e.TextInfo)
	l.report(err)
}

func (l *registrant) report(err error) {
	select {
	case l.outcome <- err:
	default:
	}
}
