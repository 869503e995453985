package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/spf13/cobra"

	"github.com/tanbro/sipua/pkg/sip/call"
	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/stack"
)

func newCallCmd(a *app) *cobra.Command {
	var (
		from     string
		route    string
		duration time.Duration
		rtpPort  int
	)
	cmd := &cobra.Command{
		Use:   "call <to>",
		Short: "Place a call and hang up after --duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, done := context.WithCancel(ctx)
			defer done()

			l := &caller{log: a.log, duration: duration, done: done}
			c, err := a.newStack(l)
			if err != nil {
				return err
			}
			if err := c.Start(ctx); err != nil {
				return err
			}
			defer c.Close(context.Background())

			if from == "" {
				from = "sip:sipua@" + c.LocalAddr().String()
			}
			host, _, err := net.SplitHostPort(c.LocalAddr().String())
			if err != nil {
				return err
			}
			offer, err := buildOffer(host, rtpPort)
			if err != nil {
				return err
			}
			opts := []call.Option{call.WithBody("application/sdp", offer)}
			if route != "" {
				opts = append(opts, call.WithRoute(route))
			}

			var callID handle.ID
			err = c.Do(func(s *stack.Session) error {
				id, err := s.Initiate(args[0], from, opts...)
				callID = id
				return err
			})
			if err != nil {
				return err
			}
			a.log.Info("calling", "to", args[0], "call_id", callID.String())

			<-ctx.Done()
			l.hangup(c, callID)
			return l.result()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "caller address (default sip:sipua@<local address>)")
	cmd.Flags().StringVar(&route, "route", "", "outbound proxy")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to stay connected")
	cmd.Flags().IntVar(&rtpPort, "rtp-port", 4000, "audio port advertised in the SDP offer")
	return cmd
}

// buildOffer returns an audio offer with PCMU, PCMA and telephone-event.
func buildOffer(host string, port int) ([]byte, error) {
	now := uint64(time.Now().Unix())
	addrType := "IP4"
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}
	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: host,
		},
		SessionName: "sipua",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{"0", "8", "101"},
			},
			Attributes: []sdp.Attribute{
				sdp.NewAttribute("rtpmap", "0 PCMU/8000"),
				sdp.NewAttribute("rtpmap", "8 PCMA/8000"),
				sdp.NewAttribute("rtpmap", "101 telephone-event/8000"),
				sdp.NewAttribute("fmtp", "101 0-15"),
				sdp.NewAttribute("ptime", "20"),
				sdp.NewPropertyAttribute("sendrecv"),
			},
		}},
	}
	return offer.Marshal()
}

// remoteMedia extracts the audio address of an SDP answer.
func remoteMedia(body []byte) (string, error) {
	var answer sdp.SessionDescription
	if err := answer.Unmarshal(body); err != nil {
		return "", err
	}
	host := ""
	if answer.ConnectionInformation != nil && answer.ConnectionInformation.Address != nil {
		host = answer.ConnectionInformation.Address.Address
	}
	for _, md := range answer.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			host = md.ConnectionInformation.Address.Address
		}
		return net.JoinHostPort(host, strconv.Itoa(md.MediaName.Port.Value)), nil
	}
	return "", fmt.Errorf("no audio stream in answer")
}

// caller is the listener of the call command.
type caller struct {
	stack.NopListener
	log      *slog.Logger
	duration time.Duration
	done     context.CancelFunc

	mu       sync.Mutex
	answered bool
	failure  error
	timer    *time.Timer
}

func (l *caller) OnCallRinging(_ *stack.Context, e *event.Event) {
	l.log.Info("ringing", "status", e.StatusCode())
}

func (l *caller) OnCallAnswered(c *stack.Context, e *event.Event) {
	if media, err := remoteMedia(e.Response.Body()); err == nil {
		l.log.Info("answered", "remote_media", media)
	} else {
		l.log.Info("answered", "sdp_error", err)
	}
	err := c.Do(func(s *stack.Session) error {
		return s.SendAck(e.DialogID)
	})
	if err != nil {
		l.fail(fmt.Errorf("ack: %w", err))
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.answered {
		return
	}
	l.answered = true
	l.timer = time.AfterFunc(l.duration, l.done)
}

func (l *caller) OnCallRequestFailure(_ *stack.Context, e *event.Event) { l.failed(e) }
func (l *caller) OnCallServerFailure(_ *stack.Context, e *event.Event)  { l.failed(e) }
func (l *caller) OnCallGlobalFailure(_ *stack.Context, e *event.Event)  { l.failed(e) }
func (l *caller) OnCallRedirected(_ *stack.Context, e *event.Event)     { l.failed(e) }

func (l *caller) OnCallClosed(*stack.Context, *event.Event) {
	l.log.Info("remote hung up")
	l.done()
}

func (l *caller) OnCallReleased(*stack.Context, *event.Event) {
	l.done()
}

func (l *caller) failed(e *event.Event) {
	l.fail(fmt.Errorf("call failed: %d %s", e.StatusCode(), e.TextInfo))
}

func (l *caller) fail(err error) {
	l.mu.Lock()
	if l.failure == nil {
		l.failure = err
	}
	l.mu.Unlock()
	l.done()
}

func (l *caller) result() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	return l.failure
}

// hangup ends the call if it is still up and gives the BYE or CANCEL a
// moment to complete.
func (l *caller) hangup(c *stack.Context, callID handle.ID) {
	err := c.Do(func(s *stack.Session) error {
		if _, ok := s.Call(callID); !ok {
			return nil
		}
		return s.Terminate(callID, handle.Nil)
	})
	if err != nil {
		l.log.Debug("hangup", "error", err)
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		live := false
		_ = c.Do(func(s *stack.Session) error {
			_, live = s.Call(callID)
			return nil
		})
		if !live {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
