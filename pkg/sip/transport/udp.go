package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
)

const maxDatagramSize = 65535

// Options configures the listening transports.
type Options struct {
	// ReuseAddr sets SO_REUSEADDR and SO_REUSEPORT on the socket.
	ReuseAddr bool
	Logger    *slog.Logger
}

func (o Options) listenConfig() net.ListenConfig {
	var lc net.ListenConfig
	if o.ReuseAddr {
		lc.Control = reuseControl
	}
	return lc
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// UDP is an unreliable transport over a net.PacketConn.
type UDP struct {
	conn   net.PacketConn
	log    *slog.Logger
	buf    []byte
	closed atomic.Bool
	stats  counters
}

// ListenUDP opens a UDP socket on addr. network is "udp", "udp4" or "udp6".
func ListenUDP(network, addr string, opts Options) (*UDP, error) {
	lc := opts.listenConfig()
	conn, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, errtrace.Wrap(opError(ProtocolUDP, "listen", addr, err))
	}
	t, err := NewUDP(conn, opts)
	if err != nil {
		conn.Close()
		return nil, errtrace.Wrap(err)
	}
	t.log.Debug("udp transport listening", slog.Any("local_addr", conn.LocalAddr()))
	return t, nil
}

// NewUDP wraps an open packet connection. The transport owns conn from now
// on and closes it in Close.
func NewUDP(conn net.PacketConn, opts Options) (*UDP, error) {
	if conn == nil {
		return nil, opError(ProtocolUDP, "open", "", ErrInvalidAddress)
	}
	return &UDP{
		conn: conn,
		log:  opts.logger(),
		buf:  make([]byte, maxDatagramSize),
	}, nil
}

func (t *UDP) Protocol() string    { return ProtocolUDP }
func (t *UDP) Reliable() bool      { return false }
func (t *UDP) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Stats returns traffic counters.
func (t *UDP) Stats() Stats { return t.stats.snapshot() }

// Send writes one datagram to dest.
func (t *UDP) Send(data []byte, dest string) error {
	if t.closed.Load() {
		return opError(ProtocolUDP, "send", dest, ErrClosed)
	}
	if len(data) > maxDatagramSize {
		return opError(ProtocolUDP, "send", dest, ErrMessageTooLarge)
	}

	addr, err := net.ResolveUDPAddr(ProtocolUDP, dest)
	if err != nil {
		return opError(ProtocolUDP, "resolve", dest, errors.Join(ErrInvalidAddress, err))
	}

	n, err := t.conn.WriteTo(data, addr)
	if err != nil {
		t.stats.onError()
		return opError(ProtocolUDP, "send", dest, err)
	}
	t.stats.onSent(n)
	return nil
}

// Receive reads one datagram, waiting at most timeout.
func (t *UDP) Receive(timeout time.Duration) (Packet, bool, error) {
	if t.closed.Load() {
		return Packet{}, false, opError(ProtocolUDP, "receive", "", ErrClosed)
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Packet{}, false, opError(ProtocolUDP, "receive", "", err)
	}

	n, addr, err := t.conn.ReadFrom(t.buf)
	if err != nil {
		if isTimeout(err) {
			return Packet{}, false, nil
		}
		t.stats.onError()
		return Packet{}, false, opError(ProtocolUDP, "receive", "", err)
	}

	t.stats.onReceived(n)
	data := make([]byte, n)
	copy(data, t.buf[:n])
	return Packet{Data: data, Source: addr}, true, nil
}

func (t *UDP) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return opError(ProtocolUDP, "close", "", ErrClosed)
	}
	if err := t.conn.Close(); err != nil {
		return opError(ProtocolUDP, "close", "", err)
	}
	return nil
}
