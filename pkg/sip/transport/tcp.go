package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/tanbro/sipua/pkg/sip/message"
)

const (
	dialTimeout  = 5 * time.Second
	inboxSize    = 128
	readChunk    = 4096
	writeTimeout = 5 * time.Second
)

// TCP is a reliable stream transport. Messages are framed by their
// Content-Length header. Outbound connections are dialed on demand and
// reused for later sends to the same peer, as are accepted connections.
type TCP struct {
	listener net.Listener
	log      *slog.Logger
	pool     *connPool
	inbox    chan Packet
	done     chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
	stats    counters
}

// ListenTCP starts accepting connections on addr. network is "tcp", "tcp4"
// or "tcp6".
func ListenTCP(network, addr string, opts Options) (*TCP, error) {
	lc := opts.listenConfig()
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, errtrace.Wrap(opError(ProtocolTCP, "listen", addr, err))
	}

	t := &TCP{
		listener: ln,
		log:      opts.logger(),
		pool:     newConnPool(),
		inbox:    make(chan Packet, inboxSize),
		done:     make(chan struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.log.Debug("tcp transport listening", slog.Any("local_addr", ln.Addr()))
	return t, nil
}

func (t *TCP) Protocol() string    { return ProtocolTCP }
func (t *TCP) Reliable() bool      { return true }
func (t *TCP) LocalAddr() net.Addr { return t.listener.Addr() }

// Stats returns traffic counters.
func (t *TCP) Stats() Stats { return t.stats.snapshot() }

// Connections returns the number of open connections.
func (t *TCP) Connections() int { return t.pool.len() }

// Send writes data on the connection to dest, dialing one if needed.
func (t *TCP) Send(data []byte, dest string) error {
	if t.closed.Load() {
		return opError(ProtocolTCP, "send", dest, ErrClosed)
	}

	c, ok := t.pool.get(dest)
	if !ok {
		nc, err := net.DialTimeout(ProtocolTCP, dest, dialTimeout)
		if err != nil {
			t.stats.onError()
			return opError(ProtocolTCP, "dial", dest, err)
		}
		c = t.track(nc, dest)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return opError(ProtocolTCP, "send", dest, err)
	}
	n, err := c.write(data)
	if err != nil {
		t.stats.onError()
		c.close()
		t.pool.remove(c)
		return opError(ProtocolTCP, "send", dest, err)
	}
	t.stats.onSent(n)
	return nil
}

// Receive returns the next framed message, waiting at most timeout.
func (t *TCP) Receive(timeout time.Duration) (Packet, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pkt := <-t.inbox:
		return pkt, true, nil
	case <-t.done:
		return Packet{}, false, opError(ProtocolTCP, "receive", "", ErrClosed)
	case <-timer.C:
		return Packet{}, false, nil
	}
}

func (t *TCP) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return opError(ProtocolTCP, "close", "", ErrClosed)
	}
	close(t.done)
	err := t.listener.Close()
	t.pool.closeAll()
	t.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return opError(ProtocolTCP, "close", "", err)
	}
	return nil
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()

	for {
		nc, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.stats.onError()
			t.log.Warn("tcp accept failed", slog.Any("error", err))
			if isTemporary(err) {
				continue
			}
			return
		}
		t.track(nc, nc.RemoteAddr().String())
	}
}

func (t *TCP) track(nc net.Conn, key string) *streamConn {
	c := t.pool.add(&streamConn{conn: nc, key: key})
	if c.conn != nc {
		// lost a race against another connection to the same peer
		nc.Close()
		return c
	}
	t.wg.Add(1)
	go t.readLoop(c)
	return c
}

func (t *TCP) readLoop(c *streamConn) {
	defer t.wg.Done()
	defer func() {
		c.close()
		t.pool.remove(c)
	}()

	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			var ferr error
			if buf, ferr = t.deliver(c, append(buf, chunk[:n]...)); ferr != nil {
				t.stats.onError()
				t.log.Warn("tcp framing failed, closing connection",
					slog.String("remote_addr", c.key), slog.Any("error", ferr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.closed.Load() && !c.closed.Load() {
				t.stats.onError()
				t.log.Debug("tcp read failed", slog.String("remote_addr", c.key), slog.Any("error", err))
			}
			return
		}
	}
}

// deliver pushes every complete message in buf to the inbox and returns the
// unconsumed rest.
func (t *TCP) deliver(c *streamConn, buf []byte) ([]byte, error) {
	for {
		n, ok, err := message.FrameLength(buf)
		if err != nil {
			return nil, err
		}
		if !ok {
			return buf, nil
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		buf = buf[n:]
		t.stats.onReceived(n)

		select {
		case t.inbox <- Packet{Data: frame, Source: c.conn.RemoteAddr()}:
		case <-t.done:
			return nil, ErrClosed
		}
	}
}
