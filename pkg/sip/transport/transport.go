// Package transport moves raw SIP datagrams and stream frames between the
// engine and the network.
//
// The engine receives only from its event loop goroutine and sends only
// while holding its context lock, so implementations need not order
// concurrent sends themselves. They must however tolerate Send and Receive
// running at the same time.
package transport

import (
	"net"
	"sync/atomic"
	"time"
)

// Protocol names
const (
	ProtocolUDP = "udp"
	ProtocolTCP = "tcp"
	ProtocolMem = "mem"
)

// Packet is one received message with the address it came from.
type Packet struct {
	Data   []byte
	Source net.Addr
}

// Transport sends and receives serialized SIP messages.
type Transport interface {
	// Send writes data to dest ("host:port").
	Send(data []byte, dest string) error

	// Receive waits up to timeout for one message. ok is false when the
	// timeout expired without data.
	Receive(timeout time.Duration) (pkt Packet, ok bool, err error)

	// Reliable reports a stream transport; retransmission timers are not
	// used on reliable transports.
	Reliable() bool

	// Protocol returns the transport protocol (udp, tcp, mem)
	Protocol() string

	// LocalAddr returns the local listening address
	LocalAddr() net.Addr

	// Close releases the transport. Further calls fail with ErrClosed.
	Close() error
}

// Stats counts traffic of a transport.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	Errors           uint64
}

type counters struct {
	sent, received, bytesSent, bytesReceived, errors atomic.Uint64
}

func (c *counters) onSent(n int) {
	c.sent.Add(1)
	c.bytesSent.Add(uint64(n))
}

func (c *counters) onReceived(n int) {
	c.received.Add(1)
	c.bytesReceived.Add(uint64(n))
}

func (c *counters) onError() {
	c.errors.Add(1)
}

func (c *counters) snapshot() Stats {
	return Stats{
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		Errors:           c.errors.Load(),
	}
}
