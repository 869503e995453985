package transport

import (
	"net"
	"sync"
	"time"
)

// Hub is an in-memory network connecting Endpoints by address. It is used
// to embed several engines in one process and in tests.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[string]*Endpoint)}
}

// Endpoint attaches an unreliable endpoint at addr. Datagrams to unknown
// addresses or full inboxes are silently lost, like UDP.
func (h *Hub) Endpoint(addr string) *Endpoint {
	return h.attach(addr, false)
}

// ReliableEndpoint attaches a reliable endpoint at addr. Sends to unknown
// addresses fail with ErrUnreachable.
func (h *Hub) ReliableEndpoint(addr string) *Endpoint {
	return h.attach(addr, true)
}

func (h *Hub) attach(addr string, reliable bool) *Endpoint {
	ep := &Endpoint{
		hub:      h,
		addr:     memAddr(addr),
		reliable: reliable,
		inbox:    make(chan Packet, inboxSize),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.endpoints[addr] = ep
	h.mu.Unlock()
	return ep
}

func (h *Hub) lookup(addr string) (*Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ep, ok := h.endpoints[addr]
	return ep, ok
}

func (h *Hub) detach(ep *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.endpoints[string(ep.addr)]; ok && cur == ep {
		delete(h.endpoints, string(ep.addr))
	}
}

type memAddr string

func (a memAddr) Network() string { return ProtocolMem }
func (a memAddr) String() string  { return string(a) }

// Endpoint is one attachment point of a Hub. It implements Transport.
type Endpoint struct {
	hub      *Hub
	addr     memAddr
	reliable bool
	inbox    chan Packet
	done     chan struct{}
	once     sync.Once
	stats    counters
}

func (e *Endpoint) Protocol() string    { return ProtocolMem }
func (e *Endpoint) Reliable() bool      { return e.reliable }
func (e *Endpoint) LocalAddr() net.Addr { return e.addr }

// Stats returns traffic counters.
func (e *Endpoint) Stats() Stats { return e.stats.snapshot() }

func (e *Endpoint) isClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Send copies data into the inbox of the endpoint at dest.
func (e *Endpoint) Send(data []byte, dest string) error {
	if e.isClosed() {
		return opError(ProtocolMem, "send", dest, ErrClosed)
	}

	peer, ok := e.hub.lookup(dest)
	if !ok || peer.isClosed() {
		if e.reliable {
			e.stats.onError()
			return opError(ProtocolMem, "send", dest, ErrUnreachable)
		}
		e.stats.onSent(len(data))
		return nil
	}

	pkt := Packet{Data: append([]byte(nil), data...), Source: e.addr}
	select {
	case peer.inbox <- pkt:
		e.stats.onSent(len(data))
		peer.stats.onReceived(len(data))
		return nil
	default:
		if e.reliable {
			e.stats.onError()
			return opError(ProtocolMem, "send", dest, ErrBufferFull)
		}
		e.stats.onSent(len(data))
		return nil
	}
}

// Receive waits up to timeout for the next packet.
func (e *Endpoint) Receive(timeout time.Duration) (Packet, bool, error) {
	select {
	case pkt := <-e.inbox:
		return pkt, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pkt := <-e.inbox:
		return pkt, true, nil
	case <-e.done:
		return Packet{}, false, opError(ProtocolMem, "receive", "", ErrClosed)
	case <-timer.C:
		return Packet{}, false, nil
	}
}

// Close detaches the endpoint from its hub.
func (e *Endpoint) Close() error {
	closed := false
	e.once.Do(func() {
		close(e.done)
		e.hub.detach(e)
		closed = true
	})
	if !closed {
		return opError(ProtocolMem, "close", "", ErrClosed)
	}
	return nil
}
