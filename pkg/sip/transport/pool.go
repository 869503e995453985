package transport

import (
	"net"
	"sync"
	"sync/atomic"
)

// streamConn is one TCP connection with its own reader goroutine.
type streamConn struct {
	conn   net.Conn
	key    string
	closed atomic.Bool
	wmu    sync.Mutex
}

func (c *streamConn) write(data []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write(data)
}

func (c *streamConn) close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// connPool indexes open stream connections by remote address.
type connPool struct {
	mu    sync.RWMutex
	conns map[string]*streamConn
}

func newConnPool() *connPool {
	return &connPool{conns: make(map[string]*streamConn)}
}

// add stores c unless a live connection to the same peer exists, in which
// case the existing one is returned.
func (p *connPool) add(c *streamConn) *streamConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.conns[c.key]; ok && !old.closed.Load() {
		return old
	}
	p.conns[c.key] = c
	return c
}

func (p *connPool) get(key string) (*streamConn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[key]
	if !ok || c.closed.Load() {
		return nil, false
	}
	return c, true
}

func (p *connPool) remove(c *streamConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.conns[c.key]; ok && cur == c {
		delete(p.conns, c.key)
	}
}

func (p *connPool) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *connPool) closeAll() {
	p.mu.Lock()
	conns := make([]*streamConn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*streamConn)
	p.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
