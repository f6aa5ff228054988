package netx

import (
	"fmt"
	"io"
	"net"
	"sync"
)

// memTransport is an in-process transport for deterministic tests. Endpoints
// get synthetic addresses ("mem:1", "mem:2", ...) and dialing produces a
// buffered stream pair routed through the target endpoint's accept queue.
// Writes never block on the reader, which keeps lockstep handshakes (both
// sides write, then read) free of rendezvous deadlocks.
type memTransport struct {
	mu        sync.Mutex
	next      int
	endpoints map[Addr]*memEndpoint
	closed    bool
}

func NewMemTransport() Transport {
	return &memTransport{endpoints: make(map[Addr]*memEndpoint)}
}

func (t *memTransport) NewEndpoint() (Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, net.ErrClosed
	}
	t.next++
	ep := &memEndpoint{
		transport: t,
		addr:      Addr(fmt.Sprintf("mem:%d", t.next)),
		accept:    make(chan Conn, 16),
		done:      make(chan struct{}),
	}
	t.endpoints[ep.addr] = ep
	return ep, nil
}

func (t *memTransport) lookup(addr Addr) (*memEndpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[addr]
	return ep, ok
}

func (t *memTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	eps := make([]*memEndpoint, 0, len(t.endpoints))
	for _, ep := range t.endpoints {
		eps = append(eps, ep)
	}
	t.mu.Unlock()

	for _, ep := range eps {
		_ = ep.Close()
	}
	return nil
}

type memEndpoint struct {
	transport *memTransport
	addr      Addr
	accept    chan Conn

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func (e *memEndpoint) Addr() Addr { return e.addr }

func (e *memEndpoint) Accept() (Conn, error) {
	select {
	case c := <-e.accept:
		return c, nil
	case <-e.done:
		return nil, net.ErrClosed
	}
}

func (e *memEndpoint) Dial(addr Addr) (Conn, error) {
	remote, ok := e.transport.lookup(addr)
	if !ok {
		return nil, fmt.Errorf("mem dial %s: no such endpoint", addr)
	}

	local, far := newMemPipe(e.addr, addr)
	select {
	case remote.accept <- far:
		return local, nil
	case <-remote.done:
		return nil, net.ErrClosed
	}
}

func (e *memEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)

	e.transport.mu.Lock()
	delete(e.transport.endpoints, e.addr)
	e.transport.mu.Unlock()
	return nil
}

// memBuffer is one direction of a memory pipe: an unbounded byte queue with
// blocking reads.
type memBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newMemBuffer() *memBuffer {
	b := &memBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *memBuffer) write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

func (b *memBuffer) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *memBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

type memConn struct {
	in     *memBuffer
	out    *memBuffer
	remote Addr

	closeOnce sync.Once
}

func newMemPipe(dialerAddr, targetAddr Addr) (dialer, target *memConn) {
	aToB := newMemBuffer()
	bToA := newMemBuffer()
	dialer = &memConn{in: bToA, out: aToB, remote: targetAddr}
	target = &memConn{in: aToB, out: bToA, remote: dialerAddr}
	return dialer, target
}

func (c *memConn) Read(p []byte) (int, error)  { return c.in.read(p) }
func (c *memConn) Write(p []byte) (int, error) { return c.out.write(p) }
func (c *memConn) RemoteAddr() Addr            { return c.remote }

func (c *memConn) Close() error {
	c.closeOnce.Do(func() {
		c.in.close()
		c.out.close()
	})
	return nil
}
