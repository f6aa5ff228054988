package netx

import (
	"fmt"
	"net"
	"sync"
)

type tcpTransport struct {
	host     string
	basePort int

	mu        sync.Mutex
	nextPort  int
	endpoints []*tcpEndpoint
	closed    bool
}

// NewTCPTransport returns a transport whose endpoints are TCP listeners on
// host. With basePort 0 every endpoint gets an OS-assigned port; otherwise
// ports are handed out sequentially starting at basePort.
func NewTCPTransport(host string, basePort int) Transport {
	return &tcpTransport{host: host, basePort: basePort, nextPort: basePort}
}

func (t *tcpTransport) NewEndpoint() (Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, net.ErrClosed
	}

	port := 0
	if t.basePort != 0 {
		port = t.nextPort
		t.nextPort++
	}

	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", t.host, port))
	if err != nil {
		return nil, fmt.Errorf("listen %s:%d: %w", t.host, port, err)
	}
	ep := &tcpEndpoint{listener: l}
	t.endpoints = append(t.endpoints, ep)
	return ep, nil
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var first error
	for _, ep := range t.endpoints {
		if err := ep.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type tcpEndpoint struct {
	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func (e *tcpEndpoint) Addr() Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return Addr(e.listener.Addr().String())
}

func (e *tcpEndpoint) Accept() (Conn, error) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()

	if l == nil {
		return nil, net.ErrClosed
	}
	c, err := l.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (e *tcpEndpoint) Dial(addr Addr) (Conn, error) {
	c, err := net.Dial("tcp", string(addr))
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (e *tcpEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.listener == nil {
		return nil
	}
	e.closed = true
	return e.listener.Close()
}

type tcpConn struct {
	net.Conn
}

func (c *tcpConn) RemoteAddr() Addr {
	return Addr(c.Conn.RemoteAddr().String())
}
