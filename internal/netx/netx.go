package netx

import "io"

type Addr string

type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Addr
}

// Endpoint is one party's attachment to a transport: it can accept inbound
// connections on its own address and dial other endpoints.
type Endpoint interface {
	Addr() Addr
	Accept() (Conn, error)
	Dial(addr Addr) (Conn, error)
	Close() error
}

// Transport creates endpoints bound to one underlying medium.
// Close tears down every endpoint; calling it twice is safe.
type Transport interface {
	NewEndpoint() (Endpoint, error)
	Close() error
}
