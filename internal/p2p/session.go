package p2p

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"parcelnet/internal/crypto/noiseconn"
	"parcelnet/internal/netx"
	"parcelnet/internal/proto"
)

const handshakeTimeout = 5 * time.Second

type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

// establishPeer secures the raw connection with a Noise_XX handshake, swaps
// hello envelopes, and registers the resulting peer. The peer ID is the hex
// of the remote Noise static key, so it is authenticated by the handshake
// rather than taken from the remote's envelope.
func (n *Node) establishPeer(rawConn netx.Conn, inbound bool) (*peer, error) {
	payloadBytes, err := json.Marshal(proto.NoiseIdentityPayload{Name: n.name})
	if err != nil {
		return nil, err
	}

	var hs *noiseconn.HandshakeResult
	if inbound {
		hs, err = noiseconn.NewSecureServer(rawConn, n.id.Priv, n.id.Pub, payloadBytes)
	} else {
		hs, err = noiseconn.NewSecureClient(rawConn, n.id.Priv, n.id.Pub, payloadBytes)
	}
	if err != nil {
		return nil, err
	}
	secure := hs.Conn

	var remoteName string
	if len(hs.RemotePayload) > 0 {
		var rip proto.NoiseIdentityPayload
		if err := json.Unmarshal(hs.RemotePayload, &rip); err != nil {
			_ = secure.Close()
			return nil, err
		}
		remoteName = rip.Name
	}

	dec := json.NewDecoder(bufio.NewReader(secure))
	enc := json.NewEncoder(secure)

	if err := n.sendHello(enc); err != nil {
		_ = secure.Close()
		return nil, err
	}

	env, err := n.readEnvelopeWithTimeout(rawConn, dec, handshakeTimeout)
	if err != nil {
		_ = secure.Close()
		return nil, err
	}
	if env.Type != proto.MsgHello {
		_ = secure.Close()
		return nil, errors.New("expected hello")
	}

	var hello proto.Hello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		_ = secure.Close()
		return nil, err
	}
	if hello.Protocol != n.protocol {
		n.log.Debug().Str("theirs", hello.Protocol).Str("ours", n.protocol).Msg("protocol mismatch")
	}

	peerID := hex.EncodeToString(hs.RemoteStatic)
	pctx, cancel := context.WithCancel(n.ctx)
	p := &peer{
		id:     peerID,
		name:   remoteName,
		addr:   netx.Addr(hello.Listen),
		conn:   wrapSecure(rawConn, secure),
		reader: dec,
		writer: enc,
		sendCh: make(chan proto.Envelope, 128),
		ctx:    pctx,
		cancel: cancel,
		talks:  make(map[string]*TalkReader),
	}

	if !n.addPeer(p) {
		cancel()
		_ = secure.Close()
		return nil, errors.New("peer not admitted")
	}

	go p.writeLoop(n)

	n.log.Debug().
		Str("peer", shortID(peerID)).
		Str("name", remoteName).
		Bool("inbound", inbound).
		Msg("peer connected")

	return p, nil
}

func (n *Node) runPeerReadLoop(p *peer) {
	defer n.removePeer(p.id)

	dec := p.reader
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		var env proto.Envelope
		if err := dec.Decode(&env); err != nil {
			n.log.Debug().Str("peer", shortID(p.id)).Err(err).Msg("read loop done")
			return
		}
		n.handleEnvelope(p, env)
	}
}

func (n *Node) readEnvelopeWithTimeout(rawConn netx.Conn, dec *json.Decoder, timeout time.Duration) (proto.Envelope, error) {
	if dc, ok := rawConn.(deadlineConn); ok {
		_ = dc.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = dc.SetReadDeadline(time.Time{}) }()

		var env proto.Envelope
		err := dec.Decode(&env)
		return env, err
	}

	type result struct {
		env proto.Envelope
		err error
	}
	ch := make(chan result, 1)

	go func() {
		var env proto.Envelope
		err := dec.Decode(&env)
		ch <- result{env: env, err: err}
	}()

	select {
	case r := <-ch:
		return r.env, r.err
	case <-time.After(timeout):
		_ = rawConn.Close() // ensures decode unblocks and goroutine exits
		return proto.Envelope{}, errors.New("read timeout")
	}
}

func (n *Node) sendHello(enc *json.Encoder) error {
	h := proto.Hello{
		Name:     n.name,
		Listen:   string(n.addr),
		Protocol: n.protocol,
	}
	return enc.Encode(proto.Envelope{
		Type:    proto.MsgHello,
		FromID:  n.id.ID,
		Payload: proto.MustMarshal(h),
	})
}

// secureAsConn lets the Noise-wrapped stream satisfy netx.Conn, keeping the
// raw connection's remote address and deadline support visible.
type secureAsConn struct {
	*noiseconn.SecureConn
	raw netx.Conn
}

func wrapSecure(raw netx.Conn, secure *noiseconn.SecureConn) netx.Conn {
	return &secureAsConn{SecureConn: secure, raw: raw}
}

func (c *secureAsConn) RemoteAddr() netx.Addr { return c.raw.RemoteAddr() }

func (c *secureAsConn) SetReadDeadline(t time.Time) error {
	if dc, ok := c.raw.(deadlineConn); ok {
		return dc.SetReadDeadline(t)
	}
	return nil
}
