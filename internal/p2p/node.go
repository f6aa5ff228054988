package p2p

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"parcelnet/internal/netx"
	"parcelnet/internal/proto"
)

type NodeConfig struct {
	Name     string         // user-facing name
	Endpoint netx.Endpoint  // transport attachment
	Protocol string         // protocol version string
	Seed     int64          // identity seed; 0 means random
	Logger   zerolog.Logger // structured logger; zerolog.Nop() to silence
}

// SingleHandler handles one discrete message for a topic.
type SingleHandler func(from string, header, body []byte)

// TalkHandler handles one inbound talk; it should read frames from the
// reader until ok is false.
type TalkHandler func(from string, talk *TalkReader)

// DefaultHandler receives discrete messages whose topic has no registered
// handler.
type DefaultHandler func(from, topic string, header, body []byte)

type peer struct {
	id   string
	name string
	addr netx.Addr
	conn netx.Conn

	// reader carries over from session setup: it may have buffered
	// envelopes that arrived right behind the hello
	reader *json.Decoder
	writer *json.Encoder
	sendCh chan proto.Envelope

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	talks map[string]*TalkReader // open inbound talks, nil entry = drained
}

type Node struct {
	ep  netx.Endpoint
	id  *Identity
	log zerolog.Logger

	name     string
	protocol string
	addr     netx.Addr

	mu    sync.RWMutex
	peers map[string]*peer

	singles    map[string]SingleHandler
	talkHs     map[string]TalkHandler
	defaultH   DefaultHandler
	nextTalkID uint64

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error
}

func NewNode(cfg NodeConfig) (*Node, error) {
	id, err := NewIdentity(cfg.Seed)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		ep:       cfg.Endpoint,
		id:       id,
		log:      cfg.Logger.With().Str("node", cfg.Name).Str("id", shortID(id.ID)).Logger(),
		name:     cfg.Name,
		protocol: cfg.Protocol,
		peers:    make(map[string]*peer),
		singles:  make(map[string]SingleHandler),
		talkHs:   make(map[string]TalkHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
	return n, nil
}

// ID returns this node's peer ID.
func (n *Node) ID() string { return n.id.ID }

// Name returns this node's display name.
func (n *Node) Name() string { return n.name }

// ListenAddr returns where this node accepts connections.
func (n *Node) ListenAddr() netx.Addr { return n.addr }

// HandleSingle registers a handler for discrete messages on topic.
// Registration must happen before Start.
func (n *Node) HandleSingle(topic string, h SingleHandler) {
	n.singles[topic] = h
}

// HandleTalk registers a handler for inbound talks on topic.
// Registration must happen before Start.
func (n *Node) HandleTalk(topic string, h TalkHandler) {
	n.talkHs[topic] = h
}

// HandleDefault registers the catch-all for unmatched discrete messages.
func (n *Node) HandleDefault(h DefaultHandler) {
	n.defaultH = h
}

// Start brings the node online on its endpoint.
func (n *Node) Start() error {
	n.addr = n.ep.Addr()
	n.log.Debug().Str("addr", string(n.addr)).Msg("listening")

	go n.acceptLoop()
	return nil
}

// Stop shuts down the node. Safe to call more than once.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.cancel()
		n.stopErr = n.ep.Close()

		n.mu.Lock()
		peers := make([]*peer, 0, len(n.peers))
		for _, p := range n.peers {
			peers = append(peers, p)
		}
		n.mu.Unlock()

		for _, p := range peers {
			n.removePeer(p.id)
		}
	})
	return n.stopErr
}

// PeerCount returns the number of established peer connections.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func (n *Node) acceptLoop() {
	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		conn, err := n.ep.Accept()
		if err != nil {
			n.log.Debug().Err(err).Msg("accept loop done")
			return
		}
		go func() {
			p, err := n.establishPeer(conn, true)
			if err != nil {
				n.log.Debug().Err(err).Msg("inbound session setup failed")
				_ = conn.Close()
				return
			}
			n.runPeerReadLoop(p)
		}()
	}
}

// Connect dials addr, runs the handshake synchronously, and returns the
// remote peer's ID.
func (n *Node) Connect(addr netx.Addr) (string, error) {
	conn, err := n.ep.Dial(addr)
	if err != nil {
		return "", err
	}
	p, err := n.establishPeer(conn, false)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	go n.runPeerReadLoop(p)
	return p.id, nil
}

func (n *Node) addPeer(p *peer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.ctx.Done():
		return false
	default:
	}
	if _, exists := n.peers[p.id]; exists {
		return false
	}
	n.peers[p.id] = p
	return true
}

func (n *Node) removePeer(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	if ok {
		delete(n.peers, id)
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	p.cancel()
	_ = p.conn.Close()
	p.closeTalks()
	n.log.Debug().Str("peer", shortID(id)).Msg("peer removed")
}

func (n *Node) lookupPeer(id string) (*peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}
