package p2p

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"parcelnet/internal/netx"
)

type nodeTestOpt func(*NodeConfig)

// withSeed fixes the node's identity seed.
func withSeed(seed int64) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.Seed = seed }
}

// newTestNode spins up a node on its own endpoint of tr and auto-stops it.
// setup runs between NewNode and Start so handler registration lands before
// any connection is accepted.
func newTestNode(t *testing.T, tr netx.Transport, name string, setup func(*Node), opts ...nodeTestOpt) *Node {
	t.Helper()

	ep, err := tr.NewEndpoint()
	require.NoError(t, err)

	cfg := NodeConfig{
		Name:     name,
		Endpoint: ep,
		Protocol: "test/0",
		Logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	n, err := NewNode(cfg)
	require.NoError(t, err, "NewNode(%s)", name)
	if setup != nil {
		setup(n)
	}
	require.NoError(t, n.Start(), "Start(%s)", name)

	t.Cleanup(func() { _ = n.Stop() })
	return n
}

// newTestPair returns a connected (client, server) pair over an in-memory
// transport. serverSetup registers the server's handlers before it starts.
func newTestPair(t *testing.T, serverSetup func(*Node)) (client, server *Node) {
	t.Helper()

	tr := netx.NewMemTransport()
	t.Cleanup(func() { _ = tr.Close() })

	server = newTestNode(t, tr, "server", serverSetup)
	client = newTestNode(t, tr, "client", nil)

	remoteID, err := client.Connect(server.ListenAddr())
	require.NoError(t, err)
	require.Equal(t, server.ID(), remoteID)

	return client, server
}
