package harness

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"parcelnet/internal/netx"
	"parcelnet/internal/p2p"
)

const defaultProtocol = "parcelnet/0.1.0"

// Worker is one sending-side task, parameterized by the receiving peer's
// identity. Its error (or panic) is captured by RunTask, never propagated.
type Worker struct {
	Name string
	Run  func(remote string, client *p2p.Node) error
}

// Scenario describes one delivery run: the workers the client peer executes,
// the listeners the server peer answers with, and the shared state both
// sides do their bookkeeping in.
type Scenario struct {
	State     *State
	Workers   []Worker
	Listeners []Listener
	// CatchAll, when set, receives discrete messages with no matching topic
	// listener.
	CatchAll p2p.DefaultHandler

	// Transport to run over; nil means a fresh in-memory transport. The run
	// owns it either way and closes it on teardown.
	Transport netx.Transport
	// DeliveryWait bounds the post-worker wait for outstanding parcels.
	// Zero means one second.
	DeliveryWait time.Duration
	// SettleDelay is the pause after teardown to let the transport release
	// its resources before a following run. Zero means 50ms; it is a timing
	// workaround, not a correctness knob.
	SettleDelay time.Duration

	Seed   int64
	Logger zerolog.Logger
}

// Run drives one scenario end to end and classifies the outcome.
//
// Worker and listener errors are soft: they are captured into the state and
// only surface in the verdict. Errors from the transport, the peers' setup,
// or teardown are environment failures and come back as the error instead.
func Run(sc Scenario) (Verdict, error) {
	state := sc.State
	if state == nil {
		state = NewState()
	}
	transport := sc.Transport
	if transport == nil {
		transport = netx.NewMemTransport()
	}
	deliveryWait := sc.DeliveryWait
	if deliveryWait == 0 {
		deliveryWait = time.Second
	}
	settle := sc.SettleDelay
	if settle == 0 {
		settle = 50 * time.Millisecond
	}

	serverSeed, clientSeed := sc.Seed, sc.Seed
	if sc.Seed != 0 {
		clientSeed = sc.Seed + 1
	}

	serverEP, err := transport.NewEndpoint()
	if err != nil {
		return Verdict{}, fmt.Errorf("server endpoint: %w", err)
	}
	clientEP, err := transport.NewEndpoint()
	if err != nil {
		return Verdict{}, fmt.Errorf("client endpoint: %w", err)
	}

	// The server comes up first: its identity is needed to run the client's
	// workers, so startup is two-phase rather than mutually recursive.
	server, err := p2p.NewNode(p2p.NodeConfig{
		Name:     "server",
		Endpoint: serverEP,
		Protocol: defaultProtocol,
		Seed:     serverSeed,
		Logger:   sc.Logger,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("server node: %w", err)
	}
	for _, l := range sc.Listeners {
		l.apply(server)
	}
	if sc.CatchAll != nil {
		server.HandleDefault(sc.CatchAll)
	}
	if err := server.Start(); err != nil {
		return Verdict{}, fmt.Errorf("start server: %w", err)
	}

	client, err := p2p.NewNode(p2p.NodeConfig{
		Name:     "client",
		Endpoint: clientEP,
		Protocol: defaultProtocol,
		Seed:     clientSeed,
		Logger:   sc.Logger,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("client node: %w", err)
	}
	if err := client.Start(); err != nil {
		return Verdict{}, fmt.Errorf("start client: %w", err)
	}

	remoteID, err := client.Connect(server.ListenAddr())
	if err != nil {
		return Verdict{}, fmt.Errorf("connect client to server: %w", err)
	}

	// Register every worker before it can finish, so the drain below cannot
	// observe a spuriously zero count.
	state.AddWorkers(len(sc.Workers))
	for _, w := range sc.Workers {
		go RunTask(state, w.Name, func() error {
			return w.Run(remoteID, client)
		})
	}

	// Senders work through finite message lists, so this wait has no bound.
	state.Wait(func(d Data) bool { return d.ActiveWorkers == 0 })

	// Delivery may lag the senders; give it a bounded window. Whatever is
	// still outstanding afterwards shows up in the verdict.
	state.WaitTimeout(deliveryWait, func(d Data) bool { return len(d.Expected) == 0 })

	var g errgroup.Group
	g.Go(client.Stop)
	g.Go(server.Stop)
	teardownErr := multierr.Append(g.Wait(), transport.Close())

	time.Sleep(settle)

	if teardownErr != nil {
		return Verdict{}, fmt.Errorf("teardown: %w", teardownErr)
	}
	return state.Verdict(), nil
}
