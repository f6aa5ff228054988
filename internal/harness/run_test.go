package harness

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"parcelnet/internal/netx"
	"parcelnet/internal/p2p"
	"parcelnet/internal/proto"
)

const testTopic = "parcels"

func makeParcels(n int) []Parcel {
	parcels := make([]Parcel, n)
	for i := range parcels {
		parcels[i] = Parcel{ID: int64(i + 1), ShouldProcess: i%2 == 0}
	}
	return parcels
}

func parcelMessages(parcels []Parcel) []Message {
	msgs := make([]Message, len(parcels))
	for i, p := range parcels {
		msgs[i] = Message{Body: proto.EncodeParcel(p)}
	}
	return msgs
}

// markingListener removes each arriving parcel from the expected set.
func markingListener(state *State, style TalkStyle) Listener {
	return ListenerFor(style, testTopic, func(_, body []byte) {
		p, err := proto.DecodeParcel(body)
		if err != nil {
			state.RecordFailure(fmt.Sprintf("bad parcel body: %v", err))
			return
		}
		state.MarkDelivered(p)
	})
}

// deliveryScenario is the canonical one-worker, one-listener run.
func deliveryScenario(state *State, style TalkStyle, parcels []Parcel) Scenario {
	state.Expect(parcels...)
	return Scenario{
		State: state,
		Workers: []Worker{{
			Name: "sender",
			Run: func(remote string, client *p2p.Node) error {
				return Deliver(style, client, remote, testTopic, parcelMessages(parcels))
			},
		}},
		Listeners:   []Listener{markingListener(state, style)},
		SettleDelay: time.Millisecond,
	}
}

func TestRunSingleMessageDelivery(t *testing.T) {
	state := NewState()
	verdict, err := Run(deliveryScenario(state, SingleMessage, makeParcels(10)))
	require.NoError(t, err)

	require.True(t, verdict.Passed(), "verdict: %s", verdict)
	require.Empty(t, verdict.Failures)
	require.Empty(t, verdict.Missing)
	require.Equal(t, 0, state.Snapshot().ActiveWorkers)
}

func TestRunConversationDelivery(t *testing.T) {
	state := NewState()
	verdict, err := Run(deliveryScenario(state, Conversation, makeParcels(10)))
	require.NoError(t, err)

	require.True(t, verdict.Passed(), "verdict: %s", verdict)
	require.Equal(t, 0, state.Snapshot().ActiveWorkers)
}

// The same parcel set passes under either transmission discipline.
func TestRunStyleEquivalenceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ids := rapid.SliceOfNDistinct(rapid.Int64(), 1, 15, rapid.ID[int64]).Draw(rt, "ids")
		parcels := make([]Parcel, len(ids))
		for i, id := range ids {
			parcels[i] = Parcel{ID: id, ShouldProcess: rapid.Bool().Draw(rt, "flag")}
		}

		for _, style := range []TalkStyle{SingleMessage, Conversation} {
			verdict, err := Run(deliveryScenario(NewState(), style, parcels))
			require.NoError(rt, err)
			require.True(rt, verdict.Passed(), "style %s: %s", style, verdict)
		}
	})
}

func TestRunWorkerFailureMidSend(t *testing.T) {
	parcels := makeParcels(10)
	state := NewState()
	state.Expect(parcels...)

	verdict, err := Run(Scenario{
		State: state,
		Workers: []Worker{{
			Name: "flaky-sender",
			Run: func(remote string, client *p2p.Node) error {
				for i, m := range parcelMessages(parcels) {
					if i == 4 {
						return errors.New("gave up mid-send")
					}
					if err := client.Send(remote, testTopic, m.Header, m.Body); err != nil {
						return err
					}
				}
				return nil
			},
		}},
		Listeners:    []Listener{markingListener(state, SingleMessage)},
		DeliveryWait: 300 * time.Millisecond,
		SettleDelay:  time.Millisecond,
	})
	require.NoError(t, err, "a failing worker must not abort the run")

	require.False(t, verdict.Passed())
	require.Len(t, verdict.Failures, 1)
	require.Contains(t, verdict.Failures[0], "Error thrown in flaky-sender")
	require.Contains(t, verdict.Failures[0], "gave up mid-send")
	require.ElementsMatch(t, parcels[4:], verdict.Missing, "everything never sent stays expected")
	require.Equal(t, 0, state.Snapshot().ActiveWorkers)
}

func TestRunNoListenerTimesOut(t *testing.T) {
	parcels := makeParcels(5)
	state := NewState()
	state.Expect(parcels...)

	start := time.Now()
	verdict, err := Run(Scenario{
		State: state,
		Workers: []Worker{{
			Name: "sender",
			Run: func(remote string, client *p2p.Node) error {
				return Deliver(SingleMessage, client, remote, testTopic, parcelMessages(parcels))
			},
		}},
		// nobody listening on the topic and no catch-all
		DeliveryWait: 150 * time.Millisecond,
		SettleDelay:  time.Millisecond,
	})
	require.NoError(t, err, "an undeliverable scenario still tears down cleanly")
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	require.False(t, verdict.Passed())
	require.Empty(t, verdict.Failures)
	require.ElementsMatch(t, parcels, verdict.Missing)
}

func TestRunCatchAllReceivesUnmatched(t *testing.T) {
	parcels := makeParcels(5)
	state := NewState()
	state.Expect(parcels...)

	verdict, err := Run(Scenario{
		State: state,
		Workers: []Worker{{
			Name: "sender",
			Run: func(remote string, client *p2p.Node) error {
				return Deliver(SingleMessage, client, remote, "unregistered", parcelMessages(parcels))
			},
		}},
		CatchAll: func(_, topic string, _, body []byte) {
			p, err := proto.DecodeParcel(body)
			if err != nil {
				state.RecordFailure(fmt.Sprintf("bad parcel body on %s: %v", topic, err))
				return
			}
			state.MarkDelivered(p)
		},
		SettleDelay: time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, verdict.Passed(), "verdict: %s", verdict)
}

func TestRunMultipleWorkers(t *testing.T) {
	parcels := makeParcels(30)
	state := NewState()
	state.Expect(parcels...)

	var workers []Worker
	for i := 0; i < 3; i++ {
		chunk := parcels[i*10 : (i+1)*10]
		workers = append(workers, Worker{
			Name: fmt.Sprintf("sender-%d", i),
			Run: func(remote string, client *p2p.Node) error {
				return Deliver(SingleMessage, client, remote, testTopic, parcelMessages(chunk))
			},
		})
	}

	verdict, err := Run(Scenario{
		State:       state,
		Workers:     workers,
		Listeners:   []Listener{markingListener(state, SingleMessage)},
		SettleDelay: time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, verdict.Passed(), "verdict: %s", verdict)
	require.Equal(t, 0, state.Snapshot().ActiveWorkers)
}

// Two consecutive runs over real TCP confirm teardown releases the
// transport's resources.
func TestRunBackToBackOverTCP(t *testing.T) {
	for i := 0; i < 2; i++ {
		state := NewState()
		sc := deliveryScenario(state, Conversation, makeParcels(8))
		sc.Transport = netx.NewTCPTransport("127.0.0.1", 0)
		sc.SettleDelay = 10 * time.Millisecond

		verdict, err := Run(sc)
		require.NoError(t, err, "run %d", i)
		require.True(t, verdict.Passed(), "run %d: %s", i, verdict)
	}
}
