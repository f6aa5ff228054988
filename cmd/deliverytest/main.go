package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"

	"parcelnet/internal/harness"
	"parcelnet/internal/netx"
	"parcelnet/internal/p2p"
	"parcelnet/internal/proto"
	"parcelnet/internal/runlog"
)

func main() {
	styleStr := flag.String("style", "single", "talk style: single or conversation")
	count := flag.Int("n", 10, "number of parcels to send")
	host := flag.String("host", "127.0.0.1", "host to bind the TCP transport to")
	port := flag.Int("port", 0, "fixed base TCP port (0 = OS-assigned)")
	seed := flag.Int64("seed", 0, "seed for parcels and peer identities (0 = random)")
	journal := flag.String("journal", "", "path to the run journal db (empty = no journal)")
	debug := flag.Bool("debug", false, "verbose peer logging")
	flag.Parse()

	var style harness.TalkStyle
	switch *styleStr {
	case "single":
		style = harness.SingleMessage
	case "conversation", "talk":
		style = harness.Conversation
	default:
		log.Fatalf("unknown style %q (want single or conversation)", *styleStr)
	}

	logger := zerolog.Nop()
	if *debug {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	parcels := randomParcels(rand.New(rand.NewSource(rngSeed)), *count)

	state := harness.NewState()
	state.Expect(parcels...)

	msgs := make([]harness.Message, len(parcels))
	for i, p := range parcels {
		msgs[i] = harness.Message{Body: proto.EncodeParcel(p)}
	}

	const topic = "parcels"
	verdict, err := harness.Run(harness.Scenario{
		State: state,
		Workers: []harness.Worker{{
			Name: "sender",
			Run: func(remote string, client *p2p.Node) error {
				return harness.Deliver(style, client, remote, topic, msgs)
			},
		}},
		Listeners: []harness.Listener{
			harness.ListenerFor(style, topic, func(_, body []byte) {
				p, err := proto.DecodeParcel(body)
				if err != nil {
					state.RecordFailure(fmt.Sprintf("bad parcel body: %v", err))
					return
				}
				state.MarkDelivered(p)
			}),
		},
		Transport: netx.NewTCPTransport(*host, *port),
		Seed:      *seed,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	fmt.Printf("style=%s parcels=%d seed=%d: %s\n", style, len(parcels), rngSeed, verdict)

	if *journal != "" {
		if err := appendJournal(*journal, style, verdict); err != nil {
			log.Fatalf("journal: %v", err)
		}
	}

	if !verdict.Passed() {
		os.Exit(1)
	}
}

// randomParcels draws count parcels with distinct IDs from a wide range.
func randomParcels(rng *rand.Rand, count int) []harness.Parcel {
	seen := make(map[int64]bool, count)
	parcels := make([]harness.Parcel, 0, count)
	for len(parcels) < count {
		id := rng.Int63()
		if seen[id] {
			continue
		}
		seen[id] = true
		parcels = append(parcels, harness.Parcel{ID: id, ShouldProcess: rng.Intn(2) == 0})
	}
	return parcels
}

func appendJournal(path string, style harness.TalkStyle, v harness.Verdict) error {
	store, err := runlog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Append(runlog.Record{
		Style:    style.String(),
		Passed:   v.Passed(),
		Failures: v.Failures,
		Missing:  len(v.Missing),
	})
}
