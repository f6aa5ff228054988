package harness

import (
	"fmt"

	"parcelnet/internal/p2p"
)

// TalkStyle selects the transmission discipline a scenario runs under.
type TalkStyle int

const (
	// SingleMessage sends each message as an independent discrete delivery.
	SingleMessage TalkStyle = iota
	// Conversation sends all messages in order on one stream.
	Conversation
)

func (ts TalkStyle) String() string {
	switch ts {
	case SingleMessage:
		return "single"
	case Conversation:
		return "conversation"
	default:
		return fmt.Sprintf("talkstyle(%d)", int(ts))
	}
}

// Message is one (header, body) pair a worker transmits.
type Message struct {
	Header []byte
	Body   []byte
}

// Deliver transmits msgs to a peer for one topic under the chosen style:
// N independent sends, or one talk carrying every message in order and then
// closed. The same worker logic runs unmodified under either style.
func Deliver(style TalkStyle, node *p2p.Node, to, topic string, msgs []Message) error {
	switch style {
	case SingleMessage:
		for _, m := range msgs {
			if err := node.Send(to, topic, m.Header, m.Body); err != nil {
				return err
			}
		}
		return nil

	case Conversation:
		talk, err := node.OpenTalk(to, topic)
		if err != nil {
			return err
		}
		defer func() { _ = talk.Close() }()
		for _, m := range msgs {
			if err := talk.Send(m.Header, m.Body); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown talk style %d", int(style))
	}
}

// Listener is a named receive registration the orchestrator applies to the
// server peer before it starts.
type Listener struct {
	Topic  string
	Single p2p.SingleHandler
	Talk   p2p.TalkHandler
}

// ListenerFor builds the receive side matching a style: a per-message handler
// for discrete deliveries, or a loop that drains one stream to end-of-stream,
// invoking handle once per frame.
func ListenerFor(style TalkStyle, topic string, handle func(header, body []byte)) Listener {
	switch style {
	case SingleMessage:
		return Listener{
			Topic: topic,
			Single: func(_ string, header, body []byte) {
				handle(header, body)
			},
		}

	case Conversation:
		return Listener{
			Topic: topic,
			Talk: func(_ string, talk *p2p.TalkReader) {
				for {
					header, body, ok := talk.Next()
					if !ok {
						return
					}
					handle(header, body)
				}
			},
		}

	default:
		panic(fmt.Sprintf("unknown talk style %d", int(style)))
	}
}

func (l Listener) apply(node *p2p.Node) {
	if l.Single != nil {
		node.HandleSingle(l.Topic, l.Single)
	}
	if l.Talk != nil {
		node.HandleTalk(l.Topic, l.Talk)
	}
}
