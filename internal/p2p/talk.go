package p2p

import (
	"fmt"
	"sync"
	"sync/atomic"

	"parcelnet/internal/proto"
)

// Talk is the sending side of one ordered multi-message stream. All frames
// travel through the same peer write loop, so they arrive in send order.
type Talk struct {
	node *Node
	to   string
	id   string

	closeOnce sync.Once
	closeErr  error
}

// OpenTalk starts a talk for topic with a connected peer.
func (n *Node) OpenTalk(to, topic string) (*Talk, error) {
	p, ok := n.lookupPeer(to)
	if !ok {
		return nil, fmt.Errorf("unknown peer %q", shortID(to))
	}

	talkID := fmt.Sprintf("%s-%d", shortID(n.id.ID), atomic.AddUint64(&n.nextTalkID, 1))
	err := n.enqueue(p, proto.Envelope{
		Type:    proto.MsgTalkOpen,
		FromID:  n.id.ID,
		Payload: proto.MustMarshal(proto.TalkOpen{Talk: talkID, Topic: topic}),
	})
	if err != nil {
		return nil, err
	}
	return &Talk{node: n, to: to, id: talkID}, nil
}

// Send writes the next frame of the talk.
func (t *Talk) Send(header, body []byte) error {
	p, ok := t.node.lookupPeer(t.to)
	if !ok {
		return fmt.Errorf("unknown peer %q", shortID(t.to))
	}
	return t.node.enqueue(p, proto.Envelope{
		Type:   proto.MsgTalkData,
		FromID: t.node.id.ID,
		Payload: proto.MustMarshal(proto.TalkData{
			Talk:   t.id,
			Header: header,
			Body:   body,
		}),
	})
}

// Close ends the talk; the receiver's read loop sees end-of-stream.
// Safe to call more than once.
func (t *Talk) Close() error {
	t.closeOnce.Do(func() {
		p, ok := t.node.lookupPeer(t.to)
		if !ok {
			t.closeErr = fmt.Errorf("unknown peer %q", shortID(t.to))
			return
		}
		t.closeErr = t.node.enqueue(p, proto.Envelope{
			Type:    proto.MsgTalkClose,
			FromID:  t.node.id.ID,
			Payload: proto.MustMarshal(proto.TalkClose{Talk: t.id}),
		})
	})
	return t.closeErr
}

type talkFrame struct {
	header []byte
	body   []byte
}

// TalkReader is the receiving side of one inbound talk.
type TalkReader struct {
	topic   string
	frames  chan talkFrame
	done    chan struct{}
	endOnce sync.Once
}

func newTalkReader(topic string) *TalkReader {
	return &TalkReader{
		topic:  topic,
		frames: make(chan talkFrame, 128),
		done:   make(chan struct{}),
	}
}

// Topic reports the topic the talk was opened for.
func (r *TalkReader) Topic() string { return r.topic }

// Next returns the next frame in arrival order. ok is false once the sender
// closed the talk (or the connection dropped) and all buffered frames were
// consumed.
func (r *TalkReader) Next() (header, body []byte, ok bool) {
	select {
	case f := <-r.frames:
		return f.header, f.body, true
	case <-r.done:
		// close raced ahead of buffered frames; drain them first
		select {
		case f := <-r.frames:
			return f.header, f.body, true
		default:
			return nil, nil, false
		}
	}
}

func (r *TalkReader) push(f talkFrame) {
	select {
	case r.frames <- f:
	case <-r.done:
	}
}

func (r *TalkReader) end() {
	r.endOnce.Do(func() { close(r.done) })
}

func (p *peer) closeTalks() {
	p.mu.Lock()
	readers := make([]*TalkReader, 0, len(p.talks))
	for _, r := range p.talks {
		if r != nil {
			readers = append(readers, r)
		}
	}
	p.talks = make(map[string]*TalkReader)
	p.mu.Unlock()

	for _, r := range readers {
		r.end()
	}
}
