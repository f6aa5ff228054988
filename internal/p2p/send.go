package p2p

import (
	"fmt"

	"parcelnet/internal/proto"
)

func (p *peer) writeLoop(n *Node) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case env, ok := <-p.sendCh:
			if !ok {
				return
			}
			if err := p.writer.Encode(env); err != nil {
				n.log.Debug().Str("peer", shortID(p.id)).Err(err).Msg("write failed")
				go n.removePeer(p.id)
				return
			}
		}
	}
}

// enqueue hands env to the peer's write loop. It blocks when the buffer is
// full rather than dropping: a delivery fixture must not lose frames on its
// own send path.
func (n *Node) enqueue(p *peer, env proto.Envelope) error {
	select {
	case p.sendCh <- env:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("peer %s gone", shortID(p.id))
	}
}

// Send transmits one discrete message for topic to a connected peer.
func (n *Node) Send(to, topic string, header, body []byte) error {
	p, ok := n.lookupPeer(to)
	if !ok {
		return fmt.Errorf("unknown peer %q", shortID(to))
	}
	return n.enqueue(p, proto.Envelope{
		Type:   proto.MsgSingle,
		FromID: n.id.ID,
		Payload: proto.MustMarshal(proto.Single{
			Topic:  topic,
			Header: header,
			Body:   body,
		}),
	})
}
