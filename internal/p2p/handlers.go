package p2p

import (
	"encoding/json"

	"parcelnet/internal/proto"
)

func (n *Node) handleEnvelope(p *peer, env proto.Envelope) {
	switch env.Type {
	case proto.MsgSingle:
		n.handleSingle(p, env)
	case proto.MsgTalkOpen:
		n.handleTalkOpen(p, env)
	case proto.MsgTalkData:
		n.handleTalkData(p, env)
	case proto.MsgTalkClose:
		n.handleTalkClose(p, env)
	default:
		n.log.Debug().Str("type", string(env.Type)).Msg("unexpected envelope")
	}
}

func (n *Node) handleSingle(p *peer, env proto.Envelope) {
	var msg proto.Single
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		n.log.Debug().Str("peer", shortID(p.id)).Err(err).Msg("bad single")
		return
	}

	if h, ok := n.singles[msg.Topic]; ok {
		h(p.id, msg.Header, msg.Body)
		return
	}
	if n.defaultH != nil {
		n.defaultH(p.id, msg.Topic, msg.Header, msg.Body)
		return
	}
	n.log.Debug().Str("topic", msg.Topic).Msg("single with no handler")
}

func (n *Node) handleTalkOpen(p *peer, env proto.Envelope) {
	var open proto.TalkOpen
	if err := json.Unmarshal(env.Payload, &open); err != nil {
		n.log.Debug().Str("peer", shortID(p.id)).Err(err).Msg("bad talk_open")
		return
	}

	h, ok := n.talkHs[open.Topic]
	if !ok {
		// no handler: remember the talk with a nil reader so its frames are
		// silently drained instead of wedging the connection
		p.mu.Lock()
		p.talks[open.Talk] = nil
		p.mu.Unlock()
		n.log.Debug().Str("topic", open.Topic).Msg("talk with no handler")
		return
	}

	r := newTalkReader(open.Topic)
	p.mu.Lock()
	p.talks[open.Talk] = r
	p.mu.Unlock()

	go h(p.id, r)
}

func (n *Node) handleTalkData(p *peer, env proto.Envelope) {
	var data proto.TalkData
	if err := json.Unmarshal(env.Payload, &data); err != nil {
		n.log.Debug().Str("peer", shortID(p.id)).Err(err).Msg("bad talk_data")
		return
	}

	p.mu.Lock()
	r, known := p.talks[data.Talk]
	p.mu.Unlock()

	if !known {
		n.log.Debug().Str("talk", data.Talk).Msg("frame for unknown talk")
		return
	}
	if r != nil {
		r.push(talkFrame{header: data.Header, body: data.Body})
	}
}

func (n *Node) handleTalkClose(p *peer, env proto.Envelope) {
	var cl proto.TalkClose
	if err := json.Unmarshal(env.Payload, &cl); err != nil {
		n.log.Debug().Str("peer", shortID(p.id)).Err(err).Msg("bad talk_close")
		return
	}

	p.mu.Lock()
	r, known := p.talks[cl.Talk]
	delete(p.talks, cl.Talk)
	p.mu.Unlock()

	if known && r != nil {
		r.end()
	}
}
