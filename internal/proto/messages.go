package proto

import "encoding/json"

type MessageType string

const (
	MsgHello     MessageType = "hello"
	MsgSingle    MessageType = "single"
	MsgTalkOpen  MessageType = "talk_open"
	MsgTalkData  MessageType = "talk_data"
	MsgTalkClose MessageType = "talk_close"
)

type Envelope struct {
	Type    MessageType     `json:"type"`
	FromID  string          `json:"from_id"`
	Payload json.RawMessage `json:"payload"`
}

// Hello is exchanged on connection setup.
type Hello struct {
	Name     string `json:"name"`
	Listen   string `json:"listen"`
	Protocol string `json:"protocol"`
}

// Single is one self-contained message for a topic.
type Single struct {
	Topic  string          `json:"topic"`
	Header json.RawMessage `json:"header,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// TalkOpen starts an ordered multi-message stream for a topic.
// Every frame of the talk travels on the same peer connection, so frames
// arrive in write order.
type TalkOpen struct {
	Talk  string `json:"talk"`
	Topic string `json:"topic"`
}

// TalkData is one frame of an open talk.
type TalkData struct {
	Talk   string          `json:"talk"`
	Header json.RawMessage `json:"header,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// TalkClose ends a talk; the receiving read loop sees end-of-stream.
type TalkClose struct {
	Talk string `json:"talk"`
}

// NoiseIdentityPayload rides inside the Noise handshake so each side learns
// the other's display name before any envelope flows.
type NoiseIdentityPayload struct {
	Name string `json:"name"`
}

// Parcel is the test payload unit the delivery harness exchanges.
// It is a plain value: comparable, usable as a map key.
type Parcel struct {
	ID            int64 `json:"id"`
	ShouldProcess bool  `json:"should_process"`
}
