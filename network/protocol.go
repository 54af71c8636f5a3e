package network

import (
	"encoding/json"
	"fmt"
	"time"

	"avatar_space/logic"
)

// Client -> relay.
const (
	MsgJoin        = "join"
	MsgMove        = "move"
	MsgChat        = "chat"
	MsgStartShare  = "start-share"
	MsgStopShare   = "stop-share"
	MsgSignal      = "signal"
	MsgRequestView = "request-view"
)

// Relay -> client. MsgChat and MsgSignal are used in both directions.
const (
	MsgInit              = "init"
	MsgParticipantJoined = "participant-joined"
	MsgParticipantLeft   = "participant-left"
	MsgMoved             = "moved"
	MsgShareStarted      = "share-started"
	MsgShareEnded        = "share-ended"
	MsgViewRequested     = "view-requested"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Name string `json:"name"`
}

// MoveState is a partial avatar update: nil fields were not sent.
type MoveState struct {
	Position *logic.Vec3 `json:"position,omitempty"`
	Facing   *float64    `json:"facing,omitempty"`
	Anim     *logic.Anim `json:"anim,omitempty"`
}

type MovedPayload struct {
	ID string `json:"id"`
	MoveState
}

type Participant struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Position logic.Vec3 `json:"position"`
	Facing   float64    `json:"facing"`
	Anim     logic.Anim `json:"anim"`
}

// Apply merges the provided fields of m into p.
func (p *Participant) Apply(m MoveState) {
	if m.Position != nil {
		p.Position = *m.Position
	}
	if m.Facing != nil {
		p.Facing = logic.WrapAngle(*m.Facing)
	}
	if m.Anim != nil {
		p.Anim = *m.Anim
	}
}

type InitPayload struct {
	Self         string        `json:"self"`
	Participants []Participant `json:"participants"`
	Broadcaster  string        `json:"broadcaster,omitempty"`
	Chat         []ChatMessage `json:"chat,omitempty"`
}

type LeftPayload struct {
	ID string `json:"id"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

type SharePayload struct {
	Broadcaster string `json:"broadcaster,omitempty"`
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Signal carries one SDP or ICE message. To is set by the sender, From by
// the relay.
type Signal struct {
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Kind    SignalKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type ViewRequest struct {
	Target string `json:"target,omitempty"`
	From   string `json:"from,omitempty"`
}

func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: empty message type")
	}
	var raw json.RawMessage
	if payload != nil {
		pb, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		raw = pb
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decode: empty frame")
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}
