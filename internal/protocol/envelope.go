package protocol

import (
	"encoding/json"
	"fmt"
)

// EnvelopeKind says how the receiving process delivers an envelope.
type EnvelopeKind string

const (
	// KindBroadcast goes to every local connection of the room except the sender.
	KindBroadcast EnvelopeKind = "broadcast"
	// KindDirect goes to TargetID if it is connected locally in RoomID.
	KindDirect EnvelopeKind = "direct"
	// KindKick closes TargetID's connection if it is local to RoomID.
	KindKick EnvelopeKind = "kick"
	// KindCloseRoom delivers the payload and closes every local connection of the room.
	KindCloseRoom EnvelopeKind = "close_room"
)

// Envelope carries one message between server processes. Relayed is the
// loop-prevention marker: publishers set it, subscribers clear it before
// local delivery, and a cleared envelope is never published again.
type Envelope struct {
	ID       string          `json:"id"`
	Origin   string          `json:"origin"`
	RoomID   string          `json:"room_id"`
	Kind     EnvelopeKind    `json:"kind"`
	SenderID string          `json:"sender_id,omitempty"`
	TargetID string          `json:"target_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Relayed  bool            `json:"_relayed"`
}

// DecodeEnvelope parses an envelope received from the broker.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.RoomID == "" || env.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: envelope missing room or kind", ErrMalformed)
	}
	return env, nil
}
