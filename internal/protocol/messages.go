// Package protocol defines the JSON frames exchanged with WebSocket clients
// and the envelope relayed between server processes.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/eldtechnologies/promptsync/internal/models"
)

// Client frame types with dedicated handling. Every other type is relayed.
const (
	TypeAuthenticate = "authenticate"
	TypeRoomInfo     = "request_room_info"
	TypeKick         = "kick_participant"
	TypeLeave        = "leave_room"
)

// Server frame types.
const (
	TypeAuthSuccess       = "auth_success"
	TypeAuthError         = "auth_error"
	TypeError             = "error"
	TypeRoomUpdate        = "room_update"
	TypeParticipantKicked = "participant_kicked"
	TypeKicked            = "kicked"
	TypeRoomClosed        = "room_closed"
	TypeRoomNameUpdated   = "room_name_updated"
)

// Keys stamped by the server on relayed payloads. Client values are
// overwritten.
const (
	KeyType     = "type"
	KeySenderID = "sender_id"
	KeyRoomID   = "room_id"
	KeyTargetID = "target_id"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownMode = errors.New("unknown mode")
)

var validate = validator.New()

// Payload is an application message as a key/value object.
type Payload map[string]any

// Type returns the payload's discriminator.
func (p Payload) Type() string {
	s, _ := p[KeyType].(string)
	return s
}

// ClientMessage is one decoded client frame. The concrete type is one of
// Authenticate, RoomInfoRequest, KickRequest, LeaveRequest or Relay.
type ClientMessage interface {
	Kind() string
}

// Authenticate must be the first frame on every connection.
type Authenticate struct {
	RoomID string `json:"room_id" validate:"required,max=64"`
	Secret string `json:"secret" validate:"required,max=128"`
	Mode   string `json:"mode" validate:"required"`
}

// RoomInfoRequest asks for a snapshot addressed to the sender only.
type RoomInfoRequest struct{}

// KickRequest removes another participant. Controller only.
type KickRequest struct {
	TargetID string `json:"target_participant_id" validate:"required"`
}

// LeaveRequest ends the sender's session. A controller leaving closes the
// room for everyone.
type LeaveRequest struct{}

// Relay is any application payload. A non-empty TargetID routes it to a
// single participant; otherwise it goes to everyone else in the room.
type Relay struct {
	TargetID string
	Payload  Payload
}

func (Authenticate) Kind() string    { return TypeAuthenticate }
func (RoomInfoRequest) Kind() string { return TypeRoomInfo }
func (KickRequest) Kind() string     { return TypeKick }
func (LeaveRequest) Kind() string    { return TypeLeave }
func (r Relay) Kind() string         { return r.Payload.Type() }

// Parse decodes and validates one client frame.
func Parse(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	msgType := payload.Type()
	if msgType == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch msgType {
	case TypeAuthenticate:
		var m Authenticate
		if err := decodeStrict(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeKick:
		var m KickRequest
		if err := decodeStrict(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeRoomInfo:
		return RoomInfoRequest{}, nil
	case TypeLeave:
		return LeaveRequest{}, nil
	}

	target, _ := payload[KeyTargetID].(string)
	return Relay{TargetID: target, Payload: payload}, nil
}

func decodeStrict(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// ParseMode maps a client-declared mode onto a role. "teleprompter" is
// accepted as an alias for display.
func ParseMode(mode string) (models.Role, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(models.RoleController):
		return models.RoleController, nil
	case string(models.RoleDisplay), "teleprompter":
		return models.RoleDisplay, nil
	}
	return models.RoleUnset, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// Stamp records the server-known sender and room on the payload.
func (p Payload) Stamp(senderID, roomID string) Payload {
	p[KeySenderID] = senderID
	p[KeyRoomID] = roomID
	return p
}
