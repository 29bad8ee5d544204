package promptsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrAuthRejected is returned by Connect when the server refuses the
// credentials or the mode.
var ErrAuthRejected = errors.New("authentication rejected")

// Message is one JSON frame.
type Message map[string]any

// Type returns the frame's type.
func (m Message) Type() string {
	s, _ := m["type"].(string)
	return s
}

// Session is an authenticated WebSocket connection to a room.
type Session struct {
	ParticipantID string
	RoomID        string
	RoomName      string
	Mode          string
	IsController  bool

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Connect opens a WebSocket and authenticates into the saved room as
// "controller" or "display".
func (c *Client) Connect(ctx context.Context, mode string) (*Session, error) {
	if c.RoomID == "" || c.RoomSecret == "" {
		return nil, ErrNoRoom
	}

	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/api/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	s := &Session{conn: conn}
	if err := s.write(Message{
		"type":    "authenticate",
		"room_id": c.RoomID,
		"secret":  c.RoomSecret,
		"mode":    mode,
	}); err != nil {
		conn.Close()
		return nil, err
	}

	for {
		msg, err := s.Receive()
		if err != nil {
			conn.Close()
			return nil, err
		}
		switch msg.Type() {
		case "auth_success":
			s.ParticipantID, _ = msg["participant_id"].(string)
			s.RoomID, _ = msg["room_id"].(string)
			s.RoomName, _ = msg["room_name"].(string)
			s.Mode, _ = msg["mode"].(string)
			s.IsController, _ = msg["is_controller"].(bool)
			return s, nil
		case "auth_error":
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrAuthRejected, msg["message"])
		}
	}
}

func (s *Session) write(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Send relays msg to everyone else in the room. msg must carry a type.
func (s *Session) Send(msg Message) error {
	if msg.Type() == "" {
		return errors.New("message type is required")
	}
	return s.write(msg)
}

// SendTo relays msg to a single participant.
func (s *Session) SendTo(participantID string, msg Message) error {
	out := make(Message, len(msg)+1)
	for k, v := range msg {
		out[k] = v
	}
	out["target_id"] = participantID
	return s.Send(out)
}

// RequestRoomInfo asks for a room_update addressed to this session only.
func (s *Session) RequestRoomInfo() error {
	return s.write(Message{"type": "request_room_info"})
}

// Kick removes another participant. Controller only.
func (s *Session) Kick(participantID string) error {
	return s.write(Message{"type": "kick_participant", "target_participant_id": participantID})
}

// Leave ends the session. A controller leaving closes the room.
func (s *Session) Leave() error {
	return s.write(Message{"type": "leave_room"})
}

// Receive blocks for the next frame.
func (s *Session) Receive() (Message, error) {
	var msg Message
	if err := s.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Close closes the connection without leaving first.
func (s *Session) Close() error {
	return s.conn.Close()
}
