package protocol

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"github.com/eldtechnologies/promptsync/internal/models"
)

// AuthSuccess answers a successful authenticate frame.
type AuthSuccess struct {
	Type          string `json:"type"`
	RoomID        string `json:"room_id"`
	RoomName      string `json:"room_name"`
	ParticipantID string `json:"participant_id"`
	Mode          string `json:"mode"`
	IsController  bool   `json:"is_controller"`
}

// Notice is a short server-originated message (errors, kicks, closures).
type Notice struct {
	Type          string `json:"type"`
	RoomID        string `json:"room_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// RoomNameUpdated is broadcast after a rename.
type RoomNameUpdated struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

// ParticipantView is one entry of a room snapshot.
type ParticipantView struct {
	ParticipantID string    `json:"participant_id"`
	Mode          string    `json:"mode"`
	IsController  bool      `json:"is_controller"`
	JoinedAt      time.Time `json:"joined_at"`
	LastSeen      time.Time `json:"last_seen"`
}

// RoomUpdate is the point-in-time membership snapshot sent on change.
type RoomUpdate struct {
	Type             string            `json:"type"`
	RoomID           string            `json:"room_id"`
	RoomName         string            `json:"room_name"`
	ParticipantCount int               `json:"participant_count"`
	ControllerID     string            `json:"controller_id,omitempty"`
	Participants     []ParticipantView `json:"participants"`
}

// Snapshot builds a RoomUpdate from the stored room.
func Snapshot(room *models.Room) RoomUpdate {
	return RoomUpdate{
		Type:             TypeRoomUpdate,
		RoomID:           room.ID,
		RoomName:         room.Name,
		ParticipantCount: len(room.Participants),
		ControllerID:     room.ControllerID,
		Participants: lo.Map(room.Participants, func(p models.Participant, _ int) ParticipantView {
			return ParticipantView{
				ParticipantID: p.ID,
				Mode:          string(p.Role),
				IsController:  p.ID == room.ControllerID,
				JoinedAt:      p.JoinedAt,
				LastSeen:      p.LastSeen,
			}
		}),
	}
}

// NewNotice builds a Notice of the given type.
func NewNotice(msgType, roomID, message string) Notice {
	return Notice{Type: msgType, RoomID: roomID, Message: message}
}

// Encode marshals a frame. Frames are plain structs and maps, so failure
// means a programming error and yields a generic error frame.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(Notice{Type: TypeError, Message: "internal encoding error"})
	}
	return data
}
