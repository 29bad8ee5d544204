package models

import (
	"time"
)

// Role identifies what a participant is allowed to do inside a room.
type Role string

const (
	RoleUnset      Role = ""
	RoleController Role = "controller"
	RoleDisplay    Role = "display"
)

// Valid reports whether r can be assigned to a participant.
func (r Role) Valid() bool {
	return r == RoleController || r == RoleDisplay
}

// Participant is the durable record of a connected identity inside a room.
type Participant struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// Room is a shared session. Participants are kept in join order.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	SecretHash   string        `json:"secret_hash"`
	ControllerID string        `json:"controller_id,omitempty"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
	TTL          time.Duration `json:"ttl"`
}

// Participant returns the record for id, or nil.
func (r *Room) Participant(id string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].ID == id {
			return &r.Participants[i]
		}
	}
	return nil
}

// HasController reports whether a controller is currently recorded.
func (r *Room) HasController() bool {
	return r.ControllerID != ""
}

// IsEmpty reports whether the room has no participants left.
func (r *Room) IsEmpty() bool {
	return len(r.Participants) == 0
}

// AddParticipant appends p and records it as controller when it is the
// first one. Callers must check HasController before adding a controller.
func (r *Room) AddParticipant(p Participant) {
	r.Participants = append(r.Participants, p)
	r.LastActiveAt = p.JoinedAt
	if p.Role == RoleController && r.ControllerID == "" {
		r.ControllerID = p.ID
	}
}

// RemoveParticipant drops id from the room. When it held the controller slot
// the earliest-joined remaining controller-role participant is promoted.
// Returns false if id was not a participant.
func (r *Room) RemoveParticipant(id string, now time.Time) bool {
	idx := -1
	for i := range r.Participants {
		if r.Participants[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	r.Participants = append(r.Participants[:idx], r.Participants[idx+1:]...)
	r.LastActiveAt = now

	if r.ControllerID == id {
		r.ControllerID = ""
		for _, p := range r.Participants {
			if p.Role == RoleController {
				r.ControllerID = p.ID
				break
			}
		}
	}
	return true
}

// Touch refreshes the last-seen time of id.
func (r *Room) Touch(id string, now time.Time) bool {
	p := r.Participant(id)
	if p == nil {
		return false
	}
	p.LastSeen = now
	r.LastActiveAt = now
	return true
}
