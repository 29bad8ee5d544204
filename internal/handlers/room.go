package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/promptsync/internal/protocol"
	"github.com/eldtechnologies/promptsync/internal/session"
	"github.com/eldtechnologies/promptsync/internal/store"
)

// CreateRoomRequest represents the room creation request. An empty name
// gets a generated one.
type CreateRoomRequest struct {
	Name string `json:"room_name" validate:"max=100"`
}

// RoomResponse is the public view of a room. It never includes the secret.
type RoomResponse struct {
	ID               string                     `json:"room_id"`
	Name             string                     `json:"room_name"`
	ParticipantCount int                        `json:"participant_count"`
	ControllerID     string                     `json:"controller_id,omitempty"`
	HasController    bool                       `json:"has_controller"`
	Participants     []protocol.ParticipantView `json:"participants"`
	CreatedAt        time.Time                  `json:"created_at"`
	LastActiveAt     time.Time                  `json:"last_active_at"`
}

// RenameRoomRequest represents the rename request.
type RenameRoomRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Name          string `json:"room_name" validate:"required,max=100"`
}

// CreateRoom allocates a room and returns its one-time secret.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.rooms.Create(r.Context(), sanitizeName(req.Name))
	if err != nil {
		h.logger.Error().Err(err).Msg("create room failed")
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusCreated, created)
}

// GetRoom returns room membership without credentials.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "store error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	snap := protocol.Snapshot(room)
	h.JSON(w, http.StatusOK, RoomResponse{
		ID:               room.ID,
		Name:             room.Name,
		ParticipantCount: snap.ParticipantCount,
		ControllerID:     room.ControllerID,
		HasController:    room.HasController(),
		Participants:     snap.Participants,
		CreatedAt:        room.CreatedAt,
		LastActiveAt:     room.LastActiveAt,
	})
}

// VerifyRoom confirms a room secret. The room-secret middleware has already
// rejected bad credentials by the time this runs.
func (h *Handler) VerifyRoom(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"room_id": chi.URLParam(r, "id"),
	})
}

// RenameRoom changes the room name on behalf of its controller.
func (h *Handler) RenameRoom(w http.ResponseWriter, r *http.Request) {
	var req RenameRoomRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "participant_id and room_name are required")
		return
	}
	name := sanitizeName(req.Name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "room_name is required")
		return
	}

	roomID := chi.URLParam(r, "id")
	if err := h.coord.Rename(r.Context(), roomID, req.ParticipantID, name); err != nil {
		h.sessionError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"room_id":   roomID,
		"room_name": name,
	})
}

// KickParticipant removes a participant on behalf of the controller named
// by the kicker_id query parameter.
func (h *Handler) KickParticipant(w http.ResponseWriter, r *http.Request) {
	kickerID := r.URL.Query().Get("kicker_id")
	if kickerID == "" {
		h.Error(w, http.StatusBadRequest, "kicker_id is required")
		return
	}

	roomID := chi.URLParam(r, "id")
	targetID := chi.URLParam(r, "pid")
	if err := h.coord.Kick(r.Context(), roomID, kickerID, targetID); err != nil {
		h.sessionError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"room_id":        roomID,
		"participant_id": targetID,
	})
}

func (h *Handler) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSelfKick):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotController):
		h.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrNotInRoom), errors.Is(err, store.ErrRoomNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("room operation failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
