package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/eldtechnologies/promptsync/internal/models"
)

// RoomStatsResponse summarises a room's activity for dashboards.
type RoomStatsResponse struct {
	RoomID           string `json:"room_id"`
	Participants     int    `json:"participants"`
	Displays         int    `json:"displays"`
	HasController    bool   `json:"has_controller"`
	LocalConnections int    `json:"local_connections"`
	Created          string `json:"created"`
	LastActivity     string `json:"last_activity"`
	TTL              string `json:"ttl"`
	Instance         string `json:"instance"`
}

// RoomStats returns membership counts and activity times for one room.
// LocalConnections counts only the participants connected to this process.
func (h *Handler) RoomStats(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	room, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "store error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	displays := lo.CountBy(room.Participants, func(p models.Participant) bool {
		return p.Role == models.RoleDisplay
	})

	h.JSON(w, http.StatusOK, RoomStatsResponse{
		RoomID:           room.ID,
		Participants:     len(room.Participants),
		Displays:         displays,
		HasController:    room.HasController(),
		LocalConnections: len(h.registry.Room(roomID)),
		Created:          formatTimeAgo(room.CreatedAt),
		LastActivity:     formatTimeAgo(room.LastActiveAt),
		TTL:              room.TTL.String(),
		Instance:         h.fanout.InstanceID(),
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
