package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/promptsync/internal/metrics"
	"github.com/eldtechnologies/promptsync/internal/store"
)

type contextKey string

const RoomContextKey contextKey = "room_id"

// RoomSecretHeader carries the room secret on room-scoped HTTP requests.
const RoomSecretHeader = "X-Room-Secret"

// RoomAuth checks room secrets on room-scoped endpoints.
type RoomAuth struct {
	rooms  store.RoomStore
	logger zerolog.Logger
}

// NewRoomAuth creates the room-secret middleware.
func NewRoomAuth(rooms store.RoomStore, logger zerolog.Logger) *RoomAuth {
	return &RoomAuth{rooms: rooms, logger: logger}
}

// RequireRoomSecret verifies the X-Room-Secret header against the room in
// the {id} URL parameter. Unknown rooms and wrong secrets get the same
// answer.
func (m *RoomAuth) RequireRoomSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "id")
		secret := r.Header.Get(RoomSecretHeader)

		if secret == "" {
			jsonError(w, http.StatusUnauthorized, "missing room secret")
			return
		}

		if !m.rooms.Authenticate(r.Context(), roomID, secret) {
			metrics.AuthFailures.WithLabelValues("http").Inc()
			m.logger.Warn().
				Str("type", "security").
				Str("event", "room_secret_rejected").
				Str("room_id", roomID).
				Str("ip", RealIP(r)).
				Str("endpoint", r.URL.Path).
				Msg("invalid room secret")
			jsonError(w, http.StatusForbidden, "invalid room credentials")
			return
		}

		ctx := context.WithValue(r.Context(), RoomContextKey, roomID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetRoomIDFromContext returns the room authenticated by RequireRoomSecret.
func GetRoomIDFromContext(ctx context.Context) string {
	roomID, _ := ctx.Value(RoomContextKey).(string)
	return roomID
}
