package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/promptsync/internal/fanout"
	"github.com/eldtechnologies/promptsync/internal/registry"
	"github.com/eldtechnologies/promptsync/internal/session"
	"github.com/eldtechnologies/promptsync/internal/store"
)

var validate = validator.New()

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	rooms    store.RoomStore
	fanout   fanout.Fanout
	coord    *session.Coordinator
	registry *registry.Registry
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a Handler. allowedOrigins restricts WebSocket upgrades;
// empty or "*" accepts any origin.
func NewHandler(rooms store.RoomStore, fo fanout.Fanout, coord *session.Coordinator, reg *registry.Registry, logger zerolog.Logger, allowedOrigins []string) *Handler {
	return &Handler{
		rooms:    rooms,
		fanout:   fo,
		coord:    coord,
		registry: reg,
		logger:   logger.With().Str("component", "http").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode reads an optional JSON body into v and validates it. An empty body
// leaves v at its zero value.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return validate.Struct(v)
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if r := []rune(name); len(r) > 100 {
		name = string(r[:100])
	}

	return name
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
