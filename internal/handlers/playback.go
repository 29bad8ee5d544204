package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/promptsync/internal/protocol"
	"github.com/eldtechnologies/promptsync/internal/store"
)

const maxScrollLines = 1000

var playbackCommands = map[string]string{
	"start": protocol.TypeStart,
	"pause": protocol.TypePause,
	"reset": protocol.TypeReset,
}

// Playback broadcasts start, pause or reset to every participant of the
// room, including those on other processes.
func (h *Handler) Playback(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	msgType, ok := playbackCommands[action]
	if !ok {
		h.Error(w, http.StatusNotFound, "unknown playback action")
		return
	}
	h.command(w, r, protocol.Command(msgType), "playback "+action)
}

// Scroll moves displays forward or back by a number of lines (default 5),
// or jumps to the top or bottom of the script.
func (h *Handler) Scroll(w http.ResponseWriter, r *http.Request) {
	lines := protocol.DefaultScrollLines
	if s := chi.URLParam(r, "lines"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxScrollLines {
			h.Error(w, http.StatusBadRequest, fmt.Sprintf("lines must be between 1 and %d", maxScrollLines))
			return
		}
		lines = n
	}

	switch chi.URLParam(r, "direction") {
	case "forward":
		h.command(w, r, protocol.ScrollLines(protocol.DirectionForward, lines), fmt.Sprintf("scrolled forward %d line(s)", lines))
	case "back":
		h.command(w, r, protocol.ScrollLines(protocol.DirectionBackward, lines), fmt.Sprintf("scrolled back %d line(s)", lines))
	case "top":
		h.command(w, r, protocol.Command(protocol.TypeGoToBeginning), "scrolled to top")
	case "bottom":
		h.command(w, r, protocol.Command(protocol.TypeGoToEnd), "scrolled to end")
	default:
		h.Error(w, http.StatusNotFound, "unknown scroll direction")
	}
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request, cmd protocol.Payload, message string) {
	delivered, err := h.coord.BroadcastCommand(r.Context(), chi.URLParam(r, "id"), cmd)
	if errors.Is(err, store.ErrRoomNotFound) {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("command", cmd.Type()).Msg("command broadcast failed")
		h.Error(w, http.StatusInternalServerError, "failed to send command")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   message,
		"delivered": delivered,
	})
}
