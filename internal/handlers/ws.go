package handlers

import (
	"net/http"

	"github.com/eldtechnologies/promptsync/internal/session"
)

// ServeWS upgrades the request and hands the connection to the session
// coordinator. The first frame must authenticate.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.coord.Serve(r.Context(), session.NewWSConn(conn))
}
