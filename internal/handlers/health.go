package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status            string           `json:"status"` // "healthy" or "degraded"
	Version           string           `json:"version"`
	Instance          string           `json:"instance"`
	ActiveConnections int              `json:"active_connections"`
	ActiveRooms       int              `json:"active_rooms"`
	Checks            map[string]Check `json:"checks"`
	Timestamp         string           `json:"timestamp"`
}

// Health reports store and broker status. Running without a broker is
// degraded: rooms only span this process.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	storeStart := time.Now()
	if err := h.rooms.Ping(ctx); err != nil {
		checks["store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		checks["store"] = Check{Status: "pass", Latency: time.Since(storeStart).String()}
	}

	brokerStart := time.Now()
	if err := h.fanout.Check(ctx); err != nil {
		checks["broker"] = Check{Status: "fail", Message: "cross-process relay unavailable"}
		allHealthy = false
	} else {
		checks["broker"] = Check{Status: "pass", Latency: time.Since(brokerStart).String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:            status,
		Version:           version,
		Instance:          h.fanout.InstanceID(),
		ActiveConnections: h.registry.Len(),
		ActiveRooms:       h.registry.Rooms(),
		Checks:            checks,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	})
}

// Live reports that the process is up, without touching dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "PromptSync",
		Version: version,
	})
}
