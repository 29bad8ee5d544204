// Package registry tracks the live connections accepted by this process.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/promptsync/internal/crypto"
	"github.com/eldtechnologies/promptsync/internal/metrics"
	"github.com/eldtechnologies/promptsync/internal/models"
)

// WebSocket close codes used when the server ends a session.
const (
	CloseNormal      = 1000
	CloseGoingAway   = 1001
	CloseAuthFailed  = 4001
	CloseForbidden   = 4003
	CloseRoomClosed  = 4004
	CloseKicked      = 4005
	CloseAuthTimeout = 4008
)

// Channel is a bidirectional client connection as seen by the registry.
// Implementations must serialise concurrent Send calls.
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Connection is a registered channel and its participant metadata.
type Connection struct {
	ID      string
	RoomID  string
	Role    models.Role
	Channel Channel
}

// Registry holds this process's connections, indexed by participant and
// by room. It is the only owner of live channel handles.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byRoom map[string]map[string]struct{}
	logger zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byRoom: make(map[string]map[string]struct{}),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Register stores ch under a freshly generated participant id. The
// connection is not ready, and receives no SendTo or Broadcast traffic,
// until SetRole.
func (r *Registry) Register(roomID string, ch Channel) string {
	id := crypto.NewParticipantID()

	r.mu.Lock()
	r.conns[id] = &Connection{ID: id, RoomID: roomID, Channel: ch}
	if r.byRoom[roomID] == nil {
		r.byRoom[roomID] = make(map[string]struct{})
	}
	r.byRoom[roomID][id] = struct{}{}
	r.mu.Unlock()

	metrics.ActiveConnections.Inc()
	return id
}

// SetRole records the role a participant identified as and marks the
// connection ready.
func (r *Registry) SetRole(id string, role models.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.Role = role
	return true
}

// Deregister removes id and returns the connection that was freed. It is
// idempotent: a second call reports false.
func (r *Registry) Deregister(id string) (Connection, bool) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		if members := r.byRoom[c.RoomID]; members != nil {
			delete(members, id)
			if len(members) == 0 {
				delete(r.byRoom, c.RoomID)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return Connection{}, false
	}
	metrics.ActiveConnections.Dec()
	return *c, true
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Room returns a point-in-time copy of the room's local connections.
func (r *Registry) Room(roomID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byRoom[roomID]
	out := make([]Connection, 0, len(members))
	for id := range members {
		out = append(out, *r.conns[id])
	}
	return out
}

// Len returns the number of live connections on this process.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Rooms returns the number of rooms with at least one local connection.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom)
}

// SendTo delivers data to participant id if it is a ready connection of
// roomID. A failed send prunes the connection.
func (r *Registry) SendTo(ctx context.Context, roomID, id string, data []byte) bool {
	c, ok := r.Get(id)
	if !ok || c.RoomID != roomID || c.Role == models.RoleUnset {
		return false
	}
	if err := c.Channel.Send(ctx, data); err != nil {
		r.logger.Debug().Err(err).Str("participant_id", id).Msg("send failed, pruning connection")
		r.prune(c)
		return false
	}
	return true
}

// Broadcast delivers data to every ready local connection of roomID except
// exclude and returns how many sends succeeded. It iterates a snapshot so
// concurrent register/deregister never races the loop; connections whose
// send failed are pruned after the loop.
func (r *Registry) Broadcast(ctx context.Context, roomID string, data []byte, exclude string) int {
	var failed []Connection
	delivered := 0

	for _, c := range r.Room(roomID) {
		if c.ID == exclude || c.Role == models.RoleUnset {
			continue
		}
		if err := c.Channel.Send(ctx, data); err != nil {
			r.logger.Debug().Err(err).Str("participant_id", c.ID).Msg("broadcast send failed")
			failed = append(failed, c)
			continue
		}
		delivered++
	}

	for _, c := range failed {
		r.prune(c)
	}
	return delivered
}

// CloseRoom sends data (if any) to every local connection of roomID, then
// deregisters and closes them. Returns the ids that were closed.
func (r *Registry) CloseRoom(ctx context.Context, roomID string, data []byte, code int, reason string) []string {
	conns := r.Room(roomID)
	ids := make([]string, 0, len(conns))

	for _, c := range conns {
		if data != nil {
			_ = c.Channel.Send(ctx, data)
		}
	}
	for _, c := range conns {
		if _, ok := r.Deregister(c.ID); !ok {
			continue
		}
		_ = c.Channel.Close(code, reason)
		ids = append(ids, c.ID)
	}
	return ids
}

// Disconnect deregisters id and closes its channel. Returns false if id
// was not connected here.
func (r *Registry) Disconnect(id string, code int, reason string) bool {
	c, ok := r.Deregister(id)
	if !ok {
		return false
	}
	_ = c.Channel.Close(code, reason)
	return true
}

// Close disconnects every connection, used on shutdown.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Disconnect(id, CloseGoingAway, "server shutting down")
	}
}

func (r *Registry) prune(c Connection) {
	if _, ok := r.Deregister(c.ID); ok {
		_ = c.Channel.Close(CloseGoingAway, "send failed")
	}
}
