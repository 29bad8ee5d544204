// Package session runs one goroutine per client connection: authenticate,
// join the room, relay frames, and clean up on departure.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/promptsync/internal/fanout"
	"github.com/eldtechnologies/promptsync/internal/metrics"
	"github.com/eldtechnologies/promptsync/internal/models"
	"github.com/eldtechnologies/promptsync/internal/protocol"
	"github.com/eldtechnologies/promptsync/internal/registry"
	"github.com/eldtechnologies/promptsync/internal/store"
)

var (
	ErrNotController = errors.New("only the controller can do that")
	ErrSelfKick      = errors.New("cannot kick yourself")
	ErrNotInRoom     = errors.New("participant not in room")
)

// Conn is a client connection: a registry channel that can also be read.
type Conn interface {
	registry.Channel
	// Receive blocks for the next text frame. It returns an error once the
	// connection is closed or ctx is done.
	Receive(ctx context.Context) ([]byte, error)
}

// Options tunes a Coordinator.
type Options struct {
	AuthTimeout time.Duration
	// TouchInterval throttles last-seen refreshes per connection.
	TouchInterval time.Duration
	Logger        zerolog.Logger
}

// Coordinator ties the room store, the local registry and the fanout
// together. One Coordinator serves every connection of a process.
type Coordinator struct {
	store    store.RoomStore
	registry *registry.Registry
	fanout   fanout.Fanout

	authTimeout   time.Duration
	touchInterval time.Duration
	logger        zerolog.Logger
}

// cleanupTimeout bounds store and broker work done after a connection ends.
const cleanupTimeout = 5 * time.Second

// New creates a Coordinator.
func New(st store.RoomStore, reg *registry.Registry, fo fanout.Fanout, opts Options) *Coordinator {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.TouchInterval <= 0 {
		opts.TouchInterval = 5 * time.Second
	}
	return &Coordinator{
		store:         st,
		registry:      reg,
		fanout:        fo,
		authTimeout:   opts.AuthTimeout,
		touchInterval: opts.TouchInterval,
		logger:        opts.Logger.With().Str("component", "session").Logger(),
	}
}

// session is the per-connection state owned by the Serve goroutine.
type session struct {
	id        string
	roomID    string
	role      models.Role
	conn      Conn
	lastTouch time.Time
	logger    zerolog.Logger
}

// Serve runs a connection to completion. It returns when the client leaves,
// the connection drops, or ctx is cancelled.
func (c *Coordinator) Serve(ctx context.Context, conn Conn) {
	sess, ok := c.authenticate(ctx, conn)
	if !ok {
		return
	}
	defer c.depart(sess)

	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			sess.logger.Debug().Err(err).Msg("connection ended")
			return
		}
		if leave := c.handleFrame(ctx, sess, data); leave {
			return
		}
	}
}

// authenticate reads the first frame, checks credentials and joins the
// room. On any failure it answers auth_error and closes the connection.
func (c *Coordinator) authenticate(ctx context.Context, conn Conn) (*session, bool) {
	authCtx, cancel := context.WithTimeout(ctx, c.authTimeout)
	data, err := conn.Receive(authCtx)
	cancel()
	if err != nil {
		if errors.Is(authCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			c.reject(conn, "timeout", "authentication timed out", registry.CloseAuthTimeout)
			return nil, false
		}
		_ = conn.Close(registry.CloseNormal, "")
		return nil, false
	}

	msg, err := protocol.Parse(data)
	if err != nil {
		c.reject(conn, "malformed", "invalid authentication message", registry.CloseAuthFailed)
		return nil, false
	}
	auth, ok := msg.(protocol.Authenticate)
	if !ok {
		c.reject(conn, "not_authenticated", "first message must be authenticate", registry.CloseAuthFailed)
		return nil, false
	}

	role, err := protocol.ParseMode(auth.Mode)
	if err != nil {
		c.reject(conn, "invalid_mode", "mode must be controller or display", registry.CloseAuthFailed)
		return nil, false
	}

	if !c.store.Authenticate(ctx, auth.RoomID, auth.Secret) {
		c.logger.Warn().
			Str("type", "security").
			Str("event", "auth_failed").
			Str("room_id", auth.RoomID).
			Msg("invalid room credentials")
		c.reject(conn, "bad_credentials", "invalid room id or secret", registry.CloseAuthFailed)
		return nil, false
	}

	// The connection stays unready, and so outside broadcasts, until
	// auth_success has been written.
	pid := c.registry.Register(auth.RoomID, conn)

	if err := c.store.Join(ctx, auth.RoomID, pid, role); err != nil {
		c.registry.Deregister(pid)
		switch {
		case errors.Is(err, store.ErrControllerTaken):
			c.reject(conn, "controller_taken", "room already has a controller", registry.CloseForbidden)
		case errors.Is(err, store.ErrRoomNotFound):
			c.reject(conn, "room_not_found", "room no longer exists", registry.CloseAuthFailed)
		default:
			c.logger.Error().Err(err).Str("room_id", auth.RoomID).Msg("join failed")
			c.reject(conn, "store_error", "could not join room", registry.CloseAuthFailed)
		}
		return nil, false
	}

	sess := &session{
		id:        pid,
		roomID:    auth.RoomID,
		role:      role,
		conn:      conn,
		lastTouch: time.Now(),
		logger: c.logger.With().
			Str("room_id", auth.RoomID).
			Str("participant_id", pid).
			Str("role", string(role)).
			Logger(),
	}

	room, err := c.store.Get(ctx, sess.roomID)
	if err != nil || room == nil {
		// Room vanished between join and read; treat as a normal departure.
		c.depart(sess)
		return nil, false
	}

	_ = conn.Send(ctx, protocol.Encode(protocol.AuthSuccess{
		Type:          protocol.TypeAuthSuccess,
		RoomID:        room.ID,
		RoomName:      room.Name,
		ParticipantID: pid,
		Mode:          string(role),
		IsController:  room.ControllerID == pid,
	}))
	c.registry.SetRole(pid, role)
	sess.logger.Info().Msg("participant authenticated")

	c.announceRoom(ctx, room)
	return sess, true
}

func (c *Coordinator) reject(conn Conn, reason, message string, code int) {
	metrics.AuthFailures.WithLabelValues(reason).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	_ = conn.Send(ctx, protocol.Encode(protocol.NewNotice(protocol.TypeAuthError, "", message)))
	_ = conn.Close(code, message)
}

// handleFrame dispatches one client frame. It reports true when the client
// asked to leave.
func (c *Coordinator) handleFrame(ctx context.Context, sess *session, data []byte) bool {
	c.touch(ctx, sess)

	msg, err := protocol.Parse(data)
	if err != nil {
		metrics.DroppedFrames.Inc()
		sess.logger.Warn().Err(err).Msg("dropping malformed frame")
		c.sendError(ctx, sess, "invalid message")
		return false
	}

	switch m := msg.(type) {
	case protocol.Authenticate:
		c.sendError(ctx, sess, "already authenticated")
	case protocol.RoomInfoRequest:
		room, err := c.store.Get(ctx, sess.roomID)
		if err != nil || room == nil {
			c.sendError(ctx, sess, "room not found")
			return false
		}
		c.registry.SendTo(ctx, sess.roomID, sess.id, protocol.Encode(protocol.Snapshot(room)))
	case protocol.KickRequest:
		if err := c.Kick(ctx, sess.roomID, sess.id, m.TargetID); err != nil {
			c.sendError(ctx, sess, err.Error())
		}
	case protocol.LeaveRequest:
		return true
	case protocol.Relay:
		c.relay(ctx, sess, m)
	}
	return false
}

// relay forwards an application payload from sess to the rest of its room.
func (c *Coordinator) relay(ctx context.Context, sess *session, m protocol.Relay) {
	payload := protocol.Encode(m.Payload.Stamp(sess.id, sess.roomID))

	if m.TargetID != "" {
		if c.registry.SendTo(ctx, sess.roomID, m.TargetID, payload) {
			metrics.MessagesRelayed.WithLabelValues("local").Inc()
			return
		}
		c.publish(ctx, protocol.Envelope{
			RoomID:   sess.roomID,
			Kind:     protocol.KindDirect,
			SenderID: sess.id,
			TargetID: m.TargetID,
			Payload:  payload,
		})
		return
	}

	c.registry.Broadcast(ctx, sess.roomID, payload, sess.id)
	metrics.MessagesRelayed.WithLabelValues("local").Inc()
	c.publish(ctx, protocol.Envelope{
		RoomID:   sess.roomID,
		Kind:     protocol.KindBroadcast,
		SenderID: sess.id,
		Payload:  payload,
	})
}

func (c *Coordinator) touch(ctx context.Context, sess *session) {
	if time.Since(sess.lastTouch) < c.touchInterval {
		return
	}
	sess.lastTouch = time.Now()
	if err := c.store.Touch(ctx, sess.roomID, sess.id); err != nil {
		sess.logger.Debug().Err(err).Msg("last-seen refresh failed")
	}
}

func (c *Coordinator) sendError(ctx context.Context, sess *session, message string) {
	c.registry.SendTo(ctx, sess.roomID, sess.id, protocol.Encode(protocol.NewNotice(protocol.TypeError, sess.roomID, message)))
}

// depart cleans up after a connection. It runs on a fresh context so the
// store stays consistent when the connection's context is already gone.
func (c *Coordinator) depart(sess *session) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if c.store.IsController(ctx, sess.roomID, sess.id) {
		sess.logger.Info().Msg("controller left, closing room")
		c.CloseRoom(ctx, sess.roomID, "controller left the room")
		c.registry.Deregister(sess.id)
		_ = sess.conn.Close(registry.CloseRoomClosed, "room closed")
		return
	}

	c.registry.Deregister(sess.id)
	_ = sess.conn.Close(registry.CloseNormal, "")

	removed, err := c.store.RemoveParticipant(ctx, sess.roomID, sess.id)
	if err != nil {
		sess.logger.Error().Err(err).Msg("failed to remove participant")
		return
	}
	if !removed {
		// Already removed by a kick or a room closure.
		return
	}
	sess.logger.Info().Msg("participant left")
	c.Announce(ctx, sess.roomID)
}

func (c *Coordinator) publish(ctx context.Context, env protocol.Envelope) {
	if err := c.fanout.Publish(ctx, env.RoomID, env); err != nil {
		c.logger.Debug().Err(err).Str("room_id", env.RoomID).Msg("cross-process delivery skipped")
	}
}
