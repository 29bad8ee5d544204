package session

import (
	"context"
	"fmt"

	"github.com/eldtechnologies/promptsync/internal/metrics"
	"github.com/eldtechnologies/promptsync/internal/models"
	"github.com/eldtechnologies/promptsync/internal/protocol"
	"github.com/eldtechnologies/promptsync/internal/registry"
	"github.com/eldtechnologies/promptsync/internal/store"
)

// APISender is the sender_id stamped on commands issued over HTTP.
const APISender = "api"

// Announce sends the room's current snapshot to every participant on every
// process. Unknown rooms are ignored.
func (c *Coordinator) Announce(ctx context.Context, roomID string) {
	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("announce: room lookup failed")
		return
	}
	if room == nil {
		return
	}
	c.announceRoom(ctx, room)
}

func (c *Coordinator) announceRoom(ctx context.Context, room *models.Room) {
	c.broadcastAll(ctx, room.ID, protocol.Encode(protocol.Snapshot(room)))
}

// broadcastAll delivers a server-originated frame to the whole room.
func (c *Coordinator) broadcastAll(ctx context.Context, roomID string, data []byte) int {
	n := c.registry.Broadcast(ctx, roomID, data, "")
	c.publish(ctx, protocol.Envelope{
		RoomID:  roomID,
		Kind:    protocol.KindBroadcast,
		Payload: data,
	})
	return n
}

// Kick removes targetID from the room on behalf of kickerID, who must be
// the room's controller. The target is notified and disconnected wherever
// it is connected, and the room is told.
func (c *Coordinator) Kick(ctx context.Context, roomID, kickerID, targetID string) error {
	if kickerID == targetID {
		return ErrSelfKick
	}
	if !c.store.IsController(ctx, roomID, kickerID) {
		return ErrNotController
	}

	removed, err := c.store.RemoveParticipant(ctx, roomID, targetID)
	if err != nil {
		return fmt.Errorf("kick: %w", err)
	}
	if !removed {
		return ErrNotInRoom
	}

	kicked := protocol.Encode(protocol.Notice{
		Type:          protocol.TypeKicked,
		RoomID:        roomID,
		ParticipantID: targetID,
		Message:       "you have been removed from the room",
	})
	if !c.disconnectKicked(ctx, roomID, targetID, kicked) {
		c.publish(ctx, protocol.Envelope{
			RoomID:   roomID,
			Kind:     protocol.KindKick,
			SenderID: kickerID,
			TargetID: targetID,
			Payload:  kicked,
		})
	}

	c.logger.Info().
		Str("room_id", roomID).
		Str("kicker_id", kickerID).
		Str("participant_id", targetID).
		Msg("participant kicked")

	c.broadcastAll(ctx, roomID, protocol.Encode(protocol.Notice{
		Type:          protocol.TypeParticipantKicked,
		RoomID:        roomID,
		ParticipantID: targetID,
	}))
	c.Announce(ctx, roomID)
	return nil
}

// disconnectKicked notifies and closes targetID if it is connected here in
// roomID. It reports whether the target was local.
func (c *Coordinator) disconnectKicked(ctx context.Context, roomID, targetID string, notice []byte) bool {
	conn, ok := c.registry.Get(targetID)
	if !ok || conn.RoomID != roomID {
		return false
	}
	c.registry.SendTo(ctx, roomID, targetID, notice)
	c.registry.Disconnect(targetID, registry.CloseKicked, "kicked")
	return true
}

// Rename changes the room name. Only the controller may rename.
func (c *Coordinator) Rename(ctx context.Context, roomID, participantID, name string) error {
	if !c.store.IsController(ctx, roomID, participantID) {
		return ErrNotController
	}
	ok, err := c.store.Rename(ctx, roomID, name)
	if err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if !ok {
		return store.ErrRoomNotFound
	}

	c.broadcastAll(ctx, roomID, protocol.Encode(protocol.RoomNameUpdated{
		Type:     protocol.TypeRoomNameUpdated,
		RoomID:   roomID,
		RoomName: name,
	}))
	return nil
}

// CloseRoom tells every participant the room is closed, disconnects them on
// every process and deletes the room.
func (c *Coordinator) CloseRoom(ctx context.Context, roomID, reason string) {
	notice := protocol.Encode(protocol.NewNotice(protocol.TypeRoomClosed, roomID, reason))

	c.registry.CloseRoom(ctx, roomID, notice, registry.CloseRoomClosed, "room closed")
	c.publish(ctx, protocol.Envelope{
		RoomID:  roomID,
		Kind:    protocol.KindCloseRoom,
		Payload: notice,
	})

	if err := c.store.RemoveRoom(ctx, roomID); err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to remove closed room")
	}
	metrics.RoomsClosed.WithLabelValues("controller_left").Inc()
}

// BroadcastCommand sends an out-of-band command (playback, scroll) to every
// participant of the room. It returns the number of local deliveries.
func (c *Coordinator) BroadcastCommand(ctx context.Context, roomID string, cmd protocol.Payload) (int, error) {
	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if room == nil {
		return 0, store.ErrRoomNotFound
	}

	n := c.broadcastAll(ctx, roomID, protocol.Encode(cmd.Stamp(APISender, roomID)))
	metrics.MessagesRelayed.WithLabelValues("command").Inc()
	c.logger.Info().Str("room_id", roomID).Str("command", cmd.Type()).Int("delivered", n).Msg("command broadcast")
	return n, nil
}

// HandleRelay delivers an envelope published by another process to this
// process's connections. It never publishes.
func (c *Coordinator) HandleRelay(ctx context.Context, env protocol.Envelope) {
	metrics.MessagesRelayed.WithLabelValues("remote").Inc()

	switch env.Kind {
	case protocol.KindBroadcast:
		c.registry.Broadcast(ctx, env.RoomID, env.Payload, env.SenderID)
	case protocol.KindDirect:
		c.registry.SendTo(ctx, env.RoomID, env.TargetID, env.Payload)
	case protocol.KindKick:
		c.disconnectKicked(ctx, env.RoomID, env.TargetID, env.Payload)
	case protocol.KindCloseRoom:
		c.registry.CloseRoom(ctx, env.RoomID, env.Payload, registry.CloseRoomClosed, "room closed")
	default:
		c.logger.Warn().Str("kind", string(env.Kind)).Msg("unknown envelope kind")
	}
}
