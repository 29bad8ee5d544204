package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/promptsync/internal/protocol"
)

type recorder struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (r *recorder) handle(_ context.Context, env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) snapshot() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.envs...)
}

func newRedisFanout(t *testing.T, mr *miniredis.Miniredis, instance string) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := NewRedis(client, RedisOptions{InstanceID: instance, Timeout: time.Second, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		f.Close()
		client.Close()
	})
	return f
}

func TestRedisPublishReachesOtherProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newRedisFanout(t, mr, "a")
	b := newRedisFanout(t, mr, "b")

	var gotA, gotB recorder
	require.NoError(t, a.Subscribe(ctx, AllRooms, gotA.handle))
	require.NoError(t, b.Subscribe(ctx, AllRooms, gotB.handle))

	payload, _ := json.Marshal(map[string]any{"type": "scroll", "position": 120})
	err := a.Publish(ctx, "room-1", protocol.Envelope{
		RoomID:   "room-1",
		Kind:     protocol.KindBroadcast,
		SenderID: "p_1",
		Payload:  payload,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(gotB.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	env := gotB.snapshot()[0]
	require.False(t, env.Relayed, "subscriber must clear the relay marker")
	require.Equal(t, "a", env.Origin)
	require.Equal(t, "room-1", env.RoomID)
	require.NotEmpty(t, env.ID)
	require.JSONEq(t, string(payload), string(env.Payload))

	// The publisher never hears its own envelope back.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, gotA.snapshot())
}

func TestRedisDropsUnmarkedAndForeignEnvelopes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newRedisFanout(t, mr, "a")
	var got recorder
	require.NoError(t, f.Subscribe(ctx, AllRooms, got.handle))

	// No marker: not published through a fanout.
	mr.Publish(Topic("r1"), `{"id":"1","origin":"x","room_id":"r1","kind":"broadcast"}`)
	// Room does not match channel.
	mr.Publish(Topic("r1"), `{"id":"2","origin":"x","room_id":"r2","kind":"broadcast","_relayed":true}`)
	// Garbage.
	mr.Publish(Topic("r1"), `{{{`)
	// Valid.
	mr.Publish(Topic("r1"), `{"id":"3","origin":"x","room_id":"r1","kind":"broadcast","_relayed":true}`)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "3", got.snapshot()[0].ID)
}

func TestRedisSubscribeOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	f := newRedisFanout(t, mr, "a")
	var got recorder
	require.NoError(t, f.Subscribe(ctx, AllRooms, got.handle))
	require.ErrorIs(t, f.Subscribe(ctx, AllRooms, got.handle), ErrAlreadySubscribed)
}

func TestRedisPublishFailureMarksUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newRedisFanout(t, mr, "a")
	require.True(t, f.Available())
	require.NoError(t, f.Check(context.Background()))

	mr.Close()

	err := f.Publish(context.Background(), "r1", protocol.Envelope{RoomID: "r1", Kind: protocol.KindBroadcast})
	require.ErrorIs(t, err, ErrUnavailable)
	require.False(t, f.Available())
	require.ErrorIs(t, f.Check(context.Background()), ErrUnavailable)
}

func TestLocalIsInert(t *testing.T) {
	l := NewLocal("")
	require.NotEmpty(t, l.InstanceID())
	require.False(t, l.Available())
	require.ErrorIs(t, l.Check(context.Background()), ErrUnavailable)
	require.NoError(t, l.Publish(context.Background(), "r1", protocol.Envelope{}))
	require.NoError(t, l.Subscribe(context.Background(), AllRooms, func(context.Context, protocol.Envelope) {
		t.Fatal("local fanout must never deliver")
	}))
	require.NoError(t, l.Close())
}
