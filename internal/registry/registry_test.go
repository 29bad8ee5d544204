package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/promptsync/internal/models"
)

type fakeChannel struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	code    int
	sendErr error
}

func (f *fakeChannel) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeChannel) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// join registers ch and marks it ready as a display.
func join(r *Registry, roomID string, ch Channel) string {
	id := r.Register(roomID, ch)
	r.SetRole(id, models.RoleDisplay)
	return id
}

func TestRegisterAndDeregister(t *testing.T) {
	r := New(zerolog.Nop())
	ch := &fakeChannel{}

	id := r.Register("room-1", ch)
	require.NotEmpty(t, id)
	require.Equal(t, 1, r.Len())
	require.Equal(t, 1, r.Rooms())

	require.True(t, r.SetRole(id, models.RoleDisplay))
	c, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, models.RoleDisplay, c.Role)
	require.Equal(t, "room-1", c.RoomID)

	got, ok := r.Deregister(id)
	require.True(t, ok)
	require.Equal(t, id, got.ID)
	require.Equal(t, 0, r.Len())
	require.Equal(t, 0, r.Rooms())

	_, ok = r.Deregister(id)
	require.False(t, ok, "deregister is idempotent")
	require.False(t, r.SetRole(id, models.RoleController))
}

func TestRegisterGeneratesUniqueIDs(t *testing.T) {
	r := New(zerolog.Nop())
	seen := make(map[string]bool)
	for range 100 {
		id := r.Register("room-1", &fakeChannel{})
		require.False(t, seen[id])
		seen[id] = true
	}
	require.Len(t, r.Room("room-1"), 100)
}

func TestSendTo(t *testing.T) {
	r := New(zerolog.Nop())
	ch := &fakeChannel{}
	id := join(r, "room-1", ch)

	require.True(t, r.SendTo(context.Background(), "room-1", id, []byte("hi")))
	require.Equal(t, 1, ch.count())

	require.False(t, r.SendTo(context.Background(), "room-1", "p_missing", []byte("hi")))
}

func TestSendToIsRoomScoped(t *testing.T) {
	r := New(zerolog.Nop())
	ch := &fakeChannel{}
	id := join(r, "room-1", ch)

	require.False(t, r.SendTo(context.Background(), "room-2", id, []byte("spoofed")))
	require.Equal(t, 0, ch.count())
	require.Equal(t, 1, r.Len(), "a refused send does not prune")
}

func TestPendingConnectionsReceiveNothing(t *testing.T) {
	r := New(zerolog.Nop())
	ctx := context.Background()
	ready, pending := &fakeChannel{}, &fakeChannel{}
	join(r, "room-1", ready)
	pendingID := r.Register("room-1", pending)

	require.Equal(t, 1, r.Broadcast(ctx, "room-1", []byte("x"), ""))
	require.False(t, r.SendTo(ctx, "room-1", pendingID, []byte("x")))
	require.Equal(t, 0, pending.count())
	require.Len(t, r.Room("room-1"), 2)

	r.SetRole(pendingID, models.RoleController)
	require.Equal(t, 2, r.Broadcast(ctx, "room-1", []byte("y"), ""))
	require.Equal(t, 1, pending.count())
}

func TestSendToPrunesFailedConnection(t *testing.T) {
	r := New(zerolog.Nop())
	ch := &fakeChannel{sendErr: errors.New("broken pipe")}
	id := join(r, "room-1", ch)

	require.False(t, r.SendTo(context.Background(), "room-1", id, []byte("hi")))
	require.Equal(t, 0, r.Len())
	require.True(t, ch.closed)
}

func TestBroadcastIsRoomScoped(t *testing.T) {
	r := New(zerolog.Nop())
	ctx := context.Background()

	a, b, other := &fakeChannel{}, &fakeChannel{}, &fakeChannel{}
	aID := join(r, "room-1", a)
	join(r, "room-1", b)
	join(r, "room-2", other)

	n := r.Broadcast(ctx, "room-1", []byte("scroll"), aID)
	require.Equal(t, 1, n)
	require.Equal(t, 0, a.count(), "sender excluded")
	require.Equal(t, 1, b.count())
	require.Equal(t, 0, other.count(), "other rooms untouched")

	require.Equal(t, 2, r.Broadcast(ctx, "room-1", []byte("update"), ""))
	require.Equal(t, 0, r.Broadcast(ctx, "room-empty", []byte("x"), ""))
}

func TestBroadcastPrunesFailures(t *testing.T) {
	r := New(zerolog.Nop())
	good := &fakeChannel{}
	bad := &fakeChannel{sendErr: errors.New("gone")}
	join(r, "room-1", good)
	badID := join(r, "room-1", bad)

	require.Equal(t, 1, r.Broadcast(context.Background(), "room-1", []byte("x"), ""))
	_, ok := r.Get(badID)
	require.False(t, ok)
	require.True(t, bad.closed)
	require.Equal(t, 1, r.Len())
}

func TestCloseRoom(t *testing.T) {
	r := New(zerolog.Nop())
	a, b, other := &fakeChannel{}, &fakeChannel{}, &fakeChannel{}
	r.Register("room-1", a)
	r.Register("room-1", b)
	r.Register("room-2", other)

	ids := r.CloseRoom(context.Background(), "room-1", []byte("closed"), CloseRoomClosed, "room closed")
	require.Len(t, ids, 2)
	for _, ch := range []*fakeChannel{a, b} {
		require.Equal(t, 1, ch.count())
		require.True(t, ch.closed)
		require.Equal(t, CloseRoomClosed, ch.code)
	}
	require.False(t, other.closed)
	require.Equal(t, 1, r.Len())
	require.Empty(t, r.CloseRoom(context.Background(), "room-1", nil, CloseRoomClosed, ""))
}

func TestDisconnectAndClose(t *testing.T) {
	r := New(zerolog.Nop())
	a, b := &fakeChannel{}, &fakeChannel{}
	aID := r.Register("room-1", a)
	r.Register("room-2", b)

	require.True(t, r.Disconnect(aID, CloseKicked, "kicked"))
	require.False(t, r.Disconnect(aID, CloseKicked, "kicked"))
	require.Equal(t, CloseKicked, a.code)

	r.Close()
	require.Equal(t, 0, r.Len())
	require.True(t, b.closed)
	require.Equal(t, CloseGoingAway, b.code)
}

func TestConcurrentBroadcastAndChurn(t *testing.T) {
	r := New(zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := join(r, "room-1", &fakeChannel{})
				r.Broadcast(ctx, "room-1", []byte("x"), id)
				r.Deregister(id)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 0, r.Len())
}
