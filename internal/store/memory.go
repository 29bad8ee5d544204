package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eldtechnologies/promptsync/internal/models"
)

// memoryBackend keeps rooms in a process-local map. It is the degraded-mode
// store used when Redis is unreachable: membership is not visible to other
// processes.
type memoryBackend struct {
	mu    sync.Mutex
	rooms map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	room      *models.Room
	expiresAt time.Time
}

// NewMemoryStore creates a single-process room store.
func NewMemoryStore(opts Options) *Store {
	opts.setDefaults()
	return newStore(&memoryBackend{
		rooms: make(map[string]memoryEntry),
		now:   opts.Now,
	}, opts)
}

func (b *memoryBackend) ping(context.Context) error {
	return nil
}

// lookup returns the live entry for roomID, reaping it if expired.
// Caller must hold b.mu.
func (b *memoryBackend) lookup(roomID string) (memoryEntry, bool) {
	e, ok := b.rooms[roomID]
	if !ok {
		return memoryEntry{}, false
	}
	if !b.now().Before(e.expiresAt) {
		delete(b.rooms, roomID)
		return memoryEntry{}, false
	}
	return e, true
}

func (b *memoryBackend) get(_ context.Context, roomID string) (*models.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(roomID)
	if !ok {
		return nil, nil
	}
	return cloneRoom(e.room), nil
}

func (b *memoryBackend) insert(_ context.Context, room *models.Room) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.lookup(room.ID); ok {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	b.rooms[room.ID] = memoryEntry{room: cloneRoom(room), expiresAt: b.now().Add(room.TTL)}
	return nil
}

func (b *memoryBackend) mutate(_ context.Context, roomID string, fn func(room *models.Room) (action, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	room := cloneRoom(e.room)
	act, err := fn(room)
	if err != nil {
		return err
	}

	switch act {
	case actionSave:
		b.rooms[roomID] = memoryEntry{room: room, expiresAt: b.now().Add(room.TTL)}
	case actionDelete:
		delete(b.rooms, roomID)
	}
	return nil
}

func (b *memoryBackend) remove(_ context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.rooms, roomID)
	return nil
}
