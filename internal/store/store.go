package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/promptsync/internal/crypto"
	"github.com/eldtechnologies/promptsync/internal/metrics"
	"github.com/eldtechnologies/promptsync/internal/models"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrControllerTaken  = errors.New("room already has a controller")
	ErrInvalidRole      = errors.New("invalid participant role")
	ErrParticipantTaken = errors.New("participant already in room")
	ErrConflict         = errors.New("room modified concurrently")
)

// RoomStore defines room membership and controller bookkeeping shared by
// every server process. The Redis-backed Store is authoritative across
// processes; the memory-backed Store only covers a single process.
type RoomStore interface {
	Ping(ctx context.Context) error

	Create(ctx context.Context, name string) (*CreatedRoom, error)
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Authenticate(ctx context.Context, roomID, secret string) bool
	Rename(ctx context.Context, roomID, name string) (bool, error)
	RemoveRoom(ctx context.Context, roomID string) error

	AddParticipant(ctx context.Context, roomID string, role models.Role) (string, error)
	Join(ctx context.Context, roomID, participantID string, role models.Role) error
	RemoveParticipant(ctx context.Context, roomID, participantID string) (bool, error)
	IsController(ctx context.Context, roomID, participantID string) bool
	Touch(ctx context.Context, roomID, participantID string) error
}

// CreatedRoom is returned once from Create. The plaintext secret is never
// stored.
type CreatedRoom struct {
	ID     string `json:"room_id"`
	Secret string `json:"room_secret"`
	Name   string `json:"room_name"`
}

// Options configures room lifetime and secret generation.
type Options struct {
	TTL            time.Duration
	SecretBytes    int
	SecretHashCost int
	Logger         zerolog.Logger
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.SecretBytes == 0 {
		o.SecretBytes = 48
	}
	if o.SecretHashCost == 0 {
		o.SecretHashCost = 10
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// action tells a backend what to persist after a mutation.
type action int

const (
	actionNone action = iota
	actionSave
	actionDelete
)

// backend is the persistence seam behind Store. mutate must apply fn
// atomically with respect to other mutations of the same room and may call
// fn more than once.
type backend interface {
	ping(ctx context.Context) error
	get(ctx context.Context, roomID string) (*models.Room, error)
	insert(ctx context.Context, room *models.Room) error
	mutate(ctx context.Context, roomID string, fn func(room *models.Room) (action, error)) error
	remove(ctx context.Context, roomID string) error
}

// Store implements RoomStore on top of a backend.
type Store struct {
	backend   backend
	opts      Options
	dummyHash string
}

func newStore(b backend, opts Options) *Store {
	opts.setDefaults()
	// Unknown rooms are checked against this hash so Authenticate does the
	// same work whether or not the room exists.
	dummy, _ := crypto.HashSecret("promptsync-unknown-room", opts.SecretHashCost)
	return &Store{backend: b, opts: opts, dummyHash: dummy}
}

// Ping checks the backing store.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.ping(ctx)
}

// Create allocates a new room with no participants and a full TTL.
func (s *Store) Create(ctx context.Context, name string) (*CreatedRoom, error) {
	secret, err := crypto.GenerateSecret(s.opts.SecretBytes)
	if err != nil {
		return nil, err
	}
	hash, err := crypto.HashSecret(secret, s.opts.SecretHashCost)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = crypto.RoomName()
	}

	now := s.opts.Now().UTC()
	room := &models.Room{
		ID:           crypto.NewRoomID(),
		Name:         name,
		SecretHash:   hash,
		Participants: []models.Participant{},
		CreatedAt:    now,
		LastActiveAt: now,
		TTL:          s.opts.TTL,
	}

	if err := s.backend.insert(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	metrics.RoomsCreated.Inc()
	s.opts.Logger.Info().Str("room_id", room.ID).Str("room_name", name).Msg("room created")

	return &CreatedRoom{ID: room.ID, Secret: secret, Name: name}, nil
}

// Get returns the room, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, roomID string) (*models.Room, error) {
	if roomID == "" {
		return nil, nil
	}
	return s.backend.get(ctx, roomID)
}

// Authenticate reports whether secret opens roomID. Unknown rooms and store
// errors both yield false.
func (s *Store) Authenticate(ctx context.Context, roomID, secret string) bool {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		s.opts.Logger.Error().Err(err).Str("room_id", roomID).Msg("authenticate: room lookup failed")
	}
	if room == nil {
		crypto.VerifySecret(s.dummyHash, secret)
		return false
	}
	return crypto.VerifySecret(room.SecretHash, secret)
}

// AddParticipant joins a freshly generated participant id to the room.
func (s *Store) AddParticipant(ctx context.Context, roomID string, role models.Role) (string, error) {
	id := crypto.NewParticipantID()
	if err := s.Join(ctx, roomID, id, role); err != nil {
		return "", err
	}
	return id, nil
}

// Join adds participantID to the room. A controller join fails when the
// room already records one; the check and the write happen in one atomic
// mutation.
func (s *Store) Join(ctx context.Context, roomID, participantID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	err := s.backend.mutate(ctx, roomID, func(room *models.Room) (action, error) {
		if role == models.RoleController && room.HasController() {
			return actionNone, ErrControllerTaken
		}
		if room.Participant(participantID) != nil {
			return actionNone, ErrParticipantTaken
		}
		now := s.opts.Now().UTC()
		room.AddParticipant(models.Participant{
			ID:       participantID,
			Role:     role,
			JoinedAt: now,
			LastSeen: now,
		})
		room.TTL = s.opts.TTL
		return actionSave, nil
	})
	if err != nil {
		return err
	}

	s.opts.Logger.Info().
		Str("room_id", roomID).
		Str("participant_id", participantID).
		Str("role", string(role)).
		Msg("participant joined")
	return nil
}

// RemoveParticipant removes participantID and deletes the room once it is
// empty. Removing an absent participant, or from an absent room, returns
// false without error.
func (s *Store) RemoveParticipant(ctx context.Context, roomID, participantID string) (bool, error) {
	var removed, deleted bool
	err := s.backend.mutate(ctx, roomID, func(room *models.Room) (action, error) {
		removed, deleted = false, false
		if !room.RemoveParticipant(participantID, s.opts.Now().UTC()) {
			return actionNone, nil
		}
		removed = true
		if room.IsEmpty() {
			deleted = true
			return actionDelete, nil
		}
		return actionSave, nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if removed {
		s.opts.Logger.Info().Str("room_id", roomID).Str("participant_id", participantID).Msg("participant removed")
	}
	if deleted {
		metrics.RoomsClosed.WithLabelValues("empty").Inc()
		s.opts.Logger.Info().Str("room_id", roomID).Msg("deleted empty room")
	}
	return removed, nil
}

// IsController reports whether participantID holds the controller slot.
func (s *Store) IsController(ctx context.Context, roomID, participantID string) bool {
	if participantID == "" {
		return false
	}
	room, err := s.Get(ctx, roomID)
	if err != nil || room == nil {
		return false
	}
	return room.ControllerID == participantID
}

// Rename changes the room's display name. Returns false for unknown rooms.
func (s *Store) Rename(ctx context.Context, roomID, name string) (bool, error) {
	err := s.backend.mutate(ctx, roomID, func(room *models.Room) (action, error) {
		room.Name = name
		room.LastActiveAt = s.opts.Now().UTC()
		return actionSave, nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Touch refreshes a participant's last-seen time.
func (s *Store) Touch(ctx context.Context, roomID, participantID string) error {
	err := s.backend.mutate(ctx, roomID, func(room *models.Room) (action, error) {
		if !room.Touch(participantID, s.opts.Now().UTC()) {
			return actionNone, nil
		}
		return actionSave, nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}

// RemoveRoom deletes the room regardless of membership.
func (s *Store) RemoveRoom(ctx context.Context, roomID string) error {
	if err := s.backend.remove(ctx, roomID); err != nil {
		return err
	}
	s.opts.Logger.Info().Str("room_id", roomID).Msg("room removed")
	return nil
}

// cloneRoom deep-copies a room so backends never share participant slices
// with callers.
func cloneRoom(r *models.Room) *models.Room {
	c := *r
	c.Participants = append([]models.Participant(nil), r.Participants...)
	return &c
}
