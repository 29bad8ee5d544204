package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/promptsync/internal/metrics"
	"github.com/eldtechnologies/promptsync/internal/models"
)

// maxTxRetries bounds optimistic-lock retries on a contended room key.
const maxTxRetries = 16

// Connect opens a Redis client with bounded timeouts and verifies it.
func Connect(ctx context.Context, redisURL string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// roomKey returns the key holding a room's JSON document.
func roomKey(roomID string) string {
	return fmt.Sprintf("promptsync:room:%s", roomID)
}

// redisBackend stores each room as one JSON string with a TTL. All
// mutations are WATCH/MULTI/EXEC transactions on that single key.
type redisBackend struct {
	client *redis.Client
}

// NewRedisStore creates a room store shared by every process using client.
func NewRedisStore(client *redis.Client, opts Options) *Store {
	return newStore(&redisBackend{client: client}, opts)
}

func (b *redisBackend) ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) get(ctx context.Context, roomID string) (*models.Room, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	data, err := b.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRoom(roomID, data)
}

func (b *redisBackend) insert(ctx context.Context, room *models.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	ok, err := b.client.SetNX(ctx, roomKey(room.ID), data, room.TTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	return nil
}

func (b *redisBackend) mutate(ctx context.Context, roomID string, fn func(room *models.Room) (action, error)) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	key := roomKey(roomID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		room, err := decodeRoom(roomID, data)
		if err != nil {
			return err
		}

		act, err := fn(room)
		if err != nil {
			return err
		}

		switch act {
		case actionSave:
			encoded, err := json.Marshal(room)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, room.TTL)
				return nil
			})
			return err
		case actionDelete:
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, roomID)
}

func (b *redisBackend) remove(ctx context.Context, roomID string) error {
	return b.client.Del(ctx, roomKey(roomID)).Err()
}

func decodeRoom(roomID string, data []byte) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &room, nil
}
