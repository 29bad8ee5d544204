package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/promptsync/internal/crypto"
	"github.com/eldtechnologies/promptsync/internal/metrics"
	"github.com/eldtechnologies/promptsync/internal/protocol"
)

// topicPrefix namespaces relay channels. One pattern subscription on
// topicPrefix+"*" covers every room, so rooms come and go without
// subscription churn on the broker.
const topicPrefix = "promptsync:relay:"

// RedisOptions configures a Redis fanout.
type RedisOptions struct {
	InstanceID string
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Redis is a Fanout over Redis pub/sub.
type Redis struct {
	client     *redis.Client
	instanceID string
	timeout    time.Duration
	logger     zerolog.Logger
	healthy    atomic.Bool

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedis creates a fanout publishing through client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.InstanceID == "" {
		opts.InstanceID = crypto.NewInstanceID()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	r := &Redis{
		client:     client,
		instanceID: opts.InstanceID,
		timeout:    opts.Timeout,
		logger:     opts.Logger.With().Str("component", "fanout").Str("instance", opts.InstanceID).Logger(),
	}
	r.healthy.Store(true)
	return r
}

// Topic returns the broker channel for a room.
func Topic(roomID string) string {
	return topicPrefix + roomID
}

// InstanceID returns the origin stamped on published envelopes.
func (r *Redis) InstanceID() string {
	return r.instanceID
}

// Available reports the last observed broker health.
func (r *Redis) Available() bool {
	return r.healthy.Load()
}

// Check pings the broker.
func (r *Redis) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.healthy.Store(false)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	r.healthy.Store(true)
	return nil
}

// Publish sends env to every process subscribed to topic.
func (r *Redis) Publish(ctx context.Context, topic string, env protocol.Envelope) error {
	env.Relayed = true
	env.Origin = r.instanceID
	if env.ID == "" {
		env.ID = crypto.NewMessageID()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Publish(ctx, Topic(topic), data).Err(); err != nil {
		r.healthy.Store(false)
		metrics.BrokerPublishFailures.Inc()
		r.logger.Warn().Err(err).Str("room_id", env.RoomID).Str("kind", string(env.Kind)).Msg("publish failed, delivering locally only")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	r.healthy.Store(true)
	return nil
}

// Subscribe starts the receive loop for pattern. It returns once the broker
// has confirmed the subscription.
func (r *Redis) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return ErrAlreadySubscribed
	}

	ps := r.client.PSubscribe(ctx, topicPrefix+pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		r.healthy.Store(false)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.pubsub = ps
	r.done = make(chan struct{})
	go r.listen(ctx, ps.Channel(), handler, r.done)

	r.logger.Info().Str("pattern", topicPrefix+pattern).Msg("subscribed to relay pattern")
	return nil
}

func (r *Redis) listen(ctx context.Context, ch <-chan *redis.Message, handler Handler, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.dispatch(ctx, msg, handler)
		}
	}
}

// dispatch applies loop prevention: envelopes this process published were
// already delivered locally and are dropped; all others are unmarked and
// handed to the handler, which only delivers locally.
func (r *Redis) dispatch(ctx context.Context, msg *redis.Message, handler Handler) {
	env, err := protocol.DecodeEnvelope([]byte(msg.Payload))
	if err != nil {
		r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable envelope")
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	if !env.Relayed {
		r.logger.Warn().Str("channel", msg.Channel).Msg("dropping envelope without relay marker")
		return
	}
	if room := strings.TrimPrefix(msg.Channel, topicPrefix); room != env.RoomID {
		r.logger.Warn().Str("channel", msg.Channel).Str("room_id", env.RoomID).Msg("envelope room does not match channel")
		return
	}

	env.Relayed = false
	handler(ctx, env)
}

// Close stops the receive loop.
func (r *Redis) Close() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}
