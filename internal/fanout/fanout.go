// Package fanout relays room messages between server processes over a
// shared broker.
package fanout

import (
	"context"
	"errors"

	"github.com/eldtechnologies/promptsync/internal/protocol"
)

var (
	ErrUnavailable       = errors.New("broker unavailable")
	ErrAlreadySubscribed = errors.New("fanout already has a subscription")
)

// Handler receives envelopes published by other processes. The
// loop-prevention marker is already cleared.
type Handler func(ctx context.Context, env protocol.Envelope)

// Fanout publishes envelopes to every process subscribed to a room topic.
type Fanout interface {
	// Publish marks env as relayed and sends it on topic. Best-effort:
	// callers log and continue on error.
	Publish(ctx context.Context, topic string, env protocol.Envelope) error
	// Subscribe registers the process's single handler for every topic
	// matching pattern.
	Subscribe(ctx context.Context, pattern string, handler Handler) error
	// Available reports whether the broker connection is healthy.
	Available() bool
	// Check probes the broker and updates Available.
	Check(ctx context.Context) error
	// InstanceID identifies this process on the broker.
	InstanceID() string
	Close() error
}

// AllRooms is the pattern matching every room topic.
const AllRooms = "*"
