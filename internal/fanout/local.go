package fanout

import (
	"context"

	"github.com/eldtechnologies/promptsync/internal/crypto"
	"github.com/eldtechnologies/promptsync/internal/protocol"
)

// Local is the degraded single-process fanout used when no broker is
// reachable. Publishing is a no-op and subscriptions never fire.
type Local struct {
	instanceID string
}

// NewLocal creates a broker-less fanout.
func NewLocal(instanceID string) *Local {
	if instanceID == "" {
		instanceID = crypto.NewInstanceID()
	}
	return &Local{instanceID: instanceID}
}

func (l *Local) Publish(context.Context, string, protocol.Envelope) error { return nil }

func (l *Local) Subscribe(context.Context, string, Handler) error { return nil }

func (l *Local) Available() bool { return false }

func (l *Local) Check(context.Context) error { return ErrUnavailable }

func (l *Local) InstanceID() string { return l.instanceID }

func (l *Local) Close() error { return nil }
