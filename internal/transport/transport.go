package transport

import (
	"context"
	"errors"

	"github.com/rickgao/sim-coordinator/internal/model"
)

// Errors
var (
	ErrChannelCreateFailed = errors.New("channel create failed")
	ErrTransportFailure    = errors.New("transport failure")
	ErrTransportClosed     = errors.New("transport closed")
)

// Handle references an outbound channel created by a Transport. The registry keeps
// handles for routing; the Transport that created one owns its resources.
type Handle interface {
	// Channel returns the channel name.
	Channel() string
}

// Transport moves envelopes between the coordinator and its workers.
type Transport interface {
	// CreateChannel returns a handle to the outbound channel for worker id.
	// Fails with ErrChannelCreateFailed.
	CreateChannel(ctx context.Context, id model.WorkerID) (Handle, error)

	// Send delivers env on the channel referenced by h. Fails with ErrTransportFailure.
	Send(ctx context.Context, h Handle, env model.Envelope) error

	// Receive blocks until an inbound envelope arrives, ctx ends, or the transport
	// shuts down (ErrTransportClosed).
	Receive(ctx context.Context) (model.Envelope, error)

	// Close releases transport resources and unblocks Receive.
	Close() error
}

// Drainer is implemented by transports whose inbound channel outlives the process
// and can accumulate stale messages.
type Drainer interface {
	// Drain discards pending inbound messages and returns how many were removed.
	Drain(ctx context.Context) (int, error)
}

// ChannelName returns the conventional channel name for a worker.
func ChannelName(id model.WorkerID) string {
	return id.String()
}
