package distributor

import (
	"context"
	"errors"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

// Errors
var (
	ErrUnknownWorker = errors.New("unknown worker")
	ErrEmptyRegistry = errors.New("no registered workers")
)

// WorkerSource is the read side of the worker registry.
type WorkerSource interface {
	Lookup(id model.WorkerID) (registry.Worker, bool)
	Enumerate() []registry.Worker
}

// Sender is the outbound half of a Transport.
type Sender interface {
	Send(ctx context.Context, h transport.Handle, env model.Envelope) error
}

// Assignment records which worker a spread message was sent to. Index is the
// message's position in the input batch.
type Assignment struct {
	Index    int
	Message  model.Message
	WorkerID model.WorkerID
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesSent int64
	SendErrors   int64
}
