package registry

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

// Errors
var (
	ErrDuplicateWorker = errors.New("worker already registered")
	ErrNotFound        = errors.New("worker not found")
)

// Worker is a registered remote agent and the channel used to reach it.
type Worker struct {
	ID           model.WorkerID
	Channel      transport.Handle
	RegisteredAt time.Time
}

// ChannelCreator is the part of a Transport the registry depends on.
type ChannelCreator interface {
	CreateChannel(ctx context.Context, id model.WorkerID) (transport.Handle, error)
}
