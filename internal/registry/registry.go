package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/sim-coordinator/internal/model"
)

// Registry is the coordinator's in-memory table of known workers.
type Registry struct {
	channels ChannelCreator
	logger   *slog.Logger

	// regMu serialises registrations so channel creation happens outside mu.
	regMu sync.Mutex

	mu    sync.RWMutex
	order []Worker               // Registration order
	index map[model.WorkerID]int // id → position in order
}

// New creates an empty registry that opens channels through channels.
func New(channels ChannelCreator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: channels,
		logger:   logger,
		index:    make(map[model.WorkerID]int),
	}
}

// Register adds a worker and creates its outbound channel.
//
// Re-registering a known id returns the existing Worker with ErrDuplicateWorker and
// leaves the registry unchanged. Channel creation errors are returned as-is and
// nothing is stored.
func (r *Registry) Register(ctx context.Context, id model.WorkerID) (Worker, error) {
	r.regMu.Lock()
	defer r.regMu.Unlock()

	if w, ok := r.Lookup(id); ok {
		return w, fmt.Errorf("%w: %s", ErrDuplicateWorker, id)
	}

	h, err := r.channels.CreateChannel(ctx, id)
	if err != nil {
		return Worker{}, fmt.Errorf("register %s: %w", id, err)
	}

	w := Worker{
		ID:           id,
		Channel:      h,
		RegisteredAt: time.Now(),
	}

	r.mu.Lock()
	r.index[id] = len(r.order)
	r.order = append(r.order, w)
	count := len(r.order)
	r.mu.Unlock()

	r.logger.Info("worker registered",
		"worker_id", id,
		"channel", h.Channel(),
		"workers", count,
	)

	return w, nil
}

// Deregister removes a worker. Remaining workers keep their relative order.
func (r *Registry) Deregister(id model.WorkerID) error {
	r.regMu.Lock()
	defer r.regMu.Unlock()

	r.mu.Lock()
	pos, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// Build a fresh slice so snapshots handed out earlier stay intact.
	order := make([]Worker, 0, len(r.order)-1)
	order = append(order, r.order[:pos]...)
	order = append(order, r.order[pos+1:]...)
	r.order = order

	delete(r.index, id)
	for i := pos; i < len(r.order); i++ {
		r.index[r.order[i].ID] = i
	}
	count := len(r.order)
	r.mu.Unlock()

	r.logger.Info("worker deregistered", "worker_id", id, "workers", count)
	return nil
}

// Lookup returns the worker registered under id.
func (r *Registry) Lookup(id model.WorkerID) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.index[id]
	if !ok {
		return Worker{}, false
	}
	return r.order[pos], true
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Enumerate returns a snapshot of all workers in registration order.
// The returned slice is owned by the caller.
func (r *Registry) Enumerate() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Worker, len(r.order))
	copy(snapshot, r.order)
	return snapshot
}

// IDs returns the registered worker ids in registration order.
func (r *Registry) IDs() []model.WorkerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]model.WorkerID, len(r.order))
	for i, w := range r.order {
		ids[i] = w.ID
	}
	return ids
}
