package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

// DB is the subset of *pgxpool.Pool the transport uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds queue transport settings.
type Config struct {
	Inbound      string        // Coordinator's inbound queue name
	PollInterval time.Duration // Wait after an empty poll (default: 200ms)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Inbound:      "coordinator",
		PollInterval: 200 * time.Millisecond,
	}
}

type handle struct {
	name string
}

func (h handle) Channel() string { return h.name }

// Transport is a transport.Transport over PostgreSQL queues.
type Transport struct {
	cfg    Config
	db     DB
	logger *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Drainer = (*Transport)(nil)

// New creates a Transport. The caller owns db.
func New(cfg Config, db DB, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Transport{
		cfg:    cfg,
		db:     db,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// EnsureSchema creates the queue tables and the inbound queue if missing.
func (t *Transport) EnsureSchema(ctx context.Context) error {
	batch := &pgx.Batch{}
	for _, stmt := range schemaStatements {
		batch.Queue(stmt)
	}
	batch.Queue(createQueueSQL, t.cfg.Inbound)

	results := t.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("ensure schema (statement %d): %w", i, err)
		}
	}
	return nil
}

// CreateChannel creates the queue for id if it does not exist.
func (t *Transport) CreateChannel(ctx context.Context, id model.WorkerID) (transport.Handle, error) {
	if t.isClosed() {
		return nil, fmt.Errorf("%w: %v", transport.ErrChannelCreateFailed, transport.ErrTransportClosed)
	}

	name := transport.ChannelName(id)
	ct, err := t.db.Exec(ctx, createQueueSQL, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrChannelCreateFailed, name, err)
	}
	if ct.RowsAffected() == 0 {
		t.logger.Debug("queue already exists", "queue", name)
	}
	return handle{name: name}, nil
}

// Send appends env to the queue behind h.
func (t *Transport) Send(ctx context.Context, h transport.Handle, env model.Envelope) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", transport.ErrTransportFailure)
	}
	return t.Enqueue(ctx, h.Channel(), env)
}

// Enqueue appends env to the named queue. Workers use it to reach the
// coordinator's inbound queue.
func (t *Transport) Enqueue(ctx context.Context, queue string, env model.Envelope) error {
	if t.isClosed() {
		return fmt.Errorf("%w: %v", transport.ErrTransportFailure, transport.ErrTransportClosed)
	}
	if _, err := t.db.Exec(ctx, enqueueSQL, queue, env.ContentType, env.Body); err != nil {
		return fmt.Errorf("%w: enqueue to %s: %v", transport.ErrTransportFailure, queue, err)
	}
	return nil
}

// Receive polls the inbound queue until a message arrives, ctx ends, or the
// transport is closed.
func (t *Transport) Receive(ctx context.Context) (model.Envelope, error) {
	return t.ReceiveFrom(ctx, t.cfg.Inbound)
}

// ReceiveFrom polls the named queue. Workers use it to read their own channel.
func (t *Transport) ReceiveFrom(ctx context.Context, queue string) (model.Envelope, error) {
	for {
		if t.isClosed() {
			return model.Envelope{}, transport.ErrTransportClosed
		}
		if err := ctx.Err(); err != nil {
			return model.Envelope{}, err
		}

		env, ok, err := t.takeOne(ctx, queue)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return model.Envelope{}, ctxErr
			}
			return model.Envelope{}, fmt.Errorf("%w: receive from %s: %v", transport.ErrTransportFailure, queue, err)
		}
		if ok {
			return env, nil
		}

		select {
		case <-ctx.Done():
			return model.Envelope{}, ctx.Err()
		case <-t.closed:
			return model.Envelope{}, transport.ErrTransportClosed
		case <-time.After(t.cfg.PollInterval):
		}
	}
}

// Drain deletes every pending message on the inbound queue.
func (t *Transport) Drain(ctx context.Context) (int, error) {
	ct, err := t.db.Exec(ctx, drainSQL, t.cfg.Inbound)
	if err != nil {
		return 0, fmt.Errorf("drain %s: %w", t.cfg.Inbound, err)
	}
	n := int(ct.RowsAffected())
	if n > 0 {
		t.logger.Info("drained stale inbound messages", "queue", t.cfg.Inbound, "count", n)
	}
	return n, nil
}

// Close stops Receive. The pool is left open for its owner to close.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// takeOne deletes and returns the oldest message of queue, if any.
func (t *Transport) takeOne(ctx context.Context, queue string) (model.Envelope, bool, error) {
	var env model.Envelope
	err := t.db.QueryRow(ctx, receiveSQL, queue).Scan(&env.ContentType, &env.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Envelope{}, false, nil
	}
	if err != nil {
		return model.Envelope{}, false, err
	}
	return env, true, nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
