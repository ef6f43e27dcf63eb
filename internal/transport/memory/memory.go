package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/queue"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

// Config holds in-memory transport settings.
type Config struct {
	InboundBufferSize int // Initial inbound capacity (default: 1000)
	ChannelBufferSize int // Initial per-channel capacity (default: 100)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InboundBufferSize: 1000,
		ChannelBufferSize: 100,
	}
}

type handle struct {
	name string
	buf  *queue.GrowableBuffer[model.Envelope]
}

func (h *handle) Channel() string { return h.name }

// Transport is an in-process transport.Transport.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	inbound *queue.GrowableBuffer[model.Envelope]

	mu       sync.RWMutex
	channels map[string]*handle
	closed   bool

	// Failure injection
	createErr error
	sendErr   error
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Drainer = (*Transport)(nil)

// New creates an in-memory transport.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:      cfg,
		logger:   logger,
		inbound:  queue.NewGrowableBuffer[model.Envelope](cfg.InboundBufferSize),
		channels: make(map[string]*handle),
	}
}

// CreateChannel returns the channel for id, creating it on first use.
func (t *Transport) CreateChannel(ctx context.Context, id model.WorkerID) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrChannelCreateFailed, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("%w: %v", transport.ErrChannelCreateFailed, transport.ErrTransportClosed)
	}
	if t.createErr != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrChannelCreateFailed, t.createErr)
	}

	name := transport.ChannelName(id)
	if h, ok := t.channels[name]; ok {
		return h, nil
	}

	h := &handle{
		name: name,
		buf:  queue.NewGrowableBuffer[model.Envelope](t.cfg.ChannelBufferSize),
	}
	t.channels[name] = h
	t.logger.Debug("channel created", "channel", name)
	return h, nil
}

// Send appends env to the channel's queue.
func (t *Transport) Send(ctx context.Context, h transport.Handle, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportFailure, err)
	}

	t.mu.RLock()
	sendErr := t.sendErr
	t.mu.RUnlock()
	if sendErr != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportFailure, sendErr)
	}

	mh, ok := h.(*handle)
	if !ok || mh == nil {
		return fmt.Errorf("%w: foreign handle %T", transport.ErrTransportFailure, h)
	}
	if !mh.buf.Send(env) {
		return fmt.Errorf("%w: channel %s closed", transport.ErrTransportFailure, mh.name)
	}
	return nil
}

// Receive blocks until an inbound envelope is available.
func (t *Transport) Receive(ctx context.Context) (model.Envelope, error) {
	env, err := t.inbound.ReceiveContext(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return model.Envelope{}, transport.ErrTransportClosed
	}
	return env, err
}

// Drain discards pending inbound envelopes.
func (t *Transport) Drain(ctx context.Context) (int, error) {
	n := len(t.inbound.DrainTo(0))
	if n > 0 {
		t.logger.Info("drained stale inbound messages", "count", n)
	}
	return n, nil
}

// Close closes every channel and the inbound queue.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	t.inbound.Close()
	for _, h := range t.channels {
		h.buf.Close()
	}
	return nil
}

// Deliver injects an inbound envelope, as if a worker had sent it.
// Returns false once the transport is closed.
func (t *Transport) Deliver(env model.Envelope) bool {
	return t.inbound.Send(env)
}

// DeliverMessage encodes msg and injects it as inbound traffic.
func (t *Transport) DeliverMessage(msg model.Message) error {
	env, err := model.Encode(msg)
	if err != nil {
		return err
	}
	if !t.Deliver(env) {
		return transport.ErrTransportClosed
	}
	return nil
}

// Outbox returns the queue behind id's channel, or nil if it was never created.
func (t *Transport) Outbox(id model.WorkerID) *queue.GrowableBuffer[model.Envelope] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, ok := t.channels[transport.ChannelName(id)]; ok {
		return h.buf
	}
	return nil
}

// Channels returns the number of channels created so far.
func (t *Transport) Channels() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}

// FailCreate makes subsequent CreateChannel calls fail with err (nil restores normal behaviour).
func (t *Transport) FailCreate(err error) {
	t.mu.Lock()
	t.createErr = err
	t.mu.Unlock()
}

// FailSends makes subsequent Send calls fail with err (nil restores normal behaviour).
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}
