package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

// Dispatcher pumps inbound messages to subscribers, strictly one at a time.
type Dispatcher struct {
	cfg      Config
	source   Receiver
	registry Registrar
	logger   *slog.Logger

	subsMu sync.RWMutex
	subs   map[model.MessageType][]Handler

	running atomic.Bool

	// Lifecycle (Start/Stop)
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	received               atomic.Int64
	dispatched             atomic.Int64
	ignored                atomic.Int64
	decodeErrors           atomic.Int64
	unsupported            atomic.Int64
	handlerErrors          atomic.Int64
	registrations          atomic.Int64
	duplicateRegistrations atomic.Int64
	registrationFailures   atomic.Int64
	receiveErrors          atomic.Int64
}

// New creates a Dispatcher reading from source and registering workers in reg.
func New(cfg Config, source Receiver, reg Registrar, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		source:   source,
		registry: reg,
		logger:   logger,
		subs:     make(map[model.MessageType][]Handler),
	}
}

// Subscribe adds h to the subscribers of message type t. Subscribers run in
// subscription order. Only types the coordinator reacts to can be subscribed.
func (d *Dispatcher) Subscribe(t model.MessageType, h Handler) error {
	if !Subscribable(t) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}

	d.subsMu.Lock()
	d.subs[t] = append(d.subs[t], h)
	d.subsMu.Unlock()
	return nil
}

// SubscribeFunc is Subscribe for a plain function.
func (d *Dispatcher) SubscribeFunc(t model.MessageType, fn func(context.Context, model.Message) error) error {
	return d.Subscribe(t, HandlerFunc(fn))
}

// Start runs the pump in a background goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.lifeMu.Lock()
	d.cancel = cancel
	d.done = done
	d.lifeMu.Unlock()

	go func() {
		defer close(done)
		defer d.running.Store(false)
		if err := d.loop(runCtx); err != nil {
			d.logger.Warn("dispatcher stopped", "error", err)
		}
	}()

	d.logger.Info("dispatcher started",
		"receive_timeout", d.cfg.ReceiveTimeout,
	)
	return nil
}

// Stop signals the pump to exit after the in-flight message and waits for it.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping dispatcher")

	d.lifeMu.Lock()
	cancel, done := d.cancel, d.done
	d.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out")
		return ctx.Err()
	}
}

// Run pumps messages until ctx is cancelled (returns nil) or the transport
// closes (returns transport.ErrTransportClosed). Cancellation is checked
// between messages; a message being handled always runs to completion.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)
	return d.loop(ctx)
}

// loop is the pump body. The caller owns the running flag.
func (d *Dispatcher) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		env, err := d.receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				// Idle; loop to re-check for shutdown.
				continue
			case errors.Is(err, transport.ErrTransportClosed):
				d.logger.Info("inbound channel closed")
				return err
			}

			d.receiveErrors.Add(1)
			d.logger.Warn("failed to receive message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.cfg.ErrorBackoff):
			}
			continue
		}

		d.Dispatch(context.WithoutCancel(ctx), env)
	}
}

// Running reports whether the pump loop is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// receive waits for one envelope, bounded by ReceiveTimeout when set.
func (d *Dispatcher) receive(ctx context.Context) (model.Envelope, error) {
	if d.cfg.ReceiveTimeout <= 0 {
		return d.source.Receive(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, d.cfg.ReceiveTimeout)
	defer cancel()
	return d.source.Receive(rctx)
}

// Dispatch decodes and routes a single envelope. Failures are logged and
// counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, env model.Envelope) {
	d.received.Add(1)

	msg, err := model.Decode(env)
	if err != nil {
		d.decodeErrors.Add(1)
		d.logger.Warn("failed to decode message",
			"content_type", env.ContentType,
			"error", err,
		)
		return
	}

	switch msg.Type {
	case model.MessageTypeRegistration:
		d.handleRegistration(ctx, msg)

	case model.MessageTypeGoTo,
		model.MessageTypeInfect,
		model.MessageTypeResults,
		model.MessageTypeTickEnd:
		d.notify(ctx, msg)

	default:
		// AddAgent, Clear, Start, Tick, AddContainer flow coordinator → worker only.
		d.unsupported.Add(1)
		d.logger.Warn("received unexpected message",
			"type", msg.Type,
			"sender_id", msg.SenderID,
		)
	}
}

// handleRegistration records the sender before any Registration subscriber runs.
func (d *Dispatcher) handleRegistration(ctx context.Context, msg model.Message) {
	_, err := d.registry.Register(ctx, msg.SenderID)
	switch {
	case err == nil:
		d.registrations.Add(1)

	case errors.Is(err, registry.ErrDuplicateWorker):
		d.duplicateRegistrations.Add(1)
		d.logger.Warn("duplicate registration", "sender_id", msg.SenderID)
		ctx = context.WithValue(ctx, registrationErrKey{}, err)

	default:
		d.registrationFailures.Add(1)
		d.logger.Error("failed to register worker",
			"sender_id", msg.SenderID,
			"error", err,
		)
		return
	}

	d.notify(ctx, msg)
}

// notify invokes every subscriber of msg.Type in order.
func (d *Dispatcher) notify(ctx context.Context, msg model.Message) {
	d.subsMu.RLock()
	handlers := d.subs[msg.Type]
	d.subsMu.RUnlock()

	if len(handlers) == 0 {
		d.ignored.Add(1)
		return
	}

	for _, h := range handlers {
		if err := d.invoke(ctx, h, msg); err != nil {
			d.handlerErrors.Add(1)
			d.logger.Error("message handler failed",
				"type", msg.Type,
				"sender_id", msg.SenderID,
				"error", err,
			)
		}
	}
	d.dispatched.Add(1)
}

// invoke calls h, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, msg model.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.HandleMessage(ctx, msg)
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:               d.received.Load(),
		Dispatched:             d.dispatched.Load(),
		Ignored:                d.ignored.Load(),
		DecodeErrors:           d.decodeErrors.Load(),
		Unsupported:            d.unsupported.Load(),
		HandlerErrors:          d.handlerErrors.Load(),
		Registrations:          d.registrations.Load(),
		DuplicateRegistrations: d.duplicateRegistrations.Load(),
		RegistrationFailures:   d.registrationFailures.Load(),
		ReceiveErrors:          d.receiveErrors.Load(),
	}
}
