package distributor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
)

// Distributor chooses destinations from the registry and sends through the transport.
type Distributor struct {
	workers WorkerSource
	sender  Sender
	nodeID  model.WorkerID
	logger  *slog.Logger

	sent       atomic.Int64
	sendErrors atomic.Int64
}

// New creates a Distributor. Messages without a sender are stamped with nodeID.
func New(workers WorkerSource, sender Sender, nodeID model.WorkerID, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		workers: workers,
		sender:  sender,
		nodeID:  nodeID,
		logger:  logger,
	}
}

// SendToOne sends msg to a single registered worker.
// Returns ErrUnknownWorker, without sending, if id is not registered.
func (d *Distributor) SendToOne(ctx context.Context, msg model.Message, id model.WorkerID) error {
	w, ok := d.workers.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}

	env, err := d.encode(msg)
	if err != nil {
		return err
	}
	return d.send(ctx, w, env)
}

// SendToAll sends one copy of msg to every registered worker in registration order.
// With no workers registered it does nothing. The first transport failure aborts
// the fan-out; workers earlier in the order have already received the message.
func (d *Distributor) SendToAll(ctx context.Context, msg model.Message) error {
	workers := d.workers.Enumerate()
	if len(workers) == 0 {
		d.logger.Debug("fan-out with no registered workers", "type", msg.Type)
		return nil
	}

	env, err := d.encode(msg)
	if err != nil {
		return err
	}

	for _, w := range workers {
		if err := d.send(ctx, w, env); err != nil {
			return err
		}
	}

	d.logger.Debug("fan-out complete", "type", msg.Type, "workers", len(workers))
	return nil
}

// SendSpread assigns msgs[i] to worker i mod n of one registry snapshot and sends
// each. The result lists assignments in input order. Returns ErrEmptyRegistry
// when msgs is non-empty and no workers are registered. On a transport failure
// the assignments completed so far are returned with the error.
func (d *Distributor) SendSpread(ctx context.Context, msgs []model.Message) ([]Assignment, error) {
	if len(msgs) == 0 {
		return []Assignment{}, nil
	}

	workers := d.workers.Enumerate()
	if len(workers) == 0 {
		return nil, ErrEmptyRegistry
	}

	assignments := make([]Assignment, 0, len(msgs))
	for i, msg := range msgs {
		w := workers[i%len(workers)]

		env, err := d.encode(msg)
		if err != nil {
			return assignments, fmt.Errorf("spread message %d: %w", i, err)
		}
		if err := d.send(ctx, w, env); err != nil {
			return assignments, fmt.Errorf("spread message %d: %w", i, err)
		}

		assignments = append(assignments, Assignment{
			Index:    i,
			Message:  msg,
			WorkerID: w.ID,
		})
	}

	d.logger.Debug("spread complete", "messages", len(msgs), "workers", len(workers))
	return assignments, nil
}

// Stats returns current statistics.
func (d *Distributor) Stats() Stats {
	return Stats{
		MessagesSent: d.sent.Load(),
		SendErrors:   d.sendErrors.Load(),
	}
}

func (d *Distributor) encode(msg model.Message) (model.Envelope, error) {
	if msg.SenderID.IsNil() {
		msg.SenderID = d.nodeID
	}
	env, err := model.Encode(msg)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encode outbound message: %w", err)
	}
	return env, nil
}

func (d *Distributor) send(ctx context.Context, w registry.Worker, env model.Envelope) error {
	if err := d.sender.Send(ctx, w.Channel, env); err != nil {
		d.sendErrors.Add(1)
		d.logger.Warn("send failed",
			"worker_id", w.ID,
			"content_type", env.ContentType,
			"error", err,
		)
		return fmt.Errorf("send to %s: %w", w.ID, err)
	}
	d.sent.Add(1)
	return nil
}
