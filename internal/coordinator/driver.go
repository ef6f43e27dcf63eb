package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rickgao/sim-coordinator/internal/dispatcher"
	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
)

// Roster is the view of the registry the driver needs.
type Roster interface {
	Count() int
	IDs() []model.WorkerID
}

// Broadcaster sends coordinator messages to individual workers.
type Broadcaster interface {
	SendToOne(ctx context.Context, msg model.Message, id model.WorkerID) error
}

// TickDriver steps the simulation. Once MinWorkers have registered it sends
// Start and then Tick 1. Tick n+1 is sent when every worker registered when
// tick n began has reported TickEnd. Workers joining mid-run receive Start
// immediately and take part from the next tick. A worker whose Start or Tick
// cannot be delivered is not waited on for that tick.
type TickDriver struct {
	cfg    SimulationConfig
	roster Roster
	out    Broadcaster
	logger *slog.Logger

	mu          sync.Mutex
	phase       Phase
	tick        int
	tickStarted time.Time
	pending     map[model.WorkerID]struct{}
	done        chan struct{}

	results       int64
	goTos         int64
	infections    int64
	staleTickEnds int64
	sendFailures  int64
}

// NewTickDriver creates a TickDriver. With cfg.MinWorkers <= 0 the driver only
// counts reports and never starts the simulation.
func NewTickDriver(cfg SimulationConfig, roster Roster, out Broadcaster, logger *slog.Logger) *TickDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickDriver{
		cfg:     cfg,
		roster:  roster,
		out:     out,
		logger:  logger,
		pending: make(map[model.WorkerID]struct{}),
		done:    make(chan struct{}),
	}
}

// Enabled reports whether the driver will start the simulation.
func (d *TickDriver) Enabled() bool {
	return d.cfg.MinWorkers > 0
}

// Done is closed once MaxTicks ticks have completed.
func (d *TickDriver) Done() <-chan struct{} {
	return d.done
}

// Subscribe attaches the driver's handlers to disp.
func (d *TickDriver) Subscribe(disp *dispatcher.Dispatcher) error {
	subs := []struct {
		t model.MessageType
		h dispatcher.HandlerFunc
	}{
		{model.MessageTypeRegistration, d.HandleRegistration},
		{model.MessageTypeTickEnd, d.HandleTickEnd},
		{model.MessageTypeResults, d.HandleReport},
		{model.MessageTypeGoTo, d.HandleReport},
		{model.MessageTypeInfect, d.HandleReport},
	}
	for _, s := range subs {
		if err := disp.Subscribe(s.t, s.h); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.t, err)
		}
	}
	return nil
}

// HandleRegistration starts the simulation when enough workers are present,
// or brings a late joiner up to date.
func (d *TickDriver) HandleRegistration(ctx context.Context, msg model.Message) error {
	if errors.Is(dispatcher.RegistrationErr(ctx), registry.ErrDuplicateWorker) {
		return nil
	}
	if !d.Enabled() {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.phase {
	case PhaseWaiting:
		count := d.roster.Count()
		if count < d.cfg.MinWorkers {
			d.logger.Info("waiting for workers",
				"registered", count,
				"required", d.cfg.MinWorkers,
			)
			return nil
		}
		return d.start(ctx)

	case PhaseRunning:
		d.logger.Info("worker joined running simulation",
			"worker_id", msg.SenderID,
			"next_tick", d.tick+1,
		)
		if err := d.out.SendToOne(ctx, model.Message{Type: model.MessageTypeStart}, msg.SenderID); err != nil {
			d.sendFailures++
			return fmt.Errorf("send start to %s: %w", msg.SenderID, err)
		}
		if len(d.pending) == 0 {
			// Nobody received the current tick; rerun it with the newcomer.
			return d.beginTick(ctx, d.tick)
		}
	}
	return nil
}

// HandleTickEnd records a worker's completion of the current tick.
func (d *TickDriver) HandleTickEnd(ctx context.Context, msg model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase != PhaseRunning {
		d.staleTickEnds++
		return nil
	}
	if n, ok := payloadTick(msg.Payload); ok && n != d.tick {
		d.staleTickEnds++
		d.logger.Debug("ignoring stale tick end",
			"worker_id", msg.SenderID,
			"tick", n,
			"current_tick", d.tick,
		)
		return nil
	}
	if _, ok := d.pending[msg.SenderID]; !ok {
		d.logger.Debug("tick end from worker not in this tick", "worker_id", msg.SenderID)
		return nil
	}

	delete(d.pending, msg.SenderID)
	if len(d.pending) > 0 {
		return nil
	}
	return d.advance(ctx)
}

// HandleReport counts Results, GoTo and Infect reports.
func (d *TickDriver) HandleReport(_ context.Context, msg model.Message) error {
	d.mu.Lock()
	switch msg.Type {
	case model.MessageTypeResults:
		d.results++
	case model.MessageTypeGoTo:
		d.goTos++
	case model.MessageTypeInfect:
		d.infections++
	}
	tick := d.tick
	d.mu.Unlock()

	d.logger.Debug("worker report",
		"type", msg.Type,
		"worker_id", msg.SenderID,
		"tick", tick,
		"payload_bytes", len(msg.Payload),
	)
	return nil
}

// Forget removes id from the set of workers the current tick waits on.
// The next tick is sent if id was the last one outstanding.
func (d *TickDriver) Forget(ctx context.Context, id model.WorkerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[id]; !ok {
		return nil
	}
	delete(d.pending, id)
	if d.phase == PhaseRunning && len(d.pending) == 0 {
		return d.advance(ctx)
	}
	return nil
}

// Stats returns current statistics.
func (d *TickDriver) Stats() TickStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return TickStats{
		Phase:         d.phase,
		Tick:          d.tick,
		Pending:       len(d.pending),
		TickStarted:   d.tickStarted,
		Results:       d.results,
		GoTos:         d.goTos,
		Infections:    d.infections,
		StaleTickEnds: d.staleTickEnds,
		SendFailures:  d.sendFailures,
	}
}

// start must be called with mu held.
func (d *TickDriver) start(ctx context.Context) error {
	started := d.sendEach(ctx, model.Message{Type: model.MessageTypeStart}, d.roster.IDs())
	d.phase = PhaseRunning
	d.logger.Info("simulation started",
		"workers", len(started),
		"max_ticks", d.cfg.MaxTicks,
	)
	return d.beginTick(ctx, 1)
}

// advance must be called with mu held.
func (d *TickDriver) advance(ctx context.Context) error {
	d.logger.Info("tick complete",
		"tick", d.tick,
		"duration", time.Since(d.tickStarted),
	)

	if d.cfg.MaxTicks > 0 && d.tick >= d.cfg.MaxTicks {
		d.phase = PhaseFinished
		close(d.done)
		d.logger.Info("simulation finished", "ticks", d.tick)
		return nil
	}
	return d.beginTick(ctx, d.tick+1)
}

// beginTick must be called with mu held.
func (d *TickDriver) beginTick(ctx context.Context, n int) error {
	payload, err := json.Marshal(TickPayload{Tick: n})
	if err != nil {
		return fmt.Errorf("encode tick payload: %w", err)
	}

	d.tick = n
	d.tickStarted = time.Now()
	d.pending = make(map[model.WorkerID]struct{})
	for _, id := range d.sendEach(ctx, model.Message{Type: model.MessageTypeTick, Payload: payload}, d.roster.IDs()) {
		d.pending[id] = struct{}{}
	}

	if len(d.pending) == 0 {
		d.logger.Warn("tick reached no workers, waiting for a registration", "tick", n)
		return nil
	}
	d.logger.Debug("tick sent", "tick", n, "workers", len(d.pending))
	return nil
}

// sendEach sends msg to every id and returns the ids it was delivered to.
// Failures are logged and counted; they do not stop the fan-out.
func (d *TickDriver) sendEach(ctx context.Context, msg model.Message, ids []model.WorkerID) []model.WorkerID {
	delivered := make([]model.WorkerID, 0, len(ids))
	for _, id := range ids {
		if err := d.out.SendToOne(ctx, msg, id); err != nil {
			d.sendFailures++
			d.logger.Warn("failed to reach worker",
				"type", msg.Type,
				"worker_id", id,
				"tick", d.tick,
				"error", err,
			)
			continue
		}
		delivered = append(delivered, id)
	}
	return delivered
}

// payloadTick extracts the tick number from a TickEnd payload, if present.
func payloadTick(payload []byte) (int, bool) {
	if len(payload) == 0 {
		return 0, false
	}
	field := gjson.GetBytes(payload, "tick")
	if field.Type != gjson.Number {
		return 0, false
	}
	return int(field.Int()), true
}
