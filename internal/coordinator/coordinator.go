package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/sim-coordinator/internal/dispatcher"
	"github.com/rickgao/sim-coordinator/internal/distributor"
	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

// Coordinator is one coordinator node bound to a transport.
type Coordinator struct {
	cfg       Config
	transport transport.Transport
	logger    *slog.Logger

	registry    *registry.Registry
	dispatcher  *dispatcher.Dispatcher
	distributor *distributor.Distributor
	driver      *TickDriver
}

// New wires a registry, dispatcher, distributor and tick driver over tr.
func New(cfg Config, tr transport.Transport, logger *slog.Logger) (*Coordinator, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	if cfg.NodeID.IsNil() {
		return nil, ErrInvalidNodeID
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(tr, logger.With("component", "registry"))
	disp := dispatcher.New(cfg.Dispatcher, tr, reg, logger.With("component", "dispatcher"))
	dist := distributor.New(reg, tr, cfg.NodeID, logger.With("component", "distributor"))
	driver := NewTickDriver(cfg.Simulation, reg, dist, logger.With("component", "ticks"))

	if err := driver.Subscribe(disp); err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:         cfg,
		transport:   tr,
		logger:      logger,
		registry:    reg,
		dispatcher:  disp,
		distributor: dist,
		driver:      driver,
	}, nil
}

// NodeID returns the id stamped on outbound messages.
func (c *Coordinator) NodeID() model.WorkerID { return c.cfg.NodeID }

// Registry returns the worker registry.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Dispatcher returns the inbound pump. Subscribe to it before Start.
func (c *Coordinator) Dispatcher() *dispatcher.Dispatcher { return c.dispatcher }

// Distributor returns the outbound sender.
func (c *Coordinator) Distributor() *distributor.Distributor { return c.distributor }

// Driver returns the tick driver.
func (c *Coordinator) Driver() *TickDriver { return c.driver }

// Start begins pumping inbound messages in the background.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("coordinator starting",
		"node_id", c.cfg.NodeID,
		"min_workers", c.cfg.Simulation.MinWorkers,
		"max_ticks", c.cfg.Simulation.MaxTicks,
	)
	return c.dispatcher.Start(ctx)
}

// Run pumps inbound messages until ctx is cancelled or the transport closes.
func (c *Coordinator) Run(ctx context.Context) error {
	return c.dispatcher.Run(ctx)
}

// Stop waits for the in-flight message to finish and stops the pump.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.dispatcher.Stop(ctx)
}

// Deregister removes a worker and releases any tick waiting on it.
func (c *Coordinator) Deregister(ctx context.Context, id model.WorkerID) error {
	if err := c.registry.Deregister(id); err != nil {
		return err
	}
	return c.driver.Forget(ctx, id)
}

// Drain discards inbound messages left on the transport. Transports without
// a backlog report zero.
func (c *Coordinator) Drain(ctx context.Context) (int, error) {
	d, ok := c.transport.(transport.Drainer)
	if !ok {
		return 0, nil
	}
	n, err := d.Drain(ctx)
	if err != nil {
		return n, fmt.Errorf("drain inbound: %w", err)
	}
	return n, nil
}

// Close stops the pump if needed and closes the transport.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.dispatcher.Running() {
		if err := c.dispatcher.Stop(ctx); err != nil {
			c.logger.Warn("dispatcher did not stop cleanly", "error", err)
		}
	}
	return c.transport.Close()
}

// Stats returns statistics from every component.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Workers:     c.registry.Count(),
		Dispatcher:  c.dispatcher.Stats(),
		Distributor: c.distributor.Stats(),
		Ticks:       c.driver.Stats(),
	}
}
