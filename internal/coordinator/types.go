package coordinator

import (
	"errors"
	"time"

	"github.com/rickgao/sim-coordinator/internal/dispatcher"
	"github.com/rickgao/sim-coordinator/internal/distributor"
	"github.com/rickgao/sim-coordinator/internal/model"
)

// Errors
var (
	ErrNilTransport  = errors.New("transport is required")
	ErrInvalidNodeID = errors.New("node id must not be nil")
)

// Config holds Coordinator configuration.
type Config struct {
	NodeID     model.WorkerID
	Dispatcher dispatcher.Config
	Simulation SimulationConfig
}

// SimulationConfig controls the tick driver.
type SimulationConfig struct {
	MinWorkers int // Workers required before Start is sent (0 = driver disabled)
	MaxTicks   int // Ticks to run before finishing (0 = unbounded)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(nodeID model.WorkerID) Config {
	return Config{
		NodeID:     nodeID,
		Dispatcher: dispatcher.DefaultConfig(),
		Simulation: SimulationConfig{
			MinWorkers: 1,
		},
	}
}

// Phase is the tick driver's lifecycle state.
type Phase uint8

const (
	PhaseWaiting Phase = iota // Fewer than MinWorkers registered
	PhaseRunning              // Ticks in progress
	PhaseFinished             // MaxTicks completed
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// TickPayload is the payload of Tick and TickEnd messages.
type TickPayload struct {
	Tick int `json:"tick"`
}

// TickStats contains tick driver statistics.
type TickStats struct {
	Phase         Phase
	Tick          int       // Current (or last) tick number, 1-based
	Pending       int       // Workers yet to report TickEnd for Tick
	TickStarted   time.Time // When Tick was sent
	Results       int64
	GoTos         int64
	Infections    int64
	StaleTickEnds int64
	SendFailures  int64 // Start or Tick sends that did not reach a worker
}

// Stats aggregates the statistics of every component.
type Stats struct {
	Workers     int
	Dispatcher  dispatcher.Stats
	Distributor distributor.Stats
	Ticks       TickStats
}
