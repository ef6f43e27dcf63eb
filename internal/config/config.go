package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/sim-coordinator/internal/model"
)

// CoordinatorConfig is the root configuration for a coordinator instance.
type CoordinatorConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Log        LogConfig        `yaml:"log"`
	Transport  TransportConfig  `yaml:"transport"`
	Database   DBConfig         `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Simulation SimulationConfig `yaml:"simulation"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this coordinator.
type InstanceConfig struct {
	ID     string `yaml:"id"`
	NodeID string `yaml:"node_id"` // UUID stamped on outbound messages (default: derived from id)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Transport kinds. The in-process memory transport has no external endpoint,
// so it is only available to code that builds a coordinator directly.
const (
	TransportPostgres  = "postgres"
	TransportWebSocket = "websocket"
)

// TransportConfig selects the message transport.
type TransportConfig struct {
	Kind string `yaml:"kind"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	ApplicationName string `yaml:"application_name"`
	MaxConns        int    `yaml:"max_conns"`
	MinConns        int    `yaml:"min_conns"`
}

// QueueConfig holds PostgreSQL queue settings.
type QueueConfig struct {
	Inbound      string        `yaml:"inbound"`       // Name of the coordinator's inbound queue
	PollInterval time.Duration `yaml:"poll_interval"` // Wait between empty polls
	DrainOnExit  bool          `yaml:"drain_on_exit"` // Discard the inbound backlog on shutdown
}

// WebSocketConfig holds gateway settings.
type WebSocketConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	Path         string        `yaml:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	ReadLimit    int64         `yaml:"read_limit"`
}

// DispatcherConfig holds inbound pump settings.
type DispatcherConfig struct {
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	ErrorBackoff   time.Duration `yaml:"error_backoff"`
}

// SimulationConfig holds tick driver settings.
type SimulationConfig struct {
	MinWorkers int `yaml:"min_workers"` // 0 disables the tick driver
	MaxTicks   int `yaml:"max_ticks"`   // 0 = unbounded
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// NodeWorkerID returns the configured node id, or one derived
// deterministically from the instance id when none is set.
func (c InstanceConfig) NodeWorkerID() (model.WorkerID, error) {
	if c.NodeID != "" {
		return model.ParseWorkerID(c.NodeID)
	}
	return model.WorkerID(uuid.NewSHA1(uuid.NameSpaceOID, []byte("sim-coordinator/"+c.ID))), nil
}

// SlogLevel parses the configured level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// JSON reports whether logs should be emitted as JSON.
func (c LogConfig) JSON() bool {
	return strings.EqualFold(c.Format, "json")
}
