package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *CoordinatorConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if _, err := c.Instance.NodeWorkerID(); err != nil {
		return fmt.Errorf("instance.node_id: %w", err)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	switch c.Transport.Kind {
	case TransportPostgres:
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Queue.Inbound == "" {
			return errors.New("queue.inbound is required")
		}
		if c.Queue.PollInterval <= 0 {
			return errors.New("queue.poll_interval must be > 0")
		}
	case TransportWebSocket:
		if c.WebSocket.ListenAddr == "" {
			return errors.New("websocket.listen_addr is required")
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") || !strings.HasSuffix(c.WebSocket.Path, "/") {
			return fmt.Errorf("websocket.path must start and end with /, got %q", c.WebSocket.Path)
		}
		if c.WebSocket.WriteTimeout <= 0 {
			return errors.New("websocket.write_timeout must be > 0")
		}
	default:
		return fmt.Errorf("transport.kind must be postgres or websocket, got %q", c.Transport.Kind)
	}

	if c.Dispatcher.ReceiveTimeout < 0 {
		return errors.New("dispatcher.receive_timeout must be >= 0")
	}
	if c.Dispatcher.ErrorBackoff < 0 {
		return errors.New("dispatcher.error_backoff must be >= 0")
	}

	if c.Simulation.MinWorkers < 0 {
		return errors.New("simulation.min_workers must be >= 0")
	}
	if c.Simulation.MaxTicks < 0 {
		return errors.New("simulation.max_ticks must be >= 0")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
