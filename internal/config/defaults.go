package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultTransport       = TransportWebSocket
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultApplicationName = "sim-coordinator"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultInboundQueue    = "coordinator"
	DefaultPollInterval    = 200 * time.Millisecond
	DefaultListenAddr      = ":9090"
	DefaultWSPath          = "/ws/"
	DefaultWriteTimeout    = 5 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultPongTimeout     = 60 * time.Second
	DefaultReadLimit       = 1 << 20
	DefaultReceiveTimeout  = 1 * time.Second
	DefaultErrorBackoff    = 100 * time.Millisecond
	DefaultHealthPort      = 8080
)

func (c *CoordinatorConfig) applyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = DefaultTransport
	}

	applyDBDefaults(&c.Database)

	// Queue defaults
	if c.Queue.Inbound == "" {
		c.Queue.Inbound = DefaultInboundQueue
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = DefaultPollInterval
	}

	// WebSocket defaults
	if c.WebSocket.ListenAddr == "" {
		c.WebSocket.ListenAddr = DefaultListenAddr
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = DefaultWSPath
	}
	if c.WebSocket.WriteTimeout == 0 {
		c.WebSocket.WriteTimeout = DefaultWriteTimeout
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = DefaultPingInterval
	}
	if c.WebSocket.PongTimeout == 0 {
		c.WebSocket.PongTimeout = DefaultPongTimeout
	}
	if c.WebSocket.ReadLimit == 0 {
		c.WebSocket.ReadLimit = DefaultReadLimit
	}

	// Dispatcher defaults
	if c.Dispatcher.ReceiveTimeout == 0 {
		c.Dispatcher.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.Dispatcher.ErrorBackoff == 0 {
		c.Dispatcher.ErrorBackoff = DefaultErrorBackoff
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.ApplicationName == "" {
		db.ApplicationName = DefaultApplicationName
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
