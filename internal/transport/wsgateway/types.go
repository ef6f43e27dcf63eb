package wsgateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/sim-coordinator/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrWorkerOffline   = errors.New("worker has no live connection")
	ErrInvalidFrame    = errors.New("invalid frame")
)

// Frame is the JSON wire form of an envelope.
type Frame struct {
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
}

// EncodeFrame serialises env. The body must be JSON.
func EncodeFrame(env model.Envelope) ([]byte, error) {
	if !json.Valid(env.Body) {
		return nil, fmt.Errorf("%w: body is not json", ErrInvalidFrame)
	}
	return json.Marshal(Frame{ContentType: env.ContentType, Body: env.Body})
}

// DecodeFrame parses a frame into an envelope.
func DecodeFrame(data []byte) (model.Envelope, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.ContentType == "" {
		return model.Envelope{}, fmt.Errorf("%w: missing content_type", ErrInvalidFrame)
	}
	return model.Envelope{ContentType: f.ContentType, Body: []byte(f.Body)}, nil
}

// Config configures the Gateway.
type Config struct {
	ListenAddr        string        // Address for ListenAndServe (e.g., ":9090")
	Path              string        // URL prefix before the worker id (default: /ws/)
	WriteTimeout      time.Duration // Write deadline for sends
	PingInterval      time.Duration // Interval between keepalive pings
	PongTimeout       time.Duration // Max silence before a connection is dropped
	ReadLimit         int64         // Max frame size in bytes
	InboundBufferSize int           // Initial inbound queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":9090",
		Path:              "/ws/",
		WriteTimeout:      5 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		ReadLimit:         1 << 20,
		InboundBufferSize: 1000,
	}
}

// ClientConfig configures a worker-side Client.
type ClientConfig struct {
	URL          string        // Full worker URL, see WorkerURL
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// WorkerURL joins a gateway base URL (ws://host:port/ws/) and a worker id.
func WorkerURL(base string, id model.WorkerID) string {
	if len(base) == 0 || base[len(base)-1] != '/' {
		base += "/"
	}
	return base + id.String()
}
