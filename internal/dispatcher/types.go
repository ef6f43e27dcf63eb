package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
)

// Errors
var (
	ErrUnsupportedType = errors.New("message type not handled by the coordinator")
	ErrAlreadyRunning  = errors.New("dispatcher already running")
	ErrHandlerPanic    = errors.New("handler panicked")
)

// Handler reacts to a dispatched message.
type Handler interface {
	HandleMessage(ctx context.Context, msg model.Message) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, msg model.Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg model.Message) error {
	return f(ctx, msg)
}

// Receiver is the inbound half of a Transport.
type Receiver interface {
	Receive(ctx context.Context) (model.Envelope, error)
}

// Registrar records newly seen workers.
type Registrar interface {
	Register(ctx context.Context, id model.WorkerID) (registry.Worker, error)
}

// Config holds Dispatcher configuration.
type Config struct {
	ReceiveTimeout time.Duration // Max wait per receive before re-checking for shutdown (0 = wait indefinitely)
	ErrorBackoff   time.Duration // Pause after a failed receive
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout: time.Second,
		ErrorBackoff:   100 * time.Millisecond,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Received               int64
	Dispatched             int64 // Delivered to at least one subscriber
	Ignored                int64 // Supported type, no subscribers
	DecodeErrors           int64
	Unsupported            int64
	HandlerErrors          int64
	Registrations          int64
	DuplicateRegistrations int64
	RegistrationFailures   int64
	ReceiveErrors          int64
}

// Subscribable reports whether the coordinator reacts to messages of type t.
func Subscribable(t model.MessageType) bool {
	switch t {
	case model.MessageTypeRegistration,
		model.MessageTypeGoTo,
		model.MessageTypeInfect,
		model.MessageTypeResults,
		model.MessageTypeTickEnd:
		return true
	default:
		return false
	}
}

type registrationErrKey struct{}

// RegistrationErr returns the registry error attached to a Registration dispatch,
// such as registry.ErrDuplicateWorker, or nil when registration succeeded.
func RegistrationErr(ctx context.Context) error {
	err, _ := ctx.Value(registrationErrKey{}).(error)
	return err
}
