package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Errors
var (
	ErrDecode          = errors.New("decode failure")
	ErrUnknownType     = errors.New("unknown message type")
	ErrInvalidWorkerID = errors.New("invalid worker id")
)

// WorkerID identifies a worker (or the coordinator itself) across the cluster.
type WorkerID uuid.UUID

// NilWorkerID is the zero WorkerID.
var NilWorkerID WorkerID

// NewWorkerID returns a random (version 4) WorkerID.
func NewWorkerID() WorkerID {
	return WorkerID(uuid.New())
}

// ParseWorkerID parses the canonical string form of a WorkerID.
func ParseWorkerID(s string) (WorkerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilWorkerID, fmt.Errorf("%w %q: %v", ErrInvalidWorkerID, s, err)
	}
	return WorkerID(id), nil
}

// MustParseWorkerID is like ParseWorkerID but panics on error. Intended for tests and constants.
func MustParseWorkerID(s string) WorkerID {
	id, err := ParseWorkerID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form.
func (id WorkerID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero WorkerID.
func (id WorkerID) IsNil() bool {
	return id == NilWorkerID
}

// MarshalText implements encoding.TextMarshaler.
func (id WorkerID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *WorkerID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkerID, err)
	}
	*id = WorkerID(u)
	return nil
}

// MessageType is the discriminant of a Message.
type MessageType uint8

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeAddAgent
	MessageTypeClear
	MessageTypeGoTo
	MessageTypeInfect
	MessageTypeRegistration
	MessageTypeResults
	MessageTypeStart
	MessageTypeTick
	MessageTypeTickEnd
	MessageTypeAddContainer
)

var messageTypeNames = map[MessageType]string{
	MessageTypeAddAgent:     "addAgent",
	MessageTypeClear:        "clear",
	MessageTypeGoTo:         "goTo",
	MessageTypeInfect:       "infect",
	MessageTypeRegistration: "registration",
	MessageTypeResults:      "results",
	MessageTypeStart:        "start",
	MessageTypeTick:         "tick",
	MessageTypeTickEnd:      "tickEnd",
	MessageTypeAddContainer: "addContainer",
}

// AllMessageTypes lists every known message type in declaration order.
func AllMessageTypes() []MessageType {
	return []MessageType{
		MessageTypeAddAgent,
		MessageTypeClear,
		MessageTypeGoTo,
		MessageTypeInfect,
		MessageTypeRegistration,
		MessageTypeResults,
		MessageTypeStart,
		MessageTypeTick,
		MessageTypeTickEnd,
		MessageTypeAddContainer,
	}
}

// String returns the wire name of the message type.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether t is one of the known message types.
func (t MessageType) IsValid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// ParseMessageType maps a wire name to its MessageType.
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range messageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return MessageTypeUnknown, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t MessageType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MessageType) UnmarshalText(data []byte) error {
	parsed, err := ParseMessageType(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Message is a control or status message exchanged between the coordinator and workers.
// Payload is opaque to the coordinator; only Type is used for routing.
type Message struct {
	Type     MessageType     `json:"type"`
	SenderID WorkerID        `json:"sender_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with a JSON-encoded payload. A nil payload is omitted.
func NewMessage(t MessageType, sender WorkerID, payload interface{}) (Message, error) {
	msg := Message{Type: t, SenderID: sender}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = data
	return msg, nil
}

// Envelope is the unit a Transport carries: a content type naming the message class
// and the encoded body.
type Envelope struct {
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Content types. Specialised message classes carry their own content type; everything
// else travels as the generic "Message".
const (
	ContentTypeMessage      = "Message"
	ContentTypeAddAgent     = "AddAgentMessage"
	ContentTypeAddContainer = "AddContainerMessage"
	ContentTypeGoTo         = "GoToContainerMessage"
	ContentTypeInfect       = "InfectMessage"
	ContentTypeResults      = "ResultsMessage"
	ContentTypeTickEnd      = "TickEndMessage"
)

var specialisedContentTypes = map[string]MessageType{
	ContentTypeAddAgent:     MessageTypeAddAgent,
	ContentTypeAddContainer: MessageTypeAddContainer,
	ContentTypeGoTo:         MessageTypeGoTo,
	ContentTypeInfect:       MessageTypeInfect,
	ContentTypeResults:      MessageTypeResults,
	ContentTypeTickEnd:      MessageTypeTickEnd,
}

// ContentType returns the envelope content type used for messages of type t.
func (t MessageType) ContentType() string {
	for ct, mt := range specialisedContentTypes {
		if mt == t {
			return ct
		}
	}
	return ContentTypeMessage
}
