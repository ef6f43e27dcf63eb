package model

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Encode serialises msg into an Envelope.
func Encode(msg Message) (Envelope, error) {
	if !msg.Type.IsValid() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownType, uint8(msg.Type))
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return Envelope{
		ContentType: msg.Type.ContentType(),
		Body:        body,
	}, nil
}

// Decode classifies env by content type and discriminant and parses its body.
// Every failure wraps ErrDecode.
func Decode(env Envelope) (Message, error) {
	want, specialised := specialisedContentTypes[env.ContentType]
	if !specialised && env.ContentType != ContentTypeMessage {
		return Message{}, fmt.Errorf("%w: unknown content type %q", ErrDecode, env.ContentType)
	}

	msgType, err := extractType(env.Body)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if specialised && msgType != want {
		return Message{}, fmt.Errorf("%w: content type %s carries %s message", ErrDecode, env.ContentType, msgType)
	}

	var msg Message
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg.SenderID.IsNil() {
		return Message{}, fmt.Errorf("%w: missing sender_id", ErrDecode)
	}

	return msg, nil
}

// extractType reads the type discriminant by path lookup. Bodies that are
// malformed past the discriminant are rejected by the json.Unmarshal in Decode.
func extractType(body []byte) (MessageType, error) {
	field := gjson.GetBytes(body, "type")
	if !field.Exists() || field.Type != gjson.String {
		return MessageTypeUnknown, fmt.Errorf("missing type discriminant")
	}
	return ParseMessageType(field.Str)
}
