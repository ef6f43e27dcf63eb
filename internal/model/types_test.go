package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWorkerID(t *testing.T) {
	t.Run("parse round trip", func(t *testing.T) {
		const s = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
		id, err := ParseWorkerID(s)
		if err != nil {
			t.Fatalf("ParseWorkerID failed: %v", err)
		}
		if id.String() != s {
			t.Errorf("String() = %q, want %q", id.String(), s)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseWorkerID("not-a-uuid")
		if !errors.Is(err, ErrInvalidWorkerID) {
			t.Errorf("err = %v, want ErrInvalidWorkerID", err)
		}
	})

	t.Run("new ids are distinct", func(t *testing.T) {
		a, b := NewWorkerID(), NewWorkerID()
		if a == b {
			t.Error("expected distinct ids")
		}
		if a.IsNil() {
			t.Error("new id should not be nil")
		}
	})

	t.Run("usable as map key", func(t *testing.T) {
		id := NewWorkerID()
		m := map[WorkerID]int{id: 1}
		same := MustParseWorkerID(id.String())
		if m[same] != 1 {
			t.Error("parsed id should hash equal to original")
		}
	})

	t.Run("json string form", func(t *testing.T) {
		id := MustParseWorkerID("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
		data, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if string(data) != `"6ba7b810-9dad-11d1-80b4-00c04fd430c8"` {
			t.Errorf("Marshal = %s", data)
		}
	})
}

func TestMessageType(t *testing.T) {
	for _, mt := range AllMessageTypes() {
		t.Run(mt.String(), func(t *testing.T) {
			parsed, err := ParseMessageType(mt.String())
			if err != nil {
				t.Fatalf("ParseMessageType(%q) failed: %v", mt.String(), err)
			}
			if parsed != mt {
				t.Errorf("ParseMessageType(%q) = %v, want %v", mt.String(), parsed, mt)
			}
		})
	}

	if MessageTypeUnknown.IsValid() {
		t.Error("MessageTypeUnknown should not be valid")
	}
	if _, err := ParseMessageType("heartbeat"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestMessageType_ContentType(t *testing.T) {
	tests := []struct {
		mt   MessageType
		want string
	}{
		{MessageTypeGoTo, ContentTypeGoTo},
		{MessageTypeResults, ContentTypeResults},
		{MessageTypeAddAgent, ContentTypeAddAgent},
		{MessageTypeAddContainer, ContentTypeAddContainer},
		{MessageTypeInfect, ContentTypeInfect},
		{MessageTypeTickEnd, ContentTypeTickEnd},
		{MessageTypeRegistration, ContentTypeMessage},
		{MessageTypeTick, ContentTypeMessage},
		{MessageTypeStart, ContentTypeMessage},
		{MessageTypeClear, ContentTypeMessage},
	}

	for _, tt := range tests {
		t.Run(tt.mt.String(), func(t *testing.T) {
			if got := tt.mt.ContentType(); got != tt.want {
				t.Errorf("ContentType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	sender := NewWorkerID()

	msg, err := NewMessage(MessageTypeResults, sender, map[string]int{"infected": 3})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if string(msg.Payload) != `{"infected":3}` {
		t.Errorf("Payload = %s", msg.Payload)
	}

	msg, err = NewMessage(MessageTypeTick, sender, nil)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Payload != nil {
		t.Errorf("Payload = %s, want nil", msg.Payload)
	}
}
