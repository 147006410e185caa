package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownKind is returned when decoding an event of an unknown type.
var ErrUnknownKind = errors.New("unknown event kind")

// Event is one canonical event.
type Event struct {
	ThreadID  string
	Kind      Kind
	Timestamp time.Time
	ID        string
	// ParentID links tool and assistant events to the user turn that caused them.
	ParentID string
	Payload  Payload
}

// New stamps a fresh id and timestamp onto payload for threadID.
func New(threadID string, payload Payload) Event {
	return Event{
		ThreadID:  threadID,
		Kind:      payload.Kind(),
		Timestamp: time.Now().UTC(),
		ID:        uuid.NewString(),
		Payload:   payload,
	}
}

// WithParent returns a copy of e linked to parentID.
func (e Event) WithParent(parentID string) Event {
	e.ParentID = parentID
	return e
}

// MessageKey returns the assistant message id deltas and the final message
// share, or "" for other kinds.
func (e Event) MessageKey() string {
	switch p := e.Payload.(type) {
	case AssistantMessage:
		return p.MessageID
	case AssistantDelta:
		return p.MessageID
	}
	return ""
}

// envelope is the JSON form of an Event.
type envelope struct {
	ThreadID  string          `json:"threadId"`
	Type      Kind            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	if _, err := newPayload(e.Kind); err != nil {
		return nil, err
	}
	var data json.RawMessage = []byte("{}")
	if e.Payload != nil {
		if e.Payload.Kind() != e.Kind {
			return nil, fmt.Errorf("event %s carries %s payload", e.Kind, e.Payload.Kind())
		}
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
		}
		data = raw
	}
	return json.Marshal(envelope{
		ThreadID:  e.ThreadID,
		Type:      e.Kind,
		Timestamp: e.Timestamp,
		ID:        e.ID,
		ParentID:  e.ParentID,
		Data:      data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	payload, err := DecodePayload(env.Type, env.Data)
	if err != nil {
		return err
	}
	*e = Event{
		ThreadID:  env.ThreadID,
		Kind:      env.Type,
		Timestamp: env.Timestamp,
		ID:        env.ID,
		ParentID:  env.ParentID,
		Payload:   payload,
	}
	return nil
}

// DecodePayload decodes data as the payload of kind. Empty or null data
// yields the zero payload.
func DecodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	payload, err := newPayload(kind)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return deref(payload), nil
}

// PayloadJSON returns the JSON encoding of the payload alone.
func (e Event) PayloadJSON() (string, error) {
	if e.Payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
