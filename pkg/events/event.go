package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Support domain event codes.
const (
	SessionAdmitted = "SUPPORT_SESSION_ADMITTED"
	SessionPromoted = "SUPPORT_SESSION_PROMOTED"
	SessionClosed   = "SUPPORT_SESSION_CLOSED"
	MessageRelayed  = "SUPPORT_MESSAGE_RELAYED"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "SUPPORT_SESSION_CLOSED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event Event) error

// Bus carries events from the services to their consumers. Publishing never
// waits for consumers.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

type wireEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// Marshal renders an event with its type embedded so transports need not
// derive it from a topic or subject.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(wireEvent{Type: e.EventType(), Data: e.Payload(), OccurredAt: e.Timestamp()})
}

func Unmarshal(raw []byte) (BaseEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return BaseEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if w.Type == "" {
		return BaseEvent{}, fmt.Errorf("event without type")
	}
	return BaseEvent{Type: w.Type, Data: w.Data, OccurredAt: w.OccurredAt}, nil
}

// String reads a string field of the payload, "" when absent.
func String(e Event, key string) string {
	if v, ok := e.Payload()[key].(string); ok {
		return v
	}
	return ""
}

// Int reads a numeric field of the payload. Payloads that crossed a transport
// carry JSON numbers as float64.
func Int(e Event, key string) (int, bool) {
	switch v := e.Payload()[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}
