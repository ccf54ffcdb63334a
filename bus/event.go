package bus

import (
	"encoding/json"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	// EventHello is sent to a single observer right after it subscribes.
	EventHello EventType = "hello"

	// EventHeartbeat is a periodic keep-alive sent to each observer.
	EventHeartbeat EventType = "heartbeat"

	// EventActionStart is broadcast before a resolved action's tool runs.
	EventActionStart EventType = "action_start"

	// EventActionResult is broadcast when an action succeeds.
	EventActionResult EventType = "action_result"

	// EventActionError is broadcast when a started action fails.
	EventActionError EventType = "action_error"
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	return string(t)
}

// Terminal reports whether t ends an action's lifecycle.
func (t EventType) Terminal() bool {
	return t == EventActionResult || t == EventActionError
}

// Event is one lifecycle notification. Events are transient: they exist only
// as broadcast payloads and are never stored. Result events carry a bounded
// preview and the result length, never the full payload.
type Event struct {
	Type      EventType      `json:"type"`
	At        time.Time      `json:"-"`
	RequestID string         `json:"request_id,omitempty"`
	Action    string         `json:"action,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Length    *int           `json:"length,omitempty"`
	Preview   *string        `json:"preview,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(t EventType) Event {
	return Event{Type: t, At: time.Now()}
}

// MarshalJSON encodes At as Unix milliseconds under "at".
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		At int64 `json:"at"`
	}{
		plain: plain(e),
		At:    e.At.UnixMilli(),
	})
}

// UnmarshalJSON decodes the "at" Unix-millisecond timestamp back into At.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var decoded struct {
		plain
		At int64 `json:"at"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*e = Event(decoded.plain)
	e.At = time.UnixMilli(decoded.At)
	return nil
}
