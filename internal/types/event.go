// internal/types/event.go
package types

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStatus  EventType = "status"
	EventAction  EventType = "action"
	EventLog     EventType = "log"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
	EventStep    EventType = "step"
	EventPreview EventType = "preview"
)

// Event is the envelope delivered to presentation-layer subscribers.
// Consumers ignore types they do not know.
type Event struct {
	ID        EventID         `json:"id"`
	Type      EventType       `json:"type"`
	At        time.Time       `json:"timestamp"`
	SessionID SessionID       `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an envelope stamped with the current time.
func NewEvent(typ EventType, sessionID SessionID, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return Event{
		ID:        NewEventID(),
		Type:      typ,
		At:        time.Now().UTC(),
		SessionID: sessionID,
		Payload:   data,
	}
}

// ActionPayload describes an executed or blocked action, with mapped
// screen coordinates for marker display.
type ActionPayload struct {
	Step        int            `json:"step"`
	Kind        string         `json:"kind"`
	Description string         `json:"description"`
	Targets     []ActionTarget `json:"targets,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	Rationale   string         `json:"reasoning,omitempty"`
	Confidence  float64        `json:"confidence"`
}

type ActionTarget struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MessagePayload is used by log, warning and error events.
type MessagePayload struct {
	Step     int    `json:"step,omitempty"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

type PreviewPayload struct {
	Step  int    `json:"step"`
	MIME  string `json:"mime"`
	Image []byte `json:"image"`
}
