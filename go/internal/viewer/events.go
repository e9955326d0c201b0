package viewer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/tracksync/go/internal/sync/engine"
)

// ViewerEvent represents the base structure for all events pushed to viewers
type ViewerEvent struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of viewer event
type EventType string

const (
	EventTypeSnapshot     EventType = "Snapshot"
	EventTypePhaseChanged EventType = "PhaseChanged"
	EventTypeError        EventType = "Error"
)

// ClientMessageType identifies an intent sent by a viewer
type ClientMessageType string

const (
	ClientMessageConnect    ClientMessageType = "connect"
	ClientMessageDisconnect ClientMessageType = "disconnect"
)

// ClientMessage is a viewer intent received over the websocket. A connect
// carries either a bare room id or a #v1: fragment.
type ClientMessage struct {
	Type     ClientMessageType `json:"type"`
	RoomID   string            `json:"room_id,omitempty"`
	Fragment string            `json:"fragment,omitempty"`
}

// ErrorPayload reports a rejected viewer request
type ErrorPayload struct {
	Message string `json:"message"`
}

// PhaseChangedPayload is sent when the session moves to another phase
type PhaseChangedPayload struct {
	From  engine.Phase `json:"from"`
	To    engine.Phase `json:"to"`
	Error string       `json:"error,omitempty"`
}

// NewViewerEvent wraps payload in an event envelope
func NewViewerEvent(typ EventType, payload any) (*ViewerEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &ViewerEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// NewErrorEvent builds an Error event. Marshalling a string cannot fail.
func NewErrorEvent(message string) *ViewerEvent {
	event, _ := NewViewerEvent(EventTypeError, ErrorPayload{Message: message})
	return event
}

// eventsFor converts one engine state change into viewer events. A phase change
// is announced before the snapshot that carries it.
func eventsFor(ev engine.StateEvent) ([]*ViewerEvent, error) {
	var out []*ViewerEvent
	if ev.PhaseChanged() {
		changed, err := NewViewerEvent(EventTypePhaseChanged, PhaseChangedPayload{
			From:  ev.Previous,
			To:    ev.Snapshot.Phase,
			Error: ev.Snapshot.Error,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, changed)
	}
	snap, err := NewViewerEvent(EventTypeSnapshot, ev.Snapshot)
	if err != nil {
		return nil, err
	}
	return append(out, snap), nil
}
