package engine

import (
	"time"

	"github.com/mcdev12/tracksync/go/internal/tracker/models"
)

// Phase is the lifecycle state of the peer session
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseWaiting      Phase = "waiting" // channel live, no data yet
	PhaseConnected    Phase = "connected"
	PhaseError        Phase = "error"
	PhaseReconnecting Phase = "reconnecting"
)

// AllPhases lists every phase, in lifecycle order
var AllPhases = []Phase{
	PhaseDisconnected,
	PhaseConnecting,
	PhaseWaiting,
	PhaseConnected,
	PhaseError,
	PhaseReconnecting,
}

// Snapshot is the published view of the session. Values are immutable once
// published; Tracker is replaced, never mutated.
type Snapshot struct {
	Phase        Phase               `json:"phase"`
	RoomID       string              `json:"room_id,omitempty"`
	Fragment     string              `json:"fragment,omitempty"`
	RetryCount   int                 `json:"retry_count"`
	MaxRetries   int                 `json:"max_retries"`
	Error        string              `json:"error,omitempty"`
	Tracker      *models.TrackerData `json:"tracker"`
	RetryPending bool                `json:"retry_pending"`
	RetryDelay   time.Duration       `json:"-"`
	RetryAt      *time.Time          `json:"retry_at,omitempty"`
	Reconnecting bool                `json:"reconnecting"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// StateEvent is sent to subscribers after every published change
type StateEvent struct {
	Previous Phase
	Snapshot Snapshot
}

// PhaseChanged reports whether the event moved the session to another phase
func (e StateEvent) PhaseChanged() bool {
	return e.Previous != e.Snapshot.Phase
}
