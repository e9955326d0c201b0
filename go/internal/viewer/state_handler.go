package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/sync/engine"
	"github.com/mcdev12/tracksync/go/internal/sync/roomstore"
)

// SessionController is the part of the sync engine the viewer drives
type SessionController interface {
	State(ctx context.Context) (engine.Snapshot, error)
	Connect(roomID string) error
	Disconnect() error
}

// ConnectRequest is the body of POST /api/connect
type ConnectRequest struct {
	RoomID   string `json:"room_id"`
	Fragment string `json:"fragment"`
}

// roomID resolves the requested room. A well-formed fragment wins.
func (r ConnectRequest) roomID() string {
	if id, ok := roomstore.ParseFragment(r.Fragment); ok {
		return id
	}
	return r.RoomID
}

// StateHandler handles HTTP requests for session state and intents
type StateHandler struct {
	session SessionController
}

// NewStateHandler creates a new state handler
func NewStateHandler(session SessionController) *StateHandler {
	return &StateHandler{
		session: session,
	}
}

// HandleGetState handles GET /api/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := h.session.State(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get session state")
		http.Error(w, "Failed to get session state", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// HandleConnect handles POST /api/connect
func (h *StateHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	roomID := req.roomID()
	if err := h.session.Connect(roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("connect rejected")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"room_id": roomID})
}

// HandleDisconnect handles POST /api/disconnect
func (h *StateHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.session.Disconnect(); err != nil {
		log.Warn().Err(err).Msg("disconnect rejected")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.HandleGetState)
	mux.HandleFunc("/api/connect", h.HandleConnect)
	mux.HandleFunc("/api/disconnect", h.HandleDisconnect)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrEmptyRoomID):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrReconnectInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
