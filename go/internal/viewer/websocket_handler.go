package viewer

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/sync/engine"
)

// WebSocketHandler handles WebSocket upgrade requests for viewers
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	session           SessionController
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, session SessionController) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		session:           session,
	}
}

// HandleViewerConnection upgrades the request and sends the current snapshot
// as the first message. Later changes arrive through Broadcast.
func (h *WebSocketHandler) HandleViewerConnection(w http.ResponseWriter, r *http.Request) {
	state, err := h.session.State(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get session state for new viewer")
		http.Error(w, "failed to get session state", statusFor(err))
		return
	}

	initial, err := NewViewerEvent(EventTypeSnapshot, state)
	if err != nil {
		log.Error().Err(err).Msg("failed to build initial snapshot event")
		http.Error(w, "failed to build snapshot", http.StatusInternalServerError)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, initial); err != nil {
		// Upgrade already wrote the HTTP error response
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/viewer", h.HandleViewerConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// intentHandler forwards websocket intents to the session. Rejections are
// reported back to the sending viewer only.
type intentHandler struct {
	session SessionController
}

func (h intentHandler) HandleClientMessage(conn *Connection, msg ClientMessage) {
	var err error
	switch msg.Type {
	case ClientMessageConnect:
		req := ConnectRequest{RoomID: msg.RoomID, Fragment: msg.Fragment}
		err = h.session.Connect(req.roomID())
	case ClientMessageDisconnect:
		err = h.session.Disconnect()
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", string(msg.Type)).
			Msg("unknown client message type")
		conn.Manager.SendTo(conn, NewErrorEvent("unknown message type: "+string(msg.Type)))
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Str("type", string(msg.Type)).
			Msg("viewer intent rejected")
		conn.Manager.SendTo(conn, NewErrorEvent(err.Error()))
	}
}

var _ SessionController = (*engine.Engine)(nil)
