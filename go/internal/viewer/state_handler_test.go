package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tracksync/go/internal/sync/engine"
)

type fakeSession struct {
	mu          sync.Mutex
	state       engine.Snapshot
	stateErr    error
	connectErr  error
	connected   []string
	disconnects int
	updates     chan engine.StateEvent
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state:   engine.Snapshot{Phase: engine.PhaseDisconnected, MaxRetries: 5},
		updates: make(chan engine.StateEvent, 8),
	}
}

func (f *fakeSession) State(ctx context.Context) (engine.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.stateErr
}

func (f *fakeSession) Connect(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(roomID) == "" {
		return engine.ErrEmptyRoomID
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = append(f.connected, roomID)
	return nil
}

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSession) Subscribe() (<-chan engine.StateEvent, func()) {
	return f.updates, func() {}
}

func (f *fakeSession) rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connected...)
}

func serveState(session SessionController) *http.ServeMux {
	mux := http.NewServeMux()
	NewStateHandler(session).RegisterStateRoutes(mux)
	return mux
}

func TestHandleGetState(t *testing.T) {
	session := newFakeSession()
	session.state = engine.Snapshot{Phase: engine.PhaseWaiting, RoomID: "room-1", MaxRetries: 5}
	mux := serveState(session)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "waiting", got["phase"])
	assert.Equal(t, "room-1", got["room_id"])
	assert.Nil(t, got["tracker"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/state", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleGetState_Stopped(t *testing.T) {
	session := newFakeSession()
	session.stateErr = context.Canceled

	rec := httptest.NewRecorder()
	serveState(session).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleConnect(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		connectErr error
		wantStatus int
		wantRoom   string
	}{
		{name: "room id", body: `{"room_id":"abc"}`, wantStatus: http.StatusAccepted, wantRoom: "abc"},
		{name: "fragment", body: `{"fragment":"#v1:frag-room"}`, wantStatus: http.StatusAccepted, wantRoom: "frag-room"},
		{name: "fragment wins", body: `{"room_id":"abc","fragment":"v1:xyz"}`, wantStatus: http.StatusAccepted, wantRoom: "xyz"},
		{name: "bad fragment falls back", body: `{"room_id":"abc","fragment":"#v2:xyz"}`, wantStatus: http.StatusAccepted, wantRoom: "abc"},
		{name: "empty", body: `{"room_id":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "reconnecting", body: `{"room_id":"abc"}`, connectErr: engine.ErrReconnectInProgress, wantStatus: http.StatusConflict},
		{name: "stopped", body: `{"room_id":"abc"}`, connectErr: engine.ErrStopped, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			session.connectErr = tt.connectErr

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/connect", strings.NewReader(tt.body))
			serveState(session).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantRoom == "" {
				assert.Empty(t, session.rooms())
				return
			}
			assert.Equal(t, []string{tt.wantRoom}, session.rooms())
		})
	}
}

func TestHandleDisconnect(t *testing.T) {
	session := newFakeSession()
	mux := serveState(session)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/disconnect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/disconnect", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, session.disconnects)
}

func TestEventsFor(t *testing.T) {
	snap := engine.Snapshot{Phase: engine.PhaseError, Error: "Connection to the DM was closed."}

	out, err := eventsFor(engine.StateEvent{Previous: engine.PhaseConnected, Snapshot: snap})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, EventTypePhaseChanged, out[0].Type)
	assert.Equal(t, EventTypeSnapshot, out[1].Type)

	var changed PhaseChangedPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &changed))
	assert.Equal(t, PhaseChangedPayload{From: engine.PhaseConnected, To: engine.PhaseError, Error: snap.Error}, changed)

	out, err = eventsFor(engine.StateEvent{Previous: engine.PhaseError, Snapshot: snap})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, EventTypeSnapshot, out[0].Type)
}
