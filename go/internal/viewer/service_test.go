package viewer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tracksync/go/internal/sync/engine"
	"github.com/mcdev12/tracksync/go/internal/sync/transport/memtransport"
	"github.com/mcdev12/tracksync/go/internal/tracker/events"
)

const readWait = 2 * time.Second

type viewerClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialViewer(t *testing.T, server *httptest.Server) *viewerClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/viewer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &viewerClient{t: t, conn: conn}
}

func (c *viewerClient) next() ViewerEvent {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readWait)))
	var ev ViewerEvent
	require.NoError(c.t, c.conn.ReadJSON(&ev))
	return ev
}

// nextSnapshot skips events until a snapshot satisfying match arrives
func (c *viewerClient) nextSnapshot(match func(engine.Snapshot) bool) engine.Snapshot {
	c.t.Helper()
	for {
		ev := c.next()
		if ev.Type != EventTypeSnapshot {
			continue
		}
		var snap engine.Snapshot
		require.NoError(c.t, json.Unmarshal(ev.Data, &snap))
		if match(snap) {
			return snap
		}
	}
}

func (c *viewerClient) send(msg ClientMessage) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func startService(t *testing.T, session Session, gatherer prometheus.Gatherer) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService(DefaultConfig(), session, gatherer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()

	server := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return svc, server
}

func startEngine(t *testing.T, tr *memtransport.Transport, opts ...engine.Option) *engine.Engine {
	t.Helper()
	e := engine.New(engine.DefaultConfig(), tr, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func TestViewerFollowsSession(t *testing.T) {
	tr := memtransport.NewLoopback()
	room := tr.Host("room-1")
	goblin := "Goblin"
	require.NoError(t, room.Publish(events.RawStatePayload{Round: 3, Rows: []events.RawCreatureRow{{Name: &goblin}}}))

	reg := prometheus.NewRegistry()
	metrics, err := engine.NewPrometheusMetrics("tracksync", reg)
	require.NoError(t, err)

	e := startEngine(t, tr, engine.WithMetrics(metrics))
	svc, server := startService(t, e, reg)

	client := dialViewer(t, server)
	initial := client.next()
	require.Equal(t, EventTypeSnapshot, initial.Type)
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(initial.Data, &snap))
	assert.Equal(t, engine.PhaseDisconnected, snap.Phase)

	require.Eventually(t, func() bool { return svc.GetStats().TotalConnections == 1 }, readWait, 5*time.Millisecond)

	client.send(ClientMessage{Type: ClientMessageConnect, Fragment: "#v1:room-1"})
	connected := client.nextSnapshot(func(s engine.Snapshot) bool { return s.Phase == engine.PhaseConnected })
	assert.Equal(t, "room-1", connected.RoomID)
	assert.Equal(t, "#v1:room-1", connected.Fragment)
	require.NotNil(t, connected.Tracker)
	assert.Equal(t, 3, connected.Tracker.Round)
	require.Len(t, connected.Tracker.Creatures, 1)

	client.send(ClientMessage{Type: ClientMessageDisconnect})
	client.nextSnapshot(func(s engine.Snapshot) bool { return s.Phase == engine.PhaseDisconnected })

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tracksync_session_phase")
	assert.Contains(t, string(body), `tracksync_payloads_total{result="accepted"} 1`)
}

func TestViewerReceivesPhaseChanges(t *testing.T) {
	tr := memtransport.NewLoopback()
	e := startEngine(t, tr)
	_, server := startService(t, e, nil)

	client := dialViewer(t, server)
	client.next()

	// no room is hosted, so the lookup fails
	require.NoError(t, e.Connect("missing"))

	var changes []PhaseChangedPayload
	for len(changes) == 0 || changes[len(changes)-1].To != engine.PhaseError {
		ev := client.next()
		if ev.Type != EventTypePhaseChanged {
			continue
		}
		var p PhaseChangedPayload
		require.NoError(t, json.Unmarshal(ev.Data, &p))
		changes = append(changes, p)
	}

	assert.Equal(t, engine.PhaseDisconnected, changes[0].From)
	assert.Equal(t, engine.PhaseConnecting, changes[0].To)
	last := changes[len(changes)-1]
	assert.Contains(t, last.Error, "Could not find a DM with that Room ID")
}

func TestViewerIntentErrors(t *testing.T) {
	session := newFakeSession()
	_, server := startService(t, session, nil)

	client := dialViewer(t, server)
	client.next()

	client.send(ClientMessage{Type: ClientMessageConnect})
	ev := client.next()
	require.Equal(t, EventTypeError, ev.Type)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, engine.ErrEmptyRoomID.Error(), payload.Message)

	client.send(ClientMessage{Type: "shout"})
	ev = client.next()
	require.Equal(t, EventTypeError, ev.Type)

	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev = client.next()
	require.Equal(t, EventTypeError, ev.Type)

	client.send(ClientMessage{Type: ClientMessageConnect, RoomID: "abc"})
	require.Eventually(t, func() bool { return len(session.rooms()) == 1 }, readWait, 5*time.Millisecond)
	assert.Equal(t, []string{"abc"}, session.rooms())
}

func TestServiceRelaysSubscribedEvents(t *testing.T) {
	session := newFakeSession()
	_, server := startService(t, session, nil)

	client := dialViewer(t, server)
	client.next()

	session.updates <- engine.StateEvent{
		Previous: engine.PhaseDisconnected,
		Snapshot: engine.Snapshot{Phase: engine.PhaseConnecting, RoomID: "abc"},
	}

	first := client.next()
	assert.Equal(t, EventTypePhaseChanged, first.Type)
	snap := client.nextSnapshot(func(engine.Snapshot) bool { return true })
	assert.Equal(t, "abc", snap.RoomID)
}

func TestServiceRoutes(t *testing.T) {
	session := newFakeSession()
	_, server := startService(t, session, nil)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(server.URL + "/ws/stats")
	require.NoError(t, err)
	var stats ConnectionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 0, stats.TotalConnections)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/connect", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
