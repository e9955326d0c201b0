// Package engine runs the viewer side session state machine. All state is owned
// by a single goroutine (Run) that drains an inbox of user intents, transport
// events and timer firings, so handlers never race.
package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/sync/roomstore"
	"github.com/mcdev12/tracksync/go/internal/sync/transport"
	"github.com/mcdev12/tracksync/go/internal/tracker/models"
	"github.com/mcdev12/tracksync/go/internal/tracker/normalize"
)

// message is anything the loop consumes
type message interface{ isMessage() }

type connectIntent struct{ roomID string }
type disconnectIntent struct{}
type transportEvent struct {
	session uint64
	event   transport.Event
}
type taskFired struct{ id uint64 }
type stateQuery struct{ reply chan Snapshot }

func (connectIntent) isMessage()    {}
func (disconnectIntent) isMessage() {}
func (transportEvent) isMessage()   {}
func (taskFired) isMessage()        {}
func (stateQuery) isMessage()       {}

// session is one local peer plus its channel. Events posted by a session that is
// no longer current are dropped.
type session struct {
	id       uint64
	peer     transport.Peer
	channel  transport.Channel
	detached atomic.Bool
}

// Engine is the session state machine
type Engine struct {
	config     Config
	transport  transport.Transport
	clock      clockwork.Clock
	store      roomstore.Store
	normalizer *normalize.Normalizer
	metrics    MetricsCollector

	inbox   chan message
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context

	// loop owned
	phase        Phase
	roomID       string
	retryCount   int
	lastError    string
	tracker      *models.TrackerData
	current      *session
	nextSession  uint64
	pending      *scheduledTask
	nextTaskID   uint64
	reconnecting bool
	dirty        bool
	published    Phase

	latest atomic.Pointer[Snapshot]

	subsMu     sync.Mutex
	subs       map[chan StateEvent]struct{}
	subsClosed bool
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for retry and timeout timers
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRoomStore persists the room id across restarts
func WithRoomStore(s roomstore.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics sets the metrics collector
func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNormalizer overrides the normalizer built from Config.Normalize
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// New creates an engine. Call Run to start processing.
func New(cfg Config, t transport.Transport, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		config:    cfg,
		transport: t,
		clock:     clockwork.NewRealClock(),
		metrics:   &NoOpMetricsCollector{},
		inbox:     make(chan message, cfg.InboxSize),
		done:      make(chan struct{}),
		runCtx:    context.Background(),
		phase:     PhaseDisconnected,
		published: PhaseDisconnected,
		subs:      make(map[chan StateEvent]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = normalize.New(cfg.Normalize)
	}
	if e.store == nil {
		e.store = roomstore.NewMemoryStore()
	}
	snap := e.snapshot()
	e.latest.Store(&snap)
	return e
}

// Run processes messages until ctx is cancelled. On exit the session is torn
// down and subscriber channels are closed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.runCtx = ctx
	defer close(e.done)

	log.Info().
		Str("strategy", string(e.config.Reconnect.Strategy)).
		Int("max_retries", e.config.Reconnect.MaxRetries).
		Dur("base_delay", e.config.Reconnect.BaseDelay).
		Msg("sync engine started")
	e.metrics.RecordPhase(e.phase)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			log.Info().Msg("sync engine stopped")
			return nil
		case m := <-e.inbox:
			e.handle(m)
			if e.dirty {
				e.publish()
			}
		}
	}
}

// Connect asks the engine to join roomID. It returns immediately; progress is
// observable through Snapshot and Subscribe.
func (e *Engine) Connect(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if e.Snapshot().Reconnecting {
		return ErrReconnectInProgress
	}
	if !e.post(connectIntent{roomID: roomID}) {
		return ErrStopped
	}
	return nil
}

// Disconnect tears the session down from any phase
func (e *Engine) Disconnect() error {
	if !e.post(disconnectIntent{}) {
		return ErrStopped
	}
	return nil
}

// Resume connects to the room persisted by a previous run, if any. It returns
// the room id it resumed, or "" when nothing was stored.
func (e *Engine) Resume(ctx context.Context) (string, error) {
	roomID, err := e.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if roomID == "" {
		return "", nil
	}
	return roomID, e.Connect(roomID)
}

// State returns a snapshot taken by the loop after every message queued before
// the call has been processed.
func (e *Engine) State(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case e.inbox <- stateQuery{reply: reply}:
	case <-e.done:
		return e.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-e.done:
		return e.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Snapshot returns the most recently published state without waiting
func (e *Engine) Snapshot() Snapshot {
	return *e.latest.Load()
}

// Subscribe returns a channel of state changes. Slow subscribers lose the
// oldest buffered events. The returned func unsubscribes.
func (e *Engine) Subscribe() (<-chan StateEvent, func()) {
	ch := make(chan StateEvent, e.config.SubscriberBuffer)

	e.subsMu.Lock()
	if e.subsClosed {
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			defer e.subsMu.Unlock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
		})
	}
}

// Done is closed when Run returns
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) post(m message) bool {
	// a stopped loop leaves free inbox slots, so done must win
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.inbox <- m:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) handle(m message) {
	switch msg := m.(type) {
	case connectIntent:
		e.handleConnect(msg.roomID)
	case disconnectIntent:
		e.handleDisconnect()
	case transportEvent:
		e.handleTransport(msg)
	case taskFired:
		e.handleTask(msg.id)
	case stateQuery:
		if e.dirty {
			e.publish()
		}
		msg.reply <- e.snapshot()
	}
}

func (e *Engine) changed() {
	e.dirty = true
}

func (e *Engine) setPhase(p Phase) {
	if e.phase == p {
		return
	}
	log.Debug().Str("from", string(e.phase)).Str("to", string(p)).Msg("phase transition")
	e.phase = p
	e.changed()
}

func (e *Engine) setError(msg string) {
	e.lastError = msg
	e.changed()
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Phase:        e.phase,
		RoomID:       e.roomID,
		RetryCount:   e.retryCount,
		MaxRetries:   e.config.Reconnect.MaxRetries,
		Error:        e.lastError,
		Tracker:      e.tracker,
		Reconnecting: e.reconnecting,
		UpdatedAt:    e.clock.Now(),
	}
	if e.roomID != "" {
		snap.Fragment = roomstore.FormatFragment(e.roomID)
	}
	if e.pending != nil && e.pending.kind == taskRetry {
		deadline := e.pending.deadline
		snap.RetryPending = true
		snap.RetryDelay = e.pending.delay
		snap.RetryAt = &deadline
	}
	return snap
}

func (e *Engine) publish() {
	e.dirty = false
	snap := e.snapshot()
	e.latest.Store(&snap)
	e.metrics.RecordPhase(snap.Phase)

	ev := StateEvent{Previous: e.published, Snapshot: snap}
	e.published = snap.Phase

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// drop the oldest so the newest state always lands
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				log.Warn().Msg("subscriber buffer full, dropping state event")
			}
		}
	}
}

func (e *Engine) shutdown() {
	e.cancelScheduled()
	e.teardown()
	e.reconnecting = false
	if e.dirty {
		e.publish()
	}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subsClosed = true
	for ch := range e.subs {
		close(ch)
		delete(e.subs, ch)
	}
}
