// Package natstransport receives host state from a NATS JetStream stream. Each
// hosted room publishes its state packets to <prefix>.<roomId>.state; a room is
// considered hosted while that subject holds a message.
package natstransport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/sync/transport"
)

// StatusHeader marks control messages on a room subject
const (
	StatusHeader = "Tracker-Status"
	StatusClosed = "closed"
)

// Config holds configuration for the JetStream transport
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	ConnectWait   time.Duration
	LookupTimeout time.Duration
}

// DefaultConfig returns default JetStream transport configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "TRACKER_STATE",
		SubjectPrefix: "tracker.rooms",
		ConnectWait:   5 * time.Second,
		LookupTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("nats url is required")
	}
	if c.StreamName == "" {
		return errors.New("stream name is required")
	}
	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, " *>") {
		return fmt.Errorf("invalid subject prefix %q", c.SubjectPrefix)
	}
	return nil
}

// StateSubject returns the subject a room publishes its state to
func (c Config) StateSubject(roomID string) (string, error) {
	if roomID == "" || strings.ContainsAny(roomID, " .*>\t\r\n") {
		return "", fmt.Errorf("room id %q is not a valid subject token", roomID)
	}
	return c.SubjectPrefix + "." + roomID + ".state", nil
}

// Transport implements transport.Transport over JetStream
type Transport struct {
	config Config
}

// New creates a JetStream transport
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = def.ConnectWait
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	return &Transport{config: cfg}, nil
}

// OpenLocalSession implements transport.Transport. The NATS connection is made in
// the background; automatic reconnects are disabled so that a dropped connection
// surfaces as PeerDisconnected and the engine's policy decides what happens.
func (t *Transport) OpenLocalSession(sink transport.Sink) (transport.Peer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		config:  t.config,
		sink:    sink,
		localID: "viewer-" + uuid.NewString(),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.connect()
	return p, nil
}

type peer struct {
	config  Config
	sink    transport.Sink
	localID string
	ctx     context.Context
	cancel  context.CancelFunc

	emitMu sync.Mutex

	mu        sync.Mutex
	nc        *nats.Conn
	js        jetstream.JetStream
	channels  []*channel
	destroyed bool
}

func (p *peer) emit(ev transport.Event) {
	if p.Destroyed() {
		return
	}
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.sink(ev)
}

func (p *peer) connect() {
	opts := []nats.Option{
		nats.Name(p.localID),
		nats.Timeout(p.config.ConnectWait),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if p.Destroyed() {
				return
			}
			log.Error().Err(err).Msg("NATS disconnected")
			p.emit(transport.Event{Kind: transport.PeerDisconnected})
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(p.config.URL, opts...)
	if err != nil {
		log.Error().Err(err).Str("url", p.config.URL).Msg("failed to connect to NATS")
		p.emit(transport.Event{Kind: transport.PeerError, Err: transport.NewError(transport.ErrorTypeNetwork, err)})
		return
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		p.emit(transport.Event{Kind: transport.PeerError, Err: transport.NewError(transport.ErrorTypeServer, err)})
		return
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		nc.Close()
		return
	}
	p.nc = nc
	p.js = js
	p.mu.Unlock()

	log.Info().Str("url", nc.ConnectedUrl()).Str("local_id", p.localID).Msg("connected to NATS")
	p.emit(transport.Event{Kind: transport.PeerOpen, LocalID: p.localID})
}

// Connect implements transport.Peer
func (p *peer) Connect(remoteID string, opts transport.ConnectOptions) (transport.Channel, error) {
	subject, err := p.config.StateSubject(remoteID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, transport.ErrDestroyed
	}
	if p.js == nil {
		return nil, errors.New("not connected")
	}
	ctx, cancel := context.WithCancel(p.ctx)
	c := &channel{peer: p, js: p.js, roomID: remoteID, subject: subject, ctx: ctx, cancel: cancel}
	p.channels = append(p.channels, c)
	go c.run()
	return c, nil
}

// Destroy implements transport.Peer
func (p *peer) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	nc := p.nc
	channels := p.channels
	p.channels = nil
	p.mu.Unlock()

	p.cancel()
	for _, c := range channels {
		_ = c.Close()
	}
	if nc != nil {
		nc.Close()
	}
}

// Destroyed implements transport.Peer
func (p *peer) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

type channel struct {
	peer    *peer
	js      jetstream.JetStream
	roomID  string
	subject string
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	consume jetstream.ConsumeContext
	closed  bool
}

func (c *channel) run() {
	lookupCtx, cancel := context.WithTimeout(c.ctx, c.peer.config.LookupTimeout)
	defer cancel()

	stream, err := c.js.Stream(lookupCtx, c.peer.config.StreamName)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.peer.emit(transport.Event{Kind: transport.PeerError, Err: transport.NewError(transport.ErrorTypeServer, fmt.Errorf("get stream: %w", err))})
		return
	}

	if _, err := stream.GetLastMsgForSubject(lookupCtx, c.subject); err != nil {
		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			c.peer.emit(transport.Event{
				Kind: transport.PeerError,
				Err: transport.NewError(transport.ErrorTypePeerUnavailable,
					fmt.Errorf("could not connect to peer %s", c.roomID)),
			})
			return
		}
		c.peer.emit(transport.Event{Kind: transport.ChannelError, Err: err})
		return
	}

	consumer, err := stream.OrderedConsumer(lookupCtx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{c.subject},
		DeliverPolicy:  jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.peer.emit(transport.Event{Kind: transport.ChannelError, Err: fmt.Errorf("create consumer: %w", err)})
		return
	}

	cc, err := consumer.Consume(c.handle)
	if err != nil {
		c.peer.emit(transport.Event{Kind: transport.ChannelError, Err: fmt.Errorf("start consumer: %w", err)})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cc.Stop()
		return
	}
	c.consume = cc
	c.mu.Unlock()

	log.Debug().Str("subject", c.subject).Msg("room consumer started")
	c.peer.emit(transport.Event{Kind: transport.ChannelOpen})
}

func (c *channel) handle(msg jetstream.Msg) {
	if c.isClosed() {
		return
	}
	if msg.Headers().Get(StatusHeader) == StatusClosed {
		log.Info().Str("room_id", c.roomID).Msg("host closed the room")
		c.peer.emit(transport.Event{Kind: transport.ChannelClose})
		return
	}
	c.peer.emit(transport.Event{Kind: transport.ChannelData, Data: msg.Data()})
}

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements transport.Channel
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cc := c.consume
	c.mu.Unlock()

	c.cancel()
	if cc != nil {
		cc.Stop()
	}
	return nil
}
