// Package wstransport reaches the host through a websocket relay. The local
// session is a signaling socket at <base>/signal; joining a room dials the room
// socket at <base>/rooms/<roomId>, whose text frames are the host's packets.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/sync/transport"
)

// Signaling message types sent by the relay
const (
	MsgOpen      = "OPEN"
	MsgError     = "ERROR"
	MsgIDTaken   = "ID-TAKEN"
	MsgHeartbeat = "HEARTBEAT"
	MsgExpire    = "EXPIRE"
)

// SignalMessage is a frame on the signaling socket
type SignalMessage struct {
	Type    string         `json:"type"`
	Payload *SignalPayload `json:"payload,omitempty"`
}

// SignalPayload carries error details
type SignalPayload struct {
	Msg  string `json:"msg,omitempty"`
	Type string `json:"type,omitempty"`
}

// Config holds configuration for the websocket transport
type Config struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	HeartbeatPeriod  time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// DefaultConfig returns default websocket transport configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:          "ws://localhost:9000/relay",
		HandshakeTimeout: 10 * time.Second,
		HeartbeatPeriod:  5 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}

// Transport implements transport.Transport over websockets
type Transport struct {
	config Config
	base   *url.URL
	dialer *websocket.Dialer
}

// New validates cfg and creates a transport
func New(cfg Config) (*Transport, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("relay url must use ws or wss, got %q", base.Scheme)
	}
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = def.HeartbeatPeriod
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	return &Transport{
		config: cfg,
		base:   base,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}, nil
}

// SignalURL returns the signaling endpoint for a local id
func (t *Transport) SignalURL(localID string) string {
	u := *t.base
	u.Path += "/signal"
	u.RawQuery = url.Values{"id": {localID}}.Encode()
	return u.String()
}

// RoomURL returns the room endpoint for a remote id
func (t *Transport) RoomURL(roomID, localID string) string {
	u := *t.base
	u.Path += "/rooms/" + roomID
	u.RawQuery = url.Values{"id": {localID}}.Encode()
	return u.String()
}

// OpenLocalSession implements transport.Transport. The signaling socket is
// dialed in the background.
func (t *Transport) OpenLocalSession(sink transport.Sink) (transport.Peer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		transport: t,
		sink:      sink,
		localID:   uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
	}
	go p.runSignaling()
	return p, nil
}

type peer struct {
	transport *Transport
	sink      transport.Sink
	localID   string
	ctx       context.Context
	cancel    context.CancelFunc

	emitMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
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

func (p *peer) runSignaling() {
	conn, resp, err := p.transport.dialer.DialContext(p.ctx, p.transport.SignalURL(p.localID), nil)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("failed to reach signaling server")
		p.emit(transport.Event{Kind: transport.PeerError, Err: classifyDialError(resp, err)})
		return
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.conn = conn
	p.mu.Unlock()

	conn.SetReadLimit(p.transport.config.MaxMessageSize)
	go p.heartbeat(conn)

	for {
		var msg SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if p.Destroyed() {
				return
			}
			log.Warn().Err(err).Msg("signaling socket closed")
			p.emit(transport.Event{Kind: transport.PeerDisconnected})
			return
		}

		switch msg.Type {
		case MsgOpen:
			p.emit(transport.Event{Kind: transport.PeerOpen, LocalID: p.localID})
		case MsgError:
			p.emit(transport.Event{Kind: transport.PeerError, Err: payloadError(msg.Payload, transport.ErrorTypeServer)})
		case MsgIDTaken:
			p.emit(transport.Event{Kind: transport.PeerError, Err: payloadError(msg.Payload, transport.ErrorTypeUnavailableID)})
		case MsgExpire:
			p.emit(transport.Event{Kind: transport.PeerError, Err: payloadError(msg.Payload, transport.ErrorTypePeerUnavailable)})
		case MsgHeartbeat:
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring signaling message")
		}
	}
}

func (p *peer) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(p.transport.config.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(p.transport.config.WriteTimeout))
			err := conn.WriteJSON(SignalMessage{Type: MsgHeartbeat})
			p.writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("failed to send heartbeat")
				return
			}
		}
	}
}

// Connect implements transport.Peer
func (p *peer) Connect(remoteID string, opts transport.ConnectOptions) (transport.Channel, error) {
	if strings.TrimSpace(remoteID) == "" {
		return nil, errors.New("remote id is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, transport.ErrDestroyed
	}
	ctx, cancel := context.WithCancel(p.ctx)
	c := &channel{peer: p, remoteID: remoteID, ctx: ctx, cancel: cancel}
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
	conn := p.conn
	channels := p.channels
	p.channels = nil
	p.mu.Unlock()

	p.cancel()
	for _, c := range channels {
		_ = c.Close()
	}
	if conn != nil {
		p.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
		_ = conn.Close()
	}
}

// Destroyed implements transport.Peer
func (p *peer) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

type channel struct {
	peer     *peer
	remoteID string
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (c *channel) run() {
	t := c.peer.transport
	conn, resp, err := t.dialer.DialContext(c.ctx, t.RoomURL(c.remoteID, c.peer.localID), nil)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			c.peer.emit(transport.Event{
				Kind: transport.PeerError,
				Err: transport.NewError(transport.ErrorTypePeerUnavailable,
					fmt.Errorf("could not connect to peer %s", c.remoteID)),
			})
			return
		}
		c.peer.emit(transport.Event{Kind: transport.ChannelError, Err: err})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadLimit(t.config.MaxMessageSize)
	c.peer.emit(transport.Event{Kind: transport.ChannelOpen})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.peer.emit(transport.Event{Kind: transport.ChannelClose})
				return
			}
			c.peer.emit(transport.Event{Kind: transport.ChannelError, Err: err})
			return
		}
		c.peer.emit(transport.Event{Kind: transport.ChannelData, Data: data})
	}
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
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func classifyDialError(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode >= 500 {
		return transport.NewError(transport.ErrorTypeServer, fmt.Errorf("relay returned %s", resp.Status))
	}
	return transport.NewError(transport.ErrorTypeNetwork, err)
}

func payloadError(p *SignalPayload, fallback string) error {
	if p == nil {
		return transport.NewError(fallback, nil)
	}
	typ := p.Type
	if typ == "" {
		typ = fallback
	}
	var err error
	if p.Msg != "" {
		err = errors.New(p.Msg)
	}
	return transport.NewError(typ, err)
}
