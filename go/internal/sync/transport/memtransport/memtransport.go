// Package memtransport is an in-process transport. In scripted mode every event
// is emitted explicitly by the caller, which makes it the test double for the
// engine. Rooms registered with Host make it a loopback transport: peers open on
// their own and channels connected to a hosted room receive its published state.
package memtransport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/tracksync/go/internal/sync/transport"
	"github.com/mcdev12/tracksync/go/internal/tracker/events"
)

// Transport is an in-memory transport.Transport
type Transport struct {
	mu         sync.Mutex
	peers      []*Peer
	rooms      map[string]*Room
	openErr    error
	connectErr error
	autoOpen   bool
}

// New creates a scripted transport
func New() *Transport {
	return &Transport{rooms: make(map[string]*Room)}
}

// NewLoopback creates a transport whose peers open automatically
func NewLoopback() *Transport {
	t := New()
	t.autoOpen = true
	return t
}

// FailOpen makes subsequent OpenLocalSession calls fail with err (nil clears it)
func (t *Transport) FailOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

// FailConnect makes subsequent Peer.Connect calls fail with err (nil clears it)
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// OpenLocalSession implements transport.Transport
func (t *Transport) OpenLocalSession(sink transport.Sink) (transport.Peer, error) {
	t.mu.Lock()
	if t.openErr != nil {
		err := t.openErr
		t.mu.Unlock()
		return nil, err
	}
	p := &Peer{transport: t, sink: sink}
	t.peers = append(t.peers, p)
	auto := t.autoOpen
	t.mu.Unlock()

	if auto {
		go p.EmitOpen("mem-" + uuid.NewString()[:8])
	}
	return p, nil
}

// Peers returns every peer opened so far, oldest first
func (t *Transport) Peers() []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Peer, len(t.peers))
	copy(out, t.peers)
	return out
}

// LastPeer returns the most recently opened peer, or nil
func (t *Transport) LastPeer() *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.peers) == 0 {
		return nil
	}
	return t.peers[len(t.peers)-1]
}

// Host registers a room that loopback channels can connect to
func (t *Transport) Host(roomID string) *Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := &Room{id: roomID}
	t.rooms[roomID] = r
	return r
}

func (t *Transport) room(id string) (*Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[id]
	return r, ok
}

// Peer is a scripted local session
type Peer struct {
	transport *Transport
	sink      transport.Sink
	emitMu    sync.Mutex

	mu        sync.Mutex
	destroyed bool
	channels  []*Channel
}

// Connect implements transport.Peer
func (p *Peer) Connect(remoteID string, opts transport.ConnectOptions) (transport.Channel, error) {
	p.transport.mu.Lock()
	connectErr := p.transport.connectErr
	auto := p.transport.autoOpen
	p.transport.mu.Unlock()

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, transport.ErrDestroyed
	}
	if connectErr != nil {
		p.mu.Unlock()
		return nil, connectErr
	}
	c := &Channel{peer: p, remoteID: remoteID, reliable: opts.Reliable}
	p.channels = append(p.channels, c)
	p.mu.Unlock()

	if auto {
		room, ok := p.transport.room(remoteID)
		if !ok {
			go p.EmitError(transport.NewError(transport.ErrorTypePeerUnavailable,
				fmt.Errorf("could not connect to peer %s", remoteID)))
			return c, nil
		}
		go room.join(c)
	}
	return c, nil
}

// Destroy implements transport.Peer
func (p *Peer) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
}

// Destroyed implements transport.Peer
func (p *Peer) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Channels returns every channel created by this peer
func (p *Peer) Channels() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Channel, len(p.channels))
	copy(out, p.channels)
	return out
}

// LastChannel returns the most recent channel, or nil
func (p *Peer) LastChannel() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	return p.channels[len(p.channels)-1]
}

func (p *Peer) emit(ev transport.Event) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.sink(ev)
}

// EmitOpen reports the local identity as established
func (p *Peer) EmitOpen(localID string) {
	p.emit(transport.Event{Kind: transport.PeerOpen, LocalID: localID})
}

// EmitError reports a peer level failure
func (p *Peer) EmitError(err error) {
	p.emit(transport.Event{Kind: transport.PeerError, Err: err})
}

// EmitDisconnected reports loss of the signaling connection
func (p *Peer) EmitDisconnected() {
	p.emit(transport.Event{Kind: transport.PeerDisconnected})
}

// Channel is a scripted data channel
type Channel struct {
	peer     *Peer
	remoteID string
	reliable bool

	mu     sync.Mutex
	closed bool
}

// RemoteID returns the room the channel was opened for
func (c *Channel) RemoteID() string { return c.remoteID }

// Reliable reports the option the channel was opened with
func (c *Channel) Reliable() bool { return c.reliable }

// Close implements transport.Channel
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EmitOpen reports the channel as live
func (c *Channel) EmitOpen() {
	c.peer.emit(transport.Event{Kind: transport.ChannelOpen})
}

// EmitData delivers a raw packet
func (c *Channel) EmitData(data []byte) {
	c.peer.emit(transport.Event{Kind: transport.ChannelData, Data: data})
}

// EmitState wraps payload in a host state envelope and delivers it
func (c *Channel) EmitState(payload events.RawStatePayload) error {
	data, err := events.EncodeStatePacket(payload)
	if err != nil {
		return err
	}
	c.EmitData(data)
	return nil
}

// EmitClose reports the channel as closed by the remote side
func (c *Channel) EmitClose() {
	c.peer.emit(transport.Event{Kind: transport.ChannelClose})
}

// EmitError reports a channel failure
func (c *Channel) EmitError(err error) {
	c.peer.emit(transport.Event{Kind: transport.ChannelError, Err: err})
}

// Room is a hosted loopback room
type Room struct {
	id string

	mu       sync.Mutex
	channels []*Channel
	last     []byte
}

func (r *Room) join(c *Channel) {
	r.mu.Lock()
	r.channels = append(r.channels, c)
	last := r.last
	r.mu.Unlock()

	c.EmitOpen()
	if last != nil {
		c.EmitData(last)
	}
}

// Publish sends a state snapshot to every open channel of the room and keeps it
// for channels that join later.
func (r *Room) Publish(payload events.RawStatePayload) error {
	data, err := events.EncodeStatePacket(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.last = data
	live := r.channels[:0]
	for _, c := range r.channels {
		if !c.Closed() {
			live = append(live, c)
		}
	}
	r.channels = live
	targets := make([]*Channel, len(live))
	copy(targets, live)
	r.mu.Unlock()

	for _, c := range targets {
		c.EmitData(data)
	}
	return nil
}

// Close drops every channel of the room as if the host stopped
func (r *Room) Close() {
	r.mu.Lock()
	targets := r.channels
	r.channels = nil
	r.mu.Unlock()

	for _, c := range targets {
		if !c.Closed() {
			c.EmitClose()
		}
	}
}
