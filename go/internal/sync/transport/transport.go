// Package transport defines the receive-only peer-to-peer capability set the
// sync engine consumes. Implementations deliver events through a Sink; the
// engine detaches a session by ignoring its sink after teardown.
package transport

import (
	"errors"
	"fmt"
)

// EventKind identifies a transport event
type EventKind int

const (
	// Local session events
	PeerOpen EventKind = iota + 1
	PeerError
	PeerDisconnected

	// Remote channel events
	ChannelOpen
	ChannelData
	ChannelClose
	ChannelError
)

// String returns the string representation of an EventKind
func (k EventKind) String() string {
	switch k {
	case PeerOpen:
		return "peer_open"
	case PeerError:
		return "peer_error"
	case PeerDisconnected:
		return "peer_disconnected"
	case ChannelOpen:
		return "channel_open"
	case ChannelData:
		return "channel_data"
	case ChannelClose:
		return "channel_close"
	case ChannelError:
		return "channel_error"
	default:
		return "unknown"
	}
}

// Event is a single callback from the transport
type Event struct {
	Kind    EventKind
	LocalID string // set on PeerOpen
	Data    []byte // set on ChannelData
	Err     error  // set on PeerError and ChannelError
}

// Sink receives the events of one local session. Implementations must call it
// serially, never from two goroutines at once.
type Sink func(Event)

// ConnectOptions are passed to Peer.Connect
type ConnectOptions struct {
	Reliable bool
}

// Transport opens local peer sessions
type Transport interface {
	// OpenLocalSession creates a local peer handle. It must not block on the
	// network; the outcome is reported later as PeerOpen or PeerError.
	OpenLocalSession(sink Sink) (Peer, error)
}

// Peer is a local session handle
type Peer interface {
	// Connect initiates a receive-only channel to the remote room. A nil channel
	// or an error means the connection could not be initiated.
	Connect(remoteID string, opts ConnectOptions) (Channel, error)
	// Destroy releases the handle. Safe to call more than once.
	Destroy()
	Destroyed() bool
}

// Channel is a receive-only data channel to the host
type Channel interface {
	Close() error
}

// Error types reported by transports
const (
	ErrorTypePeerUnavailable = "peer-unavailable"
	ErrorTypeNetwork         = "network"
	ErrorTypeServer          = "server-error"
	ErrorTypeUnavailableID   = "unavailable-id"
	ErrorTypeBrowser         = "browser-incompatible"
)

var (
	// ErrPeerUnavailable is returned when the remote room is not being hosted
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrNetwork is returned for network level failures
	ErrNetwork = errors.New("network error")
	// ErrDestroyed is returned when a destroyed peer is used
	ErrDestroyed = errors.New("peer destroyed")
)

// Error is a classified transport failure
type Error struct {
	Type string
	Err  error
}

// NewError wraps err with a transport error type
func NewError(typ string, err error) *Error {
	return &Error{Type: typ, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Type
	}
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for the error type
func (e *Error) Is(target error) bool {
	switch target {
	case ErrPeerUnavailable:
		return e.Type == ErrorTypePeerUnavailable
	case ErrNetwork:
		return e.Type == ErrorTypeNetwork
	}
	return false
}

// ErrorType extracts the transport error type, or "" if err is not classified
func ErrorType(err error) string {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Type
	}
	return ""
}
