package engine

import "errors"

var (
	// ErrEmptyRoomID is returned by Connect for a blank room identifier
	ErrEmptyRoomID = errors.New("room id is required")
	// ErrReconnectInProgress is returned by Connect while a single-attempt reconnect is running
	ErrReconnectInProgress = errors.New("reconnect in progress")
	// ErrStopped is returned once the engine loop has exited
	ErrStopped = errors.New("engine stopped")
	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("engine already running")
)

// User facing messages. They always explain the cause; retry messages carry the
// attempt counter and countdown.
const (
	msgInitFailed        = "Failed to initialize connection service."
	msgConnectFailed     = "Failed to initiate connection. The Room ID might be invalid or the peer server is unreachable."
	msgPeerUnavailable   = "Could not find a DM with that Room ID. Please double-check the ID and ensure the DM is still hosting."
	msgNetwork           = "Network error. Please check your internet connection and firewall settings."
	msgPeerGeneric       = "A peer-to-peer error occurred."
	msgChannelClosed     = "Connection to the DM was closed."
	msgChannelFailed     = "Connection failed: %s"
	msgUnknownError      = "An unknown error occurred."
	msgSignalingLost     = "Lost connection to the signaling server."
	msgRetryScheduled    = "%s Retrying in %ds... (Attempt %d/%d)"
	msgRetrying          = "Reconnecting... (Attempt %d/%d)"
	msgRetriesExhausted  = "Connection failed after multiple retries. Please check the Room ID and your connection, then connect manually."
	msgReconnecting      = "%s Reconnecting..."
	msgReconnectFailed   = "Reconnect failed: %s. Please connect manually."
	msgReconnectTimedOut = "Connection attempt timed out"
)
