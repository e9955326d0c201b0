package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/sync/transport"
	"github.com/mcdev12/tracksync/go/internal/tracker/events"
)

const storeTimeout = 2 * time.Second

func (e *Engine) handleConnect(roomID string) {
	if e.reconnecting {
		log.Warn().Str("room_id", roomID).Msg("connect ignored while reconnecting")
		return
	}
	e.connect(roomID, false)
}

// connect starts a fresh local session. A user connect resets retry state and
// drops the old model; a retry keeps both.
func (e *Engine) connect(roomID string, isRetry bool) {
	if !isRetry {
		e.roomID = roomID
		e.retryCount = 0
		e.cancelScheduled()
		e.saveRoom(roomID)
		e.setError("")
		e.tracker = nil
	}

	e.teardown()

	if isRetry && e.config.Reconnect.Strategy == StrategySingleAttempt {
		e.setPhase(PhaseReconnecting)
	} else {
		e.setPhase(PhaseConnecting)
	}
	if isRetry && e.config.Reconnect.Strategy == StrategyBackoff {
		e.setError(fmt.Sprintf(msgRetrying, e.retryCount, e.config.Reconnect.MaxRetries))
	}
	e.changed()

	e.nextSession++
	s := &session{id: e.nextSession}
	sink := func(ev transport.Event) {
		if s.detached.Load() {
			return
		}
		e.post(transportEvent{session: s.id, event: ev})
	}

	log.Info().
		Str("room_id", e.roomID).
		Bool("retry", isRetry).
		Int("retry_count", e.retryCount).
		Uint64("session", s.id).
		Msg("opening local session")

	peer, err := e.transport.OpenLocalSession(sink)
	if err != nil || peer == nil {
		s.detached.Store(true)
		log.Error().Err(err).Str("room_id", e.roomID).Msg("failed to open local session")
		e.fail(failure{reason: reasonInit, message: msgInitFailed})
		return
	}
	s.peer = peer
	e.current = s
}

func (e *Engine) handleDisconnect() {
	log.Info().Str("room_id", e.roomID).Msg("disconnecting")
	e.cancelScheduled()
	e.reconnecting = false
	e.reset()
}

// reset is the state of a user initiated disconnect
func (e *Engine) reset() {
	e.clearRoom()
	e.roomID = ""
	e.retryCount = 0
	e.teardown()
	e.tracker = nil
	e.setError("")
	e.setPhase(PhaseDisconnected)
	e.changed()
}

// teardown closes the current channel and peer. Idempotent.
func (e *Engine) teardown() {
	s := e.current
	if s == nil {
		return
	}
	e.current = nil
	s.detached.Store(true)

	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			log.Debug().Err(err).Uint64("session", s.id).Msg("error closing channel")
		}
	}
	if s.peer != nil && !s.peer.Destroyed() {
		s.peer.Destroy()
	}
	log.Debug().Uint64("session", s.id).Msg("session torn down")
}

func (e *Engine) handleTransport(m transportEvent) {
	s := e.current
	if s == nil || s.id != m.session {
		log.Debug().
			Uint64("session", m.session).
			Str("kind", m.event.Kind.String()).
			Msg("dropping event from detached session")
		return
	}

	switch m.event.Kind {
	case transport.PeerOpen:
		if s.channel != nil {
			log.Warn().Str("local_id", m.event.LocalID).Msg("duplicate local session open, keeping existing channel")
			return
		}
		log.Info().Str("local_id", m.event.LocalID).Str("room_id", e.roomID).Msg("local session open, connecting to room")
		ch, err := s.peer.Connect(e.roomID, transport.ConnectOptions{Reliable: true})
		if err != nil || ch == nil {
			log.Error().Err(err).Str("room_id", e.roomID).Msg("failed to initiate connection")
			e.fail(failure{reason: reasonConnect, message: msgConnectFailed})
			return
		}
		s.channel = ch

	case transport.ChannelOpen:
		log.Info().Str("room_id", e.roomID).Msg("channel open, waiting for state")
		if e.reconnecting {
			e.reconnectSucceeded()
		}
		e.setPhase(PhaseWaiting)

	case transport.ChannelData:
		e.handleData(m.event.Data)

	case transport.ChannelClose:
		log.Warn().Str("room_id", e.roomID).Msg("channel closed by host")
		e.fail(failure{reason: reasonChannelClosed, message: msgChannelClosed, lost: true})

	case transport.ChannelError:
		log.Error().Err(m.event.Err).Str("room_id", e.roomID).Msg("channel error")
		e.fail(failure{
			reason:  reasonChannelError,
			message: fmt.Sprintf(msgChannelFailed, errorText(m.event.Err, msgUnknownError)),
			lost:    true,
		})

	case transport.PeerError:
		log.Error().Err(m.event.Err).Str("type", transport.ErrorType(m.event.Err)).Msg("peer error")
		e.fail(failure{reason: reasonPeerError, message: peerErrorMessage(m.event.Err)})

	case transport.PeerDisconnected:
		log.Warn().Msg("signaling connection lost")
		e.fail(failure{reason: reasonSignaling, message: msgSignalingLost, lost: true})

	default:
		log.Warn().Int("kind", int(m.event.Kind)).Msg("unknown transport event")
	}
}

// handleData decodes one inbound packet. Anything that is not a host state
// envelope is ignored and leaves the current model in place.
func (e *Engine) handleData(data []byte) {
	if e.retryCount > 0 {
		log.Info().Int("retry_count", e.retryCount).Msg("connection re-established, resetting retries")
		e.retryCount = 0
		e.cancelScheduled()
		e.changed()
	}
	if e.reconnecting {
		e.reconnectSucceeded()
	}

	payload, err := events.DecodePacket(data)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(data)).Msg("ignoring packet")
		e.metrics.RecordPayload(false)
		return
	}
	model, err := e.normalizer.Normalize(payload)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring state payload")
		e.metrics.RecordPayload(false)
		return
	}

	e.metrics.RecordPayload(true)
	e.tracker = model
	e.changed()

	if e.phase != PhaseConnected {
		log.Info().Str("room_id", e.roomID).Int("creatures", len(model.Creatures)).Msg("first state received")
		e.setError("")
		e.setPhase(PhaseConnected)
	}
}

func (e *Engine) saveRoom(roomID string) {
	ctx, cancel := context.WithTimeout(e.runCtx, storeTimeout)
	defer cancel()
	if err := e.store.Save(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to persist room id")
	}
}

func (e *Engine) clearRoom() {
	ctx, cancel := context.WithTimeout(e.runCtx, storeTimeout)
	defer cancel()
	if err := e.store.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear persisted room id")
	}
}

func peerErrorMessage(err error) string {
	switch transport.ErrorType(err) {
	case transport.ErrorTypePeerUnavailable:
		return msgPeerUnavailable
	case transport.ErrorTypeNetwork:
		return msgNetwork
	}
	if err == nil {
		return msgPeerGeneric
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		if terr.Err != nil && terr.Err.Error() != "" {
			return "Error: " + terr.Err.Error()
		}
		return "Error: " + terr.Type
	}
	return "Error: " + err.Error()
}

func errorText(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}
