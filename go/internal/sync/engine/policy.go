package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Failure reasons, used as the metrics label
const (
	reasonInit          = "init"
	reasonConnect       = "connect"
	reasonPeerError     = "peer_error"
	reasonChannelClosed = "channel_closed"
	reasonChannelError  = "channel_error"
	reasonSignaling     = "signaling"
	reasonTimeout       = "timeout"
)

// failure describes why the session stopped working. lost is set when an
// established connection dropped, as opposed to one that never came up.
type failure struct {
	reason  string
	message string
	lost    bool
}

func (e *Engine) fail(f failure) {
	e.metrics.RecordConnectionLoss(f.reason)
	switch e.config.Reconnect.Strategy {
	case StrategySingleAttempt:
		e.failSingle(f)
	default:
		e.failBackoff(f)
	}
}

// failBackoff schedules the next attempt, or gives up once the budget is spent.
// Failures that arrive while a retry is already pending are ignored so that at
// most one timer exists.
func (e *Engine) failBackoff(f failure) {
	if e.pending != nil {
		log.Debug().Str("reason", f.reason).Msg("retry already pending, ignoring failure")
		return
	}

	e.teardown()
	e.setPhase(PhaseError)

	maxRetries := e.config.Reconnect.MaxRetries
	if e.roomID == "" {
		e.setError(f.message)
		return
	}
	if e.retryCount >= maxRetries {
		log.Error().
			Str("room_id", e.roomID).
			Int("attempts", e.retryCount).
			Msg("connection failed after multiple retries")
		e.metrics.RecordRetriesExhausted()
		e.setError(msgRetriesExhausted)
		return
	}

	e.retryCount++
	delay := e.config.Reconnect.Delay(e.retryCount)
	e.setError(fmt.Sprintf(msgRetryScheduled, f.message, int(delay/time.Second), e.retryCount, maxRetries))
	e.schedule(taskRetry, delay)
	e.metrics.RecordRetryScheduled(e.retryCount, delay)

	log.Warn().
		Str("room_id", e.roomID).
		Str("reason", f.reason).
		Int("attempt", e.retryCount).
		Dur("delay", delay).
		Msg("scheduling reconnect")
}

// failSingle handles a failure under the single-attempt strategy. Setup
// failures are terminal; losing an established session triggers one bounded
// reconnect when there is a model worth keeping.
func (e *Engine) failSingle(f failure) {
	if e.reconnecting {
		if f.lost {
			// the timeout decides
			log.Debug().Str("reason", f.reason).Msg("connection loss during reconnect")
			return
		}
		e.reconnectFailed(f.message)
		return
	}

	e.teardown()
	if !f.lost || e.tracker == nil || e.roomID == "" {
		e.setPhase(PhaseError)
		e.setError(f.message)
		return
	}

	log.Warn().Str("room_id", e.roomID).Str("reason", f.reason).Msg("connection lost, attempting reconnect")
	e.reconnecting = true
	e.setError(fmt.Sprintf(msgReconnecting, f.message))
	e.setPhase(PhaseReconnecting)
	e.schedule(taskReconnectTimeout, e.config.Reconnect.Timeout)
	e.connect(e.roomID, true)
}

func (e *Engine) reconnectSucceeded() {
	log.Info().Str("room_id", e.roomID).Msg("reconnect succeeded")
	e.cancelScheduled()
	e.reconnecting = false
	e.setError("")
}

// reconnectFailed abandons the reconnect, resets the session as a disconnect
// would and leaves the failure message behind.
func (e *Engine) reconnectFailed(reason string) {
	if !e.reconnecting {
		return
	}
	log.Error().Str("room_id", e.roomID).Str("reason", reason).Msg("reconnect failed")
	e.cancelScheduled()
	e.reconnecting = false
	e.reset()
	e.setError(fmt.Sprintf(msgReconnectFailed, trimPeriod(reason)))
}

func (e *Engine) handleTask(id uint64) {
	task, ok := e.takeFired(id)
	if !ok {
		return
	}

	switch task.kind {
	case taskRetry:
		if e.roomID == "" {
			return
		}
		log.Info().Str("room_id", e.roomID).Int("attempt", e.retryCount).Msg("retry timer fired")
		e.connect(e.roomID, true)

	case taskReconnectTimeout:
		if !e.reconnecting {
			return
		}
		e.metrics.RecordConnectionLoss(reasonTimeout)
		e.reconnectFailed(msgReconnectTimedOut)
	}
}

func trimPeriod(s string) string {
	for len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
