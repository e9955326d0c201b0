package engine

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type taskKind int

const (
	taskRetry taskKind = iota + 1
	taskReconnectTimeout
)

func (k taskKind) String() string {
	switch k {
	case taskRetry:
		return "retry"
	case taskReconnectTimeout:
		return "reconnect_timeout"
	default:
		return "unknown"
	}
}

// scheduledTask is the single pending timer. Only the loop reads or writes it.
type scheduledTask struct {
	id       uint64
	kind     taskKind
	delay    time.Duration
	deadline time.Time
	timer    clockwork.Timer
	cancel   context.CancelFunc
}

// schedule replaces any pending task with a new one-shot timer. When it fires the
// waiting goroutine posts taskFired into the inbox; the loop checks the id so a
// timer cancelled after firing is ignored.
func (e *Engine) schedule(kind taskKind, delay time.Duration) {
	e.cancelScheduled()

	e.nextTaskID++
	timer := e.clock.NewTimer(delay)
	ctx, cancel := context.WithCancel(e.runCtx)
	task := &scheduledTask{
		id:       e.nextTaskID,
		kind:     kind,
		delay:    delay,
		deadline: e.clock.Now().Add(delay),
		timer:    timer,
		cancel:   cancel,
	}
	e.pending = task

	go func(id uint64, t clockwork.Timer) {
		select {
		case <-t.Chan():
			e.post(taskFired{id: id})
		case <-ctx.Done():
			stopAndDrainTimer(t)
		}
	}(task.id, timer)

	log.Debug().
		Str("task", kind.String()).
		Uint64("task_id", task.id).
		Dur("delay", delay).
		Time("deadline", task.deadline).
		Msg("scheduled one-shot timer")
}

// cancelScheduled stops and forgets the pending task, if any
func (e *Engine) cancelScheduled() {
	if e.pending == nil {
		return
	}
	stopAndDrainTimer(e.pending.timer)
	e.pending.cancel()
	log.Debug().
		Str("task", e.pending.kind.String()).
		Uint64("task_id", e.pending.id).
		Msg("cancelled pending timer")
	e.pending = nil
	e.changed()
}

// takeFired claims the pending task if id still refers to it. The handle is
// cleared before the caller acts on it.
func (e *Engine) takeFired(id uint64) (*scheduledTask, bool) {
	if e.pending == nil || e.pending.id != id {
		log.Debug().Uint64("task_id", id).Msg("ignoring stale timer")
		return nil, false
	}
	task := e.pending
	task.cancel()
	e.pending = nil
	e.changed()
	return task, true
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
