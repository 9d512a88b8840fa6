package spiship

import (
	"time"

	"github.com/bft-labs/spiship/internal/app"
)

// State is the lifecycle state of a Spiship instance.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	return toAppState(s).String()
}

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// BatchSentEvent is emitted after a batch was fully written to the peer.
type BatchSentEvent struct {
	SessionID string
	BatchID   int
	Bytes     int
	Duration  time.Duration
}

// SessionEndEvent is emitted when a peer connection is torn down.
type SessionEndEvent struct {
	SessionID  string
	RemoteAddr string
	Batches    uint64
	Bytes      uint64
	Drained    int
	Duration   time.Duration
	Err        error
}

// EventHandler receives notifications. Methods are called synchronously from
// the streaming goroutines and must return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnBatchSent(event BatchSentEvent)
	OnSessionEnd(event SessionEndEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to handle
// only the events you care about.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnBatchSent(BatchSentEvent)     {}
func (BaseEventHandler) OnSessionEnd(SessionEndEvent)   {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnBatchSent(ev app.BatchSent) {
	if e.handler == nil {
		return
	}
	e.handler.OnBatchSent(BatchSentEvent{
		SessionID: ev.SessionID,
		BatchID:   ev.BatchID,
		Bytes:     ev.Bytes,
		Duration:  ev.Duration,
	})
}

func (e *eventEmitterWrapper) OnSessionEnd(ev app.SessionEnd) {
	if e.handler == nil {
		return
	}
	e.handler.OnSessionEnd(SessionEndEvent{
		SessionID:  ev.SessionID,
		RemoteAddr: ev.RemoteAddr,
		Batches:    ev.Batches,
		Bytes:      ev.Bytes,
		Drained:    ev.Drained,
		Duration:   ev.Duration,
		Err:        ev.Cause,
	})
}

func convertState(s app.State) State {
	switch s {
	case app.StateStopped:
		return StateStopped
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}

func toAppState(s State) app.State {
	switch s {
	case StateStarting:
		return app.StateStarting
	case StateRunning:
		return app.StateRunning
	case StateStopping:
		return app.StateStopping
	case StateCrashed:
		return app.StateCrashed
	default:
		return app.StateStopped
	}
}
