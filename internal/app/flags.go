package app

import (
	"context"
	"sync"
)

// FlagWaiter is the read side of a sticky flag.
type FlagWaiter interface {
	IsSet() bool
	Wait(ctx context.Context) error
}

// FlagSetter is the raise-only side of a sticky flag.
type FlagSetter interface {
	Set()
}

// Flag is a sticky boolean signal. Once set it stays set until cleared.
// Waiters are released by closing a channel, so Set wakes all of them.
type Flag struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewFlag creates a cleared flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Set raises the flag. Setting an already raised flag is a no-op.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.set = true
	close(f.ch)
}

// Clear lowers the flag. Clearing a lowered flag is a no-op.
func (f *Flag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		return
	}
	f.set = false
	f.ch = make(chan struct{})
}

// IsSet reports whether the flag is raised.
func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Wait blocks until the flag is raised or ctx is done.
func (f *Flag) Wait(ctx context.Context) error {
	f.mu.Lock()
	if f.set {
		f.mu.Unlock()
		return nil
	}
	ch := f.ch
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signals bundles the two flags coordinating startup between the tasks.
// Connected is set and cleared only by the transmission task.
// HandshakeDone is set only by the handshake and never cleared.
type Signals struct {
	Connected     *Flag
	HandshakeDone *Flag
}

// NewSignals creates both flags lowered.
func NewSignals() Signals {
	return Signals{
		Connected:     NewFlag(),
		HandshakeDone: NewFlag(),
	}
}
