package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one connect-to-disconnect lifetime of the peer connection.
type Session struct {
	ID         string
	RemoteAddr string
	StartedAt  time.Time

	batches atomic.Uint64
	bytes   atomic.Uint64
}

func newSession(remote string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remote,
		StartedAt:  time.Now(),
	}
}

func (s *Session) recordSend(n int) {
	s.batches.Add(1)
	s.bytes.Add(uint64(n))
}

// Batches returns how many batches this session has sent.
func (s *Session) Batches() uint64 { return s.batches.Load() }

// Bytes returns how many bytes this session has sent.
func (s *Session) Bytes() uint64 { return s.bytes.Load() }

// Aborter lets the acquisition task end the current session after a fatal
// device error.
type Aborter interface {
	Abort(cause error) bool
}

// SessionControl tracks the open session and its cancel function.
type SessionControl struct {
	mu      sync.Mutex
	current *Session
	cancel  context.CancelCauseFunc
}

// NewSessionControl creates a control with no open session.
func NewSessionControl() *SessionControl {
	return &SessionControl{}
}

// open derives a session context from ctx and records s as current.
func (c *SessionControl) open(ctx context.Context, s *Session) context.Context {
	sctx, cancel := context.WithCancelCause(ctx)
	c.mu.Lock()
	c.current = s
	c.cancel = cancel
	c.mu.Unlock()
	return sctx
}

// close forgets the current session and releases its context.
func (c *SessionControl) close(cause error) {
	c.mu.Lock()
	cancel := c.cancel
	c.current = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel(cause)
	}
}

// Current returns the open session or nil.
func (c *SessionControl) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Abort cancels the open session with cause.
// Returns false when no session is open.
func (c *SessionControl) Abort(cause error) bool {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel(cause)
	return true
}
