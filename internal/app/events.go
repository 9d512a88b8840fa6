package app

import "time"

// BatchSent describes one batch fully written to the peer.
type BatchSent struct {
	SessionID string
	BatchID   int
	Bytes     int
	Duration  time.Duration
}

// SessionEnd describes a connection session after it was torn down.
type SessionEnd struct {
	SessionID  string
	RemoteAddr string
	Batches    uint64
	Bytes      uint64
	Drained    int
	Duration   time.Duration
	Cause      error
}

// EventEmitter receives pipeline events. Calls are made synchronously from
// the transmission task and must not block.
type EventEmitter interface {
	OnBatchSent(ev BatchSent)
	OnSessionEnd(ev SessionEnd)
}

type noopEmitter struct{}

func (noopEmitter) OnBatchSent(BatchSent)   {}
func (noopEmitter) OnSessionEnd(SessionEnd) {}
