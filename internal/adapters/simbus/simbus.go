// Package simbus provides a synthetic peripheral bus that streams the
// calibration pattern. It stands in for hardware on the bench and in tests.
package simbus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/ports"
)

var (
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("simbus: closed")

	// ErrNothingPending is returned by Await when no read was submitted.
	ErrNothingPending = errors.New("simbus: no outstanding requests")

	// ErrInjected is the per-transaction failure produced by ErrorRate.
	ErrInjected = errors.New("simbus: injected transaction error")
)

// Config shapes the synthetic signal.
type Config struct {
	// FrameInterval is the time one transaction takes. Zero completes instantly.
	FrameInterval time.Duration

	// DropRate is the probability that any single byte reads as zero.
	DropRate float64

	// ErrorRate is the probability that a transaction fails.
	ErrorRate float64

	// HandshakeMisses is how many single-shot reads return noise before
	// the pattern appears.
	HandshakeMisses int

	// MaxQueue caps outstanding requests; Submit fails beyond it. Zero means
	// domain.InFlight.
	MaxQueue int

	// Seed makes the random faults reproducible.
	Seed int64
}

type request struct {
	id  ports.RequestID
	buf []byte
}

// Bus is a ports.Bus producing calibration frames.
type Bus struct {
	cfg Config

	mu        sync.Mutex
	rng       *rand.Rand
	queue     []request
	nextID    ports.RequestID
	transfers int
	frames    uint64
	closed    bool
	done      chan struct{}
}

var _ ports.Bus = (*Bus)(nil)

// New creates a synthetic bus.
func New(cfg Config) *Bus {
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = domain.InFlight
	}
	return &Bus{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		done: make(chan struct{}),
	}
}

// Submit queues a read into buf.
func (b *Bus) Submit(buf []byte) (ports.RequestID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if len(b.queue) >= b.cfg.MaxQueue {
		return 0, fmt.Errorf("simbus: queue full (%d outstanding)", len(b.queue))
	}
	b.nextID++
	b.queue = append(b.queue, request{id: b.nextID, buf: buf})
	return b.nextID, nil
}

// Await completes the oldest request after FrameInterval.
func (b *Bus) Await(ctx context.Context) (ports.Completion, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ports.Completion{}, ErrClosed
	}
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return ports.Completion{}, ErrNothingPending
	}
	req := b.queue[0]
	b.mu.Unlock()

	if err := b.wait(ctx); err != nil {
		return ports.Completion{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ports.Completion{}, ErrClosed
	}
	b.queue = b.queue[1:]
	b.frames++

	c := ports.Completion{ID: req.id, Buf: req.buf}
	if b.cfg.ErrorRate > 0 && b.rng.Float64() < b.cfg.ErrorRate {
		c.Err = ErrInjected
		return c, nil
	}
	b.fill(req.buf)
	return c, nil
}

// Transfer performs one blocking read. The first HandshakeMisses calls
// return noise instead of the pattern.
func (b *Bus) Transfer(ctx context.Context, buf []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if len(b.queue) > 0 {
		b.mu.Unlock()
		return errors.New("simbus: single-shot read with requests outstanding")
	}
	b.transfers++
	miss := b.transfers <= b.cfg.HandshakeMisses
	b.mu.Unlock()

	if err := b.wait(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if miss {
		b.rng.Read(buf)
		return nil
	}
	domain.FillCalibration(buf)
	return nil
}

// Frames returns how many asynchronous reads have completed.
func (b *Bus) Frames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// Close fails all later calls and wakes any waiter.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

func (b *Bus) wait(ctx context.Context) error {
	if b.cfg.FrameInterval <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.cfg.FrameInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fill writes the calibration pattern, zeroing bytes at DropRate.
// Caller holds b.mu.
func (b *Bus) fill(buf []byte) {
	domain.FillCalibration(buf)
	if b.cfg.DropRate <= 0 {
		return
	}
	for i := range buf {
		if b.rng.Float64() < b.cfg.DropRate {
			buf[i] = 0
		}
	}
}
