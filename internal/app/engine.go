package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/ports"
	"github.com/bft-labs/spiship/pkg/log"
)

// Engine keeps domain.InFlight bus reads outstanding, each bound to its own
// reusable frame slot, and hands completed frames out in submission order.
//
// An Engine is owned by the acquisition task and is not safe for concurrent use.
type Engine struct {
	bus    ports.Bus
	logger log.Logger

	slots   [domain.InFlight][]byte
	idle    [domain.InFlight]bool
	byID    map[ports.RequestID]int
	pending int
	held    int
	primed  bool
}

// NewEngine allocates the frame slots. No reads are submitted until Prime.
func NewEngine(bus ports.Bus, logger log.Logger) *Engine {
	e := &Engine{
		bus:    bus,
		logger: logger,
		byID:   make(map[ports.RequestID]int, domain.InFlight),
		held:   -1,
	}
	for i := range e.slots {
		e.slots[i] = make([]byte, domain.FrameSize)
		e.idle[i] = true
	}
	return e
}

// Prime submits one read per slot. It must be called exactly once, after the
// handshake and before the first NextFrame.
func (e *Engine) Prime() error {
	if e.primed {
		return domain.ErrAlreadyPrimed
	}
	e.primed = true
	return e.Rearm()
}

// Rearm resubmits every idle slot, restoring the in-flight depth after a
// failed transaction.
func (e *Engine) Rearm() error {
	for slot := range e.slots {
		if !e.idle[slot] || slot == e.held {
			continue
		}
		if err := e.submit(slot); err != nil {
			return err
		}
	}
	return nil
}

// NextFrame resubmits the slot handed out by the previous call, then blocks
// until the oldest outstanding read completes and returns a view of its slot.
// The view is valid until the next call to NextFrame.
//
// A failed transaction returns domain.ErrDeviceTransient and leaves its slot
// idle until Rearm. A refused submission returns domain.ErrDeviceFatal.
func (e *Engine) NextFrame(ctx context.Context) ([]byte, error) {
	if e.held >= 0 {
		slot := e.held
		e.held = -1
		if err := e.submit(slot); err != nil {
			return nil, err
		}
	}
	if e.pending == 0 {
		return nil, fmt.Errorf("%w: no reads in flight", domain.ErrDeviceTransient)
	}

	c, err := e.bus.Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: await: %w", domain.ErrDeviceFatal, err)
	}

	slot, ok := e.byID[c.ID]
	if !ok {
		return nil, fmt.Errorf("%w: completion for unknown request %d", domain.ErrDeviceFatal, c.ID)
	}
	delete(e.byID, c.ID)
	e.pending--

	if c.Err != nil {
		e.idle[slot] = true
		return nil, fmt.Errorf("%w: %w", domain.ErrDeviceTransient, c.Err)
	}

	e.held = slot
	return e.slots[slot], nil
}

// ReadSync performs a blocking single-shot read into buf.
func (e *Engine) ReadSync(ctx context.Context, buf []byte) error {
	if e.pending > 0 {
		return errors.New("engine: single-shot read while async reads are outstanding")
	}
	return e.bus.Transfer(ctx, buf)
}

// InFlight returns the number of outstanding reads.
func (e *Engine) InFlight() int {
	return e.pending
}

// Primed reports whether Prime has been called.
func (e *Engine) Primed() bool {
	return e.primed
}

func (e *Engine) submit(slot int) error {
	id, err := e.bus.Submit(e.slots[slot])
	if err != nil {
		e.idle[slot] = true
		e.logger.Error("bus submit failed", log.Int("slot", slot), log.Err(err))
		return fmt.Errorf("%w: slot %d: %w", domain.ErrDeviceFatal, slot, err)
	}
	e.idle[slot] = false
	e.byID[id] = slot
	e.pending++
	return nil
}
