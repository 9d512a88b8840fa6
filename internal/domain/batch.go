package domain

import (
	"fmt"
	"sync/atomic"
)

// Owner identifies which pipeline stage currently holds a Batch.
type Owner int32

const (
	// OwnerFree means the batch sits in the pool's free slot.
	OwnerFree Owner = iota
	// OwnerFilling means the acquisition task is writing frames into it.
	OwnerFilling
	// OwnerFilled means the batch is queued in the pool's filled slot.
	OwnerFilled
	// OwnerDraining means the transmission task is writing it to the socket.
	OwnerDraining
)

// String returns a human-readable representation of the owner.
func (o Owner) String() string {
	switch o {
	case OwnerFree:
		return "free"
	case OwnerFilling:
		return "filling"
	case OwnerFilled:
		return "filled"
	case OwnerDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Batch is a contiguous buffer of exactly BatchSize bytes plus a fill length.
// Batches are allocated once and recycled for the life of the process.
type Batch struct {
	// ID distinguishes the pool's buffers in logs and tests.
	ID int

	buf   [BatchSize]byte
	n     int
	owner atomic.Int32
}

// NewBatch creates an empty batch owned by the free slot.
func NewBatch(id int) *Batch {
	return &Batch{ID: id}
}

// Append copies one frame into the batch at the current fill offset.
func (b *Batch) Append(frame []byte) error {
	if len(frame) != FrameSize {
		return fmt.Errorf("%w: got %d bytes", ErrFrameSize, len(frame))
	}
	if b.n >= BatchSize {
		return ErrBatchFull
	}
	copy(b.buf[b.n:b.n+FrameSize], frame)
	b.n += FrameSize
	return nil
}

// Full returns true once BatchFrames frames have been appended.
func (b *Batch) Full() bool {
	return b.n == BatchSize
}

// Empty returns true if no frames have been appended.
func (b *Batch) Empty() bool {
	return b.n == 0
}

// Len returns the fill length in bytes.
func (b *Batch) Len() int {
	return b.n
}

// Frames returns the number of frames appended so far.
func (b *Batch) Frames() int {
	return b.n / FrameSize
}

// Bytes returns the filled portion of the buffer.
// The slice aliases the batch and is only valid while the caller owns it.
func (b *Batch) Bytes() []byte {
	return b.buf[:b.n]
}

// Reset clears the fill length for reuse.
func (b *Batch) Reset() {
	b.n = 0
}

// Owner returns the stage currently holding the batch.
func (b *Batch) Owner() Owner {
	return Owner(b.owner.Load())
}

// Transfer moves ownership from one stage to another.
// It fails with ErrOwnership if the batch is not held by from.
func (b *Batch) Transfer(from, to Owner) error {
	if !b.owner.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: batch %d is %s, expected %s", ErrOwnership, b.ID, b.Owner(), from)
	}
	return nil
}
