package ports

import "context"

// RequestID identifies one submitted bus read.
type RequestID uint64

// Completion is the outcome of one asynchronous read.
type Completion struct {
	// ID is the request that completed.
	ID RequestID

	// Buf is the buffer that was passed to Submit, now holding the frame.
	Buf []byte

	// Err is non-nil when the transaction itself failed.
	Err error
}

// Bus is the peripheral bus driver as seen by the transfer engine.
// Electrical configuration (clock, mode, pins) happens before the Bus is
// handed to the pipeline.
type Bus interface {
	// Submit queues an asynchronous read that fills buf completely.
	// The bus owns buf until the matching Completion is returned by Await.
	// An error means the request was not queued.
	Submit(buf []byte) (RequestID, error)

	// Await blocks until the oldest outstanding request completes.
	// Completions are delivered in submission order. The returned error is
	// only non-nil when waiting itself failed (ctx cancelled, bus closed);
	// per-transaction failures are reported in Completion.Err.
	Await(ctx context.Context) (Completion, error)

	// Transfer performs a blocking single-shot read into buf.
	// It must not be used while asynchronous requests are outstanding.
	Transfer(ctx context.Context, buf []byte) error

	// Close releases the device.
	Close() error
}
