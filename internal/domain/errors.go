package domain

import "errors"

// Domain errors represent error conditions in the spiship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrDeviceTransient is returned when a single bus transaction failed.
	// The session stays up; the caller retries after a short delay.
	ErrDeviceTransient = errors.New("spiship: bus transaction failed")

	// ErrDeviceFatal is returned when the bus refused a request submission.
	// The current connection session is aborted and restarted from Connect.
	ErrDeviceFatal = errors.New("spiship: bus submission failed")

	// ErrPeerUnavailable is returned when the remote host cannot be reached.
	ErrPeerUnavailable = errors.New("spiship: peer unavailable")

	// ErrTransmission is returned when a send fails mid-stream.
	ErrTransmission = errors.New("spiship: transmission failed")

	// ErrPublishTimeout is returned when the filled slot stayed full past the
	// publish timeout. The batch is back in the free slot with its contents.
	ErrPublishTimeout = errors.New("spiship: publish timeout")

	// ErrOwnership is returned when a batch is handed over by a stage that
	// does not hold it.
	ErrOwnership = errors.New("spiship: batch ownership violation")

	// ErrBatchFull is returned when appending to a full batch.
	ErrBatchFull = errors.New("spiship: batch full")

	// ErrFrameSize is returned when a frame is not exactly FrameSize bytes.
	ErrFrameSize = errors.New("spiship: invalid frame size")

	// ErrAlreadyPrimed is returned when the transfer engine is primed twice.
	ErrAlreadyPrimed = errors.New("spiship: engine already primed")

	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("spiship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("spiship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("spiship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("spiship: invalid configuration")
)
