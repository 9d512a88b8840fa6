// Package serialbus drives a USB/UART-to-SPI bridge through go.bug.st/serial.
//
// The bridge clocks one F-byte SPI transaction for every command byte it
// receives and returns the frame on the serial line. Requests are pipelined:
// Submit writes the command immediately and a reader goroutine collects the
// responses in order.
package serialbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/ports"
)

// DefaultCommand is the byte that asks the bridge for one frame.
const DefaultCommand byte = 'R'

var (
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("serialbus: closed")

	// ErrReadTimeout is the per-transaction error when a frame does not
	// arrive within the read timeout.
	ErrReadTimeout = errors.New("serialbus: frame read timeout")
)

// Port is the subset of serial.Port the bus uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Config describes the bridge's serial line.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
	Command     byte
}

type request struct {
	id  ports.RequestID
	buf []byte
}

// Bus is a ports.Bus over a serial bridge.
type Bus struct {
	port Port
	cfg  Config

	mu          sync.Mutex
	nextID      ports.RequestID
	outstanding int
	err         error

	queue       chan request
	completions chan ports.Completion
	dead        chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
	readerOnce  sync.Once
	wg          sync.WaitGroup
}

var _ ports.Bus = (*Bus)(nil)

// Open opens the serial device at 8N1 and wraps it.
func Open(cfg Config) (*Bus, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serialbus: open %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serialbus: set read timeout: %w", err)
	}
	return New(port, cfg), nil
}

// New wraps an already configured port.
func New(port Port, cfg Config) *Bus {
	if cfg.Command == 0 {
		cfg.Command = DefaultCommand
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	return &Bus{
		port:        port,
		cfg:         cfg,
		queue:       make(chan request, domain.InFlight),
		completions: make(chan ports.Completion, domain.InFlight),
		dead:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// Submit asks the bridge for one frame into buf.
func (b *Bus) Submit(buf []byte) (ports.RequestID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failure(); err != nil {
		return 0, err
	}
	if b.outstanding >= cap(b.queue) {
		return 0, fmt.Errorf("serialbus: %d requests already outstanding", b.outstanding)
	}
	if _, err := b.port.Write([]byte{b.cfg.Command}); err != nil {
		return 0, fmt.Errorf("serialbus: write command: %w", err)
	}

	b.nextID++
	b.outstanding++
	b.queue <- request{id: b.nextID, buf: buf}
	b.readerOnce.Do(func() {
		b.wg.Add(1)
		go b.readLoop()
	})
	return b.nextID, nil
}

// Await returns the oldest completed request.
func (b *Bus) Await(ctx context.Context) (ports.Completion, error) {
	select {
	case c := <-b.completions:
		b.mu.Lock()
		b.outstanding--
		b.mu.Unlock()
		return c, nil
	case <-b.dead:
		b.mu.Lock()
		defer b.mu.Unlock()
		return ports.Completion{}, b.err
	case <-b.closed:
		return ports.Completion{}, ErrClosed
	case <-ctx.Done():
		return ports.Completion{}, ctx.Err()
	}
}

// Transfer discards stale input, requests one frame and reads it.
func (b *Bus) Transfer(ctx context.Context, buf []byte) error {
	b.mu.Lock()
	if err := b.failure(); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.outstanding > 0 {
		b.mu.Unlock()
		return errors.New("serialbus: single-shot read with requests outstanding")
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serialbus: reset input: %w", err)
	}
	if _, err := b.port.Write([]byte{b.cfg.Command}); err != nil {
		return fmt.Errorf("serialbus: write command: %w", err)
	}
	return b.readExact(buf)
}

// Close stops the reader and closes the port.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.port.Close()
		b.wg.Wait()
	})
	return err
}

// failure returns the sticky error, if any. Caller holds b.mu.
func (b *Bus) failure() error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	return b.err
}

func (b *Bus) readLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.closed:
			return
		case req := <-b.queue:
			err := b.readExact(req.buf)
			if isFatal(err) {
				b.mu.Lock()
				b.err = fmt.Errorf("serialbus: port lost: %w", err)
				b.mu.Unlock()
				close(b.dead)
				return
			}
			b.completions <- ports.Completion{ID: req.id, Buf: req.buf, Err: err}
		}
	}
}

// readExact fills buf or gives up after the read timeout.
func (b *Bus) readExact(buf []byte) error {
	deadline := time.Now().Add(b.cfg.ReadTimeout)
	got := 0
	for got < len(buf) {
		n, err := b.port.Read(buf[got:])
		got += n
		if err != nil && n == 0 {
			return err
		}
		// The port returns 0, nil when its own read timeout fires.
		if n == 0 && !time.Now().Before(deadline) {
			return fmt.Errorf("%w: got %d/%d bytes", ErrReadTimeout, got, len(buf))
		}
	}
	return nil
}

// isFatal reports whether err means the device is gone rather than one
// transaction going wrong.
func isFatal(err error) bool {
	if err == nil {
		return false
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
