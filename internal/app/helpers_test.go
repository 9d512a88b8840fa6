package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/ports"
	"github.com/bft-labs/spiship/pkg/log"
)

var testLogger log.Logger = log.NewNoopLogger()

func testSink() *metrics.InmemSink {
	return metrics.NewInmemSink(time.Second, time.Minute)
}

func flatName(key []string) string {
	return strings.Join(key, ".")
}

// gaugeValue returns the latest value of a gauge without labels.
func gaugeValue(sink *metrics.InmemSink, key []string) (float32, bool) {
	data := sink.Data()
	for i := len(data) - 1; i >= 0; i-- {
		if g, ok := data[i].Gauges[flatName(key)]; ok {
			return g.Value, true
		}
	}
	return 0, false
}

// counterSum adds up every sample of a counter across intervals. Labelled
// series are matched by key prefix.
func counterSum(sink *metrics.InmemSink, key []string) float64 {
	name := flatName(key)
	var sum float64
	for _, interval := range sink.Data() {
		for k, c := range interval.Counters {
			if k == name || strings.HasPrefix(k, name+";") {
				sum += c.Sum
			}
		}
	}
	return sum
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Addr:             "peer.test:9000",
		HandshakeRetry:   time.Millisecond,
		FillRetry:        time.Millisecond,
		PublishTimeout:   20 * time.Millisecond,
		ConnectRetry:     5 * time.Millisecond,
		ReconnectBackoff: 5 * time.Millisecond,
		StatsInterval:    10 * time.Millisecond,
		ValidateEvery:    100,
	}
}

// seqFrame writes the calibration pattern with the completion sequence
// number in the last four bytes.
func seqFrame(seq uint64, buf []byte) error {
	domain.FillCalibration(buf)
	binary.BigEndian.PutUint32(buf[domain.FrameSize-4:], uint32(seq))
	return nil
}

func frameSeq(frame []byte) uint32 {
	return binary.BigEndian.Uint32(frame[domain.FrameSize-4:])
}

type pendingRead struct {
	id  ports.RequestID
	buf []byte
}

// fakeBus completes submitted reads in order, filling them with fill.
type fakeBus struct {
	mu        sync.Mutex
	pending   []pendingRead
	nextID    ports.RequestID
	completed uint64
	limit     uint64
	submits   int
	transfers int

	fill      func(seq uint64, buf []byte) error
	submitErr func(n int) error
	transfer  func(attempt int, buf []byte) error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		fill: seqFrame,
		transfer: func(_ int, buf []byte) error {
			domain.FillCalibration(buf)
			return nil
		},
	}
}

func (b *fakeBus) Submit(buf []byte) (ports.RequestID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	if b.submitErr != nil {
		if err := b.submitErr(b.submits); err != nil {
			return 0, err
		}
	}
	b.nextID++
	b.pending = append(b.pending, pendingRead{id: b.nextID, buf: buf})
	return b.nextID, nil
}

func (b *fakeBus) Await(ctx context.Context) (ports.Completion, error) {
	if err := ctx.Err(); err != nil {
		return ports.Completion{}, err
	}
	b.mu.Lock()
	if len(b.pending) == 0 || (b.limit > 0 && b.completed >= b.limit) {
		b.mu.Unlock()
		<-ctx.Done()
		return ports.Completion{}, ctx.Err()
	}
	r := b.pending[0]
	b.pending = b.pending[1:]
	seq := b.completed
	b.completed++
	fill := b.fill
	b.mu.Unlock()

	return ports.Completion{ID: r.id, Buf: r.buf, Err: fill(seq, r.buf)}, nil
}

func (b *fakeBus) Transfer(ctx context.Context, buf []byte) error {
	b.mu.Lock()
	b.transfers++
	n := b.transfers
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.transfer(n, buf)
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) Completed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func (b *fakeBus) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// fakeConn records every Write call.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	chunk    int
	eintr    int
	failFrom int
	block    chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	remote    string
}

func newFakeConn(remote string) *fakeConn {
	return &fakeConn{remote: remote, failFrom: -1, closed: make(chan struct{})}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
		}
	}
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eintr > 0 {
		c.eintr--
		return 0, syscall.EINTR
	}
	if c.failFrom >= 0 && len(c.writes) >= c.failFrom {
		return 0, syscall.ECONNRESET
	}
	n := len(p)
	if c.chunk > 0 && n > c.chunk {
		n = c.chunk
	}
	c.writes = append(c.writes, append([]byte(nil), p[:n]...))
	return n, nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.remote }

func (c *fakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer fails the first failures dials, then hands out conns built by newConn.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
	newConn  func(n int) *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		newConn: func(n int) *fakeConn { return newFakeConn(fmt.Sprintf("10.0.0.%d:9000", n)) },
	}
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (ports.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	c := d.newConn(len(d.conns))
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// recordingEmitter keeps every pipeline event.
type recordingEmitter struct {
	mu   sync.Mutex
	sent []BatchSent
	ends []SessionEnd
}

func (e *recordingEmitter) OnBatchSent(ev BatchSent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, ev)
}

func (e *recordingEmitter) OnSessionEnd(ev SessionEnd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ends = append(e.ends, ev)
}

func (e *recordingEmitter) Sent() []BatchSent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]BatchSent(nil), e.sent...)
}

func (e *recordingEmitter) Ends() []SessionEnd {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SessionEnd(nil), e.ends...)
}

// fillBatch appends frames until b is full.
func fillBatch(b *domain.Batch, seqStart uint64) {
	frame := make([]byte, domain.FrameSize)
	for i := uint64(0); !b.Full(); i++ {
		_ = seqFrame(seqStart+i, frame)
		_ = b.Append(frame)
	}
}
