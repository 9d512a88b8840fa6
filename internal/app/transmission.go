package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/ports"
	"github.com/bft-labs/spiship/internal/telemetry"
	"github.com/bft-labs/spiship/pkg/log"
)

// TxState is the transmission task's position in its connection cycle.
type TxState int32

const (
	TxConnect TxState = iota
	TxAwaitHandshake
	TxStreaming
	TxDraining
	TxBackoff
)

// String returns a human-readable representation of the state.
func (s TxState) String() string {
	switch s {
	case TxConnect:
		return "connect"
	case TxAwaitHandshake:
		return "await_handshake"
	case TxStreaming:
		return "streaming"
	case TxDraining:
		return "draining"
	case TxBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// TransmissionConfig holds the peer address and the consumer's delays.
type TransmissionConfig struct {
	Addr             string
	ConnectRetry     time.Duration
	ReconnectBackoff time.Duration
}

// Transmission is the consumer task. It owns the peer connection and the
// connected flag, and writes every published batch to the socket in order.
type Transmission struct {
	cfg           TransmissionConfig
	dialer        ports.Dialer
	pool          *Pool
	connected     *Flag
	handshakeDone FlagWaiter
	sessions      *SessionControl
	events        EventEmitter
	logger        log.Logger
	sink          metrics.MetricSink

	state atomic.Int32
}

// NewTransmission wires the consumer task. A nil events is allowed.
func NewTransmission(
	cfg TransmissionConfig,
	dialer ports.Dialer,
	pool *Pool,
	connected *Flag,
	handshakeDone FlagWaiter,
	sessions *SessionControl,
	events EventEmitter,
	logger log.Logger,
	sink metrics.MetricSink,
) *Transmission {
	if events == nil {
		events = noopEmitter{}
	}
	return &Transmission{
		cfg:           cfg,
		dialer:        dialer,
		pool:          pool,
		connected:     connected,
		handshakeDone: handshakeDone,
		sessions:      sessions,
		events:        events,
		logger:        logger.With(log.String("task", "transmission")),
		sink:          telemetry.SinkOrDefault(sink),
	}
}

// State returns the current state. Safe to call from any goroutine.
func (t *Transmission) State() TxState {
	return TxState(t.state.Load())
}

func (t *Transmission) setState(s TxState) {
	if prev := TxState(t.state.Swap(int32(s))); prev != s {
		t.logger.Debug("state", log.String("from", prev.String()), log.String("to", s.String()))
	}
}

// Run executes the connection cycle until ctx is cancelled.
func (t *Transmission) Run(ctx context.Context) error {
	for {
		t.setState(TxConnect)
		conn, err := t.connect(ctx)
		if err != nil {
			return err
		}

		t.setState(TxAwaitHandshake)
		if err := t.handshakeDone.Wait(ctx); err != nil {
			_ = conn.Close()
			return err
		}

		sess := newSession(conn.RemoteAddr())
		sctx := t.sessions.open(ctx, sess)
		t.connected.Set()
		t.sink.IncrCounter(telemetry.MetricSessionCount, 1)
		t.logger.Info("session started",
			log.String("session", sess.ID),
			log.String("peer", sess.RemoteAddr),
		)

		t.setState(TxStreaming)
		cause := t.stream(sctx, conn, sess)

		t.setState(TxDraining)
		if err := t.drain(conn, sess, cause); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.setState(TxBackoff)
		if err := sleepCtx(ctx, t.cfg.ReconnectBackoff); err != nil {
			return err
		}
	}
}

// connect dials until it succeeds or ctx ends, waiting a flat interval
// between attempts.
func (t *Transmission) connect(ctx context.Context) (ports.Conn, error) {
	retry := newFlatRetry(t.cfg.ConnectRetry)
	for attempt := 1; ; attempt++ {
		conn, err := t.dialer.Dial(ctx, t.cfg.Addr)
		if err == nil {
			t.logger.Info("connected",
				log.String("peer", conn.RemoteAddr()),
				log.Int("attempts", attempt),
			)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		t.sink.IncrCounterWithLabels(telemetry.MetricConnectErrorCount, 1,
			[]metrics.Label{telemetry.LabelPeer.M(t.cfg.Addr)})
		// Only the first failure of a run is logged at warn.
		fields := []log.Field{
			log.String("addr", t.cfg.Addr),
			log.Int("attempt", attempt),
			log.Err(fmt.Errorf("%w: %w", domain.ErrPeerUnavailable, err)),
		}
		if attempt == 1 {
			t.logger.Warn("connect failed, retrying", fields...)
		} else {
			t.logger.Debug("connect failed, retrying", fields...)
		}

		if err := retry.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// stream sends filled batches until the session ends and returns why it ended.
func (t *Transmission) stream(ctx context.Context, conn ports.Conn, sess *Session) error {
	// A blocked write does not observe ctx; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		b, err := t.pool.AcquireFilled(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrOwnership) {
				return err
			}
			return context.Cause(ctx)
		}

		start := time.Now()
		n := b.Len()
		werr := writeFull(conn, b.Bytes())
		if err := t.pool.ReleaseToFree(b); err != nil {
			return err
		}

		if werr != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			t.sink.IncrCounter(telemetry.MetricSendErrorCount, 1)
			return fmt.Errorf("%w: %w", domain.ErrTransmission, werr)
		}

		sess.recordSend(n)
		t.sink.IncrCounter(telemetry.MetricBatchSentCount, 1)
		t.sink.IncrCounter(telemetry.MetricBatchSentBytes, float32(n))
		t.events.OnBatchSent(BatchSent{
			SessionID: sess.ID,
			BatchID:   b.ID,
			Bytes:     n,
			Duration:  time.Since(start),
		})
	}
}

// drain tears the session down: lowers the connected flag, discards queued
// batches and closes the socket.
func (t *Transmission) drain(conn ports.Conn, sess *Session, cause error) error {
	t.connected.Clear()

	drained, err := t.pool.DrainFilled()
	if err != nil {
		return err
	}
	if drained > 0 {
		t.sink.IncrCounter(telemetry.MetricBatchDrainedCount, float32(drained))
	}

	_ = conn.Close()
	t.sessions.close(cause)

	end := SessionEnd{
		SessionID:  sess.ID,
		RemoteAddr: sess.RemoteAddr,
		Batches:    sess.Batches(),
		Bytes:      sess.Bytes(),
		Drained:    drained,
		Duration:   time.Since(sess.StartedAt),
		Cause:      cause,
	}

	fields := []log.Field{
		log.String("session", end.SessionID),
		log.Uint64("batches", end.Batches),
		log.Uint64("bytes", end.Bytes),
		log.Int("drained", drained),
		log.Duration("duration", end.Duration),
	}
	if errors.Is(cause, context.Canceled) {
		t.logger.Info("session closed", fields...)
	} else {
		t.logger.Warn("session lost", append(fields, log.Err(cause))...)
	}

	t.events.OnSessionEnd(end)
	return nil
}

// writeFull writes all of p, looping over partial writes. Interrupted writes
// are retried; any other error ends the write.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
