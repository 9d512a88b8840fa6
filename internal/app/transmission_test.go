package app

import (
	"bytes"
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/telemetry"
)

func TestWriteFull(t *testing.T) {
	payload := bytes.Repeat([]byte{1, 2, 3, 4}, 1000)

	tests := []struct {
		name      string
		chunk     int
		eintr     int
		failFrom  int
		wantErr   error
		wantCalls int
	}{
		{name: "single write", failFrom: -1, wantCalls: 1},
		{name: "partial writes", chunk: 1500, failFrom: -1, wantCalls: 3},
		{name: "interrupted then ok", eintr: 2, failFrom: -1, wantCalls: 1},
		{name: "reset mid stream", chunk: 1000, failFrom: 2, wantErr: syscall.ECONNRESET, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeConn("peer")
			c.chunk, c.eintr, c.failFrom = tt.chunk, tt.eintr, tt.failFrom

			err := writeFull(c, payload)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.Equal(t, payload, bytes.Join(c.Writes(), nil))
			}
			require.Len(t, c.Writes(), tt.wantCalls)
		})
	}
}

type transmissionHarness struct {
	pool     *Pool
	signals  Signals
	sessions *SessionControl
	dialer   *fakeDialer
	events   *recordingEmitter
	tx       *Transmission
}

func newTransmissionHarness(t *testing.T) *transmissionHarness {
	t.Helper()
	h := &transmissionHarness{
		pool:     NewPool(),
		signals:  NewSignals(),
		sessions: NewSessionControl(),
		dialer:   newFakeDialer(),
		events:   &recordingEmitter{},
	}
	cfg := testPipelineConfig()
	h.tx = NewTransmission(
		TransmissionConfig{Addr: cfg.Addr, ConnectRetry: cfg.ConnectRetry, ReconnectBackoff: cfg.ReconnectBackoff},
		h.dialer, h.pool, h.signals.Connected, h.signals.HandshakeDone, h.sessions, h.events, testLogger, testSink(),
	)
	return h
}

func (h *transmissionHarness) run(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.tx.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func (h *transmissionHarness) publish(t *testing.T, seq uint64) *domain.Batch {
	t.Helper()
	b, err := h.pool.AcquireFree(context.Background())
	require.NoError(t, err)
	fillBatch(b, seq)
	require.NoError(t, h.pool.PublishFilled(context.Background(), b, time.Second))
	return b
}

func TestTransmission_ConnectRetriesThenWaitsForHandshake(t *testing.T) {
	h := newTransmissionHarness(t)
	h.dialer.failures = 3
	cancel, errCh := h.run(t)

	require.Eventually(t, func() bool { return h.tx.State() == TxAwaitHandshake }, time.Second, time.Millisecond)
	require.Equal(t, 4, h.dialer.Dials())
	require.False(t, h.signals.Connected.IsSet())

	h.signals.HandshakeDone.Set()
	require.NoError(t, h.signals.Connected.Wait(context.Background()))
	require.Eventually(t, func() bool { return h.tx.State() == TxStreaming }, time.Second, time.Millisecond)
	require.NotNil(t, h.sessions.Current())

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.False(t, h.signals.Connected.IsSet())
	require.True(t, h.dialer.Conn(0).IsClosed())
}

func TestTransmission_SendsInOrder(t *testing.T) {
	h := newTransmissionHarness(t)
	h.signals.HandshakeDone.Set()
	cancel, errCh := h.run(t)

	h.publish(t, 0)
	h.publish(t, domain.BatchFrames)

	require.Eventually(t, func() bool { return len(h.events.Sent()) == 2 }, time.Second, time.Millisecond)
	conn := h.dialer.Conn(0)
	writes := conn.Writes()
	require.Len(t, writes, 2)
	for i, w := range writes {
		require.Len(t, w, domain.BatchSize)
		require.Equal(t, uint32(i*domain.BatchFrames), frameSeq(w[:domain.FrameSize]))
	}
	require.Equal(t, Census{Free: domain.PoolSize}, h.pool.Census())

	sess := h.sessions.Current()
	require.NotNil(t, sess)
	require.EqualValues(t, 2, sess.Batches())
	require.EqualValues(t, 2*domain.BatchSize, sess.Bytes())

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestTransmission_DrainOnDisconnect(t *testing.T) {
	h := newTransmissionHarness(t)
	h.signals.HandshakeDone.Set()
	h.dialer.newConn = func(n int) *fakeConn {
		c := newFakeConn("peer")
		if n == 0 {
			c.failFrom = 0
		}
		return c
	}

	// Both batches are queued before the session starts; the first write fails.
	h.publish(t, 0)
	h.publish(t, domain.BatchFrames)
	cancel, errCh := h.run(t)

	require.Eventually(t, func() bool { return len(h.events.Ends()) == 1 }, time.Second, time.Millisecond)
	end := h.events.Ends()[0]
	require.ErrorIs(t, end.Cause, domain.ErrTransmission)
	require.Equal(t, 1, end.Drained)
	require.Zero(t, end.Batches)

	require.Eventually(t, func() bool { return h.dialer.Dials() == 2 && h.signals.Connected.IsSet() }, time.Second, time.Millisecond)
	require.Equal(t, Census{Free: domain.PoolSize}, h.pool.Census())
	require.True(t, h.dialer.Conn(0).IsClosed())

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestTransmission_AbortRestartsFromConnect(t *testing.T) {
	h := newTransmissionHarness(t)
	h.signals.HandshakeDone.Set()
	cancel, errCh := h.run(t)

	require.Eventually(t, func() bool { return h.sessions.Current() != nil }, time.Second, time.Millisecond)
	first := h.sessions.Current()

	cause := errors.Join(domain.ErrDeviceFatal, errors.New("dma refused"))
	require.True(t, h.sessions.Abort(cause))

	require.Eventually(t, func() bool {
		cur := h.sessions.Current()
		return cur != nil && cur.ID != first.ID
	}, time.Second, time.Millisecond)
	require.Equal(t, 2, h.dialer.Dials())

	ends := h.events.Ends()
	require.Len(t, ends, 1)
	require.Equal(t, first.ID, ends[0].SessionID)
	require.ErrorIs(t, ends[0].Cause, domain.ErrDeviceFatal)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestTransmission_StalledWriteUnblocksOnCancel(t *testing.T) {
	h := newTransmissionHarness(t)
	h.signals.HandshakeDone.Set()
	h.dialer.newConn = func(int) *fakeConn {
		c := newFakeConn("peer")
		c.block = make(chan struct{})
		return c
	}
	cancel, errCh := h.run(t)

	h.publish(t, 0)
	require.Eventually(t, func() bool {
		return h.pool.Census() == Census{Free: 1, Draining: 1}
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("transmission did not exit with a stalled write")
	}
	require.Equal(t, Census{Free: domain.PoolSize}, h.pool.Census())
}

func TestTransmission_Metrics(t *testing.T) {
	h := newTransmissionHarness(t)
	sink := testSink()
	h.tx.sink = sink
	h.dialer.failures = 2
	h.signals.HandshakeDone.Set()
	cancel, errCh := h.run(t)

	h.publish(t, 0)
	require.Eventually(t, func() bool { return len(h.events.Sent()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-errCh

	require.EqualValues(t, 2, counterSum(sink, telemetry.MetricConnectErrorCount))
	require.EqualValues(t, 1, counterSum(sink, telemetry.MetricSessionCount))
	require.EqualValues(t, 1, counterSum(sink, telemetry.MetricBatchSentCount))
	require.EqualValues(t, domain.BatchSize, counterSum(sink, telemetry.MetricBatchSentBytes))
}
