package spiship

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/spiship/internal/adapters/simbus"
	"github.com/bft-labs/spiship/internal/domain"
)

type recordingHandler struct {
	mu       sync.Mutex
	states   []StateChangeEvent
	sent     []BatchSentEvent
	sessions []SessionEndEvent
}

func (h *recordingHandler) OnStateChange(ev StateChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, ev)
}

func (h *recordingHandler) OnBatchSent(ev BatchSentEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, ev)
}

func (h *recordingHandler) OnSessionEnd(ev SessionEndEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, ev)
}

func (h *recordingHandler) counts() (states, sent, sessions int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states), len(h.sent), len(h.sessions)
}

// peer accepts connections and checks that everything it receives is a
// sequence of calibration frames.
type peer struct {
	ln       net.Listener
	mu       sync.Mutex
	received int
	bad      int
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &peer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go p.serve()
	return p
}

func (p *peer) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			frame := make([]byte, domain.FrameSize)
			for {
				if _, err := io.ReadFull(c, frame); err != nil {
					return
				}
				p.mu.Lock()
				p.received += len(frame)
				if !domain.IsCalibrationFrame(frame) {
					p.bad++
				}
				p.mu.Unlock()
			}
		}(conn)
	}
}

func (p *peer) stats() (received, bad int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received, p.bad
}

func testConfig(addr string) Config {
	return Config{
		Addr:             addr,
		Bus:              BusSim,
		HandshakeRetry:   time.Millisecond,
		FillRetry:        time.Millisecond,
		PublishTimeout:   20 * time.Millisecond,
		ConnectRetry:     5 * time.Millisecond,
		ReconnectBackoff: 5 * time.Millisecond,
		StatsInterval:    50 * time.Millisecond,
		ValidateEvery:    1,
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing address", Config{}},
		{"unknown bus", Config{Addr: "127.0.0.1:1", Bus: "i2c"}},
		{"serial without device", Config{Addr: "127.0.0.1:1", Bus: BusSerial}},
		{"drop rate above one", Config{Addr: "127.0.0.1:1", SimDropRate: 1.5}},
		{"negative write timeout", Config{Addr: "127.0.0.1:1", WriteTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, BusSim, cfg.Bus)
	require.Equal(t, 100*time.Millisecond, cfg.PublishTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.ConnectRetry)
	require.Equal(t, 200*time.Millisecond, cfg.ReconnectBackoff)
	require.Equal(t, 100, cfg.ValidateEvery)
}

func TestSpiship_StreamsToPeer(t *testing.T) {
	p := newPeer(t)
	handler := &recordingHandler{}
	sink := metrics.NewInmemSink(time.Minute, time.Minute)

	s, err := New(testConfig(p.ln.Addr().String()),
		WithEventHandler(handler),
		WithMetricSink(sink),
	)
	require.NoError(t, err)
	require.Equal(t, StateStopped, s.Status())

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), domain.ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		received, _ := p.stats()
		return received >= 4*domain.BatchSize
	}, 5*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Equal(t, StateRunning, snap.State)
	require.True(t, snap.Handshake)
	require.Equal(t, domain.PoolSize,
		snap.FreeBatches+snap.FillingBatches+snap.FilledBatches+snap.DrainingBatches)

	require.NoError(t, s.Stop())
	require.Equal(t, StateStopped, s.Status())
	require.ErrorIs(t, s.Stop(), domain.ErrNotRunning)

	received, bad := p.stats()
	require.Zero(t, bad)
	require.Zero(t, received%domain.FrameSize)

	_, sent, sessions := handler.counts()
	require.GreaterOrEqual(t, sent, 4)
	require.Equal(t, 1, sessions)

	handler.mu.Lock()
	var currents []State
	for _, ev := range handler.states {
		currents = append(currents, ev.Current)
	}
	handler.mu.Unlock()
	require.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, currents)
}

func TestSpiship_RestartAfterStop(t *testing.T) {
	p := newPeer(t)
	s, err := New(testConfig(p.ln.Addr().String()))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		before, _ := p.stats()
		require.NoError(t, s.Start(context.Background()))
		require.Eventually(t, func() bool {
			received, _ := p.stats()
			return received >= before+domain.BatchSize
		}, 5*time.Second, 5*time.Millisecond)
		require.NoError(t, s.Stop())
	}
	_, bad := p.stats()
	require.Zero(t, bad)
}

// Stop may land before the run goroutine reaches Running. It must still end
// in Stopped and allow another Start.
func TestSpiship_StopRightAfterStart(t *testing.T) {
	p := newPeer(t)
	s, err := New(testConfig(p.ln.Addr().String()))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Start(context.Background()))
		require.NoError(t, s.Stop())
		require.Equal(t, StateStopped, s.Status())
	}
}

func TestSpiship_InjectedBus(t *testing.T) {
	p := newPeer(t)
	bus := simbus.New(simbus.Config{})
	defer bus.Close()

	s, err := New(testConfig(p.ln.Addr().String()), WithBus(bus))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		received, _ := p.stats()
		return received >= domain.BatchSize
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	// The run does not close a bus it did not open.
	_, err = bus.Submit(make([]byte, domain.FrameSize))
	require.NotErrorIs(t, err, simbus.ErrClosed)
}

func TestSpiship_ParentContextCancel(t *testing.T) {
	p := newPeer(t)
	s, err := New(testConfig(p.ln.Addr().String()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return s.Status() == StateRunning }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return s.Status() == StateStopped }, 2*time.Second, 5*time.Millisecond)
	require.True(t, errors.Is(s.Stop(), domain.ErrNotRunning))
}

func TestSpiship_SnapshotBeforeStart(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	snap := s.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.Empty(t, snap.Acquisition)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "Running", StateRunning.String())
	require.Equal(t, "Crashed", StateCrashed.String())
}
