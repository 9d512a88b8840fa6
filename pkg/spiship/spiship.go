package spiship

import (
	"context"
	"errors"
	"sync"

	"github.com/bft-labs/spiship/internal/adapters/serialbus"
	"github.com/bft-labs/spiship/internal/adapters/simbus"
	"github.com/bft-labs/spiship/internal/adapters/tcp"
	"github.com/bft-labs/spiship/internal/app"
	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/ports"
	"github.com/bft-labs/spiship/pkg/log"
)

// Spiship streams bus frames to a TCP peer and can be embedded in other
// applications. Use New to create an instance, then Start to begin streaming.
type Spiship struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	emitter   *eventEmitterWrapper
	dialer    ports.Dialer
	logger    log.Logger

	mu       sync.RWMutex
	pipeline *app.Pipeline
	cancel   context.CancelFunc
}

// New creates an instance in StateStopped. It returns an error if the
// configuration is invalid.
func New(cfg Config, opts ...Option) (*Spiship, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = log.OrNoop(o.logger)

	emitter := &eventEmitterWrapper{handler: o.eventHandler}

	dialer := o.dialer
	if dialer == nil {
		dialer = tcp.NewDialer(tcp.Config{
			DialTimeout:  cfg.DialTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	return &Spiship{
		config:    cfg,
		opts:      o,
		lifecycle: app.NewLifecycle(o.logger, emitter),
		emitter:   emitter,
		dialer:    dialer,
		logger:    o.logger,
	}, nil
}

// Start begins streaming in the background and returns once the pipeline
// goroutine is launched. ctx bounds the whole run.
func (s *Spiship) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := s.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	bus, owned, err := s.openBus()
	if err != nil {
		_ = s.lifecycle.TransitionTo(app.StateCrashed, "bus open failed: "+err.Error())
		return err
	}

	pipeline, err := app.NewPipeline(s.config.pipelineConfig(), bus, s.dialer, s.logger, s.opts.sink, s.emitter)
	if err != nil {
		if owned {
			_ = bus.Close()
		}
		_ = s.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.pipeline = pipeline
	s.cancel = cancel
	s.lifecycle.SetCancel(cancel)

	s.lifecycle.AddWorker()
	go func() {
		defer s.lifecycle.WorkerDone()
		if owned {
			defer bus.Close()
		}

		if err := s.lifecycle.TransitionTo(app.StateRunning, "pipeline starting"); err != nil {
			s.logger.Debug("stopped before running", log.Err(err))
			return
		}

		err := pipeline.Run(runCtx)

		switch {
		case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
			s.logger.Error("pipeline error", log.Err(err))
			_ = s.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		case ctx.Err() != nil:
			// The caller's context ended without Stop.
			if s.lifecycle.TransitionTo(app.StateStopping, "context done") == nil {
				_ = s.lifecycle.TransitionTo(app.StateStopped, "context done")
			}
		}
	}()

	return nil
}

// Stop cancels the pipeline and waits for it to exit. It returns
// ErrShutdownTimeout if the pipeline did not exit in time.
func (s *Spiship) Stop() error {
	s.mu.Lock()
	if !s.lifecycle.CanStop() {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	err := s.lifecycle.WaitWithTimeout(app.DefaultShutdownTimeout)
	if err != nil {
		_ = s.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = s.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (s *Spiship) Status() State {
	return convertState(s.lifecycle.State())
}

// Snapshot is a best-effort view of the running pipeline.
type Snapshot struct {
	State        State
	Reason       string
	Acquisition  string
	Transmission string
	Connected    bool
	Handshake    bool

	FreeBatches     int
	FillingBatches  int
	FilledBatches   int
	DrainingBatches int

	Matched          uint64
	Mismatched       uint64
	ValidatedSamples uint64
	Accuracy         float64

	SessionID      string
	SessionPeer    string
	SessionBatches uint64
	SessionBytes   uint64
}

// Snapshot reads the pipeline state. Before the first Start only State and
// Reason are set.
func (s *Spiship) Snapshot() Snapshot {
	reason, _ := s.lifecycle.Reason()
	out := Snapshot{State: s.Status(), Reason: reason}

	s.mu.RLock()
	p := s.pipeline
	s.mu.RUnlock()
	if p == nil {
		return out
	}

	ps := p.Snapshot()
	out.Acquisition = ps.Acquisition.String()
	out.Transmission = ps.Transfer.String()
	out.Connected = ps.Connected
	out.Handshake = ps.Handshake
	out.FreeBatches = ps.Pool.Free
	out.FillingBatches = ps.Pool.Filling
	out.FilledBatches = ps.Pool.Filled
	out.DrainingBatches = ps.Pool.Draining
	out.Matched = ps.Validation.Matched
	out.Mismatched = ps.Validation.Mismatched
	out.ValidatedSamples = ps.Validation.ValidatedSamples
	out.Accuracy = ps.Validation.Accuracy
	if ps.Session != nil {
		out.SessionID = ps.Session.ID
		out.SessionPeer = ps.Session.RemoteAddr
		out.SessionBatches = ps.Session.Batches()
		out.SessionBytes = ps.Session.Bytes()
	}
	return out
}

// openBus returns the injected bus, or opens one from the configuration.
// owned reports whether the run must close it.
func (s *Spiship) openBus() (bus ports.Bus, owned bool, err error) {
	if s.opts.bus != nil {
		return s.opts.bus, false, nil
	}
	switch s.config.Bus {
	case BusSerial:
		b, err := serialbus.Open(serialbus.Config{
			Device:      s.config.SerialDevice,
			BaudRate:    s.config.SerialBaud,
			ReadTimeout: s.config.SerialReadTimeout,
		})
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	default:
		return simbus.New(simbus.Config{
			FrameInterval: s.config.SimFrameInterval,
			DropRate:      s.config.SimDropRate,
		}), true, nil
	}
}

func (c Config) pipelineConfig() app.PipelineConfig {
	return app.PipelineConfig{
		Addr:             c.Addr,
		HandshakeRetry:   c.HandshakeRetry,
		FillRetry:        c.FillRetry,
		PublishTimeout:   c.PublishTimeout,
		ConnectRetry:     c.ConnectRetry,
		ReconnectBackoff: c.ReconnectBackoff,
		StatsInterval:    c.StatsInterval,
		ValidateEvery:    c.ValidateEvery,
	}
}
