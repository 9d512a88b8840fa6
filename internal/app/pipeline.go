package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/ports"
	"github.com/bft-labs/spiship/pkg/log"
)

// PipelineConfig holds everything the two tasks and the reporter need.
type PipelineConfig struct {
	Addr             string
	HandshakeRetry   time.Duration
	FillRetry        time.Duration
	PublishTimeout   time.Duration
	ConnectRetry     time.Duration
	ReconnectBackoff time.Duration
	StatsInterval    time.Duration
	ValidateEvery    int
}

// Validate checks that every delay is usable.
func (c PipelineConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: address is required", domain.ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"handshake_retry":   c.HandshakeRetry,
		"fill_retry":        c.FillRetry,
		"publish_timeout":   c.PublishTimeout,
		"connect_retry":     c.ConnectRetry,
		"reconnect_backoff": c.ReconnectBackoff,
		"stats_interval":    c.StatsInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", domain.ErrInvalidConfig, name)
		}
	}
	if c.ValidateEvery < 1 {
		return fmt.Errorf("%w: validate_every must be at least 1", domain.ErrInvalidConfig)
	}
	return nil
}

// Snapshot is a best-effort view of the running pipeline.
type Snapshot struct {
	Acquisition AcqState
	Transfer    TxState
	Connected   bool
	Handshake   bool
	Pool        Census
	Validation  ValidationSnapshot
	Session     *Session
}

// Pipeline owns the shared state between the acquisition and transmission
// tasks and runs them together with the reporter.
type Pipeline struct {
	cfg          PipelineConfig
	pool         *Pool
	signals      Signals
	counters     *Counters
	sessions     *SessionControl
	engine       *Engine
	acquisition  *Acquisition
	transmission *Transmission
	reporter     *Reporter
	logger       log.Logger
}

// NewPipeline builds the pool, engine, flags, counters and tasks. The bus and
// dialer stay owned by the caller.
func NewPipeline(
	cfg PipelineConfig,
	bus ports.Bus,
	dialer ports.Dialer,
	logger log.Logger,
	sink metrics.MetricSink,
	events EventEmitter,
) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := NewPool()
	signals := NewSignals()
	counters := NewCounters(cfg.ValidateEvery)
	sessions := NewSessionControl()
	engine := NewEngine(bus, logger)

	handshake := NewHandshake(engine, cfg.HandshakeRetry, signals.HandshakeDone, logger, sink)
	acquisition := NewAcquisition(
		AcquisitionConfig{FillRetry: cfg.FillRetry, PublishTimeout: cfg.PublishTimeout},
		engine, handshake, pool,
		NewValidator(cfg.ValidateEvery, counters),
		signals.Connected, sessions, logger, sink,
	)
	transmission := NewTransmission(
		TransmissionConfig{
			Addr:             cfg.Addr,
			ConnectRetry:     cfg.ConnectRetry,
			ReconnectBackoff: cfg.ReconnectBackoff,
		},
		dialer, pool, signals.Connected, signals.HandshakeDone, sessions, events, logger, sink,
	)

	return &Pipeline{
		cfg:          cfg,
		pool:         pool,
		signals:      signals,
		counters:     counters,
		sessions:     sessions,
		engine:       engine,
		acquisition:  acquisition,
		transmission: transmission,
		reporter:     NewReporter(cfg.StatsInterval, counters, logger, sink),
		logger:       logger,
	}, nil
}

// Run starts both tasks and the reporter and blocks until ctx is cancelled
// or a task fails on a broken invariant.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline starting",
		log.String("addr", p.cfg.Addr),
		log.Int("frame_size", domain.FrameSize),
		log.Int("batch_frames", domain.BatchFrames),
		log.Int("in_flight", domain.InFlight),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.acquisition.Run(gctx) })
	g.Go(func() error { return p.transmission.Run(gctx) })
	g.Go(func() error { return p.reporter.Run(gctx) })

	err := g.Wait()

	// Both tasks have exited; anything still queued will never be sent.
	if n, derr := p.pool.DrainFilled(); derr == nil && n > 0 {
		p.logger.Info("discarded queued batches on shutdown", log.Int("batches", n))
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Counters returns the validation counters.
func (p *Pipeline) Counters() *Counters {
	return p.counters
}

// Snapshot reads the pipeline state without synchronizing with the tasks.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Acquisition: p.acquisition.State(),
		Transfer:    p.transmission.State(),
		Connected:   p.signals.Connected.IsSet(),
		Handshake:   p.signals.HandshakeDone.IsSet(),
		Pool:        p.pool.Census(),
		Validation:  p.counters.Snapshot(),
		Session:     p.sessions.Current(),
	}
}
