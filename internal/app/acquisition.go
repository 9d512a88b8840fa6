package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/telemetry"
	"github.com/bft-labs/spiship/pkg/log"
)

// AcqState is the acquisition task's position in its cycle.
type AcqState int32

const (
	AcqStarting AcqState = iota
	AcqWaitForConnection
	AcqFilling
	AcqPublishing
)

// String returns a human-readable representation of the state.
func (s AcqState) String() string {
	switch s {
	case AcqStarting:
		return "starting"
	case AcqWaitForConnection:
		return "wait_for_connection"
	case AcqFilling:
		return "filling"
	case AcqPublishing:
		return "publishing"
	default:
		return "unknown"
	}
}

// AcquisitionConfig holds the acquisition task's delays.
type AcquisitionConfig struct {
	FillRetry      time.Duration
	PublishTimeout time.Duration
}

// Acquisition is the producer task. It runs the handshake once, primes the
// engine, then repeatedly fills batches from the bus and publishes them.
type Acquisition struct {
	cfg       AcquisitionConfig
	engine    *Engine
	handshake *Handshake
	pool      *Pool
	validator *Validator
	connected FlagWaiter
	aborter   Aborter
	logger    log.Logger
	sink      metrics.MetricSink

	state     atomic.Int32
	needRearm bool
}

// NewAcquisition wires the producer task.
func NewAcquisition(
	cfg AcquisitionConfig,
	engine *Engine,
	handshake *Handshake,
	pool *Pool,
	validator *Validator,
	connected FlagWaiter,
	aborter Aborter,
	logger log.Logger,
	sink metrics.MetricSink,
) *Acquisition {
	return &Acquisition{
		cfg:       cfg,
		engine:    engine,
		handshake: handshake,
		pool:      pool,
		validator: validator,
		connected: connected,
		aborter:   aborter,
		logger:    logger.With(log.String("task", "acquisition")),
		sink:      telemetry.SinkOrDefault(sink),
	}
}

// State returns the current state. Safe to call from any goroutine.
func (a *Acquisition) State() AcqState {
	return AcqState(a.state.Load())
}

func (a *Acquisition) setState(s AcqState) {
	if prev := AcqState(a.state.Swap(int32(s))); prev != s {
		a.logger.Debug("state", log.String("from", prev.String()), log.String("to", s.String()))
	}
}

// Run executes the task until ctx is cancelled. It returns ctx's error, or an
// ownership error if the pool's invariants were broken.
func (a *Acquisition) Run(ctx context.Context) error {
	a.setState(AcqStarting)
	if _, err := a.handshake.Run(ctx); err != nil {
		return err
	}
	if err := a.engine.Prime(); err != nil {
		if err := a.deviceError(ctx, err); err != nil {
			return err
		}
	}

	for {
		a.setState(AcqWaitForConnection)
		if err := a.connected.Wait(ctx); err != nil {
			return err
		}

		if a.needRearm {
			if err := a.engine.Rearm(); err != nil {
				if err := a.deviceError(ctx, err); err != nil {
					return err
				}
				continue
			}
			a.needRearm = false
		}

		// Blocking here is backpressure from the consumer.
		a.setState(AcqFilling)
		b, err := a.pool.AcquireFree(ctx)
		if err != nil {
			return err
		}

		if !b.Full() {
			if err := a.fill(ctx, b); err != nil {
				if rerr := a.pool.ReturnFront(b); rerr != nil {
					return rerr
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, domain.ErrOwnership) {
					return err
				}
				if err := a.deviceError(ctx, err); err != nil {
					return err
				}
				continue
			}
		}

		a.setState(AcqPublishing)
		err = a.pool.PublishFilled(ctx, b, a.cfg.PublishTimeout)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrPublishTimeout):
			a.sink.IncrCounter(telemetry.MetricPublishTimeoutCount, 1)
			a.logger.Warn("consumer stalled, batch held for retry",
				log.Int("batch", b.ID),
				log.Duration("timeout", a.cfg.PublishTimeout),
			)
		default:
			return err
		}
	}
}

func (a *Acquisition) fill(ctx context.Context, b *domain.Batch) error {
	for !b.Full() {
		frame, err := a.engine.NextFrame(ctx)
		if err != nil {
			return err
		}
		a.validator.Sample(frame)
		if err := b.Append(frame); err != nil {
			return err
		}
	}
	return nil
}

// deviceError records a bus failure, aborts the current session for fatal
// ones, and waits the fill retry delay. It returns non-nil only when ctx ends.
func (a *Acquisition) deviceError(ctx context.Context, err error) error {
	a.needRearm = true
	kind := "transient"
	if errors.Is(err, domain.ErrDeviceFatal) {
		kind = "fatal"
	}
	a.sink.IncrCounterWithLabels(telemetry.MetricDeviceErrorCount, 1,
		[]metrics.Label{telemetry.LabelKind.M(kind)})

	if kind == "fatal" {
		aborted := a.aborter.Abort(err)
		a.logger.Error("bus submission failed", log.Bool("session_aborted", aborted), log.Err(err))
	} else {
		a.logger.Warn("bus transaction failed", log.Err(err))
	}

	return sleepCtx(ctx, a.cfg.FillRetry)
}
