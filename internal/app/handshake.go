package app

import (
	"context"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/telemetry"
	"github.com/bft-labs/spiship/pkg/log"
)

// SyncReader performs blocking single-frame reads.
type SyncReader interface {
	ReadSync(ctx context.Context, buf []byte) error
}

// Handshake confirms the bus peer is present and aligned by reading single
// frames until one carries the calibration pattern.
type Handshake struct {
	reader SyncReader
	retry  flatRetry
	done   FlagSetter
	logger log.Logger
	sink   metrics.MetricSink
}

// NewHandshake creates a handshake that raises done on success.
func NewHandshake(reader SyncReader, retry time.Duration, done FlagSetter, logger log.Logger, sink metrics.MetricSink) *Handshake {
	return &Handshake{
		reader: reader,
		retry:  newFlatRetry(retry),
		done:   done,
		logger: logger,
		sink:   telemetry.SinkOrDefault(sink),
	}
}

// Run reads until a calibration frame arrives, raises the done flag and
// returns the number of attempts. It only fails when ctx is cancelled.
func (h *Handshake) Run(ctx context.Context) (int, error) {
	buf := make([]byte, domain.FrameSize)
	attempts := 0

	for {
		attempts++
		err := h.reader.ReadSync(ctx, buf)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return attempts, ctx.Err()
			}
			h.logger.Warn("handshake read failed", log.Int("attempt", attempts), log.Err(err))
		case domain.IsCalibrationFrame(buf):
			h.done.Set()
			h.sink.SetGauge(telemetry.MetricHandshakeAttempts, float32(attempts))
			h.logger.Info("handshake complete", log.Int("attempts", attempts))
			return attempts, nil
		default:
			h.logger.Debug("handshake pattern mismatch",
				log.Int("attempt", attempts),
				log.Int("first_byte", int(buf[0])),
			)
		}

		if err := h.retry.Wait(ctx); err != nil {
			return attempts, err
		}
	}
}
