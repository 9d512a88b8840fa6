package app

import (
	"context"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/bft-labs/spiship/internal/telemetry"
	"github.com/bft-labs/spiship/pkg/log"
)

// Reporter periodically logs the validation counters and mirrors them into
// metric gauges. It never touches pipeline state.
type Reporter struct {
	interval time.Duration
	counters *Counters
	logger   log.Logger
	sink     metrics.MetricSink
	now      func() time.Time
}

// NewReporter creates a reporter ticking every interval.
func NewReporter(interval time.Duration, counters *Counters, logger log.Logger, sink metrics.MetricSink) *Reporter {
	return &Reporter{
		interval: interval,
		counters: counters,
		logger:   logger.With(log.String("task", "reporter")),
		sink:     telemetry.SinkOrDefault(sink),
		now:      time.Now,
	}
}

// Run reports until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	start := r.now()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.report(r.now().Sub(start))
		}
	}
}

func (r *Reporter) report(elapsed time.Duration) {
	s := r.counters.Snapshot()

	r.sink.SetGauge(telemetry.MetricValidationMatched, float32(s.Matched))
	r.sink.SetGauge(telemetry.MetricValidationMismatched, float32(s.Mismatched))
	r.sink.SetGauge(telemetry.MetricValidationAccuracy, float32(s.Accuracy))

	r.logger.Info("validation stats",
		log.Int64("elapsed_ms", elapsed.Milliseconds()),
		log.Uint64("matched", s.Matched),
		log.Uint64("mismatched", s.Mismatched),
		log.Uint64("validated_samples", s.ValidatedSamples),
		log.Float64("accuracy", s.Accuracy),
	)
}
