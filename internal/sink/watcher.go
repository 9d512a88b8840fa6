package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/spiship/internal/app"
	"github.com/bft-labs/spiship/internal/domain"
	"github.com/bft-labs/spiship/internal/telemetry"
	"github.com/bft-labs/spiship/pkg/log"
)

// WatcherConfig configures the capture watcher.
type WatcherConfig struct {
	Path     string
	Interval time.Duration
}

// Watcher follows a growing capture file, slices it into frames and
// validates every frame against the calibration pattern.
type Watcher struct {
	cfg      WatcherConfig
	counters *app.Counters
	logger   log.Logger
	sink     metrics.MetricSink

	mu      sync.Mutex
	offset  int64
	partial []byte
}

// NewWatcher creates a watcher for cfg.Path.
func NewWatcher(cfg WatcherConfig, logger log.Logger, sink metrics.MetricSink) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	logger = log.OrNoop(logger)
	return &Watcher{
		cfg:      cfg,
		counters: app.NewCounters(1),
		logger:   logger.With(log.String("component", "watcher"), log.String("path", cfg.Path)),
		sink:     telemetry.SinkOrDefault(sink),
	}
}

// Counters exposes the running validation results.
func (w *Watcher) Counters() *app.Counters { return w.counters }

// Run watches the file's directory and reports accuracy every interval until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.cfg.Path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if err := w.Scan(); err != nil {
		w.logger.Warn("initial scan failed", log.Err(err))
	}

	reporter := app.NewReporter(w.cfg.Interval, w.counters, w.logger, w.sink)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error { return w.follow(gctx, fw) })
	return g.Wait()
}

func (w *Watcher) follow(ctx context.Context, fw *fsnotify.Watcher) error {
	name := filepath.Clean(w.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.logger.Info("capture file removed")
				w.reset()
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if err := w.Scan(); err != nil {
					w.logger.Warn("scan failed", log.Err(err))
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", log.Err(err))
		}
	}
}

// Scan reads everything appended since the last scan and validates the
// complete frames in it. A trailing partial frame is kept for the next scan.
// A file that shrank is read again from the start.
func (w *Watcher) Scan() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < w.offset {
		w.logger.Info("capture file truncated", log.Int64("size", info.Size()))
		w.offset = 0
		w.partial = w.partial[:0]
	}
	if info.Size() == w.offset {
		return nil
	}

	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(f, info.Size()-w.offset))
	if err != nil {
		return err
	}
	w.offset += int64(len(data))

	buf := append(w.partial, data...)
	frames := 0
	for len(buf) >= domain.FrameSize {
		w.counters.Record(app.MatchesPattern(buf[:domain.FrameSize]))
		buf = buf[domain.FrameSize:]
		frames++
	}
	w.partial = append(w.partial[:0], buf...)

	if frames > 0 {
		w.sink.IncrCounter(telemetry.MetricWatcherFrameCount, float32(frames))
	}
	return nil
}

func (w *Watcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.offset = 0
	w.partial = w.partial[:0]
}
