package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/hashicorp/go-metrics"

	"github.com/bft-labs/spiship/internal/telemetry"
	"github.com/bft-labs/spiship/pkg/log"
)

// DefaultReadBuffer is the receive chunk size.
const DefaultReadBuffer = 500

// ReceiverConfig configures the host receiver.
type ReceiverConfig struct {
	Listen      string
	CaptureFile string
	ReadBuffer  int
}

// ClientStats summarizes one served connection.
type ClientStats struct {
	RemoteAddr string
	Messages   int
	Bytes      int64
}

// Receiver accepts one client at a time and appends every chunk it reads to
// the capture file. When a client disconnects the next one is served.
type Receiver struct {
	cfg    ReceiverConfig
	logger log.Logger
	sink   metrics.MetricSink

	mu sync.Mutex
	ln net.Listener
}

// NewReceiver creates a receiver. Call Listen before Serve, or use Run.
func NewReceiver(cfg ReceiverConfig, logger log.Logger, sink metrics.MetricSink) *Receiver {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	logger = log.OrNoop(logger)
	return &Receiver{
		cfg:    cfg,
		logger: logger.With(log.String("component", "receiver")),
		sink:   telemetry.SinkOrDefault(sink),
	}
}

// Listen binds the listening socket.
func (r *Receiver) Listen() error {
	ln, err := net.Listen("tcp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Listen, err)
	}
	r.mu.Lock()
	r.ln = ln
	r.mu.Unlock()
	r.logger.Info("listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Run listens and serves until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	return r.Serve(ctx)
}

// Serve accepts clients sequentially until ctx is cancelled. It closes the
// listener on return.
func (r *Receiver) Serve(ctx context.Context) error {
	r.mu.Lock()
	ln := r.ln
	r.mu.Unlock()
	if ln == nil {
		return errors.New("receiver: Serve called before Listen")
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		stats, err := r.serveClient(ctx, conn)
		fields := []log.Field{
			log.String("remote", stats.RemoteAddr),
			log.Int("messages", stats.Messages),
			log.Int64("bytes", stats.Bytes),
		}
		if err != nil {
			r.logger.Warn("client ended with error", append(fields, log.Err(err))...)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		r.logger.Info("client disconnected", fields...)
	}
}

func (r *Receiver) serveClient(ctx context.Context, conn net.Conn) (ClientStats, error) {
	stats := ClientStats{RemoteAddr: conn.RemoteAddr().String()}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	r.sink.IncrCounter(telemetry.MetricReceiverClientCount, 1)
	r.logger.Info("client connected", log.String("remote", stats.RemoteAddr))

	f, err := os.OpenFile(r.cfg.CaptureFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return stats, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, r.cfg.ReadBuffer)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return stats, fmt.Errorf("write capture file: %w", err)
			}
			stats.Messages++
			stats.Bytes += int64(n)
			r.sink.IncrCounter(telemetry.MetricReceiverMessageCount, 1)
			r.sink.IncrCounter(telemetry.MetricReceiverBytes, float32(n))
			r.logger.Debug("message received",
				log.Int("message", stats.Messages),
				log.Int("size", n),
			)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return stats, nil
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			return stats, fmt.Errorf("read: %w", rerr)
		}
	}
}
