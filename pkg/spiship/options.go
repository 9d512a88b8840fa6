package spiship

import (
	"github.com/hashicorp/go-metrics"

	"github.com/bft-labs/spiship/internal/ports"
	"github.com/bft-labs/spiship/pkg/log"
)

// Bus is the peripheral bus boundary. Implementations must be safe for one
// submitter and one awaiter.
type Bus = ports.Bus

// Dialer opens the connection to the peer.
type Dialer = ports.Dialer

// Conn is one open peer connection.
type Conn = ports.Conn

// Completion is the result of one asynchronous bus read.
type Completion = ports.Completion

// RequestID identifies a submitted bus read.
type RequestID = ports.RequestID

// Option configures optional behavior of Spiship.
type Option func(*options)

type options struct {
	logger       log.Logger
	bus          ports.Bus
	dialer       ports.Dialer
	sink         metrics.MetricSink
	eventHandler EventHandler
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBus injects the frame source. The caller keeps ownership and must
// close it. Reads still outstanding when a run ends are not cancelled, so an
// injected bus serves a single Start. Without it a bus is opened from
// Config.Bus on every Start and closed when the run ends.
func WithBus(bus Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dialer Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithMetricSink routes metrics to sink instead of the go-metrics default.
func WithMetricSink(sink metrics.MetricSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithEventHandler sets a handler for spiship events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}
