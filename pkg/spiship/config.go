package spiship

import (
	"fmt"
	"time"

	"github.com/bft-labs/spiship/internal/domain"
)

// Bus kinds accepted in Config.Bus.
const (
	BusSim    = "sim"
	BusSerial = "serial"
)

// Config configures a Spiship instance. Zero fields are filled by SetDefaults.
type Config struct {
	// Addr is the peer's host:port.
	Addr string

	// Bus selects the frame source when no bus is injected with WithBus.
	Bus string

	SerialDevice      string
	SerialBaud        int
	SerialReadTimeout time.Duration

	SimFrameInterval time.Duration
	SimDropRate      float64

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	HandshakeRetry   time.Duration
	FillRetry        time.Duration
	PublishTimeout   time.Duration
	ConnectRetry     time.Duration
	ReconnectBackoff time.Duration
	StatsInterval    time.Duration

	// ValidateEvery is the validator's sampling stride.
	ValidateEvery int
}

// DefaultConfig returns a configuration streaming the synthetic bus to
// 127.0.0.1:5001.
func DefaultConfig() Config {
	cfg := Config{Addr: "127.0.0.1:5001"}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every zero field with its default.
func (c *Config) SetDefaults() {
	if c.Bus == "" {
		c.Bus = BusSim
	}
	if c.SerialBaud == 0 {
		c.SerialBaud = 3000000
	}
	if c.SerialReadTimeout == 0 {
		c.SerialReadTimeout = 100 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.HandshakeRetry == 0 {
		c.HandshakeRetry = 50 * time.Millisecond
	}
	if c.FillRetry == 0 {
		c.FillRetry = 10 * time.Millisecond
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 100 * time.Millisecond
	}
	if c.ConnectRetry == 0 {
		c.ConnectRetry = 500 * time.Millisecond
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 200 * time.Millisecond
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = time.Second
	}
	if c.ValidateEvery == 0 {
		c.ValidateEvery = 100
	}
}

// Validate reports the first unusable field.
func (c Config) Validate() error {
	switch c.Bus {
	case BusSim:
		if c.SimDropRate < 0 || c.SimDropRate > 1 {
			return fmt.Errorf("%w: sim drop rate must be within [0, 1]", domain.ErrInvalidConfig)
		}
	case BusSerial:
		if c.SerialDevice == "" {
			return fmt.Errorf("%w: serial device is required", domain.ErrInvalidConfig)
		}
		if c.SerialBaud <= 0 {
			return fmt.Errorf("%w: serial baud must be positive", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown bus %q", domain.ErrInvalidConfig, c.Bus)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative", domain.ErrInvalidConfig)
	}
	return c.pipelineConfig().Validate()
}
