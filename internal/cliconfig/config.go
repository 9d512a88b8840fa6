package cliconfig

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bft-labs/spiship/internal/domain"
)

// Bus kinds.
const (
	BusSim    = "sim"
	BusSerial = "serial"
)

// Config holds CLI configuration for spiship.
type Config struct {
	// Peer
	Host string
	Port int

	// Bus
	Bus               string
	SerialDevice      string
	SerialBaud        int
	SerialReadTimeout time.Duration
	SimFrameInterval  time.Duration
	SimDropRate       float64

	// Transport
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Pipeline delays
	HandshakeRetry   time.Duration
	FillRetry        time.Duration
	PublishTimeout   time.Duration
	ConnectRetry     time.Duration
	ReconnectBackoff time.Duration
	StatsInterval    time.Duration
	ValidateEvery    int

	// Host side (receive / watch)
	Listen        string
	CaptureFile   string
	WatchInterval time.Duration

	LogLevel string
	LogJSON  bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              5001,
		Bus:               BusSim,
		SerialBaud:        3000000,
		SerialReadTimeout: 100 * time.Millisecond,
		SimFrameInterval:  20 * time.Microsecond,
		DialTimeout:       5 * time.Second,
		WriteTimeout:      0,
		HandshakeRetry:    50 * time.Millisecond,
		FillRetry:         10 * time.Millisecond,
		PublishTimeout:    100 * time.Millisecond,
		ConnectRetry:      500 * time.Millisecond,
		ReconnectBackoff:  200 * time.Millisecond,
		StatsInterval:     time.Second,
		ValidateEvery:     100,
		Listen:            ":5001",
		CaptureFile:       "capture.bin",
		WatchInterval:     time.Second,
		LogLevel:          "info",
	}
}

// Addr returns the peer address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the streaming configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", domain.ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", domain.ErrInvalidConfig, c.Port)
	}

	switch c.Bus {
	case BusSim:
		if c.SimDropRate < 0 || c.SimDropRate > 1 {
			return fmt.Errorf("%w: sim drop rate must be within [0,1]", domain.ErrInvalidConfig)
		}
	case BusSerial:
		if c.SerialDevice == "" {
			return fmt.Errorf("%w: serial-device is required with --bus=serial", domain.ErrInvalidConfig)
		}
		if c.SerialBaud <= 0 {
			return fmt.Errorf("%w: serial baud must be positive", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown bus %q (want %q or %q)", domain.ErrInvalidConfig, c.Bus, BusSim, BusSerial)
	}

	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative", domain.ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"dial timeout":      c.DialTimeout,
		"handshake retry":   c.HandshakeRetry,
		"fill retry":        c.FillRetry,
		"publish timeout":   c.PublishTimeout,
		"connect retry":     c.ConnectRetry,
		"reconnect backoff": c.ReconnectBackoff,
		"stats interval":    c.StatsInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", domain.ErrInvalidConfig, name)
		}
	}
	if c.ValidateEvery < 1 {
		return fmt.Errorf("%w: validate-every must be at least 1", domain.ErrInvalidConfig)
	}

	return nil
}

// ValidateHost checks the receive/watch configuration.
func (c *Config) ValidateHost() error {
	if c.CaptureFile == "" {
		return fmt.Errorf("%w: capture file is required", domain.ErrInvalidConfig)
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("%w: watch interval must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if a value was given and flag not changed.
func (s *configSetter) setFloat(flag string, value *float64, dst *float64) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination.
// Used for environment variables that come as strings.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
