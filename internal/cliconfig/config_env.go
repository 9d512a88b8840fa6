package cliconfig

import (
	"os"
	"time"
)

// ApplyEnvConfig applies configuration from environment variables (SPISHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", os.Getenv("SPISHIP_HOST"), &cfg.Host)
	s.setString("bus", os.Getenv("SPISHIP_BUS"), &cfg.Bus)
	s.setString("serial-device", os.Getenv("SPISHIP_SERIAL_DEVICE"), &cfg.SerialDevice)
	s.setString("listen", os.Getenv("SPISHIP_LISTEN"), &cfg.Listen)
	s.setString("capture", os.Getenv("SPISHIP_CAPTURE_FILE"), &cfg.CaptureFile)
	s.setString("log-level", os.Getenv("SPISHIP_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("port", os.Getenv("SPISHIP_PORT"), &cfg.Port); err != nil {
		return err
	}
	if err := s.setIntFromString("serial-baud", os.Getenv("SPISHIP_SERIAL_BAUD"), &cfg.SerialBaud); err != nil {
		return err
	}
	if err := s.setIntFromString("validate-every", os.Getenv("SPISHIP_VALIDATE_EVERY"), &cfg.ValidateEvery); err != nil {
		return err
	}
	if err := s.setFloatFromString("sim-drop-rate", os.Getenv("SPISHIP_SIM_DROP_RATE"), &cfg.SimDropRate); err != nil {
		return err
	}

	for _, d := range []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{"serial-read-timeout", "SPISHIP_SERIAL_READ_TIMEOUT", &cfg.SerialReadTimeout},
		{"sim-frame-interval", "SPISHIP_SIM_FRAME_INTERVAL", &cfg.SimFrameInterval},
		{"dial-timeout", "SPISHIP_DIAL_TIMEOUT", &cfg.DialTimeout},
		{"write-timeout", "SPISHIP_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"handshake-retry", "SPISHIP_HANDSHAKE_RETRY", &cfg.HandshakeRetry},
		{"fill-retry", "SPISHIP_FILL_RETRY", &cfg.FillRetry},
		{"publish-timeout", "SPISHIP_PUBLISH_TIMEOUT", &cfg.PublishTimeout},
		{"connect-retry", "SPISHIP_CONNECT_RETRY", &cfg.ConnectRetry},
		{"reconnect-backoff", "SPISHIP_RECONNECT_BACKOFF", &cfg.ReconnectBackoff},
		{"stats-interval", "SPISHIP_STATS_INTERVAL", &cfg.StatsInterval},
		{"watch-interval", "SPISHIP_WATCH_INTERVAL", &cfg.WatchInterval},
	} {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	s.setBoolFromString("log-json", os.Getenv("SPISHIP_LOG_JSON"), &cfg.LogJSON)

	return nil
}
