package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	Bus               string   `toml:"bus"`
	SerialDevice      string   `toml:"serial_device"`
	SerialBaud        int      `toml:"serial_baud"`
	SerialReadTimeout string   `toml:"serial_read_timeout"`
	SimFrameInterval  string   `toml:"sim_frame_interval"`
	SimDropRate       *float64 `toml:"sim_drop_rate"`
	DialTimeout       string   `toml:"dial_timeout"`
	WriteTimeout      string   `toml:"write_timeout"`
	HandshakeRetry    string   `toml:"handshake_retry"`
	FillRetry         string   `toml:"fill_retry"`
	PublishTimeout    string   `toml:"publish_timeout"`
	ConnectRetry      string   `toml:"connect_retry"`
	ReconnectBackoff  string   `toml:"reconnect_backoff"`
	StatsInterval     string   `toml:"stats_interval"`
	ValidateEvery     int      `toml:"validate_every"`
	Listen            string   `toml:"listen"`
	CaptureFile       string   `toml:"capture_file"`
	WatchInterval     string   `toml:"watch_interval"`
	LogLevel          string   `toml:"log_level"`
	LogJSON           *bool    `toml:"log_json"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.spiship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".spiship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", fc.Host, &cfg.Host)
	s.setString("bus", fc.Bus, &cfg.Bus)
	s.setString("serial-device", fc.SerialDevice, &cfg.SerialDevice)
	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("capture", fc.CaptureFile, &cfg.CaptureFile)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("port", fc.Port, &cfg.Port)
	s.setInt("serial-baud", fc.SerialBaud, &cfg.SerialBaud)
	s.setInt("validate-every", fc.ValidateEvery, &cfg.ValidateEvery)

	s.setFloat("sim-drop-rate", fc.SimDropRate, &cfg.SimDropRate)
	s.setBool("log-json", fc.LogJSON, &cfg.LogJSON)

	for _, d := range []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"serial-read-timeout", fc.SerialReadTimeout, &cfg.SerialReadTimeout},
		{"sim-frame-interval", fc.SimFrameInterval, &cfg.SimFrameInterval},
		{"dial-timeout", fc.DialTimeout, &cfg.DialTimeout},
		{"write-timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"handshake-retry", fc.HandshakeRetry, &cfg.HandshakeRetry},
		{"fill-retry", fc.FillRetry, &cfg.FillRetry},
		{"publish-timeout", fc.PublishTimeout, &cfg.PublishTimeout},
		{"connect-retry", fc.ConnectRetry, &cfg.ConnectRetry},
		{"reconnect-backoff", fc.ReconnectBackoff, &cfg.ReconnectBackoff},
		{"stats-interval", fc.StatsInterval, &cfg.StatsInterval},
		{"watch-interval", fc.WatchInterval, &cfg.WatchInterval},
	} {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
