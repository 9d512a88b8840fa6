package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/spiship/internal/cliconfig"
	"github.com/bft-labs/spiship/pkg/log"
	"github.com/bft-labs/spiship/pkg/spiship"
)

const helpDescription = `
Stream fixed-size frames from a peripheral bus to a TCP peer in real time.

Highlights:
  - 64-byte frames packed into 16 KiB batches, 16 bus reads kept in flight.
  - Acquisition pauses while the peer is away. Batches queued when the
    connection drops are discarded, not replayed to the next peer.
  - Calibration handshake and sampled pattern validation logged once a second.
  - "receive" and "watch" run the host side: capture to file, validate as it grows.

Configure via $HOME/.spiship/config.toml, SPISHIP_* variables, or flags.
`

var exampleUsage = strings.TrimSpace(`
  spiship --host 192.168.4.2 --port 5001
  spiship --bus serial --serial-device /dev/ttyUSB0 --serial-baud 3000000
  spiship receive --listen :5001 --capture capture.bin
  spiship watch --capture capture.bin
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	bootLog := log.NewConsoleLogger(os.Stderr, zerolog.InfoLevel)

	root := &cobra.Command{
		Use:           "spiship",
		Short:         "Stream peripheral bus frames to a TCP peer",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			zl, err := loadConfig(cmd, cfgPath, &cfg)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			zl.Info().Interface("config", cfg).Msg("configuration")
			return runStream(zl, cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.spiship/config.toml)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log one JSON object per line")

	root.Flags().StringVar(&cfg.Host, "host", cfg.Host, "peer host")
	root.Flags().IntVar(&cfg.Port, "port", cfg.Port, "peer port")

	root.Flags().StringVar(&cfg.Bus, "bus", cfg.Bus, "frame source: sim or serial")
	root.Flags().StringVar(&cfg.SerialDevice, "serial-device", cfg.SerialDevice, "serial bridge device (with --bus=serial)")
	root.Flags().IntVar(&cfg.SerialBaud, "serial-baud", cfg.SerialBaud, "serial bridge baud rate")
	root.Flags().DurationVar(&cfg.SerialReadTimeout, "serial-read-timeout", cfg.SerialReadTimeout, "per-frame serial read timeout")
	root.Flags().DurationVar(&cfg.SimFrameInterval, "sim-frame-interval", cfg.SimFrameInterval, "time per synthetic bus transaction")
	root.Flags().Float64Var(&cfg.SimDropRate, "sim-drop-rate", cfg.SimDropRate, "probability a synthetic byte reads as zero")

	root.Flags().DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "TCP connect timeout")
	root.Flags().DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-write timeout (0 disables)")

	root.Flags().DurationVar(&cfg.HandshakeRetry, "handshake-retry", cfg.HandshakeRetry, "delay between calibration reads")
	root.Flags().DurationVar(&cfg.FillRetry, "fill-retry", cfg.FillRetry, "delay after a bus error")
	root.Flags().DurationVar(&cfg.PublishTimeout, "publish-timeout", cfg.PublishTimeout, "how long a full batch waits for the sender")
	root.Flags().DurationVar(&cfg.ConnectRetry, "connect-retry", cfg.ConnectRetry, "delay between connect attempts")
	root.Flags().DurationVar(&cfg.ReconnectBackoff, "reconnect-backoff", cfg.ReconnectBackoff, "pause after a disconnect")
	root.Flags().DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "validation stats interval")
	root.Flags().IntVar(&cfg.ValidateEvery, "validate-every", cfg.ValidateEvery, "validate every n-th frame")

	root.AddCommand(newReceiveCmd(&cfg, &cfgPath), newWatchCmd(&cfg, &cfgPath))

	if err := root.Execute(); err != nil {
		bootLog.Error().Err(err).Msg("spiship")
		os.Exit(1)
	}
}

// loadConfig applies the config file and SPISHIP_* variables under the flags
// the user set, then builds the logger.
func loadConfig(cmd *cobra.Command, cfgPath string, cfg *cliconfig.Config) (zerolog.Logger, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return zerolog.Nop(), err
		}
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return zerolog.Nop(), err
	}

	return cliconfig.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newMetricSink keeps recent metrics in memory. Sending SIGUSR1 dumps them
// to stderr.
func newMetricSink() (*metrics.InmemSink, func()) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	sig := metrics.DefaultInmemSignal(sink)
	return sink, sig.Stop
}

func runStream(zl zerolog.Logger, cfg cliconfig.Config) error {
	sink, stopSignal := newMetricSink()
	defer stopSignal()

	s, err := spiship.New(spiship.Config{
		Addr:              cfg.Addr(),
		Bus:               cfg.Bus,
		SerialDevice:      cfg.SerialDevice,
		SerialBaud:        cfg.SerialBaud,
		SerialReadTimeout: cfg.SerialReadTimeout,
		SimFrameInterval:  cfg.SimFrameInterval,
		SimDropRate:       cfg.SimDropRate,
		DialTimeout:       cfg.DialTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		HandshakeRetry:    cfg.HandshakeRetry,
		FillRetry:         cfg.FillRetry,
		PublishTimeout:    cfg.PublishTimeout,
		ConnectRetry:      cfg.ConnectRetry,
		ReconnectBackoff:  cfg.ReconnectBackoff,
		StatsInterval:     cfg.StatsInterval,
		ValidateEvery:     cfg.ValidateEvery,
	},
		spiship.WithLogger(log.NewZerologAdapterWithLogger(zl)),
		spiship.WithMetricSink(sink),
	)
	if err != nil {
		return fmt.Errorf("create spiship: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := s.Start(context.Background()); err != nil {
		return fmt.Errorf("start spiship: %w", err)
	}

	// Poll for a crash so the process exits instead of idling.
	doneCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.Status() == spiship.StateCrashed {
					close(doneCh)
					return
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		zl.Info().Msg("received signal, stopping...")
	case <-doneCh:
		snap := s.Snapshot()
		zl.Error().Str("reason", snap.Reason).Msg("spiship crashed")
		return fmt.Errorf("pipeline crashed: %s", snap.Reason)
	}

	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop spiship: %w", err)
	}
	return nil
}
