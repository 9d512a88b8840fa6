package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/bft-labs/spiship/internal/cliconfig"
	"github.com/bft-labs/spiship/internal/sink"
	"github.com/bft-labs/spiship/pkg/log"
)

func newReceiveCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Accept the stream and append it to a capture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			zl, err := loadConfig(cmd, *cfgPath, cfg)
			if err != nil {
				return err
			}
			if err := cfg.ValidateHost(); err != nil {
				return err
			}
			metricSink, stopSignal := newMetricSink()
			defer stopSignal()

			ctx, cancel := signalContext()
			defer cancel()

			r := sink.NewReceiver(sink.ReceiverConfig{
				Listen:      cfg.Listen,
				CaptureFile: cfg.CaptureFile,
			}, log.NewZerologAdapterWithLogger(zl), metricSink)
			return ignoreCanceled(r.Run(ctx))
		},
	}
	cmd.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "listen address")
	cmd.Flags().StringVar(&cfg.CaptureFile, "capture", cfg.CaptureFile, "capture file to append to")
	return cmd
}

func newWatchCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a capture file and report frame accuracy",
		RunE: func(cmd *cobra.Command, args []string) error {
			zl, err := loadConfig(cmd, *cfgPath, cfg)
			if err != nil {
				return err
			}
			if err := cfg.ValidateHost(); err != nil {
				return err
			}
			metricSink, stopSignal := newMetricSink()
			defer stopSignal()

			ctx, cancel := signalContext()
			defer cancel()

			w := sink.NewWatcher(sink.WatcherConfig{
				Path:     cfg.CaptureFile,
				Interval: cfg.WatchInterval,
			}, log.NewZerologAdapterWithLogger(zl), metricSink)
			return ignoreCanceled(w.Run(ctx))
		},
	}
	cmd.Flags().StringVar(&cfg.CaptureFile, "capture", cfg.CaptureFile, "capture file to follow")
	cmd.Flags().DurationVar(&cfg.WatchInterval, "watch-interval", cfg.WatchInterval, "accuracy report interval")
	return cmd
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
