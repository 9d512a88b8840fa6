package cliconfig

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/bft-labs/spiship/pkg/log"
)

// NewLogger builds the CLI logger: console output by default, one JSON object
// per line when asJSON is set.
func NewLogger(out io.Writer, level string, asJSON bool) (zerolog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	if asJSON {
		return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
	}
	return log.NewConsoleLogger(out, lvl), nil
}
