// Package log is the structured logging interface of spiship.
//
// The acquisition and transmission tasks, the session supervisor and the
// sink all log through Logger, never through zerolog directly. The CLI
// builds a ZerologAdapter from the configured level and format. Embedders
// of pkg/spiship pass their own Logger with WithLogger, or get a
// NoopLogger.
//
// Task loggers carry a "task" field and session loggers add "session" and
// "peer":
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	tx := logger.With(log.String("task", "transmission"))
//	tx.With(log.String("session", id), log.String("peer", addr)).
//		Info("connected")
package log
