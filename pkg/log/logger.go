package log

import "time"

// Logger is what the pipeline tasks, the sink and the CLI log through.
// Each task derives a child with its name attached, and sessions add their
// ID and peer address on top.
type Logger interface {
	// Debug is used for task state changes and per-batch detail.
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	// Warn marks conditions the pipeline recovers from on its own, such as
	// a stalled consumer or a transient bus error.
	Warn(msg string, fields ...Field)
	// Error marks a lost session, a fatal bus error or a crash.
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field is one key/value pair of a log entry. The zerolog adapter encodes
// the value types produced by the constructors below natively and falls
// back to reflection for anything else.
type Field struct {
	Key   string
	Value any
}

// String is used for session IDs, peer addresses and state names.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int is used for batch IDs and retry attempts.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Uint64 is used for frame sequence numbers and byte counters.
func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration is used for timeouts and backoff delays.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err attaches err under the "error" key.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
