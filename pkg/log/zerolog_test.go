package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapterWithLogger(zerolog.New(&buf))

	adapter.Info("sent batch",
		Int("frames", 256),
		Duration("duration", 2*time.Millisecond),
		Err(errors.New("boom")),
		Bool("ok", true),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["message"] != "sent batch" {
		t.Errorf("message = %v, want sent batch", entry["message"])
	}
	if entry["frames"] != float64(256) {
		t.Errorf("frames = %v, want 256", entry["frames"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if entry["ok"] != true {
		t.Errorf("ok = %v, want true", entry["ok"])
	}
}

func TestZerologAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapterWithLogger(zerolog.New(&buf))

	child := adapter.With(String("session", "abc"), Int("attempt", 3))
	child.Warn("send failed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["session"] != "abc" {
		t.Errorf("session = %v, want abc", entry["session"])
	}
	if entry["attempt"] != float64(3) {
		t.Errorf("attempt = %v, want 3", entry["attempt"])
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" WARN ", zerolog.WarnLevel, false},
		{"loud", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNoopLogger_With(t *testing.T) {
	var l Logger = NewNoopLogger()
	child := l.With(String("k", "v"))
	if child == nil {
		t.Fatal("With returned nil")
	}
	child.Error("discarded")
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(*NoopLogger); !ok {
		t.Fatalf("OrNoop(nil) = %T, want *NoopLogger", OrNoop(nil))
	}
	adapter := NewZerologAdapterWithLogger(zerolog.Nop())
	if got := OrNoop(adapter); got != Logger(adapter) {
		t.Fatalf("OrNoop replaced a non-nil logger with %T", got)
	}
}
