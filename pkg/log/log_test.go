package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type recordingLogger struct {
	entries [][]Field
}

func (r *recordingLogger) Debug(msg string, fields ...Field) { r.entries = append(r.entries, fields) }
func (r *recordingLogger) Info(msg string, fields ...Field)  { r.entries = append(r.entries, fields) }
func (r *recordingLogger) Warn(msg string, fields ...Field)  { r.entries = append(r.entries, fields) }
func (r *recordingLogger) Error(msg string, fields ...Field) { r.entries = append(r.entries, fields) }

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestZerologAdapterFields(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapterWithLogger(zerolog.New(&buf))

	adapter.Info("forwarded",
		RequestID("req-1"),
		Method("eth_call"),
		Int("attempt", 2),
		Err(errors.New("boom")),
	)

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if got["request_id"] != "req-1" {
		t.Errorf("request_id = %v", got["request_id"])
	}
	if got["method"] != "eth_call" {
		t.Errorf("method = %v", got["method"])
	}
	if got["attempt"] != float64(2) {
		t.Errorf("attempt = %v", got["attempt"])
	}
	if got["error"] != "boom" {
		t.Errorf("error = %v", got["error"])
	}
}

func TestWithZerologScopesFields(t *testing.T) {
	var buf bytes.Buffer
	scoped := With(NewZerologAdapterWithLogger(zerolog.New(&buf)), String("component", "relay"))

	scoped.Warn("dropped")

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["component"] != "relay" {
		t.Errorf("component = %v", got["component"])
	}
}

func TestWithCustomLogger(t *testing.T) {
	rec := &recordingLogger{}
	scoped := With(rec, String("component", "router"))

	scoped.Debug("x", Int("n", 1))

	if len(rec.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(rec.entries))
	}
	fields := rec.entries[0]
	if len(fields) != 2 || fields[0].Key != "component" || fields[1].Key != "n" {
		t.Errorf("fields = %+v", fields)
	}
}

func TestWithNoFieldsReturnsSameLogger(t *testing.T) {
	l := NewNoopLogger()
	if With(l) != Logger(l) {
		t.Error("With without fields should return the logger unchanged")
	}
}
