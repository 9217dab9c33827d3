package common

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"error", LogLevelError, false},
		{"WARN", LogLevelWarn, false},
		{"warning", LogLevelWarn, false},
		{"", LogLevelInfo, false},
		{" info ", LogLevelInfo, false},
		{"debug", LogLevelDebug, false},
		{"verbose", LogLevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, expected %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogLevel_ToSlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LogLevelError, slog.LevelError},
		{LogLevelWarn, slog.LevelWarn},
		{LogLevelInfo, slog.LevelInfo},
		{LogLevelDebug, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := tt.level.ToSlogLevel(); got != tt.expected {
			t.Errorf("%s.ToSlogLevel() = %v, expected %v", tt.level, got, tt.expected)
		}
	}
}

func TestLoggerScopes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LogLevelDebug)

	logger.WithComponent("aggregate").
		WithEntity("42").
		WithLabel("primary").
		WithRequestID("req-1").
		Info("task finished", "outcome", "success")

	out := buf.String()
	for _, want := range []string{"component=aggregate", "entity_id=42", "label=primary", "request_id=req-1", "outcome=success"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}

func TestWithRequestID_EmptyKeepsLogger(t *testing.T) {
	logger := NewLogger(LogLevelInfo)
	if logger.WithRequestID("") != logger {
		t.Error("expected same logger for empty request id")
	}
}

func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetDefaultLogger(original)

	var buf bytes.Buffer
	custom := NewLoggerTo(&buf, LogLevelDebug)
	SetDefaultLogger(custom)
	if GetLogger() != custom {
		t.Fatal("expected custom logger to be set as default")
	}

	SetDefaultLogger(nil)
	if GetLogger() != custom {
		t.Fatal("nil logger must not replace the default")
	}

	LogInfo("info message", "key", "value")
	LogDebug("debug message")
	LogWarn("warn message")
	LogError("error message", nil)

	out := buf.String()
	for _, want := range []string{"info message", "debug message", "warn message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}
