package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewConsole(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewConsole(buf, "debug")
	if log.GetLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %s", log.GetLevel())
	}

	log.Debug().Str("pending_id", "abc").Msg("polling")
	if !strings.Contains(buf.String(), "polling") || !strings.Contains(buf.String(), "abc") {
		t.Errorf("Expected console output, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.WarnLevel,
		"bogus":   zerolog.WarnLevel,
		"INFO":    zerolog.InfoLevel,
		" error ": zerolog.ErrorLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewJSON(buf, "info")

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestNewJSON_RespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewJSON(buf, "warn")

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("Info message should be filtered at warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("Expected warn message, got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewJSON(buf, "debug"))

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())

	if log.GetLevel() != zerolog.Disabled {
		t.Errorf("Expected disabled default logger, got %s", log.GetLevel())
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewJSON(buf, "debug")

	logWithFields := WithFields(log, map[string]interface{}{
		"pending_id": "abc123",
		"action":     "poll",
	})
	logWithFields.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "pending_id") || !strings.Contains(output, "abc123") {
		t.Errorf("Expected output to contain pending_id field, got: %s", output)
	}
	if !strings.Contains(output, "action") || !strings.Contains(output, "poll") {
		t.Errorf("Expected output to contain action field, got: %s", output)
	}
}
