package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWriterJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWriter(&buf, "info", "json").Info("hello", "component", "test")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if rec["msg"] != "hello" || rec["component"] != "test" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewWriterLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn", "text")
	log.Info("dropped")
	log.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"error":   slog.LevelError,
		"WARNING": slog.LevelWarn,
		" info ":  slog.LevelInfo,
		"":        slog.LevelDebug,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Fatalf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
