package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// setupTestLogger points the global logger at output with the given level.
func setupTestLogger(output *bytes.Buffer, level string) {
	SetLoggerForTest(zerolog.New(output).With().Timestamp().Logger().Level(parseLevel(level)))
}

func TestInfoLogging(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Info("test message", "foo", 42, "bar", true)

	out := buf.String()
	if !strings.Contains(out, "test message") {
		t.Error("Expected log message not found in output")
	}
	if !strings.Contains(out, `"foo":42`) || !strings.Contains(out, `"bar":true`) {
		t.Error("Expected key-value pairs not found in output")
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Debug("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestErrorValuesAndDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "debug")

	Error("render failed", "error", errors.New("boom"), "orphan")

	out := buf.String()
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("error value not logged: %s", out)
	}
	if !strings.Contains(out, `"extra":"orphan"`) {
		t.Errorf("dangling value not logged under extra: %s", out)
	}
}

func TestNonStringKeysAreSkipped(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "debug")

	Warn("odd keys", 1, "x", "ok", "y")

	out := buf.String()
	if strings.Contains(out, `"x"`) {
		t.Errorf("pair with non-string key should be skipped: %s", out)
	}
	if !strings.Contains(out, `"ok":"y"`) {
		t.Errorf("expected valid pair: %s", out)
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	Info("should be hidden")
	SetLogLevel("info")
	Info("should be visible")

	out := buf.String()
	if strings.Contains(out, "should be hidden") {
		t.Error("info log emitted at warn level")
	}
	if !strings.Contains(out, "should be visible") {
		t.Error("Expected info log after SetLogLevel not found")
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	for _, in := range []string{"", "loud"} {
		if got := parseLevel(in); got != zerolog.InfoLevel {
			t.Errorf("parseLevel(%q) = %v, want info", in, got)
		}
	}
	if got := parseLevel("debug"); got != zerolog.DebugLevel {
		t.Errorf("parseLevel(debug) = %v", got)
	}
}

func TestInitLogger_WritesFile(t *testing.T) {
	prev := Logger()
	defer SetLoggerForTest(prev)

	path := filepath.Join(t.TempDir(), "logs", "render.log")
	InitLogger(path, 1, 1, 1, false, "debug")

	Debug("to file", "n", 1)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") || !strings.Contains(string(data), `"service":"html2image"`) {
		t.Errorf("unexpected log file content: %s", data)
	}
}

func TestEnsureLogDir(t *testing.T) {
	if err := ensureLogDir(""); err != nil {
		t.Fatalf("empty path should be noop: %v", err)
	}
	if err := ensureLogDir("app.log"); err != nil {
		t.Fatalf("relative file in current dir should be noop: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "nested", "logs")
	if err := ensureLogDir(filepath.Join(dir, "render.log")); err != nil {
		t.Fatalf("ensureLogDir failed: %v", err)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Fatalf("expected directory to be created, err=%v", err)
	}
}
