package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("hello", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["n"] != float64(3) {
		t.Fatalf("n = %v", m["n"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v", m["err"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn to be written")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestServiceApplySwapsSinks(t *testing.T) {
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	defer func() { stdout = prev }()

	svc, log := New(Config{Level: "info", Format: "json", Console: true})
	defer svc.Close()
	comp := log.With(String("comp", "x"))

	comp.Debug("hidden")
	comp.Info("shown", Duration("took", 1500*time.Millisecond))
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["message"] != "shown" || m["comp"] != "x" || m["took"] != "1.5s" {
		t.Fatalf("event = %v", m)
	}

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	buf.Reset()
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	comp.Debug("to file")
	if buf.Len() != 0 {
		t.Fatalf("console should be off, got %q", buf.String())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"message":"to file"`) {
		t.Fatalf("file = %q", b)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":        LevelInfo,
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		" error ": LevelError,
		"loud":    LevelInfo,
		"trace":   LevelTrace,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
