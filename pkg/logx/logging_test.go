package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, string(b))
	}
	return m
}

func TestJSONLoggerWritesDomainFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWriterLogger(&buf, "debug", true).With(Component("sweep"), WillID("w-1"))
	log.Info("will triggered", CharacterID("c-1"), OutboxID("obx-1"), Int("timeout_hours", 24), Err(errors.New("boom")))

	m := decodeLine(t, buf.Bytes())
	want := map[string]any{
		"message":       "will triggered",
		KeyComponent:    "sweep",
		KeyWill:         "w-1",
		KeyCharacter:    "c-1",
		KeyOutbox:       "obx-1",
		"timeout_hours": float64(24),
		"err":           "boom",
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("%s = %v, want %v (line %v)", k, m[k], v, m)
		}
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWriterLogger(&buf, "warn", true)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug must not be enabled at warn level")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error must be enabled at warn level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("no panic")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not zero")
	}
}

func TestServiceApplyFollowsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alive.log")
	svc, root := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log := root.With(Component("relay"))
	log.Debug("dropped at info")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("kept after reload", OutboxID("obx-9"))

	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	m := decodeLine(t, []byte(lines[0]))
	if m["message"] != "kept after reload" || m[KeyComponent] != "relay" || m[KeyOutbox] != "obx-9" {
		t.Fatalf("line = %v", m)
	}
}
