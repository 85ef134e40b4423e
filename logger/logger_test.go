package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatFields(t *testing.T) {
	got := FormatFields([]Field{
		String("file", "sli.robot"),
		String("title", "Check pods"),
		Int("tasks", 3),
		Strings("kinds", []string{"a", "b"}),
	})
	want := ` file=sli.robot title="Check pods" tasks=3 kinds=a,b`
	if got != want {
		t.Errorf("FormatFields = %q, want %q", got, want)
	}
}

func TestConsoleLogger_LevelFilterAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsole(&buf, LevelInfo, false).WithFields(String("run", "r1"))

	log.Debug("hidden")
	log.Info("analysis.started", Int("files", 2))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[INFO ] analysis.started run=r1 files=2") {
		t.Errorf("unexpected console output: %q", out)
	}
}

func TestStructuredLogger_WritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewStructuredWriter(&buf, LevelDebug)
	log.WithFields(String("file", "a.robot")).Warn("patch.conflict", Err(errors.New("stale span")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "patch.conflict" || entry["level"] != "WARN" {
		t.Errorf("entry = %v", entry)
	}
	if entry["file"] != "a.robot" || entry["error"] != "stale span" {
		t.Errorf("fields missing: %v", entry)
	}
}

func TestMulti_ClosesAll(t *testing.T) {
	var a, b bytes.Buffer
	log := Multi(NewStructuredWriter(&a, LevelInfo), NewStructuredWriter(&b, LevelInfo))
	log.Info("x")
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatal("expected both sinks to receive the entry")
	}
	if err := log.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
