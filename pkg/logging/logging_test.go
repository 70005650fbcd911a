package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFanout(t *testing.T) {
	var info, debug bytes.Buffer
	h := NewFanout(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("conn", 7)

	logger.Debug("negotiation", "cmd", "WILL")
	logger.Info("connected")

	if strings.Contains(info.String(), "negotiation") {
		t.Error("info handler received a debug record")
	}
	if !strings.Contains(info.String(), "connected") || !strings.Contains(info.String(), "conn=7") {
		t.Errorf("info output = %q", info.String())
	}
	if !strings.Contains(debug.String(), "cmd=WILL") {
		t.Errorf("debug output = %q", debug.String())
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("fanout should be enabled if any handler is")
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mud.log")
	hs := newHandler(LoggerConfig{Level: "debug", File: path, HideTime: true}, os.Stdout)
	if len(hs) != 1 {
		t.Fatalf("got %d handlers, want 1", len(hs))
	}
	slog.New(hs[0]).Debug("hello", "addr", "192.0.2.1")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(string(data), "addr=192.0.2.1") {
		t.Errorf("log file = %q", data)
	}
}
