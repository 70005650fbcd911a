package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mudtelnet.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
name: Crystal
port: 5000
idle_timeout: 15m
mtts_requests: 3
mssp_format: Standard
mssp:
  - name: CODEBASE
    value: custom
web:
  enabled: true
  port: 5080
  origins: ["https://play.example.com"]
loggers:
  - level: debug
    stdout: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Crystal" || cfg.Port != 5000 || cfg.IdleTimeout != 15*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MTTSRequests != 3 || cfg.MSSPFormat != MSSPStandard {
		t.Errorf("mtts=%d mssp=%q", cfg.MTTSRequests, cfg.MSSPFormat)
	}
	if len(cfg.MSSP) != 1 || cfg.MSSP[0].Value != "custom" {
		t.Errorf("mssp = %+v", cfg.MSSP)
	}
	if !cfg.Web.Enabled || cfg.Web.Port != 5080 || len(cfg.Web.Origins) != 1 {
		t.Errorf("web = %+v", cfg.Web)
	}
	if len(cfg.Loggers) != 1 || cfg.Loggers[0].Level != "debug" {
		t.Errorf("loggers = %+v", cfg.Loggers)
	}
	// untouched fields keep their defaults
	if cfg.Prompt != "> " || !cfg.EscapeIAC || cfg.Web.RateLimit != 120 {
		t.Errorf("defaults lost: prompt=%q escape=%v rate=%d", cfg.Prompt, cfg.EscapeIAC, cfg.Web.RateLimit)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "port: [", "parsing YAML"},
		{"mtts range", "mtts_requests: 4", "mtts_requests"},
		{"mssp format", "mssp_format: binary", "mssp_format"},
		{"port range", "port: 70000", "out of range"},
		{"negative idle", "idle_timeout: -1s", "idle_timeout"},
	}
	for _, tt := range tests {
		_, err := LoadConfig(writeConfig(t, tt.body))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestWelcomeText(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "Crystal"
	if got := cfg.welcomeText(); !strings.HasPrefix(got, "Welcome to Crystal.") {
		t.Errorf("welcomeText = %q", got)
	}
	cfg.Welcome = "Hello!\r\n"
	if got := cfg.welcomeText(); got != "Hello!\r\n" {
		t.Errorf("welcomeText = %q", got)
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := DefaultConfig()
	if n := len(cfg.sessionOptions()); n != 2 {
		t.Errorf("default options = %d, want 2", n)
	}
	cfg.EscapeIAC = false
	if n := len(cfg.sessionOptions()); n != 1 {
		t.Errorf("options without escaping = %d, want 1", n)
	}
}
