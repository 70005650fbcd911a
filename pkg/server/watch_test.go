package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mudtelnet.yaml")
	if err := os.WriteFile(path, []byte("name: Before\nport: 4000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(cfg, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.WatchConfig(ctx, path); err != nil {
		t.Fatal(err)
	}

	// a broken file is ignored
	os.WriteFile(path, []byte("port: ["), 0o644)
	if err := os.WriteFile(path, []byte("name: After\nport: 5999\nprompt: \"$ \"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool { return s.Config().Name == "After" }, "reload")
	got := s.Config()
	if got.Prompt != "$ " {
		t.Errorf("prompt = %q", got.Prompt)
	}
	if got.Port != 4000 {
		t.Errorf("listener port changed on reload: %d", got.Port)
	}
}
