package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig reloads the YAML file at path whenever it is written and
// swaps the result in with SetConfig. The listener settings of the running
// server are kept. A file that fails to load is logged and ignored. The
// watcher stops when ctx is cancelled.
func (s *Server) WatchConfig(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("config watcher: %w", err)
	}

	target := filepath.Clean(path)
	log := s.log.With("component", "config", "path", path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reloadConfig(path, log)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", "err", err)
			}
		}
	}()
	return nil
}

func (s *Server) reloadConfig(path string, log *slog.Logger) {
	cfg, err := LoadConfig(path)
	if err != nil {
		log.Warn("reload failed", "err", err)
		return
	}

	old := s.Config()
	cfg.Port = old.Port
	cfg.ProxyProtocol = old.ProxyProtocol
	cfg.Web = old.Web
	cfg.Store = old.Store
	cfg.Loggers = old.Loggers

	s.SetConfig(cfg)
	s.loadHelp(cfg)
	log.Info("configuration reloaded", "name", cfg.Name, "mssp_rows", len(cfg.MSSP))
}
