// Package logging builds the slog logger used by the daemon.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LoggerConfig describes one log sink.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Stdout     bool   `yaml:"stdout"`
	File       string `yaml:"file"`
	Source     bool   `yaml:"source"`
	HideTime   bool   `yaml:"hide_time"`
	TimeFormat string `yaml:"time_format"`
}

// Setup builds a logger writing to every configured sink and installs it as
// the slog default. With no sinks it logs info and above to stdout.
func Setup(configs []LoggerConfig, quiet bool) *slog.Logger {
	if quiet {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var handlers []slog.Handler
	for _, cfg := range configs {
		handlers = append(handlers, newHandler(cfg, os.Stdout)...)
	}

	var logger *slog.Logger
	switch len(handlers) {
	case 0:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
			TimeFormat: time.TimeOnly,
		}))
	case 1:
		logger = slog.New(handlers[0])
	default:
		logger = slog.New(NewFanout(handlers...))
	}

	slog.SetDefault(logger)
	return logger
}

func newHandler(cfg LoggerConfig, stdout *os.File) []slog.Handler {
	level := ParseLevel(cfg.Level)

	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if cfg.HideTime && a.Key == slog.TimeKey && len(groups) == 0 {
			return slog.Attr{}
		}
		return a
	}

	timeFormat := time.TimeOnly
	if cfg.TimeFormat != "" {
		timeFormat = cfg.TimeFormat
	}

	var handlers []slog.Handler
	if cfg.Stdout {
		handlers = append(handlers, tint.NewHandler(stdout, &tint.Options{
			NoColor:     !isatty.IsTerminal(stdout.Fd()),
			Level:       level,
			AddSource:   cfg.Source,
			ReplaceAttr: replaceAttr,
			TimeFormat:  timeFormat,
		}))
	}

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("logging: create directory %s: %v", dir, err)
			return handlers
		}
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("logging: open %s: %v", cfg.File, err)
			return handlers
		}
		handlers = append(handlers, tint.NewHandler(file, &tint.Options{
			NoColor:     true,
			Level:       level,
			AddSource:   cfg.Source,
			ReplaceAttr: replaceAttr,
			TimeFormat:  timeFormat,
		}))
	}
	return handlers
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
