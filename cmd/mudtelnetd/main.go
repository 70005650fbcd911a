package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/crystal-mush/mudtelnet/pkg/capstore"
	"github.com/crystal-mush/mudtelnet/pkg/logging"
	"github.com/crystal-mush/mudtelnet/pkg/server"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("MUDTELNET_CONF", ""), "Path to YAML config file (env: MUDTELNET_CONF)")
	port := flag.Int("port", 0, "TCP port to listen on, overrides config (env: MUDTELNET_PORT)")
	storePath := flag.String("store", envDefault("MUDTELNET_STORE", ""), "Path to capability store, overrides config (env: MUDTELNET_STORE)")
	backup := flag.String("backup", "", "Write a copy of the capability store to this path and exit")
	quiet := flag.Bool("quiet", os.Getenv("MUDTELNET_QUIET") == "true", "Disable logging (env: MUDTELNET_QUIET)")
	flag.Parse()

	if *port == 0 {
		if envPort := os.Getenv("MUDTELNET_PORT"); envPort != "" {
			if p, err := strconv.Atoi(envPort); err == nil {
				*port = p
			}
		}
	}

	cfg := server.DefaultConfig()
	if *confFile != "" {
		loaded, err := server.LoadConfig(*confFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}

	log := logging.Setup(cfg.Loggers, *quiet)
	log.Info("starting", "version", server.VersionString())

	if err := run(log, cfg, *confFile, *backup); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg *server.Config, confFile, backup string) error {
	opts := []server.Option{server.WithLogger(log)}

	if cfg.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return fmt.Errorf("store directory: %w", err)
		}
		store, err := capstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if backup != "" {
			if err := store.Backup(backup); err != nil {
				return err
			}
			log.Info("backup written", "path", backup)
			return nil
		}

		n, _ := store.Count()
		log.Info("capability store open", "path", cfg.Store.Path, "records", n)
		opts = append(opts, server.WithStore(store))
	} else if backup != "" {
		return fmt.Errorf("no capability store configured")
	}

	srv := server.NewServer(cfg, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if confFile != "" {
		if err := srv.WatchConfig(ctx, confFile); err != nil {
			log.Warn("config reload disabled", "err", err)
		}
	}

	return srv.Start(ctx)
}
