package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"peerchat/pkg/logging"
	"peerchat/pkg/registry"
	"peerchat/pkg/store"
)

func main() {
	// Defaults, then PEERCHAT_* env overlay, then flags on top.
	cfg := registry.DefaultConfig()
	_ = godotenv.Load()
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ControlAddr, "control", cfg.ControlAddr, "TCP control plane bind address")
	flag.StringVar(&cfg.HeartbeatAddr, "heartbeat", cfg.HeartbeatAddr, "UDP heartbeat plane bind address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.RoomsFile, "rooms-file", cfg.RoomsFile, "YAML file defining rooms to create on startup")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.DurationVar(&cfg.InitialTimeout, "initial-timeout", cfg.InitialTimeout, "Window for a peer's first heartbeat after login")
	flag.DurationVar(&cfg.SteadyTimeout, "steady-timeout", cfg.SteadyTimeout, "Window between heartbeats before eviction")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	srv := registry.New(cfg, registry.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("registry error", "err", err)
		os.Exit(1)
	}
}
