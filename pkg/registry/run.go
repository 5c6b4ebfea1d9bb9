package registry

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts the registry and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("registry: missing store dependency")
	}
	defer func() { _ = s.store.Close() }()

	// Presence rows may survive a crash; nobody is online at startup.
	if err := s.store.ClearPresence(); err != nil {
		return fmt.Errorf("registry: clear presence: %w", err)
	}

	// Load room bootstrap from YAML config if provided
	if s.cfg.RoomsFile != "" {
		if err := LoadRoomsFromYAML(s.cfg.RoomsFile, s.store); err != nil {
			slog.Error("failed to load rooms config", "err", err)
		}
	}

	// Start listeners
	if err := s.StartControl(); err != nil {
		return err
	}
	if err := s.StartHeartbeat(); err != nil {
		return err
	}

	slog.Info("registry running",
		"control", s.cfg.ControlAddr,
		"heartbeat", s.cfg.HeartbeatAddr,
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the registry.
func (s *Server) Shutdown() {
	s.cancel()
	if s.controlLn != nil {
		_ = s.controlLn.Close()
	}
	if s.heartbeatConn != nil {
		_ = s.heartbeatConn.Close()
	}

	// Stop liveness timers so evictions don't fire during teardown.
	s.mu.Lock()
	for _, rec := range s.peers {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	s.mu.Unlock()
}
