package registry

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP peerchat_uptime_seconds Registry uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE peerchat_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "peerchat_uptime_seconds %f\n", uptime)

	write("peerchat_connections_active", "Current active control connections.", "gauge",
		m.ActiveConnections.Load())
	write("peerchat_connections_total", "Lifetime control connections accepted.", "counter",
		m.TotalConnections.Load())

	write("peerchat_accounts_created_total", "Accounts registered.", "counter",
		m.AccountsCreated.Load())
	write("peerchat_logins_total", "Successful logins.", "counter",
		m.Logins.Load())
	write("peerchat_failed_logins_total", "Failed login attempts.", "counter",
		m.FailedLogins.Load())
	write("peerchat_evictions_total", "Peers evicted on missed heartbeat.", "counter",
		m.Evictions.Load())

	write("peerchat_heartbeats_total", "HELLO datagrams accepted.", "counter",
		m.Heartbeats.Load())
	write("peerchat_malformed_commands_total", "Commands that failed to parse.", "counter",
		m.MalformedCommands.Load())

	write("peerchat_rooms_created_total", "Rooms created.", "counter",
		m.RoomsCreated.Load())
	write("peerchat_room_joins_total", "Successful room joins.", "counter",
		m.RoomJoins.Load())
	write("peerchat_room_notifications_total", "Room events pushed to members.", "counter",
		m.NotificationsSent.Load())
}
