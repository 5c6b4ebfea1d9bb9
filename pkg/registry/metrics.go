package registry

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks registry runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime control connections accepted
	ActiveConnections atomic.Int64 // current active control connections

	// Directory counters
	AccountsCreated atomic.Int64 // accounts registered during this run
	Logins          atomic.Int64 // successful logins
	FailedLogins    atomic.Int64 // wrong password or unknown account
	Evictions       atomic.Int64 // peers evicted on missed heartbeat

	// Traffic counters
	Heartbeats        atomic.Int64 // HELLO datagrams accepted
	MalformedCommands atomic.Int64 // commands that failed to parse

	// Room counters
	RoomsCreated      atomic.Int64 // rooms created during this run
	RoomJoins         atomic.Int64 // successful room joins
	NotificationsSent atomic.Int64 // room events pushed to members
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`

	AccountsCreated int64 `json:"accounts_created"`
	Logins          int64 `json:"logins"`
	FailedLogins    int64 `json:"failed_logins"`
	Evictions       int64 `json:"evictions"`

	Heartbeats        int64 `json:"heartbeats"`
	MalformedCommands int64 `json:"malformed_commands"`

	RoomsCreated      int64 `json:"rooms_created"`
	RoomJoins         int64 `json:"room_joins"`
	NotificationsSent int64 `json:"notifications_sent"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		AccountsCreated:   m.AccountsCreated.Load(),
		Logins:            m.Logins.Load(),
		FailedLogins:      m.FailedLogins.Load(),
		Evictions:         m.Evictions.Load(),
		Heartbeats:        m.Heartbeats.Load(),
		MalformedCommands: m.MalformedCommands.Load(),
		RoomsCreated:      m.RoomsCreated.Load(),
		RoomJoins:         m.RoomJoins.Load(),
		NotificationsSent: m.NotificationsSent.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"logins", s.Logins,
		"failed_logins", s.FailedLogins,
		"evictions", s.Evictions,
		"heartbeats", s.Heartbeats,
		"rooms_created", s.RoomsCreated,
		"room_joins", s.RoomJoins,
		"notifications", s.NotificationsSent,
	)
}

// StartPeriodicLog logs a metrics summary at the given interval until done
// is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
