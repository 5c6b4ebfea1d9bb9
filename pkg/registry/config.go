package registry

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"peerchat/pkg/store"
)

// Config holds registry configuration. Env variables (PEERCHAT_*) overlay the
// defaults; command-line flags overlay both.
type Config struct {
	ControlAddr   string `envconfig:"PEERCHAT_CONTROL_ADDR"`   // TCP bind address for the control plane
	HeartbeatAddr string `envconfig:"PEERCHAT_HEARTBEAT_ADDR"` // UDP bind address for heartbeats
	MetricsAddr   string `envconfig:"PEERCHAT_METRICS_ADDR"`   // HTTP bind address for /metrics (empty = disabled)
	DBPath        string `envconfig:"PEERCHAT_DB"`             // SQLite database path
	RoomsFile     string `envconfig:"PEERCHAT_ROOMS_FILE"`     // YAML file defining rooms to create on startup

	// Liveness tuning. A peer gets InitialTimeout to produce its first
	// heartbeat after login, then SteadyTimeout after each one. Peers are
	// expected to send heartbeats every HeartbeatInterval.
	HeartbeatInterval time.Duration `envconfig:"PEERCHAT_HEARTBEAT_INTERVAL"`
	InitialTimeout    time.Duration `envconfig:"PEERCHAT_INITIAL_TIMEOUT"`
	SteadyTimeout     time.Duration `envconfig:"PEERCHAT_STEADY_TIMEOUT"`

	// Per-connection command rate limit.
	CommandRate  float64 `envconfig:"PEERCHAT_COMMAND_RATE"`
	CommandBurst int     `envconfig:"PEERCHAT_COMMAND_BURST"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ControlAddr:       ":15600",
		HeartbeatAddr:     ":15500",
		MetricsAddr:       ":15602",
		DBPath:            "peerchat.db",
		HeartbeatInterval: 20 * time.Second,
		InitialTimeout:    80 * time.Second,
		SteadyTimeout:     30 * time.Second,
		CommandRate:       20,
		CommandBurst:      40,
	}
}

// Validate checks the liveness tuning for values that would evict healthy peers.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("registry: heartbeat interval must be positive")
	}
	if c.SteadyTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("registry: steady timeout %s must exceed heartbeat interval %s",
			c.SteadyTimeout, c.HeartbeatInterval)
	}
	if c.InitialTimeout < c.SteadyTimeout {
		return fmt.Errorf("registry: initial timeout %s must be at least the steady timeout %s",
			c.InitialTimeout, c.SteadyTimeout)
	}
	return nil
}

// RoomYAML represents a room in the bootstrap YAML config.
type RoomYAML struct {
	Name string `yaml:"name"`
}

// RoomsConfig is the top-level YAML config for bootstrap rooms.
type RoomsConfig struct {
	Rooms []RoomYAML `yaml:"rooms"`
}

// LoadRoomsFromYAML reads a rooms YAML file and creates the rooms in the
// store. Creation is idempotent, so re-running at every startup is safe.
func LoadRoomsFromYAML(path string, st store.DataStore) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from server config
	if err != nil {
		return fmt.Errorf("registry: read rooms config: %w", err)
	}

	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("registry: parse rooms config: %w", err)
	}

	created := 0
	for _, room := range cfg.Rooms {
		ok, err := st.CreateRoom(room.Name)
		if err != nil {
			slog.Error("failed to create room from config", "room", room.Name, "err", err)
			continue
		}
		if ok {
			created++
		}
	}

	slog.Info("imported rooms from YAML", "configured", len(cfg.Rooms), "created", created)
	return nil
}
