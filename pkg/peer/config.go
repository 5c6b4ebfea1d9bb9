package peer

import (
	"fmt"
	"time"
)

// Config holds peer configuration. Env variables (PEERCHAT_*) overlay the
// defaults; command-line flags overlay both.
type Config struct {
	RegistryAddr  string `envconfig:"PEERCHAT_REGISTRY_ADDR"`  // registry TCP control plane
	HeartbeatAddr string `envconfig:"PEERCHAT_HEARTBEAT_ADDR"` // registry UDP heartbeat plane

	// Local bind ports. 0 probes a free port.
	ListenerPort int `envconfig:"PEERCHAT_LISTENER_PORT"`
	DatagramPort int `envconfig:"PEERCHAT_DATAGRAM_PORT"`

	HeartbeatInterval time.Duration `envconfig:"PEERCHAT_HEARTBEAT_INTERVAL"`
}

// DefaultConfig returns a config pointed at a local registry.
func DefaultConfig() Config {
	return Config{
		RegistryAddr:      "127.0.0.1:15600",
		HeartbeatAddr:     "127.0.0.1:15500",
		HeartbeatInterval: 20 * time.Second,
	}
}

// Validate checks the config for unusable values.
func (c Config) Validate() error {
	if c.RegistryAddr == "" || c.HeartbeatAddr == "" {
		return fmt.Errorf("peer: registry addresses must be set")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("peer: heartbeat interval must be positive")
	}
	if c.ListenerPort < 0 || c.ListenerPort > 65535 || c.DatagramPort < 0 || c.DatagramPort > 65535 {
		return fmt.Errorf("peer: bind ports must be in 0..65535")
	}
	return nil
}
