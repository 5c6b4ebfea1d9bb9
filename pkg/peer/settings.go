package peer

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings stores interactive-frontend preferences persisted as YAML next
// to the binary.
type Settings struct {
	RegistryAddr  string `yaml:"registry_addr,omitempty"`
	HeartbeatAddr string `yaml:"heartbeat_addr,omitempty"`
	LastUsername  string `yaml:"last_username,omitempty"`
}

func settingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "peer.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "peer.yaml")
}

// LoadSettings loads settings from YAML or returns an empty set.
func LoadSettings() *Settings {
	s := &Settings{}
	data, err := os.ReadFile(settingsPath())
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse peer settings", "err", err)
		return &Settings{}
	}
	return s
}

// Save writes settings to YAML.
func (s *Settings) Save() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath(), data, 0600)
}
