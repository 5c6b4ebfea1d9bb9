package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"peerchat/pkg/store"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.SteadyTimeout = bad.HeartbeatInterval
	if err := bad.Validate(); err == nil {
		t.Fatalf("steady timeout equal to heartbeat interval must be rejected")
	}

	bad = DefaultConfig()
	bad.InitialTimeout = 10 * time.Second
	if err := bad.Validate(); err == nil {
		t.Fatalf("initial timeout below steady timeout must be rejected")
	}
}

func TestLoadRoomsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	data := `rooms:
  - name: lobby
  - name: dev
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write rooms file: %v", err)
	}

	st := store.NewMemory()
	if err := LoadRoomsFromYAML(path, st); err != nil {
		t.Fatalf("LoadRoomsFromYAML: %v", err)
	}

	names, err := st.ListRoomNames()
	if err != nil {
		t.Fatalf("ListRoomNames: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 rooms, got %v", names)
	}

	// Re-importing the same file creates nothing new.
	if err := LoadRoomsFromYAML(path, st); err != nil {
		t.Fatalf("second LoadRoomsFromYAML: %v", err)
	}
	names, _ = st.ListRoomNames()
	if len(names) != 2 {
		t.Fatalf("import must be idempotent, got %v", names)
	}
}
