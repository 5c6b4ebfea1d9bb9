// Package store provides SQLite-backed persistence for accounts, presence,
// and room membership.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"peerchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store provides SQLite-backed directory access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		username      TEXT PRIMARY KEY CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS online_peers (
		username      TEXT PRIMARY KEY,
		ip            TEXT    NOT NULL,
		control_port  INTEGER NOT NULL,
		datagram_port INTEGER NOT NULL DEFAULT 0,
		logged_in_at  TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS rooms (
		name       TEXT PRIMARY KEY CHECK(length(name) > 0 AND length(name) <= 64),
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room          TEXT    NOT NULL REFERENCES rooms(name) ON DELETE CASCADE,
		username      TEXT    NOT NULL,
		ip            TEXT    NOT NULL,
		control_port  INTEGER NOT NULL,
		datagram_port INTEGER NOT NULL,
		PRIMARY KEY (room, username)
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: migrate: %w", err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("store: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("store: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("store: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

// ---- Accounts ----

// AccountExists reports whether an account with this username exists.
func (s *Store) AccountExists(username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: account exists: %w", err)
	}
	return count > 0, nil
}

// RegisterAccount creates an account.
func (s *Store) RegisterAccount(username, passwordHash string) error {
	if err := model.ValidateUsername(username); err != nil {
		return fmt.Errorf("store: register account: %w", err)
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO accounts (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, formatDBTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: register account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountExists
	}
	return nil
}

// PasswordHash returns the stored password hash for a username.
func (s *Store) PasswordHash(username string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT password_hash FROM accounts WHERE username = ?", username).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: password hash: %w", err)
	}
	return hash, nil
}

// ---- Presence ----

// IsOnline reports whether a presence record exists for the username.
func (s *Store) IsOnline(username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM online_peers WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: is online: %w", err)
	}
	return count > 0, nil
}

// SetOnline records a presence entry for a logged-in peer.
func (s *Store) SetOnline(username, ip string, controlPort int) error {
	_, err := s.db.ExecContext(context.Background(),
		"INSERT OR REPLACE INTO online_peers (username, ip, control_port, datagram_port, logged_in_at) VALUES (?, ?, ?, 0, ?)",
		username, ip, controlPort, formatDBTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: set online: %w", err)
	}
	return nil
}

// SetOffline removes a presence entry.
func (s *Store) SetOffline(username string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM online_peers WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("store: set offline: %w", err)
	}
	return nil
}

// SetDatagramPort records the heartbeat source port for an online peer.
func (s *Store) SetDatagramPort(username string, port int) error {
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE online_peers SET datagram_port = ? WHERE username = ?", port, username)
	if err != nil {
		return fmt.Errorf("store: set datagram port: %w", err)
	}
	return nil
}

// Endpoint returns the recorded control endpoint of an online peer.
func (s *Store) Endpoint(username string) (model.Endpoint, error) {
	var ep model.Endpoint
	err := s.db.QueryRowContext(context.Background(),
		"SELECT ip, control_port FROM online_peers WHERE username = ?", username).Scan(&ep.IP, &ep.Port)
	if err == sql.ErrNoRows {
		return model.Endpoint{}, ErrNotFound
	}
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("store: endpoint: %w", err)
	}
	return ep, nil
}

// ClearPresence removes every presence entry.
func (s *Store) ClearPresence() error {
	_, err := s.db.ExecContext(context.Background(), "DELETE FROM online_peers")
	if err != nil {
		return fmt.Errorf("store: clear presence: %w", err)
	}
	return nil
}

// ---- Rooms ----

// RoomExists reports whether a room with this name exists.
func (s *Store) RoomExists(room string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM rooms WHERE name = ?", room).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: room exists: %w", err)
	}
	return count > 0, nil
}

// CreateRoom creates a room idempotently.
func (s *Store) CreateRoom(room string) (bool, error) {
	if err := model.ValidateRoomName(room); err != nil {
		return false, fmt.Errorf("store: create room: %w", err)
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO rooms (name, created_at) VALUES (?, ?)",
		room, formatDBTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("store: create room: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AddMember adds a member to a room.
func (s *Store) AddMember(room string, member model.Member) error {
	exists, err := s.RoomExists(room)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO room_members (room, username, ip, control_port, datagram_port) VALUES (?, ?, ?, ?, ?)",
		room, member.Username, member.IP, member.ControlPort, member.DatagramPort)
	if err != nil {
		return fmt.Errorf("store: add member: %w", err)
	}
	return nil
}

// RemoveMember removes a member from a room.
func (s *Store) RemoveMember(room, username string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM room_members WHERE room = ? AND username = ?", room, username)
	if err != nil {
		return fmt.Errorf("store: remove member: %w", err)
	}
	return nil
}

// ListMembers returns a room's members.
func (s *Store) ListMembers(room string) ([]model.Member, error) {
	exists, err := s.RoomExists(room)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(context.Background(),
		"SELECT username, ip, control_port, datagram_port FROM room_members WHERE room = ? ORDER BY username", room)
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.Username, &m.IP, &m.ControlPort, &m.DatagramPort); err != nil {
			return nil, fmt.Errorf("store: list members: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	return members, nil
}

// ListRoomNames returns all room names.
func (s *Store) ListRoomNames() ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT name FROM rooms ORDER BY created_at, name")
	if err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: list rooms: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	return names, nil
}
