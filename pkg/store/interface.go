package store

import (
	"errors"

	"peerchat/pkg/model"
)

// Sentinel errors shared by all DataStore implementations.
var (
	ErrAccountExists = errors.New("store: account already exists")
	ErrNotFound      = errors.New("store: not found")
)

// DataStore is the directory the registry persists through: accounts,
// presence, and room membership. All operations are synchronous and atomic
// per call; the registry's in-memory index is not guaranteed consistent with
// the store across a crash.
//
// Implementations include the default SQLite store and an in-memory store
// for tests.
type DataStore interface {
	// Close closes the underlying storage connection.
	Close() error

	// ---- Accounts ----

	// AccountExists reports whether an account with this username exists.
	AccountExists(username string) (bool, error)

	// RegisterAccount creates an account. Returns ErrAccountExists if the
	// username is taken.
	RegisterAccount(username, passwordHash string) error

	// PasswordHash returns the stored password hash for a username.
	// Returns ErrNotFound if the account does not exist.
	PasswordHash(username string) (string, error)

	// ---- Presence ----

	// IsOnline reports whether a presence record exists for the username.
	IsOnline(username string) (bool, error)

	// SetOnline records a presence entry for a logged-in peer.
	SetOnline(username, ip string, controlPort int) error

	// SetOffline removes a presence entry. Removing an absent entry is a no-op.
	SetOffline(username string) error

	// SetDatagramPort records the heartbeat source port learned for an
	// online peer.
	SetDatagramPort(username string, port int) error

	// Endpoint returns the recorded control endpoint of an online peer.
	// Returns ErrNotFound if the peer is not online.
	Endpoint(username string) (model.Endpoint, error)

	// ClearPresence removes every presence entry. Called at registry startup
	// so records orphaned by a crash do not read as online peers.
	ClearPresence() error

	// ---- Rooms ----

	// RoomExists reports whether a room with this name exists.
	RoomExists(room string) (bool, error)

	// CreateRoom creates a room. Creating an existing room is a no-op; the
	// returned bool is true only when the room was actually created.
	CreateRoom(room string) (bool, error)

	// AddMember adds a member to a room. Returns ErrNotFound if the room
	// does not exist; adding an existing member is a no-op.
	AddMember(room string, member model.Member) error

	// RemoveMember removes a member from a room. Removing an absent member
	// is a no-op, not a fault.
	RemoveMember(room, username string) error

	// ListMembers returns a room's members. Returns ErrNotFound if the room
	// does not exist.
	ListMembers(room string) ([]model.Member, error)

	// ListRoomNames returns all room names.
	ListRoomNames() ([]string, error)
}

// Compile-time checks: both implementations satisfy DataStore.
var _ DataStore = (*Store)(nil)
var _ DataStore = (*MemoryStore)(nil)
