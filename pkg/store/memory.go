package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"peerchat/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	accounts map[string]*model.Account
	presence map[string]*presenceRow
	rooms    map[string]*memoryRoom
}

type presenceRow struct {
	ip           string
	controlPort  int
	datagramPort int
}

type memoryRoom struct {
	createdAt time.Time
	members   map[string]model.Member
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:      now,
		accounts: make(map[string]*model.Account),
		presence: make(map[string]*presenceRow),
		rooms:    make(map[string]*memoryRoom),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// AccountExists reports whether an account with this username exists.
func (s *MemoryStore) AccountExists(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[username]
	return ok, nil
}

// RegisterAccount creates an account.
func (s *MemoryStore) RegisterAccount(username, passwordHash string) error {
	if err := model.ValidateUsername(username); err != nil {
		return fmt.Errorf("store: register account: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[username]; exists {
		return ErrAccountExists
	}
	s.accounts[username] = &model.Account{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	return nil
}

// PasswordHash returns the stored password hash for a username.
func (s *MemoryStore) PasswordHash(username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[username]
	if !ok {
		return "", ErrNotFound
	}
	return acct.PasswordHash, nil
}

// IsOnline reports whether a presence record exists for the username.
func (s *MemoryStore) IsOnline(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.presence[username]
	return ok, nil
}

// SetOnline records a presence entry for a logged-in peer.
func (s *MemoryStore) SetOnline(username, ip string, controlPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[username] = &presenceRow{ip: ip, controlPort: controlPort}
	return nil
}

// SetOffline removes a presence entry.
func (s *MemoryStore) SetOffline(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presence, username)
	return nil
}

// SetDatagramPort records the heartbeat source port for an online peer.
func (s *MemoryStore) SetDatagramPort(username string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.presence[username]; ok {
		row.datagramPort = port
	}
	return nil
}

// Endpoint returns the recorded control endpoint of an online peer.
func (s *MemoryStore) Endpoint(username string) (model.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.presence[username]
	if !ok {
		return model.Endpoint{}, ErrNotFound
	}
	return model.Endpoint{IP: row.ip, Port: row.controlPort}, nil
}

// ClearPresence removes every presence entry.
func (s *MemoryStore) ClearPresence() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = make(map[string]*presenceRow)
	return nil
}

// RoomExists reports whether a room with this name exists.
func (s *MemoryStore) RoomExists(room string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok, nil
}

// CreateRoom creates a room idempotently.
func (s *MemoryStore) CreateRoom(room string) (bool, error) {
	if err := model.ValidateRoomName(room); err != nil {
		return false, fmt.Errorf("store: create room: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room]; exists {
		return false, nil
	}
	s.rooms[room] = &memoryRoom{
		createdAt: s.now(),
		members:   make(map[string]model.Member),
	}
	return true, nil
}

// AddMember adds a member to a room.
func (s *MemoryStore) AddMember(room string, member model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrNotFound
	}
	if _, exists := r.members[member.Username]; !exists {
		r.members[member.Username] = member
	}
	return nil
}

// RemoveMember removes a member from a room.
func (s *MemoryStore) RemoveMember(room, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[room]; ok {
		delete(r.members, username)
	}
	return nil
}

// ListMembers returns a room's members sorted by username.
func (s *MemoryStore) ListMembers(room string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok {
		return nil, ErrNotFound
	}
	members := make([]model.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })
	return members, nil
}

// ListRoomNames returns all room names in creation order.
func (s *MemoryStore) ListRoomNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := s.rooms[names[i]], s.rooms[names[j]]
		if !ri.createdAt.Equal(rj.createdAt) {
			return ri.createdAt.Before(rj.createdAt)
		}
		return names[i] < names[j]
	})
	return names, nil
}
