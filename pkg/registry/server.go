// Package registry implements the peerchat rendezvous service: the account
// directory, the online-peer presence index, and chat-room membership.
//
// Chat payloads never pass through the registry. It only brokers the control
// plane: registration, login, presence lookups, room membership, and the
// heartbeat-based liveness that evicts silent peers.
package registry

import (
	"context"
	"net"
	"sync"
	"time"

	"peerchat/pkg/store"
)

// Server is the registry process: one TCP control listener, one UDP
// heartbeat listener, and the shared presence index.
type Server struct {
	cfg     Config
	store   store.DataStore
	metrics *Metrics

	// mu guards peers and serializes every iterate-and-notify sequence:
	// room join/leave fan-out, the offline cascade, and liveness eviction.
	// Eviction and explicit logout both funnel through goOffline under this
	// lock, so a peer can never be cascaded twice.
	mu    sync.Mutex
	peers map[string]*PresenceRecord

	controlLn     net.Listener
	heartbeatConn *net.UDPConn

	ctx    context.Context
	cancel context.CancelFunc
}

// Dependencies holds external dependencies for the registry. The registry
// assumes ownership of Store and closes it on shutdown.
type Dependencies struct {
	Store store.DataStore
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		store:   deps.Store,
		metrics: NewMetrics(),
		peers:   make(map[string]*PresenceRecord),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// OnlineUsernames returns a snapshot of the usernames in the presence index.
func (s *Server) OnlineUsernames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.peers))
	for name := range s.peers {
		names = append(names, name)
	}
	return names
}

// IsOnline reports whether a username has a presence record.
func (s *Server) IsOnline(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[username]
	return ok
}

// livenessTimeout returns the eviction window to arm: the generous initial
// window before the first heartbeat, the steady window after.
func (s *Server) livenessTimeout(heartbeatSeen bool) time.Duration {
	if heartbeatSeen {
		return s.cfg.SteadyTimeout
	}
	return s.cfg.InitialTimeout
}
