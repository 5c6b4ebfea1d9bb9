// Package peer implements the peerchat peer process: the registry client,
// the session listener that answers incoming chat requests, the initiator
// that opens outgoing ones, and room fan-out over UDP.
//
// A peer holds at most one active chat session and at most one room at a
// time. The busy state is a single atomic slot shared by the listener and
// the initiator, so simultaneous incoming and outgoing requests cannot both
// win.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
)

var (
	ErrNotLoggedIn = errors.New("peer: not logged in")
	ErrBusy        = errors.New("peer: already in a chat session")
	ErrInRoom      = errors.New("peer: already in a room")
	ErrSelfChat    = errors.New("peer: cannot chat with yourself")
)

// Peer wires the registry client, the session listener, the datagram socket,
// and the active session/room together.
type Peer struct {
	cfg Config

	mu           sync.RWMutex
	username     string
	registry     *RegistryClient
	datagram     *DatagramSocket
	listener     net.Listener
	listenerPort int
	session      *ChatSession
	room         *RoomSession
	hbCancel     context.CancelFunc

	slot sessionSlot

	// Callbacks for the interactive frontend.
	OnChatRequest func(req *IncomingChat)
	OnMessage     func(from, text string)
	OnSessionEnd  func(remote string, reason EndReason)
	OnRoomEvent   func(ev protocol.RoomEvent)
	OnRoomMessage func(from, text string)
}

// New creates a peer. Connect must be called before anything else.
func New(cfg Config) *Peer {
	return &Peer{cfg: cfg}
}

// Connect dials the registry control plane.
func (p *Peer) Connect() error {
	reg, err := DialRegistry(p.cfg.RegistryAddr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.registry = reg
	p.mu.Unlock()
	return nil
}

// Done returns a channel closed when the registry connection is lost.
func (p *Peer) Done() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.registry == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.registry.Done()
}

// CreateAccount registers a new account with the registry.
func (p *Peer) CreateAccount(username, password string) error {
	reg, err := p.registryClient()
	if err != nil {
		return err
	}
	return reg.CreateAccount(username, password)
}

// Login authenticates, brings up the session listener and the datagram
// socket, and starts heartbeating.
func (p *Peer) Login(username, password string) error {
	reg, err := p.registryClient()
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.username != "" {
		p.mu.Unlock()
		return fmt.Errorf("peer: already logged in as %s", p.username)
	}
	p.mu.Unlock()

	if err := p.startListener(); err != nil {
		return err
	}

	dg, err := OpenDatagram(p.cfg.DatagramPort, p.cfg.HeartbeatAddr, p.cfg.HeartbeatInterval)
	if err != nil {
		return err
	}

	if err := reg.Login(username, password, p.listenerPort); err != nil {
		_ = dg.Close()
		return err
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())
	dg.StartHeartbeat(hbCtx, username)

	p.mu.Lock()
	p.username = username
	p.datagram = dg
	p.hbCancel = hbCancel
	p.mu.Unlock()

	slog.Info("logged in", "user", username,
		"listener_port", p.listenerPort, "datagram_port", dg.LocalPort())
	return nil
}

// Logout tears everything down in order: active chat, room membership,
// heartbeats, then the registry session itself.
func (p *Peer) Logout() error {
	reg, err := p.registryClient()
	if err != nil {
		return err
	}

	if s := p.ActiveSession(); s != nil {
		s.Quit()
	}
	if r := p.ActiveRoom(); r != nil {
		if err := r.Leave(); err != nil {
			slog.Warn("leave room on logout failed", "room", r.Name, "err", err)
		}
	}

	p.mu.Lock()
	username := p.username
	p.username = ""
	p.session = nil
	p.room = nil
	if p.hbCancel != nil {
		p.hbCancel()
		p.hbCancel = nil
	}
	dg := p.datagram
	p.datagram = nil
	p.mu.Unlock()

	if dg != nil {
		_ = dg.Close()
	}
	if username == "" {
		return ErrNotLoggedIn
	}

	err = reg.Logout()
	slog.Info("logged out", "user", username)
	return err
}

// Username returns the logged-in username, or "".
func (p *Peer) Username() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username
}

// State returns the one-to-one chat state.
func (p *Peer) State() SessionState {
	return p.slot.State()
}

// ActiveSession returns the current chat session, or nil.
func (p *Peer) ActiveSession() *ChatSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// ActiveRoom returns the current room session, or nil.
func (p *Peer) ActiveRoom() *RoomSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.room
}

// Search resolves a username to its session-listener endpoint.
func (p *Peer) Search(username string) (model.Endpoint, error) {
	reg, err := p.registryClient()
	if err != nil {
		return model.Endpoint{}, err
	}
	return reg.Search(username)
}

// ListOnline returns the usernames currently online.
func (p *Peer) ListOnline() ([]string, error) {
	reg, err := p.registryClient()
	if err != nil {
		return nil, err
	}
	return reg.ListOnline()
}

// ListRooms returns every room name.
func (p *Peer) ListRooms() ([]string, error) {
	reg, err := p.registryClient()
	if err != nil {
		return nil, err
	}
	return reg.ListRooms()
}

// DatagramPort returns the datagram port the registry has recorded for this
// peer, or 0 while no heartbeat has been observed yet.
func (p *Peer) DatagramPort() (int, error) {
	reg, err := p.registryClient()
	if err != nil {
		return 0, err
	}
	return reg.DatagramPort()
}

// CreateRoom creates a room on the registry.
func (p *Peer) CreateRoom(room string) error {
	reg, err := p.registryClient()
	if err != nil {
		return err
	}
	return reg.CreateRoom(room)
}

// Close shuts the peer down. Safe to call whether or not logged in.
func (p *Peer) Close() {
	p.mu.Lock()
	reg := p.registry
	dg := p.datagram
	ln := p.listener
	if p.hbCancel != nil {
		p.hbCancel()
		p.hbCancel = nil
	}
	p.registry = nil
	p.datagram = nil
	p.listener = nil
	p.mu.Unlock()

	if dg != nil {
		_ = dg.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	if reg != nil {
		_ = reg.Close()
	}
}

func (p *Peer) registryClient() (*RegistryClient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.registry == nil {
		return nil, fmt.Errorf("peer: not connected to registry")
	}
	return p.registry, nil
}

// setSession installs the active chat session.
func (p *Peer) setSession(s *ChatSession) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

// sessionEnded clears the active session and forwards the end event.
func (p *Peer) sessionEnded(remote string, reason EndReason) {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	if p.OnSessionEnd != nil {
		p.OnSessionEnd(remote, reason)
	}
}
