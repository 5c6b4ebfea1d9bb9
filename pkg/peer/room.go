package peer

import (
	"log/slog"
	"net"
	"sync"

	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
)

// RoomSession is the peer's membership in one chat room. The member cache
// is seeded from the join-time member list and updated only by pushed
// member-joined and member-left events; room messages are unicast UDP
// datagrams sent to every cached member.
type RoomSession struct {
	Name string
	self string

	peer     *Peer
	registry *RegistryClient
	datagram *DatagramSocket

	mu      sync.Mutex
	members map[string]model.Member

	onEvent   func(ev protocol.RoomEvent)
	onMessage func(from, text string)

	done      chan struct{}
	leaveOnce sync.Once
}

// JoinRoom joins a room, announcing this peer's endpoints, and starts the
// event and message loops. A peer is in at most one room at a time.
func (p *Peer) JoinRoom(room string) (*RoomSession, error) {
	reg, err := p.registryClient()
	if err != nil {
		return nil, err
	}
	username := p.Username()
	if username == "" {
		return nil, ErrNotLoggedIn
	}
	if p.ActiveRoom() != nil {
		return nil, ErrInRoom
	}

	p.mu.RLock()
	dg := p.datagram
	p.mu.RUnlock()

	// Prefer the port the registry observed on heartbeats; before the first
	// ack the locally bound port is the best guess.
	dport := dg.ObservedPort()
	if dport == 0 {
		dport = dg.LocalPort()
	}

	members, err := reg.JoinRoom(room, username, reg.LocalIP(), p.listenerPort, dport)
	if err != nil {
		return nil, err
	}

	r := &RoomSession{
		Name:      room,
		self:      username,
		peer:      p,
		registry:  reg,
		datagram:  dg,
		members:   make(map[string]model.Member, len(members)),
		onEvent:   p.OnRoomEvent,
		onMessage: p.OnRoomMessage,
		done:      make(chan struct{}),
	}
	for _, m := range members {
		r.members[m.Username] = m
	}

	go r.eventLoop()
	go r.messageLoop()

	p.mu.Lock()
	p.room = r
	p.mu.Unlock()

	slog.Info("joined room", "room", room, "members", len(members))
	return r, nil
}

// Members returns a snapshot of the cached member list.
func (r *RoomSession) Members() []model.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// Broadcast sends one message to every cached member except ourselves,
// fire and forget.
func (r *RoomSession) Broadcast(text string) {
	r.mu.Lock()
	targets := make([]model.Member, 0, len(r.members))
	for _, m := range r.members {
		if m.Username == r.self {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.Unlock()

	for _, m := range targets {
		if err := r.datagram.Send(m.DatagramEndpoint(), text); err != nil {
			slog.Debug("room send failed", "to", m.Username, "err", err)
		}
	}
}

// Leave tells the registry we left and stops both loops. Safe to call more
// than once.
func (r *RoomSession) Leave() error {
	var err error
	r.leaveOnce.Do(func() {
		err = r.registry.LeaveRoom(r.Name, r.self)
		close(r.done)

		p := r.peer
		p.mu.Lock()
		if p.room == r {
			p.room = nil
		}
		p.mu.Unlock()
		slog.Info("left room", "room", r.Name)
	})
	return err
}

// eventLoop applies pushed membership events to the cache.
func (r *RoomSession) eventLoop() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.registry.Events():
			if !ok {
				return // registry connection lost
			}
			if ev.Room != r.Name {
				continue
			}

			r.mu.Lock()
			switch ev.Kind {
			case protocol.EventMemberJoined:
				r.members[ev.Member.Username] = ev.Member
			case protocol.EventMemberLeft:
				delete(r.members, ev.Member.Username)
			}
			r.mu.Unlock()

			if r.onEvent != nil {
				r.onEvent(ev)
			}
		}
	}
}

// messageLoop delivers incoming room datagrams, resolving the sender by its
// source address in the member cache.
func (r *RoomSession) messageLoop() {
	for {
		select {
		case <-r.done:
			return
		case dg, ok := <-r.datagram.Incoming():
			if !ok {
				return // socket closed
			}
			if r.onMessage != nil {
				r.onMessage(r.resolveSender(dg.From), dg.Text)
			}
		}
	}
}

// resolveSender maps a datagram source address to a member username, or the
// address itself for senders not in the cache.
func (r *RoomSession) resolveSender(from *net.UDPAddr) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.DatagramPort == from.Port && net.ParseIP(m.IP).Equal(from.IP) {
			return m.Username
		}
	}
	return from.String()
}
