package registry

import (
	"log/slog"
	"time"

	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
)

// PresenceRecord is one online peer in the in-memory index. The record
// references (but does not own) the session handler serving the peer's
// control connection; the liveness timer is owned by the record and lives
// exactly as long as it.
type PresenceRecord struct {
	Username     string
	IP           string
	ControlPort  int
	DatagramPort int // 0 until the first heartbeat reveals it

	handler *sessionHandler
	timer   *time.Timer
}

// resetLiveness rearms a peer's monitor after a heartbeat and records the
// datagram source port the first time it is seen. Returns false for
// usernames with no presence record; their heartbeats are ignored.
func (s *Server) resetLiveness(username string, datagramPort int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.peers[username]
	if !ok {
		return false
	}
	if rec.DatagramPort == 0 && datagramPort > 0 {
		rec.DatagramPort = datagramPort
		if err := s.store.SetDatagramPort(username, datagramPort); err != nil {
			slog.Error("record datagram port", "user", username, "err", err)
		}
		slog.Debug("learned datagram port", "user", username, "port", datagramPort)
	}
	rec.timer.Reset(s.livenessTimeout(true))
	return true
}

// datagramPortOf returns the recorded heartbeat source port, or 0.
func (s *Server) datagramPortOf(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.peers[username]; ok {
		return rec.DatagramPort
	}
	return 0
}

// evict runs when a peer's liveness monitor expires. It is the missed
// heartbeat counterpart of an explicit logout: same cascade, then the
// control socket is closed so the handler's blocked read unsticks.
func (s *Server) evict(username string, h *sessionHandler) {
	if !s.goOffline(username, h) {
		return // already logged out; timer fired during teardown
	}
	s.metrics.Evictions.Add(1)
	slog.Info("peer evicted on missed heartbeat", "user", username)
	_ = h.conn.Close()
}

// goOffline runs the offline cascade for a peer: drop the presence record,
// cancel the monitor, mark offline in the store, and leave every room with
// member-left notifications. The handler pointer identifies which session
// the caller believes it is ending; a stale handler (the username already
// re-logged-in or was already cascaded) makes the call a no-op.
//
// Returns true if this call performed the cascade.
func (s *Server) goOffline(username string, h *sessionHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.peers[username]
	if !ok || (h != nil && rec.handler != h) {
		return false
	}
	delete(s.peers, username)
	rec.timer.Stop()

	if err := s.store.SetOffline(username); err != nil {
		slog.Error("mark offline", "user", username, "err", err)
	}

	// Leave every room, notifying the remaining members.
	rooms, err := s.roomsContaining(username)
	if err != nil {
		slog.Error("lookup rooms for offline cascade", "user", username, "err", err)
		return true
	}
	for _, room := range rooms {
		s.removeMemberLocked(room, username)
	}
	return true
}

// roomsContaining returns the rooms a username is currently a member of.
// Caller holds s.mu.
func (s *Server) roomsContaining(username string) ([]string, error) {
	names, err := s.store.ListRoomNames()
	if err != nil {
		return nil, err
	}
	var rooms []string
	for _, room := range names {
		members, err := s.store.ListMembers(room)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.Username == username {
				rooms = append(rooms, room)
				break
			}
		}
	}
	return rooms, nil
}

// removeMemberLocked removes a member from a room and pushes member-left to
// the remaining members. Caller holds s.mu. Removing an absent member sends
// no notifications.
func (s *Server) removeMemberLocked(room, username string) {
	members, err := s.store.ListMembers(room)
	if err != nil {
		slog.Error("list members", "room", room, "err", err)
		return
	}
	wasMember := false
	for _, m := range members {
		if m.Username == username {
			wasMember = true
			break
		}
	}
	if !wasMember {
		return
	}

	if err := s.store.RemoveMember(room, username); err != nil {
		slog.Error("remove member", "room", room, "user", username, "err", err)
		return
	}

	s.notifyRoomLocked(room, username, protocol.RoomEvent{
		Kind:   protocol.EventMemberLeft,
		Room:   room,
		Member: model.Member{Username: username},
	})
}

// notifyRoomLocked pushes a room event to every current member except the
// subject. Caller holds s.mu. Write failures are logged and skipped; the
// failing member's own handler will notice its dead connection on read.
func (s *Server) notifyRoomLocked(room, exceptUsername string, ev protocol.RoomEvent) {
	members, err := s.store.ListMembers(room)
	if err != nil {
		slog.Error("list members for notify", "room", room, "err", err)
		return
	}
	for _, m := range members {
		if m.Username == exceptUsername {
			continue
		}
		rec, ok := s.peers[m.Username]
		if !ok {
			continue // member offline; nothing to push to
		}
		if err := rec.handler.sendRoomEvent(ev); err != nil {
			slog.Error("room event push failed", "room", room, "to", m.Username, "err", err)
			continue
		}
		s.metrics.NotificationsSent.Add(1)
	}
}
