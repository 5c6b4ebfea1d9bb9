package registry

import (
	"log/slog"

	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
)

// handleJoinRoom adds a member to a room, pushes member-joined to every
// other member, and replies to the joiner with the full current member
// list. The whole add-notify-reply sequence runs under the index lock so a
// concurrent join or leave cannot interleave with the fan-out.
func (s *Server) handleJoinRoom(h *sessionHandler, cmd *protocol.JoinRoomCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.store.RoomExists(cmd.Room)
	if err != nil {
		return h.storeFailure(err)
	}
	if !exists {
		return h.sendReply(protocol.ReplyRoomNotFound)
	}

	members, err := s.store.ListMembers(cmd.Room)
	if err != nil {
		return h.storeFailure(err)
	}
	for _, m := range members {
		if m.Username == cmd.Username {
			return h.sendReply(protocol.ReplyRoomAlreadyMember)
		}
	}

	joiner := model.Member{
		Username:     cmd.Username,
		IP:           cmd.IP,
		ControlPort:  cmd.ControlPort,
		DatagramPort: cmd.DatagramPort,
	}
	if err := s.store.AddMember(cmd.Room, joiner); err != nil {
		return h.storeFailure(err)
	}

	s.notifyRoomLocked(cmd.Room, cmd.Username, protocol.RoomEvent{
		Kind:   protocol.EventMemberJoined,
		Room:   cmd.Room,
		Member: joiner,
	})

	s.metrics.RoomJoins.Add(1)
	slog.Info("member joined room", "handler", h.id, "room", cmd.Room, "user", cmd.Username)

	return h.sendMemberList(cmd.Room, append(members, joiner))
}

// handleLeaveRoom removes a member and notifies the remaining members. A
// repeated leave is a no-op but is still acknowledged, so the leaver's
// receive loops always get their stop signal.
func (s *Server) handleLeaveRoom(h *sessionHandler, cmd *protocol.LeaveRoomCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.store.RoomExists(cmd.Room)
	if err != nil {
		return h.storeFailure(err)
	}
	if exists {
		s.removeMemberLocked(cmd.Room, cmd.Username)
		slog.Info("member left room", "handler", h.id, "room", cmd.Room, "user", cmd.Username)
	}

	return h.sendReply(protocol.ReplyRoomLeft)
}
