package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"peerchat/pkg/crypto"
	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
	"peerchat/pkg/store"
)

// errCloseConn signals the read loop that the command it just served ends
// the session cleanly.
var errCloseConn = errors.New("registry: close connection")

// sessionHandler serves one peer's control connection. The handler goroutine
// owns username; the presence index references the handler but never writes
// its fields.
type sessionHandler struct {
	id       string // correlation id for logs
	srv      *Server
	conn     net.Conn
	remoteIP string
	username string // empty until LOGIN succeeds
	limiter  *rate.Limiter

	// writeMu serializes command replies with room events pushed from other
	// handlers' goroutines, so frames never interleave on the wire.
	writeMu sync.Mutex
}

// StartControl starts the TCP control listener.
func (s *Server) StartControl() error {
	ln, err := net.Listen("tcp", s.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("registry: listen control: %w", err)
	}
	s.controlLn = ln
	slog.Info("control plane listening", "addr", ln.Addr().String())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleConn(conn)
		}
	}()

	return nil
}

// handleConn runs one session handler until the peer logs out, the
// connection drops, or the liveness monitor closes the socket.
func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	h := &sessionHandler{
		id:       uuid.NewString(),
		srv:      s,
		conn:     conn,
		remoteIP: remoteIP(conn),
		limiter:  rate.NewLimiter(rate.Limit(s.cfg.CommandRate), s.cfg.CommandBurst),
	}

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new control connection", "handler", h.id, "remote", conn.RemoteAddr().String())

	defer func() {
		// A dropped connection for a logged-in peer cascades exactly like a
		// logout: offline, out of the index, out of its rooms.
		if h.username != "" && s.goOffline(h.username, h) {
			slog.Info("peer connection lost, cascaded offline", "handler", h.id, "user", h.username)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		typ, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("control read error", "handler", h.id, "err", err)
			}
			return
		}
		if typ != protocol.FrameCommand {
			s.metrics.MalformedCommands.Add(1)
			slog.Warn("unexpected frame type from peer", "handler", h.id, "type", typ)
			continue
		}

		if !h.limiter.Allow() {
			_ = h.sendReply(protocol.FailureReply("rate limit exceeded"))
			continue
		}

		cmd, err := protocol.ParseCommand(string(payload))
		if err != nil {
			// Malformed commands are logged; the connection stays open.
			s.metrics.MalformedCommands.Add(1)
			slog.Warn("malformed command", "handler", h.id, "err", err)
			_ = h.sendReply(protocol.FailureReply("malformed command"))
			continue
		}

		if err := s.dispatch(h, cmd); err != nil {
			if errors.Is(err, errCloseConn) {
				return
			}
			slog.Error("command failed", "handler", h.id, "err", err)
			return
		}
	}
}

// dispatch routes one parsed command to its handler. The switch is
// exhaustive over Command's fields; ParseCommand guarantees exactly one is
// set.
func (s *Server) dispatch(h *sessionHandler, cmd *protocol.Command) error {
	switch {
	case cmd.Join != nil:
		return s.handleJoin(h, cmd.Join)
	case cmd.Login != nil:
		return s.handleLogin(h, cmd.Login)
	case cmd.Logout != nil:
		return s.handleLogout(h, cmd.Logout)
	case cmd.Search != nil:
		return s.handleSearch(h, cmd.Search)
	case cmd.Print != nil:
		return h.sendReply(protocol.OnlineUsersReply(s.OnlineUsernames()))
	case cmd.PrintRooms != nil:
		return s.handlePrintRooms(h)
	case cmd.CreateRoom != nil:
		return s.handleCreateRoom(h, cmd.CreateRoom)
	case cmd.JoinRoom != nil:
		return s.handleJoinRoom(h, cmd.JoinRoom)
	case cmd.LeaveRoom != nil:
		return s.handleLeaveRoom(h, cmd.LeaveRoom)
	case cmd.PortNumber != nil:
		return h.sendReply(protocol.PortNumberReply(s.datagramPortOf(h.username)))
	default:
		return fmt.Errorf("registry: empty command")
	}
}

func (s *Server) handleJoin(h *sessionHandler, cmd *protocol.JoinCommand) error {
	exists, err := s.store.AccountExists(cmd.Username)
	if err != nil {
		return h.storeFailure(err)
	}
	if exists {
		return h.sendReply(protocol.ReplyJoinExist)
	}

	if err := s.store.RegisterAccount(cmd.Username, cmd.PasswordHash); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			return h.sendReply(protocol.ReplyJoinExist)
		}
		return h.storeFailure(err)
	}

	s.metrics.AccountsCreated.Add(1)
	slog.Info("account created", "handler", h.id, "user", cmd.Username)
	return h.sendReply(protocol.ReplyJoinSuccess)
}

func (s *Server) handleLogin(h *sessionHandler, cmd *protocol.LoginCommand) error {
	if h.username != "" {
		return h.sendReply(protocol.FailureReply("already logged in as " + h.username))
	}

	exists, err := s.store.AccountExists(cmd.Username)
	if err != nil {
		return h.storeFailure(err)
	}
	if !exists {
		s.metrics.FailedLogins.Add(1)
		return h.sendReply(protocol.ReplyLoginAccountNotExist)
	}

	hash, err := s.store.PasswordHash(cmd.Username)
	if err != nil {
		return h.storeFailure(err)
	}
	if err := crypto.CheckPassword(hash, cmd.Password); err != nil {
		s.metrics.FailedLogins.Add(1)
		slog.Warn("wrong password", "handler", h.id, "user", cmd.Username)
		return h.sendReply(protocol.ReplyLoginWrongPassword)
	}

	// Credentials are good; now claim the presence slot. The claim and the
	// store write happen under the index lock, so a concurrent second login
	// for the same account loses cleanly with login-online.
	ok, err := s.login(cmd.Username, h.remoteIP, cmd.ControlPort, h)
	if err != nil {
		return h.storeFailure(err)
	}
	if !ok {
		return h.sendReply(protocol.ReplyLoginOnline)
	}

	h.username = cmd.Username
	s.metrics.Logins.Add(1)
	slog.Info("peer online", "handler", h.id, "user", cmd.Username,
		"ip", h.remoteIP, "control_port", cmd.ControlPort)
	return h.sendReply(protocol.ReplyLoginSuccess)
}

func (s *Server) handleLogout(h *sessionHandler, cmd *protocol.LogoutCommand) error {
	username := h.username
	if username == "" {
		username = cmd.Username
	}

	if username != "" && s.goOffline(username, h) {
		slog.Info("peer logged out", "handler", h.id, "user", username)
	}
	h.username = ""

	_ = h.sendReply(protocol.ReplyLogoutSuccess)
	return errCloseConn
}

func (s *Server) handleSearch(h *sessionHandler, cmd *protocol.SearchCommand) error {
	exists, err := s.store.AccountExists(cmd.Username)
	if err != nil {
		return h.storeFailure(err)
	}
	if !exists {
		return h.sendReply(protocol.ReplySearchNotFound)
	}

	ep, ok := s.endpointOf(cmd.Username)
	if !ok {
		return h.sendReply(protocol.ReplySearchNotOnline)
	}
	return h.sendReply(protocol.SearchSuccessReply(ep))
}

func (s *Server) handlePrintRooms(h *sessionHandler) error {
	names, err := s.store.ListRoomNames()
	if err != nil {
		return h.storeFailure(err)
	}
	return h.sendReply(protocol.RoomListReply(names))
}

func (s *Server) handleCreateRoom(h *sessionHandler, cmd *protocol.CreateRoomCommand) error {
	if err := model.ValidateRoomName(cmd.Room); err != nil {
		return h.sendReply(protocol.FailureReply(err.Error()))
	}

	created, err := s.store.CreateRoom(cmd.Room)
	if err != nil {
		return h.storeFailure(err)
	}
	if !created {
		return h.sendReply(protocol.ReplyRoomExists)
	}

	s.metrics.RoomsCreated.Add(1)
	slog.Info("room created", "handler", h.id, "room", cmd.Room, "by", h.username)
	return h.sendReply(protocol.ReplyRoomCreated)
}

// endpointOf returns the control endpoint of an online peer.
func (s *Server) endpointOf(username string) (model.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.peers[username]
	if !ok {
		return model.Endpoint{}, false
	}
	return model.Endpoint{IP: rec.IP, Port: rec.ControlPort}, true
}

// login claims the presence slot for a username. The store write happens
// under the same lock as the index insert so the two cannot diverge under
// concurrent logins. Returns false when the username is already online.
func (s *Server) login(username, ip string, controlPort int, h *sessionHandler) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.peers[username]; exists {
		return false, nil
	}
	if err := s.store.SetOnline(username, ip, controlPort); err != nil {
		return false, err
	}

	rec := &PresenceRecord{
		Username:    username,
		IP:          ip,
		ControlPort: controlPort,
		handler:     h,
	}
	rec.timer = time.AfterFunc(s.livenessTimeout(false), func() {
		s.evict(username, h)
	})
	s.peers[username] = rec
	return true, nil
}

// storeFailure surfaces a persistence failure as a textual reply. The
// registry must not crash on store errors.
func (h *sessionHandler) storeFailure(err error) error {
	slog.Error("store operation failed", "handler", h.id, "err", err)
	return h.sendReply(protocol.FailureReply("registry storage error"))
}

func (h *sessionHandler) sendReply(reply string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return protocol.WriteReply(h.conn, reply)
}

func (h *sessionHandler) sendRoomEvent(ev protocol.RoomEvent) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return protocol.WriteRoomEvent(h.conn, ev)
}

func (h *sessionHandler) sendMemberList(room string, members []model.Member) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return protocol.WriteMemberList(h.conn, room, members)
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
