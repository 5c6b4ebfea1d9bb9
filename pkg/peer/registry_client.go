package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"peerchat/pkg/crypto"
	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
)

// Errors mapped from registry reply keywords.
var (
	ErrAccountExists   = errors.New("peer: account already exists")
	ErrAccountNotFound = errors.New("peer: account does not exist")
	ErrWrongPassword   = errors.New("peer: wrong password")
	ErrAlreadyOnline   = errors.New("peer: account is already logged in")
	ErrPeerOffline     = errors.New("peer: user is not online")
	ErrRoomExists      = errors.New("peer: room already exists")
	ErrRoomNotFound    = errors.New("peer: room does not exist")
	ErrAlreadyMember   = errors.New("peer: already a member of that room")
)

// replyTimeout bounds how long a command waits for its reply frame.
const replyTimeout = 10 * time.Second

// response is one synchronous frame routed to the waiting command.
type response struct {
	typ     protocol.FrameType
	payload []byte
}

// RegistryClient manages the framed TCP control channel to the registry.
// Commands are strictly request/reply; room events pushed by the registry
// are demultiplexed onto the Events channel by the receive goroutine.
type RegistryClient struct {
	conn    net.Conn
	writeMu sync.Mutex // serializes frame writes
	reqMu   sync.Mutex // one outstanding command at a time

	replies chan response
	events  chan protocol.RoomEvent

	done      chan struct{}
	closeOnce sync.Once
}

// DialRegistry connects to the registry control plane and starts the
// receive goroutine.
func DialRegistry(addr string) (*RegistryClient, error) {
	conn, err := net.DialTimeout("tcp", addr, replyTimeout)
	if err != nil {
		return nil, fmt.Errorf("peer: connect registry: %w", err)
	}

	c := &RegistryClient{
		conn:    conn,
		replies: make(chan response, 1),
		events:  make(chan protocol.RoomEvent, 16),
		done:    make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

// receiveLoop reads frames off the control connection, routing replies and
// member lists to the waiting command and room events to the Events channel.
func (c *RegistryClient) receiveLoop() {
	defer close(c.events)
	defer c.closeOnce.Do(func() { close(c.done) })

	for {
		typ, payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			slog.Debug("registry connection closed", "err", err)
			return
		}

		switch typ {
		case protocol.FrameReply, protocol.FrameMemberList:
			select {
			case c.replies <- response{typ: typ, payload: payload}:
			default:
				slog.Warn("dropping unsolicited registry reply", "type", typ)
			}
		case protocol.FrameRoomEvent:
			ev, err := protocol.DecodeRoomEvent(payload)
			if err != nil {
				slog.Warn("malformed room event", "err", err)
				continue
			}
			select {
			case c.events <- ev:
			default:
				slog.Warn("room event channel full, dropping", "kind", ev.Kind)
			}
		default:
			slog.Warn("unexpected frame type from registry", "type", typ)
		}
	}
}

// Events returns the channel of room events pushed by the registry. It is
// closed when the control connection drops.
func (c *RegistryClient) Events() <-chan protocol.RoomEvent {
	return c.events
}

// Done returns a channel that is closed when the connection is lost.
func (c *RegistryClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the control connection.
func (c *RegistryClient) Close() error {
	return c.conn.Close()
}

// LocalIP returns the local address this peer reaches the registry from,
// which is also the address other peers on that network reach it at.
func (c *RegistryClient) LocalIP() string {
	host, _, err := net.SplitHostPort(c.conn.LocalAddr().String())
	if err != nil {
		return c.conn.LocalAddr().String()
	}
	return host
}

// request sends one command line and waits for its reply frame.
func (c *RegistryClient) request(line string) (response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// Drop any stale reply from a previously timed-out command.
	select {
	case <-c.replies:
	default:
	}

	c.writeMu.Lock()
	err := protocol.WriteCommand(c.conn, line)
	c.writeMu.Unlock()
	if err != nil {
		return response{}, fmt.Errorf("peer: send command: %w", err)
	}

	select {
	case resp := <-c.replies:
		return resp, nil
	case <-c.done:
		return response{}, fmt.Errorf("peer: registry connection lost")
	case <-time.After(replyTimeout):
		return response{}, fmt.Errorf("peer: registry reply timeout")
	}
}

// requestReply sends a command and returns the textual reply.
func (c *RegistryClient) requestReply(line string) (string, error) {
	resp, err := c.request(line)
	if err != nil {
		return "", err
	}
	if resp.typ != protocol.FrameReply {
		return "", fmt.Errorf("peer: unexpected frame type 0x%02x", resp.typ)
	}
	return string(resp.payload), nil
}

// CreateAccount registers a new account. The password is hashed here; the
// registry never sees it in the clear.
func (c *RegistryClient) CreateAccount(username, password string) error {
	if err := model.ValidateUsername(username); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("peer: hash password: %w", err)
	}

	reply, err := c.requestReply((&protocol.JoinCommand{Username: username, PasswordHash: hash}).Encode())
	if err != nil {
		return err
	}
	switch protocol.ReplyKeyword(reply) {
	case protocol.ReplyJoinSuccess:
		return nil
	case protocol.ReplyJoinExist:
		return ErrAccountExists
	default:
		return replyError(reply)
	}
}

// Login authenticates and announces the port this peer's session listener is
// bound to.
func (c *RegistryClient) Login(username, password string, controlPort int) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	reply, err := c.requestReply((&protocol.LoginCommand{
		Username: username, Password: password, ControlPort: controlPort,
	}).Encode())
	if err != nil {
		return err
	}
	switch protocol.ReplyKeyword(reply) {
	case protocol.ReplyLoginSuccess:
		return nil
	case protocol.ReplyLoginAccountNotExist:
		return ErrAccountNotFound
	case protocol.ReplyLoginWrongPassword:
		return ErrWrongPassword
	case protocol.ReplyLoginOnline:
		return ErrAlreadyOnline
	default:
		return replyError(reply)
	}
}

// Logout ends the session. The registry closes the connection after the ack.
func (c *RegistryClient) Logout() error {
	reply, err := c.requestReply((&protocol.LogoutCommand{}).Encode())
	if err != nil {
		return err
	}
	if protocol.ReplyKeyword(reply) != protocol.ReplyLogoutSuccess {
		return replyError(reply)
	}
	return nil
}

// Search resolves a username to its session-listener endpoint.
func (c *RegistryClient) Search(username string) (model.Endpoint, error) {
	reply, err := c.requestReply((&protocol.SearchCommand{Username: username}).Encode())
	if err != nil {
		return model.Endpoint{}, err
	}
	switch protocol.ReplyKeyword(reply) {
	case protocol.ReplySearchSuccess:
		return protocol.ParseSearchSuccess(reply)
	case protocol.ReplySearchNotFound:
		return model.Endpoint{}, ErrAccountNotFound
	case protocol.ReplySearchNotOnline:
		return model.Endpoint{}, ErrPeerOffline
	default:
		return model.Endpoint{}, replyError(reply)
	}
}

// ListOnline returns the usernames currently online.
func (c *RegistryClient) ListOnline() ([]string, error) {
	reply, err := c.requestReply((&protocol.PrintCommand{}).Encode())
	if err != nil {
		return nil, err
	}
	if protocol.ReplyKeyword(reply) != protocol.ReplyOnlineUsers {
		return nil, replyError(reply)
	}
	return protocol.ReplyArgs(reply), nil
}

// ListRooms returns every room name, or an empty slice when none exist.
func (c *RegistryClient) ListRooms() ([]string, error) {
	reply, err := c.requestReply((&protocol.PrintRoomsCommand{}).Encode())
	if err != nil {
		return nil, err
	}
	switch protocol.ReplyKeyword(reply) {
	case protocol.ReplyRoomList:
		return protocol.ReplyArgs(reply), nil
	case protocol.ReplyRoomListEmpty:
		return nil, nil
	default:
		return nil, replyError(reply)
	}
}

// CreateRoom creates a room.
func (c *RegistryClient) CreateRoom(room string) error {
	reply, err := c.requestReply((&protocol.CreateRoomCommand{Room: room}).Encode())
	if err != nil {
		return err
	}
	switch protocol.ReplyKeyword(reply) {
	case protocol.ReplyRoomCreated:
		return nil
	case protocol.ReplyRoomExists:
		return ErrRoomExists
	default:
		return replyError(reply)
	}
}

// JoinRoom joins a room, announcing the endpoints other members reach this
// peer on, and returns the room's current member list.
func (c *RegistryClient) JoinRoom(room, username, ip string, controlPort, datagramPort int) ([]model.Member, error) {
	resp, err := c.request((&protocol.JoinRoomCommand{
		Room: room, Username: username, IP: ip,
		ControlPort: controlPort, DatagramPort: datagramPort,
	}).Encode())
	if err != nil {
		return nil, err
	}

	switch resp.typ {
	case protocol.FrameMemberList:
		list, err := protocol.DecodeMemberList(resp.payload)
		if err != nil {
			return nil, fmt.Errorf("peer: decode member list: %w", err)
		}
		return list.Members, nil
	case protocol.FrameReply:
		reply := string(resp.payload)
		switch protocol.ReplyKeyword(reply) {
		case protocol.ReplyRoomNotFound:
			return nil, ErrRoomNotFound
		case protocol.ReplyRoomAlreadyMember:
			return nil, ErrAlreadyMember
		default:
			return nil, replyError(reply)
		}
	default:
		return nil, fmt.Errorf("peer: unexpected frame type 0x%02x", resp.typ)
	}
}

// LeaveRoom leaves a room. The room-left ack arrives even when the peer was
// not a member, so callers can always tear their receive loops down on it.
func (c *RegistryClient) LeaveRoom(room, username string) error {
	reply, err := c.requestReply((&protocol.LeaveRoomCommand{Room: room, Username: username}).Encode())
	if err != nil {
		return err
	}
	if protocol.ReplyKeyword(reply) != protocol.ReplyRoomLeft {
		return replyError(reply)
	}
	return nil
}

// DatagramPort asks the registry which datagram port it has recorded for
// this session, or 0 when no heartbeat has arrived yet.
func (c *RegistryClient) DatagramPort() (int, error) {
	reply, err := c.requestReply((&protocol.PortNumberCommand{}).Encode())
	if err != nil {
		return 0, err
	}
	switch protocol.ReplyKeyword(reply) {
	case protocol.ReplyPortNumber:
		args := protocol.ReplyArgs(reply)
		if len(args) != 1 {
			return 0, replyError(reply)
		}
		var port int
		if _, err := fmt.Sscanf(args[0], "%d", &port); err != nil {
			return 0, replyError(reply)
		}
		return port, nil
	case protocol.ReplyPortUnknown:
		return 0, nil
	default:
		return 0, replyError(reply)
	}
}

// replyError turns an unrecognized or failure reply into an error.
func replyError(reply string) error {
	return fmt.Errorf("peer: registry refused: %s", reply)
}

func validatePassword(password string) error {
	if password == "" {
		return errors.New("peer: password must not be empty")
	}
	if strings.ContainsAny(password, " \t\r\n") {
		return errors.New("peer: password must not contain whitespace")
	}
	return nil
}
