package peer

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"peerchat/pkg/protocol"
)

var (
	ErrChatRejected = errors.New("peer: chat request rejected")
	ErrPeerBusy     = errors.New("peer: remote peer is busy")
)

// RequestChat resolves the target through the registry, dials its session
// listener, and blocks until the target answers the request. The busy slot
// is reserved for the whole handshake so an incoming request cannot race in.
func (p *Peer) RequestChat(target string) (*ChatSession, error) {
	username := p.Username()
	if username == "" {
		return nil, ErrNotLoggedIn
	}
	if target == username {
		return nil, ErrSelfChat
	}

	if !p.slot.TryReserve() {
		return nil, ErrBusy
	}

	ep, err := p.Search(target)
	if err != nil {
		p.slot.Release()
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", ep.String(), 10*time.Second)
	if err != nil {
		p.slot.Release()
		return nil, fmt.Errorf("peer: dial %s: %w", target, err)
	}

	if _, err := fmt.Fprintln(conn, protocol.ChatRequestLine(p.listenerPort, username)); err != nil {
		_ = conn.Close()
		p.slot.Release()
		return nil, fmt.Errorf("peer: send chat request: %w", err)
	}

	// Block until the human on the other side accepts or rejects. The
	// reader is handed to the session afterwards: the remote may coalesce
	// its answer and its first message into one segment, and bytes the
	// reader buffered past the answer line must survive the handover.
	br := bufio.NewReader(conn)
	answer, err := br.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		p.slot.Release()
		return nil, fmt.Errorf("peer: %s hung up during handshake", target)
	}

	line := protocol.ParsePeerLine(strings.TrimRight(answer, "\r\n"))
	switch line.Kind {
	case protocol.PeerLineOK:
		p.slot.Activate()
		remote := target
		if line.Username != "" {
			remote = line.Username
		}
		s := newChatSession(conn, br, remote, &p.slot, p.OnMessage, p.sessionEnded)
		p.setSession(s)
		slog.Info("chat session started", "with", remote, "role", "requester")
		return s, nil
	case protocol.PeerLineBusy:
		_ = conn.Close()
		p.slot.Release()
		return nil, ErrPeerBusy
	case protocol.PeerLineReject:
		_ = conn.Close()
		p.slot.Release()
		return nil, ErrChatRejected
	default:
		_ = conn.Close()
		p.slot.Release()
		return nil, fmt.Errorf("peer: unexpected handshake answer from %s", target)
	}
}
