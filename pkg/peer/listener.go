package peer

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"peerchat/pkg/protocol"
)

// handshakeTimeout bounds how long an accepted connection may take to send
// its CHAT-REQUEST line.
const handshakeTimeout = 30 * time.Second

// IncomingChat is a pending chat request from another peer. Exactly one of
// Accept or Reject must be called; the busy slot is held until then.
type IncomingChat struct {
	From string

	peer *Peer
	conn net.Conn
	r    *bufio.Reader
}

// startListener binds the session listener and starts the accept loop.
// Port 0 probes a free port.
func (p *Peer) startListener() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return nil // already listening from a previous login
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p.cfg.ListenerPort))
	if err != nil {
		return fmt.Errorf("peer: bind session listener: %w", err)
	}
	p.listener = ln
	p.listenerPort = ln.Addr().(*net.TCPAddr).Port
	slog.Info("session listener up", "port", p.listenerPort)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return // listener closed
			}
			go p.handleIncoming(conn)
		}
	}()
	return nil
}

// handleIncoming reads one handshake line off an accepted connection. A
// CHAT-REQUEST while idle reserves the slot and surfaces the request;
// anything else while busy gets BUSY and is dropped.
func (p *Peer) handleIncoming(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	// The reader outlives the handshake: it goes to the chat session on
	// Accept, so bytes buffered past the request line are not lost.
	br := bufio.NewReader(conn)
	first, err := br.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	line := protocol.ParsePeerLine(strings.TrimRight(first, "\r\n"))
	if line.Kind != protocol.PeerLineChatRequest {
		slog.Debug("dropping connection without chat request", "from", conn.RemoteAddr().String())
		_ = conn.Close()
		return
	}

	if !p.slot.TryReserve() {
		if _, err := fmt.Fprintln(conn, protocol.BusyVerb); err != nil {
			slog.Debug("busy reply failed", "err", err)
		}
		_ = conn.Close()
		return
	}

	req := &IncomingChat{From: line.Username, peer: p, conn: conn, r: br}
	if p.OnChatRequest == nil {
		req.Reject()
		return
	}
	p.OnChatRequest(req)
}

// Accept answers the request with OK and activates the session.
func (r *IncomingChat) Accept() (*ChatSession, error) {
	p := r.peer
	if _, err := fmt.Fprintln(r.conn, protocol.OKLine(p.Username())); err != nil {
		_ = r.conn.Close()
		p.slot.Release()
		return nil, fmt.Errorf("peer: send accept: %w", err)
	}
	p.slot.Activate()

	s := newChatSession(r.conn, r.r, r.From, &p.slot, p.OnMessage, p.sessionEnded)
	p.setSession(s)
	slog.Info("chat session started", "with", r.From, "role", "responder")
	return s, nil
}

// Reject answers the request with REJECT and frees the slot.
func (r *IncomingChat) Reject() {
	if _, err := fmt.Fprintln(r.conn, protocol.RejectVerb); err != nil {
		slog.Debug("reject reply failed", "err", err)
	}
	_ = r.conn.Close()
	r.peer.slot.Release()
	slog.Info("chat request rejected", "from", r.From)
}
