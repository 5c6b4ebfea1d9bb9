package peer

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"peerchat/pkg/protocol"
)

// EndReason tells how a chat session ended.
type EndReason int

const (
	// EndedLocal means this side quit the chat.
	EndedLocal EndReason = iota
	// EndedRemote means the remote sent the quit marker.
	EndedRemote
	// EndedAbrupt means the connection dropped without a quit marker.
	EndedAbrupt
)

func (r EndReason) String() string {
	switch r {
	case EndedLocal:
		return "local"
	case EndedRemote:
		return "remote"
	case EndedAbrupt:
		return "abrupt"
	default:
		return "unknown"
	}
}

// ChatSession is one active one-to-one chat on a direct TCP stream. Both
// sides run the same session once the handshake settles; only the handshake
// differs between requester and responder.
type ChatSession struct {
	conn   net.Conn
	r      *bufio.Reader
	remote string
	slot   *sessionSlot

	onMessage func(from, text string)
	onEnd     func(remote string, reason EndReason)

	localQuit atomic.Bool
	endOnce   sync.Once
}

// newChatSession takes over a connection after the handshake. The reader must
// be the one the handshake read through, so bytes it buffered past the last
// handshake line are not lost.
func newChatSession(conn net.Conn, r *bufio.Reader, remote string, slot *sessionSlot,
	onMessage func(from, text string), onEnd func(remote string, reason EndReason)) *ChatSession {
	s := &ChatSession{
		conn:      conn,
		r:         r,
		remote:    remote,
		slot:      slot,
		onMessage: onMessage,
		onEnd:     onEnd,
	}
	go s.readLoop()
	return s
}

// Remote returns the username on the other end.
func (s *ChatSession) Remote() string {
	return s.remote
}

// Send transmits one chat line.
func (s *ChatSession) Send(text string) error {
	if _, err := fmt.Fprintln(s.conn, text); err != nil {
		return fmt.Errorf("peer: send message: %w", err)
	}
	return nil
}

// Quit ends the session from this side. The quit marker carries the
// originator tag so the remote acks instead of re-initiating.
func (s *ChatSession) Quit() {
	s.localQuit.Store(true)
	if _, err := fmt.Fprintln(s.conn, protocol.QuitLine(true)); err != nil {
		slog.Debug("quit marker send failed", "remote", s.remote, "err", err)
	}
	s.end(EndedLocal)
}

// readLoop consumes the remote side's lines until the session ends.
func (s *ChatSession) readLoop() {
	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		line := protocol.ParsePeerLine(sc.Text())
		switch line.Kind {
		case protocol.PeerLineQuit:
			if line.QuitInitiated {
				// Remote ended the chat; ack without the tag.
				if _, err := fmt.Fprintln(s.conn, protocol.QuitLine(false)); err != nil {
					slog.Debug("quit ack send failed", "remote", s.remote, "err", err)
				}
				s.end(EndedRemote)
				return
			}
			// Ack of our own quit.
			s.end(EndedLocal)
			return
		case protocol.PeerLineMessage:
			if s.onMessage != nil {
				s.onMessage(s.remote, line.Text)
			}
		default:
			slog.Debug("unexpected control line mid-session", "remote", s.remote)
		}
	}
	// Zero-length read: either our own teardown closed the socket, or the
	// remote vanished without a quit marker.
	if s.localQuit.Load() {
		s.end(EndedLocal)
		return
	}
	s.end(EndedAbrupt)
}

// end tears the session down exactly once and frees the busy slot.
func (s *ChatSession) end(reason EndReason) {
	s.endOnce.Do(func() {
		_ = s.conn.Close()
		s.slot.Release()
		if s.onEnd != nil {
			s.onEnd(s.remote, reason)
		}
	})
}
