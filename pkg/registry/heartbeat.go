package registry

import (
	"fmt"
	"log/slog"
	"net"

	"peerchat/pkg/protocol"
)

// StartHeartbeat starts the UDP heartbeat listener.
func (s *Server) StartHeartbeat() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.HeartbeatAddr)
	if err != nil {
		return fmt.Errorf("registry: resolve heartbeat addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("registry: listen heartbeat: %w", err)
	}
	s.heartbeatConn = conn
	slog.Info("heartbeat plane listening", "addr", conn.LocalAddr().String())

	go s.heartbeatLoop()
	return nil
}

// heartbeatLoop reads HELLO datagrams, rearms the sender's liveness monitor,
// and acks with the observed source port. The first heartbeat from a peer is
// how the registry learns that peer's datagram port.
func (s *Server) heartbeatLoop() {
	buf := make([]byte, 512)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, remoteAddr, err := s.heartbeatConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("heartbeat read error", "err", err)
				continue
			}
		}

		username, ok := protocol.ParseHello(buf[:n])
		if !ok {
			slog.Debug("dropping non-HELLO datagram", "from", remoteAddr.String())
			continue
		}

		// Heartbeats from unknown or offline usernames are ignored.
		if !s.resetLiveness(username, remoteAddr.Port) {
			slog.Debug("heartbeat from offline user ignored", "user", username, "from", remoteAddr.String())
			continue
		}

		s.metrics.Heartbeats.Add(1)

		if _, err := s.heartbeatConn.WriteToUDP(protocol.HelloAckDatagram(remoteAddr.Port), remoteAddr); err != nil {
			slog.Debug("heartbeat ack failed", "user", username, "err", err)
		}
	}
}
