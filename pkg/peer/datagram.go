package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
)

// RoomDatagram is one room message received on the datagram socket.
type RoomDatagram struct {
	From *net.UDPAddr
	Text string
}

// DatagramSocket is the peer's single UDP socket. It carries heartbeats to
// the registry and room traffic to and from other peers, so the datagram
// port the registry observes on heartbeats is the same port room messages
// arrive on.
type DatagramSocket struct {
	conn         *net.UDPConn
	registryAddr *net.UDPAddr
	interval     time.Duration

	// observedPort is the source port the registry reported in its last
	// heartbeat ack. Normally equals LocalPort; differs behind NAT.
	observedPort atomic.Int64

	incoming  chan RoomDatagram
	closeOnce sync.Once
}

// OpenDatagram binds the peer's UDP socket. Port 0 probes a free port.
func OpenDatagram(bindPort int, heartbeatAddr string, interval time.Duration) (*DatagramSocket, error) {
	registryAddr, err := net.ResolveUDPAddr("udp", heartbeatAddr)
	if err != nil {
		return nil, fmt.Errorf("peer: resolve heartbeat addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: bindPort})
	if err != nil {
		return nil, fmt.Errorf("peer: bind datagram socket: %w", err)
	}

	d := &DatagramSocket{
		conn:         conn,
		registryAddr: registryAddr,
		interval:     interval,
		incoming:     make(chan RoomDatagram, 64),
	}
	go d.receiveLoop()
	return d, nil
}

// LocalPort returns the locally bound UDP port.
func (d *DatagramSocket) LocalPort() int {
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

// ObservedPort returns the source port the registry last acked, or 0 before
// the first ack.
func (d *DatagramSocket) ObservedPort() int {
	return int(d.observedPort.Load())
}

// Incoming returns the channel of room datagrams. It is closed when the
// socket closes.
func (d *DatagramSocket) Incoming() <-chan RoomDatagram {
	return d.incoming
}

// StartHeartbeat sends HELLO datagrams for a username until the context is
// cancelled. The first heartbeat goes out immediately so the registry learns
// the datagram port right after login.
func (d *DatagramSocket) StartHeartbeat(ctx context.Context, username string) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			if _, err := d.conn.WriteToUDP(protocol.HelloDatagram(username), d.registryAddr); err != nil {
				slog.Debug("heartbeat send failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// receiveLoop classifies every datagram: heartbeat acks update the observed
// port, everything else is room traffic.
func (d *DatagramSocket) receiveLoop() {
	defer close(d.incoming)
	buf := make([]byte, 2048)

	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}

		if port, ok := protocol.ParseHelloAck(buf[:n]); ok {
			d.observedPort.Store(int64(port))
			continue
		}

		select {
		case d.incoming <- RoomDatagram{From: from, Text: string(buf[:n])}:
		default:
			slog.Warn("room datagram queue full, dropping", "from", from.String())
		}
	}
}

// Send fires one datagram at a member's endpoint, best effort.
func (d *DatagramSocket) Send(ep model.Endpoint, text string) error {
	addr := &net.UDPAddr{IP: net.ParseIP(ep.IP), Port: ep.Port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", ep.String())
		if err != nil {
			return fmt.Errorf("peer: resolve member addr: %w", err)
		}
		addr = resolved
	}
	_, err := d.conn.WriteToUDP([]byte(text), addr)
	return err
}

// Close closes the socket, ending the receive loop.
func (d *DatagramSocket) Close() error {
	var err error
	d.closeOnce.Do(func() { err = d.conn.Close() })
	return err
}
