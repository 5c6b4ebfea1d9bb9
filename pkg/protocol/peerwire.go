package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Peer-to-peer session messages are newline-delimited text lines on the
// direct stream between two peers.
const (
	ChatRequestVerb = "CHAT-REQUEST"
	OKVerb          = "OK"
	RejectVerb      = "REJECT"
	BusyVerb        = "BUSY"

	// QuitMarker ends an active session. The side that initiated the quit
	// appends QuitTagEnding; the other side's acknowledgment carries no tag,
	// which is what stops the two sides bouncing quits at each other.
	QuitMarker    = ":q"
	QuitTagEnding = "ending-side"
)

// PeerLineKind classifies one line received on a peer session.
type PeerLineKind int

const (
	PeerLineChatRequest PeerLineKind = iota
	PeerLineOK
	PeerLineReject
	PeerLineBusy
	PeerLineQuit
	PeerLineMessage
)

// PeerLine is the parsed form of one peer-session line.
type PeerLine struct {
	Kind PeerLineKind

	// CHAT-REQUEST fields.
	ListenerPort int
	Username     string // also set for OK lines that carry a username

	// Quit fields.
	QuitInitiated bool // true when the remote originated the quit

	// Raw message text for PeerLineMessage.
	Text string
}

// ParsePeerLine classifies one peer-session line. Anything that is not a
// recognized control line is a chat message.
func ParsePeerLine(line string) PeerLine {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return PeerLine{Kind: PeerLineMessage, Text: line}
	}

	switch fields[0] {
	case ChatRequestVerb:
		if len(fields) == 3 {
			if port, err := strconv.Atoi(fields[1]); err == nil && port > 0 && port <= 65535 {
				return PeerLine{Kind: PeerLineChatRequest, ListenerPort: port, Username: fields[2]}
			}
		}
	case OKVerb:
		pl := PeerLine{Kind: PeerLineOK}
		if len(fields) > 1 {
			pl.Username = fields[1]
		}
		return pl
	case RejectVerb:
		return PeerLine{Kind: PeerLineReject}
	case BusyVerb:
		return PeerLine{Kind: PeerLineBusy}
	case QuitMarker:
		return PeerLine{
			Kind:          PeerLineQuit,
			QuitInitiated: len(fields) > 1 && fields[1] == QuitTagEnding,
		}
	}
	return PeerLine{Kind: PeerLineMessage, Text: line}
}

// ChatRequestLine renders a session request announcing the sender's own
// listener port and username.
func ChatRequestLine(listenerPort int, username string) string {
	return fmt.Sprintf("%s %d %s", ChatRequestVerb, listenerPort, username)
}

// OKLine renders an accept, optionally carrying the accepter's username.
func OKLine(username string) string {
	if username == "" {
		return OKVerb
	}
	return OKVerb + " " + username
}

// QuitLine renders the quit marker. initiated marks the side that ended the
// chat, as opposed to the side acknowledging a received quit.
func QuitLine(initiated bool) string {
	if initiated {
		return QuitMarker + " " + QuitTagEnding
	}
	return QuitMarker
}

// Heartbeat datagrams.
const (
	HelloVerb    = "HELLO"
	HelloAckVerb = "HELLO-ACK"
)

// HelloDatagram renders a heartbeat for a username.
func HelloDatagram(username string) []byte {
	return []byte(HelloVerb + " " + username)
}

// ParseHello extracts the username from a heartbeat datagram.
func ParseHello(data []byte) (string, bool) {
	fields := strings.Fields(string(data))
	if len(fields) != 2 || fields[0] != HelloVerb {
		return "", false
	}
	return fields[1], true
}

// HelloAckDatagram renders the registry's heartbeat acknowledgment carrying
// the datagram source port it observed.
func HelloAckDatagram(observedPort int) []byte {
	return []byte(HelloAckVerb + " " + strconv.Itoa(observedPort))
}

// ParseHelloAck extracts the observed port from a heartbeat acknowledgment.
func ParseHelloAck(data []byte) (int, bool) {
	fields := strings.Fields(string(data))
	if len(fields) != 2 || fields[0] != HelloAckVerb {
		return 0, false
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
