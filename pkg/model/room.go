package model

import (
	"errors"
	"time"
	"unicode/utf8"
)

const MaxRoomNameLength = 64

var ErrRoomNameEmpty = errors.New("room name must not be empty")
var ErrRoomNameTooLong = errors.New("room name too long")

// Room represents a chat room. Rooms are created idempotently and are not
// physically deleted; an empty room simply has no members.
type Room struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is one chat-room member with the endpoints other members use to
// reach it: the control port for session requests and the datagram port for
// room broadcast traffic.
type Member struct {
	Username     string `json:"username"`
	IP           string `json:"ip"`
	ControlPort  int    `json:"control_port"`
	DatagramPort int    `json:"datagram_port"`
}

// DatagramEndpoint returns the member's room-broadcast endpoint.
func (m Member) DatagramEndpoint() Endpoint {
	return Endpoint{IP: m.IP, Port: m.DatagramPort}
}

// ValidateRoomName checks that a room name is 1-64 runes with no spaces.
// Room names travel inside space-delimited commands, so a space would split
// the command apart.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrRoomNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return errors.New("room name must not contain whitespace")
		}
	}
	return nil
}
