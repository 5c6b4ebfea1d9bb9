// Package protocol defines the registry control-channel framing and the
// textual messages exchanged between peers.
//
// Every message on the registry control channel is framed as
// [type(1)][length(4, big-endian)][payload]. Commands and replies carry
// space-delimited text payloads; member lists and room events carry JSON.
// The frame type makes dispatch explicit: a receiver never has to guess a
// payload's shape from a failed decode.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"peerchat/pkg/model"
)

// FrameType tags the payload of one control-channel frame.
type FrameType byte

const (
	// FrameCommand carries a space-delimited command from peer to registry.
	FrameCommand FrameType = 0x01

	// FrameReply carries a status-keyword reply from registry to peer.
	FrameReply FrameType = 0x02

	// FrameMemberList carries a JSON MemberListPayload, sent to a joiner as
	// the authoritative snapshot of a room's membership.
	FrameMemberList FrameType = 0x03

	// FrameRoomEvent carries a JSON RoomEvent pushed asynchronously to room
	// members when membership changes.
	FrameRoomEvent FrameType = 0x04
)

// MaxFrameSize is the maximum control frame payload size (64KB).
const MaxFrameSize = 65536

var ErrFrameTooLarge = errors.New("protocol: frame too large")

// MemberListPayload is the full membership snapshot returned to a joiner.
type MemberListPayload struct {
	Room    string         `json:"room"`
	Members []model.Member `json:"members"`
}

// RoomEvent kinds.
const (
	EventMemberJoined = "member-joined"
	EventMemberLeft   = "member-left"
)

// RoomEvent is an asynchronous membership-change notification. For
// member-left only Member.Username is meaningful.
type RoomEvent struct {
	Kind   string       `json:"kind"`
	Room   string       `json:"room"`
	Member model.Member `json:"member"`
}

// WriteFrame writes one framed message to a writer.
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	header := make([]byte, 5)
	header[0] = byte(typ)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(payload))) //nolint:gosec // length bounds-checked above
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one framed message from a reader.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("protocol: read header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[1:5])
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return FrameType(header[0]), payload, nil
}

// WriteCommand frames and writes a command line.
func WriteCommand(w io.Writer, line string) error {
	return WriteFrame(w, FrameCommand, []byte(line))
}

// WriteReply frames and writes a status-keyword reply.
func WriteReply(w io.Writer, reply string) error {
	return WriteFrame(w, FrameReply, []byte(reply))
}

// WriteMemberList frames and writes a membership snapshot.
func WriteMemberList(w io.Writer, room string, members []model.Member) error {
	data, err := json.Marshal(MemberListPayload{Room: room, Members: members})
	if err != nil {
		return fmt.Errorf("protocol: marshal member list: %w", err)
	}
	return WriteFrame(w, FrameMemberList, data)
}

// WriteRoomEvent frames and writes a membership-change event.
func WriteRoomEvent(w io.Writer, ev RoomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("protocol: marshal room event: %w", err)
	}
	return WriteFrame(w, FrameRoomEvent, data)
}

// DecodeMemberList parses a FrameMemberList payload.
func DecodeMemberList(payload []byte) (MemberListPayload, error) {
	var ml MemberListPayload
	if err := json.Unmarshal(payload, &ml); err != nil {
		return MemberListPayload{}, fmt.Errorf("protocol: unmarshal member list: %w", err)
	}
	return ml, nil
}

// DecodeRoomEvent parses a FrameRoomEvent payload.
func DecodeRoomEvent(payload []byte) (RoomEvent, error) {
	var ev RoomEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return RoomEvent{}, fmt.Errorf("protocol: unmarshal room event: %w", err)
	}
	return ev, nil
}
