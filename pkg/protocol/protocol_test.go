package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"peerchat/pkg/model"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCommand(&buf, "PRINT"))
	require.NoError(t, WriteReply(&buf, ReplyJoinSuccess))

	typ, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameCommand, typ)
	require.Equal(t, "PRINT", string(payload))

	typ, payload, err = ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameReply, typ)
	require.Equal(t, ReplyJoinSuccess, string(payload))
}

func TestFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, FrameCommand, make([]byte, MaxFrameSize+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)

	// An oversized length on the wire is rejected before allocation.
	buf.Write([]byte{byte(FrameCommand), 0xFF, 0xFF, 0xFF, 0xFF})
	_, _, err = ReadFrame(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCommand(&buf, "PRINT"))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, _, err := ReadFrame(truncated)
	require.Error(t, err)
}

func TestMemberListRoundTrip(t *testing.T) {
	members := []model.Member{
		{Username: "alice", IP: "10.0.0.1", ControlPort: 15601, DatagramPort: 15501},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteMemberList(&buf, "lobby", members))

	typ, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameMemberList, typ)

	list, err := DecodeMemberList(payload)
	require.NoError(t, err)
	require.Equal(t, "lobby", list.Room)
	require.Equal(t, members, list.Members)
}

func TestRoomEventRoundTrip(t *testing.T) {
	ev := RoomEvent{Kind: EventMemberLeft, Room: "lobby", Member: model.Member{Username: "bob"}}
	var buf bytes.Buffer
	require.NoError(t, WriteRoomEvent(&buf, ev))

	typ, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameRoomEvent, typ)

	got, err := DecodeRoomEvent(payload)
	require.NoError(t, err)
	require.Equal(t, ev, got)
}

func TestParseCommandTyped(t *testing.T) {
	cmd, err := ParseCommand("LOGIN alice hunter2 15601")
	require.NoError(t, err)
	require.NotNil(t, cmd.Login)
	require.Equal(t, "alice", cmd.Login.Username)
	require.Equal(t, 15601, cmd.Login.ControlPort)

	cmd, err = ParseCommand("JOIN-ROOM lobby bob 10.0.0.2 15601 15502")
	require.NoError(t, err)
	require.NotNil(t, cmd.JoinRoom)
	require.Equal(t, "lobby", cmd.JoinRoom.Room)
	require.Equal(t, 15502, cmd.JoinRoom.DatagramPort)

	cmd, err = ParseCommand("LOGOUT")
	require.NoError(t, err)
	require.NotNil(t, cmd.Logout)
	require.Empty(t, cmd.Logout.Username)

	cmd, err = ParseCommand("LOGOUT alice")
	require.NoError(t, err)
	require.Equal(t, "alice", cmd.Logout.Username)
}

func TestParseCommandEncodeRoundTrip(t *testing.T) {
	lines := []string{
		"JOIN alice $2a$10$abcdefghij",
		"LOGIN alice hunter2 15601",
		"SEARCH bob",
		"PRINT",
		"PRINT_CHATROOMS",
		"CREATE lobby",
		"JOIN-ROOM lobby bob 10.0.0.2 15601 15502",
		"LEAVE lobby bob",
		"PORTNUMBER",
	}
	for _, line := range lines {
		cmd, err := ParseCommand(line)
		require.NoError(t, err, line)

		var encoded string
		switch {
		case cmd.Join != nil:
			encoded = cmd.Join.Encode()
		case cmd.Login != nil:
			encoded = cmd.Login.Encode()
		case cmd.Search != nil:
			encoded = cmd.Search.Encode()
		case cmd.Print != nil:
			encoded = cmd.Print.Encode()
		case cmd.PrintRooms != nil:
			encoded = cmd.PrintRooms.Encode()
		case cmd.CreateRoom != nil:
			encoded = cmd.CreateRoom.Encode()
		case cmd.JoinRoom != nil:
			encoded = cmd.JoinRoom.Encode()
		case cmd.LeaveRoom != nil:
			encoded = cmd.LeaveRoom.Encode()
		case cmd.PortNumber != nil:
			encoded = cmd.PortNumber.Encode()
		}
		require.Equal(t, line, encoded)
	}
}

func TestParseCommandMalformed(t *testing.T) {
	malformed := []string{
		"",
		"   ",
		"UNKNOWN-VERB x",
		"JOIN alice",                           // missing hash
		"LOGIN alice hunter2",                  // missing port
		"LOGIN alice hunter2 notaport",         // bad port
		"LOGIN alice hunter2 70000",            // port out of range
		"JOIN-ROOM lobby bob 10.0.0.2 15601",   // missing datagram port
		"JOIN-ROOM lobby bob 10.0.0.2 x 15502", // bad control port
		"SEARCH",
		"PRINT extra",
	}
	for _, line := range malformed {
		_, err := ParseCommand(line)
		require.ErrorIs(t, err, ErrMalformedCommand, "line %q", line)
	}
}

func TestParsePeerLine(t *testing.T) {
	l := ParsePeerLine(ChatRequestLine(15601, "alice"))
	require.Equal(t, PeerLineChatRequest, l.Kind)
	require.Equal(t, 15601, l.ListenerPort)
	require.Equal(t, "alice", l.Username)

	// A malformed chat request degrades to a plain message.
	require.Equal(t, PeerLineMessage, ParsePeerLine("CHAT-REQUEST notaport alice").Kind)

	l = ParsePeerLine(OKLine("bob"))
	require.Equal(t, PeerLineOK, l.Kind)
	require.Equal(t, "bob", l.Username)
	require.Equal(t, PeerLineOK, ParsePeerLine(OKVerb).Kind)

	require.Equal(t, PeerLineReject, ParsePeerLine(RejectVerb).Kind)
	require.Equal(t, PeerLineBusy, ParsePeerLine(BusyVerb).Kind)

	l = ParsePeerLine(QuitLine(true))
	require.Equal(t, PeerLineQuit, l.Kind)
	require.True(t, l.QuitInitiated)
	l = ParsePeerLine(QuitLine(false))
	require.Equal(t, PeerLineQuit, l.Kind)
	require.False(t, l.QuitInitiated)

	require.Equal(t, PeerLineMessage, ParsePeerLine("hello there").Kind)
	require.Equal(t, "hello there", ParsePeerLine("hello there").Text)
}

func TestHelloDatagrams(t *testing.T) {
	user, ok := ParseHello(HelloDatagram("alice"))
	require.True(t, ok)
	require.Equal(t, "alice", user)

	_, ok = ParseHello([]byte("HELLO"))
	require.False(t, ok)
	_, ok = ParseHello([]byte("not a hello"))
	require.False(t, ok)

	port, ok := ParseHelloAck(HelloAckDatagram(15501))
	require.True(t, ok)
	require.Equal(t, 15501, port)
	_, ok = ParseHelloAck([]byte("HELLO-ACK notaport"))
	require.False(t, ok)
}

func TestReplyHelpers(t *testing.T) {
	require.Equal(t, ReplyOnlineUsers, OnlineUsersReply(nil))
	require.Equal(t, "online-users alice bob", OnlineUsersReply([]string{"alice", "bob"}))

	require.Equal(t, ReplyRoomListEmpty, RoomListReply(nil))
	require.Equal(t, "room-list lobby", RoomListReply([]string{"lobby"}))

	require.Equal(t, ReplyPortUnknown, PortNumberReply(0))
	require.Equal(t, "port-number 15501", PortNumberReply(15501))

	reply := FailureReply("rate limit exceeded")
	require.Equal(t, ReplyFailure, ReplyKeyword(reply))
	require.Equal(t, []string{"rate", "limit", "exceeded"}, ReplyArgs(reply))

	ep, err := ParseSearchSuccess(SearchSuccessReply(model.Endpoint{IP: "10.0.0.1", Port: 15601}))
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", ep.IP)
	require.Equal(t, 15601, ep.Port)

	require.False(t, strings.ContainsAny(ReplySearchNotOnline, " "), "keywords must be single tokens")
}
