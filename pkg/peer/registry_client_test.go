package peer

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerchat/pkg/model"
	"peerchat/pkg/protocol"
)

// fakeRegistry accepts one control connection and runs the script against
// it. The script runs on a goroutine, so it reports with assert rather than
// require.
func fakeRegistry(t *testing.T, script func(t *testing.T, conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		script(t, conn)
	}()
	return ln.Addr().String()
}

// expectCommand reads one command frame and checks its leading keyword.
func expectCommand(t *testing.T, conn net.Conn, keyword string) string {
	typ, payload, err := protocol.ReadFrame(conn)
	if !assert.NoError(t, err) {
		return ""
	}
	assert.Equal(t, protocol.FrameCommand, typ)
	line := string(payload)
	assert.True(t, strings.HasPrefix(line, keyword), "expected %s command, got %q", keyword, line)
	return line
}

func dialFake(t *testing.T, addr string) *RegistryClient {
	t.Helper()
	c, err := DialRegistry(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateAccountReplyMapping(t *testing.T) {
	cases := []struct {
		reply   string
		wantErr error
	}{
		{protocol.ReplyJoinSuccess, nil},
		{protocol.ReplyJoinExist, ErrAccountExists},
	}
	for _, tc := range cases {
		t.Run(tc.reply, func(t *testing.T) {
			addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
				line := expectCommand(t, conn, "JOIN ")
				// The password never crosses the wire in the clear.
				assert.NotContains(t, line, "hunter2")
				assert.NoError(t, protocol.WriteReply(conn, tc.reply))
			})
			c := dialFake(t, addr)
			err := c.CreateAccount("alice", "hunter2")
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCreateAccountRejectsBadInput(t *testing.T) {
	c := &RegistryClient{} // input validation happens before any I/O
	require.Error(t, c.CreateAccount("", "hunter2"))
	require.Error(t, c.CreateAccount("alice", ""))
	require.Error(t, c.CreateAccount("alice", "has space"))
}

func TestLoginReplyMapping(t *testing.T) {
	cases := []struct {
		reply   string
		wantErr error
	}{
		{protocol.ReplyLoginSuccess, nil},
		{protocol.ReplyLoginAccountNotExist, ErrAccountNotFound},
		{protocol.ReplyLoginWrongPassword, ErrWrongPassword},
		{protocol.ReplyLoginOnline, ErrAlreadyOnline},
	}
	for _, tc := range cases {
		t.Run(tc.reply, func(t *testing.T) {
			addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
				expectCommand(t, conn, "LOGIN alice hunter2 15601")
				assert.NoError(t, protocol.WriteReply(conn, tc.reply))
			})
			c := dialFake(t, addr)
			require.ErrorIs(t, c.Login("alice", "hunter2", 15601), tc.wantErr)
		})
	}
}

func TestSearchReplyMapping(t *testing.T) {
	t.Run("online", func(t *testing.T) {
		addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
			expectCommand(t, conn, "SEARCH bob")
			ep := model.Endpoint{IP: "10.1.2.3", Port: 4567}
			assert.NoError(t, protocol.WriteReply(conn, protocol.SearchSuccessReply(ep)))
		})
		c := dialFake(t, addr)
		ep, err := c.Search("bob")
		require.NoError(t, err)
		require.Equal(t, "10.1.2.3", ep.IP)
		require.Equal(t, 4567, ep.Port)
	})

	t.Run("offline", func(t *testing.T) {
		addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
			expectCommand(t, conn, "SEARCH bob")
			assert.NoError(t, protocol.WriteReply(conn, protocol.ReplySearchNotOnline))
		})
		c := dialFake(t, addr)
		_, err := c.Search("bob")
		require.ErrorIs(t, err, ErrPeerOffline)
	})

	t.Run("unknown", func(t *testing.T) {
		addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
			expectCommand(t, conn, "SEARCH bob")
			assert.NoError(t, protocol.WriteReply(conn, protocol.ReplySearchNotFound))
		})
		c := dialFake(t, addr)
		_, err := c.Search("bob")
		require.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestListRooms(t *testing.T) {
	t.Run("some", func(t *testing.T) {
		addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
			expectCommand(t, conn, "PRINT_CHATROOMS")
			assert.NoError(t, protocol.WriteReply(conn, protocol.RoomListReply([]string{"lobby", "dev"})))
		})
		c := dialFake(t, addr)
		rooms, err := c.ListRooms()
		require.NoError(t, err)
		require.Equal(t, []string{"lobby", "dev"}, rooms)
	})

	t.Run("none", func(t *testing.T) {
		addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
			expectCommand(t, conn, "PRINT_CHATROOMS")
			assert.NoError(t, protocol.WriteReply(conn, protocol.ReplyRoomListEmpty))
		})
		c := dialFake(t, addr)
		rooms, err := c.ListRooms()
		require.NoError(t, err)
		require.Empty(t, rooms)
	})
}

func TestJoinRoomAndPushedEvents(t *testing.T) {
	members := []model.Member{
		{Username: "alice", IP: "10.0.0.1", ControlPort: 15601, DatagramPort: 15501},
		{Username: "bob", IP: "10.0.0.2", ControlPort: 15601, DatagramPort: 15502},
	}
	addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
		expectCommand(t, conn, "JOIN-ROOM lobby bob ")
		assert.NoError(t, protocol.WriteMemberList(conn, "lobby", members))

		// An async member-joined push lands on the Events channel.
		assert.NoError(t, protocol.WriteRoomEvent(conn, protocol.RoomEvent{
			Kind:   protocol.EventMemberJoined,
			Room:   "lobby",
			Member: model.Member{Username: "carol", IP: "10.0.0.3", DatagramPort: 15503},
		}))
	})

	c := dialFake(t, addr)
	got, err := c.JoinRoom("lobby", "bob", "10.0.0.2", 15601, 15502)
	require.NoError(t, err)
	require.Equal(t, members, got)

	select {
	case ev := <-c.Events():
		require.Equal(t, protocol.EventMemberJoined, ev.Kind)
		require.Equal(t, "carol", ev.Member.Username)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed room event")
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
		expectCommand(t, conn, "JOIN-ROOM ")
		assert.NoError(t, protocol.WriteReply(conn, protocol.ReplyRoomNotFound))
	})
	c := dialFake(t, addr)
	_, err := c.JoinRoom("nowhere", "bob", "10.0.0.2", 15601, 15502)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestDatagramPortReply(t *testing.T) {
	t.Run("known", func(t *testing.T) {
		addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
			expectCommand(t, conn, "PORTNUMBER")
			assert.NoError(t, protocol.WriteReply(conn, protocol.PortNumberReply(15501)))
		})
		c := dialFake(t, addr)
		port, err := c.DatagramPort()
		require.NoError(t, err)
		require.Equal(t, 15501, port)
	})

	t.Run("unknown", func(t *testing.T) {
		addr := fakeRegistry(t, func(t *testing.T, conn net.Conn) {
			expectCommand(t, conn, "PORTNUMBER")
			assert.NoError(t, protocol.WriteReply(conn, protocol.PortNumberReply(0)))
		})
		c := dialFake(t, addr)
		port, err := c.DatagramPort()
		require.NoError(t, err)
		require.Zero(t, port)
	})
}
