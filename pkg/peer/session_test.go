package peer

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type endEvent struct {
	remote string
	reason EndReason
}

// pairedSessions wires two chat sessions over an in-memory pipe.
func pairedSessions(t *testing.T) (a, b *ChatSession, aMsgs, bMsgs chan string, aEnd, bEnd chan endEvent) {
	t.Helper()
	connA, connB := net.Pipe()

	aMsgs, bMsgs = make(chan string, 8), make(chan string, 8)
	aEnd, bEnd = make(chan endEvent, 1), make(chan endEvent, 1)

	var slotA, slotB sessionSlot
	require.True(t, slotA.TryReserve())
	require.True(t, slotA.Activate())
	require.True(t, slotB.TryReserve())
	require.True(t, slotB.Activate())

	a = newChatSession(connA, bufio.NewReader(connA), "bob", &slotA,
		func(_, text string) { aMsgs <- text },
		func(remote string, reason EndReason) { aEnd <- endEvent{remote, reason} })
	b = newChatSession(connB, bufio.NewReader(connB), "alice", &slotB,
		func(_, text string) { bMsgs <- text },
		func(remote string, reason EndReason) { bEnd <- endEvent{remote, reason} })
	return
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestSessionMessageExchange(t *testing.T) {
	a, b, aMsgs, bMsgs, _, _ := pairedSessions(t)
	defer a.end(EndedLocal)
	defer b.end(EndedLocal)

	require.NoError(t, a.Send("hello bob"))
	require.Equal(t, "hello bob", recv(t, bMsgs, "bob's message"))

	require.NoError(t, b.Send("hi alice"))
	require.Equal(t, "hi alice", recv(t, aMsgs, "alice's message"))
}

func TestSessionQuitSymmetry(t *testing.T) {
	a, b, _, _, aEnd, bEnd := pairedSessions(t)
	_ = b

	a.Quit()

	got := recv(t, aEnd, "alice's end event")
	require.Equal(t, EndedLocal, got.reason, "the quitting side ended the chat itself")
	require.Equal(t, "bob", got.remote)

	got = recv(t, bEnd, "bob's end event")
	require.Equal(t, EndedRemote, got.reason, "the other side sees a remote-initiated quit")
	require.Equal(t, "alice", got.remote)
}

func TestSessionAbruptDisconnect(t *testing.T) {
	a, b, _, _, aEnd, _ := pairedSessions(t)
	_ = a

	// b vanishes without a quit marker.
	b.conn.Close()

	got := recv(t, aEnd, "alice's end event")
	require.Equal(t, EndedAbrupt, got.reason,
		"a zero-length read is reported as a dropped connection, not a quit")
}

func TestSessionKeepsBytesBufferedPastHandshake(t *testing.T) {
	// A handshake read can buffer past its line; whatever the reader holds
	// when the session takes over must still be delivered.
	connA, connB := net.Pipe()
	t.Cleanup(func() { _ = connA.Close(); _ = connB.Close() })

	go func() {
		_, _ = connB.Write([]byte("OK bob\nearly bird\n"))
	}()

	br := bufio.NewReader(connA)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "OK bob\n", line)

	var slot sessionSlot
	require.True(t, slot.TryReserve())
	require.True(t, slot.Activate())

	msgs := make(chan string, 1)
	s := newChatSession(connA, br, "bob", &slot,
		func(_, text string) { msgs <- text },
		nil)
	defer s.end(EndedLocal)

	require.Equal(t, "early bird", recv(t, msgs, "buffered message"))
}

func TestSessionSlotFreedOnEnd(t *testing.T) {
	a, _, _, _, aEnd, _ := pairedSessions(t)

	a.Quit()
	recv(t, aEnd, "end event")
	require.Equal(t, StateIdle, a.slot.State())
}
