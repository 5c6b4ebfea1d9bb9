package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"peerchat/pkg/model"
)

// forEachStore runs a test against both DataStore implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, st DataStore)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		st := NewMemory()
		defer func() { _ = st.Close() }()
		fn(t, st)
	})

	t.Run("sqlite", func(t *testing.T) {
		st, err := New(filepath.Join(t.TempDir(), "peerchat.db"))
		require.NoError(t, err)
		defer func() { _ = st.Close() }()
		fn(t, st)
	})
}

func TestAccounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, st DataStore) {
		exists, err := st.AccountExists("alice")
		require.NoError(t, err)
		require.False(t, exists)

		require.NoError(t, st.RegisterAccount("alice", "hash-1"))
		exists, err = st.AccountExists("alice")
		require.NoError(t, err)
		require.True(t, exists)

		require.ErrorIs(t, st.RegisterAccount("alice", "hash-2"), ErrAccountExists)

		hash, err := st.PasswordHash("alice")
		require.NoError(t, err)
		require.Equal(t, "hash-1", hash, "a duplicate register must not overwrite the hash")

		_, err = st.PasswordHash("ghost")
		require.ErrorIs(t, err, ErrNotFound)

		require.Error(t, st.RegisterAccount("", "hash"))
		require.Error(t, st.RegisterAccount("bad name", "hash"))
	})
}

func TestPresence(t *testing.T) {
	forEachStore(t, func(t *testing.T, st DataStore) {
		online, err := st.IsOnline("alice")
		require.NoError(t, err)
		require.False(t, online)

		require.NoError(t, st.SetOnline("alice", "10.0.0.1", 15601))
		online, err = st.IsOnline("alice")
		require.NoError(t, err)
		require.True(t, online)

		ep, err := st.Endpoint("alice")
		require.NoError(t, err)
		require.Equal(t, model.Endpoint{IP: "10.0.0.1", Port: 15601}, ep)

		require.NoError(t, st.SetDatagramPort("alice", 15501))
		// Recording a port for an offline user is a silent no-op.
		require.NoError(t, st.SetDatagramPort("ghost", 15501))

		_, err = st.Endpoint("ghost")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, st.SetOffline("alice"))
		require.NoError(t, st.SetOffline("alice"), "double offline is a no-op")
		online, err = st.IsOnline("alice")
		require.NoError(t, err)
		require.False(t, online)
	})
}

func TestClearPresence(t *testing.T) {
	forEachStore(t, func(t *testing.T, st DataStore) {
		require.NoError(t, st.SetOnline("alice", "10.0.0.1", 1))
		require.NoError(t, st.SetOnline("bob", "10.0.0.2", 2))

		require.NoError(t, st.ClearPresence())

		for _, u := range []string{"alice", "bob"} {
			online, err := st.IsOnline(u)
			require.NoError(t, err)
			require.False(t, online)
		}
	})
}

func TestRooms(t *testing.T) {
	forEachStore(t, func(t *testing.T, st DataStore) {
		created, err := st.CreateRoom("lobby")
		require.NoError(t, err)
		require.True(t, created)

		created, err = st.CreateRoom("lobby")
		require.NoError(t, err)
		require.False(t, created, "re-creating a room is a no-op")

		_, err = st.CreateRoom("bad name")
		require.Error(t, err)

		exists, err := st.RoomExists("lobby")
		require.NoError(t, err)
		require.True(t, exists)

		_, err = st.CreateRoom("dev")
		require.NoError(t, err)
		names, err := st.ListRoomNames()
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"lobby", "dev"}, names)
	})
}

func TestRoomMembership(t *testing.T) {
	forEachStore(t, func(t *testing.T, st DataStore) {
		alice := model.Member{Username: "alice", IP: "10.0.0.1", ControlPort: 1, DatagramPort: 11}
		bob := model.Member{Username: "bob", IP: "10.0.0.2", ControlPort: 2, DatagramPort: 22}

		require.ErrorIs(t, st.AddMember("nowhere", alice), ErrNotFound)
		_, err := st.ListMembers("nowhere")
		require.ErrorIs(t, err, ErrNotFound)

		_, err = st.CreateRoom("lobby")
		require.NoError(t, err)

		require.NoError(t, st.AddMember("lobby", bob))
		require.NoError(t, st.AddMember("lobby", alice))

		// Adding an existing member keeps the original endpoints.
		changed := alice
		changed.DatagramPort = 9999
		require.NoError(t, st.AddMember("lobby", changed))

		members, err := st.ListMembers("lobby")
		require.NoError(t, err)
		require.Equal(t, []model.Member{alice, bob}, members, "members sort by username")

		require.NoError(t, st.RemoveMember("lobby", "bob"))
		require.NoError(t, st.RemoveMember("lobby", "bob"), "double remove is a no-op")
		require.NoError(t, st.RemoveMember("nowhere", "bob"), "remove from missing room is a no-op")

		members, err = st.ListMembers("lobby")
		require.NoError(t, err)
		require.Equal(t, []model.Member{alice}, members)
	})
}
