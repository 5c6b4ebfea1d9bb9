package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hash)
	require.NotContains(t, hash, " ", "hashes travel in space-delimited commands")

	require.NoError(t, CheckPassword(hash, "hunter2"))
	require.ErrorIs(t, CheckPassword(hash, "wrong"), ErrWrongPassword)
	require.ErrorIs(t, CheckPassword("not a bcrypt hash", "hunter2"), ErrWrongPassword)
}
