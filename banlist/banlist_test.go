package banlist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock(time.Unix(1700000000, 0))
	s, err := Open(":memory:", mock)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mock
}

func TestBanAndUnban(t *testing.T) {
	ctx := context.Background()
	s, _ := openMemory(t)

	require.NoError(t, s.Ban(ctx, "10.0.0.7", "cheating"))
	banned, reason, err := s.IsBanned(ctx, "10.0.0.7")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, "cheating", reason)

	assert.ErrorIs(t, s.Ban(ctx, "10.0.0.7", "again"), ErrAlreadyBanned)

	require.NoError(t, s.Unban(ctx, "10.0.0.7"))
	banned, _, err = s.IsBanned(ctx, "10.0.0.7")
	require.NoError(t, err)
	assert.False(t, banned)
	assert.ErrorIs(t, s.Unban(ctx, "10.0.0.7"), ErrNotBanned)
}

func TestInvalidAddress(t *testing.T) {
	ctx := context.Background()
	s, _ := openMemory(t)

	assert.ErrorIs(t, s.Ban(ctx, "not-an-ip", ""), ErrInvalidAddress)
	_, _, err := s.IsBanned(ctx, "300.1.1.1")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestMappedAddressesMatch(t *testing.T) {
	ctx := context.Background()
	s, _ := openMemory(t)

	require.NoError(t, s.Ban(ctx, "::ffff:192.168.1.9", ""))
	banned, reason, err := s.IsBanned(ctx, "192.168.1.9")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, "banned", reason)
}

func TestListOrdersByTime(t *testing.T) {
	ctx := context.Background()
	s, mock := openMemory(t)

	require.NoError(t, s.Ban(ctx, "10.0.0.2", "second"))
	mock.Advance(time.Minute)
	require.NoError(t, s.Ban(ctx, "10.0.0.1", "third"))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "10.0.0.2", entries[0].Addr)
	assert.Equal(t, time.Unix(1700000000, 0), entries[0].CreatedAt)
	assert.Equal(t, "third", entries[1].Reason)
}

func TestAdmit(t *testing.T) {
	ctx := context.Background()
	s, _ := openMemory(t)
	require.NoError(t, s.Ban(ctx, "127.0.0.1", "griefing"))

	err := s.Admit(transport.LoopbackAddress(40000))
	assert.ErrorIs(t, err, ErrBanned)
	assert.Contains(t, err.Error(), "griefing")

	other, err := transport.ParseAddress("10.1.1.1:27002")
	require.NoError(t, err)
	assert.NoError(t, s.Admit(other))
}

func TestPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bans.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Ban(ctx, "10.9.9.9", "spam"))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	banned, _, err := s.IsBanned(ctx, "10.9.9.9")
	require.NoError(t, err)
	assert.True(t, banned)
}
