package transport

import (
	"testing"
	"time"

	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNetworkDelivery(t *testing.T) {
	mock := clock.NewMock(time.Unix(100, 0))
	network := NewMemoryNetwork(mock)

	server, err := network.Listen(27001)
	require.NoError(t, err)
	client, err := network.Listen(0)
	require.NoError(t, err)
	assert.NotEqual(t, server.LocalAddr(), client.LocalAddr())

	require.NoError(t, client.SendTo([]byte("one"), server.LocalAddr()))
	require.NoError(t, client.SendTo([]byte("two"), server.LocalAddr()))
	assert.Equal(t, 2, server.Pending())
	assert.Equal(t, 2, client.Sent())

	p, ok := server.Receive()
	require.True(t, ok)
	assert.Equal(t, "one", string(p.Data))
	assert.Equal(t, client.LocalAddr(), p.From)
	assert.Equal(t, mock.Now(), p.ReceivedAt)

	p, ok = server.Receive()
	require.True(t, ok)
	assert.Equal(t, "two", string(p.Data))

	_, ok = server.Receive()
	assert.False(t, ok)
}

func TestMemoryNetworkOwnership(t *testing.T) {
	network := NewMemoryNetwork(nil)
	a, _ := network.Listen(0)
	b, _ := network.Listen(0)

	buf := []byte("abc")
	require.NoError(t, a.SendTo(buf, b.LocalAddr()))
	buf[0] = 'z'

	p, ok := b.Receive()
	require.True(t, ok)
	assert.Equal(t, "abc", string(p.Data), "receiver must own a copy")
}

func TestMemoryNetworkAddressInUse(t *testing.T) {
	network := NewMemoryNetwork(nil)
	_, err := network.Listen(27001)
	require.NoError(t, err)

	_, err = network.Listen(27001)
	assert.ErrorIs(t, err, ErrAddressInUse)
}

func TestMemoryNetworkFilterAndClose(t *testing.T) {
	network := NewMemoryNetwork(nil)
	a, _ := network.Listen(0)
	b, _ := network.Listen(0)

	network.SetFilter(func(from, to Address, data []byte) bool {
		return string(data) != "lost"
	})
	require.NoError(t, a.SendTo([]byte("lost"), b.LocalAddr()))
	require.NoError(t, a.SendTo([]byte("kept"), b.LocalAddr()))
	assert.Equal(t, 1, b.Pending())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.NoError(t, a.SendTo([]byte("gone"), b.LocalAddr()), "sending to an unbound port is not an error")

	err := b.SendTo([]byte("x"), a.LocalAddr())
	assert.ErrorIs(t, err, ErrClosed)

	// The port is free again after Close.
	_, err = network.Listen(int(b.LocalAddr().Port()))
	assert.NoError(t, err)
}

func TestMemoryTransportRejectsOversized(t *testing.T) {
	network := NewMemoryNetwork(nil)
	a, _ := network.Listen(0)

	err := a.SendTo(make([]byte, limits.MaxDatagramSize+1), LoopbackAddress(1))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "send", opErr.Op)
}
