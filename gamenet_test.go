package gamenet

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/config"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chatDescriptor = &message.Descriptor{Group: 2, Type: 1, Name: "chat", Reliable: true}

func newSystem(t *testing.T, network *transport.MemoryNetwork, mock *clock.Mock) *NetworkSystem {
	t.Helper()
	return New(config.Default(),
		WithTransportFactory(network.Factory()),
		WithTimeProvider(mock),
	)
}

func events(n *NetworkSystem) []Event {
	var out []Event
	for ev, ok := n.FirstEvent(); ok; ev, ok = n.NextEvent() {
		out = append(out, ev)
	}
	return out
}

func TestRegisterMessageRules(t *testing.T) {
	network := transport.NewMemoryNetwork(nil)
	n := newSystem(t, network, clock.NewMock(time.Unix(0, 0)))

	assert.False(t, n.RegisterMessage(&message.Descriptor{Group: 0, Type: 9, Name: "system"}))
	assert.True(t, n.RegisterMessage(chatDescriptor))
	assert.False(t, n.RegisterMessage(chatDescriptor))

	require.True(t, n.StartServer(0))
	defer n.Shutdown()
	assert.False(t, n.RegisterMessage(&message.Descriptor{Group: 3, Type: 1, Name: "late"}))
	assert.Nil(t, n.Registry().Find(3, 1))
}

func TestStartTwiceFails(t *testing.T) {
	network := transport.NewMemoryNetwork(nil)
	n := newSystem(t, network, clock.NewMock(time.Unix(0, 0)))
	defer n.Shutdown()

	require.True(t, n.StartServer(0))
	assert.False(t, n.StartServer(0))
	assert.Equal(t, limits.DefaultServerPort, int(n.Server().LocalAddr().Port()))

	require.True(t, n.StartClient(0))
	assert.False(t, n.StartClient(0))
	assert.Equal(t, limits.DefaultClientPort, int(n.Client().LocalAddr().Port()))
}

func TestStartFailsWhenTransportFails(t *testing.T) {
	n := New(nil, WithTransportFactory(func(int) (transport.Transport, error) {
		return nil, errors.New("address in use")
	}))

	assert.False(t, n.StartServer(0))
	assert.False(t, n.StartClient(0))
	assert.Nil(t, n.Server())
	assert.Nil(t, n.ConnectClientToServer("localhost", 0))
}

func TestClientServerSession(t *testing.T) {
	mock := clock.NewMock(time.Unix(100, 0))
	network := transport.NewMemoryNetwork(mock)
	server := newSystem(t, network, mock)
	client := newSystem(t, network, mock)
	for _, n := range []*NetworkSystem{server, client} {
		require.True(t, n.RegisterMessage(chatDescriptor))
	}
	require.True(t, server.StartServer(0))
	require.True(t, client.StartClient(0))
	defer server.Shutdown()
	defer client.Shutdown()

	ch := client.ConnectClientToServer("localhost", 0)
	require.NotNil(t, ch)
	assert.Equal(t, channel.Connecting, ch.ConnectionState())

	server.ServerReceiveMessages()
	evs := events(server)
	require.Len(t, evs, 1)
	require.Equal(t, EventConnected, evs[0].Type)
	peer := evs[0].Channel

	client.ClientReceiveMessages()
	evs = events(client)
	require.Len(t, evs, 1)
	assert.Equal(t, EventConnected, evs[0].Type)
	assert.Equal(t, channel.Connected, ch.ConnectionState())

	require.True(t, ch.AddMessage(message.NewRawMessage(chatDescriptor, []byte("gg")), false))
	client.ClientSendMessages()
	server.ServerReceiveMessages()
	evs = events(server)
	require.Len(t, evs, 1)
	assert.Equal(t, EventMessageReceived, evs[0].Type)
	assert.Same(t, peer, evs[0].Channel)
	assert.Equal(t, []byte("gg"), evs[0].Message.(*message.RawMessage).Payload)

	client.DisconnectClientFromServer(ch)
	evs = events(client)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDisconnected, evs[0].Type)

	server.ServerReceiveMessages()
	evs = events(server)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDisconnected, evs[0].Type)
	assert.Equal(t, "client disconnected", evs[0].Reason)
	server.ServerReceiveMessages()
	assert.Empty(t, server.Server().Peers())
}

func TestSilentClientTimesOut(t *testing.T) {
	mock := clock.NewMock(time.Unix(100, 0))
	network := transport.NewMemoryNetwork(mock)
	server := newSystem(t, network, mock)
	client := newSystem(t, network, mock)
	require.True(t, server.StartServer(0))
	require.True(t, client.StartClient(0))
	defer server.Shutdown()

	require.NotNil(t, client.ConnectClientToServer("localhost", 0))
	server.ServerReceiveMessages()
	require.Len(t, events(server), 1)

	// The client goes quiet without sending a disconnect.
	mock.Advance(limits.DefaultTimeout + time.Second)

	server.ServerReceiveMessages()
	evs := events(server)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDisconnected, evs[0].Type)
	assert.Equal(t, "timed out", evs[0].Reason)

	mock.Advance(limits.DefaultTimeout)
	server.ServerReceiveMessages()
	assert.Empty(t, events(server))
}

func TestIdentityQueries(t *testing.T) {
	n := New(nil)
	assert.NotEmpty(t, n.LocalHostName())
	assert.NotEmpty(t, n.LocalAddress())
}
