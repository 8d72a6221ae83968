package main

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/gamenet"
	"github.com/opd-ai/gamenet/banlist"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/config"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessageEncoding(t *testing.T) {
	registry := message.NewRegistry()
	require.True(t, registry.Register(chatDescriptor))

	w := message.NewStreamWriter(registry)
	require.NoError(t, w.Write(&ChatMessage{From: "alice", Text: "gl hf"}, limits.MaxReliableStream))
	data, err := w.Finish()
	require.NoError(t, err)

	msg, err := message.NewStreamReader(registry, data).Next()
	require.NoError(t, err)
	chat, ok := msg.(*ChatMessage)
	require.True(t, ok)
	assert.Equal(t, "alice", chat.From)
	assert.Equal(t, "gl hf", chat.Text)
}

func TestChatMessageTruncatesLongFields(t *testing.T) {
	long := make([]byte, 2*limits.MaxMessageBody)
	for i := range long {
		long[i] = 'a'
	}
	body, err := (&ChatMessage{From: string(long), Text: string(long)}).MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, body, limits.MaxMessageBody)
	assert.Equal(t, byte(limits.MaxNameLength), body[0])
}

func TestChatMessageRejectsShortBody(t *testing.T) {
	var m ChatMessage
	assert.ErrorIs(t, m.UnmarshalBinary(nil), errChatTooShort)
	assert.ErrorIs(t, m.UnmarshalBinary([]byte{5, 'a'}), errChatTooShort)
	require.NoError(t, m.UnmarshalBinary([]byte{0, 'h', 'i'}))
	assert.Equal(t, "hi", m.Text)
}

func TestServerRelaysChat(t *testing.T) {
	mock := clock.NewMock(time.Unix(100, 0))
	network := transport.NewMemoryNetwork(mock)
	newSystem := func(name string) *gamenet.NetworkSystem {
		cfg := config.Default()
		cfg.Client.Name = name
		n := gamenet.New(cfg, gamenet.WithTransportFactory(network.Factory()), gamenet.WithTimeProvider(mock))
		require.True(t, n.RegisterMessage(chatDescriptor))
		return n
	}
	server := newSystem("")
	client := newSystem("alice")
	require.True(t, server.StartServer(0))
	require.True(t, client.StartClient(0))
	defer server.Shutdown()
	defer client.Shutdown()

	serverTick := func() {
		server.ServerReceiveMessages()
		for ev, ok := server.FirstEvent(); ok; ev, ok = server.NextEvent() {
			handleServerEvent(server, ev)
		}
		server.ServerSendMessages()
	}
	var received []*ChatMessage
	clientTick := func() bool {
		client.ClientReceiveMessages()
		alive := true
		for ev, ok := client.FirstEvent(); ok; ev, ok = client.NextEvent() {
			if chat, isChat := ev.Message.(*ChatMessage); isChat {
				received = append(received, chat)
			}
			alive = handleClientEvent(ev) && alive
		}
		client.ClientSendMessages()
		return alive
	}

	ch := client.ConnectClientToServer("localhost", 0)
	require.NotNil(t, ch)
	serverTick()
	require.True(t, clientTick())

	require.True(t, ch.AddMessage(&ChatMessage{From: "spoofed", Text: "hello"}, false))
	client.ClientSendMessages()
	serverTick()
	require.True(t, clientTick())

	require.Len(t, received, 1)
	assert.Equal(t, "alice", received[0].From)
	assert.Equal(t, "hello", received[0].Text)

	server.ShutdownServer()
	assert.False(t, clientTick())
}

func TestRunTicksStopsWhenTickDeclines(t *testing.T) {
	calls := 0
	runTicks(context.Background(), clock.RealTimeProvider{}, 1000, func() bool {
		calls++
		return calls < 3
	})
	assert.Equal(t, 3, calls)
}

func TestRunTicksStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runTicks(ctx, clock.RealTimeProvider{}, 1, func() bool {
		t.Fatal("tick after cancel")
		return false
	})
}

func TestBanTable(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data := banTable([]banlist.Entry{{Addr: "203.0.113.7", Reason: "cheat", CreatedAt: at}})
	require.Len(t, data, 2)
	assert.Equal(t, []string{"203.0.113.7", "cheat", at.Format("2006-01-02 15:04:05")}, data[1])
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"server", "client", "ping", "ban", "config"} {
		assert.True(t, names[want], want)
	}
	assert.Len(t, banCmd.Commands(), 3)
}
