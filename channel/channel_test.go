package channel

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	chatDescriptor = &message.Descriptor{Group: 1, Type: 1, Name: "chat", Reliable: true}
	moveDescriptor = &message.Descriptor{Group: 1, Type: 2, Name: "move"}
)

type recordingHandler struct {
	started int
	closing []string
	crashed []error
}

func (h *recordingHandler) OnConnectionStart(*Channel) { h.started++ }

func (h *recordingHandler) OnConnectionClosing(_ *Channel, reason string) {
	h.closing = append(h.closing, reason)
}

func (h *recordingHandler) OnConnectionCrashed(_ *Channel, err error) {
	h.crashed = append(h.crashed, err)
}

type pair struct {
	mock     *clock.Mock
	network  *transport.MemoryNetwork
	registry *message.Registry

	ta, tb *transport.MemoryTransport
	a, b   *Channel
	ha, hb *recordingHandler
}

func newPair(t *testing.T) *pair {
	t.Helper()
	p := &pair{
		mock:     clock.NewMock(time.Unix(1000, 0)),
		registry: message.NewRegistry(),
		ha:       &recordingHandler{},
		hb:       &recordingHandler{},
	}
	require.True(t, p.registry.Register(chatDescriptor))
	require.True(t, p.registry.Register(moveDescriptor))
	p.registry.Freeze()

	p.network = transport.NewMemoryNetwork(p.mock)
	var err error
	p.ta, err = p.network.Listen(0)
	require.NoError(t, err)
	p.tb, err = p.network.Listen(0)
	require.NoError(t, err)

	cfg := Config{TimeProvider: p.mock}
	p.a = New(p.registry, p.tb.LocalAddr(), cfg)
	p.b = New(p.registry, p.ta.LocalAddr(), cfg)
	require.True(t, p.a.Setup(false, p.tb.LocalAddr(), p.ta, "client", p.ha))
	require.True(t, p.b.Setup(true, p.ta.LocalAddr(), p.tb, "server", p.hb))
	return p
}

func chat(text string) message.Message { return message.NewRawMessage(chatDescriptor, []byte(text)) }
func move(text string) message.Message { return message.NewRawMessage(moveDescriptor, []byte(text)) }

// deliver feeds every datagram queued on tr into ch and returns the decoded messages.
func deliver(t *testing.T, tr *transport.MemoryTransport, ch *Channel) []message.Message {
	t.Helper()
	var out []message.Message
	for {
		p, ok := tr.Receive()
		if !ok {
			return out
		}
		out = append(out, process(ch, p)...)
	}
}

func process(ch *Channel, p *transport.Packet) []message.Message {
	var out []message.Message
	if !ch.StartProcessingPacket(p) {
		return nil
	}
	for {
		msg, ok := ch.ProcessPacket(p)
		if !ok {
			break
		}
		out = append(out, msg)
	}
	ch.EndProcessingPacket(p)
	return out
}

func payloads(msgs []message.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.(*message.RawMessage).Payload))
	}
	return out
}

func TestSetupConnects(t *testing.T) {
	p := newPair(t)

	assert.Equal(t, Connected, p.a.ConnectionState())
	assert.Equal(t, 1, p.ha.started)
	assert.Equal(t, "client", p.a.Name())
	assert.False(t, p.a.IsServerSide())
	assert.True(t, p.b.IsServerSide())
	assert.Equal(t, uint32(1), p.a.Stats().OutSequence)
	assert.NotEqual(t, p.a.SessionID(), p.b.SessionID())
	assert.Equal(t, p.mock.Now(), p.a.ConnectTime())
}

func TestSetupFailsWithoutTransport(t *testing.T) {
	reg := message.NewRegistry()
	h := &recordingHandler{}
	ch := New(reg, transport.LoopbackAddress(9), Config{})

	assert.False(t, ch.Setup(false, transport.LoopbackAddress(9), nil, "x", h))
	assert.Equal(t, ConnectionFailed, ch.ConnectionState())
	assert.Zero(t, h.started)

	network := transport.NewMemoryNetwork(nil)
	tr, err := network.Listen(0)
	require.NoError(t, err)
	assert.False(t, ch.Setup(false, transport.Address{}, tr, "x", h))
	assert.Equal(t, ConnectionFailed, ch.ConnectionState())
}

func TestSendDatagramAdvancesSequence(t *testing.T) {
	p := newPair(t)

	for i := 0; i < 3; i++ {
		require.True(t, p.a.SendDatagram(nil))
	}
	assert.Equal(t, uint32(4), p.a.Stats().OutSequence)
	assert.Equal(t, uint64(3), p.a.Stats().PacketsSent)

	var seqs []uint32
	for {
		pkt, ok := p.tb.Receive()
		if !ok {
			break
		}
		seqs = append(seqs, parseHeader(pkt.Data).sequence)
	}
	assert.Equal(t, []uint32{1, 2, 3}, seqs)
}

func TestReliableAndUnreliableShareDatagram(t *testing.T) {
	p := newPair(t)

	require.True(t, p.a.AddMessage(chat("hello"), false))
	require.True(t, p.a.AddMessage(move("step"), false))
	require.True(t, p.a.SendDatagram(nil))
	require.Equal(t, 1, p.tb.Pending())

	got := deliver(t, p.tb, p.b)
	assert.Equal(t, []string{"hello", "step"}, payloads(got))
	assert.Same(t, chatDescriptor, got[0].Descriptor())
	assert.Same(t, moveDescriptor, got[1].Descriptor())

	// Not acknowledged yet: the reliable block goes out again alone.
	require.True(t, p.a.SendDatagram(nil))
	pkt, ok := p.tb.Receive()
	require.True(t, ok)
	h := parseHeader(pkt.Data)
	assert.NotZero(t, h.flags&flagHasReliable)
	block := int(pkt.Data[limits.SequencedHeaderSize])<<8 | int(pkt.Data[limits.SequencedHeaderSize+1])
	assert.Equal(t, limits.SequencedHeaderSize+2+block, pkt.Len(), "unreliable section must be empty")

	// The receiver has seen this block already and must not deliver it twice.
	assert.Empty(t, process(p.b, pkt))

	require.True(t, p.b.SendDatagram(nil))
	deliver(t, p.ta, p.a)
	assert.Zero(t, p.a.Stats().ReliableInFlight)

	require.True(t, p.a.SendDatagram(nil))
	pkt, ok = p.tb.Receive()
	require.True(t, ok)
	assert.Zero(t, parseHeader(pkt.Data).flags&flagHasReliable)
}

func TestReliableRetransmittedAfterLoss(t *testing.T) {
	p := newPair(t)
	dropped := 0
	p.network.SetFilter(func(from, to transport.Address, data []byte) bool {
		if from == p.ta.LocalAddr() && dropped < 2 {
			dropped++
			return false
		}
		return true
	})

	require.True(t, p.a.AddMessage(chat("important"), false))
	require.True(t, p.a.SendDatagram(nil))
	require.True(t, p.a.SendDatagram(nil))
	assert.Empty(t, deliver(t, p.tb, p.b))

	require.True(t, p.a.SendDatagram(nil))
	assert.Equal(t, []string{"important"}, payloads(deliver(t, p.tb, p.b)))
	assert.Equal(t, uint64(2), p.b.Stats().Lost)

	// Still in flight until the peer answers.
	assert.NotZero(t, p.a.Stats().ReliableInFlight)
	require.True(t, p.b.SendDatagram(nil))
	deliver(t, p.ta, p.a)
	assert.Zero(t, p.a.Stats().ReliableInFlight)
}

func TestQueuedReliableWaitsForAck(t *testing.T) {
	p := newPair(t)

	require.True(t, p.a.AddMessage(chat("first"), false))
	require.True(t, p.a.SendDatagram(nil))
	require.True(t, p.a.AddMessage(chat("second"), false))
	require.True(t, p.a.SendDatagram(nil))
	assert.Equal(t, []string{"first"}, payloads(deliver(t, p.tb, p.b)))
	assert.NotZero(t, p.a.Stats().ReliablePending)

	require.True(t, p.b.SendDatagram(nil))
	deliver(t, p.ta, p.a)
	require.True(t, p.a.SendDatagram(nil))
	assert.Equal(t, []string{"second"}, payloads(deliver(t, p.tb, p.b)))
	assert.Zero(t, p.a.Stats().ReliablePending)
}

func TestStaleDatagramDropped(t *testing.T) {
	p := newPair(t)

	require.True(t, p.a.AddMessage(move("once"), false))
	require.True(t, p.a.SendDatagram(nil))
	pkt, ok := p.tb.Receive()
	require.True(t, ok)
	dup := transport.NewPacket(pkt.From, pkt.ReceivedAt, bytes.Clone(pkt.Data))

	assert.Equal(t, []string{"once"}, payloads(process(p.b, pkt)))
	before := p.b.Stats()

	assert.False(t, p.b.StartProcessingPacket(dup))
	after := p.b.Stats()
	assert.Equal(t, before.InSequence, after.InSequence)
	assert.Equal(t, before.PacketsReceived, after.PacketsReceived)
	assert.Equal(t, uint64(1), after.Stale)
	assert.Equal(t, Connected, p.b.ConnectionState())
}

func TestCorruptDatagramDropped(t *testing.T) {
	p := newPair(t)

	require.True(t, p.a.AddMessage(move("payload"), false))
	require.True(t, p.a.SendDatagram(nil))
	pkt, ok := p.tb.Receive()
	require.True(t, ok)
	pkt.Data[len(pkt.Data)-1] ^= 0xFF

	assert.False(t, p.b.StartProcessingPacket(pkt))
	assert.Equal(t, uint64(1), p.b.Stats().Corrupt)
	assert.Zero(t, p.b.Stats().InSequence)
	assert.Equal(t, Connected, p.b.ConnectionState())
	assert.Empty(t, p.hb.crashed)
}

func TestAckOfUnsentSequenceDropped(t *testing.T) {
	p := newPair(t)

	data := appendHeader(nil, header{sequence: 1, ack: 50})
	sealDatagram(data)
	pkt := transport.NewPacket(p.ta.LocalAddr(), p.mock.Now(), data)

	assert.False(t, p.b.StartProcessingPacket(pkt))
	assert.Zero(t, p.b.Stats().InSequence)
	assert.Equal(t, Connected, p.b.ConnectionState())
}

func TestRuntDatagramCrashes(t *testing.T) {
	p := newPair(t)

	pkt := transport.NewPacket(p.ta.LocalAddr(), p.mock.Now(), []byte{1, 2, 3})
	assert.False(t, p.b.StartProcessingPacket(pkt))
	require.Len(t, p.hb.crashed, 1)
	assert.True(t, errors.Is(p.hb.crashed[0], ErrMalformedPacket))
	assert.Len(t, p.hb.closing, 1)
	assert.Equal(t, Disconnected, p.b.ConnectionState())
}

func TestTruncatedReliableBlockCrashes(t *testing.T) {
	p := newPair(t)

	data := appendHeader(nil, header{sequence: 1, flags: flagHasReliable | flagOutReliable})
	data = append(data, 0x01, 0x00, 0xAA)
	sealDatagram(data)
	pkt := transport.NewPacket(p.ta.LocalAddr(), p.mock.Now(), data)

	assert.False(t, p.b.StartProcessingPacket(pkt))
	require.Len(t, p.hb.crashed, 1)
	assert.ErrorIs(t, p.hb.crashed[0], ErrMalformedPacket)
}

func TestReliableOverflowCrashesChannel(t *testing.T) {
	p := newPair(t)
	body := strings.Repeat("x", 200)

	added := 0
	for p.a.AddMessage(chat(body), false) {
		added++
		require.Less(t, added, 10)
	}
	assert.Equal(t, 5, added)
	require.Len(t, p.ha.crashed, 1)
	assert.ErrorIs(t, p.ha.crashed[0], ErrChannelOverflow)
	assert.Len(t, p.ha.closing, 1)
	assert.Equal(t, Disconnected, p.a.ConnectionState())

	// The peer hears about it.
	assert.Empty(t, deliver(t, p.tb, p.b))
	require.Len(t, p.hb.closing, 1)
	assert.Contains(t, p.hb.closing[0], ErrChannelOverflow.Error())
	assert.Equal(t, Disconnected, p.b.ConnectionState())
}

func TestUnreliableOverflowDropsMessage(t *testing.T) {
	p := newPair(t)
	body := strings.Repeat("y", 500)

	assert.True(t, p.a.AddMessage(move(body), false))
	assert.True(t, p.a.AddMessage(move(body), false))
	assert.False(t, p.a.AddMessage(move(body), false))
	assert.Equal(t, uint64(1), p.a.Stats().DroppedUnreliable)
	assert.Equal(t, Connected, p.a.ConnectionState())

	require.True(t, p.a.SendDatagram(nil))
	assert.Len(t, deliver(t, p.tb, p.b), 2)
}

func TestForceReliable(t *testing.T) {
	p := newPair(t)

	require.True(t, p.a.AddMessage(move("must arrive"), true))
	assert.NotZero(t, p.a.Stats().ReliablePending)
}

func TestExtraDataDelivered(t *testing.T) {
	p := newPair(t)

	w := message.NewStreamWriter(p.registry)
	require.NoError(t, w.Write(move("broadcast"), limits.MaxUnreliableStream))
	extra, err := w.Finish()
	require.NoError(t, err)

	require.True(t, p.a.AddMessage(move("own"), false))
	require.True(t, p.a.SendDatagram(extra))
	assert.Equal(t, []string{"own", "broadcast"}, payloads(deliver(t, p.tb, p.b)))
}

func TestShutdownIsIdempotent(t *testing.T) {
	p := newPair(t)

	p.a.Shutdown("bye")
	p.a.Shutdown("bye again")
	assert.Equal(t, []string{"bye"}, p.ha.closing)
	assert.Equal(t, 1, p.ta.Sent())
	assert.Equal(t, Disconnected, p.a.ConnectionState())
	assert.False(t, p.a.AddMessage(chat("late"), false))
	assert.False(t, p.a.SendDatagram(nil))

	assert.Empty(t, deliver(t, p.tb, p.b))
	assert.Equal(t, []string{"bye"}, p.hb.closing)
	assert.Equal(t, Disconnected, p.b.ConnectionState())
}

func TestShutdownWithoutReasonIsSilent(t *testing.T) {
	p := newPair(t)

	p.a.Shutdown("")
	assert.Zero(t, p.ta.Sent())
	assert.Equal(t, []string{""}, p.ha.closing)
}

func TestSetupAfterShutdownStartsFresh(t *testing.T) {
	p := newPair(t)
	require.True(t, p.a.AddMessage(chat("old"), false))
	require.True(t, p.a.SendDatagram(nil))
	first := p.a.SessionID()
	p.a.Shutdown("")

	require.True(t, p.a.Setup(false, p.tb.LocalAddr(), p.ta, "client", p.ha))
	assert.Equal(t, 2, p.ha.started)
	assert.NotEqual(t, first, p.a.SessionID())
	stats := p.a.Stats()
	assert.Equal(t, uint32(1), stats.OutSequence)
	assert.Zero(t, stats.InSequence)
	assert.Zero(t, stats.ReliableInFlight)
}

func TestTimeout(t *testing.T) {
	p := newPair(t)
	p.b.SetTimeout(5 * time.Second)

	assert.False(t, p.b.IsTimedOut(p.mock.Now()))
	p.mock.Advance(4 * time.Second)
	require.True(t, p.a.SendDatagram(nil))
	deliver(t, p.tb, p.b)
	assert.Equal(t, p.mock.Now(), p.b.LastReceived())

	p.mock.Advance(5 * time.Second)
	assert.False(t, p.b.IsTimedOut(p.mock.Now()))
	p.mock.Advance(time.Second)
	assert.True(t, p.b.IsTimedOut(p.mock.Now()))
}

func TestTimeoutIsClamped(t *testing.T) {
	p := newPair(t)

	p.a.SetTimeout(time.Millisecond)
	assert.Equal(t, limits.MinTimeout, p.a.Timeout())
	p.a.SetTimeout(0)
	assert.Equal(t, limits.DefaultTimeout, p.a.Timeout())
}

func TestCanSendFollowsRate(t *testing.T) {
	p := newPair(t)
	p.a.SetRate(1)
	assert.Equal(t, float64(limits.MinRate), p.a.Rate())

	now := p.mock.Now()
	assert.True(t, p.a.CanSend(now))

	body := strings.Repeat("z", 1000)
	require.True(t, p.a.AddMessage(move(body), false))
	require.True(t, p.a.SendDatagram(nil))
	assert.True(t, p.a.CanSend(now))

	require.True(t, p.a.AddMessage(move(body), false))
	require.True(t, p.a.SendDatagram(nil))
	assert.False(t, p.a.CanSend(now))

	p.mock.Advance(time.Second)
	assert.True(t, p.a.CanSend(p.mock.Now()))
}

func TestSetConnectionState(t *testing.T) {
	ch := New(message.NewRegistry(), transport.LoopbackAddress(1), Config{})

	assert.True(t, ch.SetConnectionState(Connecting))
	assert.True(t, ch.SetConnectionState(ConnectionFailed))
	assert.True(t, ch.SetConnectionState(Connecting))
	assert.True(t, ch.SetConnectionState(Disconnected))
	assert.False(t, ch.SetConnectionState(Connected))
	assert.False(t, ch.SetConnectionState(ConnectionFailed))

	// Shutdown of a pending handshake just abandons it.
	require.True(t, ch.SetConnectionState(Connecting))
	ch.Shutdown("cancel")
	assert.Equal(t, Disconnected, ch.ConnectionState())
}

func TestNopIsConsumed(t *testing.T) {
	p := newPair(t)

	require.True(t, p.a.AddMessage(&message.Nop{}, false))
	require.True(t, p.a.AddMessage(move("after"), false))
	require.True(t, p.a.SendDatagram(nil))
	assert.Equal(t, []string{"after"}, payloads(deliver(t, p.tb, p.b)))
}
