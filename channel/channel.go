package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/logging"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// connectionlessMarker is reserved for out-of-band datagrams, so the outgoing
// sequence must never reach it.
const connectionlessMarker = 0xFFFFFFFF

// Config holds the tunables of a Channel.
type Config struct {
	// Rate is the maximum transmit rate in bytes per second.
	Rate float64
	// Timeout is how long the peer may stay silent before the channel times out.
	Timeout time.Duration
	// FlushLog logs every datagram sent and received.
	FlushLog bool
	// TimeProvider supplies wall-clock time (injectable for testing).
	TimeProvider clock.TimeProvider
}

// Stats is a snapshot of a channel's counters.
type Stats struct {
	OutSequence    uint32
	InSequence     uint32
	OutSequenceAck uint32

	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64

	// Stale counts datagrams dropped for a sequence at or below InSequence.
	Stale uint64
	// Corrupt counts datagrams dropped for a checksum mismatch.
	Corrupt uint64
	// Lost counts sequence gaps observed on receive.
	Lost uint64
	// DroppedUnreliable counts unreliable messages that never left the channel.
	DroppedUnreliable uint64

	ReliablePending  int
	ReliableInFlight int
}

// Channel is one sequenced, bidirectional connection to a peer.
//
// A Channel is not safe for concurrent use; the owning connection manager
// drives it from a single tick loop.
type Channel struct {
	registry *message.Registry
	tp       clock.TimeProvider
	flushLog bool

	remote     transport.Address
	tr         transport.Transport
	handler    Handler
	name       string
	serverSide bool
	sessionID  uuid.UUID

	state            ConnectionState
	outSequence      uint32
	inSequence       uint32
	outSequenceAck   uint32
	outReliableState bool
	inReliableState  bool

	reliable   *message.StreamWriter
	inFlight   []byte
	unreliable *message.StreamWriter

	rate         float64
	timeout      time.Duration
	limiter      *rate.Limiter
	lastReceived time.Time
	connectTime  time.Time

	decoding         *transport.Packet
	reliableReader   *message.StreamReader
	unreliableReader *message.StreamReader

	stats Stats
}

// New creates a Disconnected channel for the peer at remote.
func New(registry *message.Registry, remote transport.Address, cfg Config) *Channel {
	c := &Channel{
		registry:   registry,
		tp:         clock.Or(cfg.TimeProvider),
		flushLog:   cfg.FlushLog,
		remote:     remote,
		state:      Disconnected,
		reliable:   message.NewStreamWriter(registry),
		unreliable: message.NewStreamWriter(registry),
		rate:       limits.ClampRate(cfg.Rate),
		timeout:    limits.ClampTimeout(cfg.Timeout),
	}
	c.limiter = rate.NewLimiter(rate.Limit(c.rate), limits.MaxDatagramSize)
	return c
}

// logger returns an entry carrying the channel's identity fields.
func (c *Channel) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"remote_addr": c.remote.String(),
		"session":     c.sessionID.String(),
		"server_side": c.serverSide,
		"component":   "Channel",
	})
}

// Setup (re)initializes the channel for a fresh connection and notifies the
// handler. It may be called on a channel that was shut down before.
// It returns false, leaving the channel ConnectionFailed, when addr is not
// usable or tr is nil.
func (c *Channel) Setup(serverSide bool, addr transport.Address, tr transport.Transport, name string, h Handler) bool {
	now := c.tp.Now()

	c.serverSide = serverSide
	c.remote = addr
	c.name = name
	c.handler = h
	c.sessionID = uuid.New()

	c.outSequence = 1
	c.inSequence = 0
	c.outSequenceAck = 0
	c.outReliableState = false
	c.inReliableState = false

	c.reliable.Reset()
	c.unreliable.Reset()
	c.inFlight = nil
	c.endDecoding()

	c.limiter = rate.NewLimiter(rate.Limit(c.rate), limits.MaxDatagramSize)
	c.lastReceived = now
	c.connectTime = now
	c.stats = Stats{}

	if !addr.IsValid() || tr == nil {
		c.tr = nil
		c.state = ConnectionFailed
		c.logger().Error("Channel setup without a usable address or transport")
		return false
	}

	c.tr = tr
	c.state = Connected
	c.logger().WithField("name", name).Debug("Channel set up")

	if h != nil {
		h.OnConnectionStart(c)
	}
	return true
}

// AddMessage queues msg for the next datagram. Messages go to the reliable
// stream when forceReliable is set or their descriptor is Reliable, otherwise
// to the unreliable stream.
//
// A full unreliable stream drops just this message. A full reliable stream
// overflows the channel: the handler is told via OnConnectionCrashed with
// ErrChannelOverflow and the channel shuts down.
func (c *Channel) AddMessage(msg message.Message, forceReliable bool) bool {
	if msg == nil {
		return false
	}
	if c.state != Connected {
		c.logger().WithError(ErrChannelClosed).Debug("Message not queued")
		return false
	}
	d := msg.Descriptor()
	if d == nil {
		return false
	}

	if forceReliable || d.Reliable {
		err := c.reliable.Write(msg, limits.MaxReliableStream)
		switch {
		case err == nil:
			return true
		case errors.Is(err, message.ErrStreamFull):
			c.crash(fmt.Errorf("%w: %v", ErrChannelOverflow, err))
		default:
			c.logger().WithError(err).Warn("Rejected reliable message")
		}
		return false
	}

	if err := c.unreliable.Write(msg, limits.MaxUnreliableStream); err != nil {
		c.stats.DroppedUnreliable++
		c.logger().WithError(err).Debug("Dropped unreliable message")
		return false
	}
	return true
}

// SendDatagram builds and transmits one datagram carrying the in-flight
// reliable block (if any), the queued unreliable stream and extra, which must
// be a finished message stream or nil.
//
// The unreliable stream is cleared whether or not the send succeeds. The
// reliable block is retransmitted on every call until the peer acknowledges
// it; queued reliable data becomes the next block only once the current one
// is acknowledged.
func (c *Channel) SendDatagram(extra []byte) bool {
	if c.state != Connected || c.tr == nil {
		return false
	}
	if c.outSequence == connectionlessMarker {
		c.logger().Error("Outgoing sequence exhausted")
		return false
	}
	now := c.tp.Now()

	if len(c.inFlight) == 0 && c.reliable.Count() > 0 {
		block, err := c.reliable.Finish()
		if err != nil {
			c.crash(err)
			return false
		}
		c.inFlight = block
		c.outReliableState = !c.outReliableState
	}

	unreliableCount := c.unreliable.Count()
	unreliable, err := c.unreliable.Finish()
	if err != nil {
		c.logger().WithError(err).Warn("Discarded unreliable stream")
		unreliable = nil
	}

	hasReliable := len(c.inFlight) > 0
	buf := make([]byte, 0, limits.MaxDatagramSize)
	buf = appendHeader(buf, header{
		sequence: c.outSequence,
		ack:      c.inSequence,
		flags: bit(c.outReliableState, flagOutReliable) |
			bit(c.inReliableState, flagInReliable) |
			bit(hasReliable, flagHasReliable),
	})
	if hasReliable {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.inFlight)))
		buf = append(buf, c.inFlight...)
	}

	room := limits.MaxDatagramSize - len(buf)
	if len(unreliable)+len(extra) > room {
		c.stats.DroppedUnreliable += uint64(unreliableCount)
		unreliable = nil
		if len(extra) > room {
			c.logger().WithField("extra_size", len(extra)).Debug("Dropped extra unreliable data")
			extra = nil
		}
	}
	buf = append(buf, unreliable...)
	buf = append(buf, extra...)
	sealDatagram(buf)

	if err := c.tr.SendTo(buf, c.remote); err != nil {
		c.logger().WithError(err).Warn("Failed to send datagram")
		return false
	}

	if c.flushLog {
		c.logger().WithFields(logging.PacketFields(buf, "datagram")).WithFields(logrus.Fields{
			"sequence": c.outSequence,
			"ack":      c.inSequence,
			"reliable": len(c.inFlight),
			"function": "SendDatagram",
		}).Debug("Sent datagram")
	}

	c.limiter.ReserveN(now, len(buf))
	c.outSequence++
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(len(buf))
	return true
}

// CanSend reports whether the rate limiter allows a datagram at now.
func (c *Channel) CanSend(now time.Time) bool {
	return c.state == Connected && c.limiter.TokensAt(now) >= 0
}

// SendDisconnect transmits a datagram carrying a disconnect message with
// reason. It bypasses the rate limiter and is best effort.
func (c *Channel) SendDisconnect(reason string) bool {
	if c.state != Connected {
		return false
	}
	msg := &message.Disconnect{Reason: reason}
	if err := c.unreliable.Write(msg, limits.MaxUnreliableStream); err != nil {
		c.unreliable.Reset()
		if err := c.unreliable.Write(msg, limits.MaxUnreliableStream); err != nil {
			return false
		}
	}
	return c.SendDatagram(nil)
}

// StartProcessingPacket validates p and prepares it for ProcessPacket.
// It returns false when the packet should be dropped: a checksum mismatch, a
// stale or duplicate sequence, or a channel that is not Connected. Dropping
// leaves the receive counters unchanged.
func (c *Channel) StartProcessingPacket(p *transport.Packet) bool {
	if c.state != Connected {
		return false
	}
	if c.decoding != nil {
		c.endDecoding()
	}
	p.Rewind()

	if p.Len() < limits.SequencedHeaderSize {
		c.crash(fmt.Errorf("%w: %d byte datagram shorter than header", ErrMalformedPacket, p.Len()))
		return false
	}
	h := parseHeader(p.Data)
	if h.checksum != datagramChecksum(p.Data) {
		c.stats.Corrupt++
		c.logger().WithField("sequence", h.sequence).Debug("Dropped datagram with bad checksum")
		return false
	}
	if h.sequence <= c.inSequence {
		c.stats.Stale++
		c.logger().WithFields(logrus.Fields{
			"sequence":    h.sequence,
			"in_sequence": c.inSequence,
		}).Debug("Dropped stale datagram")
		return false
	}
	if h.ack >= c.outSequence {
		c.logger().WithFields(logrus.Fields{
			"ack":          h.ack,
			"out_sequence": c.outSequence,
		}).Debug("Dropped datagram acknowledging an unsent sequence")
		return false
	}

	if _, err := p.Next(limits.SequencedHeaderSize); err != nil {
		c.crash(fmt.Errorf("%w: %v", ErrMalformedPacket, err))
		return false
	}
	var reliable []byte
	if h.flags&flagHasReliable != 0 {
		n, err := p.ReadUint16()
		if err != nil {
			c.crash(fmt.Errorf("%w: reliable length: %v", ErrMalformedPacket, err))
			return false
		}
		if reliable, err = p.Next(int(n)); err != nil {
			c.crash(fmt.Errorf("%w: reliable block of %d bytes truncated", ErrMalformedPacket, n))
			return false
		}
	}
	unreliable := p.Remaining()

	// The peer echoes our reliable bit once it has taken the in-flight block.
	peerInReliable := h.flags&flagInReliable != 0
	if len(c.inFlight) > 0 && peerInReliable == c.outReliableState {
		c.inFlight = nil
	}
	if h.ack > c.outSequenceAck {
		c.outSequenceAck = h.ack
	}

	c.stats.Lost += uint64(h.sequence - c.inSequence - 1)
	c.inSequence = h.sequence
	c.lastReceived = c.tp.Now()
	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(p.Len())

	c.reliableReader = nil
	if reliable != nil {
		peerOutReliable := h.flags&flagOutReliable != 0
		if peerOutReliable != c.inReliableState {
			c.inReliableState = peerOutReliable
			c.reliableReader = message.NewStreamReader(c.registry, reliable)
		}
	}
	c.unreliableReader = message.NewStreamReader(c.registry, unreliable)
	c.decoding = p

	if c.flushLog {
		c.logger().WithFields(logging.PacketFields(p.Data, "datagram")).WithFields(logrus.Fields{
			"sequence":     h.sequence,
			"ack":          h.ack,
			"reliable":     len(reliable),
			"new_reliable": c.reliableReader != nil,
			"function":     "StartProcessingPacket",
		}).Debug("Received datagram")
	}
	return true
}

// ProcessPacket returns the next message of the packet being processed.
// It returns false once the packet is exhausted or the channel closed while
// decoding it. Reliable messages come before unreliable ones; system messages
// are consumed internally.
func (c *Channel) ProcessPacket(p *transport.Packet) (message.Message, bool) {
	for c.state == Connected && c.decoding == p && p != nil {
		reader, isReliable := c.unreliableReader, false
		if c.reliableReader != nil {
			reader, isReliable = c.reliableReader, true
		}
		if reader == nil {
			return nil, false
		}

		msg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			if isReliable {
				c.reliableReader = nil
			} else {
				c.unreliableReader = nil
			}
			continue
		}
		if err != nil {
			c.crash(fmt.Errorf("%w: %v", ErrMalformedPacket, err))
			return nil, false
		}

		if msg.Descriptor().Group == message.SystemGroup {
			c.processSystemMessage(msg)
			continue
		}
		return msg, true
	}
	return nil, false
}

// EndProcessingPacket releases the decode state held for p.
func (c *Channel) EndProcessingPacket(p *transport.Packet) {
	if c.decoding == p {
		c.endDecoding()
	}
}

func (c *Channel) endDecoding() {
	c.decoding = nil
	c.reliableReader = nil
	c.unreliableReader = nil
}

func (c *Channel) processSystemMessage(msg message.Message) {
	switch m := msg.(type) {
	case *message.Disconnect:
		reason := m.Reason
		if reason == "" {
			reason = "disconnected by peer"
		}
		c.logger().WithField("reason", reason).Info("Peer disconnected")
		c.close(reason, false)
	case *message.Nop:
	default:
		c.logger().WithField("descriptor", msg.Descriptor().String()).Debug("Ignored system message")
	}
}

// Shutdown closes the channel. A non-empty reason is first sent to the peer
// in a best-effort disconnect message. Calling Shutdown on a channel that is
// not Connected does nothing, so the handler is notified at most once.
func (c *Channel) Shutdown(reason string) {
	c.close(reason, reason != "")
}

func (c *Channel) close(reason string, notifyPeer bool) {
	if c.state != Connected {
		if c.state == Connecting {
			c.state = Disconnected
		}
		return
	}

	c.reliable.Reset()
	c.inFlight = nil
	c.unreliable.Reset()
	if notifyPeer {
		c.SendDisconnect(reason)
	}
	c.endDecoding()

	c.state = Disconnected
	c.tr = nil
	c.logger().WithField("reason", reason).Debug("Channel shut down")

	if c.handler != nil {
		c.handler.OnConnectionClosing(c, reason)
	}
}

// crash reports a fatal error to the handler and shuts the channel down.
func (c *Channel) crash(err error) {
	if c.state != Connected {
		return
	}
	c.logger().WithError(err).Warn("Channel crashed")
	if c.handler != nil {
		c.handler.OnConnectionCrashed(c, err)
	}
	c.close(err.Error(), true)
}

// IsTimedOut reports whether the peer has been silent for longer than the timeout.
func (c *Channel) IsTimedOut(now time.Time) bool {
	return c.state == Connected && now.Sub(c.lastReceived) > c.timeout
}

// ConnectionState returns the current state.
func (c *Channel) ConnectionState() ConnectionState {
	return c.state
}

// SetConnectionState performs a handshake transition: Disconnected or
// ConnectionFailed to Connecting, and Connecting to ConnectionFailed or
// Disconnected. Connected is only entered through Setup and left through
// Shutdown; other requests are refused.
func (c *Channel) SetConnectionState(s ConnectionState) bool {
	switch {
	case s == Connecting && (c.state == Disconnected || c.state == ConnectionFailed):
	case (s == ConnectionFailed || s == Disconnected) && c.state == Connecting:
	case s == c.state && s != Connected:
		return true
	default:
		c.logger().WithFields(logrus.Fields{
			"from": c.state.String(),
			"to":   s.String(),
		}).Warn("Refused connection state transition")
		return false
	}
	c.state = s
	return true
}

// SetRate changes the transmit rate, clamped to the engine limits.
func (c *Channel) SetRate(bytesPerSecond float64) {
	c.rate = limits.ClampRate(bytesPerSecond)
	c.limiter.SetLimitAt(c.tp.Now(), rate.Limit(c.rate))
}

// SetTimeout changes the silence timeout, clamped to the engine limits.
func (c *Channel) SetTimeout(d time.Duration) {
	c.timeout = limits.ClampTimeout(d)
}

// Rate returns the transmit rate in bytes per second.
func (c *Channel) Rate() float64 { return c.rate }

// Timeout returns the silence timeout.
func (c *Channel) Timeout() time.Duration { return c.timeout }

// RemoteAddress returns the peer address.
func (c *Channel) RemoteAddress() transport.Address { return c.remote }

// Name returns the name given to Setup.
func (c *Channel) Name() string { return c.name }

// IsServerSide reports whether the channel was set up by a server.
func (c *Channel) IsServerSide() bool { return c.serverSide }

// SessionID identifies the current Setup of the channel.
func (c *Channel) SessionID() uuid.UUID { return c.sessionID }

// ConnectTime returns when Setup last ran.
func (c *Channel) ConnectTime() time.Time { return c.connectTime }

// LastReceived returns when the last valid datagram arrived.
func (c *Channel) LastReceived() time.Time { return c.lastReceived }

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	s := c.stats
	s.OutSequence = c.outSequence
	s.InSequence = c.inSequence
	s.OutSequenceAck = c.outSequenceAck
	s.ReliablePending = c.reliable.Len()
	s.ReliableInFlight = len(c.inFlight)
	return s
}

// String describes the channel for logs.
func (c *Channel) String() string {
	return fmt.Sprintf("channel(%s, %s)", c.remote, c.state)
}
