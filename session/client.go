package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/transport"
	"github.com/sirupsen/logrus"
)

// resolveTimeout bounds name resolution in Connect and Ping.
const resolveTimeout = 2 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name is sent to the server in the connect request.
	Name string
	// Channel is applied to the server channel.
	Channel channel.Config
}

// Client is the client-role connection manager. It owns at most one
// channel, to the server it is connecting or connected to.
//
// Client is not safe for concurrent use; drive it from the tick loop.
type Client struct {
	registry   *message.Registry
	tr         transport.Transport
	cfg        ClientConfig
	tp         clock.TimeProvider
	classifier *Classifier
	notify     notifier

	channel     *channel.Channel
	server      transport.Address
	attempts    int
	lastAttempt time.Time

	serverInfo     ServerInfo
	serverInfoFrom transport.Address
	hasServerInfo  bool

	closed bool
}

// NewClient creates a client using tr and posting events to q.
func NewClient(registry *message.Registry, q *EventQueue, tr transport.Transport, cfg ClientConfig) *Client {
	cfg.Channel.TimeProvider = clock.Or(cfg.Channel.TimeProvider)
	c := &Client{
		registry: registry,
		tr:       tr,
		cfg:      cfg,
		tp:       cfg.Channel.TimeProvider,
		notify:   newNotifier(q),
	}
	c.classifier = NewClassifier(q, c, c)

	logrus.WithFields(logrus.Fields{
		"local_addr": tr.LocalAddr().String(),
		"name":       cfg.Name,
		"component":  "Client",
	}).Info("Client started")
	return c
}

func (c *Client) logger(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"server":    c.server.String(),
		"function":  function,
		"component": "Client",
	})
}

// LocalAddr returns the address the client is bound to.
func (c *Client) LocalAddr() transport.Address {
	return c.tr.LocalAddr()
}

// Channel returns the server channel, or nil before the first Connect.
func (c *Client) Channel() *channel.Channel {
	return c.channel
}

// Lookup returns the server channel when addr is the server. A Connecting
// channel matches too: a sequenced datagram read in the same drain as the
// connect-accepted reply is queued behind it and processed once the
// channel is set up.
func (c *Client) Lookup(addr transport.Address) *channel.Channel {
	if c.channel == nil || addr != c.server {
		return nil
	}
	switch c.channel.ConnectionState() {
	case channel.Connected, channel.Connecting:
		return c.channel
	}
	return nil
}

// Connect starts a handshake with the server at host:port and returns the
// channel in Connecting state. It does not wait for the reply: the channel
// becomes Connected, and an EventConnected is posted, once the server
// accepts. It returns nil while another connection is active and when the
// player name is empty or longer than limits.MaxNameLength.
func (c *Client) Connect(host string, port int) *channel.Channel {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	return c.ConnectContext(ctx, host, port)
}

// ConnectContext is Connect with a context bounding name resolution.
func (c *Client) ConnectContext(ctx context.Context, host string, port int) *channel.Channel {
	if c.closed {
		return nil
	}
	if c.channel != nil {
		switch c.channel.ConnectionState() {
		case channel.Connected, channel.Connecting:
			c.logger("Connect").Warn("Connect called while a connection is active")
			return nil
		}
	}

	if err := validateName(c.cfg.Name); err != nil {
		c.logger("Connect").WithError(err).Error("Invalid player name")
		return nil
	}

	addr, err := transport.ResolveAddress(ctx, host, port)
	if err != nil {
		c.logger("Connect").WithFields(logrus.Fields{
			"host":  host,
			"port":  port,
			"error": err.Error(),
		}).Error("Failed to resolve server address")
		return nil
	}

	ch := channel.New(c.registry, addr, c.cfg.Channel)
	ch.SetConnectionState(channel.Connecting)
	c.channel = ch
	c.server = addr
	c.attempts = 0
	c.sendConnect()

	c.logger("Connect").Info("Connecting to server")
	return ch
}

func (c *Client) sendConnect() {
	c.attempts++
	c.lastAttempt = c.tp.Now()
	if err := c.tr.SendTo(encodeConnect(limits.ProtocolVersion, c.cfg.Name), c.server); err != nil {
		c.logger("sendConnect").WithError(err).Warn("Failed to send connect request")
	}
}

// Ping asks the server at host:port for its ServerInfo. The reply is
// available from ServerInfo once it arrives.
func (c *Client) Ping(ctx context.Context, host string, port int) error {
	if c.closed {
		return ErrManagerClosed
	}
	addr, err := transport.ResolveAddress(ctx, host, port)
	if err != nil {
		return err
	}
	return c.tr.SendTo(encodePing(), addr)
}

// ServerInfo returns the last pong received and who sent it.
func (c *Client) ServerInfo() (ServerInfo, transport.Address, bool) {
	return c.serverInfo, c.serverInfoFrom, c.hasServerInfo
}

// ProcessConnectionlessPacket handles an out-of-band reply from the server.
func (c *Client) ProcessConnectionlessPacket(p *transport.Packet) {
	if c.closed {
		return
	}
	pkt, err := decodeConnectionless(p)
	if err != nil {
		c.logger("ProcessConnectionlessPacket").WithFields(logrus.Fields{
			"from":  p.From.String(),
			"error": err.Error(),
		}).Debug("Dropped connectionless packet")
		return
	}

	if pkt.Command == CommandPong {
		c.serverInfo, c.serverInfoFrom, c.hasServerInfo = pkt.Info, p.From, true
		return
	}
	if c.channel == nil || p.From != c.server {
		c.logger("ProcessConnectionlessPacket").WithFields(logrus.Fields{
			"from":    p.From.String(),
			"command": pkt.Command.String(),
		}).Warn("Connectionless packet from unexpected source")
		return
	}

	switch pkt.Command {
	case CommandConnectAccepted:
		if c.channel.ConnectionState() != channel.Connecting {
			c.logger("ProcessConnectionlessPacket").Debug("Ignored duplicate connect-accepted")
			return
		}
		c.channel.Setup(false, c.server, c.tr, pkt.Name, c)
		c.logger("ProcessConnectionlessPacket").WithField("server_name", pkt.Name).Info("Connected to server")
	case CommandConnectRejected:
		if c.channel.ConnectionState() != channel.Connecting {
			return
		}
		c.channel.SetConnectionState(channel.ConnectionFailed)
		c.logger("ProcessConnectionlessPacket").WithField("reason", pkt.Reason).Warn("Connection rejected")
		c.notify.failed(c.channel, pkt.Reason, fmt.Errorf("%w: %s", ErrConnectionRejected, pkt.Reason))
	default:
		c.logger("ProcessConnectionlessPacket").WithField("command", pkt.Command.String()).Warn("Unexpected connectionless command")
	}
}

// ReadPackets drains the transport into the event queue, repeats or abandons
// a pending handshake and shuts down a server channel that timed out.
func (c *Client) ReadPackets() int {
	if c.closed {
		return 0
	}
	n := 0
	for n < limits.ReceiveQueueSize {
		p, ok := c.tr.Receive()
		if !ok {
			break
		}
		c.classifier.Classify(p)
		n++
	}

	if c.channel == nil {
		return n
	}
	now := c.tp.Now()
	switch c.channel.ConnectionState() {
	case channel.Connecting:
		if now.Sub(c.lastAttempt) < limits.ConnectRetryInterval {
			break
		}
		if c.attempts >= limits.MaxConnectAttempts {
			c.channel.SetConnectionState(channel.ConnectionFailed)
			c.logger("ReadPackets").WithField("attempts", c.attempts).Warn("Server did not answer")
			c.notify.failed(c.channel, ErrConnectTimeout.Error(), ErrConnectTimeout)
			break
		}
		c.sendConnect()
	case channel.Connected:
		if c.channel.IsTimedOut(now) {
			c.logger("ReadPackets").Info("Server timed out")
			c.channel.Shutdown("timed out")
		}
	}
	return n
}

// SendUpdates sends one datagram to the server when connected and the rate
// limit allows it.
func (c *Client) SendUpdates() bool {
	if c.closed || c.channel == nil || !c.channel.CanSend(c.tp.Now()) {
		return false
	}
	return c.channel.SendDatagram(nil)
}

// Disconnect ends the current connection. A connected channel sends its
// disconnect message limits.DisconnectRepeats times since the last datagram
// is never acknowledged; a pending handshake is simply abandoned.
func (c *Client) Disconnect(reason string) {
	if c.channel == nil {
		return
	}
	if reason == "" {
		reason = "client disconnected"
	}
	switch c.channel.ConnectionState() {
	case channel.Connected:
		for i := 1; i < limits.DisconnectRepeats; i++ {
			c.channel.SendDisconnect(reason)
		}
		c.channel.Shutdown(reason)
	case channel.Connecting:
		c.channel.Shutdown(reason)
		c.logger("Disconnect").Debug("Abandoned handshake")
	}
}

// Shutdown disconnects and closes the transport.
func (c *Client) Shutdown() {
	if c.closed {
		return
	}
	c.Disconnect("client shutting down")
	c.closed = true
	if err := c.tr.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		c.logger("Shutdown").WithError(err).Warn("Failed to close transport")
	}
	c.logger("Shutdown").Info("Client stopped")
}

// OnConnectionStart implements channel.Handler.
func (c *Client) OnConnectionStart(ch *channel.Channel) {
	c.notify.connected(ch)
}

// OnConnectionClosing implements channel.Handler.
func (c *Client) OnConnectionClosing(ch *channel.Channel, reason string) {
	c.notify.disconnected(ch, reason)
}

// OnConnectionCrashed implements channel.Handler.
func (c *Client) OnConnectionCrashed(ch *channel.Channel, err error) {
	c.notify.crashed(ch, err)
}
