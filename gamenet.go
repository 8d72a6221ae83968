package gamenet

import (
	"os"

	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/config"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/session"
	"github.com/opd-ai/gamenet/transport"
	"github.com/sirupsen/logrus"
)

// Event is one network event returned by FirstEvent and NextEvent.
type Event = session.Event

// Event types.
const (
	EventConnected       = session.EventConnected
	EventDisconnected    = session.EventDisconnected
	EventMessageReceived = session.EventMessageReceived
)

// Option customizes a NetworkSystem.
type Option func(*NetworkSystem)

// WithTransportFactory replaces the UDP transport, e.g. with a
// transport.MemoryNetwork in tests.
func WithTransportFactory(f transport.Factory) Option {
	return func(n *NetworkSystem) { n.factory = f }
}

// WithTimeProvider injects the clock used for timeouts, rate limits and retries.
func WithTimeProvider(tp clock.TimeProvider) Option {
	return func(n *NetworkSystem) { n.tp = tp }
}

// WithGatekeeper installs an admission check for the server role, such as a
// banlist.Store.
func WithGatekeeper(g session.Gatekeeper) Option {
	return func(n *NetworkSystem) { n.gatekeeper = g }
}

// NetworkSystem is the entry point of the session layer. It owns at most one
// server and one client connection manager, the message registry they share
// and a single event queue fed by both.
//
// A NetworkSystem is driven from one goroutine, once per tick:
//
//	net.ServerReceiveMessages()
//	for ev, ok := net.FirstEvent(); ok; ev, ok = net.NextEvent() {
//		...
//	}
//	net.ServerSendMessages()
type NetworkSystem struct {
	cfg        *config.Config
	registry   *message.Registry
	queue      *session.EventQueue
	factory    transport.Factory
	tp         clock.TimeProvider
	gatekeeper session.Gatekeeper

	server *session.Server
	client *session.Client
}

// New creates a NetworkSystem. A nil cfg selects config.Default().
func New(cfg *config.Config, opts ...Option) *NetworkSystem {
	if cfg == nil {
		cfg = config.Default()
	}
	n := &NetworkSystem{
		cfg:      cfg,
		registry: message.NewRegistry(),
		queue:    session.NewEventQueue(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.tp = clock.Or(n.tp)
	if n.factory == nil {
		n.factory = transport.UDPFactory(n.tp)
	}
	return n
}

func (n *NetworkSystem) logger(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function":  function,
		"component": "NetworkSystem",
	})
}

// Registry returns the message registry.
func (n *NetworkSystem) Registry() *message.Registry {
	return n.registry
}

// RegisterMessage adds d to the registry. It fails for group 0, duplicates
// and once a server or client has been started.
func (n *NetworkSystem) RegisterMessage(d *message.Descriptor) bool {
	return n.registry.Register(d)
}

// StartServer opens the server transport on port; zero selects the
// configured server port. It fails when a server is already running or the
// port cannot be bound.
func (n *NetworkSystem) StartServer(port int) bool {
	if n.server != nil {
		n.logger("StartServer").Warn("Server already running")
		return false
	}
	if port == 0 {
		port = n.cfg.Server.Port
	}
	n.registry.Freeze()

	tr, err := n.factory(port)
	if err != nil {
		n.logger("StartServer").WithFields(logrus.Fields{
			"port":  port,
			"error": err.Error(),
		}).Error("Failed to open server transport")
		return false
	}
	n.server = session.NewServer(n.registry, n.queue, tr, session.ServerConfig{
		Name:       n.cfg.Server.Name,
		MaxClients: n.cfg.Server.MaxClients,
		Channel:    n.cfg.Options(n.tp),
		Gatekeeper: n.gatekeeper,
	})
	return true
}

// ShutdownServer disconnects every peer and closes the server transport.
func (n *NetworkSystem) ShutdownServer() {
	if n.server == nil {
		return
	}
	n.server.Shutdown("server shutting down")
	n.server = nil
}

// StartClient opens the client transport on port; zero selects the
// configured client port.
func (n *NetworkSystem) StartClient(port int) bool {
	if n.client != nil {
		n.logger("StartClient").Warn("Client already running")
		return false
	}
	if port == 0 {
		port = n.cfg.Client.Port
	}
	n.registry.Freeze()

	tr, err := n.factory(port)
	if err != nil {
		n.logger("StartClient").WithFields(logrus.Fields{
			"port":  port,
			"error": err.Error(),
		}).Error("Failed to open client transport")
		return false
	}
	n.client = session.NewClient(n.registry, n.queue, tr, session.ClientConfig{
		Name:    n.cfg.Client.Name,
		Channel: n.cfg.Options(n.tp),
	})
	return true
}

// ShutdownClient disconnects from the server and closes the client transport.
func (n *NetworkSystem) ShutdownClient() {
	if n.client == nil {
		return
	}
	n.client.Shutdown()
	n.client = nil
}

// ConnectClientToServer starts the handshake with host:port; zero selects
// the configured server port. The returned channel is Connecting until an
// EventConnected for it arrives. It returns nil without a running client.
func (n *NetworkSystem) ConnectClientToServer(host string, port int) *channel.Channel {
	if n.client == nil {
		n.logger("ConnectClientToServer").Warn("Client not started")
		return nil
	}
	if port == 0 {
		port = n.cfg.Client.ServerPort
	}
	return n.client.Connect(host, port)
}

// DisconnectClientFromServer closes ch if it is the client's server channel.
func (n *NetworkSystem) DisconnectClientFromServer(ch *channel.Channel) {
	if n.client == nil || ch == nil || n.client.Channel() != ch {
		return
	}
	n.client.Disconnect("")
}

// ServerReceiveMessages reads pending server datagrams into the event queue.
func (n *NetworkSystem) ServerReceiveMessages() {
	if n.server != nil {
		n.server.ReadPackets()
	}
}

// ServerSendMessages sends one datagram to each peer the rate limit allows.
func (n *NetworkSystem) ServerSendMessages() {
	if n.server != nil {
		n.server.SendUpdates()
	}
}

// ClientReceiveMessages reads pending client datagrams into the event queue.
func (n *NetworkSystem) ClientReceiveMessages() {
	if n.client != nil {
		n.client.ReadPackets()
	}
}

// ClientSendMessages sends one datagram to the server if allowed.
func (n *NetworkSystem) ClientSendMessages() {
	if n.client != nil {
		n.client.SendUpdates()
	}
}

// FirstEvent starts iterating this tick's events.
func (n *NetworkSystem) FirstEvent() (Event, bool) {
	return n.queue.First()
}

// NextEvent returns the next event, or false when there are no more.
func (n *NetworkSystem) NextEvent() (Event, bool) {
	return n.queue.Next()
}

// Server returns the running server, or nil.
func (n *NetworkSystem) Server() *session.Server {
	return n.server
}

// Client returns the running client, or nil.
func (n *NetworkSystem) Client() *session.Client {
	return n.client
}

// LocalHostName returns the host name of this machine.
func (n *NetworkSystem) LocalHostName() string {
	name, err := os.Hostname()
	if err != nil {
		n.logger("LocalHostName").WithError(err).Warn("Failed to read host name")
		return "localhost"
	}
	return name
}

// LocalAddress returns the first non-loopback IPv4 address of this machine.
func (n *NetworkSystem) LocalAddress() string {
	return transport.HostAddress()
}

// Shutdown stops both roles and drops undelivered packets. Pending
// Disconnected events stay available to NextEvent.
func (n *NetworkSystem) Shutdown() {
	n.ShutdownClient()
	n.ShutdownServer()
	n.queue.Clear()
}
