package session

import (
	"errors"
	"fmt"

	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/logging"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/transport"
	"github.com/sirupsen/logrus"
)

// Gatekeeper decides whether a peer may connect. A non-nil error refuses the
// peer and its text is sent back as the rejection reason.
type Gatekeeper interface {
	Admit(addr transport.Address) error
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Name is reported to clients on accept and in pong replies.
	Name string
	// MaxClients bounds the roster; see limits.ClampMaxClients.
	MaxClients int
	// Channel is applied to every accepted channel.
	Channel channel.Config
	// Gatekeeper, when set, is consulted before accepting a peer.
	Gatekeeper Gatekeeper
}

// Server is the server-role connection manager. It accepts peers over the
// connectionless handshake and keeps one channel per peer.
//
// Server is not safe for concurrent use; drive it from the tick loop.
type Server struct {
	registry   *message.Registry
	tr         transport.Transport
	cfg        ServerConfig
	tp         clock.TimeProvider
	roster     *ChannelRegistry
	classifier *Classifier
	notify     notifier
	broadcast  *message.StreamWriter
	closed     bool
}

// NewServer creates a server reading from tr and posting events to q.
func NewServer(registry *message.Registry, q *EventQueue, tr transport.Transport, cfg ServerConfig) *Server {
	cfg.MaxClients = limits.ClampMaxClients(cfg.MaxClients)
	cfg.Channel.TimeProvider = clock.Or(cfg.Channel.TimeProvider)

	s := &Server{
		registry:  registry,
		tr:        tr,
		cfg:       cfg,
		tp:        cfg.Channel.TimeProvider,
		roster:    NewChannelRegistry(),
		notify:    newNotifier(q),
		broadcast: message.NewStreamWriter(registry),
	}
	s.classifier = NewClassifier(q, s.roster, s)

	logrus.WithFields(logrus.Fields{
		"local_addr":  tr.LocalAddr().String(),
		"name":        cfg.Name,
		"max_clients": cfg.MaxClients,
		"component":   "Server",
	}).Info("Server started")
	return s
}

func (s *Server) logger(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function":  function,
		"component": "Server",
	})
}

// LocalAddr returns the address the server listens on.
func (s *Server) LocalAddr() transport.Address {
	return s.tr.LocalAddr()
}

// Info describes the server as reported in pong replies.
func (s *Server) Info() ServerInfo {
	return ServerInfo{
		Name:       s.cfg.Name,
		Version:    limits.ProtocolVersion,
		Peers:      s.roster.Len(),
		MaxClients: s.cfg.MaxClients,
	}
}

// Peers returns the connected channels ordered by connect time.
func (s *Server) Peers() []*channel.Channel {
	return s.roster.Channels()
}

// Lookup returns the channel of the peer at addr, or nil.
func (s *Server) Lookup(addr transport.Address) *channel.Channel {
	return s.roster.Lookup(addr)
}

// ProcessConnectionlessPacket handles an out-of-band request.
func (s *Server) ProcessConnectionlessPacket(p *transport.Packet) {
	if s.closed {
		return
	}
	pkt, err := decodeConnectionless(p)
	if err != nil {
		s.logger("ProcessConnectionlessPacket").WithFields(logrus.Fields{
			"from":  p.From.String(),
			"error": err.Error(),
		}).Debug("Dropped connectionless packet")
		return
	}

	switch pkt.Command {
	case CommandConnect:
		s.AcceptConnectionRequest(p.From, pkt.Version, pkt.Name)
	case CommandPing:
		s.sendConnectionless(encodePong(s.Info()), p.From)
	default:
		s.logger("ProcessConnectionlessPacket").WithFields(logrus.Fields{
			"from":    p.From.String(),
			"command": pkt.Command.String(),
		}).Warn("Unexpected connectionless command")
	}
}

// reasonReplaced closes a session whose address sent a fresh connect request.
const reasonReplaced = "replaced by a new connection"

// AcceptConnectionRequest admits the peer at from and replies with
// connect-accepted, or connect-rejected with a reason. A request from an
// address whose channel has not yet received sequenced traffic creates
// nothing new; the accept reply is repeated in case the first one was lost.
// Once the channel has heard from its peer, a new request means the client
// restarted: the old channel is shut down and the request is admitted as a
// new session.
func (s *Server) AcceptConnectionRequest(from transport.Address, version uint16, name string) *channel.Channel {
	if s.closed {
		return nil
	}
	log := s.logger("AcceptConnectionRequest").WithFields(logrus.Fields{
		"from":        from.String(),
		"client_name": name,
	})

	if existing := s.roster.Lookup(from); existing != nil {
		if existing.Stats().InSequence == 0 {
			log.Warn("Duplicate connection request")
			s.sendConnectionless(encodeConnectAccepted(s.cfg.Name), from)
			return nil
		}
		// The peer already sent sequenced traffic, so a new handshake comes
		// from a restarted client and the old session is dead.
		log.WithField("session", existing.SessionID().String()).Info("Connection request replaces existing session")
		existing.Shutdown(reasonReplaced)
	}
	if version != limits.ProtocolVersion {
		s.reject(from, fmt.Errorf("%w: server %d, client %d", ErrVersionMismatch, limits.ProtocolVersion, version))
		return nil
	}
	if s.cfg.Gatekeeper != nil {
		if err := s.cfg.Gatekeeper.Admit(from); err != nil {
			s.reject(from, err)
			return nil
		}
	}
	if s.roster.Len() >= s.cfg.MaxClients {
		s.reject(from, ErrServerFull)
		return nil
	}

	ch := channel.New(s.registry, from, s.cfg.Channel)
	if !ch.Setup(true, from, s.tr, name, s) {
		log.Error("Failed to set up channel")
		return nil
	}
	s.roster.Add(ch)
	s.sendConnectionless(encodeConnectAccepted(s.cfg.Name), from)

	log.WithField("session", ch.SessionID().String()).Info("Accepted connection")
	return ch
}

func (s *Server) reject(to transport.Address, reason error) {
	logging.New("Server", "AcceptConnectionRequest").
		WithFields(logging.OperationFields("accept", "rejected", logrus.Fields{"from": to.String()})).
		WithError(reason, "admit").
		Info("Rejected connection")
	s.sendConnectionless(encodeConnectRejected(reason.Error()), to)
}

func (s *Server) sendConnectionless(data []byte, to transport.Address) {
	if err := s.tr.SendTo(data, to); err != nil {
		s.logger("sendConnectionless").WithError(err).Warn("Failed to send connectionless reply")
	}
}

// ReadPackets drains the transport into the event queue, shuts down peers
// that timed out and removes peers marked for deletion. It returns the
// number of datagrams read.
func (s *Server) ReadPackets() int {
	if s.closed {
		return 0
	}
	n := 0
	for n < limits.ReceiveQueueSize {
		p, ok := s.tr.Receive()
		if !ok {
			break
		}
		s.classifier.Classify(p)
		n++
	}

	now := s.tp.Now()
	for _, ch := range s.roster.Channels() {
		if ch.IsTimedOut(now) {
			s.logger("ReadPackets").WithField("remote_addr", ch.RemoteAddress().String()).Info("Peer timed out")
			ch.Shutdown("timed out")
		}
	}

	if removed := s.roster.Sweep(); removed > 0 {
		s.logger("ReadPackets").WithField("removed", removed).Debug("Swept closed peers")
	}
	return n
}

// Broadcast queues msg for every peer. Reliable messages are added to each
// channel's reliable stream. Unreliable ones are encoded once and ride along
// with the next datagram sent to each peer.
func (s *Server) Broadcast(msg message.Message) bool {
	if s.closed || msg == nil || msg.Descriptor() == nil {
		return false
	}
	if msg.Descriptor().Reliable {
		ok := true
		for _, ch := range s.roster.Channels() {
			ok = ch.AddMessage(msg, false) && ok
		}
		return ok
	}
	if err := s.broadcast.Write(msg, limits.MaxUnreliableStream); err != nil {
		s.logger("Broadcast").WithError(err).Debug("Dropped broadcast message")
		return false
	}
	return true
}

// SendUpdates sends one datagram to every peer whose rate limit allows it
// this tick and returns how many were sent.
func (s *Server) SendUpdates() int {
	if s.closed {
		return 0
	}
	extra, err := s.broadcast.Finish()
	if err != nil {
		s.logger("SendUpdates").WithError(err).Warn("Discarded broadcast stream")
		extra = nil
	}

	now := s.tp.Now()
	sent := 0
	for _, ch := range s.roster.Channels() {
		if ch.CanSend(now) && ch.SendDatagram(extra) {
			sent++
		}
	}
	return sent
}

// Shutdown disconnects every peer with reason and closes the transport.
func (s *Server) Shutdown(reason string) {
	if s.closed {
		return
	}
	for _, ch := range s.roster.Channels() {
		ch.Shutdown(reason)
	}
	s.roster.Sweep()
	s.closed = true

	if err := s.tr.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger("Shutdown").WithError(err).Warn("Failed to close transport")
	}
	s.logger("Shutdown").WithField("reason", reason).Info("Server stopped")
}

// OnConnectionStart implements channel.Handler.
func (s *Server) OnConnectionStart(ch *channel.Channel) {
	s.notify.connected(ch)
}

// OnConnectionClosing implements channel.Handler. The peer is only marked
// here; ReadPackets removes it.
func (s *Server) OnConnectionClosing(ch *channel.Channel, reason string) {
	s.roster.Mark(ch)
	s.notify.disconnected(ch, reason)
}

// OnConnectionCrashed implements channel.Handler.
func (s *Server) OnConnectionCrashed(ch *channel.Channel, err error) {
	s.notify.crashed(ch, err)
}
