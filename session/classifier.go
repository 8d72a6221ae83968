package session

import (
	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/logging"
	"github.com/opd-ai/gamenet/transport"
	"github.com/sirupsen/logrus"
)

// ChannelLookup finds the channel registered for a peer address.
type ChannelLookup interface {
	Lookup(addr transport.Address) *channel.Channel
}

// Classifier routes raw inbound datagrams into an EventQueue. It never
// decodes beyond the connectionless marker.
type Classifier struct {
	queue    *EventQueue
	channels ChannelLookup
	handler  ConnectionlessHandler

	dropped uint64
}

// NewClassifier creates a classifier feeding q. Connectionless packets go to
// h and sequenced packets to the channel channels returns for their source.
func NewClassifier(q *EventQueue, channels ChannelLookup, h ConnectionlessHandler) *Classifier {
	return &Classifier{queue: q, channels: channels, handler: h}
}

// Classify queues p and reports whether it was accepted.
func (c *Classifier) Classify(p *transport.Packet) bool {
	if p.Len() < limits.ConnectionlessMarkerSize {
		c.dropped++
		logrus.WithFields(logrus.Fields{
			"from":      p.From.String(),
			"size":      p.Len(),
			"component": "Classifier",
		}).Debug("Dropped runt datagram")
		return false
	}

	if IsConnectionless(p.Data) {
		c.queue.EnqueueConnectionless(p, c.handler)
		return true
	}

	ch := c.channels.Lookup(p.From)
	if ch == nil {
		c.dropped++
		logging.New("Classifier", "Classify").
			WithField("from", p.From.String()).
			WithFields(logging.PacketFields(p.Data, "datagram")).
			Debug("Sequenced packet without connection")
		return false
	}
	c.queue.EnqueueSequenced(p, ch)
	return true
}

// Dropped returns how many datagrams were discarded at classification.
func (c *Classifier) Dropped() uint64 {
	return c.dropped
}
