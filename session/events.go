package session

import (
	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/transport"
	"github.com/sirupsen/logrus"
)

// EventType tags a NetworkEvent.
type EventType uint8

const (
	// EventConnected reports a channel that reached Connected.
	EventConnected EventType = iota + 1
	// EventDisconnected reports a channel that closed or a handshake that failed.
	EventDisconnected
	// EventMessageReceived carries one message decoded from a channel.
	EventMessageReceived
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessageReceived:
		return "message received"
	default:
		return "unknown"
	}
}

// Event is one network event. It is a value: holding on to it never
// aliases the queue's storage.
type Event struct {
	Type    EventType
	Channel *channel.Channel

	// Message is set for EventMessageReceived.
	Message message.Message

	// Reason and Err are set for EventDisconnected. Err is non-nil when the
	// channel closed on a fatal condition such as channel.ErrChannelOverflow.
	Reason string
	Err    error
}

// ConnectionlessHandler consumes out-of-band datagrams. Each connection
// manager is the handler for its own transport.
type ConnectionlessHandler interface {
	ProcessConnectionlessPacket(p *transport.Packet)
}

type queuedPacket struct {
	packet  *transport.Packet
	handler ConnectionlessHandler
	channel *channel.Channel
}

// EventQueue turns classified packets into events one at a time. Packets
// are decoded only when the caller asks for the next event.
//
// EventQueue is not safe for concurrent use.
type EventQueue struct {
	packets []queuedPacket
	next    int
	pending []Event
	current *queuedPacket
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// EnqueueConnectionless queues an out-of-band packet for h.
func (q *EventQueue) EnqueueConnectionless(p *transport.Packet, h ConnectionlessHandler) {
	q.packets = append(q.packets, queuedPacket{packet: p, handler: h})
}

// EnqueueSequenced queues a packet that belongs to ch.
func (q *EventQueue) EnqueueSequenced(p *transport.Packet, ch *channel.Channel) {
	q.packets = append(q.packets, queuedPacket{packet: p, channel: ch})
}

// Post queues a notification event. Notifications are returned before any
// further packet is decoded.
func (q *EventQueue) Post(ev Event) {
	q.pending = append(q.pending, ev)
}

// Len returns the number of packets not yet taken from the queue.
func (q *EventQueue) Len() int {
	return len(q.packets) - q.next
}

// First starts the per-tick event loop. It behaves exactly like Next.
func (q *EventQueue) First() (Event, bool) {
	return q.Next()
}

// Next returns the next event, or false when every queued packet has been
// consumed. Connectionless packets are handled inline and produce events
// only through the notifications their handler posts.
func (q *EventQueue) Next() (Event, bool) {
	for {
		if len(q.pending) > 0 {
			ev := q.pending[0]
			q.pending[0] = Event{}
			q.pending = q.pending[1:]
			return ev, true
		}

		if cur := q.current; cur != nil {
			if msg, ok := cur.channel.ProcessPacket(cur.packet); ok {
				return Event{Type: EventMessageReceived, Channel: cur.channel, Message: msg}, true
			}
			cur.channel.EndProcessingPacket(cur.packet)
			q.current = nil
			continue
		}

		if q.next >= len(q.packets) {
			q.Clear()
			return Event{}, false
		}
		item := q.packets[q.next]
		q.packets[q.next] = queuedPacket{}
		q.next++

		if item.handler != nil {
			item.handler.ProcessConnectionlessPacket(item.packet)
			continue
		}
		if item.channel.StartProcessingPacket(item.packet) {
			q.current = &item
		}
	}
}

// Clear drops every queued packet and the packet being decoded. Pending
// notifications are kept.
func (q *EventQueue) Clear() {
	if cur := q.current; cur != nil {
		cur.channel.EndProcessingPacket(cur.packet)
		q.current = nil
	}
	if dropped := len(q.packets) - q.next; dropped > 0 {
		logrus.WithFields(logrus.Fields{
			"dropped":   dropped,
			"component": "EventQueue",
		}).Debug("Cleared unprocessed packets")
	}
	clear(q.packets)
	q.packets = q.packets[:0]
	q.next = 0
}
