package session

import "github.com/opd-ai/gamenet/channel"

// notifier turns channel lifecycle callbacks into queued events. A crash
// error is remembered until the closing callback that always follows it.
type notifier struct {
	queue   *EventQueue
	crashes map[*channel.Channel]error
}

func newNotifier(q *EventQueue) notifier {
	return notifier{queue: q, crashes: make(map[*channel.Channel]error)}
}

func (n *notifier) connected(ch *channel.Channel) {
	n.queue.Post(Event{Type: EventConnected, Channel: ch})
}

func (n *notifier) crashed(ch *channel.Channel, err error) {
	n.crashes[ch] = err
}

func (n *notifier) disconnected(ch *channel.Channel, reason string) {
	err := n.crashes[ch]
	delete(n.crashes, ch)
	n.queue.Post(Event{Type: EventDisconnected, Channel: ch, Reason: reason, Err: err})
}

func (n *notifier) failed(ch *channel.Channel, reason string, err error) {
	n.queue.Post(Event{Type: EventDisconnected, Channel: ch, Reason: reason, Err: err})
}
