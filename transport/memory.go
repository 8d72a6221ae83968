package transport

import (
	"fmt"
	"sync"

	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
)

// firstEphemeralPort is where MemoryNetwork starts handing out ports for Listen(0).
const firstEphemeralPort = 40000

// FilterFunc decides whether a datagram in flight on a MemoryNetwork is
// delivered. Returning false drops it.
type FilterFunc func(from, to Address, data []byte) bool

// MemoryNetwork is an in-process datagram network on 127.0.0.1.
// Delivery is immediate and, unless a filter says otherwise, lossless and
// ordered; datagrams to unbound ports vanish as they would on UDP.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[Address]*MemoryTransport
	nextPort  int
	filter    FilterFunc

	timeProvider clock.TimeProvider
}

// NewMemoryNetwork creates an empty network. Packets are stamped using tp.
func NewMemoryNetwork(tp clock.TimeProvider) *MemoryNetwork {
	return &MemoryNetwork{
		endpoints:    make(map[Address]*MemoryTransport),
		nextPort:     firstEphemeralPort,
		timeProvider: clock.Or(tp),
	}
}

// SetFilter installs a delivery filter; nil delivers everything.
func (n *MemoryNetwork) SetFilter(f FilterFunc) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Listen binds a transport to 127.0.0.1:port. A port of zero picks a free one.
func (n *MemoryNetwork) Listen(port int) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for {
			if _, used := n.endpoints[LoopbackAddress(n.nextPort)]; !used {
				break
			}
			n.nextPort++
		}
		port = n.nextPort
		n.nextPort++
	}

	addr := LoopbackAddress(port)
	if _, used := n.endpoints[addr]; used {
		return nil, newOpError("listen", addr.String(), ErrAddressInUse)
	}

	t := &MemoryTransport{network: n, localAddr: addr}
	n.endpoints[addr] = t
	return t, nil
}

// Factory returns a Factory that binds transports on this network.
func (n *MemoryNetwork) Factory() Factory {
	return func(port int) (Transport, error) {
		return n.Listen(port)
	}
}

func (n *MemoryNetwork) deliver(from, to Address, data []byte) {
	n.mu.Lock()
	dst, ok := n.endpoints[to]
	filter := n.filter
	n.mu.Unlock()

	if !ok {
		return
	}
	if filter != nil && !filter(from, to, data) {
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	dst.push(NewPacket(from, n.timeProvider.Now(), buf))
}

func (n *MemoryNetwork) unbind(addr Address) {
	n.mu.Lock()
	delete(n.endpoints, addr)
	n.mu.Unlock()
}

// MemoryTransport is one endpoint of a MemoryNetwork.
type MemoryTransport struct {
	network   *MemoryNetwork
	localAddr Address

	mu     sync.Mutex
	queue  []*Packet
	sent   int
	closed bool
}

// SendTo delivers a copy of data to the endpoint bound at to.
func (t *MemoryTransport) SendTo(data []byte, to Address) error {
	if err := limits.ValidateDatagram(data); err != nil {
		return newOpError("send", to.String(), err)
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return newOpError("send", to.String(), ErrClosed)
	}
	t.sent++
	t.mu.Unlock()

	t.network.deliver(t.localAddr, to, data)
	return nil
}

// Receive pops the oldest queued datagram without blocking.
func (t *MemoryTransport) Receive() (*Packet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil, false
	}
	p := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	return p, true
}

// LocalAddr returns the bound address.
func (t *MemoryTransport) LocalAddr() Address {
	return t.localAddr
}

// Pending returns how many datagrams are waiting to be received.
func (t *MemoryTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Sent returns how many datagrams this endpoint has transmitted.
func (t *MemoryTransport) Sent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// Close unbinds the endpoint and discards queued datagrams.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.queue = nil
	t.mu.Unlock()

	t.network.unbind(t.localAddr)
	return nil
}

func (t *MemoryTransport) push(p *Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.queue) >= limits.ReceiveQueueSize {
		return
	}
	t.queue = append(t.queue, p)
}

// String describes the endpoint for logs.
func (t *MemoryTransport) String() string {
	return fmt.Sprintf("memory://%s", t.localAddr)
}
