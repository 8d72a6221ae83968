package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/sirupsen/logrus"
)

// packetReadTimeout bounds each blocking read of the socket reader so that
// Close is observed promptly.
const packetReadTimeout = 100 * time.Millisecond

// UDPTransport implements Transport over a UDP socket.
//
// A single reader goroutine copies datagrams into a bounded queue; Receive
// drains that queue without blocking, so all protocol processing stays on the
// caller's tick.
type UDPTransport struct {
	conn      net.PacketConn
	localAddr Address
	queue     chan *Packet
	dropped   atomic.Uint64

	closed bool
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	// timeProvider stamps received packets (injectable for testing)
	timeProvider clock.TimeProvider
}

// ListenUDP opens a UDP transport on the given local port on all interfaces.
func ListenUDP(port int, tp clock.TimeProvider) (*UDPTransport, error) {
	listenAddr := fmt.Sprintf(":%d", port)
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, newOpError("listen", listenAddr, err)
	}

	local, ok := AddressFromNet(conn.LocalAddr())
	if !ok {
		conn.Close()
		return nil, newOpError("listen", listenAddr, ErrInvalidAddress)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:         conn,
		localAddr:    local,
		queue:        make(chan *Packet, limits.ReceiveQueueSize),
		ctx:          ctx,
		cancel:       cancel,
		timeProvider: clock.Or(tp),
	}

	go t.processPackets()

	logrus.WithFields(logrus.Fields{
		"local_addr": local.String(),
		"component":  "UDPTransport",
	}).Info("Opened UDP transport")

	return t, nil
}

// UDPFactory returns a Factory that opens UDP transports.
func UDPFactory(tp clock.TimeProvider) Factory {
	return func(port int) (Transport, error) {
		return ListenUDP(port, tp)
	}
}

// SendTo transmits one datagram to the given address.
func (t *UDPTransport) SendTo(data []byte, to Address) error {
	if err := limits.ValidateDatagram(data); err != nil {
		return newOpError("send", to.String(), err)
	}
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return newOpError("send", to.String(), ErrClosed)
	}

	if _, err := t.conn.WriteTo(data, to.UDPAddr()); err != nil {
		return newOpError("send", to.String(), err)
	}
	return nil
}

// Receive returns the next buffered datagram without blocking.
func (t *UDPTransport) Receive() (*Packet, bool) {
	select {
	case p := <-t.queue:
		return p, true
	default:
		return nil, false
	}
}

// LocalAddr returns the address the transport is bound to.
func (t *UDPTransport) LocalAddr() Address {
	return t.localAddr
}

// Dropped returns how many datagrams were discarded because the queue was full.
func (t *UDPTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// Close shuts down the transport.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	return t.conn.Close()
}

// processPackets reads datagrams until the transport is closed.
func (t *UDPTransport) processPackets() {
	buffer := make([]byte, 65536) // Maximum UDP packet size

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			if !t.processIncomingPacket(buffer) {
				return
			}
		}
	}
}

// processIncomingPacket reads and queues a single datagram.
// Returns false if the reader should stop.
func (t *UDPTransport) processIncomingPacket(buffer []byte) bool {
	if err := t.conn.SetReadDeadline(time.Now().Add(packetReadTimeout)); err != nil {
		return t.handleReadError(err)
	}

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return t.handleReadError(err)
	}

	from, ok := AddressFromNet(addr)
	if !ok || n == 0 {
		return true
	}
	if n > limits.MaxDatagramSize {
		logrus.WithFields(logrus.Fields{
			"remote_addr": from.String(),
			"size":        n,
			"component":   "UDPTransport",
		}).Debug("Discarded oversized datagram")
		return true
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	t.enqueuePacket(NewPacket(from, t.timeProvider.Now(), data))
	return true
}

// handleReadError processes read errors and determines if reading should continue.
func (t *UDPTransport) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed || errors.Is(err, net.ErrClosed) {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"error":     err.Error(),
		"component": "UDPTransport",
	}).Debug("Error reading datagram")
	return true
}

// enqueuePacket hands a datagram to the drain queue, dropping it when full.
func (t *UDPTransport) enqueuePacket(p *Packet) {
	select {
	case t.queue <- p:
	default:
		t.dropped.Add(1)
		logrus.WithFields(logrus.Fields{
			"remote_addr": p.From.String(),
			"component":   "UDPTransport",
		}).Warn("Dropped datagram due to full queue")
	}
}
