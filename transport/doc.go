// Package transport provides the Datagram Transport used by the gamenet
// session layer: a socket bound to a local port that sends and receives raw
// datagrams tagged with a peer Address.
//
// # Architecture
//
// The session layer is tick driven. Transports therefore expose a
// non-blocking Receive that returns the next buffered datagram or reports that
// nothing is waiting:
//
//	type Transport interface {
//	    SendTo(data []byte, to Address) error
//	    Receive() (*Packet, bool)
//	    LocalAddr() Address
//	    Close() error
//	}
//
// # Implementations
//
// UDP Transport:
//
//	t, err := transport.ListenUDP(27001, nil)
//	// A reader goroutine copies datagrams into a bounded queue;
//	// Receive drains it on the caller's tick.
//
// Memory Transport:
//
//	network := transport.NewMemoryNetwork(nil)
//	server, _ := network.Listen(27001)
//	client, _ := network.Listen(0)
//	// Lossless in-process delivery on 127.0.0.1; SetFilter simulates loss.
//
// # Addresses
//
// Address wraps netip.AddrPort, so it is immutable and comparable and can key
// the channel registry directly. ResolveAddress answers "localhost" without
// touching the resolver.
//
// # Packets
//
// A Packet owns its bytes and carries a read cursor (Next, ReadByte,
// ReadUint16, ReadUint32, ReadString) used by the connectionless handshake
// and by channel decoding.
package transport
