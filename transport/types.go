package transport

// Transport is the Datagram Transport collaborator: one datagram socket bound
// to a local port. Implementations never block in Receive; absence of data
// ends a drain loop for the current tick.
type Transport interface {
	// SendTo transmits one datagram to the given address.
	SendTo(data []byte, to Address) error

	// Receive returns the next buffered inbound datagram, or false when
	// nothing is waiting. Ownership of the returned packet passes to the caller.
	Receive() (*Packet, bool)

	// LocalAddr returns the address the transport is bound to.
	LocalAddr() Address

	// Close shuts down the transport.
	Close() error
}

// Factory opens a transport bound to the given local port. A port of zero
// selects any free port.
type Factory func(port int) (Transport, error)
