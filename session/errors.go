package session

import "errors"

var (
	// ErrNotConnectionless indicates a datagram without the connectionless marker.
	ErrNotConnectionless = errors.New("not a connectionless packet")

	// ErrMalformedConnectionless indicates a connectionless datagram that could not be parsed.
	ErrMalformedConnectionless = errors.New("malformed connectionless packet")

	// ErrVersionMismatch rejects a client speaking another protocol version.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrServerFull rejects a client when the roster is at capacity.
	ErrServerFull = errors.New("server full")

	// ErrConnectTimeout is reported when a server never answers the handshake.
	ErrConnectTimeout = errors.New("connection timed out")

	// ErrManagerClosed indicates use of a connection manager after Shutdown.
	ErrManagerClosed = errors.New("connection manager closed")
)

// ErrConnectionRejected is reported when a server refuses the handshake.
var ErrConnectionRejected = errors.New("connection rejected")
