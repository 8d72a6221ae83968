// Package limits provides the engine-wide size, rate and timing limits for the
// datagram session layer. Every component clamps its configuration against
// these values so that a client and a server built from the same tree agree on
// the wire.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxDatagramSize is the largest datagram the layer ever sends or accepts.
	// It stays under a typical 1500 byte Ethernet MTU once IP and UDP headers
	// are added.
	MaxDatagramSize = 1400

	// ConnectionlessMarkerSize is the length of the all-ones marker that opens
	// every out-of-band datagram.
	ConnectionlessMarkerSize = 4

	// SequencedHeaderSize is the fixed header of a sequenced datagram:
	// sequence (4) + ack (4) + flags (1) + checksum (2).
	SequencedHeaderSize = 11

	// ReliableLengthSize is the length prefix written before the reliable block.
	ReliableLengthSize = 2

	// MaxPayload is the room left for stream data in a single datagram.
	MaxPayload = MaxDatagramSize - SequencedHeaderSize - ReliableLengthSize

	// MaxReliableStream bounds reliable data queued while a previous reliable
	// block is still waiting for its acknowledgement. Exceeding it overflows
	// the channel.
	MaxReliableStream = 1024

	// MaxUnreliableStream bounds unreliable data queued for the next datagram.
	MaxUnreliableStream = MaxPayload

	// MaxMessageID is the largest group or type id a descriptor may use.
	MaxMessageID = 0xFFFF

	// MaxMessageBody is the largest encoded body of a single message.
	MaxMessageBody = MaxReliableStream

	// MaxDisconnectReason bounds the human readable reason carried by a
	// disconnect message.
	MaxDisconnectReason = 255

	// MaxNameLength bounds client and server names exchanged during the handshake.
	MaxNameLength = 64
)

const (
	// MinRate is the lowest transmit rate a channel can be configured with, in bytes per second.
	MinRate = 1000.0
	// DefaultRate is used when no rate is configured.
	DefaultRate = 80000.0
	// MaxRate is the highest transmit rate a channel can be configured with.
	MaxRate = 1024.0 * 1024.0

	// MinTimeout is the shortest silence after which a peer is dropped.
	MinTimeout = time.Second
	// DefaultTimeout is used when no timeout is configured.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout is the longest configurable silence.
	MaxTimeout = time.Hour
)

const (
	// DefaultServerPort is the port a server listens on when none is given.
	DefaultServerPort = 27001
	// DefaultClientPort is the port a client binds when none is given.
	DefaultClientPort = 27002

	// ProtocolVersion is carried in every connect request; mismatches are rejected.
	ProtocolVersion = 1

	// ConnectRetryInterval is the delay between repeated connect requests.
	ConnectRetryInterval = time.Second
	// MaxConnectAttempts is how many connect requests a client sends before giving up.
	MaxConnectAttempts = 5

	// DisconnectRepeats is how often a client repeats its final disconnect message.
	DisconnectRepeats = 3

	// DefaultMaxClients is the roster size of a server when none is configured.
	DefaultMaxClients = 32
	// MaxClients is the hard roster ceiling.
	MaxClients = 255

	// ReceiveQueueSize is how many datagrams a transport buffers between drains.
	ReceiveQueueSize = 1024
)

var (
	// ErrMessageEmpty indicates an empty buffer was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a buffer exceeds its maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a buffer against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateDatagram validates a raw datagram against MaxDatagramSize.
func ValidateDatagram(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: datagram size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxDatagramSize)
	}
	return nil
}

// ClampRate bounds a transmit rate to [MinRate, MaxRate].
// A zero or negative rate selects DefaultRate.
func ClampRate(rate float64) float64 {
	switch {
	case rate <= 0:
		return DefaultRate
	case rate < MinRate:
		return MinRate
	case rate > MaxRate:
		return MaxRate
	}
	return rate
}

// ClampTimeout bounds a connection timeout to [MinTimeout, MaxTimeout].
// A zero or negative timeout selects DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// ClampMaxClients bounds a roster size to [1, MaxClients].
// A zero or negative value selects DefaultMaxClients.
func ClampMaxClients(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxClients
	case n > MaxClients:
		return MaxClients
	}
	return n
}
