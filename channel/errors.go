package channel

import "errors"

var (
	// ErrChannelOverflow indicates more reliable data was queued than the
	// channel can hold before the peer acknowledges. It is fatal.
	ErrChannelOverflow = errors.New("reliable channel overflowed")

	// ErrMalformedPacket indicates a checksum-valid datagram whose structure
	// cannot be decoded. It is fatal.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrChannelClosed indicates an operation on a channel that is not Connected
	ErrChannelClosed = errors.New("channel closed")
)
