package channel

// ConnectionState is the lifecycle state of a Channel.
type ConnectionState uint8

const (
	// Disconnected is the initial state and the terminal state after Shutdown.
	Disconnected ConnectionState = iota
	// Connecting means a handshake is outstanding.
	Connecting
	// ConnectionFailed means the handshake was rejected or timed out.
	ConnectionFailed
	// Connected means the channel was set up and may send and receive.
	Connected
)

// String returns a human readable state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectionFailed:
		return "connection failed"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handler receives lifecycle notifications from a Channel.
// Connection managers implement it.
type Handler interface {
	// OnConnectionStart is called by Setup once the channel is Connected.
	OnConnectionStart(ch *Channel)

	// OnConnectionClosing is called exactly once when a Connected channel
	// shuts down, with the reason for the shutdown.
	OnConnectionClosing(ch *Channel, reason string)

	// OnConnectionCrashed is called before OnConnectionClosing when the
	// channel hits a fatal condition such as ErrChannelOverflow or
	// ErrMalformedPacket.
	OnConnectionCrashed(ch *Channel, err error)
}
