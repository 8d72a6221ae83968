package message

import "errors"

var (
	// ErrStreamFull indicates a message does not fit the stream's size limit
	ErrStreamFull = errors.New("stream full")

	// ErrUnregistered indicates a message whose descriptor is not in the registry
	ErrUnregistered = errors.New("message not registered")

	// ErrUnknownMessage indicates a received (group, type) pair with no descriptor
	ErrUnknownMessage = errors.New("unknown message")

	// ErrMalformedStream indicates a stream that cannot be decoded
	ErrMalformedStream = errors.New("malformed stream")

	// ErrBodyTooLarge indicates a message body beyond limits.MaxMessageBody
	ErrBodyTooLarge = errors.New("message body too large")
)
