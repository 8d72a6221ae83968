package transport

import (
	"errors"
	"fmt"
)

// Common transport errors
var (
	// ErrClosed indicates the transport has been closed
	ErrClosed = errors.New("transport closed")

	// ErrAddressInUse indicates another transport already owns the local address
	ErrAddressInUse = errors.New("address already in use")

	// ErrInvalidAddress indicates an address could not be parsed or resolved
	ErrInvalidAddress = errors.New("invalid address")

	// ErrPacketTooShort indicates a read past the end of a packet
	ErrPacketTooShort = errors.New("packet too short")
)

// OpError represents a transport error with additional context
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// newOpError creates a new OpError
func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
