package message

import (
	"github.com/opd-ai/gamenet/limits"
)

// System message types within SystemGroup.
const (
	TypeNop uint16 = iota
	TypeDisconnect
)

// NopDescriptor describes an empty keepalive message.
var NopDescriptor = &Descriptor{
	Group: SystemGroup,
	Type:  TypeNop,
	Name:  "nop",
	New:   func() Message { return &Nop{} },
}

// DisconnectDescriptor describes the message a peer sends when it tears down
// a channel. It always travels unreliably.
var DisconnectDescriptor = &Descriptor{
	Group: SystemGroup,
	Type:  TypeDisconnect,
	Name:  "disconnect",
	New:   func() Message { return &Disconnect{} },
}

// systemDescriptors are present in every registry.
var systemDescriptors = []*Descriptor{NopDescriptor, DisconnectDescriptor}

// Nop carries no data.
type Nop struct{}

func (*Nop) Descriptor() *Descriptor           { return NopDescriptor }
func (*Nop) MarshalBinary() ([]byte, error)    { return nil, nil }
func (*Nop) UnmarshalBinary(data []byte) error { return nil }

// Disconnect carries the human readable reason for closing a channel.
type Disconnect struct {
	Reason string
}

// Descriptor returns DisconnectDescriptor.
func (*Disconnect) Descriptor() *Descriptor {
	return DisconnectDescriptor
}

// MarshalBinary encodes the reason, truncated to limits.MaxDisconnectReason.
func (m *Disconnect) MarshalBinary() ([]byte, error) {
	reason := m.Reason
	if len(reason) > limits.MaxDisconnectReason {
		reason = reason[:limits.MaxDisconnectReason]
	}
	return []byte(reason), nil
}

// UnmarshalBinary decodes the reason.
func (m *Disconnect) UnmarshalBinary(data []byte) error {
	if len(data) > limits.MaxDisconnectReason {
		return ErrMalformedStream
	}
	m.Reason = string(data)
	return nil
}
