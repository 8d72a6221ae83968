package message

import (
	"encoding"
	"fmt"
)

// SystemGroup is reserved for messages the session layer exchanges itself.
// Caller-registered descriptors must use a non-zero group.
const SystemGroup uint16 = 0

// Message is one typed payload carried inside a channel stream.
// The body encoding belongs to the message; the layer only frames it.
type Message interface {
	// Descriptor identifies the (group, type) pair of the message.
	Descriptor() *Descriptor

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Descriptor is a registered (group, type) pair.
type Descriptor struct {
	Group uint16
	Type  uint16
	Name  string

	// Reliable routes messages of this kind into the reliable stream by default.
	Reliable bool

	// New allocates an empty message for decoding. When nil, received
	// messages decode into *RawMessage.
	New func() Message
}

// NewMessage allocates an empty message of this kind.
func (d *Descriptor) NewMessage() Message {
	if d.New != nil {
		return d.New()
	}
	return &RawMessage{Desc: d}
}

// String returns "name(group:type)".
func (d *Descriptor) String() string {
	name := d.Name
	if name == "" {
		name = "message"
	}
	return fmt.Sprintf("%s(%d:%d)", name, d.Group, d.Type)
}

// RawMessage is a message whose body is kept as opaque bytes.
type RawMessage struct {
	Desc    *Descriptor
	Payload []byte
}

// NewRawMessage creates a RawMessage for d carrying payload.
func NewRawMessage(d *Descriptor, payload []byte) *RawMessage {
	return &RawMessage{Desc: d, Payload: payload}
}

// Descriptor returns the descriptor the message was created for.
func (m *RawMessage) Descriptor() *Descriptor {
	return m.Desc
}

// MarshalBinary returns the payload.
func (m *RawMessage) MarshalBinary() ([]byte, error) {
	return m.Payload, nil
}

// UnmarshalBinary copies data into the payload.
func (m *RawMessage) UnmarshalBinary(data []byte) error {
	m.Payload = append(m.Payload[:0], data...)
	return nil
}
