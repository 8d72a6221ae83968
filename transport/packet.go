package transport

import (
	"encoding/binary"
	"time"
)

// Packet is one inbound datagram together with a read cursor.
//
// A Packet owns its Data slice: transports copy out of their socket buffers
// before handing a packet over, so a packet stays valid until the caller
// drops it.
type Packet struct {
	From       Address
	ReceivedAt time.Time
	Data       []byte

	pos int
}

// NewPacket wraps data received from the given address. The packet takes
// ownership of data.
func NewPacket(from Address, receivedAt time.Time, data []byte) *Packet {
	return &Packet{
		From:       from,
		ReceivedAt: receivedAt,
		Data:       data,
	}
}

// Len returns the total size of the datagram.
func (p *Packet) Len() int {
	return len(p.Data)
}

// Offset returns the cursor position.
func (p *Packet) Offset() int {
	return p.pos
}

// Remaining returns the unread bytes without advancing the cursor.
func (p *Packet) Remaining() []byte {
	return p.Data[p.pos:]
}

// Rewind moves the cursor back to the start of the datagram.
func (p *Packet) Rewind() {
	p.pos = 0
}

// Next returns the next n bytes and advances the cursor.
func (p *Packet) Next(n int) ([]byte, error) {
	if n < 0 || p.pos+n > len(p.Data) {
		return nil, ErrPacketTooShort
	}
	b := p.Data[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// ReadByte reads one byte.
func (p *Packet) ReadByte() (byte, error) {
	b, err := p.Next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a big-endian uint16.
func (p *Packet) ReadUint16() (uint16, error) {
	b, err := p.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint32 reads a big-endian uint32.
func (p *Packet) ReadUint32() (uint32, error) {
	b, err := p.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadString reads a string prefixed with a one-byte length.
func (p *Packet) ReadString() (string, error) {
	n, err := p.ReadByte()
	if err != nil {
		return "", err
	}
	b, err := p.Next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendString appends s with a one-byte length prefix, truncating to 255 bytes.
func AppendString(buf []byte, s string) []byte {
	if len(s) > 0xFF {
		s = s[:0xFF]
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}
