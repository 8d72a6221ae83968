package transport

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketCursor(t *testing.T) {
	data := binary.BigEndian.AppendUint32(nil, 0xFFFFFFFF)
	data = append(data, 7)
	data = binary.BigEndian.AppendUint16(data, 513)
	data = AppendString(data, "player")

	p := NewPacket(LoopbackAddress(1000), time.Unix(10, 0), data)
	assert.Equal(t, len(data), p.Len())

	marker, err := p.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), marker)

	cmd, err := p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), cmd)

	v, err := p.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(513), v)

	s, err := p.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "player", s)

	assert.Empty(t, p.Remaining())
	_, err = p.ReadByte()
	assert.ErrorIs(t, err, ErrPacketTooShort)

	p.Rewind()
	assert.Equal(t, 0, p.Offset())
	assert.Equal(t, data, p.Remaining())
}

func TestPacketShortReads(t *testing.T) {
	p := NewPacket(LoopbackAddress(1000), time.Now(), []byte{1, 2, 3})

	_, err := p.ReadUint32()
	assert.ErrorIs(t, err, ErrPacketTooShort)
	assert.Equal(t, 0, p.Offset(), "failed reads must not move the cursor")

	_, err = p.Next(-1)
	assert.ErrorIs(t, err, ErrPacketTooShort)

	// Length prefix claims more bytes than remain.
	p = NewPacket(LoopbackAddress(1000), time.Now(), []byte{5, 'a', 'b'})
	_, err = p.ReadString()
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestAppendStringTruncates(t *testing.T) {
	long := strings.Repeat("x", 300)
	buf := AppendString(nil, long)
	assert.Equal(t, byte(0xFF), buf[0])
	assert.Len(t, buf, 256)
}
