package channel

import (
	"encoding/binary"

	"github.com/opd-ai/gamenet/limits"
	"golang.org/x/crypto/blake2b"
)

// Header flag bits of a sequenced datagram.
const (
	flagOutReliable uint8 = 1 << iota // sender's outReliableState
	flagInReliable                    // sender's inReliableState, acknowledging our reliable block
	flagHasReliable                   // a reliable block follows the header
)

// checksumOffset is where the two checksum bytes sit in the header.
const checksumOffset = 9

// header is the fixed part of a sequenced datagram.
type header struct {
	sequence uint32
	ack      uint32
	flags    uint8
	checksum uint16
}

// appendHeader writes h with a zero checksum; sealDatagram fills it in later.
func appendHeader(buf []byte, h header) []byte {
	buf = binary.BigEndian.AppendUint32(buf, h.sequence)
	buf = binary.BigEndian.AppendUint32(buf, h.ack)
	buf = append(buf, h.flags)
	return append(buf, 0, 0)
}

// parseHeader reads the fixed header. The caller has checked the length.
func parseHeader(data []byte) header {
	return header{
		sequence: binary.BigEndian.Uint32(data[0:4]),
		ack:      binary.BigEndian.Uint32(data[4:8]),
		flags:    data[8],
		checksum: binary.BigEndian.Uint16(data[checksumOffset : checksumOffset+2]),
	}
}

// datagramChecksum covers every byte of the datagram except the checksum itself.
func datagramChecksum(data []byte) uint16 {
	h, _ := blake2b.New256(nil)
	h.Write(data[:checksumOffset])
	h.Write(data[limits.SequencedHeaderSize:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint16(sum[:2])
}

// sealDatagram stores the checksum of a fully built datagram.
func sealDatagram(data []byte) {
	binary.BigEndian.PutUint16(data[checksumOffset:], datagramChecksum(data))
}

func bit(b bool, flag uint8) uint8 {
	if b {
		return flag
	}
	return 0
}
