package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
	"github.com/opd-ai/gamenet/limits"
)

// lengthBits is the width of the body length field of a record.
const lengthBits = 16

// StreamWriter accumulates message records for one channel stream.
//
// Each record is: a continuation bit (1), the group id (GroupBits), the type
// id (TypeBits), the body length (16 bits) and the body bytes. Finish closes
// the stream with a zero continuation bit and pads to a byte boundary.
type StreamWriter struct {
	registry *Registry
	buf      bytes.Buffer
	w        *bitio.Writer
	bits     int
	count    int
}

// NewStreamWriter creates an empty stream bound to registry's bit widths.
func NewStreamWriter(registry *Registry) *StreamWriter {
	s := &StreamWriter{registry: registry}
	s.w = bitio.NewWriter(&s.buf)
	return s
}

// recordBits returns the encoded size in bits of a record with the given body length.
func (s *StreamWriter) recordBits(bodyLen int) int {
	return 1 + int(s.registry.GroupBits()) + int(s.registry.TypeBits()) + lengthBits + 8*bodyLen
}

// finishedLen returns the byte size of the stream after Finish if it held totalBits of records.
func finishedLen(totalBits int) int {
	return (totalBits + 1 + 7) / 8
}

// Write appends msg to the stream. It fails with ErrStreamFull, leaving the
// stream untouched, when the finished stream would exceed limit bytes.
func (s *StreamWriter) Write(msg Message, limit int) error {
	d := msg.Descriptor()
	if d == nil || s.registry.Find(d.Group, d.Type) != d {
		return fmt.Errorf("%w: %v", ErrUnregistered, d)
	}

	body, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", d, err)
	}
	if len(body) > limits.MaxMessageBody {
		return fmt.Errorf("%w: %s body %d exceeds %d", ErrBodyTooLarge, d, len(body), limits.MaxMessageBody)
	}

	add := s.recordBits(len(body))
	if finishedLen(s.bits+add) > limit {
		return fmt.Errorf("%w: %s needs %d bytes, limit %d", ErrStreamFull, d, finishedLen(s.bits+add), limit)
	}

	if err := s.w.WriteBool(true); err != nil {
		return err
	}
	if err := s.w.WriteBits(uint64(d.Group), s.registry.GroupBits()); err != nil {
		return err
	}
	if err := s.w.WriteBits(uint64(d.Type), s.registry.TypeBits()); err != nil {
		return err
	}
	if err := s.w.WriteBits(uint64(len(body)), lengthBits); err != nil {
		return err
	}
	if _, err := s.w.Write(body); err != nil {
		return err
	}

	s.bits += add
	s.count++
	return nil
}

// Len returns the byte size the stream will have once finished, or zero when empty.
func (s *StreamWriter) Len() int {
	if s.count == 0 {
		return 0
	}
	return finishedLen(s.bits)
}

// Count returns how many messages are in the stream.
func (s *StreamWriter) Count() int {
	return s.count
}

// Finish terminates the stream, returns its bytes and resets the writer.
// An empty stream finishes to nil.
func (s *StreamWriter) Finish() ([]byte, error) {
	if s.count == 0 {
		s.Reset()
		return nil, nil
	}
	if err := s.w.WriteBool(false); err != nil {
		return nil, err
	}
	if _, err := s.w.Align(); err != nil {
		return nil, err
	}
	out := bytes.Clone(s.buf.Bytes())
	s.Reset()
	return out, nil
}

// Reset discards all queued records.
func (s *StreamWriter) Reset() {
	s.buf.Reset()
	s.w = bitio.NewWriter(&s.buf)
	s.bits = 0
	s.count = 0
}

// StreamReader decodes the records of finished streams, one per Next call.
// data may hold several finished streams back to back; each one starts on a
// byte boundary.
type StreamReader struct {
	registry *Registry
	src      *bytes.Reader
	r        *bitio.Reader
	done     bool
}

// NewStreamReader reads the streams in data. An empty slice is an empty stream.
func NewStreamReader(registry *Registry, data []byte) *StreamReader {
	src := bytes.NewReader(data)
	return &StreamReader{
		registry: registry,
		src:      src,
		r:        bitio.NewReader(src),
		done:     len(data) == 0,
	}
}

// Next decodes the next message. It returns io.EOF at the end of the stream.
// Errors other than io.EOF wrap ErrMalformedStream or ErrUnknownMessage and
// leave the reader finished.
func (s *StreamReader) Next() (Message, error) {
	if s.done {
		return nil, io.EOF
	}
	msg, err := s.next()
	if err != nil {
		s.done = true
	}
	return msg, err
}

func (s *StreamReader) next() (Message, error) {
	more, err := s.r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("%w: missing terminator: %v", ErrMalformedStream, err)
	}
	for !more {
		if s.src.Len() == 0 {
			return nil, io.EOF
		}
		// Padding bits of the finished stream stay behind in the old reader.
		s.r = bitio.NewReader(s.src)
		if more, err = s.r.ReadBool(); err != nil {
			return nil, fmt.Errorf("%w: missing terminator: %v", ErrMalformedStream, err)
		}
	}

	group, err := s.r.ReadBits(s.registry.GroupBits())
	if err != nil {
		return nil, fmt.Errorf("%w: group: %v", ErrMalformedStream, err)
	}
	typ, err := s.r.ReadBits(s.registry.TypeBits())
	if err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformedStream, err)
	}
	n, err := s.r.ReadBits(lengthBits)
	if err != nil {
		return nil, fmt.Errorf("%w: length: %v", ErrMalformedStream, err)
	}
	if n > limits.MaxMessageBody {
		return nil, fmt.Errorf("%w: body length %d", ErrMalformedStream, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(s.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: body truncated", ErrMalformedStream)
		}
		return nil, fmt.Errorf("%w: body: %v", ErrMalformedStream, err)
	}

	d := s.registry.Find(uint16(group), uint16(typ))
	if d == nil {
		return nil, fmt.Errorf("%w: %d:%d", ErrUnknownMessage, group, typ)
	}
	msg := d.NewMessage()
	if err := msg.UnmarshalBinary(body); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedStream, d, err)
	}
	return msg, nil
}
