package protocol

import (
	"fmt"

	"github.com/blukai/fragrelay/internal/debug"
)

// Packet is one decoded packet of a frame.
type Packet struct {
	ID     uint8
	Values []any
}

func (p Packet) Schema() *Schema {
	s, _ := Lookup(p.ID)
	return s
}

// typed accessors; they panic when the value at i is not of the requested
// type, which means the caller and the schema table disagree.

func (p Packet) Uint8(i int) uint8 {
	v, ok := p.Values[i].(uint8)
	debug.Assertf(ok, "packet %d value %d is %T, not uint8", p.ID, i, p.Values[i])
	return v
}

func (p Packet) Uint16(i int) uint16 {
	v, ok := p.Values[i].(uint16)
	debug.Assertf(ok, "packet %d value %d is %T, not uint16", p.ID, i, p.Values[i])
	return v
}

func (p Packet) Float32(i int) float32 {
	v, ok := p.Values[i].(float32)
	debug.Assertf(ok, "packet %d value %d is %T, not float32", p.ID, i, p.Values[i])
	return v
}

func (p Packet) String(i int) string {
	v, ok := p.Values[i].(string)
	debug.Assertf(ok, "packet %d value %d is %T, not string", p.ID, i, p.Values[i])
	return v
}

// UnknownSchemaError means that the byte at Offset is not a registered schema
// id. nothing after Offset can be parsed because packets carry no length.
type UnknownSchemaError struct {
	ID     uint8
	Offset int
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("unknown schema id %d at offset %d", e.ID, e.Offset)
}

// TruncatedPacketError means that the frame ends in the middle of a packet.
type TruncatedPacketError struct {
	ID     uint8
	Offset int
	Need   int
	Have   int
}

func (e *TruncatedPacketError) Error() string {
	return fmt.Sprintf("truncated packet %d at offset %d (got %d bytes; want %d)", e.ID, e.Offset, e.Have, e.Need)
}

// ParseFrame splits a frame of back to back packets. on an unknown id or a
// short tail it stops and returns the packets decoded so far together with
// the error; the rest of the frame is lost.
func ParseFrame(frame []byte) ([]Packet, error) {
	var packets []Packet

	off := 0
	for off < len(frame) {
		id := frame[off]
		s, ok := Lookup(id)
		if !ok {
			return packets, &UnknownSchemaError{ID: id, Offset: off}
		}
		if off+s.size > len(frame) {
			return packets, &TruncatedPacketError{ID: id, Offset: off, Need: s.size, Have: len(frame) - off}
		}

		values, err := s.Decode(frame[off : off+s.size])
		debug.Assert(err == nil)

		packets = append(packets, Packet{ID: id, Values: values})
		off += s.size
	}

	return packets, nil
}

// JoinFrame concatenates encoded packets into a single frame.
func JoinFrame(packets [][]byte) []byte {
	n := 0
	for _, p := range packets {
		n += len(p)
	}
	frame := make([]byte, 0, n)
	for _, p := range packets {
		frame = append(frame, p...)
	}
	return frame
}
