package byteorder

import (
	"encoding/binary"
	"math"
)

// NOTE(blukai): the browser client reads and writes every multi-byte field with
// DataView's littleEndian flag set, so unlike network byte order everything on
// the wire here is little-endian. both sides must agree on this forever.

// decrypt names:
// s  = short     = 16 bit
// l  = long      = 32 bit
// ll = long long = 64 bit
// f  = float32
// d  = float64 (double)

func PutS(buf []byte, val uint16) {
	binary.LittleEndian.PutUint16(buf, val)
}

func PutL(buf []byte, val uint32) {
	binary.LittleEndian.PutUint32(buf, val)
}

func PutLL(buf []byte, val uint64) {
	binary.LittleEndian.PutUint64(buf, val)
}

func PutF(buf []byte, val float32) {
	PutL(buf, math.Float32bits(val))
}

func PutD(buf []byte, val float64) {
	PutLL(buf, math.Float64bits(val))
}

func S(buf []byte) uint16 {
	return binary.LittleEndian.Uint16(buf)
}

func L(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func LL(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func F(buf []byte) float32 {
	return math.Float32frombits(L(buf))
}

func D(buf []byte) float64 {
	return math.Float64frombits(LL(buf))
}
