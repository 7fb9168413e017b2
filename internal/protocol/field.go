package protocol

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/blukai/fragrelay/internal/byteorder"
)

// ShortStringSize is the width of the fixed text slot. text is zero padded,
// never length prefixed, so a packet's size does not depend on its values.
const ShortStringSize = 16

type Kind uint8

const (
	KindUint8 Kind = iota
	KindInt8
	KindUint16
	KindInt16
	KindUint32
	KindInt32
	KindFloat32
	KindFloat64
	KindShortString
)

var kindNames = [...]string{
	KindUint8:       "u8",
	KindInt8:        "i8",
	KindUint16:      "u16",
	KindInt16:       "i16",
	KindUint32:      "u32",
	KindInt32:       "i32",
	KindFloat32:     "f32",
	KindFloat64:     "f64",
	KindShortString: "str16",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Width is the number of bytes a field of this kind occupies on the wire.
func (k Kind) Width() int {
	switch k {
	case KindUint8, KindInt8:
		return 1
	case KindUint16, KindInt16:
		return 2
	case KindUint32, KindInt32, KindFloat32:
		return 4
	case KindFloat64:
		return 8
	case KindShortString:
		return ShortStringSize
	}
	return 0
}

type Field struct {
	Name string
	Kind Kind
}

func U8(name string) Field    { return Field{Name: name, Kind: KindUint8} }
func I8(name string) Field    { return Field{Name: name, Kind: KindInt8} }
func U16(name string) Field   { return Field{Name: name, Kind: KindUint16} }
func I16(name string) Field   { return Field{Name: name, Kind: KindInt16} }
func U32(name string) Field   { return Field{Name: name, Kind: KindUint32} }
func I32(name string) Field   { return Field{Name: name, Kind: KindInt32} }
func F32(name string) Field   { return Field{Name: name, Kind: KindFloat32} }
func F64(name string) Field   { return Field{Name: name, Kind: KindFloat64} }
func Str16(name string) Field { return Field{Name: name, Kind: KindShortString} }

// ValueTypeError is returned when a value can not be represented by the field
// it is encoded into.
type ValueTypeError struct {
	Field Field
	Value any
}

func (e *ValueTypeError) Error() string {
	return fmt.Sprintf("value %v (%T) does not fit field %q of kind %s", e.Value, e.Value, e.Field.Name, e.Field.Kind)
}

// put writes v into buf, which is exactly f.Kind.Width() bytes long.
func (f Field) put(buf []byte, v any) error {
	switch f.Kind {
	case KindUint8, KindUint16, KindUint32:
		n, ok := asUint(v)
		if !ok || n > maxUint(f.Kind) {
			return &ValueTypeError{Field: f, Value: v}
		}
		switch f.Kind {
		case KindUint8:
			buf[0] = uint8(n)
		case KindUint16:
			byteorder.PutS(buf, uint16(n))
		default:
			byteorder.PutL(buf, uint32(n))
		}
	case KindInt8, KindInt16, KindInt32:
		n, ok := asInt(v)
		lo, hi := intRange(f.Kind)
		if !ok || n < lo || n > hi {
			return &ValueTypeError{Field: f, Value: v}
		}
		switch f.Kind {
		case KindInt8:
			buf[0] = uint8(int8(n))
		case KindInt16:
			byteorder.PutS(buf, uint16(int16(n)))
		default:
			byteorder.PutL(buf, uint32(int32(n)))
		}
	case KindFloat32:
		x, ok := asFloat(v)
		if !ok {
			return &ValueTypeError{Field: f, Value: v}
		}
		byteorder.PutF(buf, float32(x))
	case KindFloat64:
		x, ok := asFloat(v)
		if !ok {
			return &ValueTypeError{Field: f, Value: v}
		}
		byteorder.PutD(buf, x)
	case KindShortString:
		s, ok := v.(string)
		if !ok {
			return &ValueTypeError{Field: f, Value: v}
		}
		putShortString(buf, f, s)
	default:
		return &ValueTypeError{Field: f, Value: v}
	}
	return nil
}

// get reads a value of the field's kind from buf. the returned dynamic type is
// the natural Go type of the kind (uint8, int16, float32, string, ...).
func (f Field) get(buf []byte) any {
	switch f.Kind {
	case KindUint8:
		return buf[0]
	case KindInt8:
		return int8(buf[0])
	case KindUint16:
		return byteorder.S(buf)
	case KindInt16:
		return int16(byteorder.S(buf))
	case KindUint32:
		return byteorder.L(buf)
	case KindInt32:
		return int32(byteorder.L(buf))
	case KindFloat32:
		return byteorder.F(buf)
	case KindFloat64:
		return byteorder.D(buf)
	case KindShortString:
		n := 0
		for n < len(buf) && buf[n] != 0 {
			n++
		}
		return string(buf[:n])
	}
	return nil
}

func putShortString(buf []byte, f Field, s string) {
	clear(buf)
	if len(s) > len(buf) {
		// cut on a rune boundary so that the decoded prefix is still valid
		// utf-8.
		n := len(buf)
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		logger.Warn().
			Str("field", f.Name).
			Str("value", s).
			Int("bytes", len(s)).
			Int("width", len(buf)).
			Msg("string does not fit into fixed width field, truncating")
		s = s[:n]
	}
	copy(buf, s)
}

func maxUint(k Kind) uint64 {
	switch k {
	case KindUint8:
		return math.MaxUint8
	case KindUint16:
		return math.MaxUint16
	}
	return math.MaxUint32
}

func intRange(k Kind) (int64, int64) {
	switch k {
	case KindInt8:
		return math.MinInt8, math.MaxInt8
	case KindInt16:
		return math.MinInt16, math.MaxInt16
	}
	return math.MinInt32, math.MaxInt32
}

func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	}
	if n, ok := asInt(v); ok && n >= 0 {
		return uint64(n), true
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if n, ok := asInt(v); ok {
		return float64(n), true
	}
	return 0, false
}
