package protocol_test

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/matryer/is"
	"github.com/phuslu/log"
)

func TestSchemaSizes(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		schema *protocol.Schema
		size   int
	}{
		{protocol.Disconnect, 2},
		{protocol.MovementSend, 17},
		{protocol.MovementRecv, 18},
		{protocol.PlaySoundSend, 3},
		{protocol.PlaySoundRecv, 4},
		{protocol.UpdateHealthSend, 5},
		{protocol.UpdateHealthRecv, 6},
		{protocol.Shot, 25},
		{protocol.HitPlayerSend, 2},
		{protocol.HitPlayerRecv, 1},
		{protocol.TransferString, 17},
	}

	for i, tc := range testCases {
		is.Equal(tc.schema.ID(), uint8(i))
		is.Equal(tc.schema.Size(), tc.size)

		s, ok := protocol.Lookup(uint8(i))
		is.True(ok)
		is.Equal(s, tc.schema)
	}

	_, ok := protocol.Lookup(11)
	is.True(!ok)
}

func TestRoundTrip(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		schema *protocol.Schema
		values []any
	}{
		{protocol.Disconnect, []any{uint8(127)}},
		{protocol.MovementSend, []any{float32(-1.5), float32(0), float32(math.MaxFloat32), float32(math.Pi)}},
		{protocol.MovementRecv, []any{uint8(3), float32(1), float32(2), float32(3), float32(-4)}},
		{protocol.PlaySoundSend, []any{uint16(math.MaxUint16)}},
		{protocol.PlaySoundRecv, []any{uint8(0), uint16(513)}},
		{protocol.UpdateHealthSend, []any{float32(0.6)}},
		{protocol.UpdateHealthRecv, []any{uint8(9), float32(1)}},
		{protocol.Shot, []any{float32(1), float32(2), float32(3), float32(4), float32(5), float32(6)}},
		{protocol.HitPlayerSend, []any{uint8(42)}},
		{protocol.HitPlayerRecv, []any{}},
		{protocol.TransferString, []any{"Hello world!"}},
		{protocol.TransferString, []any{""}},
		{protocol.TransferString, []any{"exactly16bytes!!"}},
		{protocol.TransferString, []any{"héllo wörld"}},
	}

	for _, tc := range testCases {
		encoded, err := tc.schema.Encode(tc.values...)
		is.NoErr(err)
		is.Equal(len(encoded), tc.schema.Size())
		is.Equal(encoded[0], tc.schema.ID())

		decoded, err := tc.schema.Decode(encoded)
		is.NoErr(err)
		is.Equal(decoded, tc.values)
	}
}

func TestAllKinds(t *testing.T) {
	is := is.New(t)

	s := protocol.NewSchema(200, "everything",
		protocol.U8("a"), protocol.I8("b"),
		protocol.U16("c"), protocol.I16("d"),
		protocol.U32("e"), protocol.I32("f"),
		protocol.F32("g"), protocol.F64("h"),
		protocol.Str16("i"),
	)
	is.Equal(s.Size(), 1+1+1+2+2+4+4+4+8+16)

	values := []any{
		uint8(255), int8(-128),
		uint16(65535), int16(-32768),
		uint32(math.MaxUint32), int32(math.MinInt32),
		float32(-0.25), float64(math.E),
		"zz",
	}
	encoded, err := s.Encode(values...)
	is.NoErr(err)

	decoded, err := s.Decode(encoded)
	is.NoErr(err)
	is.Equal(decoded, values)
}

func TestLittleEndian(t *testing.T) {
	is := is.New(t)

	encoded := protocol.EncodePlaySoundRecv(1, 0x0102)
	is.Equal(encoded, []byte{4, 1, 0x02, 0x01})

	encoded = protocol.EncodeUpdateHealthSend(1)
	// 1.0f = 0x3f800000
	is.Equal(encoded, []byte{5, 0x00, 0x00, 0x80, 0x3f})
}

func TestEncodeConvertsNumbers(t *testing.T) {
	is := is.New(t)

	encoded, err := protocol.MovementRecv.Encode(2, 1, 2.5, 3, 4)
	is.NoErr(err)
	is.Equal(encoded, protocol.EncodeMovementRecv(2, 1, 2.5, 3, 4))
}

func TestEncodeErrors(t *testing.T) {
	is := is.New(t)

	_, err := protocol.Disconnect.Encode()
	is.True(errors.Is(err, protocol.ErrValueCount))

	_, err = protocol.Disconnect.Encode(256)
	var typeErr *protocol.ValueTypeError
	is.True(errors.As(err, &typeErr))
	is.Equal(typeErr.Field.Name, "userId")

	_, err = protocol.Disconnect.Encode(-1)
	is.True(errors.As(err, &typeErr))

	_, err = protocol.UpdateHealthSend.Encode("full")
	is.True(errors.As(err, &typeErr))

	_, err = protocol.TransferString.Encode(42)
	is.True(errors.As(err, &typeErr))

	_, err = protocol.Disconnect.Decode([]byte{0})
	is.True(err != nil)
}

func TestLongStringIsTruncated(t *testing.T) {
	is := is.New(t)

	s := protocol.NewSchema(201, "text then number",
		protocol.Str16("text"),
		protocol.U16("after"),
	)

	encoded, err := s.Encode(strings.Repeat("x", 40), uint16(0xbeef))
	is.NoErr(err)
	is.Equal(len(encoded), s.Size())

	decoded, err := s.Decode(encoded)
	is.NoErr(err)
	is.Equal(decoded[0], strings.Repeat("x", protocol.ShortStringSize))
	is.Equal(decoded[1], uint16(0xbeef))
}

func TestLongStringIsCutOnRuneBoundary(t *testing.T) {
	is := is.New(t)

	// 15 ascii bytes followed by a two byte rune that does not fit
	text := strings.Repeat("a", 15) + "é"

	decoded, err := protocol.TransferString.Decode(protocol.EncodeTransferString(text))
	is.NoErr(err)
	is.Equal(decoded[0], strings.Repeat("a", 15))
}

func TestLongStringWarns(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	protocol.SetLogger(&log.Logger{
		Level:  log.DebugLevel,
		Writer: &log.IOWriter{Writer: &buf},
	})
	t.Cleanup(func() { protocol.SetLogger(nil) })

	protocol.EncodeTransferString("fits")
	is.Equal(buf.Len(), 0)

	protocol.EncodeTransferString(strings.Repeat("y", 20))
	out := buf.String()
	is.True(strings.Contains(out, `"level":"warn"`))
	is.True(strings.Contains(out, "truncating"))
	is.True(strings.Contains(out, `"field":"text"`))
}

func TestTableFingerprint(t *testing.T) {
	is := is.New(t)

	is.True(protocol.TableFingerprint() != 0)
	is.Equal(protocol.TableFingerprint(), protocol.TableFingerprint())
}
