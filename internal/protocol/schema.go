package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/phuslu/log"
)

var logger = silentLogger()

func silentLogger() *log.Logger {
	tmp := log.DefaultLogger
	tmp.Writer = &log.IOWriter{Writer: io.Discard}
	return &tmp
}

// SetLogger sets the logger that codec warnings (such as truncated text) are
// written to. nil silences them.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = silentLogger()
	}
	logger = l
}

var ErrValueCount = errors.New("wrong number of values")

// Schema is an immutable fixed layout description of one packet kind. the
// encoded form is the id byte followed by every field at a fixed offset.
type Schema struct {
	id      uint8
	name    string
	fields  []Field
	offsets []int
	size    int
}

func NewSchema(id uint8, name string, fields ...Field) *Schema {
	s := &Schema{
		id:      id,
		name:    name,
		fields:  append([]Field(nil), fields...),
		offsets: make([]int, len(fields)),
		size:    1,
	}
	for i, f := range fields {
		s.offsets[i] = s.size
		s.size += f.Kind.Width()
	}
	return s
}

func (s *Schema) ID() uint8    { return s.id }
func (s *Schema) Name() string { return s.name }

// Size is the total encoded length including the id byte.
func (s *Schema) Size() int { return s.size }

func (s *Schema) String() string {
	return fmt.Sprintf("%s(%d)", s.name, s.id)
}

// Encode writes the id byte followed by values in field order. numeric values
// of any Go integer or float type are accepted as long as they fit the field.
func (s *Schema) Encode(values ...any) ([]byte, error) {
	if len(values) != len(s.fields) {
		return nil, fmt.Errorf("could not encode %s (got %d values; want %d): %w",
			s, len(values), len(s.fields), ErrValueCount)
	}

	buf := make([]byte, s.size)
	buf[0] = s.id
	for i, f := range s.fields {
		off := s.offsets[i]
		if err := f.put(buf[off:off+f.Kind.Width()], values[i]); err != nil {
			return nil, fmt.Errorf("could not encode %s: %w", s, err)
		}
	}
	return buf, nil
}

// Decode is the inverse of Encode. the leading id byte is not checked.
func (s *Schema) Decode(data []byte) ([]any, error) {
	if len(data) != s.size {
		return nil, fmt.Errorf("could not decode %s (got %d bytes; want %d)", s, len(data), s.size)
	}

	values := make([]any, len(s.fields))
	for i, f := range s.fields {
		off := s.offsets[i]
		values[i] = f.get(data[off : off+f.Kind.Width()])
	}
	return values, nil
}
