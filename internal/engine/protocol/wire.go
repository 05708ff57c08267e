package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedFrame is returned for buffers that cannot be decoded. A frame
// failing with this error should be dropped; the stream itself is still usable.
var ErrMalformedFrame = errors.New("malformed frame")

// cursor walks a protobuf-encoded buffer one field at a time.
type cursor struct {
	buf []byte
	pos int
	msg string // message name, used in errors
}

func newCursor(buf []byte, msg string) *cursor {
	return &cursor{buf: buf, msg: msg}
}

func (c *cursor) atEnd() bool {
	return c.pos >= len(c.buf)
}

func (c *cursor) rest() []byte {
	return c.buf[c.pos:]
}

func (c *cursor) fail(num protowire.Number, n int) error {
	return fmt.Errorf("%w: %s field %d at offset %d: %v", ErrMalformedFrame, c.msg, num, c.pos, protowire.ParseError(n))
}

// next reads a field tag. ok is false at the end of the buffer or on a zero tag,
// which terminates the message.
func (c *cursor) next() (num protowire.Number, typ protowire.Type, ok bool, err error) {
	if c.atEnd() {
		return 0, 0, false, nil
	}
	v, n := protowire.ConsumeVarint(c.rest())
	if n < 0 {
		return 0, 0, false, c.fail(0, n)
	}
	if v == 0 {
		c.pos = len(c.buf)
		return 0, 0, false, nil
	}
	num, typ = protowire.DecodeTag(v)
	if !num.IsValid() {
		return 0, 0, false, fmt.Errorf("%w: %s has invalid field number %d at offset %d", ErrMalformedFrame, c.msg, num, c.pos)
	}
	c.pos += n
	return num, typ, true, nil
}

// fieldTypes maps the field numbers of one message to their wire types.
type fieldTypes map[protowire.Number]protowire.Type

// known reports whether num is a field of the message carried with its
// declared wire type. Anything else is skipped like an unknown field.
func (f fieldTypes) known(num protowire.Number, typ protowire.Type) bool {
	want, ok := f[num]
	return ok && typ == want
}

func (c *cursor) varint(num protowire.Number) (uint64, error) {
	v, n := protowire.ConsumeVarint(c.rest())
	if n < 0 {
		return 0, c.fail(num, n)
	}
	c.pos += n
	return v, nil
}

func (c *cursor) int64(num protowire.Number) (int64, error) {
	v, err := c.varint(num)
	return int64(v), err
}

func (c *cursor) uint32(num protowire.Number) (uint32, error) {
	v, err := c.varint(num)
	return uint32(v), err
}

// bytes returns a length-delimited value. The slice aliases the input buffer.
func (c *cursor) bytes(num protowire.Number) ([]byte, error) {
	v, n := protowire.ConsumeBytes(c.rest())
	if n < 0 {
		return nil, c.fail(num, n)
	}
	c.pos += n
	return v, nil
}

func (c *cursor) string(num protowire.Number) (string, error) {
	b, err := c.bytes(num)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %s field %d is not valid UTF-8", ErrMalformedFrame, c.msg, num)
	}
	return string(b), nil
}

// skip discards the value of an unknown or mistyped field.
func (c *cursor) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, c.rest())
	if n < 0 {
		return c.fail(num, n)
	}
	c.pos += n
	return nil
}
