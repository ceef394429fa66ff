package tds

import (
	"encoding/binary"
	"fmt"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
)

// Cursor reads little-endian primitives from an immutable byte slice.
//
// The first failed read is remembered: later reads return zero values and
// Err reports the original failure, so record readers check once per record.
type Cursor struct {
	data []byte
	pos  int
	err  error
}

// NewCursor returns a cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Pos returns the current offset.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the size of the underlying buffer.
func (c *Cursor) Len() int { return len(c.data) }

// Err returns the first read error, if any.
func (c *Cursor) Err() error { return c.err }

// Fail records err unless an earlier error is already pending.
func (c *Cursor) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Seek moves to an absolute offset.
func (c *Cursor) Seek(pos int) {
	if pos < 0 || pos > len(c.data) {
		c.Fail(fmt.Errorf("%w: seek to %#x outside %d-byte buffer", ErrMalformed, pos, len(c.data)))
		return
	}
	c.pos = pos
}

// Skip advances n bytes; negative n moves backwards.
func (c *Cursor) Skip(n int) { c.Seek(c.pos + n) }

func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.pos+n > len(c.data) {
		c.Fail(fmt.Errorf("%w: read of %d bytes at %#x past end of %d-byte buffer", ErrMalformed, n, c.pos, len(c.data)))
		return nil
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b
}

// U8 reads one byte.
func (c *Cursor) U8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads an unsigned 16-bit value.
func (c *Cursor) U16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// I16 reads a signed 16-bit value.
func (c *Cursor) I16() int16 { return int16(c.U16()) }

// U32 reads an unsigned 32-bit value.
func (c *Cursor) U32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// I32 reads a signed 32-bit value.
func (c *Cursor) I32() int32 { return int32(c.U32()) }

// Bytes returns the next n bytes. The slice aliases the input buffer.
func (c *Cursor) Bytes(n int) []byte { return c.take(n) }

// Numeric reads a numeric leaf.
func (c *Cursor) Numeric() int64 {
	if c.err != nil {
		return 0
	}
	v, n, err := codeview.DecodeNumeric(c.data[c.pos:])
	if err != nil {
		c.Fail(fmt.Errorf("%w: numeric leaf at %#x: %w", ErrMalformed, c.pos, err))
		return 0
	}
	c.pos += n
	return v
}
