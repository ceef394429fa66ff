package codeview

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"fortio.org/safecast"
)

// Writer builds CodeView records in memory.
//
// The first failure is remembered and later writes still append (zero-valued
// where a conversion failed), so a record is checked once when it is closed.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a writer whose first byte will be at offset 0.
func NewWriter() *Writer {
	return &Writer{}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Pos returns the current length as a stream offset.
func (w *Writer) Pos() uint32 {
	n, err := safecast.Conv[uint32](len(w.buf))
	if err != nil {
		w.Fail(fmt.Errorf("%w: stream offset %d: %w", ErrOverflow, len(w.buf), err))
	}
	return n
}

// Bytes returns the written bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Err returns the first error recorded by a write.
func (w *Writer) Err() error { return w.err }

// Fail records err unless an earlier error is already pending.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// U8 appends a byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U16 appends a little-endian 16-bit value.
func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

// I16 appends a little-endian signed 16-bit value.
func (w *Writer) I16(v int16) { w.U16(uint16(v)) }

// U32 appends a little-endian 32-bit value.
func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

// I32 appends a little-endian signed 32-bit value.
func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

// Raw appends b unchanged.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Count appends n as an unsigned 16-bit count, recording ErrOverflow if it
// does not fit.
func (w *Writer) Count(n int) {
	v, err := safecast.Conv[uint16](n)
	if err != nil {
		w.Fail(fmt.Errorf("%w: count %d: %w", ErrOverflow, n, err))
	}
	w.U16(v)
}

// Numeric appends v as a numeric leaf.
func (w *Writer) Numeric(v int64) {
	var err error
	if w.buf, err = AppendNumeric(w.buf, v); err != nil {
		w.Fail(err)
	}
}

// String appends s as UTF-8 followed by a NUL.
func (w *Writer) String(s string) {
	if !utf8.ValidString(s) {
		s = string([]rune(s))
	}
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// PutU32At overwrites four bytes at pos.
func (w *Writer) PutU32At(pos int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[pos:], v)
}

// PutU16At overwrites two bytes at pos.
func (w *Writer) PutU16At(pos int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[pos:], v)
}

// PadLeaf pads to a four-byte boundary with LF_PAD bytes (0xf1..0xf3), each
// holding the number of pad bytes left including itself.
func (w *Writer) PadLeaf() {
	for n := (4 - len(w.buf)%4) % 4; n > 0; n-- {
		w.buf = append(w.buf, 0xf0|byte(n))
	}
}

// PadZero pads to a four-byte boundary with zero bytes.
func (w *Writer) PadZero() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

// Begin reserves the length field of a record and writes its kind. It
// returns the offset of the length field, which is also the record's offset.
func (w *Writer) Begin(kind uint16) int {
	start := len(w.buf)
	w.U16(0)
	w.U16(kind)
	return start
}

// EndType pads a type record with LF_PAD bytes and fills in its length.
func (w *Writer) EndType(start int) error {
	w.PadLeaf()
	return w.end(start)
}

// EndSymbol pads a symbol record with zeros and fills in its length.
func (w *Writer) EndSymbol(start int) error {
	w.PadZero()
	return w.end(start)
}

func (w *Writer) end(start int) error {
	n, err := safecast.Conv[uint16](len(w.buf) - start - 2)
	if err != nil {
		w.Fail(fmt.Errorf("%w: record at %#x is %d bytes long: %w", ErrOverflow, start, len(w.buf)-start-2, err))
	}
	w.PutU16At(start, n)
	return w.err
}
