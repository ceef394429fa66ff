package codeview

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Numeric leaf prefixes. Values below LF_NUMERIC are stored inline.
const (
	LF_NUMERIC   = 0x8000
	LF_CHAR      = 0x8000
	LF_SHORT     = 0x8001
	LF_USHORT    = 0x8002
	LF_LONG      = 0x8003
	LF_ULONG     = 0x8004
	LF_QUADWORD  = 0x8009
	LF_UQUADWORD = 0x800a
)

var (
	// ErrOverflow reports a value that does not fit the field it is written to.
	ErrOverflow = errors.New("codeview: value out of range")
	// ErrTruncated reports a record that ends before its fields do.
	ErrTruncated = errors.New("codeview: truncated record")
	// ErrUnencodable reports a value with no CodeView record form.
	ErrUnencodable = errors.New("codeview: no record form")
)

// DecodeNumeric parses a numeric leaf and returns its value and the number of
// bytes consumed.
func DecodeNumeric(data []byte) (int64, int, error) {
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("%w: numeric leaf needs 2 bytes, have %d", ErrTruncated, len(data))
	}

	val := binary.LittleEndian.Uint16(data)
	if val < LF_NUMERIC {
		return int64(val), 2, nil
	}

	need := map[uint16]int{
		LF_CHAR: 3, LF_SHORT: 4, LF_USHORT: 4, LF_LONG: 6, LF_ULONG: 6,
		LF_QUADWORD: 10, LF_UQUADWORD: 10,
	}[val]
	if need == 0 {
		return 0, 0, fmt.Errorf("unknown numeric leaf prefix %#x", val)
	}
	if len(data) < need {
		return 0, 0, fmt.Errorf("%w: numeric leaf %#x needs %d bytes, have %d", ErrTruncated, val, need, len(data))
	}

	switch val {
	case LF_CHAR:
		return int64(int8(data[2])), need, nil
	case LF_SHORT:
		return int64(int16(binary.LittleEndian.Uint16(data[2:]))), need, nil
	case LF_USHORT:
		return int64(binary.LittleEndian.Uint16(data[2:])), need, nil
	case LF_LONG:
		return int64(int32(binary.LittleEndian.Uint32(data[2:]))), need, nil
	case LF_ULONG:
		return int64(binary.LittleEndian.Uint32(data[2:])), need, nil
	default:
		// 64-bit forms only show up in PDBs from other producers.
		return int64(binary.LittleEndian.Uint64(data[2:])), need, nil
	}
}

// AppendNumeric appends v as a numeric leaf using the shortest form that
// holds it.
func AppendNumeric(b []byte, v int64) ([]byte, error) {
	switch {
	case v >= 0 && v < LF_NUMERIC:
		return binary.LittleEndian.AppendUint16(b, uint16(v)), nil
	case v >= -0x80 && v < 0:
		b = binary.LittleEndian.AppendUint16(b, LF_CHAR)
		return append(b, byte(int8(v))), nil
	case v >= -0x8000 && v < 0:
		b = binary.LittleEndian.AppendUint16(b, LF_SHORT)
		return binary.LittleEndian.AppendUint16(b, uint16(int16(v))), nil
	case v >= LF_NUMERIC && v <= 0xffff:
		b = binary.LittleEndian.AppendUint16(b, LF_USHORT)
		return binary.LittleEndian.AppendUint16(b, uint16(v)), nil
	case v >= -0x80000000 && v <= 0x7fffffff:
		b = binary.LittleEndian.AppendUint16(b, LF_LONG)
		return binary.LittleEndian.AppendUint32(b, uint32(int32(v))), nil
	case v > 0 && v <= 0xffffffff:
		b = binary.LittleEndian.AppendUint16(b, LF_ULONG)
		return binary.LittleEndian.AppendUint32(b, uint32(v)), nil
	}
	return b, fmt.Errorf("%w: numeric leaf %d", ErrOverflow, v)
}
