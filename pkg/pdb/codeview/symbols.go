// Package codeview reads and writes CodeView type and symbol records.
package codeview

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Symbol record kinds written to module and global symbol streams.
const (
	S_END       = 0x0006
	S_THUNK32   = 0x1102
	S_BLOCK32   = 0x1103
	S_CONSTANT  = 0x1107
	S_UDT       = 0x1108
	S_BPREL32   = 0x110b
	S_LDATA32   = 0x110c
	S_GDATA32   = 0x110d
	S_PUB32     = 0x110e
	S_LPROC32   = 0x110f
	S_GPROC32   = 0x1110
	S_COMPILE2  = 0x1116
	S_PROCREF   = 0x1125
	S_LPROCREF  = 0x1127
	S_COMPILE3  = 0x113c
	S_GPROC32ID = 0x1147
	S_LPROC32ID = 0x1146
)

// CV_SIGNATURE_C11 starts every module symbol stream.
const CV_SIGNATURE_C11 = 4

// Thunk ordinals.
const (
	ThunkNoType   = 0
	ThunkAdjustor = 1
)

// SymbolRecord is one raw symbol record.
type SymbolRecord struct {
	Offset uint32 // offset of the length field in the stream
	Kind   uint16
	Data   []byte // payload after the kind
}

// ProcSym is S_GPROC32 / S_LPROC32.
type ProcSym struct {
	Parent    uint32
	End       uint32
	Next      uint32
	Length    uint32
	DbgStart  uint32
	DbgEnd    uint32
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Flags     uint8
	Name      string
}

// DataSym is S_GDATA32 / S_LDATA32.
type DataSym struct {
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Name      string
}

// UDTSym is S_UDT.
type UDTSym struct {
	TypeIndex uint32
	Name      string
}

// ConstantSym is S_CONSTANT.
type ConstantSym struct {
	TypeIndex uint32
	Value     int64
	Name      string
}

// BlockSym is S_BLOCK32.
type BlockSym struct {
	Parent  uint32
	End     uint32
	Length  uint32
	Offset  uint32
	Segment uint16
	Name    string
}

// ThunkSym is S_THUNK32.
type ThunkSym struct {
	Parent  uint32
	End     uint32
	Next    uint32
	Offset  uint32
	Segment uint16
	Length  uint16
	Ordinal uint8
	Name    string
}

// BPRelSym is S_BPREL32.
type BPRelSym struct {
	Offset    int32
	TypeIndex uint32
	Name      string
}

// ProcRefSym is S_PROCREF: a global pointer to a procedure in a module stream.
type ProcRefSym struct {
	SumName   uint32
	SymOffset uint32
	Module    uint16 // 1-based
	Name      string
}

// CompileSym is S_COMPILE2.
type CompileSym struct {
	Language uint8
	Machine  uint16
	Version  string
}

// ParseSymbols splits a symbol stream into records. A leading
// CV_SIGNATURE_C11 word is skipped; offsets stay relative to the stream.
func ParseSymbols(data []byte) ([]SymbolRecord, error) {
	var symbols []SymbolRecord
	offset := 0
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == CV_SIGNATURE_C11 {
		offset = 4
	}

	for offset+4 <= len(data) {
		recLen := int(binary.LittleEndian.Uint16(data[offset:]))
		if recLen < 2 || offset+2+recLen > len(data) {
			return symbols, fmt.Errorf("%w: symbol at %#x claims %d bytes", ErrTruncated, offset, recLen)
		}
		symbols = append(symbols, SymbolRecord{
			Offset: uint32(offset),
			Kind:   binary.LittleEndian.Uint16(data[offset+2:]),
			Data:   data[offset+4 : offset+2+recLen],
		})
		offset += 2 + recLen
	}
	return symbols, nil
}

func cstring(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}

func checkLen(data []byte, n int, what string) error {
	if len(data) < n {
		return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncated, what, n, len(data))
	}
	return nil
}

// ParseProcSym parses a procedure symbol payload.
func ParseProcSym(data []byte) (*ProcSym, error) {
	if err := checkLen(data, 35, "procedure symbol"); err != nil {
		return nil, err
	}
	return &ProcSym{
		Parent:    binary.LittleEndian.Uint32(data[0:]),
		End:       binary.LittleEndian.Uint32(data[4:]),
		Next:      binary.LittleEndian.Uint32(data[8:]),
		Length:    binary.LittleEndian.Uint32(data[12:]),
		DbgStart:  binary.LittleEndian.Uint32(data[16:]),
		DbgEnd:    binary.LittleEndian.Uint32(data[20:]),
		TypeIndex: binary.LittleEndian.Uint32(data[24:]),
		Offset:    binary.LittleEndian.Uint32(data[28:]),
		Segment:   binary.LittleEndian.Uint16(data[32:]),
		Flags:     data[34],
		Name:      cstring(data[35:]),
	}, nil
}

// ParseDataSym parses a data symbol payload.
func ParseDataSym(data []byte) (*DataSym, error) {
	if err := checkLen(data, 10, "data symbol"); err != nil {
		return nil, err
	}
	return &DataSym{
		TypeIndex: binary.LittleEndian.Uint32(data[0:]),
		Offset:    binary.LittleEndian.Uint32(data[4:]),
		Segment:   binary.LittleEndian.Uint16(data[8:]),
		Name:      cstring(data[10:]),
	}, nil
}

// ParseUDTSym parses an S_UDT payload.
func ParseUDTSym(data []byte) (*UDTSym, error) {
	if err := checkLen(data, 4, "UDT symbol"); err != nil {
		return nil, err
	}
	return &UDTSym{
		TypeIndex: binary.LittleEndian.Uint32(data[0:]),
		Name:      cstring(data[4:]),
	}, nil
}

// ParseConstantSym parses an S_CONSTANT payload.
func ParseConstantSym(data []byte) (*ConstantSym, error) {
	if err := checkLen(data, 6, "constant symbol"); err != nil {
		return nil, err
	}
	val, n, err := DecodeNumeric(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to read constant value: %w", err)
	}
	return &ConstantSym{
		TypeIndex: binary.LittleEndian.Uint32(data[0:]),
		Value:     val,
		Name:      cstring(data[4+n:]),
	}, nil
}

// ParseBlockSym parses an S_BLOCK32 payload.
func ParseBlockSym(data []byte) (*BlockSym, error) {
	if err := checkLen(data, 18, "block symbol"); err != nil {
		return nil, err
	}
	return &BlockSym{
		Parent:  binary.LittleEndian.Uint32(data[0:]),
		End:     binary.LittleEndian.Uint32(data[4:]),
		Length:  binary.LittleEndian.Uint32(data[8:]),
		Offset:  binary.LittleEndian.Uint32(data[12:]),
		Segment: binary.LittleEndian.Uint16(data[16:]),
		Name:    cstring(data[18:]),
	}, nil
}

// ParseThunkSym parses an S_THUNK32 payload.
func ParseThunkSym(data []byte) (*ThunkSym, error) {
	if err := checkLen(data, 21, "thunk symbol"); err != nil {
		return nil, err
	}
	return &ThunkSym{
		Parent:  binary.LittleEndian.Uint32(data[0:]),
		End:     binary.LittleEndian.Uint32(data[4:]),
		Next:    binary.LittleEndian.Uint32(data[8:]),
		Offset:  binary.LittleEndian.Uint32(data[12:]),
		Segment: binary.LittleEndian.Uint16(data[16:]),
		Length:  binary.LittleEndian.Uint16(data[18:]),
		Ordinal: data[20],
		Name:    cstring(data[21:]),
	}, nil
}

// ParseBPRelSym parses an S_BPREL32 payload.
func ParseBPRelSym(data []byte) (*BPRelSym, error) {
	if err := checkLen(data, 8, "frame-relative symbol"); err != nil {
		return nil, err
	}
	return &BPRelSym{
		Offset:    int32(binary.LittleEndian.Uint32(data[0:])),
		TypeIndex: binary.LittleEndian.Uint32(data[4:]),
		Name:      cstring(data[8:]),
	}, nil
}

// ParseProcRefSym parses an S_PROCREF payload.
func ParseProcRefSym(data []byte) (*ProcRefSym, error) {
	if err := checkLen(data, 10, "procedure reference"); err != nil {
		return nil, err
	}
	return &ProcRefSym{
		SumName:   binary.LittleEndian.Uint32(data[0:]),
		SymOffset: binary.LittleEndian.Uint32(data[4:]),
		Module:    binary.LittleEndian.Uint16(data[8:]),
		Name:      cstring(data[10:]),
	}, nil
}

// ParseCompileSym parses an S_COMPILE2 payload.
func ParseCompileSym(data []byte) (*CompileSym, error) {
	if err := checkLen(data, 18, "compile symbol"); err != nil {
		return nil, err
	}
	return &CompileSym{
		Language: data[0],
		Machine:  binary.LittleEndian.Uint16(data[4:]),
		Version:  cstring(data[18:]),
	}, nil
}

// SymbolKindName returns the name of a symbol kind.
func SymbolKindName(kind uint16) string {
	switch kind {
	case S_END:
		return "S_END"
	case S_THUNK32:
		return "S_THUNK32"
	case S_BLOCK32:
		return "S_BLOCK32"
	case S_CONSTANT:
		return "S_CONSTANT"
	case S_UDT:
		return "S_UDT"
	case S_BPREL32:
		return "S_BPREL32"
	case S_LDATA32:
		return "S_LDATA32"
	case S_GDATA32:
		return "S_GDATA32"
	case S_PUB32:
		return "S_PUB32"
	case S_LPROC32:
		return "S_LPROC32"
	case S_GPROC32:
		return "S_GPROC32"
	case S_COMPILE2:
		return "S_COMPILE2"
	case S_COMPILE3:
		return "S_COMPILE3"
	case S_PROCREF:
		return "S_PROCREF"
	case S_LPROCREF:
		return "S_LPROCREF"
	case S_GPROC32ID:
		return "S_GPROC32_ID"
	case S_LPROC32ID:
		return "S_LPROC32_ID"
	default:
		return fmt.Sprintf("S_0x%04x", kind)
	}
}

// IsProcSymbol reports whether kind is a procedure symbol.
func IsProcSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_LPROC32, S_GPROC32ID, S_LPROC32ID:
		return true
	}
	return false
}

// IsDataSymbol reports whether kind is a data symbol.
func IsDataSymbol(kind uint16) bool {
	return kind == S_GDATA32 || kind == S_LDATA32
}

// IsGlobalSymbol reports whether the symbol has global linkage.
func IsGlobalSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_GPROC32ID, S_GDATA32, S_PUB32:
		return true
	}
	return false
}

// IsScopeSymbol reports whether kind opens a scope closed by S_END.
func IsScopeSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_LPROC32, S_THUNK32, S_BLOCK32:
		return true
	}
	return false
}
