package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
)

// TPI stream versions.
const (
	TPIStreamVersionV70 = 19990903
	TPIStreamVersionV80 = 20040203
)

// TPIHashBuckets is the bucket count of the type hash.
const TPIHashBuckets = 0x8003

// TPIHeaderSize is the encoded size of TPIHeader.
const TPIHeaderSize = 56

// TPIHeader is the header of the TPI stream.
type TPIHeader struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// TPIStream is a parsed TPI (type info) stream.
type TPIStream struct {
	Header      TPIHeader
	TypeRecords []TypeRecord
	typeMap     map[uint32]*TypeRecord
}

// TypeRecord is one type record.
type TypeRecord struct {
	Index uint32 // type index
	Kind  uint16 // LF_* leaf
	Data  []byte // record body after the kind
}

// TypeHashInput is a type record with the name it is hashed by, if any.
type TypeHashInput struct {
	Record []byte
	Name   string
	Named  bool
}

// WriteTPI encodes the type stream and its hash stream. Records must be
// framed and padded; a named record hashes its name and the rest hash their
// bytes.
func WriteTPI(types []TypeHashInput) (tpi, hash []byte, err error) {
	var size int
	for _, t := range types {
		size += len(t.Record)
	}
	n := len(types)

	w := codeview.NewWriter()
	w.U32(TPIStreamVersionV80)
	w.U32(TPIHeaderSize)
	w.U32(codeview.TypeIndexBegin)
	w.U32(u32(w, codeview.TypeIndexBegin+n))
	w.U32(u32(w, size))
	w.U16(StreamTPIHash)
	w.U16(0xffff)
	w.U32(4) // hash key size
	w.U32(TPIHashBuckets)
	w.U32(0) // hash values at 0
	w.U32(u32(w, 4*n))
	w.U32(u32(w, 4*n)) // index offsets follow the hash values
	w.U32(8)
	w.U32(u32(w, 4*n+8))
	w.U32(0)

	h := codeview.NewWriter()
	for _, t := range types {
		w.Raw(t.Record)
		if t.Named {
			h.U32(Hash(t.Name, TPIHashBuckets))
		} else {
			h.U32(Sig(t.Record, 0) % TPIHashBuckets)
		}
	}
	h.U32(codeview.TypeIndexBegin)
	h.U32(0)

	if err := w.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to encode type stream: %w", err)
	}
	return w.Bytes(), h.Bytes(), nil
}

// ReadTPIStream parses a TPI stream.
func ReadTPIStream(data []byte) (*TPIStream, error) {
	r := bytes.NewReader(data)

	var header TPIHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read TPI header: %w", err)
	}
	if header.Version != TPIStreamVersionV80 && header.Version != TPIStreamVersionV70 {
		return nil, fmt.Errorf("unsupported TPI version: %d", header.Version)
	}
	if _, err := r.Seek(int64(header.HeaderSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to skip TPI header: %w", err)
	}

	recordData := make([]byte, header.TypeRecordBytes)
	if _, err := io.ReadFull(r, recordData); err != nil {
		return nil, fmt.Errorf("failed to read type records: %w", err)
	}

	tpi := &TPIStream{
		Header:  header,
		typeMap: make(map[uint32]*TypeRecord),
	}

	offset := 0
	for index := header.TypeIndexBegin; offset+2 <= len(recordData) && index < header.TypeIndexEnd; index++ {
		recLen := int(binary.LittleEndian.Uint16(recordData[offset:]))
		offset += 2
		if offset+recLen > len(recordData) {
			return nil, fmt.Errorf("%w: type %#x runs past the stream", codeview.ErrTruncated, index)
		}
		if recLen < 2 {
			offset += recLen
			continue
		}
		tpi.TypeRecords = append(tpi.TypeRecords, TypeRecord{
			Index: index,
			Kind:  binary.LittleEndian.Uint16(recordData[offset:]),
			Data:  recordData[offset+2 : offset+recLen],
		})
		offset += recLen
	}
	for i := range tpi.TypeRecords {
		tpi.typeMap[tpi.TypeRecords[i].Index] = &tpi.TypeRecords[i]
	}
	return tpi, nil
}

// GetType returns the record with the given type index, or nil.
func (t *TPIStream) GetType(index uint32) *TypeRecord {
	return t.typeMap[index]
}

// NumTypes returns the number of parsed records.
func (t *TPIStream) NumTypes() int {
	return len(t.TypeRecords)
}

// TypeCount returns the index range the header declares.
func (t *TPIStream) TypeCount() uint32 {
	return t.Header.TypeIndexEnd - t.Header.TypeIndexBegin
}

// ReadTPIHash returns the per-record hash values of a TPI hash stream.
func ReadTPIHash(data []byte, h TPIHeader) ([]uint32, error) {
	off, n := int(h.HashValueBufferOffset), int(h.HashValueBufferLength)
	if off < 0 || off+n > len(data) || n%4 != 0 {
		return nil, fmt.Errorf("%w: hash values at %d+%d in %d bytes", codeview.ErrTruncated, off, n, len(data))
	}
	vals := make([]uint32, n/4)
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint32(data[off+4*i:])
	}
	return vals, nil
}
