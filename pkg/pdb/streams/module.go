package streams

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// ModuleStream is an encoded module stream and the sizes the DBI module
// record declares for it.
type ModuleStream struct {
	Data     []byte
	SymBytes uint32
	Lines    uint32
}

// WriteModule appends the module's line block, if it has sources, to its
// encoded symbols. symbols must start with the CodeView signature.
func WriteModule(symbols []byte, src *tds.Sources) (*ModuleStream, error) {
	w := codeview.NewWriter()
	w.Raw(symbols)
	symBytes := w.Pos()
	if src != nil {
		writeLines(w, src)
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode line numbers: %w", err)
	}
	return &ModuleStream{
		Data:     w.Bytes(),
		SymBytes: symBytes,
		Lines:    w.Pos() - symBytes,
	}, nil
}

// writeLines writes the C11 line block. Every offset inside it is relative
// to the start of the block.
func writeLines(w *codeview.Writer, src *tds.Sources) {
	base := w.Len()
	rel := func() uint32 { return u32(w, w.Len()-base) }

	w.Count(len(src.Files))
	w.Count(len(src.Ranges))
	fileOffsets := w.Len()
	for range src.Files {
		w.U32(0)
	}
	for _, r := range src.Ranges {
		w.I32(r.Start)
		w.I32(r.End)
	}
	for _, r := range src.Ranges {
		w.I16(r.Segment)
	}
	if len(src.Ranges)%2 == 1 {
		w.U16(0)
	}

	for i, f := range src.Files {
		w.PutU32At(fileOffsets+4*i, rel())
		w.Count(len(f.Ranges))
		w.U16(0)
		rangeOffsets := w.Len()
		for range f.Ranges {
			w.U32(0)
		}
		for _, r := range f.Ranges {
			w.I32(r.Start)
			w.I32(r.End)
		}
		w.String(f.Name)
		w.PadZero()

		for j, r := range f.Ranges {
			w.PutU32At(rangeOffsets+4*j, rel())
			w.I16(r.Segment)
			w.Count(len(r.Lines))
			for _, l := range r.Lines {
				w.I32(l.Offset)
			}
			for _, l := range r.Lines {
				w.U16(l.Line)
			}
			if len(r.Lines)%2 == 1 {
				w.U16(0)
			}
		}
	}
}

// GlobalEntry is one record of the global symbol stream.
type GlobalEntry struct {
	Name   string
	Offset uint32
}

// GlobalsHashBuckets is the bucket count of the global symbol index.
const GlobalsHashBuckets = 0x1000

// WriteGlobalsHash encodes the global symbol index over the records of the
// global symbol stream. Records sharing a bucket keep their order.
func WriteGlobalsHash(entries []GlobalEntry) ([]byte, error) {
	var buckets [GlobalsHashBuckets][]GlobalEntry
	occupied := 0
	for _, e := range entries {
		b := Hash(e.Name, GlobalsHashBuckets)
		if buckets[b] == nil {
			occupied++
		}
		buckets[b] = append(buckets[b], e)
	}

	w := codeview.NewWriter()
	w.I32(-1)
	w.U32(GlobalsHashSig)
	w.U32(u32(w, 8*len(entries)))
	w.U32(u32(w, 0x204+4*occupied))
	for _, b := range buckets {
		for _, e := range b {
			w.U32(e.Offset + 1)
			w.U32(1)
		}
	}

	var bitmap [GlobalsHashBuckets / 32]uint32
	for i, b := range buckets {
		if b != nil {
			bitmap[i/32] |= 1 << (i % 32)
		}
	}
	for _, word := range bitmap {
		w.U32(word)
	}
	w.U32(0)

	offset := 0
	for _, b := range buckets {
		if b == nil {
			continue
		}
		w.U32(u32(w, offset))
		offset += 12 * len(b)
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode global symbol index: %w", err)
	}
	return w.Bytes(), nil
}

// ReadGlobalsHash returns the symbol stream offsets listed in a global
// symbol index.
func ReadGlobalsHash(data []byte) ([]uint32, error) {
	if len(data) < 16 || binary.LittleEndian.Uint32(data[4:]) != GlobalsHashSig {
		return nil, fmt.Errorf("%w: no global symbol index header", codeview.ErrTruncated)
	}
	n := int(binary.LittleEndian.Uint32(data[8:]))
	if n%8 != 0 || 16+n > len(data) {
		return nil, fmt.Errorf("%w: %d bytes of index entries", codeview.ErrTruncated, n)
	}
	offsets := make([]uint32, 0, n/8)
	for off := 16; off < 16+n; off += 8 {
		offsets = append(offsets, binary.LittleEndian.Uint32(data[off:])-1)
	}
	return offsets, nil
}

// u32 narrows n, recording ErrOverflow on w if it does not fit.
func u32(w *codeview.Writer, n int) uint32 {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		w.Fail(fmt.Errorf("%w: %d: %w", codeview.ErrOverflow, n, err))
	}
	return v
}
