// Package streams builds and parses the fixed PDB streams: the PDB info
// stream, the type stream and its hash stream, the DBI stream, module
// streams and the global symbol index.
package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
)

// Fixed stream numbers.
const (
	StreamDirectory = 0
	StreamInfo      = 1
	StreamTPI       = 2
	StreamDBI       = 3
	StreamTPIHash   = 4
	StreamGlobals   = 5
	StreamSymbols   = 6
	// StreamFirstModule is the first stream holding module symbols.
	StreamFirstModule = 7
)

// PDBStreamVersionVC70 is the only info stream version written.
const PDBStreamVersionVC70 = 20000404

// Info is the PDB info stream (stream 1).
type Info struct {
	Version      uint32
	Signature    uint32 // build timestamp
	Age          uint32
	GUID         [16]byte
	NamedStreams map[string]uint32
}

// InfoHeader is the fixed header at the start of the info stream.
type InfoHeader struct {
	Version   uint32
	Signature uint32
	Age       uint32
	GUID      [16]byte
}

// WriteInfo encodes the info stream with an empty named stream map.
func WriteInfo(timestamp, age uint32, guid [16]byte) []byte {
	w := codeview.NewWriter()
	w.U32(PDBStreamVersionVC70)
	w.U32(timestamp)
	w.U32(age)
	w.Raw(guid[:])
	w.U32(0)    // string buffer size
	w.U32(0)    // named streams
	w.U32(0x10) // hash capacity
	w.U32(0)    // present words
	w.U32(0)    // deleted words
	w.U32(0)
	return w.Bytes()
}

// ReadInfo parses the info stream. The named stream map is optional.
func ReadInfo(r io.Reader) (*Info, error) {
	var header InfoHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read PDB info header: %w", err)
	}

	info := &Info{
		Version:      header.Version,
		Signature:    header.Signature,
		Age:          header.Age,
		GUID:         header.GUID,
		NamedStreams: make(map[string]uint32),
	}

	var strBufSize uint32
	if err := binary.Read(r, binary.LittleEndian, &strBufSize); err != nil {
		return info, nil
	}
	strBuf := make([]byte, strBufSize)
	if _, err := io.ReadFull(r, strBuf); err != nil {
		return info, nil
	}

	var size, capacity uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return info, nil
	}
	if err := binary.Read(r, binary.LittleEndian, &capacity); err != nil {
		return info, nil
	}
	present, err := readBitVector(r)
	if err != nil {
		return info, nil
	}
	if _, err := readBitVector(r); err != nil {
		return info, nil
	}

	for i := uint32(0); i < capacity; i++ {
		if !isBitSet(present, i) {
			continue
		}
		var kv [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &kv); err != nil {
			break
		}
		if kv[0] < strBufSize {
			info.NamedStreams[cstring(strBuf[kv[0]:])] = kv[1]
		}
	}
	return info, nil
}

func readBitVector(r io.Reader) ([]uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	words := make([]uint32, n)
	if err := binary.Read(r, binary.LittleEndian, words); err != nil {
		return nil, err
	}
	return words, nil
}

// GUIDString returns the GUID in the form debuggers use to name symbol
// store directories.
func (p *Info) GUIDString() string {
	return fmt.Sprintf("%08X%04X%04X%02X%02X%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(p.GUID[0:4]),
		binary.LittleEndian.Uint16(p.GUID[4:6]),
		binary.LittleEndian.Uint16(p.GUID[6:8]),
		p.GUID[8], p.GUID[9], p.GUID[10], p.GUID[11],
		p.GUID[12], p.GUID[13], p.GUID[14], p.GUID[15])
}

func isBitSet(words []uint32, n uint32) bool {
	if n/32 >= uint32(len(words)) {
		return false
	}
	return words[n/32]&(1<<(n%32)) != 0
}

func cstring(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}
