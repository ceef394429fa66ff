// Package msf reads and writes Microsoft's Multi-Stream Format (MSF)
// container.
package msf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
)

// MSFMagic is the MSF 7.00 signature.
var MSFMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// ErrLayout reports a container whose page layout is inconsistent.
var ErrLayout = errors.New("msf: inconsistent page layout")

// SuperBlock is the header at the start of an MSF file.
type SuperBlock struct {
	Magic             [32]byte
	BlockSize         uint32 // page size
	FreeBlockMapBlock uint32 // first page after the free page bitmap
	NumBlocks         uint32 // pages in the file
	NumDirectoryBytes uint32 // size of the stream directory
	Unknown           uint32
	BlockMapAddr      uint32 // page holding the directory's page list
}

// SuperBlockSize is the encoded size of SuperBlock.
const SuperBlockSize = 56

// ValidBlockSizes are the page sizes readers accept.
var ValidBlockSizes = []uint32{512, 1024, 2048, 4096}

// ReadSuperBlock reads and validates the header of an MSF file.
func ReadSuperBlock(r io.Reader) (*SuperBlock, error) {
	var sb SuperBlock
	if err := binary.Read(r, binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}
	if !bytes.Equal(sb.Magic[:], MSFMagic) {
		return nil, fmt.Errorf("invalid MSF magic: not a valid PDB file")
	}
	if !slices.Contains(ValidBlockSizes, sb.BlockSize) {
		return nil, fmt.Errorf("invalid block size: %d", sb.BlockSize)
	}
	if sb.FreeBlockMapBlock == 0 || sb.FreeBlockMapBlock >= sb.NumBlocks {
		return nil, fmt.Errorf("invalid FreeBlockMapBlock: %d of %d pages", sb.FreeBlockMapBlock, sb.NumBlocks)
	}
	if sb.BlockMapAddr >= sb.NumBlocks {
		return nil, fmt.Errorf("invalid BlockMapAddr: %d of %d pages", sb.BlockMapAddr, sb.NumBlocks)
	}
	return &sb, nil
}

// NumDirectoryBlocks returns the number of pages holding the stream
// directory.
func (sb *SuperBlock) NumDirectoryBlocks() uint32 {
	return Pages(sb.NumDirectoryBytes, sb.BlockSize)
}

// FileSize returns the file size the header declares.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}
