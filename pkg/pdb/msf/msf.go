package msf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// MSF is an opened MSF container.
type MSF struct {
	r          io.ReaderAt
	closer     io.Closer
	superBlock *SuperBlock
	directory  *StreamDirectory
	streams    []*Stream
}

// Open opens the MSF file at path.
func Open(path string) (*MSF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	m, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	m.closer = f
	return m, nil
}

// NewReader parses the container held by r.
func NewReader(r io.ReaderAt) (*MSF, error) {
	m := &MSF{r: r}
	var err error
	m.superBlock, err = ReadSuperBlock(io.NewSectionReader(r, 0, SuperBlockSize))
	if err != nil {
		return nil, err
	}
	if err := m.readStreamDirectory(); err != nil {
		return nil, fmt.Errorf("failed to read stream directory: %w", err)
	}
	m.buildStreams()
	return m, nil
}

// Close closes the underlying file, if Open created one.
func (m *MSF) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// SuperBlock returns the container header.
func (m *MSF) SuperBlock() *SuperBlock {
	return m.superBlock
}

// NumStreams returns the number of streams, the directory included.
func (m *MSF) NumStreams() int {
	return int(m.directory.NumStreams)
}

// Stream returns the stream at index.
func (m *MSF) Stream(index int) (*Stream, error) {
	if index < 0 || index >= len(m.streams) {
		return nil, fmt.Errorf("stream index %d out of range [0, %d)", index, len(m.streams))
	}
	return m.streams[index], nil
}

// StreamReader returns a reader for the stream at index.
func (m *MSF) StreamReader(index int) (*StreamReader, error) {
	s, err := m.Stream(index)
	if err != nil {
		return nil, err
	}
	return NewStreamReader(s), nil
}

// ReadStream returns the contents of the stream at index.
func (m *MSF) ReadStream(index int) ([]byte, error) {
	s, err := m.Stream(index)
	if err != nil {
		return nil, err
	}
	data, err := s.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %d: %w", index, err)
	}
	return data, nil
}

// Directory returns the parsed stream directory.
func (m *MSF) Directory() *StreamDirectory {
	return m.directory
}

func (m *MSF) readAt(p []byte, off int64) (int, error) {
	return m.r.ReadAt(p, off)
}

func (m *MSF) readStreamDirectory() error {
	blockSize := m.superBlock.BlockSize
	numDirBlocks := m.superBlock.NumDirectoryBlocks()

	blockMap := make([]uint32, numDirBlocks)
	mapOffset := int64(m.superBlock.BlockMapAddr) * int64(blockSize)
	if err := binary.Read(io.NewSectionReader(m.r, mapOffset, int64(4*numDirBlocks)), binary.LittleEndian, blockMap); err != nil {
		return fmt.Errorf("failed to read block map: %w", err)
	}

	dirData := make([]byte, m.superBlock.NumDirectoryBytes)
	read := 0
	for _, blockIdx := range blockMap {
		if blockIdx >= m.superBlock.NumBlocks {
			return fmt.Errorf("%w: directory page %d of %d", ErrLayout, blockIdx, m.superBlock.NumBlocks)
		}
		n := min(int(blockSize), len(dirData)-read)
		if _, err := m.r.ReadAt(dirData[read:read+n], int64(blockIdx)*int64(blockSize)); err != nil {
			return fmt.Errorf("failed to read directory block %d: %w", blockIdx, err)
		}
		read += n
	}
	return m.parseStreamDirectory(dirData)
}

func (m *MSF) parseStreamDirectory(data []byte) error {
	r := bytes.NewReader(data)

	var numStreams uint32
	if err := binary.Read(r, binary.LittleEndian, &numStreams); err != nil {
		return fmt.Errorf("failed to read NumStreams: %w", err)
	}
	if uint64(numStreams)*4 > uint64(r.Len()) {
		return fmt.Errorf("%w: directory claims %d streams", ErrLayout, numStreams)
	}

	streamSizes := make([]uint32, numStreams)
	if err := binary.Read(r, binary.LittleEndian, streamSizes); err != nil {
		return fmt.Errorf("failed to read stream sizes: %w", err)
	}

	blockSize := m.superBlock.BlockSize
	streamBlocks := make([][]uint32, numStreams)
	for i, size := range streamSizes {
		// Deleted streams have size 0xffffffff and no pages.
		if size == 0xffffffff {
			continue
		}
		blocks := make([]uint32, Pages(size, blockSize))
		if err := binary.Read(r, binary.LittleEndian, blocks); err != nil {
			return fmt.Errorf("failed to read page list of stream %d: %w", i, err)
		}
		for _, b := range blocks {
			if b >= m.superBlock.NumBlocks {
				return fmt.Errorf("%w: stream %d uses page %d of %d", ErrLayout, i, b, m.superBlock.NumBlocks)
			}
		}
		streamBlocks[i] = blocks
	}

	m.directory = &StreamDirectory{
		NumStreams:   numStreams,
		StreamSizes:  streamSizes,
		StreamBlocks: streamBlocks,
	}
	return nil
}

func (m *MSF) buildStreams() {
	m.streams = make([]*Stream, m.directory.NumStreams)
	for i, size := range m.directory.StreamSizes {
		if size == 0xffffffff {
			size = 0
		}
		m.streams[i] = &Stream{msf: m, size: size, blocks: m.directory.StreamBlocks[i]}
	}
}

// BlockSize returns the page size.
func (m *MSF) BlockSize() uint32 {
	return m.superBlock.BlockSize
}
