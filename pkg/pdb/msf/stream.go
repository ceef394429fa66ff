package msf

import (
	"fmt"
	"io"
)

// Stream is one stream of a container, stored on possibly scattered pages.
type Stream struct {
	msf    *MSF
	size   uint32
	blocks []uint32
}

// Size returns the stream length in bytes.
func (s *Stream) Size() uint32 {
	return s.size
}

// Blocks returns the pages holding the stream, in order.
func (s *Stream) Blocks() []uint32 {
	return s.blocks
}

// ReadAt implements io.ReaderAt over the stream's pages.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative stream offset %d", off)
	}
	blockSize := int64(s.msf.superBlock.BlockSize)
	n := 0
	for len(p) > 0 {
		if off >= int64(s.size) {
			return n, io.EOF
		}
		idx := off / blockSize
		if idx >= int64(len(s.blocks)) {
			return n, fmt.Errorf("%w: stream offset %d has no page", ErrLayout, off)
		}
		inBlock := off % blockSize
		chunk := min(int64(len(p)), blockSize-inBlock, int64(s.size)-off)
		got, err := s.msf.readAt(p[:chunk], int64(s.blocks[idx])*blockSize+inBlock)
		n += got
		off += int64(got)
		p = p[got:]
		if err != nil {
			if err == io.EOF && int64(got) == chunk {
				continue
			}
			return n, err
		}
	}
	return n, nil
}

// ReadAll returns the whole stream.
func (s *Stream) ReadAll() ([]byte, error) {
	data := make([]byte, s.size)
	if _, err := io.ReadFull(NewStreamReader(s), data); err != nil {
		return nil, err
	}
	return data, nil
}

// StreamReader reads a stream sequentially.
type StreamReader struct {
	*io.SectionReader
}

// NewStreamReader returns a reader positioned at the start of s.
func NewStreamReader(s *Stream) *StreamReader {
	return &StreamReader{io.NewSectionReader(s, 0, int64(s.size))}
}

// StreamDirectory is the parsed stream directory.
type StreamDirectory struct {
	NumStreams   uint32
	StreamSizes  []uint32
	StreamBlocks [][]uint32
}
