package msf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"fortio.org/safecast"
)

// DefaultPageSize is the page size written unless configured otherwise.
const DefaultPageSize = 1024

// Pages returns the number of pages n bytes occupy.
func Pages(n, pageSize uint32) uint32 {
	return uint32((uint64(n) + uint64(pageSize) - 1) / uint64(pageSize))
}

// Remainder returns the padding that fills the last page of n bytes.
func Remainder(n, pageSize uint32) uint32 {
	return uint32(uint64(Pages(n, pageSize))*uint64(pageSize) - uint64(n))
}

// Layout is the page plan of a container. Pages are laid out as the header
// page, the free page bitmap, the stream directory, each stream in order and
// finally the directory's page list.
type Layout struct {
	PageSize       uint32
	Lengths        []uint32 // streams 1..n; stream 0 is the directory
	StreamPages    uint32
	RootSize       uint32
	RootPages      uint32
	RootIndexPages uint32
	BitmapPages    uint32
	BitmapBits     uint32
	FilePages      uint32
}

// NewLayout plans a container for streams of the given lengths. The
// directory's size depends on its own page count and the bitmap's size on
// the file's, so both are iterated to a fixed point.
func NewLayout(lengths []uint32, pageSize uint32) (*Layout, error) {
	if !slices.Contains(ValidBlockSizes, pageSize) {
		return nil, fmt.Errorf("%w: page size %d", ErrLayout, pageSize)
	}
	l := &Layout{PageSize: pageSize, Lengths: lengths}
	var total uint64
	for _, n := range lengths {
		total += uint64(Pages(n, pageSize))
	}
	streamPages, err := safecast.Conv[uint32](total)
	if err != nil {
		return nil, fmt.Errorf("%w: %d stream pages: %w", ErrLayout, total, err)
	}
	l.StreamPages = streamPages

	nstreams := uint64(len(lengths))
	for {
		l.RootPages = Pages(l.RootSize, pageSize)
		size := 4 + 4*(nstreams+1) + 4*(uint64(l.StreamPages)+uint64(l.RootPages))
		next, err := safecast.Conv[uint32](size)
		if err != nil {
			return nil, fmt.Errorf("%w: directory of %d bytes: %w", ErrLayout, size, err)
		}
		if next == l.RootSize {
			break
		}
		l.RootSize = next
	}
	l.RootIndexPages = Pages(4*l.RootPages, pageSize)

	for {
		l.BitmapPages = Pages(l.BitmapBits, pageSize*8)
		pages := 1 + uint64(l.RootPages) + uint64(l.StreamPages) + uint64(l.RootIndexPages) + uint64(l.BitmapPages)
		next, err := safecast.Conv[uint32](pages)
		if err != nil {
			return nil, fmt.Errorf("%w: %d pages: %w", ErrLayout, pages, err)
		}
		l.FilePages = next
		if next == l.BitmapBits {
			break
		}
		l.BitmapBits = next
	}
	return l, nil
}

// StartPage returns the first page after the bitmap, where the directory
// starts.
func (l *Layout) StartPage() uint32 { return 1 + l.BitmapPages }

// RootIndexPage returns the page holding the directory's page list.
func (l *Layout) RootIndexPage() uint32 { return l.FilePages - l.RootIndexPages }

// Directory returns the page list of every stream, the directory itself
// first.
func (l *Layout) Directory() [][]uint32 {
	dir := make([][]uint32, 0, len(l.Lengths)+1)
	next := l.StartPage()
	take := func(n uint32) []uint32 {
		pages := make([]uint32, n)
		for i := range pages {
			pages[i] = next
			next++
		}
		return pages
	}
	dir = append(dir, take(l.RootPages))
	for _, n := range l.Lengths {
		dir = append(dir, take(Pages(n, l.PageSize)))
	}
	return dir
}

// Write lays out streams 1..n in an MSF container on w.
func Write(w io.Writer, streams [][]byte, pageSize uint32) error {
	lengths := make([]uint32, len(streams))
	for i, s := range streams {
		n, err := safecast.Conv[uint32](len(s))
		if err != nil {
			return fmt.Errorf("%w: stream %d is %d bytes: %w", ErrLayout, i+1, len(s), err)
		}
		lengths[i] = n
	}
	l, err := NewLayout(lengths, pageSize)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	p := &pageWriter{w: bw, pageSize: pageSize}

	sb := SuperBlock{
		BlockSize:         pageSize,
		FreeBlockMapBlock: l.StartPage(),
		NumBlocks:         l.FilePages,
		NumDirectoryBytes: l.RootSize,
		BlockMapAddr:      l.RootIndexPage(),
	}
	copy(sb.Magic[:], MSFMagic)
	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.LittleEndian, &sb); err != nil {
		return fmt.Errorf("failed to encode superblock: %w", err)
	}
	p.write(hdr.Bytes())
	p.pad(0)

	p.write(l.bitmap())
	p.pad(0xff)

	dir := l.Directory()
	p.u32(uint32(len(dir)))
	p.u32(l.RootSize)
	for _, n := range lengths {
		p.u32(n)
	}
	for _, pages := range dir {
		for _, pg := range pages {
			p.u32(pg)
		}
	}
	p.pad(0)

	for i, s := range streams {
		if len(s) == 0 {
			continue
		}
		if want := dir[i+1][0]; p.err == nil && p.page() != want {
			return fmt.Errorf("%w: stream %d written at page %d, directory says %d", ErrLayout, i+1, p.page(), want)
		}
		p.write(s)
		p.pad(0)
	}

	if p.err == nil && p.page() != l.RootIndexPage() {
		return fmt.Errorf("%w: directory page list at page %d, header says %d", ErrLayout, p.page(), l.RootIndexPage())
	}
	for _, pg := range dir[0] {
		p.u32(pg)
	}
	p.pad(0)
	if p.err == nil && p.page() != l.FilePages {
		return fmt.Errorf("%w: wrote %d pages, header says %d", ErrLayout, p.page(), l.FilePages)
	}

	if p.err != nil {
		return fmt.Errorf("failed to write container: %w", p.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	return nil
}

// bitmap returns the free page bitmap: every page in use, and the bits past
// the last page of the final byte set.
func (l *Layout) bitmap() []byte {
	b := make([]byte, Pages(l.BitmapBits, 8))
	if rem := l.BitmapBits % 8; rem != 0 {
		b[len(b)-1] = 0xff << rem
	}
	return b
}

// pageWriter tracks the output position and remembers the first error.
type pageWriter struct {
	w        io.Writer
	pageSize uint32
	off      uint64
	err      error
}

func (p *pageWriter) write(b []byte) {
	if p.err != nil {
		return
	}
	n, err := p.w.Write(b)
	p.off += uint64(n)
	p.err = err
}

func (p *pageWriter) u32(v uint32) {
	p.write(binary.LittleEndian.AppendUint32(nil, v))
}

// pad fills the rest of the current page with b.
func (p *pageWriter) pad(b byte) {
	rem := (uint64(p.pageSize) - p.off%uint64(p.pageSize)) % uint64(p.pageSize)
	p.write(bytes.Repeat([]byte{b}, int(rem)))
}

func (p *pageWriter) page() uint32 {
	return uint32(p.off / uint64(p.pageSize))
}
