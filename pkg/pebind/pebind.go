// Package pebind points a PE32 executable at its PDB by appending a
// CodeView debug directory entry to the .rdata section.
package pebind

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"fortio.org/safecast"
)

var (
	// ErrFormat reports an executable that is not a well-formed PE file.
	ErrFormat = errors.New("pebind: malformed executable")
	// ErrUnsupported reports a layout the patcher cannot extend in place.
	ErrUnsupported = errors.New("pebind: unsupported executable layout")
)

const (
	debugDirectorySize = 0x1c
	rsdsHeaderSize     = 0x18
	sectionHeaderSize  = 40
	debugTypeCodeView  = 2

	// Offsets within the PE32 optional header.
	optNumberOfRvaAndSize = 92
	optDebugDirectory     = 96 + 8*pe.IMAGE_DIRECTORY_ENTRY_DEBUG

	// Offsets within a section header.
	secSizeOfRawData    = 16
	secPointerToRawData = 20
)

// Bind patches the executable exe in place. Only the base name of
// pdbName is embedded. The file is replaced atomically.
func Bind(exe, pdbName string, timestamp uint32, guid [16]byte, age uint32) error {
	img, err := os.ReadFile(exe)
	if err != nil {
		return fmt.Errorf("failed to read executable: %w", err)
	}
	out, err := Patch(img, pdbName, timestamp, guid, age)
	if err != nil {
		return err
	}
	info, err := os.Stat(exe)
	if err != nil {
		return fmt.Errorf("failed to stat executable: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(exe), filepath.Base(exe)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write executable: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write executable: %w", err)
	}
	if err := os.Rename(tmp.Name(), exe); err != nil {
		return fmt.Errorf("failed to replace executable: %w", err)
	}
	return nil
}

// Patch returns a copy of img whose debug directory holds one CodeView
// entry naming pdbName. The entry and its RSDS record are appended to the
// raw data of .rdata, and every later section moves down by the file-aligned
// size of the addition.
func Patch(img []byte, pdbName string, timestamp uint32, guid [16]byte, age uint32) ([]byte, error) {
	h, err := readHeaders(img)
	if err != nil {
		return nil, err
	}

	name := []byte(path.Base(strings.ReplaceAll(pdbName, `\`, "/")))
	infoSize := rsdsHeaderSize + len(name) + 1
	size := debugDirectorySize + infoSize
	aligned := roundUp(size, int(h.fileAlignment))

	rdata := -1
	for i, s := range h.sections {
		if s.Name == ".rdata" {
			rdata = i
			break
		}
	}
	if rdata < 0 {
		return nil, fmt.Errorf("%w: no .rdata section", ErrUnsupported)
	}
	sec := h.sections[rdata]
	end := int(sec.Offset) + int(sec.Size)
	if end > len(img) {
		return nil, fmt.Errorf("%w: .rdata raw data ends at %#x past end of %d-byte file", ErrFormat, end, len(img))
	}
	newSize := int(sec.Size) + aligned
	if roundUp(newSize, int(h.sectionAlignment)) > int(sec.VirtualSize) {
		return nil, fmt.Errorf("%w: .rdata would grow past its virtual size %#x", ErrUnsupported, sec.VirtualSize)
	}

	rawSize, err := safecast.Conv[uint32](newSize)
	if err != nil {
		return nil, fmt.Errorf("%w: .rdata size %d: %w", ErrUnsupported, newSize, err)
	}
	fileOff, err := safecast.Conv[uint32](end + debugDirectorySize)
	if err != nil {
		return nil, fmt.Errorf("%w: debug data offset: %w", ErrUnsupported, err)
	}
	dirRVA := sec.VirtualAddress + sec.Size

	out := make([]byte, 0, len(img)+aligned)
	out = append(out, img[:end]...)

	// IMAGE_DEBUG_DIRECTORY
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, timestamp)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, debugTypeCodeView)
	out = binary.LittleEndian.AppendUint32(out, uint32(infoSize))
	out = binary.LittleEndian.AppendUint32(out, dirRVA+debugDirectorySize)
	out = binary.LittleEndian.AppendUint32(out, fileOff)

	out = append(out, "RSDS"...)
	out = append(out, guid[:]...)
	out = binary.LittleEndian.AppendUint32(out, age)
	out = append(out, name...)
	out = append(out, 0)
	out = append(out, make([]byte, aligned-size)...)
	out = append(out, img[end:]...)

	if h.numberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
		binary.LittleEndian.PutUint32(out[h.optOff+optNumberOfRvaAndSize:], pe.IMAGE_DIRECTORY_ENTRY_DEBUG+1)
	}
	binary.LittleEndian.PutUint32(out[h.optOff+optDebugDirectory:], dirRVA)
	binary.LittleEndian.PutUint32(out[h.optOff+optDebugDirectory+4:], debugDirectorySize)

	binary.LittleEndian.PutUint32(out[h.sectionHeader(rdata)+secSizeOfRawData:], rawSize)
	for i := rdata + 1; i < len(h.sections); i++ {
		moved := h.sections[i].Offset + uint32(aligned)
		binary.LittleEndian.PutUint32(out[h.sectionHeader(i)+secPointerToRawData:], moved)
	}
	return out, nil
}

type headers struct {
	optOff              int
	sectionsOff         int
	sectionAlignment    uint32
	fileAlignment       uint32
	numberOfRvaAndSizes uint32
	sections            []*pe.SectionHeader
}

func (h *headers) sectionHeader(i int) int {
	return h.sectionsOff + sectionHeaderSize*i
}

func readHeaders(img []byte) (*headers, error) {
	if len(img) < 0x40 || binary.LittleEndian.Uint16(img) != 0x5a4d {
		return nil, fmt.Errorf("%w: invalid magic in DOS header", ErrFormat)
	}
	peOff := int(binary.LittleEndian.Uint32(img[0x3c:]))
	if peOff+24 > len(img) || !bytes.Equal(img[peOff:peOff+4], []byte("PE\x00\x00")) {
		return nil, fmt.Errorf("%w: invalid PE magic", ErrFormat)
	}

	f, err := pe.NewFile(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	opt, ok := f.OptionalHeader.(*pe.OptionalHeader32)
	if !ok {
		return nil, fmt.Errorf("%w: only PE32 optional headers are supported", ErrUnsupported)
	}
	if opt.FileAlignment == 0 || opt.SectionAlignment == 0 {
		return nil, fmt.Errorf("%w: zero section or file alignment", ErrFormat)
	}

	h := &headers{
		optOff:              peOff + 24,
		sectionAlignment:    opt.SectionAlignment,
		fileAlignment:       opt.FileAlignment,
		numberOfRvaAndSizes: opt.NumberOfRvaAndSizes,
	}
	h.sectionsOff = h.optOff + int(f.FileHeader.SizeOfOptionalHeader)
	if h.optOff+optDebugDirectory+8 > h.sectionsOff {
		return nil, fmt.Errorf("%w: optional header has no room for the debug directory entry", ErrUnsupported)
	}
	if h.sectionHeader(len(f.Sections)) > len(img) {
		return nil, fmt.Errorf("%w: section table runs past the end of the file", ErrFormat)
	}
	for _, s := range f.Sections {
		h.sections = append(h.sections, &s.SectionHeader)
	}
	return h, nil
}

func roundUp(v, boundary int) int {
	return (v + boundary - 1) / boundary * boundary
}
