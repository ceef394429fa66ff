package streams

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"

	"fortio.org/safecast"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// DBI stream versions.
const (
	DBIStreamVersionVC41 = 930803
	DBIStreamVersionV50  = 19960307
	DBIStreamVersionV60  = 19970606
	DBIStreamVersionV70  = 19990903
	DBIStreamVersionV110 = 20091201
)

// Machine types.
const (
	MachineUnknown = 0x0000
	MachineI386    = 0x014c
	MachineIA64    = 0x0200
	MachineAMD64   = 0x8664
	MachineARM     = 0x01c0
	MachineARM64   = 0xaa64
)

// Substream signatures.
const (
	SectionContribVer60 = 0xf12eba2d
	GlobalsHashSig      = 0xf12f091a
)

// DBIHeaderSize is the encoded size of DBIHeader.
const DBIHeaderSize = 64

// NoStream marks an absent stream number.
const NoStream = 0xffff

// DBIHeader is the fixed header of the DBI stream.
type DBIHeader struct {
	VersionSignature        int32 // always -1
	VersionHeader           uint32
	Age                     uint32
	GlobalStreamIndex       uint16
	BuildNumber             uint16
	PublicStreamIndex       uint16
	PdbDllVersion           uint16
	SymRecordStream         uint16
	PdbDllRbld              uint16
	ModInfoSize             int32
	SectionContributionSize int32
	SectionMapSize          int32
	SourceInfoSize          int32
	TypeServerMapSize       int32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32
	ECSubstreamSize         int32
	Flags                   uint16
	Machine                 uint16
	Padding                 uint32
}

// DBIStream is a parsed DBI stream.
type DBIStream struct {
	Header          DBIHeader
	Modules         []ModuleInfo
	SectionContribs []SectionContrib
	Sections        []SectionMapEntry
}

// ModuleInfo describes one module in the DBI stream.
type ModuleInfo struct {
	Unused1              uint32
	SectionContrib       SectionContrib
	Flags                uint16
	ModuleSymStream      uint16 // NoStream if the module has no stream
	SymByteSize          uint32 // includes the 4-byte signature
	C11ByteSize          uint32
	C13ByteSize          uint32
	SourceFileCount      uint16
	Padding              uint16
	Unused2              uint32
	SourceFileNameIndex  uint32
	PdbFilePathNameIndex uint32
	ModuleName           string
	ObjFileName          string
	SourceFiles          []string
}

// SectionContrib is a range of a section contributed by one module.
type SectionContrib struct {
	Section         uint16
	Padding1        uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	Padding2        uint16
	DataCrc         uint32
	RelocCrc        uint32
}

// SectionMapEntry maps a logical segment to an image section.
type SectionMapEntry struct {
	Flags         uint16
	Ovl           uint16
	Group         uint16
	Frame         uint16
	SectionName   uint16
	ClassName     uint16
	Offset        uint32
	SectionLength uint32
}

// DBIModule is the input for one module record of the DBI stream.
type DBIModule struct {
	Name     string
	Stream   uint16 // NoStream if none
	SymBytes uint32
	Lines    uint32
	Segments []tds.Segment
	Files    []string
}

// WriteDBI encodes the DBI stream. Section contributions come from every
// module's code segments and are sorted by section, then offset.
func WriteDBI(age uint32, machine uint16, mods []DBIModule) ([]byte, error) {
	w := codeview.NewWriter()
	w.I32(-1)
	w.U32(DBIStreamVersionV60)
	w.U32(age)
	w.U16(StreamGlobals)
	w.U16(0)
	w.U16(NoStream) // publics
	w.U16(0)
	w.U16(StreamSymbols)
	w.U16(0)
	sizes := w.Len()
	for range 8 {
		w.U32(0)
	}
	w.U16(0) // flags
	w.U16(machine)
	w.U32(0)

	start := w.Len()
	for _, m := range mods {
		writeModuleInfo(w, m)
	}
	w.PutU32At(sizes, u32(w, w.Len()-start))

	contribs, err := sectionContribs(mods)
	if err != nil {
		return nil, err
	}
	start = w.Len()
	w.U32(SectionContribVer60)
	for _, sc := range contribs {
		w.U16(sc.Section)
		w.U16(0)
		w.I32(sc.Offset)
		w.I32(sc.Size)
		w.U32(0)
		w.U16(sc.ModuleIndex)
		w.U16(0)
		w.U32(0)
		w.U32(0)
	}
	w.PutU32At(sizes+4, u32(w, w.Len()-start))

	start = w.Len()
	writeSectionMap(w, sectionEnds(mods))
	w.PutU32At(sizes+8, u32(w, w.Len()-start))

	start = w.Len()
	writeFileInfo(w, mods)
	w.PutU32At(sizes+12, u32(w, w.Len()-start))

	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode DBI stream: %w", err)
	}
	return w.Bytes(), nil
}

func writeModuleInfo(w *codeview.Writer, m DBIModule) {
	w.U32(0)
	if len(m.Segments) > 0 {
		seg := m.Segments[0]
		w.I16(seg.Segment)
		w.U16(0)
		w.I32(seg.Offset)
		w.I32(seg.Length)
	} else {
		w.U16(0)
		w.U16(0)
		w.U32(0)
		w.U32(0)
	}
	w.U32(0) // characteristics
	w.U16(0) // module index
	w.U16(0)
	w.U32(0) // data crc
	w.U32(0) // reloc crc
	w.U16(0) // flags
	w.U16(m.Stream)
	w.U32(m.SymBytes)
	w.U32(m.Lines)
	w.U32(0)
	w.Count(len(m.Files))
	w.U16(0)
	w.U32(0)
	w.U32(0)
	w.U32(0)
	w.String(m.Name)
	w.String(m.Name)
	w.PadZero()
}

func sectionContribs(mods []DBIModule) ([]SectionContrib, error) {
	var out []SectionContrib
	for i, m := range mods {
		index, err := safecast.Conv[uint16](i)
		if err != nil {
			return nil, fmt.Errorf("%w: module %d: %w", codeview.ErrOverflow, i, err)
		}
		for _, seg := range m.Segments {
			if seg.Segment < 1 {
				return nil, fmt.Errorf("%w: module %q uses segment %d", tds.ErrMalformed, m.Name, seg.Segment)
			}
			out = append(out, SectionContrib{
				Section:     uint16(seg.Segment),
				Offset:      seg.Offset,
				Size:        seg.Length,
				ModuleIndex: index,
			})
		}
	}
	slices.SortStableFunc(out, func(a, b SectionContrib) int {
		if c := cmp.Compare(a.Section, b.Section); c != 0 {
			return c
		}
		return cmp.Compare(a.Offset, b.Offset)
	})
	return out, nil
}

// sectionEnds returns the highest end address per section, 1-based
// sections at index section-1. Sections no module touches end at
// 0xffffffff.
func sectionEnds(mods []DBIModule) []uint32 {
	var ends []uint32
	seen := map[int]bool{}
	for _, m := range mods {
		for _, seg := range m.Segments {
			i := int(seg.Segment) - 1
			if i < 0 {
				continue
			}
			for len(ends) <= i {
				ends = append(ends, 0xffffffff)
			}
			end := uint32(seg.Offset) + uint32(seg.Length)
			if !seen[i] || end > ends[i] {
				ends[i] = end
			}
			seen[i] = true
		}
	}
	return ends
}

func writeSectionMap(w *codeview.Writer, ends []uint32) {
	w.Count(len(ends) + 1)
	w.Count(len(ends) + 1)
	for i, end := range ends {
		w.U32(0)
		w.U16(0)
		w.Count(i + 1)
		w.I32(-1)
		w.U32(0)
		w.U32(end)
	}
	w.U32(0)
	w.U16(0)
	w.U16(0)
	w.I32(-1)
	w.U32(0)
	w.U32(0xffffffff)
}

func writeFileInfo(w *codeview.Writer, mods []DBIModule) {
	total := 0
	for _, m := range mods {
		total += len(m.Files)
	}
	w.Count(len(mods))
	w.Count(total)
	first := 0
	for _, m := range mods {
		w.Count(first)
		first += len(m.Files)
	}
	for _, m := range mods {
		w.Count(len(m.Files))
	}
	names := codeview.NewWriter()
	for _, m := range mods {
		for _, f := range m.Files {
			w.U32(names.Pos())
			names.String(f)
		}
	}
	w.Raw(names.Bytes())
	if err := names.Err(); err != nil {
		w.Fail(err)
	}
}

// ReadDBIStream parses the DBI stream.
func ReadDBIStream(data []byte) (*DBIStream, error) {
	if len(data) < DBIHeaderSize {
		return nil, fmt.Errorf("DBI stream too small: %d bytes", len(data))
	}

	var header DBIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read DBI header: %w", err)
	}
	if header.VersionSignature != -1 {
		return nil, fmt.Errorf("invalid DBI version signature: %d", header.VersionSignature)
	}

	dbi := &DBIStream{Header: header}
	off := DBIHeaderSize
	sub := func(size int32, what string) ([]byte, error) {
		if size < 0 || off+int(size) > len(data) {
			return nil, fmt.Errorf("%w: %s substream of %d bytes at %d", codeview.ErrTruncated, what, size, off)
		}
		b := data[off : off+int(size)]
		off += int(size)
		return b, nil
	}

	modData, err := sub(header.ModInfoSize, "module info")
	if err != nil {
		return nil, err
	}
	dbi.Modules = parseModuleInfo(modData)

	scData, err := sub(header.SectionContributionSize, "section contribution")
	if err != nil {
		return nil, err
	}
	dbi.SectionContribs = parseSectionContribs(scData)

	mapData, err := sub(header.SectionMapSize, "section map")
	if err != nil {
		return nil, err
	}
	dbi.Sections = parseSectionMap(mapData)

	fileData, err := sub(header.SourceInfoSize, "file info")
	if err != nil {
		return nil, err
	}
	if err := parseFileInfo(fileData, dbi.Modules); err != nil {
		return nil, fmt.Errorf("failed to parse file info: %w", err)
	}
	return dbi, nil
}

func parseModuleInfo(data []byte) []ModuleInfo {
	var modules []ModuleInfo
	offset := 0
	get16 := func() uint16 {
		v := binary.LittleEndian.Uint16(data[offset:])
		offset += 2
		return v
	}
	get32 := func() uint32 {
		v := binary.LittleEndian.Uint32(data[offset:])
		offset += 4
		return v
	}
	str := func() (string, bool) {
		end := bytes.IndexByte(data[offset:], 0)
		if end < 0 {
			return "", false
		}
		s := string(data[offset : offset+end])
		offset += end + 1
		return s, true
	}

	for offset+64 <= len(data) {
		var mod ModuleInfo
		mod.Unused1 = get32()
		sc := &mod.SectionContrib
		sc.Section = get16()
		sc.Padding1 = get16()
		sc.Offset = int32(get32())
		sc.Size = int32(get32())
		sc.Characteristics = get32()
		sc.ModuleIndex = get16()
		sc.Padding2 = get16()
		sc.DataCrc = get32()
		sc.RelocCrc = get32()
		mod.Flags = get16()
		mod.ModuleSymStream = get16()
		mod.SymByteSize = get32()
		mod.C11ByteSize = get32()
		mod.C13ByteSize = get32()
		mod.SourceFileCount = get16()
		mod.Padding = get16()
		mod.Unused2 = get32()
		mod.SourceFileNameIndex = get32()
		mod.PdbFilePathNameIndex = get32()

		var ok bool
		if mod.ModuleName, ok = str(); !ok {
			break
		}
		if mod.ObjFileName, ok = str(); !ok {
			break
		}
		offset = (offset + 3) &^ 3
		modules = append(modules, mod)
	}
	return modules
}

func parseSectionContribs(data []byte) []SectionContrib {
	if len(data) < 4 {
		return nil
	}
	entrySize := 28
	if binary.LittleEndian.Uint32(data) == 0xeffe0000+20140516 {
		entrySize = 32
	}
	var contribs []SectionContrib
	for off := 4; off+entrySize <= len(data); off += entrySize {
		var sc SectionContrib
		if err := binary.Read(bytes.NewReader(data[off:off+28]), binary.LittleEndian, &sc); err != nil {
			break
		}
		contribs = append(contribs, sc)
	}
	return contribs
}

func parseSectionMap(data []byte) []SectionMapEntry {
	if len(data) < 4 {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(data))
	entries := make([]SectionMapEntry, 0, n)
	for off := 4; off+20 <= len(data) && len(entries) < n; off += 20 {
		var e SectionMapEntry
		if err := binary.Read(bytes.NewReader(data[off:off+20]), binary.LittleEndian, &e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries
}

// parseFileInfo attaches source file names to the modules they belong to.
func parseFileInfo(data []byte, mods []ModuleInfo) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) < 4 {
		return fmt.Errorf("%w: file info of %d bytes", codeview.ErrTruncated, len(data))
	}
	nmods := int(binary.LittleEndian.Uint16(data))
	nrefs := int(binary.LittleEndian.Uint16(data[2:]))
	starts := 4
	counts := starts + 2*nmods
	offsets := counts + 2*nmods
	names := offsets + 4*nrefs
	if names > len(data) {
		return fmt.Errorf("%w: file info for %d modules, %d files", codeview.ErrTruncated, nmods, nrefs)
	}
	for m := 0; m < nmods && m < len(mods); m++ {
		first := int(binary.LittleEndian.Uint16(data[starts+2*m:]))
		n := int(binary.LittleEndian.Uint16(data[counts+2*m:]))
		for i := first; i < first+n && i < nrefs; i++ {
			at := names + int(binary.LittleEndian.Uint32(data[offsets+4*i:]))
			if at >= len(data) {
				return fmt.Errorf("%w: file name %d at %d", codeview.ErrTruncated, i, at)
			}
			mods[m].SourceFiles = append(mods[m].SourceFiles, cstring(data[at:]))
		}
	}
	return nil
}

// MachineTypeName returns a short name for a machine type.
func MachineTypeName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}

// HasSymbols reports whether the module has a symbol stream.
func (m *ModuleInfo) HasSymbols() bool {
	return m.ModuleSymStream != NoStream && m.SymByteSize > 0
}
