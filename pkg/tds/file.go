// Package tds reads Borland Turbo Debugger symbol (TDS) images.
//
// A TDS image starts with a four-character signature and the offset of a
// subsection directory. Parse decodes the name table, the global type table,
// per-module metadata, source line tables and symbol tables into an object
// graph whose type and scope references are fully resolved.
package tds

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/jtang613/tds2pdb/pkg/demangle"
)

// SubsectionKind identifies a directory entry.
type SubsectionKind int16

// Subsection kinds.
const (
	SubsectionModule      SubsectionKind = 0x120
	SubsectionAlignSym    SubsectionKind = 0x125
	SubsectionSrcModule   SubsectionKind = 0x127
	SubsectionGlobalSym   SubsectionKind = 0x129
	SubsectionGlobalTypes SubsectionKind = 0x12b
	SubsectionNames       SubsectionKind = 0x130
)

// Directory layout constants.
const (
	DirHeaderSize = 16
	DirEntrySize  = 12
)

// Subsection is one entry of the subsection directory.
type Subsection struct {
	Kind   SubsectionKind
	Module int16
	Offset int32
	Size   int32
}

// Segment is a code segment range contributed by a module.
type Segment struct {
	Segment int16
	Flags   int16
	Offset  int32
	Length  int32
}

// Line maps a code offset to a source line.
type Line struct {
	Offset int32
	Line   uint16
}

// LineRange is a contiguous run of code in one segment with its line table.
type LineRange struct {
	Segment int16
	Start   int32
	End     int32
	Lines   []Line
}

// SourceFile is one source file of a module with its line ranges.
type SourceFile struct {
	Name   string
	Ranges []LineRange
}

// Sources is the line-number information of a module.
type Sources struct {
	Ranges []LineRange
	Files  []SourceFile
}

// Module is one compilation unit. Index is 1-based.
type Module struct {
	Index    int
	Overlay  int16
	Library  int16
	Style    string
	Name     string
	Segments []Segment
	Sources  *Sources
	Symbols  []Symbol
}

// GlobalsHeader is the header of the global symbol subsection.
type GlobalsHeader struct {
	SymHash    int16
	AddrHash   int16
	SymbolSize int32
	SymHashSz  int32
	AddrHashSz int32
	UDTs       int32
	Others     int32
	Total      int32
	Namespaces int32
}

// File is a parsed TDS image.
type File struct {
	Signature     string
	Subsections   []Subsection
	Names         []string
	Types         []Type
	Modules       []*Module
	Globals       []Symbol
	GlobalsHeader GlobalsHeader

	prims map[int32]*Primitive
}

// Options control parsing.
type Options struct {
	// Encoding decodes the name table. Defaults to Windows-1252.
	Encoding encoding.Encoding
	// Logger receives demangling warnings and debug traces.
	Logger *slog.Logger
}

// LookupCodePage resolves an IANA charset name such as "windows-1251".
func LookupCodePage(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up code page %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("code page %q is not supported", name)
	}
	return enc, nil
}

// ParseFile reads and parses the TDS image at path.
func ParseFile(path string, opts Options) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read TDS file: %w", err)
	}
	return Parse(data, opts)
}

// Parse decodes a TDS image held in memory. data is never modified.
func Parse(data []byte, opts Options) (*File, error) {
	if opts.Encoding == nil {
		opts.Encoding = charmap.Windows1252
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &parser{
		c:   NewCursor(data),
		f:   &File{prims: make(map[int32]*Primitive)},
		dec: opts.Encoding.NewDecoder(),
		dm:  &demangle.Parser{Logger: opts.Logger},
		log: opts.Logger,
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.f, nil
}

// Type returns the type with the given id: nil for 0, a Primitive below
// FirstTypeID, otherwise an entry of Types.
func (f *File) Type(id int32) (Type, error) {
	switch {
	case id == 0:
		return nil, nil
	case id < 0:
		return nil, fmt.Errorf("%w: negative type id %d", ErrMalformed, id)
	case id < FirstTypeID:
		if pt, ok := f.prims[id]; ok {
			return pt, nil
		}
		pt := &Primitive{ID: uint16(id)}
		f.prims[id] = pt
		return pt, nil
	}
	idx := int(id - FirstTypeID)
	if idx >= len(f.Types) || f.Types[idx] == nil {
		return nil, fmt.Errorf("%w: type %#x (table has %d types)", ErrUnresolved, id, len(f.Types))
	}
	return f.Types[idx], nil
}

type parser struct {
	c    *Cursor
	f    *File
	dec  *encoding.Decoder
	dm   *demangle.Parser
	log  *slog.Logger
	refs []*TypeRef
}

func (p *parser) parse() error {
	c := p.c
	p.f.Signature = string(c.Bytes(4))
	dirOffset := c.I32()
	c.Seek(int(dirOffset))
	headerSize := c.I16()
	entrySize := c.I16()
	count := c.I32()
	c.I32()
	c.I32()
	if err := c.Err(); err != nil {
		return fmt.Errorf("failed to read subsection directory: %w", err)
	}
	if headerSize != DirHeaderSize || entrySize != DirEntrySize {
		return fmt.Errorf("%w: directory header size %d, entry size %d", ErrMalformed, headerSize, entrySize)
	}
	if count < 0 || int(count)*DirEntrySize > c.Len()-c.Pos() {
		return fmt.Errorf("%w: directory claims %d entries", ErrMalformed, count)
	}

	p.f.Subsections = make([]Subsection, count)
	for i := range p.f.Subsections {
		p.f.Subsections[i] = Subsection{
			Kind:   SubsectionKind(c.I16()),
			Module: c.I16(),
			Offset: c.I32(),
			Size:   c.I32(),
		}
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("failed to read subsection directory: %w", err)
	}

	for _, s := range p.f.Subsections {
		if s.Kind == SubsectionNames {
			if err := p.readNames(s); err != nil {
				return err
			}
		}
	}

	numModules := 0
	for _, s := range p.f.Subsections {
		switch s.Kind {
		case SubsectionNames:
		case SubsectionGlobalTypes:
			if err := p.readTypes(s); err != nil {
				return err
			}
		default:
			if s.Module > 0 {
				numModules = max(numModules, int(s.Module))
			}
		}
	}
	p.log.Debug("read type table", "types", len(p.f.Types), "names", len(p.f.Names))

	p.f.Modules = make([]*Module, numModules)
	for i := range p.f.Modules {
		p.f.Modules[i] = &Module{Index: i + 1}
	}
	for _, s := range p.f.Subsections {
		if s.Module <= 0 {
			continue
		}
		mod := p.f.Modules[s.Module-1]
		var err error
		switch s.Kind {
		case SubsectionModule:
			err = p.readModule(s, mod)
		case SubsectionSrcModule:
			err = p.readSources(s, mod)
		case SubsectionAlignSym:
			c.Seek(int(s.Offset))
			c.I32()
			mod.Symbols, err = p.readSymbols(int(s.Offset), int(s.Offset+s.Size))
		case SubsectionNames, SubsectionGlobalTypes, SubsectionGlobalSym:
		default:
			p.log.Debug("skipping subsection", "kind", fmt.Sprintf("%#x", uint16(s.Kind)), "module", s.Module)
		}
		if err != nil {
			return fmt.Errorf("failed to read module %d: %w", s.Module, err)
		}
	}

	for _, s := range p.f.Subsections {
		if s.Kind == SubsectionGlobalSym {
			if err := p.readGlobals(s); err != nil {
				return err
			}
		}
	}

	return p.fixup()
}

func (p *parser) readNames(s Subsection) error {
	c := p.c
	c.Seek(int(s.Offset))
	n := c.I32()
	if n < 0 || int(n) > c.Len()-c.Pos() {
		return fmt.Errorf("%w: name table claims %d names", ErrMalformed, n)
	}
	p.f.Names = make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		raw := c.Bytes(int(c.U8()))
		c.U8()
		if c.Err() != nil {
			break
		}
		name, err := p.dec.Bytes(raw)
		if err != nil {
			return fmt.Errorf("failed to decode name %d: %w", i+1, err)
		}
		p.f.Names = append(p.f.Names, string(name))
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("failed to read name table: %w", err)
	}
	return nil
}

// name returns the string for a 1-based name id; 0 is the empty name.
func (p *parser) name(id int32) string {
	if id == 0 {
		return ""
	}
	if id < 0 || int(id) > len(p.f.Names) {
		p.c.Fail(fmt.Errorf("%w: name id %d outside table of %d", ErrMalformed, id, len(p.f.Names)))
		return ""
	}
	return p.f.Names[id-1]
}

// translated reads a name id and renders it through the demangler.
func (p *parser) translated() string {
	s := p.name(p.c.I32())
	if s == "" {
		return ""
	}
	return p.dm.Translate(s)
}

// ref reads a type id into r; it is resolved by fixup.
func (p *parser) ref(r *TypeRef) {
	r.ID = p.c.I32()
	p.track(r)
}

func (p *parser) track(r *TypeRef) {
	if r.ID != 0 {
		p.refs = append(p.refs, r)
	}
}

func (p *parser) fixup() error {
	for _, r := range p.refs {
		t, err := p.f.Type(r.ID)
		if err != nil {
			return fmt.Errorf("failed to resolve type reference: %w", err)
		}
		r.Type = t
	}
	p.refs = nil
	return nil
}

func (p *parser) readModule(s Subsection, mod *Module) error {
	c := p.c
	c.Seek(int(s.Offset))
	mod.Overlay = c.I16()
	mod.Library = c.I16()
	nsegs := c.I16()
	mod.Style = string(c.Bytes(2))
	mod.Name = p.name(c.I32())
	for i := 0; i < 4; i++ {
		c.I32()
	}
	if nsegs < 0 {
		return fmt.Errorf("%w: module has %d segments", ErrMalformed, nsegs)
	}
	mod.Segments = make([]Segment, 0, nsegs)
	for i := int16(0); i < nsegs && c.Err() == nil; i++ {
		mod.Segments = append(mod.Segments, Segment{
			Segment: c.I16(),
			Flags:   c.I16(),
			Offset:  c.I32(),
			Length:  c.I32(),
		})
	}
	return c.Err()
}

func (p *parser) readSources(s Subsection, mod *Module) error {
	c := p.c
	start := int(s.Offset)
	c.Seek(start)
	if mod.Sources == nil {
		mod.Sources = &Sources{}
	}
	src := mod.Sources

	nfiles := int(c.I16())
	nranges := int(c.I16())
	if nfiles < 0 || nranges < 0 {
		return fmt.Errorf("%w: source table has %d files, %d ranges", ErrMalformed, nfiles, nranges)
	}
	fileOffsets := make([]int32, nfiles)
	for i := range fileOffsets {
		fileOffsets[i] = c.I32()
	}
	ranges := make([]LineRange, nranges)
	for i := range ranges {
		ranges[i].Start = c.I32()
		ranges[i].End = c.I32()
	}
	for i := range ranges {
		ranges[i].Segment = c.I16()
	}
	src.Ranges = append(src.Ranges, ranges...)

	for _, off := range fileOffsets {
		if c.Err() != nil {
			break
		}
		c.Seek(start + int(off))
		n := int(c.I16())
		nameID := c.I32()
		if n < 0 {
			return fmt.Errorf("%w: source file has %d ranges", ErrMalformed, n)
		}
		lineOffsets := make([]int32, n)
		for i := range lineOffsets {
			lineOffsets[i] = c.I32()
		}
		file := SourceFile{Name: p.name(nameID), Ranges: make([]LineRange, n)}
		for i := range file.Ranges {
			file.Ranges[i].Start = c.I32()
			file.Ranges[i].End = c.I32()
		}
		for i, lo := range lineOffsets {
			c.Seek(start + int(lo))
			r := &file.Ranges[i]
			r.Segment = c.I16()
			nlines := int(c.I16())
			if nlines < 0 || c.Err() != nil {
				c.Fail(fmt.Errorf("%w: line table has %d entries", ErrMalformed, nlines))
				break
			}
			r.Lines = make([]Line, nlines)
			for l := range r.Lines {
				r.Lines[l].Offset = c.I32()
			}
			for l := range r.Lines {
				r.Lines[l].Line = c.U16()
			}
		}
		src.Files = append(src.Files, file)
	}
	return c.Err()
}

func (p *parser) readGlobals(s Subsection) error {
	c := p.c
	c.Seek(int(s.Offset))
	h := GlobalsHeader{
		SymHash:    c.I16(),
		AddrHash:   c.I16(),
		SymbolSize: c.I32(),
		SymHashSz:  c.I32(),
		AddrHashSz: c.I32(),
		UDTs:       c.I32(),
		Others:     c.I32(),
		Total:      c.I32(),
		Namespaces: c.I32(),
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("failed to read global symbol header: %w", err)
	}
	p.f.GlobalsHeader = h
	start := c.Pos()
	syms, err := p.readSymbols(start, start+int(h.SymbolSize))
	if err != nil {
		return fmt.Errorf("failed to read global symbols: %w", err)
	}
	p.f.Globals = syms
	return nil
}

// isRTTIName reports whether a mangled name is a type-info or pointer
// descriptor; those are not demangled.
func isRTTIName(s string) bool {
	return strings.HasPrefix(s, "@$xt$") || strings.HasPrefix(s, "@$xp$")
}
