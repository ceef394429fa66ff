// Package tdstest assembles synthetic TDS images for tests.
package tdstest

import (
	"encoding/binary"
	"fmt"
)

// Subsection kinds, duplicated here so the package has no dependency on the
// reader it feeds.
const (
	kindModule      = 0x120
	kindAlignSym    = 0x125
	kindSrcModule   = 0x127
	kindGlobalSym   = 0x129
	kindGlobalTypes = 0x12b
	kindNames       = 0x130
)

// Leaf is a value written as a numeric leaf.
type Leaf int64

// Raw is written verbatim.
type Raw []byte

// Put appends the little-endian encoding of vals to b. Supported values are
// uint8, int8, uint16, int16, uint32, int32, int (as int32), Leaf and Raw.
func Put(b []byte, vals ...any) []byte {
	for _, v := range vals {
		switch v := v.(type) {
		case uint8:
			b = append(b, v)
		case int8:
			b = append(b, byte(v))
		case uint16:
			b = binary.LittleEndian.AppendUint16(b, v)
		case int16:
			b = binary.LittleEndian.AppendUint16(b, uint16(v))
		case uint32:
			b = binary.LittleEndian.AppendUint32(b, v)
		case int32:
			b = binary.LittleEndian.AppendUint32(b, uint32(v))
		case int:
			b = binary.LittleEndian.AppendUint32(b, uint32(int32(v)))
		case Leaf:
			b = appendLeaf(b, int64(v))
		case Raw:
			b = append(b, v...)
		default:
			panic(fmt.Sprintf("tdstest: unsupported value %T", v))
		}
	}
	return b
}

func appendLeaf(b []byte, v int64) []byte {
	switch {
	case v >= 0 && v < 0x8000:
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case v >= -0x80 && v < 0:
		return append(binary.LittleEndian.AppendUint16(b, 0x8000), byte(int8(v)))
	case v >= -0x8000 && v < 0x8000:
		return binary.LittleEndian.AppendUint16(binary.LittleEndian.AppendUint16(b, 0x8001), uint16(int16(v)))
	case v >= 0 && v <= 0xffff:
		return binary.LittleEndian.AppendUint16(binary.LittleEndian.AppendUint16(b, 0x8002), uint16(v))
	case v >= -0x80000000 && v <= 0x7fffffff:
		return binary.LittleEndian.AppendUint32(binary.LittleEndian.AppendUint16(b, 0x8003), uint32(int32(v)))
	default:
		return binary.LittleEndian.AppendUint32(binary.LittleEndian.AppendUint16(b, 0x8004), uint32(v))
	}
}

// Segment is a module code segment.
type Segment struct {
	Segment int16
	Flags   int16
	Offset  int32
	Length  int32
}

// Line is one line-table entry.
type Line struct {
	Offset int32
	Line   uint16
}

// Range is a run of code in one segment with its lines.
type Range struct {
	Segment int16
	Start   int32
	End     int32
	Lines   []Line
}

type file struct {
	name   int32
	ranges []Range
}

// Module collects the subsections of one compilation unit.
type Module struct {
	b        *Builder
	name     string
	segments []Segment
	files    []file
	symbols  [][]byte
	offsets  []int32
	size     int32
}

// Builder accumulates the parts of a TDS image.
type Builder struct {
	names   []string
	nameIDs map[string]int32
	types   [][]byte
	modules []*Module
	globals [][]byte
	gsize   int32
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{nameIDs: make(map[string]int32)}
}

// Name interns s in the name table and returns its 1-based id. The empty
// string is id 0.
func (b *Builder) Name(s string) int32 {
	if s == "" {
		return 0
	}
	if id, ok := b.nameIDs[s]; ok {
		return id
	}
	b.names = append(b.names, s)
	id := int32(len(b.names))
	b.nameIDs[s] = id
	return id
}

// NextType returns the id the next call to Type will assign.
func (b *Builder) NextType() int32 { return int32(0x1000 + len(b.types)) }

// Type appends a type record and returns its id.
func (b *Builder) Type(kind uint16, payload ...any) int32 {
	body := Put(binary.LittleEndian.AppendUint16(nil, kind), payload...)
	return b.addType(body)
}

// FieldList appends a field list; each member is padded to four bytes with
// 0xf1..0xf3 markers.
func (b *Builder) FieldList(members ...[]byte) int32 {
	body := binary.LittleEndian.AppendUint16(nil, 0x204)
	for _, m := range members {
		body = append(body, m...)
		// The record starts two bytes before body.
		for pad := (4 - (len(body)+2)%4) % 4; pad > 0; pad-- {
			body = append(body, 0xf0|byte(pad))
		}
	}
	return b.addType(body)
}

// Member encodes one field-list entry.
func Member(leaf uint16, payload ...any) []byte {
	return Put(binary.LittleEndian.AppendUint16(nil, leaf), payload...)
}

func (b *Builder) addType(body []byte) int32 {
	rec := binary.LittleEndian.AppendUint16(nil, uint16(len(body)))
	b.types = append(b.types, append(rec, body...))
	return int32(0x1000 + len(b.types) - 1)
}

// Module starts a new module; its index is the order of creation, from 1.
func (b *Builder) Module(name string, segs ...Segment) *Module {
	m := &Module{b: b, name: name, segments: segs, size: 4}
	b.Name(name)
	b.modules = append(b.modules, m)
	return m
}

// Source adds a source file with its line ranges.
func (m *Module) Source(name string, ranges ...Range) {
	m.files = append(m.files, file{name: m.b.Name(name), ranges: ranges})
}

// NextSymbol returns the offset the next symbol will get.
func (m *Module) NextSymbol() int32 { return m.size }

// Symbol appends a symbol and returns its offset within the subsection.
func (m *Module) Symbol(kind uint16, payload ...any) int32 {
	rec := symbol(kind, payload)
	off := m.size
	m.symbols = append(m.symbols, rec)
	m.offsets = append(m.offsets, off)
	m.size += int32(len(rec))
	return off
}

// Link stores v as a 32-bit value at byte at of the payload (after the kind
// tag) of the symbol at offset sym. Scope links point forward, so they are
// filled in once the target has been added.
func (m *Module) Link(sym int32, at int, v int32) {
	for i, off := range m.offsets {
		if off == sym {
			binary.LittleEndian.PutUint32(m.symbols[i][4+at:], uint32(v))
			return
		}
	}
	panic(fmt.Sprintf("tdstest: no symbol at offset %#x", sym))
}

// Resize overwrites the length prefix of the symbol at offset sym without
// touching its bytes, so the declared size can disagree with the payload.
func (m *Module) Resize(sym int32, size uint16) {
	for i, off := range m.offsets {
		if off == sym {
			binary.LittleEndian.PutUint16(m.symbols[i], size)
			return
		}
	}
	panic(fmt.Sprintf("tdstest: no symbol at offset %#x", sym))
}

// Global appends a symbol to the global symbol subsection and returns its
// offset from the start of the symbol data.
func (b *Builder) Global(kind uint16, payload ...any) int32 {
	rec := symbol(kind, payload)
	off := b.gsize
	b.globals = append(b.globals, rec)
	b.gsize += int32(len(rec))
	return off
}

func symbol(kind uint16, payload []any) []byte {
	body := Put(binary.LittleEndian.AppendUint16(nil, kind), payload...)
	return append(binary.LittleEndian.AppendUint16(nil, uint16(len(body))), body...)
}

// Bytes lays out the image: header, names, types, per-module subsections,
// globals, then the directory.
func (b *Builder) Bytes() []byte {
	type entry struct {
		kind   int16
		module int16
		off    int32
		size   int32
	}
	var (
		out     = Put([]byte("FB0A"), int32(0))
		entries []entry
	)
	add := func(kind, module int16, data []byte) {
		entries = append(entries, entry{kind, module, int32(len(out)), int32(len(data))})
		out = append(out, data...)
	}

	var names []byte
	names = Put(names, int32(len(b.names)))
	for _, s := range b.names {
		names = append(names, byte(len(s)))
		names = append(names, s...)
		names = append(names, 0)
	}
	add(kindNames, 0, names)

	if len(b.types) > 0 {
		hdr := 8 + 4*len(b.types)
		types := Put(nil, int32(0), int32(len(b.types)))
		off := hdr
		for _, t := range b.types {
			types = Put(types, int32(off))
			off += len(t)
		}
		for _, t := range b.types {
			types = append(types, t...)
		}
		add(kindGlobalTypes, 0, types)
	}

	for i, m := range b.modules {
		idx := int16(i + 1)
		mod := Put(nil, int16(0), int16(0), int16(len(m.segments)), Raw("CV"), m.b.Name(m.name),
			int32(0), int32(0), int32(0), int32(0))
		for _, s := range m.segments {
			mod = Put(mod, s.Segment, s.Flags, s.Offset, s.Length)
		}
		add(kindModule, idx, mod)
		if len(m.files) > 0 {
			add(kindSrcModule, idx, m.sources())
		}
		if len(m.symbols) > 0 {
			syms := Put(nil, int32(1))
			for _, s := range m.symbols {
				syms = append(syms, s...)
			}
			add(kindAlignSym, idx, syms)
		}
	}

	if len(b.globals) > 0 {
		g := Put(nil, int16(0), int16(0), b.gsize, int32(0), int32(0), int32(0), int32(0), int32(0), int32(0))
		for _, s := range b.globals {
			g = append(g, s...)
		}
		add(kindGlobalSym, 0, g)
	}

	dir := int32(len(out))
	binary.LittleEndian.PutUint32(out[4:], uint32(dir))
	out = Put(out, int16(16), int16(12), int32(len(entries)), int32(0), int32(0))
	for _, e := range entries {
		out = Put(out, e.kind, e.module, e.off, e.size)
	}
	return out
}

func (m *Module) sources() []byte {
	var all []Range
	for _, f := range m.files {
		all = append(all, f.ranges...)
	}
	head := 4 + 4*len(m.files) + 8*len(all) + 2*len(all)
	var body []byte
	fileOffs := make([]int32, len(m.files))
	for i, f := range m.files {
		fileOffs[i] = int32(head + len(body))
		lineBase := head + len(body) + 6 + 4*len(f.ranges) + 8*len(f.ranges)
		var lines []byte
		fb := Put(nil, int16(len(f.ranges)), f.name)
		for _, r := range f.ranges {
			fb = Put(fb, int32(lineBase+len(lines)))
			lines = Put(lines, r.Segment, int16(len(r.Lines)))
			for _, l := range r.Lines {
				lines = Put(lines, l.Offset)
			}
			for _, l := range r.Lines {
				lines = Put(lines, l.Line)
			}
		}
		for _, r := range f.ranges {
			fb = Put(fb, r.Start, r.End)
		}
		body = append(body, fb...)
		body = append(body, lines...)
	}
	out := Put(nil, int16(len(m.files)), int16(len(all)))
	for _, off := range fileOffs {
		out = Put(out, off)
	}
	for _, r := range all {
		out = Put(out, r.Start, r.End)
	}
	for _, r := range all {
		out = Put(out, r.Segment)
	}
	return append(out, body...)
}
