package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

type idMap map[tds.Type]uint32

func (m idMap) ID(t tds.Type) uint32 {
	if p, ok := t.(*tds.Primitive); ok {
		return uint32(p.ID)
	}
	return m[t]
}

func ref(t tds.Type) tds.TypeRef { return tds.TypeRef{ID: 1, Type: t} }

var intType = &tds.Primitive{ID: tds.PrimInt32}

func encode(t *testing.T, typ tds.Type, ids IDs) []byte {
	t.Helper()
	w := codeview.NewWriter()
	if err := Type(w, typ, ids); err != nil {
		t.Fatal(err)
	}
	b := w.Bytes()
	if len(b)%4 != 0 {
		t.Fatalf("record of %d bytes is not aligned", len(b))
	}
	if got := int(binary.LittleEndian.Uint16(b)); got != len(b)-2 {
		t.Fatalf("length field %d, record %d bytes", got, len(b))
	}
	return b
}

func TestPointerRecord(t *testing.T) {
	class := &tds.Struct{Name: "C"}
	ids := idMap{class: 0x1005}
	tests := []struct {
		name string
		ptr  *tds.Pointer
		want []byte
	}{
		{
			name: "near32",
			ptr:  &tds.Pointer{Kind: tds.PtrNear32, Pointee: ref(intType)},
			want: []byte{0x0a, 0x00, 0x02, 0x10, 0x74, 0, 0, 0, 0x0a, 0, 0, 0},
		},
		{
			name: "member function",
			ptr:  &tds.Pointer{Kind: tds.PtrNear32, Mode: tds.ModeMethod, Pointee: ref(intType), Class: ref(class)},
			want: []byte{
				0x12, 0x00, 0x02, 0x10, 0x74, 0, 0, 0, 0x6a, 0, 0, 0,
				0x05, 0x10, 0, 0, 0, 0, 0xf2, 0xf1,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encode(t, tt.ptr, ids); !bytes.Equal(got, tt.want) {
				t.Errorf("record = % x\nwant     % x", got, tt.want)
			}
		})
	}
}

func TestFieldListPadding(t *testing.T) {
	fl := &tds.FieldList{Members: []tds.Member{
		&tds.DataMember{Type: ref(intType), Name: "xy", Attr: tds.MemberAttr{Access: tds.AccessPublic}},
		&tds.DataMember{Type: ref(&tds.Property{}), Name: "Prop"},
	}}
	got := encode(t, fl, idMap{})
	want := []byte{
		0x12, 0x00, 0x03, 0x12,
		0x0d, 0x15, 0x03, 0x00, 0x74, 0, 0, 0, 0x00, 0x00, 'x', 'y', 0,
		0xf3, 0xf2, 0xf1,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("record = % x\nwant     % x", got, want)
	}
}

func TestStructRecord(t *testing.T) {
	pair := &tds.MList{Methods: []tds.MethodEntry{{}, {}}}
	more := &tds.FieldList{Members: []tds.Member{&tds.StaticMember{Name: "s"}}}
	fl := &tds.FieldList{Members: []tds.Member{
		&tds.DataMember{Type: ref(intType), Name: "a"},
		&tds.DataMember{Type: ref(&tds.Property{}), Name: "P"},
		&tds.Methods{Count: 2, List: ref(pair), Name: "f"},
		&tds.Index{Continuation: ref(more)},
	}}
	if n := MemberCount(fl); n != 4 {
		t.Fatalf("MemberCount = %d, want 4", n)
	}

	s := &tds.Struct{
		IsClass: true,
		Members: ref(fl),
		Flags:   tds.StructDtor | tds.StructFwdRef,
		Name:    "C",
		Size:    0x9000,
	}
	got := encode(t, s, idMap{fl: 0x1001})
	if kind := binary.LittleEndian.Uint16(got[2:]); kind != codeview.LF_CLASS {
		t.Errorf("kind = %#x", kind)
	}
	if n := binary.LittleEndian.Uint16(got[4:]); n != 4 {
		t.Errorf("count = %d", n)
	}
	if p := binary.LittleEndian.Uint16(got[6:]); p != codeview.PropCtor|codeview.PropFwdRef {
		t.Errorf("property = %#x", p)
	}
	if fields := binary.LittleEndian.Uint32(got[8:]); fields != 0x1001 {
		t.Errorf("field list = %#x", fields)
	}
	size, n, err := codeview.DecodeNumeric(got[20:])
	if err != nil || size != 0x9000 {
		t.Errorf("size = %#x, %v", size, err)
	}
	if name := got[20+n]; name != 'C' {
		t.Errorf("name starts with %q", name)
	}
}

func TestVtabShapeNibbles(t *testing.T) {
	got := encode(t, &tds.VtabShape{Descriptors: []uint8{1, 2, 3}}, idMap{})
	want := []byte{0x0a, 0x00, 0x0a, 0x00, 0x03, 0x00, 0x21, 0x03, 0xf2, 0xf1}
	if !bytes.Equal(got[:len(want)], want) {
		t.Errorf("record = % x, want % x", got, want)
	}
}

func TestProcedureCountsArgs(t *testing.T) {
	args := &tds.ArgList{Args: []tds.TypeRef{ref(intType), ref(intType)}}
	proc := &tds.Procedure{Return: ref(&tds.Primitive{ID: tds.PrimVoid}), NumArgs: 7, Args: ref(args)}
	got := encode(t, proc, idMap{args: 0x1000})
	if n := binary.LittleEndian.Uint16(got[10:]); n != 2 {
		t.Errorf("argument count = %d, want 2", n)
	}
	if a := binary.LittleEndian.Uint32(got[12:]); a != 0x1000 {
		t.Errorf("arglist = %#x", a)
	}
}

func TestUnencodable(t *testing.T) {
	w := codeview.NewWriter()
	if err := Type(w, &tds.Variant{}, idMap{}); !errors.Is(err, codeview.ErrUnencodable) {
		t.Errorf("err = %v", err)
	}
}

func TestHashKey(t *testing.T) {
	tests := []struct {
		typ  tds.Type
		name string
		ok   bool
	}{
		{&tds.Struct{Name: "S"}, "S", true},
		{&tds.Struct{Name: "S", Flags: tds.StructFwdRef}, "S", false},
		{&tds.Union{Name: "U"}, "U", true},
		{&tds.Enum{Name: "E"}, "E", true},
		{&tds.Pointer{}, "", false},
	}
	for _, tt := range tests {
		name, ok := HashKey(tt.typ)
		if ok != tt.ok || (ok && name != tt.name) {
			t.Errorf("HashKey(%T) = %q, %v", tt.typ, name, ok)
		}
	}
}

func TestModuleScopeLinks(t *testing.T) {
	proc := &tds.Proc32{Global: true, Size: 16, Offset: 0x20, Segment: 1, Type: ref(intType), Name: "f"}
	block := &tds.Block32{Length: 4, Offset: 0x24, Segment: 1}
	end1, end2 := &tds.End{Offset: 1}, &tds.End{Offset: 2}
	proc.End = end2
	block.Parent = proc
	block.End = end1
	mod := &tds.Module{Name: "m.c", Symbols: []tds.Symbol{
		proc, block, end1, end2, &tds.Search{}, &tds.Register{Name: "r"},
	}}

	ms, err := Module(mod, idMap{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[tds.Symbol]uint32{proc: 4, block: 48, end1: 72, end2: 76}
	if len(ms.Offsets) != len(want) {
		t.Fatalf("offsets = %v", ms.Offsets)
	}
	for sym, off := range want {
		if ms.Offsets[sym] != off {
			t.Errorf("%T at %d, want %d", sym, ms.Offsets[sym], off)
		}
	}
	if len(ms.Data) != 80 {
		t.Fatalf("stream is %d bytes, want 80", len(ms.Data))
	}

	recs, err := codeview.ParseSymbols(ms.Data)
	if err != nil {
		t.Fatal(err)
	}
	p, err := codeview.ParseProcSym(recs[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if p.Parent != 0 || p.End != 76 || p.Next != 0 || p.Name != "f" || p.TypeIndex != tds.PrimInt32 {
		t.Errorf("proc = %+v", p)
	}
	b, err := codeview.ParseBlockSym(recs[1].Data)
	if err != nil {
		t.Fatal(err)
	}
	if b.Parent != 4 || b.End != 72 || b.Length != 4 {
		t.Errorf("block = %+v", b)
	}
}

func TestSkippedScopeParent(t *testing.T) {
	for _, tt := range []struct {
		name       string
		withParent bool
		want       uint32
	}{
		{"with inside procedure", true, 4},
		{"with at module level", false, 0},
	} {
		proc := &tds.Proc32{Global: true, Size: 16, Offset: 0x20, Segment: 1, Type: ref(intType), Name: "f"}
		with := &tds.With32{Length: 4, Offset: 0x24, Segment: 1, Name: "rec"}
		block := &tds.Block32{Length: 4, Offset: 0x24, Segment: 1}
		end1, end2 := &tds.End{Offset: 1}, &tds.End{Offset: 2}
		proc.End = end2
		if tt.withParent {
			with.Parent = proc
		}
		block.Parent = with
		block.End = end1
		mod := &tds.Module{Name: "m.p", Symbols: []tds.Symbol{proc, with, block, end1, end2}}

		ms, err := Module(mod, idMap{})
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if _, ok := ms.Offsets[with]; ok {
			t.Errorf("%s: with scope was written", tt.name)
		}
		recs, err := codeview.ParseSymbols(ms.Data)
		if err != nil {
			t.Fatal(err)
		}
		b, err := codeview.ParseBlockSym(recs[1].Data)
		if err != nil {
			t.Fatal(err)
		}
		if b.Parent != tt.want || b.End != 72 {
			t.Errorf("%s: block = %+v, want parent %d", tt.name, b, tt.want)
		}
	}
}

func TestSkippedSymbols(t *testing.T) {
	syms := []tds.Symbol{
		&tds.Register{Name: "r"}, &tds.Search{}, &tds.GDataRef{Name: "g"},
		&tds.With32{Name: "w"}, &tds.Label32{Name: "l"}, &tds.Entry32{},
		&tds.OptVar32{}, &tds.ProcRet32{}, &tds.SaveRegs32{}, &tds.Uses{},
		&tds.Namespace{Name: "n"}, &tds.Using{}, &tds.PConstant{Name: "c"},
		&tds.SLink32{},
	}
	for _, sym := range syms {
		w := codeview.NewWriter()
		written, err := Symbol(w, sym, idMap{})
		if err != nil || written || w.Pos() != 0 {
			t.Errorf("%T: written = %v, err = %v, %d bytes", sym, written, err, w.Pos())
		}
	}
}

func TestAdjustorThunk(t *testing.T) {
	th := &tds.Thunk32{Offset: 8, Segment: 1, Length: 5, Kind: tds.ThunkAdjustor, Name: "t", Adjust: -4, Target: "g"}
	w := codeview.NewWriter()
	w.U32(codeview.CV_SIGNATURE_C11)
	if _, err := Symbol(w, th, idMap{}); err != nil {
		t.Fatal(err)
	}
	data := w.Bytes()
	// Header 4, record header 4, links 12, offset 4, segment 2, length 2,
	// kind 1, "t\0" 2 = 31, aligned to 32 before the adjustment.
	if adj := int32(binary.LittleEndian.Uint32(data[32:])); adj != -4 {
		t.Errorf("adjust = %d", adj)
	}
	if data[36] != 'g' || data[37] != 0 {
		t.Errorf("target = % x", data[36:])
	}
}

func TestGlobalsProcRef(t *testing.T) {
	a := &tds.Module{Name: "a.c", Segments: []tds.Segment{{Segment: 1, Offset: 0, Length: 0x100}}}
	fn := &tds.Proc32{Global: true, Offset: 0x120, Segment: 1, Name: "fn"}
	b := &tds.Module{
		Name:     "b.c",
		Segments: []tds.Segment{{Segment: 1, Offset: 0x100, Length: 0x100}},
		Symbols:  []tds.Symbol{fn, &tds.End{}},
	}
	var syms []*ModuleSymbols
	for _, m := range []*tds.Module{a, b} {
		ms, err := Module(m, idMap{})
		if err != nil {
			t.Fatal(err)
		}
		syms = append(syms, ms)
	}
	procs := NewProcIndex([]*tds.Module{a, b}, syms)

	data, written, skipped, err := Globals([]tds.Symbol{
		&tds.GProcRef{Name: "fn", Segment: 1, Offset: 0x120},
		&tds.GProcRef{Name: "gone", Segment: 1, Offset: 0x10},
		&tds.GDataRef{Type: ref(intType), Name: "g", Segment: 2, Offset: 8},
	}, idMap{}, procs)
	if err != nil {
		t.Fatal(err)
	}
	if skipped != 1 || len(written) != 2 || written[0] != (Global{Name: "fn", Offset: 0}) {
		t.Fatalf("skipped %d, written %v", skipped, written)
	}
	recs, err := codeview.ParseSymbols(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Kind != codeview.S_PROCREF || recs[1].Kind != codeview.S_GDATA32 {
		t.Fatalf("records = %+v", recs)
	}
	pr, err := codeview.ParseProcRefSym(recs[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Module != 2 || pr.SymOffset != 4 || pr.Name != "fn" {
		t.Errorf("procref = %+v", pr)
	}
	if recs[1].Offset != written[1].Offset || written[1].Name != "g" {
		t.Errorf("data symbol at %d, recorded %+v", recs[1].Offset, written[1])
	}
}
