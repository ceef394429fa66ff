package tds

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/jtang613/tds2pdb/pkg/tds/tdstest"
)

func quiet() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}
}

func mustParse(t *testing.T, b *tdstest.Builder) *File {
	t.Helper()
	f, err := Parse(b.Bytes(), quiet())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestParseModuleAndLines(t *testing.T) {
	b := tdstest.New()
	m := b.Module("main.c",
		tdstest.Segment{Segment: 1, Offset: 0x100, Length: 0x40},
		tdstest.Segment{Segment: 2, Offset: 0x10, Length: 0x8})
	m.Source("main.c", tdstest.Range{
		Segment: 1, Start: 0x100, End: 0x13f,
		Lines: []tdstest.Line{{Offset: 0x100, Line: 3}, {Offset: 0x108, Line: 4}},
	})
	m.Source("util.h", tdstest.Range{
		Segment: 1, Start: 0x120, End: 0x12f,
		Lines: []tdstest.Line{{Offset: 0x120, Line: 10}},
	})
	b.Module("crt.c")

	f := mustParse(t, b)
	if f.Signature != "FB0A" {
		t.Errorf("Signature = %q", f.Signature)
	}
	if len(f.Modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(f.Modules))
	}
	mod := f.Modules[0]
	if mod.Index != 1 || mod.Name != "main.c" || mod.Style != "CV" {
		t.Errorf("module = %+v", mod)
	}
	if len(mod.Segments) != 2 || mod.Segments[1] != (Segment{Segment: 2, Offset: 0x10, Length: 0x8}) {
		t.Errorf("segments = %+v", mod.Segments)
	}
	if mod.Sources == nil || len(mod.Sources.Files) != 2 {
		t.Fatalf("sources = %+v", mod.Sources)
	}
	if len(mod.Sources.Ranges) != 2 || mod.Sources.Ranges[1].Start != 0x120 || mod.Sources.Ranges[1].Segment != 1 {
		t.Errorf("ranges = %+v", mod.Sources.Ranges)
	}
	main := mod.Sources.Files[0]
	if main.Name != "main.c" || len(main.Ranges) != 1 {
		t.Fatalf("file = %+v", main)
	}
	want := []Line{{Offset: 0x100, Line: 3}, {Offset: 0x108, Line: 4}}
	got := main.Ranges[0].Lines
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("lines = %+v, want %+v", got, want)
	}
	if f.Modules[1].Name != "crt.c" || f.Modules[1].Sources != nil {
		t.Errorf("second module = %+v", f.Modules[1])
	}
}

func TestParseTypeGraph(t *testing.T) {
	b := tdstest.New()
	node := b.Name("Node")
	next := b.Name("next")
	value := b.Name("value")
	red := b.Name("Red")

	// Pointer to the struct defined after it.
	ptr := b.Type(uint16(KindPointer), uint16(PtrNear32), b.NextType()+4)
	args := b.Type(uint16(KindArgList), int16(1), int32(PrimInt32))
	proc := b.Type(uint16(KindProcedure), int32(PrimVoid), uint8(7), uint8(0), int16(1), args)
	fields := b.FieldList(
		tdstest.Member(uint16(KindMember), ptr, uint16(AccessPublic), next, int32(0), tdstest.Leaf(0)),
		tdstest.Member(uint16(KindMember), int32(PrimInt32), uint16(AccessPrivate), value, int32(0), tdstest.Leaf(4)),
	)
	st := b.Type(uint16(KindStruct), uint16(2), fields, uint16(0), int32(0), int32(0), int32(0), node, tdstest.Leaf(8))
	enumFields := b.FieldList(
		tdstest.Member(uint16(KindEnumerate), uint16(3), red, int32(0), tdstest.Leaf(-1)),
	)
	enum := b.Type(uint16(KindEnum), uint16(1), int32(PrimInt32), enumFields, int32(0), b.Name("@Color"))

	f := mustParse(t, b)
	if len(f.Types) != 7 {
		t.Fatalf("got %d types, want 7", len(f.Types))
	}

	p, ok := mustType(t, f, ptr).(*Pointer)
	if !ok {
		t.Fatalf("type %#x is %T", ptr, f.Types[0])
	}
	s, ok := p.Pointee.Type.(*Struct)
	if !ok || p.Pointee.ID != st {
		t.Fatalf("pointee = %+v", p.Pointee)
	}
	if s.Name != "Node" || s.Size != 8 || s.Count != 2 || s.IsClass {
		t.Errorf("struct = %+v", s)
	}
	fl := s.Members.Type.(*FieldList)
	if len(fl.Members) != 2 {
		t.Fatalf("members = %d", len(fl.Members))
	}
	nm := fl.Members[0].(*DataMember)
	if nm.Name != "next" || nm.Type.Type != Type(p) || nm.Attr.Access != AccessPublic {
		t.Errorf("next member = %+v", nm)
	}
	vm := fl.Members[1].(*DataMember)
	if vm.Offset != 4 || vm.Type.ID != PrimInt32 {
		t.Errorf("value member = %+v", vm)
	}
	if prim, ok := vm.Type.Type.(*Primitive); !ok || prim.ID != PrimInt32 {
		t.Errorf("value type = %#v", vm.Type.Type)
	}

	pr := mustType(t, f, proc).(*Procedure)
	if pr.Return.Type.(*Primitive).ID != PrimVoid || pr.NumArgs != 1 || pr.CallConv.Kind != 7 {
		t.Errorf("procedure = %+v", pr)
	}
	al := pr.Args.Type.(*ArgList)
	if len(al.Args) != 1 || al.Args[0].Type.(*Primitive).ID != PrimInt32 {
		t.Errorf("arglist = %+v", al)
	}

	e := mustType(t, f, enum).(*Enum)
	if e.Name != "Color" {
		t.Errorf("enum name = %q", e.Name)
	}
	en := e.Values.Type.(*FieldList).Members[0].(*Enumerate)
	if en.Name != "Red" || en.Value != -1 || en.Attr != 3 {
		t.Errorf("enumerate = %+v", en)
	}
}

func mustType(t *testing.T, f *File, id int32) Type {
	t.Helper()
	typ, err := f.Type(id)
	if err != nil {
		t.Fatalf("Type(%#x): %v", id, err)
	}
	return typ
}

func TestPrimitivesAreShared(t *testing.T) {
	b := tdstest.New()
	b.Type(uint16(KindModifier), uint16(ModConst), int32(PrimInt32))
	b.Type(uint16(KindModifier), uint16(ModVolatile), int32(PrimInt32))
	f := mustParse(t, b)
	a := f.Types[0].(*Modifier).Type.Type
	c := f.Types[1].(*Modifier).Type.Type
	if a == nil || a != c {
		t.Fatalf("primitive nodes differ: %p %p", a, c)
	}
}

func TestMethodsAndOverloads(t *testing.T) {
	b := tdstest.New()
	mf := b.Type(uint16(KindMFunction), int32(PrimVoid), int32(0), int32(0), uint8(0), uint8(0), int16(0), int32(0), int32(0))
	virt := uint16(AccessPublic) | uint16(PropIntroVirtual)<<2
	mlist := b.Type(uint16(KindMList),
		virt, mf, int32(0), int32(8),
		uint16(AccessPublic), mf, int32(0))
	b.FieldList(tdstest.Member(uint16(KindMethods), int16(2), mlist, b.Name("@Foo@draw$qv")))

	f := mustParse(t, b)
	ml := f.Types[1].(*MList)
	if len(ml.Methods) != 2 {
		t.Fatalf("got %d methods", len(ml.Methods))
	}
	if ml.Methods[0].VtabOffset != 8 || ml.Methods[0].Attr.Prop != PropIntroVirtual {
		t.Errorf("first = %+v", ml.Methods[0])
	}
	for i, m := range ml.Methods {
		if m.Type.Type != f.Types[0] {
			t.Errorf("method %d type not resolved", i)
		}
	}
	ms := f.Types[2].(*FieldList).Members[0].(*Methods)
	if ms.Name != "Foo::draw" || ms.Count != 2 || ms.List.Type != Type(ml) {
		t.Errorf("methods = %+v", ms)
	}
}

func TestScopeResolution(t *testing.T) {
	b := tdstest.New()
	m := b.Module("m.c", tdstest.Segment{Segment: 1, Length: 0x100})
	proc := m.Symbol(uint16(SymGProc32),
		int32(0), int32(0), int32(0), int32(0x20), int32(3), int32(0x1c), int32(0x40),
		int16(1), int16(0), int32(0), b.Name("@f$qv"), int32(0))
	block := m.Symbol(uint16(SymBlock32), proc, int32(0), int32(0x10), int32(0x44), int16(1), int32(0))
	blockEnd := m.Symbol(uint16(SymEnd))
	procEnd := m.Symbol(uint16(SymEnd))
	m.Link(proc, 4, procEnd)
	m.Link(block, 4, blockEnd)

	f := mustParse(t, b)
	syms := f.Modules[0].Symbols
	if len(syms) != 4 {
		t.Fatalf("got %d symbols", len(syms))
	}
	p := syms[0].(*Proc32)
	if !p.Global || p.Name != "f" || p.Offset != 0x40 {
		t.Errorf("proc = %+v", p)
	}
	if p.End != syms[3] || p.Parent != nil || p.Next != nil {
		t.Errorf("proc links = %+v", p.Scope)
	}
	bl := syms[1].(*Block32)
	if bl.Parent != Symbol(p) || bl.End != syms[2] {
		t.Errorf("block links = %+v", bl.Scope)
	}
}

func TestUnresolvedScope(t *testing.T) {
	b := tdstest.New()
	m := b.Module("m.c")
	m.Symbol(uint16(SymBlock32), int32(0), int32(0x999), int32(0), int32(0), int16(1), int32(0))
	_, err := Parse(b.Bytes(), quiet())
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *tdstest.Builder)
		want  error
	}{
		{"forward type reference past table", func(b *tdstest.Builder) {
			b.Type(uint16(KindModifier), uint16(ModConst), int32(0x1005))
		}, ErrUnresolved},
		{"unknown type kind", func(b *tdstest.Builder) {
			b.Type(0x77, int32(0))
		}, ErrUnknownKind},
		{"unknown member kind", func(b *tdstest.Builder) {
			b.FieldList(tdstest.Member(0x4ff, int32(0)))
		}, ErrUnknownKind},
		{"pointer mode", func(b *tdstest.Builder) {
			b.Type(uint16(KindPointer), uint16(PtrNear32)|5<<5, int32(PrimInt32))
		}, ErrMalformed},
		{"modifier bits", func(b *tdstest.Builder) {
			b.Type(uint16(KindModifier), uint16(0x10), int32(PrimInt32))
		}, ErrMalformed},
		{"calling convention", func(b *tdstest.Builder) {
			b.Type(uint16(KindProcedure), int32(PrimVoid), uint8(6), uint8(0), int16(0), int32(0))
		}, ErrMalformed},
		{"vtable descriptor", func(b *tdstest.Builder) {
			b.Type(uint16(KindVtabShape), int16(1), uint8(7))
		}, ErrMalformed},
		{"unknown symbol", func(b *tdstest.Builder) {
			b.Module("m.c").Symbol(0x7777)
		}, ErrUnknownKind},
		{"virtual call thunk", func(b *tdstest.Builder) {
			b.Module("m.c").Symbol(uint16(SymThunk32), int32(0), int32(0), int32(0), int32(0), int16(1), int16(5), uint8(ThunkVCall), int32(0))
		}, ErrMalformed},
		{"symbol overruns its length", func(b *tdstest.Builder) {
			m := b.Module("m.c")
			at := m.Symbol(uint16(SymGData32), int32(0x10), int16(2), int16(0), int32(PrimInt32), b.Name("counter"), int32(0x00060002))
			m.Resize(at, 18)
		}, ErrMalformed},
		{"symbol table overruns its subsection", func(b *tdstest.Builder) {
			m := b.Module("m.c")
			m.Symbol(uint16(SymGData32), int32(0x10), int16(2), int16(0), int32(PrimInt32), b.Name("counter"), int32(0))
			m.Resize(m.Symbol(uint16(SymEnd)), 6)
		}, ErrMalformed},
		{"with scope parent", func(b *tdstest.Builder) {
			b.Module("m.p").Symbol(uint16(SymWith32), int32(0x999), int32(4), int32(0), int16(1), int16(0), int32(PrimInt32), int32(0), int32(-8))
		}, ErrUnresolved},
		{"name id out of range", func(b *tdstest.Builder) {
			b.Type(uint16(KindLongString), int32(42))
		}, ErrMalformed},
		{"truncated record", func(b *tdstest.Builder) {
			b.Type(uint16(KindArray), int32(PrimInt32))
		}, ErrMalformed},
	}
	for _, tt := range tests {
		b := tdstest.New()
		tt.build(b)
		_, err := Parse(b.Bytes(), quiet())
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestBadDirectory(t *testing.T) {
	data := tdstest.New().Bytes()
	data[4] = 0xff
	data[5] = 0xff
	if _, err := Parse(data, quiet()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestCodePage(t *testing.T) {
	b := tdstest.New()
	b.Type(uint16(KindLongString), b.Name("caf\xe9"))
	data := b.Bytes()

	f, err := Parse(data, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Types[0].(*LongString).Name; got != "café" {
		t.Errorf("windows-1252 name = %q", got)
	}

	enc, err := LookupCodePage("windows-1251")
	if err != nil {
		t.Fatal(err)
	}
	opts := quiet()
	opts.Encoding = enc
	f, err = Parse(data, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Types[0].(*LongString).Name; got != "cafй" {
		t.Errorf("windows-1251 name = %q", got)
	}

	if _, err := LookupCodePage("no-such-charset"); err == nil {
		t.Error("LookupCodePage accepted an unknown charset")
	}
}

func TestGlobals(t *testing.T) {
	b := tdstest.New()
	b.Global(uint16(SymGProcRef), int32(0), int32(0), b.Name("@Foo@bar$qv"), int32(0), int32(0x40), int16(1), int32(0))
	b.Global(uint16(SymGProcRef), int32(0), int32(0), b.Name("@$xt$3Foo"), int32(0), int32(0x80), int16(2), int32(0))
	b.Global(uint16(SymGData32), int32(0x10), int16(2), int16(0), int32(PrimInt32), b.Name("_counter"), int32(0))

	f := mustParse(t, b)
	if len(f.Globals) != 3 {
		t.Fatalf("got %d globals", len(f.Globals))
	}
	if got := f.Globals[0].(*GProcRef); got.Name != "Foo::bar" || got.Offset != 0x40 || got.Segment != 1 {
		t.Errorf("procref = %+v", got)
	}
	if got := f.Globals[1].(*GProcRef).Name; got != "@$xt$3Foo" {
		t.Errorf("RTTI name = %q", got)
	}
	d := f.Globals[2].(*Data32)
	if !d.Global || d.Name != "_counter" || d.Segment != 2 {
		t.Errorf("data = %+v", d)
	}
	if f.GlobalsHeader.SymbolSize == 0 {
		t.Error("globals header not read")
	}
}

func TestCompileSymbol(t *testing.T) {
	b := tdstest.New()
	flags := uint16(1 | 2<<1 | 1<<11 | 1<<12)
	name := "BCC32"
	b.Module("m.c").Symbol(uint16(SymCompile), uint8(3), uint8(1), flags, uint8(len(name)), tdstest.Raw(name))
	f := mustParse(t, b)
	c := f.Modules[0].Symbols[0].(*Compile)
	if c.Compiler != name || !c.PCode || c.FPUPrecision != 2 || !c.Mode32 || !c.CharSigned || c.Machine != 3 {
		t.Errorf("compile = %+v", c)
	}
}
