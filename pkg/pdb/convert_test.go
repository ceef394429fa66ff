package pdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jtang613/tds2pdb/pkg/pdb/msf"
	"github.com/jtang613/tds2pdb/pkg/pdb/streams"
	"github.com/jtang613/tds2pdb/pkg/tds"
	"github.com/jtang613/tds2pdb/pkg/tds/tdstest"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fixture is one module with a global int and a procedure void f(int),
// an empty module, and a global table referencing both symbols.
func fixture(t *testing.T) *tds.File {
	t.Helper()
	b := tdstest.New()
	args := b.Type(uint16(tds.KindArgList), int16(1), int32(tds.PrimInt32))
	proc := b.Type(uint16(tds.KindProcedure), int32(tds.PrimVoid), uint8(0), uint8(0), int16(1), args)

	m := b.Module("main.c", tdstest.Segment{Segment: 1, Offset: 0, Length: 0x100})
	m.Source("main.c", tdstest.Range{
		Segment: 1, Start: 0x40, End: 0x5f,
		Lines: []tdstest.Line{{Offset: 0x40, Line: 3}, {Offset: 0x48, Line: 4}},
	})
	m.Symbol(uint16(tds.SymGData32), int32(0x10), int16(2), int16(0), int32(tds.PrimInt32), b.Name("counter"), int32(0))
	p := m.Symbol(uint16(tds.SymGProc32),
		int32(0), int32(0), int32(0), int32(0x20), int32(3), int32(0x1c), int32(0x40),
		int16(1), int16(0), proc, b.Name("@f$qi"), int32(0))
	end := m.Symbol(uint16(tds.SymEnd))
	m.Link(p, 4, end)

	b.Module("empty.c")

	b.Global(uint16(tds.SymGProcRef), int32(0), int32(0), b.Name("@f$qi"), int32(0), int32(0x40), int16(1), int32(0))
	b.Global(uint16(tds.SymGProcRef), int32(0), int32(0), b.Name("@g$qv"), int32(0), int32(0x80), int16(1), int32(0))
	b.Global(uint16(tds.SymGData32), int32(0x10), int16(2), int16(0), int32(tds.PrimInt32), b.Name("counter"), int32(0))

	f, err := tds.Parse(b.Bytes(), tds.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func testOptions() Options {
	return Options{
		Timestamp: 0x5f000000,
		GUID:      [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Age:       1,
		Logger:    quiet,
	}
}

func convert(t *testing.T, f *tds.File, opts Options) ([]byte, *Stats) {
	t.Helper()
	var buf bytes.Buffer
	stats, err := Convert(context.Background(), f, &buf, opts)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	return buf.Bytes(), stats
}

func TestConvertEndToEnd(t *testing.T) {
	data, stats := convert(t, fixture(t), testOptions())
	if stats.Modules != 2 || stats.ModuleStreams != 1 || stats.Types != 2 {
		t.Errorf("stats = %+v", stats)
	}

	m, err := msf.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	sb := m.SuperBlock()
	if sb.FileSize() != int64(len(data)) || sb.BlockSize != msf.DefaultPageSize {
		t.Errorf("header declares %d pages of %d, file is %d bytes", sb.NumBlocks, sb.BlockSize, len(data))
	}
	if m.NumStreams() != streams.StreamFirstModule+1 {
		t.Errorf("streams = %d", m.NumStreams())
	}

	p, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	info := p.Info()
	if info.Age != 1 || info.Signature != 0x5f000000 || info.GUID != "0403020106050807090A0B0C0D0E0F10" || info.Machine != "x86" {
		t.Errorf("info = %+v", info)
	}

	// int and void stay primitive; only the signature and its argument
	// list get records.
	if p.TypeCount() != 2 {
		t.Fatalf("types = %d, want 2", p.TypeCount())
	}
	if ti := p.ResolveType(0x1001); ti == nil || ti.Kind != "LF_PROCEDURE" || ti.Signature != "void (int)" {
		t.Errorf("type 0x1001 = %+v", ti)
	}

	mods := p.Modules()
	if len(mods) != 2 {
		t.Fatalf("modules = %+v", mods)
	}
	if mods[0].Name != "main.c" || mods[0].SymbolStream != streams.StreamFirstModule || mods[0].LineSize == 0 {
		t.Errorf("module 1 = %+v", mods[0])
	}
	if len(mods[0].SourceFiles) != 1 || mods[0].SourceFiles[0] != "main.c" {
		t.Errorf("source files = %q", mods[0].SourceFiles)
	}
	if mods[1].SymbolStream != streams.NoStream || mods[1].SymbolSize != 0 {
		t.Errorf("module 2 = %+v", mods[1])
	}

	syms, err := p.Symbols(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 3 {
		t.Fatalf("symbols = %+v", syms)
	}
	want := []struct {
		kind string
		name string
	}{
		{"S_GDATA32", "counter"},
		{"S_GPROC32", "f"},
		{"S_END", ""},
	}
	for i, w := range want {
		if syms[i].Kind != w.kind || syms[i].Name != w.name {
			t.Errorf("symbol %d = %+v, want %s %q", i, syms[i], w.kind, w.name)
		}
	}
	if syms[0].Segment != 2 || syms[0].Address != 0x10 || syms[0].TypeName != "int" {
		t.Errorf("data symbol = %+v", syms[0])
	}
	if syms[1].Segment != 1 || syms[1].Address != 0x40 || syms[1].TypeIndex != 0x1001 || syms[1].Length != 0x20 {
		t.Errorf("procedure symbol = %+v", syms[1])
	}

	// Globals are off by default: both global streams exist but are empty.
	for _, s := range []int{streams.StreamGlobals, streams.StreamSymbols} {
		if b, err := p.Stream(s); err != nil || len(b) != 0 {
			t.Errorf("stream %d = %d bytes, %v", s, len(b), err)
		}
	}
}

func TestConvertGlobals(t *testing.T) {
	opts := testOptions()
	opts.Globals = true
	data, stats := convert(t, fixture(t), opts)
	if stats.Globals != 2 || stats.SkippedProcRefs != 1 {
		t.Errorf("stats = %+v", stats)
	}

	p, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	syms, err := p.Symbols(1)
	if err != nil {
		t.Fatal(err)
	}
	globals, err := p.Globals()
	if err != nil {
		t.Fatal(err)
	}
	if len(globals) != 2 {
		t.Fatalf("globals = %+v", globals)
	}
	ref := globals[0]
	if ref.Kind != "S_PROCREF" || ref.Name != "f" || ref.Module != "main.c" || ref.Address != syms[1].Offset {
		t.Errorf("procedure reference = %+v, procedure at %#x", ref, syms[1].Offset)
	}
	if globals[1].Kind != "S_GDATA32" || globals[1].Name != "counter" {
		t.Errorf("global data = %+v", globals[1])
	}

	offsets, err := p.GlobalsHash()
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[uint32]bool)
	for _, off := range offsets {
		seen[off] = true
	}
	if len(offsets) != 2 || !seen[globals[0].Offset] || !seen[globals[1].Offset] {
		t.Errorf("hash index lists %#x, records at %#x and %#x", offsets, globals[0].Offset, globals[1].Offset)
	}

	vars, err := p.Variables()
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 2 || vars[0].Module != "" || vars[1].Module != "main.c" {
		t.Errorf("variables = %+v", vars)
	}
}

func TestConvertIsDeterministic(t *testing.T) {
	f := fixture(t)
	first, _ := convert(t, f, testOptions())

	opts := testOptions()
	opts.Jobs = 4
	second, _ := convert(t, fixture(t), opts)
	if !bytes.Equal(first, second) {
		t.Error("conversions of the same input differ")
	}
}

func TestConvertPageSizes(t *testing.T) {
	for _, size := range msf.ValidBlockSizes {
		opts := testOptions()
		opts.PageSize = size
		data, _ := convert(t, fixture(t), opts)
		if len(data)%int(size) != 0 {
			t.Errorf("page size %d: file is %d bytes", size, len(data))
		}
		p, err := NewReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("page size %d: %v", size, err)
		}
		if p.Info().PageSize != size {
			t.Errorf("page size = %d, want %d", p.Info().PageSize, size)
		}
	}
}

func TestConvertCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	_, err := Convert(ctx, fixture(t), &buf, testOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes written after failure", buf.Len())
	}
}

func TestFunctions(t *testing.T) {
	data, _ := convert(t, fixture(t), testOptions())
	p, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	fns, err := p.Functions()
	if err != nil {
		t.Fatal(err)
	}
	if len(fns) != 1 {
		t.Fatalf("functions = %+v", fns)
	}
	fn := fns[0]
	if fn.Name != "f" || !fn.IsGlobal || fn.Signature != "void (int)" || fn.Module != "main.c" {
		t.Errorf("function = %+v", fn)
	}
}
