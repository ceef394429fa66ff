package streams

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name string
		mod  uint32
		want uint32
	}{
		{"", 0x8003, 0x432e},
		{"S", 0x8003, 0x4381},
		{"abc", 0x8003, 0x535},
		{"main", 0x8003, 0x2bd9},
		{"abcdefg", 0x8003, 0x71da},
		{"main", 0x1000, 0x225},
		{"abcdefg", 0x1000, 0xc68},
	}
	for _, tt := range tests {
		if got := Hash(tt.name, tt.mod); got != tt.want {
			t.Errorf("Hash(%q, %#x) = %#x, want %#x", tt.name, tt.mod, got, tt.want)
		}
	}
}

func TestSig(t *testing.T) {
	if got := Sig([]byte("123456789"), 0); got != 0x2dfd2d88 {
		t.Errorf("Sig = %#x", got)
	}
	if got := Sig(nil, 7); got != 7 {
		t.Errorf("Sig of nothing = %#x, want the seed", got)
	}
}

func TestInfoRoundTrip(t *testing.T) {
	guid := [16]byte{0x78, 0x56, 0x34, 0x12, 0xbc, 0x9a, 0xf0, 0xde, 1, 2, 3, 4, 5, 6, 7, 8}
	data := WriteInfo(0x5f000000, 3, guid)
	info, err := ReadInfo(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != PDBStreamVersionVC70 || info.Signature != 0x5f000000 || info.Age != 3 {
		t.Errorf("info = %+v", info)
	}
	if got := info.GUIDString(); got != "123456789ABCDEF00102030405060708" {
		t.Errorf("GUIDString = %s", got)
	}
	if len(info.NamedStreams) != 0 {
		t.Errorf("named streams = %v", info.NamedStreams)
	}
}

func record(kind uint16, body ...byte) []byte {
	w := codeview.NewWriter()
	start := w.Begin(kind)
	w.Raw(body)
	if err := w.EndType(start); err != nil {
		panic(err)
	}
	return w.Bytes()
}

func TestWriteTPI(t *testing.T) {
	named := record(codeview.LF_STRUCTURE, 'S', 0)
	anon := record(codeview.LF_ARGLIST, 0, 0, 0, 0)
	tpi, hash, err := WriteTPI([]TypeHashInput{
		{Record: named, Name: "S", Named: true},
		{Record: anon},
	})
	if err != nil {
		t.Fatal(err)
	}

	s, err := ReadTPIStream(tpi)
	if err != nil {
		t.Fatal(err)
	}
	h := s.Header
	if h.TypeIndexBegin != 0x1000 || h.TypeIndexEnd != 0x1002 || h.HashStreamIndex != StreamTPIHash {
		t.Errorf("header = %+v", h)
	}
	if int(h.TypeRecordBytes) != len(named)+len(anon) || h.NumHashBuckets != TPIHashBuckets {
		t.Errorf("header = %+v", h)
	}
	if s.NumTypes() != 2 || s.GetType(0x1001).Kind != codeview.LF_ARGLIST {
		t.Errorf("records = %+v", s.TypeRecords)
	}

	vals, err := ReadTPIHash(hash, h)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{Hash("S", TPIHashBuckets), Sig(anon, 0) % TPIHashBuckets}
	if len(vals) != 2 || vals[0] != want[0] || vals[1] != want[1] {
		t.Errorf("hashes = %#x, want %#x", vals, want)
	}
	if tail := hash[8:]; binary.LittleEndian.Uint32(tail) != 0x1000 || binary.LittleEndian.Uint32(tail[4:]) != 0 {
		t.Errorf("index offsets = % x", tail)
	}
}

func TestWriteDBI(t *testing.T) {
	mods := []DBIModule{
		{
			Name:     "b.c",
			Stream:   7,
			SymBytes: 24,
			Lines:    40,
			Segments: []tds.Segment{{Segment: 1, Offset: 0x100, Length: 0x80}},
			Files:    []string{"b.c", "b.h"},
		},
		{Name: "empty.c", Stream: NoStream},
		{
			Name:     "a.c",
			Stream:   8,
			SymBytes: 4,
			Segments: []tds.Segment{
				{Segment: 1, Offset: 0, Length: 0x100},
				{Segment: 3, Offset: 0x10, Length: 0x10},
			},
			Files: []string{"a.c"},
		},
	}
	data, err := WriteDBI(2, MachineI386, mods)
	if err != nil {
		t.Fatal(err)
	}
	dbi, err := ReadDBIStream(data)
	if err != nil {
		t.Fatal(err)
	}
	if dbi.Header.Age != 2 || dbi.Header.Machine != MachineI386 || dbi.Header.SymRecordStream != StreamSymbols {
		t.Errorf("header = %+v", dbi.Header)
	}
	if dbi.Header.ModInfoSize%4 != 0 {
		t.Errorf("module info is %d bytes", dbi.Header.ModInfoSize)
	}

	if len(dbi.Modules) != 3 {
		t.Fatalf("modules = %d", len(dbi.Modules))
	}
	b, empty, a := dbi.Modules[0], dbi.Modules[1], dbi.Modules[2]
	if b.ModuleName != "b.c" || b.ObjFileName != "b.c" || b.ModuleSymStream != 7 || b.SymByteSize != 24 || b.C11ByteSize != 40 {
		t.Errorf("module b = %+v", b)
	}
	if b.SectionContrib.Section != 1 || b.SectionContrib.Offset != 0x100 || b.SectionContrib.Size != 0x80 {
		t.Errorf("module b contribution = %+v", b.SectionContrib)
	}
	if empty.HasSymbols() || empty.SectionContrib.Section != 0 {
		t.Errorf("empty module = %+v", empty)
	}
	if len(b.SourceFiles) != 2 || b.SourceFiles[1] != "b.h" || len(a.SourceFiles) != 1 || a.SourceFiles[0] != "a.c" {
		t.Errorf("files = %v, %v, %v", b.SourceFiles, empty.SourceFiles, a.SourceFiles)
	}

	var got [][3]int
	for _, sc := range dbi.SectionContribs {
		got = append(got, [3]int{int(sc.Section), int(sc.Offset), int(sc.ModuleIndex)})
	}
	want := [][3]int{{1, 0, 2}, {1, 0x100, 0}, {3, 0x10, 2}}
	if len(got) != len(want) {
		t.Fatalf("contributions = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("contribution %d = %v, want %v", i, got[i], want[i])
		}
	}

	ends := []uint32{0x180, 0xffffffff, 0x20, 0xffffffff}
	if len(dbi.Sections) != len(ends) {
		t.Fatalf("section map = %+v", dbi.Sections)
	}
	for i, e := range ends {
		if dbi.Sections[i].SectionLength != e {
			t.Errorf("section %d ends at %#x, want %#x", i, dbi.Sections[i].SectionLength, e)
		}
	}
	if dbi.Sections[0].Frame != 1 || dbi.Sections[3].Frame != 0 {
		t.Errorf("frames = %d, %d", dbi.Sections[0].Frame, dbi.Sections[3].Frame)
	}
}

func TestWriteDBIRejectsSegmentZero(t *testing.T) {
	_, err := WriteDBI(1, MachineI386, []DBIModule{{Name: "m", Segments: []tds.Segment{{Segment: 0}}}})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestWriteModuleLines(t *testing.T) {
	syms := []byte{4, 0, 0, 0}
	src := &tds.Sources{
		Ranges: []tds.LineRange{{Segment: 1, Start: 0x10, End: 0x2f}},
		Files: []tds.SourceFile{{
			Name: "ab.c",
			Ranges: []tds.LineRange{{
				Segment: 1, Start: 0x10, End: 0x2f,
				Lines: []tds.Line{{Offset: 0x10, Line: 3}, {Offset: 0x18, Line: 4}, {Offset: 0x20, Line: 7}},
			}},
		}},
	}
	ms, err := WriteModule(syms, src)
	if err != nil {
		t.Fatal(err)
	}
	if ms.SymBytes != 4 || int(ms.Lines) != len(ms.Data)-4 {
		t.Errorf("sizes = %d, %d of %d", ms.SymBytes, ms.Lines, len(ms.Data))
	}
	lines := ms.Data[4:]
	u16 := func(off int) int { return int(binary.LittleEndian.Uint16(lines[off:])) }
	u32 := func(off int) int { return int(binary.LittleEndian.Uint32(lines[off:])) }

	// 2 counts, 1 file offset, 1 range, 1 segment and its pad.
	if u16(0) != 1 || u16(2) != 1 || u32(4) != 20 {
		t.Fatalf("header = % x", lines[:20])
	}
	file := 20
	if u16(file) != 1 || u32(file+4) != 44 {
		t.Fatalf("file = % x", lines[file:])
	}
	if name := lines[file+16 : file+21]; string(name) != "ab.c\x00" {
		t.Errorf("name = %q", name)
	}
	rng := 44
	if u16(rng) != 1 || u16(rng+2) != 3 || u32(rng+4+8) != 0x20 || u16(rng+16+4) != 7 {
		t.Errorf("range = % x", lines[rng:])
	}
	if len(lines) != rng+4+12+8 {
		t.Errorf("line block is %d bytes", len(lines))
	}
}

func TestWriteModuleWithoutSources(t *testing.T) {
	ms, err := WriteModule([]byte{4, 0, 0, 0, 2, 0, 6, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ms.SymBytes != 8 || ms.Lines != 0 || len(ms.Data) != 8 {
		t.Errorf("stream = %+v", ms)
	}
}

func TestGlobalsHash(t *testing.T) {
	entries := []GlobalEntry{{"main", 0}, {"g_count", 28}, {"main", 60}}
	data, err := WriteGlobalsHash(entries)
	if err != nil {
		t.Fatal(err)
	}
	occupied := 2
	if Hash("main", GlobalsHashBuckets) == Hash("g_count", GlobalsHashBuckets) {
		occupied = 1
	}
	if n := binary.LittleEndian.Uint32(data[12:]); n != uint32(0x204+4*occupied) {
		t.Errorf("bucket table size = %#x", n)
	}
	if len(data) != 16+8*len(entries)+0x204+4*occupied {
		t.Errorf("index is %d bytes", len(data))
	}

	offsets, err := ReadGlobalsHash(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(offsets) != 3 {
		t.Fatalf("offsets = %v", offsets)
	}
	var mains []uint32
	for _, off := range offsets {
		if off != 28 {
			mains = append(mains, off)
		}
	}
	if len(mains) != 2 || mains[0] != 0 || mains[1] != 60 {
		t.Errorf("bucket order = %v", offsets)
	}

	bitmap := data[16+8*len(entries):]
	b := Hash("main", GlobalsHashBuckets)
	if word := binary.LittleEndian.Uint32(bitmap[4*(b/32):]); word&(1<<(b%32)) == 0 {
		t.Errorf("bucket %#x not marked", b)
	}
}
