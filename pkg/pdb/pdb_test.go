package pdb

import (
	"bytes"
	"testing"

	"github.com/jtang613/tds2pdb/pkg/tds"
	"github.com/jtang613/tds2pdb/pkg/tds/tdstest"
)

func TestTypes(t *testing.T) {
	b := tdstest.New()
	node := b.Name("Node")
	ptr := b.Type(uint16(tds.KindPointer), uint16(tds.PtrNear32), b.NextType()+2)
	fields := b.FieldList(
		tdstest.Member(uint16(tds.KindMember), ptr, uint16(tds.AccessPublic), b.Name("next"), int32(0), tdstest.Leaf(0)),
		tdstest.Member(uint16(tds.KindMember), int32(tds.PrimInt32), uint16(tds.AccessPublic), b.Name("value"), int32(0), tdstest.Leaf(4)),
	)
	st := b.Type(uint16(tds.KindStruct), uint16(2), fields, uint16(0), int32(0), int32(0), int32(0), node, tdstest.Leaf(8))
	b.Module("list.c").Symbol(uint16(tds.SymUDT), st, int16(0), node, int32(0))

	f, err := tds.Parse(b.Bytes(), tds.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := convert(t, f, testOptions())
	p, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	types := p.Types()
	if len(types) != 1 {
		t.Fatalf("types = %+v", types)
	}
	ti := types[0]
	if ti.Name != "Node" || ti.Kind != "struct" || ti.Size != 8 {
		t.Errorf("type = %+v", ti)
	}
	want := []Member{
		{Kind: "member", Name: "next", TypeName: "Node*", Offset: 0},
		{Kind: "member", Name: "value", TypeName: "int", Offset: 4},
	}
	if len(ti.Members) != len(want) {
		t.Fatalf("members = %+v", ti.Members)
	}
	for i := range want {
		if ti.Members[i] != want[i] {
			t.Errorf("member %d = %+v, want %+v", i, ti.Members[i], want[i])
		}
	}

	syms, err := p.Symbols(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 1 || syms[0].Kind != "S_UDT" || syms[0].Name != "Node" || syms[0].TypeName != "Node" {
		t.Errorf("symbols = %+v", syms)
	}
}

func TestSymbolsRange(t *testing.T) {
	data, _ := convert(t, fixture(t), testOptions())
	p, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 3} {
		if _, err := p.Symbols(n); err == nil {
			t.Errorf("Symbols(%d) succeeded", n)
		}
	}
	if syms, err := p.Symbols(2); err != nil || len(syms) != 0 {
		t.Errorf("Symbols(2) = %+v, %v", syms, err)
	}
}

func TestTypeNames(t *testing.T) {
	r := &typeNamer{}
	tests := []struct {
		index uint32
		want  string
	}{
		{0x0074, "int"},
		{0x0403, "void*"},
		{0x0470, "char*"},
		{0x1234, "type_0x1234"},
	}
	for _, tt := range tests {
		if got := r.Name(tt.index); got != tt.want {
			t.Errorf("Name(%#x) = %q, want %q", tt.index, got, tt.want)
		}
	}
}
