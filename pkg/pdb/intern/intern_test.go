package intern

import (
	"errors"
	"testing"

	"github.com/jtang613/tds2pdb/pkg/tds"
)

func ref(t tds.Type) tds.TypeRef { return tds.TypeRef{ID: 1, Type: t} }

var intType = &tds.Primitive{ID: tds.PrimInt32}

func TestPostOrder(t *testing.T) {
	fields := &tds.FieldList{Members: []tds.Member{
		&tds.DataMember{Type: ref(intType), Name: "x"},
	}}
	s := &tds.Struct{Count: 1, Members: ref(fields), Name: "S", Size: 4}
	ptr := &tds.Pointer{Kind: tds.PtrNear32, Pointee: ref(s)}

	tab := New(nil)
	if err := tab.AddSymbols([]tds.Symbol{
		&tds.Data32{Global: true, Type: ref(ptr), Name: "p"},
		&tds.UDT{Type: ref(s), Name: "S"},
	}); err != nil {
		t.Fatal(err)
	}

	want := []tds.Type{fields, s, ptr}
	got := tab.Types()
	if len(got) != len(want) {
		t.Fatalf("got %d types, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("type %d = %T, want %T", i, got[i], want[i])
		}
	}
	if id := tab.ID(ptr); id != 0x1002 {
		t.Errorf("ID(ptr) = %#x", id)
	}
	if id := tab.ID(intType); id != tds.PrimInt32 {
		t.Errorf("ID(int) = %#x", id)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	mod := &tds.Modifier{Attrs: tds.ModConst, Type: ref(intType)}
	tab := New(nil)
	for range 3 {
		if err := tab.Add(mod); err != nil {
			t.Fatal(err)
		}
	}
	if tab.Len() != 1 {
		t.Errorf("Len = %d, want 1", tab.Len())
	}
}

func TestSelfReference(t *testing.T) {
	// struct node { node* next; }
	s := &tds.Struct{Name: "node", Size: 4}
	ptr := &tds.Pointer{Kind: tds.PtrNear32, Pointee: ref(s)}
	s.Members = ref(&tds.FieldList{Members: []tds.Member{
		&tds.DataMember{Type: ref(ptr), Name: "next"},
	}})

	tab := New(nil)
	if err := tab.Add(s); err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tab.Len())
	}
	if _, ok := tab.Lookup(s); !ok {
		t.Error("struct not interned")
	}
	if tab.ID(ptr) >= tab.ID(s) {
		t.Errorf("pointer %#x should precede struct %#x", tab.ID(ptr), tab.ID(s))
	}
}

func TestSubstitutes(t *testing.T) {
	sub := &tds.Subrange{Base: ref(intType), Low: 1, High: 9, Size: 4}
	tab := New(nil)
	tests := []struct {
		typ  tds.Type
		want uint32
	}{
		{nil, 0},
		{sub, tds.PrimInt32},
		{&tds.LongString{}, 0x470},
		{&tds.ClassRef{}, 0x403},
		{&tds.ShortString{}, 0},
		{&tds.Variant{}, 0},
		{&tds.Label{}, 0},
		{&tds.Opaque{}, 0},
		{&tds.Struct{Name: "never added"}, 0},
	}
	for _, tt := range tests {
		if got := tab.ID(tt.typ); got != tt.want {
			t.Errorf("ID(%T) = %#x, want %#x", tt.typ, got, tt.want)
		}
	}
}

func TestClosuresShareShape(t *testing.T) {
	args := &tds.ArgList{Args: []tds.TypeRef{ref(intType)}}
	c1 := &tds.Closure{Return: ref(intType), NumArgs: 1, Args: ref(args)}
	c2 := &tds.Closure{Return: ref(intType), NumArgs: 1, Args: ref(args)}
	c3 := &tds.Closure{NumArgs: 0}

	tab := New(nil)
	for _, c := range []tds.Type{c1, c2, c3} {
		if err := tab.Add(c); err != nil {
			t.Fatal(err)
		}
	}
	if tab.ID(c1) != tab.ID(c2) {
		t.Errorf("closures of one shape got %#x and %#x", tab.ID(c1), tab.ID(c2))
	}
	if tab.ID(c1) == tab.ID(c3) {
		t.Error("closures of different shapes share a struct")
	}

	var names []string
	for _, typ := range tab.Types() {
		if s, ok := typ.(*tds.Struct); ok {
			names = append(names, s.Name)
			if s.Size != 8 {
				t.Errorf("%s size = %d", s.Name, s.Size)
			}
		}
	}
	if len(names) != 2 || names[0] != "__closure0" || names[1] != "__closure1" {
		t.Errorf("closure structs = %v", names)
	}
}

func TestFieldListNormalization(t *testing.T) {
	fn := &tds.MFunction{Return: ref(intType)}
	single := &tds.MList{Methods: []tds.MethodEntry{{Type: ref(fn), Attr: tds.MemberAttr{Access: tds.AccessPublic}}}}
	pair := &tds.MList{Methods: []tds.MethodEntry{{Type: ref(fn)}, {Type: ref(fn)}}}
	fields := &tds.FieldList{Members: []tds.Member{
		&tds.DataMember{Type: ref(&tds.Property{Type: ref(intType)}), Name: "Prop"},
		&tds.Methods{Count: 1, List: ref(single), Name: "get"},
		&tds.Methods{Count: 2, List: ref(pair), Name: "set"},
		&tds.DataMember{Type: ref(intType), Name: "value"},
	}}

	tab := New(nil)
	if err := tab.Add(fields); err != nil {
		t.Fatal(err)
	}
	if len(fields.Members) != 3 {
		t.Fatalf("members = %d, want 3", len(fields.Members))
	}
	one, ok := fields.Members[0].(*tds.OneMethod)
	if !ok || one.Name != "get" || one.Type.Type != fn || one.Attr.Access != tds.AccessPublic {
		t.Errorf("first member = %#v", fields.Members[0])
	}
	if _, ok := fields.Members[1].(*tds.Methods); !ok {
		t.Errorf("second member = %T", fields.Members[1])
	}
	if _, ok := tab.Lookup(single); ok {
		t.Error("collapsed method list was interned")
	}
	if _, ok := tab.Lookup(pair); !ok {
		t.Error("overload list missing")
	}
}

func TestSingleEntryMList(t *testing.T) {
	ml := &tds.MList{Methods: []tds.MethodEntry{{Type: ref(intType)}}}
	if err := New(nil).Add(ml); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestSTLMemberNames(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"std::vector<int>", []string{"__start", "__finish", "__end_of_storage"}, []string{"_Myfirst", "_Mylast", "_Myend"}},
		{"std::auto_ptr<int>", []string{"the_p", "the_p"}, []string{"_Myptr", "the_p"}},
		{"std::vector<", []string{"__start"}, []string{"__start"}},
		{"my::vector<int>", []string{"__start"}, []string{"__start"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := &tds.FieldList{}
			for _, n := range tt.in {
				fields.Members = append(fields.Members, &tds.DataMember{Type: ref(intType), Name: n})
			}
			s := &tds.Struct{Members: ref(fields), Name: tt.name}
			if err := New(nil).Add(s); err != nil {
				t.Fatal(err)
			}
			for i, m := range fields.Members {
				if got := m.(*tds.DataMember).Name; got != tt.want[i] {
					t.Errorf("member %d = %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestBuild(t *testing.T) {
	proc := &tds.Procedure{Return: ref(intType), Args: ref(&tds.ArgList{})}
	f := &tds.File{Modules: []*tds.Module{
		{Name: "a.c", Symbols: []tds.Symbol{&tds.Proc32{Global: true, Type: ref(proc), Name: "main"}}},
		{Name: "b.c", Symbols: []tds.Symbol{&tds.Proc32{Type: ref(proc), Name: "helper"}}},
	}}
	tab, err := Build(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 2 {
		t.Errorf("Len = %d, want 2", tab.Len())
	}
}
