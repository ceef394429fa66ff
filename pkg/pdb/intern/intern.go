// Package intern assigns dense CodeView type indices to the part of a TDS
// type graph that module symbols reach.
//
// Types are appended in post-order: a type's children come before it, so most
// references point backwards. A reference back into a type that is still
// being visited (a struct reached again through a pointer) points forwards,
// which CodeView allows because records refer to each other by index.
package intern

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fortio.org/safecast"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// ErrUnsupported reports a type graph the interner cannot normalize.
var ErrUnsupported = errors.New("intern: unsupported type")

// Table is the ordered list of output types and their indices.
type Table struct {
	types    []tds.Type
	index    map[tds.Type]int
	visiting map[tds.Type]bool

	closures  map[*tds.Closure]*tds.Struct
	shapes    map[closureShape]*tds.Struct
	voidPtr   *tds.Pointer
	nclosures int

	log *slog.Logger
}

type closureShape struct {
	ret     tds.Type
	args    tds.Type
	cc      tds.CallConv
	numArgs int16
}

// New returns an empty table. A nil logger means slog.Default.
func New(log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		index:    make(map[tds.Type]int),
		visiting: make(map[tds.Type]bool),
		closures: make(map[*tds.Closure]*tds.Struct),
		shapes:   make(map[closureShape]*tds.Struct),
		log:      log,
	}
}

// Build interns the types used by every module's symbols, module by module
// in symbol order.
func Build(f *tds.File, log *slog.Logger) (*Table, error) {
	t := New(log)
	for _, mod := range f.Modules {
		if err := t.AddSymbols(mod.Symbols); err != nil {
			return nil, fmt.Errorf("failed to intern types of module %q: %w", mod.Name, err)
		}
	}
	t.log.Debug("interned types", "types", len(t.types), "closures", t.nclosures)
	return t, nil
}

// Types returns the interned types in index order.
func (t *Table) Types() []tds.Type { return t.types }

// Len returns the number of interned types.
func (t *Table) Len() int { return len(t.types) }

// ID returns the CodeView index of typ. Built-in types keep their TDS id.
// Source-language types without a record map to a substitute built-in, and
// types with no CodeView form at all map to 0.
func (t *Table) ID(typ tds.Type) uint32 {
	switch v := typ.(type) {
	case nil:
		return codeview.T_NOTYPE
	case *tds.Primitive:
		return uint32(v.ID)
	case *tds.Subrange:
		return t.ID(v.Base.Type)
	case *tds.LongString:
		return codeview.T_32PRCHAR
	case *tds.ClassRef:
		return codeview.T_32PVOID
	case *tds.Closure:
		if s, ok := t.closures[v]; ok {
			return t.ID(s)
		}
		return codeview.T_NOTYPE
	case *tds.ShortString, *tds.Variant, *tds.Property, *tds.Label, *tds.Opaque, *tds.Unknown39:
		return codeview.T_NOTYPE
	}
	if i, ok := t.index[typ]; ok {
		return uint32(codeview.TypeIndexBegin + i)
	}
	return codeview.T_NOTYPE
}

// Lookup reports whether typ has a record of its own in the table.
func (t *Table) Lookup(typ tds.Type) (uint32, bool) {
	i, ok := t.index[typ]
	if !ok {
		return 0, false
	}
	return uint32(codeview.TypeIndexBegin + i), true
}

// AddSymbols interns the types referenced by syms.
func (t *Table) AddSymbols(syms []tds.Symbol) error {
	for _, sym := range syms {
		var ref *tds.TypeRef
		switch s := sym.(type) {
		case *tds.Register:
			ref = &s.Type
		case *tds.Constant:
			ref = &s.Type
		case *tds.UDT:
			ref = &s.Type
		case *tds.GProcRef:
			ref = &s.Type
		case *tds.GDataRef:
			ref = &s.Type
		case *tds.BPRel32:
			ref = &s.Type
		case *tds.Data32:
			ref = &s.Type
		case *tds.Proc32:
			ref = &s.Type
		default:
			continue
		}
		if err := t.Add(ref.Type); err != nil {
			return err
		}
	}
	return nil
}

// Add interns typ and everything it refers to. Adding a type twice is a
// no-op.
func (t *Table) Add(typ tds.Type) error {
	switch v := typ.(type) {
	case nil, *tds.Primitive, *tds.LongString, *tds.ClassRef, *tds.ShortString,
		*tds.Variant, *tds.Property, *tds.Label, *tds.Opaque, *tds.Unknown39:
		return nil
	case *tds.Subrange:
		return t.Add(v.Base.Type)
	case *tds.MList:
		if len(v.Methods) == 1 {
			return fmt.Errorf("%w: method list with a single entry", ErrUnsupported)
		}
	case *tds.Closure:
		s, err := t.closure(v)
		if err != nil {
			return err
		}
		return t.Add(s)
	}
	if _, ok := t.index[typ]; ok || t.visiting[typ] {
		return nil
	}

	t.visiting[typ] = true
	err := t.children(typ)
	delete(t.visiting, typ)
	if err != nil {
		return err
	}
	if _, err := safecast.Conv[uint16](len(t.types)); err != nil {
		return fmt.Errorf("%w: more than %d types", ErrUnsupported, len(t.types))
	}
	t.index[typ] = len(t.types)
	t.types = append(t.types, typ)
	return nil
}

func (t *Table) addRefs(refs ...*tds.TypeRef) error {
	for _, r := range refs {
		if err := t.Add(r.Type); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) children(typ tds.Type) error {
	switch v := typ.(type) {
	case *tds.Modifier:
		return t.addRefs(&v.Type)
	case *tds.Pointer:
		return t.addRefs(&v.Pointee, &v.Class)
	case *tds.Array:
		return t.addRefs(&v.Elem, &v.Index)
	case *tds.Struct:
		renameSTLMembers(v)
		return t.addRefs(&v.Containing, &v.Members, &v.Derivation, &v.VTable)
	case *tds.Union:
		return t.addRefs(&v.Containing, &v.Members)
	case *tds.Enum:
		return t.addRefs(&v.Underlying, &v.Values)
	case *tds.Procedure:
		return t.addRefs(&v.Return, &v.Args)
	case *tds.MFunction:
		return t.addRefs(&v.Return, &v.This, &v.Class, &v.Args)
	case *tds.PackedArray:
		return t.addRefs(&v.Elem, &v.Index)
	case *tds.ArgList:
		for i := range v.Args {
			if err := t.Add(v.Args[i].Type); err != nil {
				return err
			}
		}
	case *tds.FieldList:
		return t.fieldList(v)
	case *tds.BitField:
		return t.addRefs(&v.Type)
	case *tds.MList:
		for i := range v.Methods {
			if err := t.Add(v.Methods[i].Type.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// fieldList normalizes the members in place, then interns what they use. A
// one-entry overload set becomes a single method and property-typed data
// members are dropped.
func (t *Table) fieldList(fl *tds.FieldList) error {
	members := fl.Members[:0]
	for _, m := range fl.Members {
		switch v := m.(type) {
		case *tds.Methods:
			if ml, ok := v.List.Type.(*tds.MList); ok && len(ml.Methods) == 1 {
				e := ml.Methods[0]
				m = &tds.OneMethod{Attr: e.Attr, Type: e.Type, VtabOffset: e.VtabOffset, Name: v.Name}
			}
		case *tds.DataMember:
			if _, ok := v.Type.Type.(*tds.Property); ok {
				continue
			}
		}
		members = append(members, m)
	}
	fl.Members = members

	for _, m := range fl.Members {
		var err error
		switch v := m.(type) {
		case *tds.BaseClass:
			err = t.addRefs(&v.Class)
		case *tds.VirtualBaseClass:
			err = t.addRefs(&v.Class, &v.Pointer)
		case *tds.Index:
			err = t.addRefs(&v.Continuation)
		case *tds.DataMember:
			err = t.addRefs(&v.Type)
		case *tds.StaticMember:
			err = t.addRefs(&v.Type)
		case *tds.OneMethod:
			err = t.addRefs(&v.Type)
		case *tds.Methods:
			err = t.addRefs(&v.List)
		case *tds.NestedType:
			err = t.addRefs(&v.Type)
		case *tds.VtabPointer:
			err = t.addRefs(&v.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// closure returns the struct standing in for a method pointer: a near
// pointer to the procedure followed by the object pointer. Closures of the
// same shape share one struct.
func (t *Table) closure(c *tds.Closure) (*tds.Struct, error) {
	if s, ok := t.closures[c]; ok {
		return s, nil
	}
	key := closureShape{ret: c.Return.Type, args: c.Args.Type, cc: c.CallConv, numArgs: c.NumArgs}
	if s, ok := t.shapes[key]; ok {
		t.closures[c] = s
		return s, nil
	}

	if t.voidPtr == nil {
		t.voidPtr = &tds.Pointer{
			Kind:    tds.PtrNear32,
			Pointee: tds.TypeRef{ID: codeview.T_VOID, Type: &tds.Primitive{ID: codeview.T_VOID}},
		}
	}
	proc := &tds.Procedure{Return: c.Return, CallConv: c.CallConv, NumArgs: c.NumArgs, Args: c.Args}
	public := tds.MemberAttr{Access: tds.AccessPublic}
	fields := &tds.FieldList{Members: []tds.Member{
		&tds.DataMember{
			Type:   tds.TypeRef{Type: &tds.Pointer{Kind: tds.PtrNear32, Pointee: tds.TypeRef{Type: proc}}},
			Attr:   public,
			Name:   "Member",
			Offset: 0,
		},
		&tds.DataMember{Type: tds.TypeRef{Type: t.voidPtr}, Attr: public, Name: "Object", Offset: 4},
	}}
	s := &tds.Struct{
		Count:   2,
		Members: tds.TypeRef{Type: fields},
		Name:    fmt.Sprintf("__closure%d", t.nclosures),
		Size:    8,
	}
	t.nclosures++
	t.closures[c] = s
	t.shapes[key] = s
	return s, nil
}

// STL member names the debugger's visualizers expect.
var stlShims = []struct {
	prefix string
	rename map[string]string
	once   bool
}{
	{"std::auto_ptr<", map[string]string{"the_p": "_Myptr"}, true},
	{"std::vector<", map[string]string{
		"__start":          "_Myfirst",
		"__finish":         "_Mylast",
		"__end_of_storage": "_Myend",
	}, false},
}

func renameSTLMembers(s *tds.Struct) {
	fl, ok := s.Members.Type.(*tds.FieldList)
	if !ok {
		return
	}
	for _, shim := range stlShims {
		if len(s.Name) <= len(shim.prefix) || !strings.HasPrefix(s.Name, shim.prefix) {
			continue
		}
		for _, m := range fl.Members {
			dm, ok := m.(*tds.DataMember)
			if !ok {
				continue
			}
			if to, ok := shim.rename[dm.Name]; ok {
				dm.Name = to
				if shim.once {
					break
				}
			}
		}
	}
}
