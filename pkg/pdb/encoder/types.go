// Package encoder serializes an interned TDS type graph and module symbols as
// CodeView records.
package encoder

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// IDs maps a type to its CodeView index.
type IDs interface {
	ID(tds.Type) uint32
}

// Types encodes each type as one framed, padded LF_ record.
func Types(types []tds.Type, ids IDs) ([][]byte, error) {
	records := make([][]byte, 0, len(types))
	for i, t := range types {
		w := codeview.NewWriter()
		if err := Type(w, t, ids); err != nil {
			return nil, fmt.Errorf("failed to encode type %#x (%T): %w", codeview.TypeIndexBegin+i, t, err)
		}
		records = append(records, w.Bytes())
	}
	return records, nil
}

// Type appends the record for t to w. w must be four-byte aligned.
func Type(w *codeview.Writer, t tds.Type, ids IDs) error {
	id := func(r tds.TypeRef) uint32 { return ids.ID(r.Type) }

	var start int
	switch v := t.(type) {
	case *tds.Modifier:
		start = w.Begin(codeview.LF_MODIFIER)
		w.U32(id(v.Type))
		w.U16(uint16(v.Attrs))

	case *tds.Pointer:
		start = w.Begin(codeview.LF_POINTER)
		w.U32(id(v.Pointee))
		w.U32(uint32(v.Attr()))
		if v.Mode == tds.ModeDataMember || v.Mode == tds.ModeMethod {
			w.U32(id(v.Class))
			w.U16(0)
		}

	case *tds.Array:
		start = w.Begin(codeview.LF_ARRAY)
		w.U32(id(v.Elem))
		w.U32(id(v.Index))
		w.Numeric(v.Length)
		w.String(v.Name)

	case *tds.Set:
		start = w.Begin(codeview.LF_ARRAY)
		w.U32(codeview.T_UCHAR)
		w.U32(codeview.T_ULONG)
		w.Numeric(v.Size)
		w.String(v.Name)

	case *tds.PackedArray:
		start = w.Begin(codeview.LF_ARRAY)
		w.U32(id(v.Elem))
		w.U32(id(v.Index))
		w.Numeric(v.Size)
		w.String(v.Name)

	case *tds.Struct:
		kind := uint16(codeview.LF_STRUCTURE)
		if v.IsClass {
			kind = codeview.LF_CLASS
		}
		start = w.Begin(kind)
		w.Count(MemberCount(v.Members.Type))
		w.U16(structProps(v.Flags))
		w.U32(id(v.Members))
		w.U32(id(v.Derivation))
		w.U32(id(v.VTable))
		w.Numeric(v.Size)
		w.String(v.Name)

	case *tds.Union:
		start = w.Begin(codeview.LF_UNION)
		w.Count(MemberCount(v.Members.Type))
		w.U16(structProps(v.Flags))
		w.U32(id(v.Members))
		w.Numeric(v.Size)
		w.String(v.Name)

	case *tds.Enum:
		start = w.Begin(codeview.LF_ENUM)
		w.U16(v.Count)
		w.U16(0)
		w.U32(id(v.Underlying))
		w.U32(id(v.Values))
		w.String(v.Name)

	case *tds.Procedure:
		start = w.Begin(codeview.LF_PROCEDURE)
		w.U32(id(v.Return))
		w.U8(v.CallConv.Kind)
		w.U8(0)
		n := 0
		if args, ok := v.Args.Type.(*tds.ArgList); ok {
			n = len(args.Args)
		}
		w.Count(n)
		w.U32(id(v.Args))

	case *tds.MFunction:
		start = w.Begin(codeview.LF_MFUNCTION)
		w.U32(id(v.Return))
		w.U32(id(v.Class))
		w.U32(id(v.This))
		w.U8(v.CallConv.Kind)
		w.U8(0)
		w.Count(int(v.NumArgs))
		w.U32(id(v.Args))
		w.I32(v.ThisAdjust)

	case *tds.VtabShape:
		start = w.Begin(codeview.LF_VTSHAPE)
		w.Count(len(v.Descriptors))
		for i := 0; i < len(v.Descriptors); i += 2 {
			b := v.Descriptors[i] & 0xf
			if i+1 < len(v.Descriptors) {
				b |= (v.Descriptors[i+1] & 0xf) << 4
			}
			w.U8(b)
		}

	case *tds.ArgList:
		start = w.Begin(codeview.LF_ARGLIST)
		w.Count(len(v.Args))
		w.U16(0)
		for _, a := range v.Args {
			w.U32(id(a))
		}

	case *tds.FieldList:
		start = w.Begin(codeview.LF_FIELDLIST)
		for _, m := range v.Members {
			if isProperty(m) {
				continue
			}
			if err := member(w, m, id); err != nil {
				return err
			}
			w.PadLeaf()
		}

	case *tds.BitField:
		start = w.Begin(codeview.LF_BITFIELD)
		w.U32(id(v.Type))
		w.U8(v.Length)
		w.U8(v.Position)

	case *tds.MList:
		start = w.Begin(codeview.LF_METHODLIST)
		for _, m := range v.Methods {
			w.U16(m.Attr.Encode())
			w.U16(0)
			w.U32(id(m.Type))
			if m.Attr.Prop.Introduces() {
				w.I32(m.VtabOffset)
			}
		}

	default:
		return fmt.Errorf("%w: no CodeView record for %T", codeview.ErrUnencodable, t)
	}
	return w.EndType(start)
}

func member(w *codeview.Writer, m tds.Member, id func(tds.TypeRef) uint32) error {
	switch v := m.(type) {
	case *tds.BaseClass:
		w.U16(codeview.LF_BCLASS)
		w.U16(v.Attr.Encode())
		w.U32(id(v.Class))
		w.Numeric(v.Offset)

	case *tds.VirtualBaseClass:
		kind := uint16(codeview.LF_IVBCLASS)
		if v.Direct {
			kind = codeview.LF_VBCLASS
		}
		w.U16(kind)
		w.U16(v.Attr.Encode())
		w.U32(id(v.Class))
		w.U32(id(v.Pointer))
		w.Numeric(v.Offset)
		w.Numeric(v.DispIndex)

	case *tds.Enumerate:
		w.U16(codeview.LF_ENUMERATE)
		w.U16(v.Attr)
		w.Numeric(v.Value)
		w.String(v.Name)

	case *tds.Index:
		w.U16(codeview.LF_INDEX)
		w.U32(id(v.Continuation))

	case *tds.DataMember:
		w.U16(codeview.LF_MEMBER)
		w.U16(v.Attr.Encode())
		w.U32(id(v.Type))
		w.Numeric(v.Offset)
		w.String(v.Name)

	case *tds.StaticMember:
		w.U16(codeview.LF_STMEMBER)
		w.U16(v.Attr.Encode())
		w.U32(id(v.Type))
		w.String(v.Name)

	case *tds.OneMethod:
		w.U16(codeview.LF_ONEMETHOD)
		w.U16(v.Attr.Encode())
		w.U32(id(v.Type))
		if v.Attr.Prop.Introduces() {
			w.I32(v.VtabOffset)
		}
		w.String(v.Name)

	case *tds.Methods:
		ml, ok := v.List.Type.(*tds.MList)
		if !ok {
			return fmt.Errorf("%w: method set %q has no method list", codeview.ErrUnencodable, v.Name)
		}
		w.U16(codeview.LF_METHOD)
		w.Count(len(ml.Methods))
		w.U32(id(v.List))
		w.String(v.Name)

	case *tds.NestedType:
		w.U16(codeview.LF_NESTTYPE)
		w.U16(0)
		w.U32(id(v.Type))
		w.String(v.Name)

	case *tds.VtabPointer:
		if v.Offset != 0 {
			off, err := safecast.Conv[int32](v.Offset)
			if err != nil {
				return fmt.Errorf("%w: vtable offset %d: %w", codeview.ErrOverflow, v.Offset, err)
			}
			w.U16(codeview.LF_VFUNCOFF)
			w.U16(0)
			w.U32(id(v.Type))
			w.I32(off)
		} else {
			w.U16(codeview.LF_VFUNCTAB)
			w.U16(0)
			w.U32(id(v.Type))
		}

	default:
		return fmt.Errorf("%w: no CodeView member for %T", codeview.ErrUnencodable, m)
	}
	return nil
}

func isProperty(m tds.Member) bool {
	dm, ok := m.(*tds.DataMember)
	if !ok {
		return false
	}
	_, ok = dm.Type.Type.(*tds.Property)
	return ok
}

// MemberCount returns the element count of a struct or union field list:
// every overload counts, property members do not and LF_INDEX continuations
// are followed.
func MemberCount(fields tds.Type) int {
	fl, ok := fields.(*tds.FieldList)
	if !ok {
		return 0
	}
	n := 0
	for _, m := range fl.Members {
		switch v := m.(type) {
		case *tds.DataMember:
			if !isProperty(v) {
				n++
			}
		case *tds.Methods:
			if ml, ok := v.List.Type.(*tds.MList); ok {
				n += len(ml.Methods)
			}
		case *tds.Index:
			n += MemberCount(v.Continuation.Type)
		default:
			n++
		}
	}
	return n
}

func structProps(f tds.StructFlags) uint16 {
	var p uint16
	if f&tds.StructPacked != 0 {
		p |= codeview.PropPacked
	}
	if f&(tds.StructCtor|tds.StructDtor) != 0 {
		p |= codeview.PropCtor
	}
	if f&tds.StructOverOpers != 0 {
		p |= codeview.PropOverOps
	}
	if f&tds.StructIsNested != 0 {
		p |= codeview.PropIsNested
	}
	if f&tds.StructCNested != 0 {
		p |= codeview.PropCNested
	}
	if f&tds.StructOpAssign != 0 {
		p |= codeview.PropOpAssign
	}
	if f&tds.StructOpCast != 0 {
		p |= codeview.PropOpCast
	}
	if f&tds.StructFwdRef != 0 {
		p |= codeview.PropFwdRef
	}
	return p
}

// HashKey returns the name a type record is hashed by in the TPI hash
// stream: named UDTs that are complete definitions, and every enum. Other
// records hash their bytes.
func HashKey(t tds.Type) (string, bool) {
	switch v := t.(type) {
	case *tds.Struct:
		return v.Name, v.Flags&tds.StructFwdRef == 0
	case *tds.Union:
		return v.Name, v.Flags&tds.StructFwdRef == 0
	case *tds.Enum:
		return v.Name, true
	}
	return "", false
}
