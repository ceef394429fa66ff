package pdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/pdb/streams"
)

// maxTypeDepth bounds how far a type name is expanded.
const maxTypeDepth = 16

// typeNamer renders type indices of a TPI stream as C declarations.
type typeNamer struct {
	tpi *streams.TPIStream
}

// Name returns a readable spelling of a type index.
func (r *typeNamer) Name(index uint32) string {
	return r.name(index, 0)
}

func (r *typeNamer) name(index uint32, depth int) string {
	if index < codeview.TypeIndexBegin {
		return codeview.BuiltinTypeName(index)
	}
	if r.tpi == nil || depth > maxTypeDepth {
		return fmt.Sprintf("type_0x%x", index)
	}
	rec := r.tpi.GetType(index)
	if rec == nil {
		return fmt.Sprintf("type_0x%x", index)
	}
	return r.record(rec, depth+1)
}

func (r *typeNamer) record(rec *streams.TypeRecord, depth int) string {
	d := rec.Data
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(d[off:]) }

	switch rec.Kind {
	case codeview.LF_POINTER:
		if len(d) < 8 {
			return "ptr<?>"
		}
		attrs := u32(4)
		s := r.name(u32(0), depth)
		switch (attrs >> 5) & 0x7 {
		case 1:
			s += "&"
		case 2:
			if len(d) >= 12 {
				return fmt.Sprintf("%s %s::*", s, r.name(u32(8), depth))
			}
			s += "*"
		case 3:
			if len(d) >= 12 {
				return fmt.Sprintf("%s::*", r.name(u32(8), depth))
			}
			s += "*"
		default:
			s += "*"
		}
		if attrs&(1<<10) != 0 {
			s += " const"
		}
		if attrs&(1<<9) != 0 {
			s += " volatile"
		}
		return s

	case codeview.LF_MODIFIER:
		if len(d) < 6 {
			return "mod<?>"
		}
		s := r.name(u32(0), depth)
		mods := binary.LittleEndian.Uint16(d[4:])
		if mods&0x2 != 0 {
			s = "volatile " + s
		}
		if mods&0x1 != 0 {
			s = "const " + s
		}
		return s

	case codeview.LF_ARRAY:
		if len(d) < 10 {
			return "array<?>"
		}
		size, _, err := codeview.DecodeNumeric(d[8:])
		if err != nil || size <= 0 {
			return r.name(u32(0), depth) + "[]"
		}
		return fmt.Sprintf("%s[%d]", r.name(u32(0), depth), size)

	case codeview.LF_PROCEDURE:
		if len(d) < 12 {
			return "func<?>"
		}
		return fmt.Sprintf("%s (%s)", r.name(u32(0), depth), r.name(u32(8), depth))

	case codeview.LF_MFUNCTION:
		if len(d) < 24 {
			return "mfunc<?>"
		}
		return fmt.Sprintf("%s %s::(%s)", r.name(u32(0), depth), r.name(u32(4), depth), r.name(u32(16), depth))

	case codeview.LF_ARGLIST:
		if len(d) < 4 {
			return ""
		}
		n := int(binary.LittleEndian.Uint16(d))
		if n == 0 {
			return "void"
		}
		args := make([]string, 0, n)
		for i := 0; i < n && 4+4*i+4 <= len(d); i++ {
			args = append(args, r.name(u32(4+4*i), depth))
		}
		return strings.Join(args, ", ")

	case codeview.LF_STRUCTURE, codeview.LF_CLASS, codeview.LF_UNION:
		if name, _, ok := udtName(rec); ok && name != "" {
			return name
		}
		return kindName(rec.Kind)

	case codeview.LF_ENUM:
		if name, _, ok := udtName(rec); ok && name != "" {
			return name
		}
		return "enum"

	case codeview.LF_BITFIELD:
		if len(d) < 6 {
			return "bitfield<?>"
		}
		return fmt.Sprintf("%s : %d", r.name(u32(0), depth), d[4])
	}
	return fmt.Sprintf("type_0x%x", rec.Index)
}

// udtName returns the name and size of a struct, class, union or enum
// record.
func udtName(rec *streams.TypeRecord) (string, int64, bool) {
	d := rec.Data
	switch rec.Kind {
	case codeview.LF_STRUCTURE, codeview.LF_CLASS:
		if len(d) < 18 {
			return "", 0, false
		}
		size, n, err := codeview.DecodeNumeric(d[16:])
		if err != nil {
			return "", 0, false
		}
		return cstring(d[16+n:]), size, true
	case codeview.LF_UNION:
		if len(d) < 10 {
			return "", 0, false
		}
		size, n, err := codeview.DecodeNumeric(d[8:])
		if err != nil {
			return "", 0, false
		}
		return cstring(d[8+n:]), size, true
	case codeview.LF_ENUM:
		if len(d) < 12 {
			return "", 0, false
		}
		return cstring(d[12:]), 0, true
	}
	return "", 0, false
}

func kindName(kind uint16) string {
	switch kind {
	case codeview.LF_CLASS:
		return "class"
	case codeview.LF_STRUCTURE:
		return "struct"
	case codeview.LF_UNION:
		return "union"
	case codeview.LF_ENUM:
		return "enum"
	}
	return codeview.LeafKindName(kind)
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
