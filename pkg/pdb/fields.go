package pdb

import (
	"encoding/binary"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// members decodes the field list at index, following LF_INDEX
// continuations. Decoding stops at the first member it cannot size.
func (r *typeNamer) members(index uint32) []Member {
	var out []Member
	seen := make(map[uint32]bool)
	for index != 0 && !seen[index] && r.tpi != nil {
		seen[index] = true
		rec := r.tpi.GetType(index)
		if rec == nil || rec.Kind != codeview.LF_FIELDLIST {
			break
		}
		var next uint32
		out, next = r.fieldList(rec.Data, out)
		index = next
	}
	return out
}

func (r *typeNamer) fieldList(data []byte, out []Member) ([]Member, uint32) {
	c := tds.NewCursor(data)
	for c.Pos() < c.Len() && c.Err() == nil {
		leaf := c.U16()
		var m Member
		switch leaf {
		case codeview.LF_BCLASS:
			c.U16()
			m = Member{Kind: "base", TypeName: r.Name(c.U32()), Offset: c.Numeric()}
		case codeview.LF_VBCLASS, codeview.LF_IVBCLASS:
			c.U16()
			m = Member{Kind: "vbase", TypeName: r.Name(c.U32())}
			c.U32()
			m.Offset = c.Numeric()
			c.Numeric()
		case codeview.LF_ENUMERATE:
			c.U16()
			m = Member{Kind: "enumerate", Offset: c.Numeric()}
			m.Name = cursorString(c)
		case codeview.LF_INDEX:
			c.U16()
			return out, c.U32()
		case codeview.LF_MEMBER:
			c.U16()
			m = Member{Kind: "member", TypeName: r.Name(c.U32()), Offset: c.Numeric()}
			m.Name = cursorString(c)
		case codeview.LF_STMEMBER:
			c.U16()
			m = Member{Kind: "static", TypeName: r.Name(c.U32())}
			m.Name = cursorString(c)
		case codeview.LF_ONEMETHOD:
			attr := c.U16()
			m = Member{Kind: "method", TypeName: r.Name(c.U32())}
			if prop := tds.MethodProp((attr >> 2) & 7); prop.Introduces() {
				m.Offset = int64(c.I32())
			}
			m.Name = cursorString(c)
		case codeview.LF_METHOD:
			n := c.U16()
			c.U32()
			m = Member{Kind: "methods", Offset: int64(n)}
			m.Name = cursorString(c)
		case codeview.LF_NESTTYPE:
			c.U16()
			m = Member{Kind: "nested", TypeName: r.Name(c.U32())}
			m.Name = cursorString(c)
		case codeview.LF_VFUNCTAB:
			c.U16()
			m = Member{Kind: "vfptr", TypeName: r.Name(c.U32())}
		case codeview.LF_VFUNCOFF:
			c.U16()
			m = Member{Kind: "vfptr", TypeName: r.Name(c.U32())}
			m.Offset = int64(c.I32())
		default:
			return out, 0
		}
		if c.Err() != nil {
			break
		}
		out = append(out, m)
		skipPad(c)
	}
	return out, 0
}

func cursorString(c *tds.Cursor) string {
	var b []byte
	for c.Pos() < c.Len() {
		ch := c.U8()
		if ch == 0 {
			break
		}
		b = append(b, ch)
	}
	return string(b)
}

// skipPad steps over LF_PAD bytes, each holding the distance to the next
// member.
func skipPad(c *tds.Cursor) {
	for c.Pos() < c.Len() && c.Err() == nil {
		b := c.Bytes(1)
		if b[0] < codeview.LF_PAD0 {
			c.Skip(-1)
			return
		}
		n := int(b[0] & 0xf)
		if n == 0 {
			return
		}
		c.Skip(n - 1)
	}
}

// enumFields returns the underlying type and field list of an LF_ENUM.
func enumFields(d []byte) (underlying, fields uint32, ok bool) {
	if len(d) < 12 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(d[4:]), binary.LittleEndian.Uint32(d[8:]), true
}
