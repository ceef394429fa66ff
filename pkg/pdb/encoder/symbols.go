package encoder

import (
	"fmt"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// ModuleSymbols is the encoded symbol part of a module stream.
type ModuleSymbols struct {
	// Data starts with CV_SIGNATURE_C11 and is four-byte aligned.
	Data []byte
	// Offsets maps each written symbol to the offset of its length field.
	Offsets map[tds.Symbol]uint32
}

// Module encodes a module's symbols. Scope links are written as stream
// offsets once every record's position is known.
func Module(mod *tds.Module, ids IDs) (*ModuleSymbols, error) {
	w := codeview.NewWriter()
	w.U32(codeview.CV_SIGNATURE_C11)

	offsets := make(map[tds.Symbol]uint32, len(mod.Symbols))
	for i, sym := range mod.Symbols {
		start := w.Pos()
		written, err := Symbol(w, sym, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to encode symbol %d (%T) of module %q: %w", i, sym, mod.Name, err)
		}
		if written {
			offsets[sym] = start
		}
	}

	for _, sym := range mod.Symbols {
		scoped, ok := sym.(tds.Scoped)
		if !ok {
			continue
		}
		at, ok := offsets[sym]
		if !ok {
			continue
		}
		links := scoped.ScopeLinks()
		patch := func(field int, target tds.Symbol) {
			if off, ok := written(offsets, target); ok {
				w.PutU32At(int(at)+field, off)
			}
		}
		patch(4, links.Parent)
		patch(8, links.End)
		if _, isBlock := sym.(*tds.Block32); !isBlock {
			patch(12, links.Next)
		}
	}
	return &ModuleSymbols{Data: w.Bytes(), Offsets: offsets}, nil
}

// written returns the stream offset of target. A skipped target stands in
// for its nearest written enclosing scope; with none the link stays 0.
func written(offsets map[tds.Symbol]uint32, target tds.Symbol) (uint32, bool) {
	seen := make(map[tds.Symbol]bool)
	for target != nil && !seen[target] {
		if off, ok := offsets[target]; ok {
			return off, off != 0
		}
		seen[target] = true
		switch t := target.(type) {
		case tds.Scoped:
			target = t.ScopeLinks().Parent
		case *tds.With32:
			target = t.Parent
		default:
			return 0, false
		}
	}
	return 0, false
}

// Symbol appends the record for sym to w and reports whether one was
// written. The informational TDS records listed in the switch have no
// CodeView form and are skipped; any other kind is an error.
func Symbol(w *codeview.Writer, sym tds.Symbol, ids IDs) (bool, error) {
	id := func(r tds.TypeRef) uint32 { return ids.ID(r.Type) }

	var start int
	switch s := sym.(type) {
	case *tds.Compile:
		start = w.Begin(codeview.S_COMPILE2)
		w.U8(s.Language)
		w.U8(0)
		w.U16(0)
		w.U16(uint16(s.Machine))
		for _, v := range []uint16{1, 0, 0, 1, 0, 0} {
			w.U16(v)
		}
		w.String(s.Compiler)

	case *tds.Constant:
		start = w.Begin(codeview.S_CONSTANT)
		w.U32(id(s.Type))
		w.Numeric(s.Value)
		w.String(s.Name)

	case *tds.UDT:
		start = w.Begin(codeview.S_UDT)
		w.U32(id(s.Type))
		w.String(s.Name)

	case *tds.End:
		start = w.Begin(codeview.S_END)

	case *tds.BPRel32:
		start = w.Begin(codeview.S_BPREL32)
		w.I32(s.Offset)
		w.U32(id(s.Type))
		w.String(s.Name)

	case *tds.Data32:
		kind := uint16(codeview.S_LDATA32)
		if s.Global {
			kind = codeview.S_GDATA32
		}
		start = w.Begin(kind)
		w.U32(id(s.Type))
		w.I32(s.Offset)
		w.I16(s.Segment)
		w.String(s.Name)

	case *tds.Proc32:
		kind := uint16(codeview.S_LPROC32)
		if s.Global {
			kind = codeview.S_GPROC32
		}
		start = w.Begin(kind)
		w.U32(0) // parent
		w.U32(0) // end
		w.U32(0) // next
		w.I32(s.Size)
		w.I32(s.DbgStart)
		w.I32(s.DbgEnd)
		w.U32(id(s.Type))
		w.I32(s.Offset)
		w.I16(s.Segment)
		w.U8(0)
		w.String(s.Name)

	case *tds.Thunk32:
		start = w.Begin(codeview.S_THUNK32)
		w.U32(0)
		w.U32(0)
		w.U32(0)
		w.I32(s.Offset)
		w.I16(s.Segment)
		w.I16(s.Length)
		w.U8(s.Kind)
		w.String(s.Name)
		switch s.Kind {
		case tds.ThunkNoType:
		case tds.ThunkAdjustor:
			w.PadZero()
			w.I32(s.Adjust)
			w.String(s.Target)
		default:
			return false, fmt.Errorf("%w: thunk kind %d", codeview.ErrUnencodable, s.Kind)
		}

	case *tds.Block32:
		start = w.Begin(codeview.S_BLOCK32)
		w.U32(0)
		w.U32(0)
		w.I32(s.Length)
		w.I32(s.Offset)
		w.I16(s.Segment)
		w.String(s.Name)

	case *tds.GProcRef:
		return false, fmt.Errorf("%w: procedure reference outside the global table", codeview.ErrUnencodable)

	case *tds.Register, *tds.Search, *tds.GDataRef, *tds.With32, *tds.Label32,
		*tds.Entry32, *tds.OptVar32, *tds.ProcRet32, *tds.SaveRegs32, *tds.Uses,
		*tds.Namespace, *tds.Using, *tds.PConstant, *tds.SLink32:
		return false, nil

	default:
		return false, fmt.Errorf("%w: symbol %T", codeview.ErrUnencodable, sym)
	}
	return true, w.EndSymbol(start)
}

// ProcIndex finds the module stream record of a global procedure by address.
type ProcIndex struct {
	modules []*tds.Module
	symbols []*ModuleSymbols
}

// NewProcIndex indexes the encoded module streams; syms[i] belongs to
// modules[i].
func NewProcIndex(modules []*tds.Module, syms []*ModuleSymbols) *ProcIndex {
	return &ProcIndex{modules: modules, symbols: syms}
}

// Find returns the 0-based module index and module-stream offset of the
// global procedure at seg:off. Only modules whose code segments cover the
// address are searched.
func (x *ProcIndex) Find(seg int16, off int32) (int, uint32, bool) {
	for i, mod := range x.modules {
		if !covers(mod, seg, off) {
			continue
		}
		for _, sym := range mod.Symbols {
			p, ok := sym.(*tds.Proc32)
			if !ok || !p.Global || p.Segment != seg || p.Offset != off {
				continue
			}
			if at, ok := x.symbols[i].Offsets[p]; ok {
				return i, at, true
			}
		}
	}
	return 0, 0, false
}

func covers(mod *tds.Module, seg int16, off int32) bool {
	for _, s := range mod.Segments {
		if s.Segment == seg && off >= s.Offset && int64(off) < int64(s.Offset)+int64(s.Length) {
			return true
		}
	}
	return false
}

// Global is a record written to the global symbol stream.
type Global struct {
	Name   string
	Offset uint32
}

// Globals encodes the global symbol table. Procedure references become
// S_PROCREF records pointing into the defining module's stream; references
// whose procedure cannot be found are skipped and counted. It returns the
// stream and every written record.
func Globals(syms []tds.Symbol, ids IDs, procs *ProcIndex) ([]byte, []Global, int, error) {
	w := codeview.NewWriter()
	var written []Global
	skipped := 0
	for i, sym := range syms {
		start := w.Pos()
		var name string
		switch s := sym.(type) {
		case *tds.GProcRef:
			mod, at, ok := procs.Find(s.Segment, s.Offset)
			if !ok {
				skipped++
				continue
			}
			name = s.Name
			rec := w.Begin(codeview.S_PROCREF)
			w.U32(0)
			w.U32(at)
			w.Count(mod + 1)
			w.String(s.Name)
			if err := w.EndSymbol(rec); err != nil {
				return nil, nil, 0, fmt.Errorf("failed to encode global symbol %d: %w", i, err)
			}

		case *tds.GDataRef:
			name = s.Name
			rec := w.Begin(codeview.S_GDATA32)
			w.U32(ids.ID(s.Type.Type))
			w.I32(s.Offset)
			w.I16(s.Segment)
			w.String(s.Name)
			if err := w.EndSymbol(rec); err != nil {
				return nil, nil, 0, fmt.Errorf("failed to encode global symbol %d: %w", i, err)
			}

		case *tds.Data32:
			name = s.Name
			if _, err := Symbol(w, sym, ids); err != nil {
				return nil, nil, 0, fmt.Errorf("failed to encode global symbol %d: %w", i, err)
			}

		case *tds.UDT:
			name = s.Name
			if _, err := Symbol(w, sym, ids); err != nil {
				return nil, nil, 0, fmt.Errorf("failed to encode global symbol %d: %w", i, err)
			}

		case *tds.Constant:
			name = s.Name
			if _, err := Symbol(w, sym, ids); err != nil {
				return nil, nil, 0, fmt.Errorf("failed to encode global symbol %d: %w", i, err)
			}

		default:
			continue
		}
		written = append(written, Global{Name: name, Offset: start})
	}
	return w.Bytes(), written, skipped, nil
}
