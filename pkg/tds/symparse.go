package tds

import "fmt"

// readSymbols reads records from the cursor position up to end. Scope links
// are stored as offsets from sectionStart, which is where the offsets of the
// records themselves are measured from too.
func (p *parser) readSymbols(sectionStart, end int) ([]Symbol, error) {
	c := p.c
	var (
		syms     []Symbol
		byOffset = make(map[int32]Symbol)
	)
	for c.Pos() < end {
		offset := int32(c.Pos() - sectionStart)
		size := int(c.U16())
		start := c.Pos()
		kind := SymbolKind(c.U16())
		sym, err := p.readSymbol(kind, size)
		if err == nil {
			err = c.Err()
		}
		if err == nil && c.Pos() > start+size {
			err = fmt.Errorf("%w: record runs %d bytes past its end", ErrMalformed, c.Pos()-start-size)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read symbol at %#x (kind %#x): %w", offset, uint16(kind), err)
		}
		if e, ok := sym.(*End); ok {
			e.Offset = offset
		}
		c.Seek(start + size)
		syms = append(syms, sym)
		byOffset[offset] = sym
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if c.Pos() != end {
		return nil, fmt.Errorf("%w: symbol table overruns its end %#x by %d bytes", ErrMalformed, end, c.Pos()-end)
	}

	for _, sym := range syms {
		var err error
		if w, ok := sym.(*With32); ok {
			if w.Parent, err = lookupScope(byOffset, w.ParentOffset, "parent"); err != nil {
				return nil, err
			}
			continue
		}
		sc, ok := sym.(Scoped)
		if !ok {
			continue
		}
		s := sc.ScopeLinks()
		if s.Parent, err = lookupScope(byOffset, s.ParentOffset, "parent"); err != nil {
			return nil, err
		}
		if s.End, err = lookupScope(byOffset, s.EndOffset, "end"); err != nil {
			return nil, err
		}
		if _, isBlock := sym.(*Block32); !isBlock {
			if s.Next, err = lookupScope(byOffset, s.NextOffset, "next"); err != nil {
				return nil, err
			}
		}
	}
	return syms, nil
}

func lookupScope(byOffset map[int32]Symbol, off int32, what string) (Symbol, error) {
	if off == 0 {
		return nil, nil
	}
	sym, ok := byOffset[off]
	if !ok {
		return nil, fmt.Errorf("%w: scope %s offset %#x names no symbol", ErrUnresolved, what, off)
	}
	return sym, nil
}

func (p *parser) scope(s *Scope, hasNext bool) {
	s.ParentOffset = p.c.I32()
	s.EndOffset = p.c.I32()
	if hasNext {
		s.NextOffset = p.c.I32()
	}
}

func (p *parser) readSymbol(kind SymbolKind, size int) (Symbol, error) {
	c := p.c
	switch kind {
	case SymCompile:
		s := &Compile{Machine: c.U8(), Language: c.U8()}
		flags := c.U16()
		s.PCode = flags&1 != 0
		s.FPUPrecision = uint8(flags>>1) & 3
		s.FPU = uint8(flags>>3) & 3
		s.AmbientData = uint8(flags>>5) & 7
		s.AmbientCode = uint8(flags>>8) & 7
		s.Mode32 = flags>>11&1 != 0
		s.CharSigned = flags>>12&1 != 0
		raw := c.Bytes(int(c.U8()))
		name, err := p.dec.Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode compiler name: %w", err)
		}
		s.Compiler = string(name)
		return s, nil

	case SymRegister:
		s := &Register{}
		p.ref(&s.Type)
		s.Register = c.I16()
		s.Name = p.name(c.I32())
		s.Browser = c.I32()
		return s, nil

	case SymConstant:
		s := &Constant{}
		p.ref(&s.Type)
		s.Name = p.translated()
		s.Browser = c.I32()
		s.Value = c.Numeric()
		return s, nil

	case SymUDT:
		s := &UDT{}
		p.ref(&s.Type)
		s.Flags = c.I16()
		s.Name = p.name(c.I32())
		s.Browser = c.I32()
		return s, nil

	case SymSearch:
		return &Search{
			Offset:    c.I32(),
			Segment:   c.I16(),
			CodeSyms:  c.I16(),
			DataSyms:  c.I16(),
			FirstData: c.I32(),
		}, nil

	case SymEnd:
		return &End{}, nil

	case SymGProcRef:
		s := &GProcRef{Unknown1: c.I32()}
		p.ref(&s.Type)
		s.Name = p.name(c.I32())
		if len(s.Name) >= 5 && !isRTTIName(s.Name) {
			s.Name = p.dm.Translate(s.Name)
		}
		s.Unknown2 = c.I32()
		s.Offset = c.I32()
		s.Segment = c.I16()
		s.Unknown3 = c.I32()
		return s, nil

	case SymGDataRef:
		s := &GDataRef{Unknown1: c.I32()}
		p.ref(&s.Type)
		s.Name = p.name(c.I32())
		s.Unknown2 = c.I32()
		s.Offset = c.I32()
		s.Segment = c.I16()
		return s, nil

	case SymBPRel32:
		s := &BPRel32{Offset: c.I32()}
		p.ref(&s.Type)
		s.Name = p.name(c.I32())
		s.Browser = c.I32()
		return s, nil

	case SymLData32, SymGData32:
		s := &Data32{Global: kind == SymGData32}
		s.Offset = c.I32()
		s.Segment = c.I16()
		s.Flags = c.I16()
		p.ref(&s.Type)
		s.Name = p.translated()
		s.Browser = c.I32()
		return s, nil

	case SymLProc32, SymGProc32:
		s := &Proc32{Global: kind == SymGProc32}
		p.scope(&s.Scope, true)
		s.Size = c.I32()
		s.DbgStart = c.I32()
		s.DbgEnd = c.I32()
		s.Offset = c.I32()
		s.Segment = c.I16()
		s.Unknown = c.I16()
		p.ref(&s.Type)
		s.Name = p.translated()
		s.Unknown2 = c.I32()
		return s, nil

	case SymThunk32:
		s := &Thunk32{}
		p.scope(&s.Scope, true)
		s.Offset = c.I32()
		s.Segment = c.I16()
		s.Length = c.I16()
		s.Kind = c.U8()
		s.Name = p.name(c.I32())
		switch s.Kind {
		case ThunkNoType:
		case ThunkAdjustor:
			s.Adjust = c.I32()
			s.Target = p.name(c.I32())
		case ThunkVCall, ThunkPCode:
			return nil, fmt.Errorf("%w: thunk kind %d is not supported", ErrMalformed, s.Kind)
		default:
			return nil, fmt.Errorf("%w: thunk kind %d", ErrMalformed, s.Kind)
		}
		return s, nil

	case SymBlock32:
		s := &Block32{}
		p.scope(&s.Scope, false)
		s.Length = c.I32()
		s.Offset = c.I32()
		s.Segment = c.I16()
		s.Name = p.name(c.I32())
		return s, nil

	case SymWith32:
		return &With32{
			ParentOffset: c.I32(),
			Length:       c.I32(),
			Offset:       c.I32(),
			Segment:      c.I16(),
			Flags:        c.I16(),
			Type:         c.I32(),
			Name:         p.name(c.I32()),
			VarOffset:    c.I32(),
		}, nil

	case SymLabel32:
		s := &Label32{Offset: c.I32(), Segment: c.I16(), Flags: c.U8()}
		if s.Flags&0xf0 != 0 {
			return nil, fmt.Errorf("%w: label flags %#x", ErrMalformed, s.Flags)
		}
		s.Name = p.name(c.I32())
		s.Unknown = c.I32()
		return s, nil

	case SymEntry32:
		return &Entry32{Offset: c.I32(), Segment: c.I16()}, nil

	case SymOptVar32:
		return &OptVar32{
			Unknown:  c.I16(),
			Start:    c.I32(),
			Length:   c.I32(),
			Register: c.I16(),
		}, nil

	case SymProcRet32:
		return &ProcRet32{Offset: c.I32(), Length: c.I16()}, nil

	case SymSaveRegs32:
		return &SaveRegs32{Flags: c.I16()}, nil

	case SymUses:
		n := (size - 2) / 4
		s := &Uses{Units: make([]string, 0, max(n, 0))}
		for i := 0; i < n; i++ {
			s.Units = append(s.Units, p.name(c.I32()))
		}
		return s, nil

	case SymNamespace:
		return &Namespace{
			Name:       p.name(c.I32()),
			Browser:    c.I32(),
			UsingCount: c.I16(),
		}, nil

	case SymUsing:
		n := int(c.I16())
		if n < 0 {
			return nil, fmt.Errorf("%w: using list with %d names", ErrMalformed, n)
		}
		s := &Using{Names: make([]string, 0, n)}
		for i := 0; i < n && c.Err() == nil; i++ {
			s.Names = append(s.Names, p.name(c.I32()))
		}
		return s, nil

	case SymPConstant:
		s := &PConstant{}
		p.ref(&s.Type)
		s.Property = c.I16()
		s.Name = p.name(c.I32())
		s.Browser = c.I32()
		s.Value = c.I32()
		return s, nil

	case SymSLink32:
		return &SLink32{Offset: c.I32()}, nil
	}
	return nil, fmt.Errorf("%w: symbol kind %#x", ErrUnknownKind, uint16(kind))
}
