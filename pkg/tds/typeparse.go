package tds

import "fmt"

func (p *parser) readTypes(s Subsection) error {
	c := p.c
	c.Seek(int(s.Offset))
	c.I32()
	n := c.I32()
	if n < 0 || int(n)*4 > c.Len()-c.Pos() {
		return fmt.Errorf("%w: type table claims %d types", ErrMalformed, n)
	}
	offsets := make([]int32, n)
	for i := range offsets {
		offsets[i] = c.I32()
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("failed to read type offsets: %w", err)
	}

	p.f.Types = make([]Type, n)
	for i, off := range offsets {
		start := int(s.Offset + off)
		c.Seek(start)
		length := int(c.U16())
		kind := TypeKind(c.U16())
		t, err := p.readType(kind, start+length)
		if err == nil {
			err = c.Err()
		}
		if err == nil && c.Pos() > start+2+length {
			err = fmt.Errorf("%w: record runs %d bytes past its end", ErrMalformed, c.Pos()-start-2-length)
		}
		if err != nil {
			return fmt.Errorf("failed to read type %#x (kind %#x): %w", FirstTypeID+i, uint16(kind), err)
		}
		p.f.Types[i] = t
	}
	return nil
}

func (p *parser) readType(kind TypeKind, end int) (Type, error) {
	c := p.c
	switch kind {
	case KindModifier:
		t := &Modifier{}
		attrs := c.U16()
		if attrs&0xfff8 != 0 {
			return nil, fmt.Errorf("%w: modifier attributes %#x", ErrMalformed, attrs)
		}
		t.Attrs = ModifierAttrs(attrs)
		p.ref(&t.Type)
		return t, nil

	case KindPointer:
		return p.readPointer()

	case KindArray:
		t := &Array{}
		p.ref(&t.Elem)
		p.ref(&t.Index)
		t.Name = p.name(c.I32())
		t.Length = c.Numeric()
		return t, nil

	case KindClass, KindStruct:
		t := &Struct{IsClass: kind == KindClass}
		t.Count = c.U16()
		p.ref(&t.Members)
		flags, err := p.structFlags()
		if err != nil {
			return nil, err
		}
		t.Flags = flags
		p.ref(&t.Containing)
		p.ref(&t.Derivation)
		p.ref(&t.VTable)
		t.Name = p.translated()
		t.Size = c.Numeric()
		return t, nil

	case KindUnion:
		t := &Union{}
		t.Count = c.U16()
		p.ref(&t.Members)
		flags, err := p.structFlags()
		if err != nil {
			return nil, err
		}
		t.Flags = flags
		p.ref(&t.Containing)
		t.Name = p.translated()
		t.Size = c.Numeric()
		return t, nil

	case KindEnum:
		t := &Enum{}
		t.Count = c.U16()
		p.ref(&t.Underlying)
		p.ref(&t.Values)
		t.Class = c.I32()
		t.Name = p.translated()
		return t, nil

	case KindProcedure:
		t := &Procedure{}
		p.ref(&t.Return)
		cc, err := p.callConv()
		if err != nil {
			return nil, err
		}
		t.CallConv = cc
		t.Reserved = c.U8()
		t.NumArgs = c.I16()
		p.ref(&t.Args)
		return t, nil

	case KindMFunction:
		t := &MFunction{}
		p.ref(&t.Return)
		p.ref(&t.Class)
		p.ref(&t.This)
		cc, err := p.callConv()
		if err != nil {
			return nil, err
		}
		t.CallConv = cc
		t.Reserved = c.U8()
		t.NumArgs = c.I16()
		p.ref(&t.Args)
		t.ThisAdjust = c.I32()
		return t, nil

	case KindVtabShape:
		n := int(c.I16())
		if n < 0 {
			return nil, fmt.Errorf("%w: vtable shape with %d entries", ErrMalformed, n)
		}
		t := &VtabShape{Descriptors: make([]uint8, 0, n)}
		var b uint8
		for i := 0; i < n && c.Err() == nil; i++ {
			var d uint8
			if i%2 == 0 {
				b = c.U8()
				d = b & 0xf
			} else {
				d = b >> 4
			}
			if d > 6 {
				return nil, fmt.Errorf("%w: vtable descriptor %d", ErrMalformed, d)
			}
			t.Descriptors = append(t.Descriptors, d)
		}
		return t, nil

	case KindLabel:
		mode := c.I16()
		if mode != 0 && mode != 4 {
			return nil, fmt.Errorf("%w: label mode %d", ErrMalformed, mode)
		}
		return &Label{Mode: mode}, nil

	case KindSet:
		t := &Set{}
		p.ref(&t.Base)
		t.Name = p.name(c.I32())
		t.Low = c.Numeric()
		t.Size = c.Numeric()
		return t, nil

	case KindSubrange:
		t := &Subrange{}
		p.ref(&t.Base)
		t.Name = p.name(c.I32())
		t.Low = c.Numeric()
		t.High = c.Numeric()
		t.Size = c.Numeric()
		return t, nil

	case KindPackedArray:
		t := &PackedArray{}
		p.ref(&t.Elem)
		p.ref(&t.Index)
		t.Name = p.name(c.I32())
		t.Size = c.Numeric()
		t.Elements = c.Numeric()
		return t, nil

	case KindShortString:
		t := &ShortString{}
		p.ref(&t.Elem)
		p.ref(&t.Index)
		t.Name = p.name(c.I32())
		t.Unknown1 = c.I16()
		t.Unknown2 = c.I16()
		return t, nil

	case KindClosure:
		t := &Closure{}
		p.ref(&t.Return)
		cc, err := p.callConv()
		if err != nil {
			return nil, err
		}
		t.CallConv = cc
		t.Reserved = c.U8()
		t.NumArgs = c.I16()
		p.ref(&t.Args)
		return t, nil

	case KindProperty:
		t := &Property{}
		p.ref(&t.Type)
		flags := PropertyFlags(c.U16())
		if flags&^(PropDefault|PropHasReader|PropHasWriter) != 0 {
			return nil, fmt.Errorf("%w: property flags %#x", ErrMalformed, uint16(flags))
		}
		t.Flags = flags
		p.ref(&t.IndexType)
		t.Index = c.I32()
		t.Reader = p.accessor(flags&PropHasReader != 0)
		t.Writer = p.accessor(flags&PropHasWriter != 0)
		return t, nil

	case KindLongString:
		return &LongString{Name: p.name(c.I32())}, nil

	case KindVariant:
		return &Variant{Name: p.name(c.I32())}, nil

	case KindClassRef:
		t := &ClassRef{}
		p.ref(&t.Base)
		p.ref(&t.VtabShape)
		return t, nil

	case KindUnknown39:
		return &Unknown39{Value: c.I32()}, nil

	case KindOpaque:
		return &Opaque{}, nil

	case KindArgList:
		n := int(c.I16())
		if n < 0 {
			return nil, fmt.Errorf("%w: argument list with %d entries", ErrMalformed, n)
		}
		t := &ArgList{Args: make([]TypeRef, n)}
		for i := range t.Args {
			p.ref(&t.Args[i])
		}
		return t, nil

	case KindFieldList:
		return p.readFieldList(end)

	case KindBitField:
		t := &BitField{}
		t.Length = c.U8()
		t.Position = c.U8()
		p.ref(&t.Type)
		return t, nil

	case KindMList:
		t := &MList{}
		for c.Pos() < end && c.Err() == nil {
			attr, err := p.memberAttr()
			if err != nil {
				return nil, err
			}
			m := MethodEntry{Attr: attr}
			m.Type.ID = c.I32()
			m.Browser = c.I32()
			if attr.Prop.Introduces() {
				m.VtabOffset = c.I32()
			}
			t.Methods = append(t.Methods, m)
		}
		for i := range t.Methods {
			p.track(&t.Methods[i].Type)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: type kind %#x", ErrUnknownKind, uint16(kind))
}

func (p *parser) readPointer() (Type, error) {
	c := p.c
	attr := c.U16()
	t := &Pointer{
		Kind:  PointerKind(attr & 0x1f),
		Mode:  PointerMode((attr >> 5) & 7),
		Flags: PointerFlags(attr >> 8),
	}
	switch {
	case t.Kind > PtrFar32:
		return nil, fmt.Errorf("%w: pointer kind %d", ErrMalformed, t.Kind)
	case t.Mode > ModeMethod:
		return nil, fmt.Errorf("%w: pointer mode %d", ErrMalformed, t.Mode)
	case t.Flags&0xf0 != 0:
		return nil, fmt.Errorf("%w: pointer flags %#x", ErrMalformed, uint8(t.Flags))
	}
	p.ref(&t.Pointee)
	switch t.Mode {
	case ModeDataMember, ModeMethod:
		if t.Mode == ModeMethod && t.Kind == PtrNear {
			t.Kind = PtrNear32
		}
		t.MemberFormat = c.I16()
		p.ref(&t.Class)
	}
	return t, nil
}

func (p *parser) structFlags() (StructFlags, error) {
	f := p.c.U16()
	if f&0xfe00 != 0 {
		return 0, fmt.Errorf("%w: structure flags %#x", ErrMalformed, f)
	}
	return StructFlags(f), nil
}

func (p *parser) callConv() (CallConv, error) {
	b := p.c.U8()
	kind := b & 0x3f
	if kind == 6 || kind > 13 {
		return CallConv{}, fmt.Errorf("%w: calling convention %d", ErrMalformed, kind)
	}
	flags := (b >> 6) & 3
	if flags&^1 != 0 {
		return CallConv{}, fmt.Errorf("%w: calling convention flags %d", ErrMalformed, flags)
	}
	return CallConv{Kind: kind, VarArgs: flags == 1}, nil
}

func (p *parser) accessor(slot bool) Accessor {
	v := p.c.I32()
	if slot {
		return Accessor{Slot: v}
	}
	return Accessor{Name: p.name(v)}
}

func (p *parser) memberAttr() (MemberAttr, error) {
	v := p.c.U16()
	if v&0xc000 != 0 {
		return MemberAttr{}, fmt.Errorf("%w: member attribute %#x", ErrMalformed, v)
	}
	a := MemberAttr{
		Access: Access(v & 3),
		Prop:   MethodProp((v >> 2) & 7),
		Flags:  (v >> 5) & 0x1ff,
	}
	if a.Prop > PropPureIntroVirtual {
		return MemberAttr{}, fmt.Errorf("%w: method property %d", ErrMalformed, a.Prop)
	}
	return a, nil
}

func (p *parser) readFieldList(end int) (Type, error) {
	c := p.c
	t := &FieldList{}
	for c.Pos() < end && c.Err() == nil {
		leaf := TypeKind(c.U16())
		m, err := p.readMember(leaf)
		if err != nil {
			return nil, err
		}
		t.Members = append(t.Members, m)
		if c.Pos() >= end {
			break
		}
		// Members are padded to four bytes with 0xf1..0xf3 markers whose low
		// nibble counts the pad bytes.
		if b := c.U8(); b > 0xf0 {
			c.Skip(int(b&0xf) - 1)
		} else {
			c.Skip(-1)
		}
	}
	return t, nil
}

func (p *parser) readMember(leaf TypeKind) (Member, error) {
	c := p.c
	var err error
	switch leaf {
	case KindBaseClass:
		m := &BaseClass{}
		p.ref(&m.Class)
		if m.Attr, err = p.memberAttr(); err != nil {
			return nil, err
		}
		m.Offset = c.Numeric()
		return m, nil

	case KindDirectVBase, KindIndirectVBase:
		m := &VirtualBaseClass{Direct: leaf == KindDirectVBase}
		p.ref(&m.Class)
		p.ref(&m.Pointer)
		if m.Attr, err = p.memberAttr(); err != nil {
			return nil, err
		}
		m.Offset = c.Numeric()
		m.DispIndex = c.Numeric()
		return m, nil

	case KindEnumerate:
		m := &Enumerate{Attr: c.U16()}
		if s := p.name(c.I32()); s != "" {
			m.Name = p.dm.Parse(s).Tag
		}
		m.Browser = c.I32()
		m.Value = c.Numeric()
		return m, nil

	case KindIndex:
		m := &Index{}
		p.ref(&m.Continuation)
		return m, nil

	case KindMember:
		m := &DataMember{}
		p.ref(&m.Type)
		if m.Attr, err = p.memberAttr(); err != nil {
			return nil, err
		}
		m.Name = p.name(c.I32())
		m.Browser = c.I32()
		m.Offset = c.Numeric()
		return m, nil

	case KindStaticMember:
		m := &StaticMember{}
		p.ref(&m.Type)
		if m.Attr, err = p.memberAttr(); err != nil {
			return nil, err
		}
		m.Name = p.name(c.I32())
		m.Browser = c.I32()
		return m, nil

	case KindMethods:
		m := &Methods{Count: c.I16()}
		p.ref(&m.List)
		m.Name = p.translated()
		return m, nil

	case KindNestedType:
		m := &NestedType{}
		p.ref(&m.Type)
		m.Name = p.name(c.I32())
		m.Browser = c.I32()
		return m, nil

	case KindVtabPointer:
		m := &VtabPointer{}
		p.ref(&m.Type)
		m.Offset = c.Numeric()
		return m, nil
	}
	return nil, fmt.Errorf("%w: member kind %#x", ErrUnknownKind, uint16(leaf))
}
