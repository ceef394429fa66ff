package tds

// Type is one node of the type graph. The concrete types in this file are the
// only implementations.
type Type interface {
	isType()
}

// FirstTypeID is the id of the first record in the global types subsection.
// Smaller ids name primitive types.
const FirstTypeID = 0x1000

// TypeRef refers to another type by TDS id. Type is filled in once the whole
// type table has been read; it is nil exactly when ID is 0.
type TypeRef struct {
	ID   int32
	Type Type
}

// TypeKind is the leaf tag of a TDS type or member record.
type TypeKind uint16

// Type and member leaf tags.
const (
	KindModifier      TypeKind = 0x01
	KindPointer       TypeKind = 0x02
	KindArray         TypeKind = 0x03
	KindClass         TypeKind = 0x04
	KindStruct        TypeKind = 0x05
	KindUnion         TypeKind = 0x06
	KindEnum          TypeKind = 0x07
	KindProcedure     TypeKind = 0x08
	KindMFunction     TypeKind = 0x09
	KindVtabShape     TypeKind = 0x0a
	KindLabel         TypeKind = 0x0e
	KindSet           TypeKind = 0x30
	KindSubrange      TypeKind = 0x31
	KindPackedArray   TypeKind = 0x32
	KindShortString   TypeKind = 0x33
	KindClosure       TypeKind = 0x34
	KindProperty      TypeKind = 0x35
	KindLongString    TypeKind = 0x36
	KindVariant       TypeKind = 0x37
	KindClassRef      TypeKind = 0x38
	KindUnknown39     TypeKind = 0x39
	KindOpaque        TypeKind = 0xef
	KindArgList       TypeKind = 0x201
	KindFieldList     TypeKind = 0x204
	KindBitField      TypeKind = 0x206
	KindMList         TypeKind = 0x207
	KindBaseClass     TypeKind = 0x400
	KindDirectVBase   TypeKind = 0x401
	KindIndirectVBase TypeKind = 0x402
	KindEnumerate     TypeKind = 0x403
	KindIndex         TypeKind = 0x405
	KindMember        TypeKind = 0x406
	KindStaticMember  TypeKind = 0x407
	KindMethods       TypeKind = 0x408
	KindNestedType    TypeKind = 0x409
	KindVtabPointer   TypeKind = 0x40a
)

// Common primitive type ids.
const (
	PrimVoid        = 0x0003
	PrimUChar       = 0x0020
	PrimULong       = 0x0022
	PrimInt32       = 0x0074
	PrimInt64       = 0x0076
	PrimVoidNear32P = 0x0403
	PrimCharNear32P = 0x0470
)

// Primitive is a built-in type identified only by its id.
type Primitive struct {
	ID uint16
}

// ModifierAttrs holds LF_MODIFIER attribute bits.
type ModifierAttrs uint16

// Modifier attribute bits.
const (
	ModConst     ModifierAttrs = 1
	ModVolatile  ModifierAttrs = 2
	ModUnaligned ModifierAttrs = 4
)

// Modifier applies const/volatile/unaligned to Type.
type Modifier struct {
	Attrs ModifierAttrs
	Type  TypeRef
}

// PointerKind is the addressing model of a pointer.
type PointerKind uint8

// Pointer kinds. Only the near forms appear in 32-bit images.
const (
	PtrNear   PointerKind = 0
	PtrFar    PointerKind = 1
	PtrHuge   PointerKind = 2
	PtrNear32 PointerKind = 10
	PtrFar32  PointerKind = 11
)

// PointerMode distinguishes plain pointers, references and pointers to members.
type PointerMode uint8

// Pointer modes.
const (
	ModePointer PointerMode = iota
	ModeReference
	ModeDataMember
	ModeMethod
)

// PointerFlags holds the attribute byte of a pointer.
type PointerFlags uint8

// Pointer attribute bits.
const (
	PtrFlat32    PointerFlags = 1
	PtrConst     PointerFlags = 2
	PtrVolatile  PointerFlags = 4
	PtrUnaligned PointerFlags = 8
)

// Pointer is a pointer or reference. Class and MemberFormat are only set for
// pointers to members.
type Pointer struct {
	Kind         PointerKind
	Mode         PointerMode
	Flags        PointerFlags
	Pointee      TypeRef
	MemberFormat int16
	Class        TypeRef
}

// Attr packs kind, mode and flags back into the 16-bit attribute word.
func (p *Pointer) Attr() uint16 {
	return uint16(p.Kind) | uint16(p.Mode)<<5 | uint16(p.Flags)<<8
}

// Array is a fixed-size C array. Length is in bytes.
type Array struct {
	Elem   TypeRef
	Index  TypeRef
	Name   string
	Length int64
}

// StructFlags holds TDS structure property bits.
type StructFlags uint16

// Structure property bits.
const (
	StructPacked    StructFlags = 0x001
	StructCtor      StructFlags = 0x002
	StructOverOpers StructFlags = 0x004
	StructIsNested  StructFlags = 0x008
	StructCNested   StructFlags = 0x010
	StructOpAssign  StructFlags = 0x020
	StructOpCast    StructFlags = 0x040
	StructFwdRef    StructFlags = 0x080
	StructDtor      StructFlags = 0x100
)

// Struct is a class or structure.
type Struct struct {
	IsClass    bool
	Count      uint16
	Members    TypeRef
	Flags      StructFlags
	Containing TypeRef
	Derivation TypeRef
	VTable     TypeRef
	Name       string
	Size       int64
}

// Union is a C union.
type Union struct {
	Count      uint16
	Members    TypeRef
	Flags      StructFlags
	Containing TypeRef
	Name       string
	Size       int64
}

// Enum is an enumeration; Values is its field list of enumerates.
type Enum struct {
	Count      uint16
	Underlying TypeRef
	Values     TypeRef
	Class      int32
	Name       string
}

// CallConv is a decoded calling-convention byte.
type CallConv struct {
	Kind    uint8
	VarArgs bool
}

// Procedure is a free function signature.
type Procedure struct {
	Return   TypeRef
	CallConv CallConv
	Reserved uint8
	NumArgs  int16
	Args     TypeRef
}

// MFunction is a member function signature.
type MFunction struct {
	Return     TypeRef
	Class      TypeRef
	This       TypeRef
	CallConv   CallConv
	Reserved   uint8
	NumArgs    int16
	Args       TypeRef
	ThisAdjust int32
}

// VtabShape lists one descriptor (0..6) per virtual table slot.
type VtabShape struct {
	Descriptors []uint8
}

// Label is a code label type (near or far).
type Label struct {
	Mode int16
}

// Set is a Pascal set over Base. Size is the storage size in bytes.
type Set struct {
	Base TypeRef
	Name string
	Low  int64
	Size int64
}

// Subrange is a Pascal subrange of Base.
type Subrange struct {
	Base TypeRef
	Name string
	Low  int64
	High int64
	Size int64
}

// PackedArray is a Pascal packed array.
type PackedArray struct {
	Elem     TypeRef
	Index    TypeRef
	Name     string
	Size     int64
	Elements int64
}

// ShortString is a Pascal length-prefixed short string.
type ShortString struct {
	Elem     TypeRef
	Index    TypeRef
	Name     string
	Unknown1 int16
	Unknown2 int16
}

// Closure is a Pascal method pointer ("procedure of object").
type Closure struct {
	Return   TypeRef
	CallConv CallConv
	Reserved uint8
	NumArgs  int16
	Args     TypeRef
}

// PropertyFlags holds Pascal property bits.
type PropertyFlags uint16

// Property bits.
const (
	PropDefault   PropertyFlags = 1
	PropHasReader PropertyFlags = 2
	PropHasWriter PropertyFlags = 4
)

// Accessor is a property reader or writer: a method name, or a slot when the
// corresponding Has flag is set.
type Accessor struct {
	Name string
	Slot int32
}

// Property is a Pascal class property.
type Property struct {
	Type      TypeRef
	Flags     PropertyFlags
	IndexType TypeRef
	Index     int32
	Reader    Accessor
	Writer    Accessor
}

// LongString is a Pascal AnsiString.
type LongString struct {
	Name string
}

// Variant is a Pascal Variant.
type Variant struct {
	Name string
}

// ClassRef is a Pascal class reference ("class of T").
type ClassRef struct {
	Base      TypeRef
	VtabShape TypeRef
}

// Unknown39 is an undocumented Pascal record carrying one word.
type Unknown39 struct {
	Value int32
}

// Opaque stands for a record with no payload (leaf 0xef).
type Opaque struct{}

// ArgList is an argument list.
type ArgList struct {
	Args []TypeRef
}

// FieldList is the ordered member list of a struct, union or enum.
type FieldList struct {
	Members []Member
}

// BitField is a bit-field member type.
type BitField struct {
	Length   uint8
	Position uint8
	Type     TypeRef
}

// MethodEntry is one overload in a method list.
type MethodEntry struct {
	Attr       MemberAttr
	Type       TypeRef
	Browser    int32
	VtabOffset int32
}

// MList is a method overload list.
type MList struct {
	Methods []MethodEntry
}

func (*Primitive) isType()   {}
func (*Modifier) isType()    {}
func (*Pointer) isType()     {}
func (*Array) isType()       {}
func (*Struct) isType()      {}
func (*Union) isType()       {}
func (*Enum) isType()        {}
func (*Procedure) isType()   {}
func (*MFunction) isType()   {}
func (*VtabShape) isType()   {}
func (*Label) isType()       {}
func (*Set) isType()         {}
func (*Subrange) isType()    {}
func (*PackedArray) isType() {}
func (*ShortString) isType() {}
func (*Closure) isType()     {}
func (*Property) isType()    {}
func (*LongString) isType()  {}
func (*Variant) isType()     {}
func (*ClassRef) isType()    {}
func (*Unknown39) isType()   {}
func (*Opaque) isType()      {}
func (*ArgList) isType()     {}
func (*FieldList) isType()   {}
func (*BitField) isType()    {}
func (*MList) isType()       {}
