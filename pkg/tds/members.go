package tds

// Member is one entry of a FieldList.
type Member interface {
	isMember()
}

// Access is the C++ access level of a member.
type Access uint8

// Access levels.
const (
	AccessNone Access = iota
	AccessPrivate
	AccessProtected
	AccessPublic
)

// MethodProp is the virtual-ness of a method.
type MethodProp uint8

// Method properties.
const (
	PropVanilla MethodProp = iota
	PropVirtual
	PropStatic
	PropFriend
	PropIntroVirtual
	PropPureVirtual
	PropPureIntroVirtual
)

// Introduces reports whether the method starts a new vtable slot; such
// methods carry a vtable offset.
func (p MethodProp) Introduces() bool {
	return p == PropIntroVirtual || p == PropPureIntroVirtual
}

// MemberAttr is a decoded member attribute word.
type MemberAttr struct {
	Access Access
	Prop   MethodProp
	Flags  uint16
}

// Encode packs the attribute into the CodeView field attribute layout. Only
// the three low TDS flag bits have CodeView counterparts.
func (a MemberAttr) Encode() uint16 {
	return uint16(a.Access) | uint16(a.Prop)<<2 | (a.Flags&7)<<5
}

// BaseClass is a direct non-virtual base.
type BaseClass struct {
	Class  TypeRef
	Attr   MemberAttr
	Offset int64
}

// VirtualBaseClass is a virtual base, directly or indirectly inherited.
type VirtualBaseClass struct {
	Direct    bool
	Class     TypeRef
	Pointer   TypeRef
	Attr      MemberAttr
	Offset    int64
	DispIndex int64
}

// Enumerate is one enumerator of an enum.
type Enumerate struct {
	Attr    uint16
	Name    string
	Browser int32
	Value   int64
}

// Index continues a member list in another FieldList record.
type Index struct {
	Continuation TypeRef
}

// DataMember is a non-static data member.
type DataMember struct {
	Type    TypeRef
	Attr    MemberAttr
	Name    string
	Browser int32
	Offset  int64
}

// StaticMember is a static data member.
type StaticMember struct {
	Type    TypeRef
	Attr    MemberAttr
	Name    string
	Browser int32
}

// Methods is an overload set; List points to an MList with Count entries.
type Methods struct {
	Count int16
	List  TypeRef
	Name  string
}

// OneMethod is a method with a single overload. TDS never stores it; the
// interner builds it from a one-entry Methods set.
type OneMethod struct {
	Attr       MemberAttr
	Type       TypeRef
	VtabOffset int32
	Name       string
}

// NestedType is a type declared inside a class.
type NestedType struct {
	Type    TypeRef
	Name    string
	Browser int32
}

// VtabPointer is the virtual table pointer of a class.
type VtabPointer struct {
	Type   TypeRef
	Offset int64
}

func (*BaseClass) isMember()        {}
func (*VirtualBaseClass) isMember() {}
func (*Enumerate) isMember()        {}
func (*Index) isMember()            {}
func (*DataMember) isMember()       {}
func (*StaticMember) isMember()     {}
func (*Methods) isMember()          {}
func (*OneMethod) isMember()        {}
func (*NestedType) isMember()       {}
func (*VtabPointer) isMember()      {}
