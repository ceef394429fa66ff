package codeview

import "fmt"

// Type record leaves written to the TPI stream.
const (
	LF_VTSHAPE    = 0x000a
	LF_MODIFIER   = 0x1001
	LF_POINTER    = 0x1002
	LF_PROCEDURE  = 0x1008
	LF_MFUNCTION  = 0x1009
	LF_ARGLIST    = 0x1201
	LF_FIELDLIST  = 0x1203
	LF_BITFIELD   = 0x1205
	LF_METHODLIST = 0x1206
	LF_ARRAY      = 0x1503
	LF_CLASS      = 0x1504
	LF_STRUCTURE  = 0x1505
	LF_UNION      = 0x1506
	LF_ENUM       = 0x1507
)

// Field list member leaves.
const (
	LF_BCLASS    = 0x1400
	LF_VBCLASS   = 0x1401
	LF_IVBCLASS  = 0x1402
	LF_INDEX     = 0x1404
	LF_VFUNCTAB  = 0x1409
	LF_VFUNCOFF  = 0x140c
	LF_ENUMERATE = 0x1502
	LF_MEMBER    = 0x150d
	LF_STMEMBER  = 0x150e
	LF_METHOD    = 0x150f
	LF_NESTTYPE  = 0x1510
	LF_ONEMETHOD = 0x1511
)

// LF_PAD0 is the base of the pad bytes between field list members.
const LF_PAD0 = 0xf0

// Structure property bits (CV_prop_t).
const (
	PropPacked   = 0x0001
	PropCtor     = 0x0002
	PropOverOps  = 0x0004
	PropIsNested = 0x0008
	PropCNested  = 0x0010
	PropOpAssign = 0x0020
	PropOpCast   = 0x0040
	PropFwdRef   = 0x0080
)

// Built-in type indices below TypeIndexBegin: kind in bits 0-7, pointer mode
// in bits 8-11.
const (
	T_NOTYPE = 0x0000
	T_VOID   = 0x0003
	T_CHAR   = 0x0010
	T_SHORT  = 0x0011
	T_LONG   = 0x0012
	T_QUAD   = 0x0013
	T_UCHAR  = 0x0020
	T_USHORT = 0x0021
	T_ULONG  = 0x0022
	T_UQUAD  = 0x0023
	T_BOOL08 = 0x0030
	T_BOOL32 = 0x0032
	T_REAL32 = 0x0040
	T_REAL64 = 0x0041
	T_REAL80 = 0x0042
	T_RCHAR  = 0x0070
	T_WCHAR  = 0x0071
	T_INT2   = 0x0072
	T_UINT2  = 0x0073
	T_INT4   = 0x0074
	T_UINT4  = 0x0075
	T_INT8   = 0x0076
	T_UINT8  = 0x0077

	T_32PVOID  = 0x0403
	T_32PRCHAR = 0x0470
)

// TypeIndexBegin is the first index of a type record; smaller indices name
// built-in types.
const TypeIndexBegin = 0x1000

// Pointer modes of a built-in type index.
const (
	TM_DIRECT = 0
	TM_NPTR   = 1
	TM_FPTR   = 2
	TM_HPTR   = 3
	TM_NPTR32 = 4
	TM_FPTR32 = 5
	TM_NPTR64 = 6
)

// BuiltinTypeName returns a C spelling of a built-in type index.
func BuiltinTypeName(index uint32) string {
	if index >= TypeIndexBegin {
		return ""
	}

	var base string
	switch index & 0xff {
	case T_NOTYPE:
		base = "<no type>"
	case T_VOID:
		base = "void"
	case T_CHAR, T_RCHAR:
		base = "char"
	case T_SHORT, T_INT2:
		base = "short"
	case T_LONG:
		base = "long"
	case T_QUAD, T_INT8:
		base = "__int64"
	case T_UCHAR:
		base = "unsigned char"
	case T_USHORT, T_UINT2:
		base = "unsigned short"
	case T_ULONG:
		base = "unsigned long"
	case T_UQUAD, T_UINT8:
		base = "unsigned __int64"
	case T_BOOL08:
		base = "bool"
	case T_BOOL32:
		base = "BOOL"
	case T_REAL32:
		base = "float"
	case T_REAL64:
		base = "double"
	case T_REAL80:
		base = "long double"
	case T_WCHAR:
		base = "wchar_t"
	case T_INT4:
		base = "int"
	case T_UINT4:
		base = "unsigned int"
	default:
		return fmt.Sprintf("builtin_0x%04x", index)
	}

	switch (index >> 8) & 0xf {
	case TM_DIRECT:
		return base
	case TM_FPTR, TM_FPTR32:
		return base + " far*"
	case TM_HPTR:
		return base + " huge*"
	default:
		return base + "*"
	}
}

// LeafKindName returns the name of a type or member leaf.
func LeafKindName(kind uint16) string {
	switch kind {
	case LF_VTSHAPE:
		return "LF_VTSHAPE"
	case LF_MODIFIER:
		return "LF_MODIFIER"
	case LF_POINTER:
		return "LF_POINTER"
	case LF_PROCEDURE:
		return "LF_PROCEDURE"
	case LF_MFUNCTION:
		return "LF_MFUNCTION"
	case LF_ARGLIST:
		return "LF_ARGLIST"
	case LF_FIELDLIST:
		return "LF_FIELDLIST"
	case LF_BITFIELD:
		return "LF_BITFIELD"
	case LF_METHODLIST:
		return "LF_METHODLIST"
	case LF_ARRAY:
		return "LF_ARRAY"
	case LF_CLASS:
		return "LF_CLASS"
	case LF_STRUCTURE:
		return "LF_STRUCTURE"
	case LF_UNION:
		return "LF_UNION"
	case LF_ENUM:
		return "LF_ENUM"
	case LF_BCLASS:
		return "LF_BCLASS"
	case LF_VBCLASS:
		return "LF_VBCLASS"
	case LF_IVBCLASS:
		return "LF_IVBCLASS"
	case LF_INDEX:
		return "LF_INDEX"
	case LF_VFUNCTAB:
		return "LF_VFUNCTAB"
	case LF_VFUNCOFF:
		return "LF_VFUNCOFF"
	case LF_ENUMERATE:
		return "LF_ENUMERATE"
	case LF_MEMBER:
		return "LF_MEMBER"
	case LF_STMEMBER:
		return "LF_STMEMBER"
	case LF_METHOD:
		return "LF_METHOD"
	case LF_NESTTYPE:
		return "LF_NESTTYPE"
	case LF_ONEMETHOD:
		return "LF_ONEMETHOD"
	default:
		return fmt.Sprintf("LF_0x%04x", kind)
	}
}
