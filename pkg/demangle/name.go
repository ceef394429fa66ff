// Package demangle decodes Borland C++ and Delphi decorated names.
package demangle

import "strings"

// Special identifies a constructor, destructor or operator name.
type Special int

// Special names. SpecialNone marks an ordinary identifier.
const (
	SpecialNone Special = iota
	Ctor
	Dtor
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpInc
	OpDec
	OpAsg
	OpAddAsg
	OpSubAsg
	OpMulAsg
	OpDivAsg
	OpModAsg
	OpOrAsg
	OpAndAsg
	OpXorAsg
	OpShlAsg
	OpShrAsg
	OpCmp
	OpOr
	OpAnd
	OpXor
	OpShl
	OpShr
	OpNot
	OpEql
	OpNeq
	OpLss
	OpLeq
	OpGtr
	OpGeq
	OpAdr
	OpArrow
	OpSubscript
	OpCall
	OpIndirect
	OpNew
	OpNewArray
	OpDelete
	OpDeleteArray
)

// special maps the encoded token to its Special and the operator spelling.
var special = map[string]struct {
	kind Special
	op   string
}{
	"ctr":  {Ctor, ""},
	"dtr":  {Dtor, ""},
	"add":  {OpAdd, "+"},
	"sub":  {OpSub, "-"},
	"mul":  {OpMul, "*"},
	"div":  {OpDiv, "/"},
	"mod":  {OpMod, "%"},
	"inc":  {OpInc, "++"},
	"dec":  {OpDec, "--"},
	"asg":  {OpAsg, "="},
	"rplu": {OpAddAsg, "+="},
	"rmin": {OpSubAsg, "-="},
	"rmul": {OpMulAsg, "*="},
	"rdiv": {OpDivAsg, "/="},
	"rmod": {OpModAsg, "%="},
	"ror":  {OpOrAsg, "|="},
	"rand": {OpAndAsg, "&="},
	"rxor": {OpXorAsg, "^="},
	"rlsh": {OpShlAsg, "<<="},
	"rrsh": {OpShrAsg, ">>="},
	"cmp":  {OpCmp, "~"},
	"or":   {OpOr, "|"},
	"and":  {OpAnd, "&"},
	"xor":  {OpXor, "^"},
	"lsh":  {OpShl, "<<"},
	"rsh":  {OpShr, ">>"},
	"not":  {OpNot, "!"},
	"eql":  {OpEql, "=="},
	"neq":  {OpNeq, "!="},
	"lss":  {OpLss, "<"},
	"leq":  {OpLeq, "<="},
	"gtr":  {OpGtr, ">"},
	"geq":  {OpGeq, ">="},
	"adr":  {OpAdr, "&"},
	"arow": {OpArrow, "->"},
	"subs": {OpSubscript, "[]"},
	"call": {OpCall, "()"},
	"ind":  {OpIndirect, "*"},
	"new":  {OpNew, " new"},
	"nwa":  {OpNewArray, " new[]"},
	"dele": {OpDelete, " delete"},
	"dla":  {OpDeleteArray, " delete[]"},
}

var operators = func() map[Special]string {
	m := make(map[Special]string, len(special))
	for _, s := range special {
		m[s.kind] = s.op
	}
	return m
}()

// Name is a decoded, possibly qualified, possibly templated identifier.
type Name struct {
	Namespaces []*Name
	Tag        string
	// Params is nil for a non-template name and non-nil (possibly empty)
	// for a template instance.
	Params  []Param
	Special Special
}

// String renders the name the way a C++ debugger displays it.
func (n *Name) String() string {
	var sb strings.Builder
	for _, ns := range n.Namespaces {
		sb.WriteString(ns.String())
		sb.WriteString("::")
	}
	switch n.Special {
	case SpecialNone:
		sb.WriteString(n.Tag)
	case Ctor, Dtor:
		if n.Special == Dtor {
			sb.WriteByte('~')
		}
		if len(n.Namespaces) > 0 {
			sb.WriteString(n.Namespaces[len(n.Namespaces)-1].String())
		}
	default:
		sb.WriteString("operator")
		sb.WriteString(operators[n.Special])
	}
	if n.Params != nil {
		parts := make([]string, len(n.Params))
		for i, p := range n.Params {
			parts[i] = p.String()
		}
		sb.WriteByte('<')
		sb.WriteString(strings.Join(parts, ","))
		sb.WriteByte('>')
	}
	return sb.String()
}

// Param is a template argument.
type Param interface {
	String() string
	leaf() Param
}

// Imm is a literal template argument.
type Imm struct {
	Value string
}

// TagParam names a class or struct type.
type TagParam struct {
	Tag *Name
}

// Prim is a built-in type.
type Prim struct {
	Name     string
	Unsigned bool
	Signed   bool
}

// Pointer is a pointer or, with Ref set, a reference to Inner.
type Pointer struct {
	Ref   bool
	Inner Param
}

// Modifier is a const and/or volatile Inner.
type Modifier struct {
	Const    bool
	Volatile bool
	Inner    Param
}

// Func is a function signature.
type Func struct {
	Return Param
	Args   []Param
}

func (p *Imm) String() string { return p.Value }

func (p *TagParam) String() string { return p.Tag.String() }

func (p *Prim) String() string {
	s := p.Name
	if p.Signed {
		s = "signed " + s
	}
	if p.Unsigned {
		s = "unsigned " + s
	}
	return s
}

func (p *Pointer) String() string {
	if endsInFunc(p) {
		return p.renderFunc("")
	}
	if p.Ref {
		return p.Inner.String() + " &"
	}
	return p.Inner.String() + " *"
}

func (p *Modifier) String() string {
	if endsInFunc(p) {
		return p.renderFunc("")
	}
	return p.Inner.String() + " " + p.qualifiers()
}

func (p *Func) String() string { return p.renderFunc("") }

func (p *Imm) leaf() Param      { return p }
func (p *TagParam) leaf() Param { return p }
func (p *Prim) leaf() Param     { return p }
func (p *Func) leaf() Param     { return p }
func (p *Pointer) leaf() Param  { return p.Inner.leaf() }
func (p *Modifier) leaf() Param { return p.Inner.leaf() }

func (p *Modifier) qualifiers() string {
	var q []string
	if p.Const {
		q = append(q, "const")
	}
	if p.Volatile {
		q = append(q, "volatile")
	}
	return strings.Join(q, " ")
}

// endsInFunc reports whether a pointer/modifier chain ends in a function.
// A modifier applied directly to a function does not count.
func endsInFunc(p Param) bool {
	switch p := p.(type) {
	case *Pointer:
		if _, ok := p.Inner.(*Func); ok {
			return true
		}
		return endsInFunc(p.Inner)
	case *Modifier:
		switch p.Inner.(type) {
		case *Pointer, *Modifier:
			return endsInFunc(p.Inner)
		}
	}
	return false
}

func (p *Pointer) renderFunc(mods string) string {
	if mods != "" {
		mods = " " + mods
	}
	if p.Ref {
		mods = "&" + mods
	} else {
		mods = "*" + mods
	}
	return renderFunc(p.Inner, mods)
}

func (p *Modifier) renderFunc(mods string) string {
	if mods != "" {
		mods = " " + mods
	}
	return renderFunc(p.Inner, p.qualifiers()+mods)
}

func (p *Func) renderFunc(mods string) string {
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = a.String()
	}
	return p.Return.String() + "(" + mods + ")(" + strings.Join(args, ", ") + ")"
}

func renderFunc(inner Param, mods string) string {
	switch inner := inner.(type) {
	case *Func:
		return inner.renderFunc(mods)
	case *Pointer:
		return inner.renderFunc(mods)
	case *Modifier:
		return inner.renderFunc(mods)
	}
	return inner.String()
}
