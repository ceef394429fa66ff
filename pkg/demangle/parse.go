package demangle

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrSyntax reports a name that does not match a grammar. Parse never returns
// it; it only reaches callers of the grammar functions inside this package.
var ErrSyntax = errors.New("demangle: syntax error")

// TruncatedLen is the name length at which TDS cuts names off. Names this long
// that fail to parse were most likely truncated.
const TruncatedLen = 253

// Parser decodes names and reports the ones it cannot decode.
type Parser struct {
	Logger *slog.Logger
}

// Parse decodes s. Undecorated names become a bare tag. A decorated name
// (leading '@') is tried against the newer grammar, then the older one; if
// both fail a warning is logged and the raw string is kept as the tag.
func (p *Parser) Parse(s string) *Name {
	if !strings.HasPrefix(s, "@") {
		return &Name{Tag: s}
	}
	body := s[1:]
	n, err := parseV2(body)
	if err == nil {
		return n
	}
	n, err1 := parseV1(body)
	if err1 == nil {
		return n
	}

	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"name", s, "error", err}
	if len(body) >= TruncatedLen {
		attrs = append(attrs, "truncated", true)
	}
	log.Warn("name cannot be parsed", attrs...)
	return &Name{Tag: s}
}

// Translate parses s and renders the result.
func (p *Parser) Translate(s string) string {
	return p.Parse(s).String()
}

var defaultParser Parser

// Parse decodes s with a parser that logs to slog.Default.
func Parse(s string) *Name { return defaultParser.Parse(s) }

// Translate renders s with a parser that logs to slog.Default.
func Translate(s string) string { return defaultParser.Translate(s) }

func syntaxErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func lookupSpecial(tok string) (Special, error) {
	s, ok := special[tok]
	if !ok {
		return SpecialNone, syntaxErr("unknown special name %q", tok)
	}
	return s.kind, nil
}

// backref returns params[n-1] for the digit c.
func backref(params []Param, c byte) (Param, error) {
	if !isDigit(c) {
		return nil, syntaxErr("back-reference %q is not a digit", c)
	}
	n := int(c - '0')
	if n < 1 || n > len(params) {
		return nil, syntaxErr("back-reference %d outside %d parameters", n, len(params))
	}
	return params[n-1], nil
}

// parseV2 decodes the newer encoding, where template arguments carry full
// type descriptions.
func parseV2(s string) (*Name, error) {
	var (
		res     = &Name{}
		tag     strings.Builder
		params  []Param
		state   int
		konst   strings.Builder
		spc     strings.Builder
		current Param
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case 0:
			switch c {
			case '@':
				res.Namespaces = append(res.Namespaces, &Name{Tag: tag.String(), Params: params})
				tag.Reset()
				params = nil
			case '%':
				params = []Param{}
				state = 1
			case '$':
				if tag.Len() == 0 {
					state = 9
				} else {
					state = 11
				}
			default:
				tag.WriteByte(c)
			}
		case 1:
			if c == '$' {
				state = 2
			} else {
				tag.WriteByte(c)
			}
		case 2:
			switch c {
			case 't':
				state = 12
			case '%':
				state = 0
			default:
				p, err := parseParam(s, &i)
				if err != nil {
					return nil, err
				}
				if p == nil {
					return nil, syntaxErr("unexpected %q in template arguments of %q", c, s)
				}
				current = p
				state = 3
			}
		case 3:
			if c == '$' {
				state = 4
			} else {
				params = append(params, current)
				state = 2
				i--
			}
		case 4:
			switch c {
			case 'i', 'g':
				konst.Reset()
				state = 5
			case 'e':
				i++
				p, err := parseVarRef(current, s, &i)
				if err != nil {
					return nil, err
				}
				params = append(params, p)
				state = 2
			default:
				return nil, syntaxErr("unexpected %q after template argument type in %q", c, s)
			}
		case 5:
			if c == '$' {
				params = append(params, &Imm{Value: konst.String()})
				state = 2
			} else {
				konst.WriteByte(c)
			}
		case 9:
			if c != 'b' {
				return nil, syntaxErr("unexpected %q in special name of %q", c, s)
			}
			spc.Reset()
			state = 10
		case 10:
			if c == '$' {
				k, err := lookupSpecial(spc.String())
				if err != nil {
					return nil, err
				}
				res.Special = k
				state = 11
			} else {
				spc.WriteByte(c)
			}
		case 11:
			// Argument signature; not needed for display.
		case 12:
			p, err := backref(params, c)
			if err != nil {
				return nil, err
			}
			params = append(params, p)
			state = 2
		}
	}
	if state != 0 && state != 11 {
		return nil, syntaxErr("unexpected end of %q in state %d", s, state)
	}
	res.Tag = tag.String()
	res.Params = params
	return res, nil
}

func primitive(c byte) *Prim {
	name, ok := map[byte]string{
		'c': "char", 'b': "wchar_t", 's': "short", 'v': "void", 'i': "int",
		'l': "long", 'j': "__int64", 'f': "float", 'd': "double",
		'g': "long double", 'o': "bool",
	}[c]
	if !ok {
		return nil
	}
	return &Prim{Name: name}
}

// chain builds a pointer/modifier wrapper chain while a type is parsed.
type chain struct {
	top     Param
	current Param
}

// wrap appends a pointer or modifier. Adjacent modifiers merge into one node.
func (ch *chain) wrap(p Param) {
	if ch.top == nil {
		ch.top, ch.current = p, p
		return
	}
	if cur, ok := ch.current.(*Modifier); ok {
		if m, ok := p.(*Modifier); ok {
			cur.Const = cur.Const || m.Const
			cur.Volatile = cur.Volatile || m.Volatile
			return
		}
	}
	setInner(ch.current, p)
	ch.current = p
}

// finish terminates the chain with p and returns the whole type.
func (ch *chain) finish(p Param) Param {
	if ch.current == nil {
		return p
	}
	setInner(ch.current, p)
	return ch.top
}

func setInner(wrapper, inner Param) {
	switch w := wrapper.(type) {
	case *Pointer:
		w.Inner = inner
	case *Modifier:
		w.Inner = inner
	}
}

// parseParam reads one type description starting at *pos. On return *pos is
// the index of its last character. It returns nil when s[*pos] cannot start a
// type, leaving *pos one before it.
func parseParam(s string, pos *int) (Param, error) {
	var (
		ch       chain
		state    int
		signed   bool
		unsigned bool
		length   int
	)
	for ; *pos < len(s); *pos++ {
		c := s[*pos]
		switch state {
		case 0:
			if isDigit(c) {
				length = int(c - '0')
				state = 1
				continue
			}
			if prim := primitive(c); prim != nil {
				prim.Signed, prim.Unsigned = signed, unsigned
				return ch.finish(prim), nil
			}
			switch c {
			case 'u':
				unsigned = true
			case 'z':
				signed = true
			case 'x':
				ch.wrap(&Modifier{Const: true})
			case 'w':
				ch.wrap(&Modifier{Volatile: true})
			case 'p', 'r':
				ch.wrap(&Pointer{Ref: c == 'r'})
			case 'q':
				*pos++
				fn, err := parseFunc(s, pos)
				if err != nil {
					return nil, err
				}
				return ch.finish(fn), nil
			default:
				*pos--
				return nil, nil
			}
		case 1:
			if isDigit(c) {
				length = length*10 + int(c-'0')
				continue
			}
			if *pos+length > len(s) {
				return nil, syntaxErr("type name length %d exceeds %q", length, s)
			}
			n, err := parseV2(s[*pos : *pos+length])
			if err != nil {
				return nil, err
			}
			*pos += length - 1
			return ch.finish(&TagParam{Tag: n}), nil
		}
	}
	return nil, nil
}

// parseFunc reads an argument list up to '$' and the return type after it.
func parseFunc(s string, pos *int) (*Func, error) {
	fn := &Func{}
	for ; *pos < len(s); *pos++ {
		c := s[*pos]
		switch c {
		case '$':
			*pos++
			ret, err := parseParam(s, pos)
			if err != nil {
				return nil, err
			}
			if ret == nil {
				return nil, syntaxErr("missing return type in %q", s)
			}
			fn.Return = ret
			return fn, nil
		case 't':
			*pos++
			if *pos >= len(s) {
				return nil, syntaxErr("unterminated argument back-reference in %q", s)
			}
			p, err := backref(fn.Args, s[*pos])
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, p)
		default:
			p, err := parseParam(s, pos)
			if err != nil {
				return nil, err
			}
			if p == nil {
				return nil, syntaxErr("unexpected %q in function arguments of %q", c, s)
			}
			fn.Args = append(fn.Args, p)
		}
	}
	return nil, syntaxErr("unexpected end of function type in %q", s)
}

// parseVarRef reads the name of a static variable passed as a template
// argument. For _GUID arguments the name may itself contain one '$' followed
// by an upper-case suffix; anything else after the '$' ends the reference at
// the '$'.
func parseVarRef(typ Param, s string, pos *int) (Param, error) {
	var (
		ref       strings.Builder
		isGUID    bool
		dollarPos = -1
		keep      int
		state     int
	)
	if tp, ok := typ.leaf().(*TagParam); ok {
		isGUID = tp.Tag.String() == "_GUID"
	}
	for ; *pos < len(s); *pos++ {
		c := s[*pos]
		switch state {
		case 0:
			if c != '$' {
				ref.WriteByte(c)
				continue
			}
			if !isGUID {
				return &Imm{Value: ref.String()}, nil
			}
			dollarPos, keep = *pos, ref.Len()
			ref.WriteByte('_')
			state = 1
		case 1:
			if c == '$' {
				return &Imm{Value: ref.String()}, nil
			}
			if c < 'A' || c > 'Z' {
				*pos = dollarPos
				return &Imm{Value: ref.String()[:keep]}, nil
			}
			ref.WriteByte(c)
		}
	}
	return nil, syntaxErr("unexpected end of variable reference in %q", s)
}
