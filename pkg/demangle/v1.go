package demangle

import "strings"

// parseV1 decodes the older encoding: template arguments are either a
// length-prefixed class name or an integer constant.
func parseV1(s string) (*Name, error) {
	var (
		res    = &Name{}
		tag    strings.Builder
		params []Param
		state  int
		konst  strings.Builder
		length int
		spc    strings.Builder
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
				if tag.Len() != 0 {
					return nil, syntaxErr("template marker after %q in %q", tag.String(), s)
				}
				params = []Param{}
				state = 1
			case '$':
				if tag.Len() == 0 {
					state = 12
				} else {
					state = 14
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
			case 'i':
				state = 9
			case 'u':
				// unsigned marker; the constant renders the same either way
			case 't':
				length = 0
				state = 8
			case '%':
				state = 0
			default:
				return nil, syntaxErr("unexpected %q in template arguments of %q", c, s)
			}
		case 5:
			if isDigit(c) {
				konst.WriteByte(c)
			} else {
				params = append(params, &Imm{Value: konst.String()})
				state = 11
				i--
			}
		case 8:
			if isDigit(c) {
				length = length*10 + int(c-'0')
				continue
			}
			if i+length > len(s) {
				return nil, syntaxErr("type name length %d exceeds %q", length, s)
			}
			n, err := parseV1(s[i : i+length])
			if err != nil {
				return nil, err
			}
			params = append(params, &TagParam{Tag: n})
			i += length - 1
			state = 11
		case 9:
			if c == 'c' {
				state = 10
			}
		case 10:
			if c != '$' {
				return nil, syntaxErr("unexpected %q in constant of %q", c, s)
			}
			konst.Reset()
			state = 5
		case 11:
			switch c {
			case '$':
				state = 2
			case '%':
				state = 2
				i--
			}
		case 12:
			if c != 'b' {
				return nil, syntaxErr("unexpected %q in special name of %q", c, s)
			}
			spc.Reset()
			state = 13
		case 13:
			if c == '$' {
				k, err := lookupSpecial(spc.String())
				if err != nil {
					return nil, err
				}
				res.Special = k
				state = 14
			} else {
				spc.WriteByte(c)
			}
		case 14:
			// Argument signature; not needed for display.
		}
	}
	if state != 0 && state != 14 {
		return nil, syntaxErr("unexpected end of %q in state %d", s, state)
	}
	res.Tag = tag.String()
	res.Params = params
	return res, nil
}
