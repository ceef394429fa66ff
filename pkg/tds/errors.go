package tds

import "errors"

var (
	// ErrMalformed reports a fixed-format field with an impossible value or
	// a read past the end of the image.
	ErrMalformed = errors.New("tds: malformed data")
	// ErrUnknownKind reports a subsection, type, member or symbol kind that
	// the reader does not know.
	ErrUnknownKind = errors.New("tds: unknown record kind")
	// ErrUnresolved reports a type or scope reference with no target.
	ErrUnresolved = errors.New("tds: unresolved reference")
)
