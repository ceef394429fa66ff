// Package logx is the slog handler used by the tds2pdb command: one line
// per record with a coloured level tag.
package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ColorMode selects when level tags are coloured.
type ColorMode string

const (
	ColorAuto ColorMode = "auto"
	ColorOn   ColorMode = "on"
	ColorOff  ColorMode = "off"
)

// ParseColorMode accepts auto, on and off.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(s)); m {
	case ColorAuto, ColorOn, ColorOff:
		return m, nil
	}
	return "", fmt.Errorf("invalid color mode %q: must be auto, on or off", s)
}

// Enabled reports whether output to w should be coloured.
func (m ColorMode) Enabled(w io.Writer) bool {
	switch m {
	case ColorOn:
		return true
	case ColorAuto:
		f, ok := w.(*os.File)
		return ok && IsTerminal(f)
	}
	return false
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Handler writes records as "LEVEL message key=value ...".
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	colors map[slog.Level]*color.Color
	attrs  []slog.Attr
	group  string
}

// NewHandler returns a handler writing records at or above level to w.
func NewHandler(w io.Writer, level slog.Leveler, mode ColorMode) *Handler {
	colors := map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.FgCyan),
		slog.LevelInfo:  color.New(color.FgGreen),
		slog.LevelWarn:  color.New(color.FgYellow, color.Bold),
		slog.LevelError: color.New(color.FgRed, color.Bold),
	}
	on := mode.Enabled(w)
	for _, c := range colors {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level, colors: colors}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.tag(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	h2.group = name
	return &h2
}

func (h *Handler) tag(level slog.Level) string {
	name := level.String()
	base := slog.LevelDebug
	for _, l := range []slog.Level{slog.LevelError, slog.LevelWarn, slog.LevelInfo} {
		if level >= l {
			base = l
			break
		}
	}
	return h.colors[base].Sprintf("%-5s", name)
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	s := a.Value.String()
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		s = fmt.Sprintf("%q", s)
	}
	b.WriteString(s)
}
