package pdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"fortio.org/safecast"
	"golang.org/x/sync/errgroup"

	"github.com/jtang613/tds2pdb/pkg/pdb/encoder"
	"github.com/jtang613/tds2pdb/pkg/pdb/intern"
	"github.com/jtang613/tds2pdb/pkg/pdb/msf"
	"github.com/jtang613/tds2pdb/pkg/pdb/streams"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// Options controls a conversion. Timestamp, GUID and Age are copied into
// the PDB info stream and must match what the executable is bound with.
type Options struct {
	Timestamp uint32
	GUID      [16]byte
	Age       uint32
	// PageSize defaults to msf.DefaultPageSize.
	PageSize uint32
	// Machine defaults to streams.MachineI386.
	Machine uint16
	// Jobs bounds how many module streams are encoded at once; values below
	// one mean one.
	Jobs int
	// Globals writes the global symbol stream and its hash index.
	Globals bool
	// Logger receives per-phase debug records. Nil means slog.Default.
	Logger *slog.Logger
}

// Stats describes a finished conversion.
type Stats struct {
	Modules         int `json:"modules"`
	ModuleStreams   int `json:"module_streams"`
	Types           int `json:"types"`
	Globals         int `json:"globals"`
	SkippedProcRefs int `json:"skipped_procrefs"`
	Streams         int `json:"streams"`
}

// Converter holds the state of one conversion: the parsed input, the type
// table and the streams produced so far.
type Converter struct {
	file *tds.File
	opts Options
	log  *slog.Logger

	types   *intern.Table
	modules []*encoder.ModuleSymbols
	streams [][]byte // streams 1..n
	stats   Stats
}

// NewConverter prepares the conversion of f.
func NewConverter(f *tds.File, opts Options) *Converter {
	if opts.PageSize == 0 {
		opts.PageSize = msf.DefaultPageSize
	}
	if opts.Machine == 0 {
		opts.Machine = streams.MachineI386
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Converter{file: f, opts: opts, log: opts.Logger}
}

// Convert writes the PDB for f to w.
func Convert(ctx context.Context, f *tds.File, w io.Writer, opts Options) (*Stats, error) {
	return NewConverter(f, opts).Run(ctx, w)
}

// Run interns the types, encodes every stream and writes the container to
// w. Nothing is written to w unless every stream was built.
func (c *Converter) Run(ctx context.Context, w io.Writer) (*Stats, error) {
	if err := c.internTypes(); err != nil {
		return nil, err
	}

	tpi, tpiHash, err := c.typeStream()
	if err != nil {
		return nil, err
	}

	mods, err := c.moduleStreams(ctx)
	if err != nil {
		return nil, err
	}

	dbiMods := make([]streams.DBIModule, len(c.file.Modules))
	next := streams.StreamFirstModule
	var moduleData [][]byte
	for i, mod := range c.file.Modules {
		dm := streams.DBIModule{
			Name:     mod.Name,
			Stream:   streams.NoStream,
			Segments: mod.Segments,
		}
		if mod.Sources != nil {
			for _, sf := range mod.Sources.Files {
				dm.Files = append(dm.Files, sf.Name)
			}
		}
		if len(mod.Symbols) > 0 || mod.Sources != nil {
			n, err := safecast.Conv[uint16](next)
			if err != nil || n == streams.NoStream {
				return nil, fmt.Errorf("%w: too many module streams", msf.ErrLayout)
			}
			dm.Stream = n
			dm.SymBytes = mods[i].SymBytes
			dm.Lines = mods[i].Lines
			moduleData = append(moduleData, mods[i].Data)
			next++
		}
		dbiMods[i] = dm
	}
	c.stats.Modules = len(c.file.Modules)
	c.stats.ModuleStreams = len(moduleData)

	dbi, err := streams.WriteDBI(c.opts.Age, c.opts.Machine, dbiMods)
	if err != nil {
		return nil, err
	}

	globalsHash, globals, err := c.globalStreams()
	if err != nil {
		return nil, err
	}

	c.streams = append([][]byte{
		streams.WriteInfo(c.opts.Timestamp, c.opts.Age, c.opts.GUID),
		tpi,
		dbi,
		tpiHash,
		globalsHash,
		globals,
	}, moduleData...)
	c.stats.Streams = len(c.streams) + 1
	c.log.Debug("streams encoded", "streams", c.stats.Streams, "module_streams", c.stats.ModuleStreams)

	if err := msf.Write(w, c.streams, c.opts.PageSize); err != nil {
		return nil, fmt.Errorf("failed to write PDB: %w", err)
	}
	stats := c.stats
	return &stats, nil
}

func (c *Converter) internTypes() error {
	tab, err := intern.Build(c.file, c.log)
	if err != nil {
		return err
	}
	if c.opts.Globals {
		if err := tab.AddSymbols(c.file.Globals); err != nil {
			return fmt.Errorf("failed to intern types of global symbols: %w", err)
		}
	}
	c.types = tab
	c.stats.Types = tab.Len()
	return nil
}

func (c *Converter) typeStream() ([]byte, []byte, error) {
	records, err := encoder.Types(c.types.Types(), c.types)
	if err != nil {
		return nil, nil, err
	}
	in := make([]streams.TypeHashInput, len(records))
	for i, t := range c.types.Types() {
		name, named := encoder.HashKey(t)
		in[i] = streams.TypeHashInput{Record: records[i], Name: name, Named: named}
	}
	tpi, hash, err := streams.WriteTPI(in)
	if err != nil {
		return nil, nil, err
	}
	c.log.Debug("type stream encoded", "types", len(records), "bytes", len(tpi))
	return tpi, hash, nil
}

// moduleStreams encodes every module's symbols and line table. The type
// table is complete at this point and only read, so modules are encoded
// in parallel.
func (c *Converter) moduleStreams(ctx context.Context) ([]*streams.ModuleStream, error) {
	n := len(c.file.Modules)
	c.modules = make([]*encoder.ModuleSymbols, n)
	out := make([]*streams.ModuleStream, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Jobs)
	for i, mod := range c.file.Modules {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			syms, err := encoder.Module(mod, c.types)
			if err != nil {
				return err
			}
			ms, err := streams.WriteModule(syms.Data, mod.Sources)
			if err != nil {
				return fmt.Errorf("failed to encode module %q: %w", mod.Name, err)
			}
			c.modules[i] = syms
			out[i] = ms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.log.Debug("module streams encoded", "modules", n, "jobs", c.opts.Jobs)
	return out, nil
}

// globalStreams returns the globals hash index and the global symbol
// stream, both empty unless Globals is set.
func (c *Converter) globalStreams() ([]byte, []byte, error) {
	if !c.opts.Globals {
		return nil, nil, nil
	}
	procs := encoder.NewProcIndex(c.file.Modules, c.modules)
	data, written, skipped, err := encoder.Globals(c.file.Globals, c.types, procs)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]streams.GlobalEntry, len(written))
	for i, g := range written {
		entries[i] = streams.GlobalEntry{Name: g.Name, Offset: g.Offset}
	}
	hash, err := streams.WriteGlobalsHash(entries)
	if err != nil {
		return nil, nil, err
	}
	if skipped > 0 {
		c.log.Debug("skipped procedure references without a defining procedure", "count", skipped)
	}
	c.stats.Globals = len(written)
	c.stats.SkippedProcRefs = skipped
	return hash, data, nil
}
