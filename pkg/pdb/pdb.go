package pdb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jtang613/tds2pdb/pkg/pdb/codeview"
	"github.com/jtang613/tds2pdb/pkg/pdb/msf"
	"github.com/jtang613/tds2pdb/pkg/pdb/streams"
)

// PDB represents an opened PDB file.
type PDB struct {
	msf   *msf.MSF
	info  *streams.Info
	tpi   *streams.TPIStream
	dbi   *streams.DBIStream
	names *typeNamer

	// Cached results
	functions []Function
	variables []Variable
}

// Open opens a PDB file and parses its core structures.
func Open(path string) (*PDB, error) {
	m, err := msf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MSF: %w", err)
	}
	p, err := load(m)
	if err != nil {
		m.Close()
		return nil, err
	}
	return p, nil
}

// NewReader parses a PDB held by r.
func NewReader(r io.ReaderAt) (*PDB, error) {
	m, err := msf.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open MSF: %w", err)
	}
	return load(m)
}

func load(m *msf.MSF) (*PDB, error) {
	p := &PDB{msf: m}

	reader, err := m.StreamReader(streams.StreamInfo)
	if err != nil {
		return nil, err
	}
	if p.info, err = streams.ReadInfo(reader); err != nil {
		return nil, err
	}

	data, err := m.ReadStream(streams.StreamTPI)
	if err != nil {
		return nil, err
	}
	if p.tpi, err = streams.ReadTPIStream(data); err != nil {
		return nil, err
	}
	p.names = &typeNamer{tpi: p.tpi}

	data, err = m.ReadStream(streams.StreamDBI)
	if err != nil {
		return nil, err
	}
	if p.dbi, err = streams.ReadDBIStream(data); err != nil {
		return nil, err
	}
	return p, nil
}

// Close closes the PDB file.
func (p *PDB) Close() error {
	return p.msf.Close()
}

// Info returns basic PDB file information.
func (p *PDB) Info() *PDBInfo {
	return &PDBInfo{
		GUID:         p.info.GUIDString(),
		Age:          p.info.Age,
		Signature:    p.info.Signature,
		Version:      p.info.Version,
		Machine:      streams.MachineTypeName(p.dbi.Header.Machine),
		Streams:      p.msf.NumStreams(),
		PageSize:     p.msf.BlockSize(),
		Types:        p.tpi.NumTypes(),
		NamedStreams: p.info.NamedStreams,
	}
}

// Identity returns the timestamp, GUID and age an executable must carry to
// match this PDB.
func (p *PDB) Identity() (timestamp uint32, guid [16]byte, age uint32) {
	return p.info.Signature, p.info.GUID, p.info.Age
}

// Modules returns information about compiled modules.
func (p *PDB) Modules() []ModuleInfo {
	modules := make([]ModuleInfo, len(p.dbi.Modules))
	for i, mod := range p.dbi.Modules {
		modules[i] = ModuleInfo{
			Index:        i + 1,
			Name:         mod.ModuleName,
			ObjectFile:   mod.ObjFileName,
			SymbolStream: mod.ModuleSymStream,
			SymbolSize:   mod.SymByteSize,
			LineSize:     mod.C11ByteSize,
			SourceFiles:  mod.SourceFiles,
		}
	}
	return modules
}

// Symbols returns the symbols of the 1-based module index.
func (p *PDB) Symbols(module int) ([]Symbol, error) {
	if module < 1 || module > len(p.dbi.Modules) {
		return nil, fmt.Errorf("module %d out of range [1, %d]", module, len(p.dbi.Modules))
	}
	mod := &p.dbi.Modules[module-1]
	if !mod.HasSymbols() {
		return nil, nil
	}
	recs, err := p.moduleRecords(mod)
	if err != nil {
		return nil, err
	}
	syms := make([]Symbol, 0, len(recs))
	for _, rec := range recs {
		syms = append(syms, p.symbol(rec, mod.ModuleName))
	}
	return syms, nil
}

// AllSymbols returns the symbols of every module in order.
func (p *PDB) AllSymbols() ([]Symbol, error) {
	var all []Symbol
	for i := range p.dbi.Modules {
		syms, err := p.Symbols(i + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to read symbols of module %d: %w", i+1, err)
		}
		all = append(all, syms...)
	}
	return all, nil
}

// Globals returns the records of the global symbol stream.
func (p *PDB) Globals() ([]Symbol, error) {
	recs, err := p.globalRecords()
	if err != nil {
		return nil, err
	}
	syms := make([]Symbol, 0, len(recs))
	for _, rec := range recs {
		s := p.symbol(rec, "")
		if rec.Kind == codeview.S_PROCREF || rec.Kind == codeview.S_LPROCREF {
			if ref, err := codeview.ParseProcRefSym(rec.Data); err == nil && ref.Module >= 1 && int(ref.Module) <= len(p.dbi.Modules) {
				s.Module = p.dbi.Modules[ref.Module-1].ModuleName
			}
		}
		syms = append(syms, s)
	}
	return syms, nil
}

// GlobalsHash returns the global symbol record offsets listed by the
// globals index, in bucket order. It is empty when no index was written.
func (p *PDB) GlobalsHash() ([]uint32, error) {
	if p.dbi.Header.GlobalStreamIndex == streams.NoStream {
		return nil, nil
	}
	data, err := p.msf.ReadStream(int(p.dbi.Header.GlobalStreamIndex))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	return streams.ReadGlobalsHash(data)
}

func (p *PDB) moduleRecords(mod *streams.ModuleInfo) ([]codeview.SymbolRecord, error) {
	data, err := p.msf.ReadStream(int(mod.ModuleSymStream))
	if err != nil {
		return nil, err
	}
	// Only read SymByteSize bytes for symbols
	if uint32(len(data)) > mod.SymByteSize {
		data = data[:mod.SymByteSize]
	}
	return codeview.ParseSymbols(data)
}

func (p *PDB) globalRecords() ([]codeview.SymbolRecord, error) {
	if p.dbi.Header.SymRecordStream == streams.NoStream {
		return nil, nil
	}
	data, err := p.msf.ReadStream(int(p.dbi.Header.SymRecordStream))
	if err != nil {
		return nil, err
	}
	return codeview.ParseSymbols(data)
}

func (p *PDB) symbol(rec codeview.SymbolRecord, module string) Symbol {
	s := Symbol{Kind: codeview.SymbolKindName(rec.Kind), Offset: rec.Offset, Module: module}
	switch {
	case codeview.IsProcSymbol(rec.Kind):
		if proc, err := codeview.ParseProcSym(rec.Data); err == nil {
			s.Name, s.Segment, s.Address = proc.Name, proc.Segment, proc.Offset
			s.Length, s.TypeIndex = proc.Length, proc.TypeIndex
		}
	case codeview.IsDataSymbol(rec.Kind):
		if d, err := codeview.ParseDataSym(rec.Data); err == nil {
			s.Name, s.Segment, s.Address, s.TypeIndex = d.Name, d.Segment, d.Offset, d.TypeIndex
		}
	case rec.Kind == codeview.S_UDT:
		if u, err := codeview.ParseUDTSym(rec.Data); err == nil {
			s.Name, s.TypeIndex = u.Name, u.TypeIndex
		}
	case rec.Kind == codeview.S_CONSTANT:
		if c, err := codeview.ParseConstantSym(rec.Data); err == nil {
			s.Name, s.TypeIndex = c.Name, c.TypeIndex
		}
	case rec.Kind == codeview.S_BPREL32:
		if b, err := codeview.ParseBPRelSym(rec.Data); err == nil {
			s.Name, s.TypeIndex = b.Name, b.TypeIndex
			s.Address = uint32(b.Offset)
		}
	case rec.Kind == codeview.S_BLOCK32:
		if b, err := codeview.ParseBlockSym(rec.Data); err == nil {
			s.Name, s.Segment, s.Address, s.Length = b.Name, b.Segment, b.Offset, b.Length
		}
	case rec.Kind == codeview.S_THUNK32:
		if t, err := codeview.ParseThunkSym(rec.Data); err == nil {
			s.Name, s.Segment, s.Address, s.Length = t.Name, t.Segment, t.Offset, uint32(t.Length)
		}
	case rec.Kind == codeview.S_PROCREF || rec.Kind == codeview.S_LPROCREF:
		if r, err := codeview.ParseProcRefSym(rec.Data); err == nil {
			s.Name, s.Address = r.Name, r.SymOffset
		}
	case rec.Kind == codeview.S_COMPILE2:
		if c, err := codeview.ParseCompileSym(rec.Data); err == nil {
			s.Name = c.Version
		}
	}
	if s.TypeIndex != 0 {
		s.TypeName = p.names.Name(s.TypeIndex)
	}
	return s
}

// Functions returns all procedures of the module streams.
func (p *PDB) Functions() ([]Function, error) {
	if p.functions != nil {
		return p.functions, nil
	}
	functions := make([]Function, 0)
	err := p.eachModuleRecord(func(rec codeview.SymbolRecord, module string) {
		if !codeview.IsProcSymbol(rec.Kind) {
			return
		}
		proc, err := codeview.ParseProcSym(rec.Data)
		if err != nil {
			return
		}
		functions = append(functions, Function{
			Name:      proc.Name,
			Offset:    proc.Offset,
			Segment:   proc.Segment,
			Length:    proc.Length,
			TypeIndex: proc.TypeIndex,
			Signature: p.names.Name(proc.TypeIndex),
			IsGlobal:  codeview.IsGlobalSymbol(rec.Kind),
			Module:    module,
		})
	})
	if err != nil {
		return nil, err
	}
	p.functions = functions
	return functions, nil
}

// Variables returns all global and static variables, from the module
// streams and the global symbol stream.
func (p *PDB) Variables() ([]Variable, error) {
	if p.variables != nil {
		return p.variables, nil
	}
	variables := make([]Variable, 0)
	add := func(rec codeview.SymbolRecord, module string) {
		if !codeview.IsDataSymbol(rec.Kind) {
			return
		}
		d, err := codeview.ParseDataSym(rec.Data)
		if err != nil {
			return
		}
		variables = append(variables, Variable{
			Name:      d.Name,
			Offset:    d.Offset,
			Segment:   d.Segment,
			TypeIndex: d.TypeIndex,
			TypeName:  p.names.Name(d.TypeIndex),
			IsGlobal:  codeview.IsGlobalSymbol(rec.Kind),
			Module:    module,
		})
	}
	globals, err := p.globalRecords()
	if err != nil {
		return nil, err
	}
	for _, rec := range globals {
		add(rec, "")
	}
	if err := p.eachModuleRecord(add); err != nil {
		return nil, err
	}
	p.variables = variables
	return variables, nil
}

func (p *PDB) eachModuleRecord(fn func(rec codeview.SymbolRecord, module string)) error {
	for i := range p.dbi.Modules {
		mod := &p.dbi.Modules[i]
		if !mod.HasSymbols() {
			continue
		}
		recs, err := p.moduleRecords(mod)
		if err != nil {
			return fmt.Errorf("failed to read symbols of module %q: %w", mod.ModuleName, err)
		}
		for _, rec := range recs {
			fn(rec, mod.ModuleName)
		}
	}
	return nil
}

// Types returns all named types from the TPI stream.
func (p *PDB) Types() []TypeInfo {
	var types []TypeInfo
	for i := range p.tpi.TypeRecords {
		rec := &p.tpi.TypeRecords[i]
		name, _, ok := udtName(rec)
		if !ok || name == "" {
			continue
		}
		if ti := p.ResolveType(rec.Index); ti != nil {
			types = append(types, *ti)
		}
	}
	return types
}

// ResolveType resolves a type index to a TypeInfo.
func (p *PDB) ResolveType(index uint32) *TypeInfo {
	if index < codeview.TypeIndexBegin {
		name := codeview.BuiltinTypeName(index)
		return &TypeInfo{Index: index, Kind: "builtin", Name: name, Signature: name}
	}

	rec := p.tpi.GetType(index)
	if rec == nil {
		return nil
	}
	ti := &TypeInfo{
		Index:     index,
		Kind:      kindName(rec.Kind),
		Signature: p.names.Name(index),
	}
	switch rec.Kind {
	case codeview.LF_STRUCTURE, codeview.LF_CLASS, codeview.LF_UNION:
		ti.Name, ti.Size, _ = udtName(rec)
		if len(rec.Data) >= 8 {
			ti.Members = p.names.members(binary.LittleEndian.Uint32(rec.Data[4:]))
		}
	case codeview.LF_ENUM:
		ti.Name, _, _ = udtName(rec)
		if _, fields, ok := enumFields(rec.Data); ok {
			ti.Members = p.names.members(fields)
		}
	}
	return ti
}

// TypeCount returns the number of types in the TPI stream.
func (p *PDB) TypeCount() int {
	return p.tpi.NumTypes()
}

// Stream returns the raw contents of stream index.
func (p *PDB) Stream(index int) ([]byte, error) {
	return p.msf.ReadStream(index)
}
