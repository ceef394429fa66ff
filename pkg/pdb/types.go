// Package pdb converts TDS debug information to PDB files and inspects the
// PDB files it writes.
package pdb

// PDBInfo contains basic PDB file information.
type PDBInfo struct {
	GUID         string            `json:"guid"`
	Age          uint32            `json:"age"`
	Signature    uint32            `json:"signature"`
	Version      uint32            `json:"version"`
	Machine      string            `json:"machine"`
	Streams      int               `json:"streams"`
	PageSize     uint32            `json:"page_size"`
	Types        int               `json:"types"`
	NamedStreams map[string]uint32 `json:"named_streams,omitempty"`
}

// ModuleInfo represents information about a compiled module.
type ModuleInfo struct {
	Index        int      `json:"index"` // 1-based
	Name         string   `json:"name"`
	ObjectFile   string   `json:"object_file"`
	SymbolStream uint16   `json:"symbol_stream"`
	SymbolSize   uint32   `json:"symbol_size"`
	LineSize     uint32   `json:"line_size"`
	SourceFiles  []string `json:"source_files,omitempty"`
}

// Symbol is one record of a module or global symbol stream.
type Symbol struct {
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	Offset    uint32 `json:"offset"` // record offset in its stream
	Segment   uint16 `json:"segment,omitempty"`
	Address   uint32 `json:"address,omitempty"`
	Length    uint32 `json:"length,omitempty"`
	TypeIndex uint32 `json:"type_index,omitempty"`
	TypeName  string `json:"type_name,omitempty"`
	Module    string `json:"module,omitempty"`
}

// Function represents a function/procedure symbol.
type Function struct {
	Name      string `json:"name"`
	Offset    uint32 `json:"offset"`
	Segment   uint16 `json:"segment"`
	Length    uint32 `json:"length"`
	TypeIndex uint32 `json:"type_index"`
	Signature string `json:"signature"`
	IsGlobal  bool   `json:"is_global"`
	Module    string `json:"module,omitempty"`
}

// Variable represents a data/variable symbol.
type Variable struct {
	Name      string `json:"name"`
	Offset    uint32 `json:"offset"`
	Segment   uint16 `json:"segment"`
	TypeIndex uint32 `json:"type_index"`
	TypeName  string `json:"type_name"`
	IsGlobal  bool   `json:"is_global"`
	Module    string `json:"module,omitempty"`
}

// TypeInfo represents a parsed type.
type TypeInfo struct {
	Index     uint32   `json:"index"`
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Size      int64    `json:"size,omitempty"`
	Signature string   `json:"signature"`
	Members   []Member `json:"members,omitempty"`
}

// Member represents a struct/class/union member or an enumerator, whose
// Offset holds its value.
type Member struct {
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	TypeName string `json:"type_name,omitempty"`
	Offset   int64  `json:"offset"`
}
