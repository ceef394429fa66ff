package tds

// Symbol is one record of a module or global symbol table.
type Symbol interface {
	isSymbol()
}

// SymbolKind is the record tag of a TDS symbol.
type SymbolKind uint16

// Symbol record tags.
const (
	SymCompile    SymbolKind = 0x0001
	SymRegister   SymbolKind = 0x0002
	SymConstant   SymbolKind = 0x0003
	SymUDT        SymbolKind = 0x0004
	SymSearch     SymbolKind = 0x0005
	SymEnd        SymbolKind = 0x0006
	SymGProcRef   SymbolKind = 0x0020
	SymGDataRef   SymbolKind = 0x0021
	SymUses       SymbolKind = 0x0024
	SymNamespace  SymbolKind = 0x0025
	SymUsing      SymbolKind = 0x0026
	SymPConstant  SymbolKind = 0x0027
	SymBPRel32    SymbolKind = 0x0200
	SymLData32    SymbolKind = 0x0201
	SymGData32    SymbolKind = 0x0202
	SymLProc32    SymbolKind = 0x0204
	SymGProc32    SymbolKind = 0x0205
	SymThunk32    SymbolKind = 0x0206
	SymBlock32    SymbolKind = 0x0207
	SymWith32     SymbolKind = 0x0208
	SymLabel32    SymbolKind = 0x0209
	SymEntry32    SymbolKind = 0x0210
	SymOptVar32   SymbolKind = 0x0211
	SymProcRet32  SymbolKind = 0x0212
	SymSaveRegs32 SymbolKind = 0x0213
	SymSLink32    SymbolKind = 0x0230
)

// Compile describes the compiler that produced a module.
type Compile struct {
	Machine      uint8
	Language     uint8
	PCode        bool
	FPUPrecision uint8
	FPU          uint8
	AmbientData  uint8
	AmbientCode  uint8
	Mode32       bool
	CharSigned   bool
	Compiler     string
}

// Register is a variable held in a register.
type Register struct {
	Type     TypeRef
	Register int16
	Name     string
	Browser  int32
}

// Constant is a named constant.
type Constant struct {
	Type    TypeRef
	Name    string
	Browser int32
	Value   int64
}

// UDT binds a name to a user-defined type.
type UDT struct {
	Type    TypeRef
	Flags   int16
	Name    string
	Browser int32
}

// Search is the start-search record of a module.
type Search struct {
	Offset    int32
	Segment   int16
	CodeSyms  int16
	DataSyms  int16
	FirstData int32
}

// End closes the innermost open scope. Offset is the record's position in
// its symbol table, which also keeps every End a distinct value.
type End struct {
	Offset int32
}

// GProcRef points from the global table at a procedure.
type GProcRef struct {
	Unknown1 int32
	Type     TypeRef
	Name     string
	Unknown2 int32
	Offset   int32
	Segment  int16
	Unknown3 int32
}

// GDataRef points from the global table at a data symbol.
type GDataRef struct {
	Unknown1 int32
	Type     TypeRef
	Name     string
	Unknown2 int32
	Offset   int32
	Segment  int16
}

// BPRel32 is a frame-relative local variable.
type BPRel32 struct {
	Offset  int32
	Type    TypeRef
	Name    string
	Browser int32
}

// Data32 is a local (file static) or global variable.
type Data32 struct {
	Global  bool
	Offset  int32
	Segment int16
	Flags   int16
	Type    TypeRef
	Name    string
	Browser int32
}

// Scope carries the lexical links of procedures, thunks and blocks. The raw
// offsets are relative to the start of the owning subsection; the symbol
// links are filled in once the whole table has been read.
type Scope struct {
	ParentOffset int32
	EndOffset    int32
	NextOffset   int32
	Parent       Symbol
	End          Symbol
	Next         Symbol
}

// Scoped is implemented by symbols that open a lexical scope.
type Scoped interface {
	Symbol
	ScopeLinks() *Scope
}

// Proc32 is a local or global procedure.
type Proc32 struct {
	Scope
	Global   bool
	Size     int32
	DbgStart int32
	DbgEnd   int32
	Offset   int32
	Segment  int16
	Unknown  int16
	Type     TypeRef
	Name     string
	Unknown2 int32
}

// Thunk kinds.
const (
	ThunkNoType   = 0
	ThunkAdjustor = 1
	ThunkVCall    = 2
	ThunkPCode    = 3
)

// Thunk32 is a compiler-generated trampoline.
type Thunk32 struct {
	Scope
	Offset  int32
	Segment int16
	Length  int16
	Kind    uint8
	Name    string
	// Adjustor thunks only.
	Adjust int32
	Target string
}

// Block32 is a nested lexical block. It has no Next link.
type Block32 struct {
	Scope
	Length  int32
	Offset  int32
	Segment int16
	Name    string
}

// With32 is a Pascal with-statement scope. It has no end or sibling links,
// only a parent.
type With32 struct {
	ParentOffset int32
	Parent       Symbol
	Length       int32
	Offset       int32
	Segment      int16
	Flags        int16
	Type         int32
	Name         string
	VarOffset    int32
}

// Label32 is a code label.
type Label32 struct {
	Offset  int32
	Segment int16
	Flags   uint8
	Name    string
	Unknown int32
}

// Entry32 marks a procedure entry point.
type Entry32 struct {
	Offset  int32
	Segment int16
}

// OptVar32 describes an optimized variable's live range.
type OptVar32 struct {
	Unknown  int16
	Start    int32
	Length   int32
	Register int16
}

// ProcRet32 marks a procedure return.
type ProcRet32 struct {
	Offset int32
	Length int16
}

// SaveRegs32 lists registers saved by a procedure.
type SaveRegs32 struct {
	Flags int16
}

// Uses lists the Pascal units a module uses.
type Uses struct {
	Units []string
}

// Namespace opens a C++ namespace.
type Namespace struct {
	Name       string
	Browser    int32
	UsingCount int16
}

// Using lists namespaces brought into scope.
type Using struct {
	Names []string
}

// PConstant is a Pascal typed constant.
type PConstant struct {
	Type     TypeRef
	Property int16
	Name     string
	Browser  int32
	Value    int32
}

// SLink32 is a static-link frame slot.
type SLink32 struct {
	Offset int32
}

// ScopeLinks implements Scoped.
func (p *Proc32) ScopeLinks() *Scope { return &p.Scope }

// ScopeLinks implements Scoped.
func (t *Thunk32) ScopeLinks() *Scope { return &t.Scope }

// ScopeLinks implements Scoped.
func (b *Block32) ScopeLinks() *Scope { return &b.Scope }

func (*Compile) isSymbol()    {}
func (*Register) isSymbol()   {}
func (*Constant) isSymbol()   {}
func (*UDT) isSymbol()        {}
func (*Search) isSymbol()     {}
func (*End) isSymbol()        {}
func (*GProcRef) isSymbol()   {}
func (*GDataRef) isSymbol()   {}
func (*BPRel32) isSymbol()    {}
func (*Data32) isSymbol()     {}
func (*Proc32) isSymbol()     {}
func (*Thunk32) isSymbol()    {}
func (*Block32) isSymbol()    {}
func (*With32) isSymbol()     {}
func (*Label32) isSymbol()    {}
func (*Entry32) isSymbol()    {}
func (*OptVar32) isSymbol()   {}
func (*ProcRet32) isSymbol()  {}
func (*SaveRegs32) isSymbol() {}
func (*Uses) isSymbol()       {}
func (*Namespace) isSymbol()  {}
func (*Using) isSymbol()      {}
func (*PConstant) isSymbol()  {}
func (*SLink32) isSymbol()    {}
