// Package link implements the section aggregator, layout engine, symbol
// resolver, import synthesizer, relocation applier, and PE writer (C5
// through C10): the pipeline that turns a set of parsed COFF objects
// into a single PE32 executable image.
package link

import (
	"fmt"

	"github.com/xyproto/i386ld/internal/coffpe"
	"github.com/xyproto/i386ld/internal/diag"
	"github.com/xyproto/i386ld/internal/dlloracle"
	"github.com/xyproto/i386ld/internal/objfile"
)

// Kind classifies a link-time failure, used to select the process exit
// code per §6.3/§7.
type Kind int

const (
	KindNone Kind = iota
	KindCLI
	KindIO
	KindMalformed
	KindResolution
	KindUnsupportedRelocation
	KindWrite
)

// ExitCode maps a Kind to the process exit code named in §6.3: 1 CLI
// error, 2 object read error, 3 link error, 4 write error. KindIO is an
// I/O failure reading an object file (exit 2); a DLL that fails to open
// is only a warning. KindWrite is reserved for failures
// writing the output image (exit 4) so the two stages stay distinguishable.
func ExitCode(k Kind) int {
	switch k {
	case KindNone:
		return 0
	case KindCLI:
		return 1
	case KindIO, KindMalformed:
		return 2
	case KindResolution, KindUnsupportedRelocation:
		return 3
	case KindWrite:
		return 4
	default:
		return 4
	}
}

// Error wraps an error with the Kind that determines its exit code.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrap(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// Options carries every §6.2/§6.3 tunable.
type Options struct {
	StackReserve  uint32
	StackCommit   uint32
	HeapReserve   uint32
	HeapCommit    uint32
	SectionAlign  uint32
	FileAlign     uint32
	ImageBase     uint32
	Entry         string
	Out           string
	Subsystem     uint16
	DLLWarn       bool
	DLLPaths      []string
}

// DefaultOptions returns the §6.2 defaults.
func DefaultOptions() Options {
	return Options{
		StackReserve: 0x200000,
		StackCommit:  0x1000,
		HeapReserve:  0x100000,
		HeapCommit:   0x1000,
		SectionAlign: 0x1000,
		FileAlign:    0x200,
		ImageBase:    0x400000,
		Entry:        "_main",
		Out:          "a.exe",
		Subsystem:    SubsystemWinCUI,
	}
}

// Section is one output PE section: its merged data plus the header
// fields C6 assigns.
type Section struct {
	Name            string
	Characteristics uint32
	Data            []byte
	Rank            int

	VirtualAddress   uint32
	VirtualSize      uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
}

// ResolvedSymbol is a global symbol's final home.
type ResolvedSymbol struct {
	SectionIndex int
	Offset       uint32
}

// ImportedFunction is one function imported from a DLL.
type ImportedFunction struct {
	Name      string // resolved export name
	ThunkRVA  uint32 // RVA of its 6-byte .dlljmp slot
	IATRVA    uint32 // RVA of its IAT slot
	HintNameRVA uint32
}

// ImportedDLL groups a DLL's imported functions.
type ImportedDLL struct {
	Name      string
	Functions []*ImportedFunction
	NameRVA   uint32
	ILTRVA    uint32
	IATRVA    uint32
}

// Linker holds all pipeline state from aggregation through writing.
type Linker struct {
	opts    Options
	diag    *diag.Sink
	oracle  *dlloracle.Oracle

	objects []*objfile.File

	sections     []*Section
	sectionIndex map[string]int
	// objSectionOffset[objIndex][sectionName] = offset within the merged
	// section's data where that object's contribution begins.
	objSectionOffset []map[string]uint32

	resolved map[string]ResolvedSymbol

	// import-resolution: original symbol name -> resolved export name
	importAlias map[string]string
	// resolved export name -> *ImportedFunction
	imports     map[string]*ImportedFunction
	importDLLs  []*ImportedDLL

	sizeOfHeaders          uint32
	sizeOfCode             uint32
	sizeOfInitializedData  uint32
	sizeOfUninitializedData uint32
	baseOfCode             uint32
	baseOfData             uint32
	sizeOfImage            uint32

	// running cursors, valid after computeLayout and kept current through
	// the C8 layout-shift and .idata append.
	rawCursor uint32
	vaCursor  uint32

	importDirRVA, importDirSize uint32
	iatDirRVA, iatDirSize       uint32
}

// New creates a Linker with the given options, diagnostic sink, and DLL
// oracle (already populated with the default and user-supplied DLLs).
func New(opts Options, d *diag.Sink, oracle *dlloracle.Oracle) *Linker {
	return &Linker{
		opts:         opts,
		diag:         d,
		oracle:       oracle,
		sectionIndex: map[string]int{},
		resolved:     map[string]ResolvedSymbol{},
		importAlias:  map[string]string{},
		imports:      map[string]*ImportedFunction{},
	}
}

// AddObject registers a parsed object file for linking.
func (l *Linker) AddObject(f *objfile.File) {
	l.objects = append(l.objects, f)
}

// Link runs the full C5-C9 pipeline (aggregation, layout, resolution,
// import synthesis, relocation) in memory, leaving the Linker ready for
// WriteTo.
func (l *Linker) Link() error {
	if l.opts.FileAlign > l.opts.SectionAlign {
		l.diag.Warning("fileAlignment %#x > sectionAlignment %#x, raising sectionAlignment to match", l.opts.FileAlign, l.opts.SectionAlign)
		l.opts.SectionAlign = l.opts.FileAlign
	}

	l.aggregate()
	l.computeLayout()
	if err := l.resolveSymbols(); err != nil {
		return err
	}
	if err := l.synthesizeImports(); err != nil {
		return err
	}
	if err := l.applyRelocations(); err != nil {
		return err
	}
	if _, ok := l.resolveEntry(); !ok {
		return wrap(KindResolution, "couldn't find entry point %q", l.opts.Entry)
	}
	return nil
}

func (l *Linker) resolveEntry() (ResolvedSymbol, bool) {
	rs, ok := l.resolved[l.opts.Entry]
	return rs, ok
}

func rankOf(characteristics uint32) int {
	switch {
	case characteristics&coffpe.SecContainsCode != 0:
		return 0
	case characteristics&coffpe.SecContainsInitializedData != 0:
		return 1
	case characteristics&coffpe.SecContainsUninitializedData != 0:
		return 2
	default:
		return 3
	}
}
