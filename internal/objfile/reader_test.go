package objfile

import (
	"path/filepath"
	"testing"

	"github.com/xyproto/i386ld/internal/bstream"
	"github.com/xyproto/i386ld/internal/coffpe"
)

// writeMinimalObject builds a tiny one-section, one-symbol COFF object:
// .text containing "mov eax, 42; ret" (B8 2A 00 00 00 C3), and a single
// External _main symbol with no auxiliaries.
func writeMinimalObject(t *testing.T, path string) {
	t.Helper()
	text := []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}

	fh := coffpe.FileHeader{
		Machine:         coffpe.MachineI386,
		NumberOfSections: 1,
		NumberOfSymbols: 1,
	}
	sh := coffpe.SectionHeader{
		Name:            coffpe.SectionName8(".text"),
		SizeOfRawData:   uint32(len(text)),
		Characteristics: coffpe.SecContainsCode | coffpe.SecMemExecute | coffpe.SecMemRead,
	}
	sym := coffpe.StandardSymbol{
		NameBytes:     coffpe.SectionName8("_main"),
		SectionNumber: 1,
		StorageClass:  coffpe.ClassExternal,
	}

	headerLen := coffpe.FileHeaderSize + coffpe.SectionHeaderSize
	sh.PointerToRawData = uint32(headerLen)
	symTabOffset := uint32(headerLen) + sh.SizeOfRawData
	fh.PointerToSymbolTable = symTabOffset

	s, err := bstream.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	s.WriteBytes(fh.Encode())
	s.WriteBytes(sh.Encode())
	s.WriteBytes(text)
	s.WriteBytes(sym.Encode())
	s.WriteU32(4) // empty string table: just the 4-byte size field
}

func TestReadMinimalObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.obj")
	writeMinimalObject(t, path)

	f, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Header.NumberOfSections != 1 || f.Header.NumberOfSymbols != 1 {
		t.Fatalf("unexpected header: %+v", f.Header)
	}
	if len(f.Sections) != 1 || f.Sections[0].Name() != ".text" {
		t.Fatalf("unexpected sections: %+v", f.Sections)
	}
	if len(f.Sections[0].Data) != 6 || f.Sections[0].Data[0] != 0xB8 {
		t.Fatalf("unexpected section data: %v", f.Sections[0].Data)
	}
	if len(f.Symbols) != 1 || f.Symbols[0].Standard == nil {
		t.Fatalf("unexpected symbols: %+v", f.Symbols)
	}
	name, err := f.SymbolName(*f.Symbols[0].Standard)
	if err != nil || name != "_main" {
		t.Fatalf("SymbolName = %q, %v", name, err)
	}
}

func TestReadObjectWithAuxAndStringTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.obj")

	fh := coffpe.FileHeader{Machine: coffpe.MachineI386, NumberOfSections: 1, NumberOfSymbols: 2}
	sh := coffpe.SectionHeader{Name: coffpe.SectionName8(".text"), SizeOfRawData: 1}
	longName := "a_very_long_symbol_name_over_8_bytes"
	sym := coffpe.StandardSymbol{
		NameIsOffset:       true,
		NameOffset:         4,
		SectionNumber:      1,
		Type:               coffpe.DTypeFunction << 8,
		StorageClass:       coffpe.ClassExternal,
		NumberOfAuxSymbols: 1,
	}
	aux := coffpe.AuxRecord{Kind: coffpe.AuxFunctionDefinition, FunctionDef: coffpe.AuxFunctionDefinitionRec{TotalSize: 1}}

	headerLen := coffpe.FileHeaderSize + coffpe.SectionHeaderSize
	sh.PointerToRawData = uint32(headerLen)
	fh.PointerToSymbolTable = uint32(headerLen) + sh.SizeOfRawData

	s, _ := bstream.Create(path)
	s.WriteBytes(fh.Encode())
	s.WriteBytes(sh.Encode())
	s.WriteBytes([]byte{0xC3})
	s.WriteBytes(sym.Encode())
	s.WriteBytes(aux.Encode())
	strTab := append([]byte(longName), 0)
	s.WriteU32(uint32(4 + len(strTab)))
	s.WriteBytes(strTab)
	s.Close()

	f, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(f.Symbols) != 2 {
		t.Fatalf("expected 2 slots (standard+aux), got %d", len(f.Symbols))
	}
	if f.Symbols[1].Aux == nil || f.Symbols[1].Aux.Kind != coffpe.AuxFunctionDefinition {
		t.Fatalf("expected aux function-definition slot, got %+v", f.Symbols[1])
	}
	name, err := f.SymbolName(*f.Symbols[0].Standard)
	if err != nil || name != longName {
		t.Fatalf("SymbolName = %q, %v", name, err)
	}
}
