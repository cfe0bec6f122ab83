package coffpe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDOSHeaderRoundTrip(t *testing.T) {
	h := DefaultDOSHeader()
	b := h.Encode()
	if len(b) != DOSHeaderSize {
		t.Fatalf("len = %d, want %d", len(b), DOSHeaderSize)
	}
	h2 := DecodeDOSHeader(b)
	if h2 != h {
		t.Fatalf("round trip mismatch: %+v != %+v", h2, h)
	}
	if !bytes.Equal(h2.Encode(), b) {
		t.Fatalf("re-encode mismatch")
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	h := FileHeader{
		Machine:              MachineI386,
		NumberOfSections:      3,
		TimeDateStamp:        0x12345678,
		PointerToSymbolTable: 0x1000,
		NumberOfSymbols:      42,
		SizeOfOptionalHeader: OptionalHeader32Size,
		Characteristics:      CharExecutableImage | Char32BitMachine,
	}
	b := h.Encode()
	if len(b) != FileHeaderSize {
		t.Fatalf("len = %d", len(b))
	}
	if DecodeFileHeader(b) != h {
		t.Fatalf("round trip mismatch")
	}
}

func TestOptionalHeader32RoundTrip(t *testing.T) {
	h := OptionalHeader32{
		Magic:          MagicPE32,
		ImageBase:      0x400000,
		SectionAlignment: 0x1000,
		FileAlignment:  0x200,
		NumberOfRvaAndSizes: NumDataDirs,
	}
	h.DataDirectories[DirImport] = DataDirectory{VirtualAddress: 0x2000, Size: 0x40}
	b := h.Encode()
	if len(b) != OptionalHeader32Size {
		t.Fatalf("len = %d, want %d", len(b), OptionalHeader32Size)
	}
	h2 := DecodeOptionalHeader32(b)
	if h2 != h {
		t.Fatalf("round trip mismatch: %+v != %+v", h2, h)
	}
}

func TestSectionHeaderRoundTrip(t *testing.T) {
	h := SectionHeader{
		Name:             SectionName8(".text"),
		VirtualSize:      0x123,
		VirtualAddress:    0x1000,
		SizeOfRawData:    0x200,
		PointerToRawData: 0x400,
		Characteristics:  SecContainsCode | SecMemExecute | SecMemRead,
	}
	b := h.Encode()
	if len(b) != SectionHeaderSize {
		t.Fatalf("len = %d", len(b))
	}
	if DecodeSectionHeader(b) != h {
		t.Fatalf("round trip mismatch")
	}
	if h.NameString() != ".text" {
		t.Fatalf("NameString = %q", h.NameString())
	}
}

func TestRelocationRoundTrip(t *testing.T) {
	r := Relocation{VirtualAddress: 1, SymbolTableIndex: 7, Type: RelocRel32}
	b := r.Encode()
	if len(b) != RelocationSize {
		t.Fatalf("len = %d", len(b))
	}
	if DecodeRelocation(b) != r {
		t.Fatalf("round trip mismatch")
	}
}

func TestStandardSymbolInlineName(t *testing.T) {
	s := StandardSymbol{
		NameBytes:     SectionName8("_main"),
		Value:         0,
		SectionNumber: 1,
		Type:          DTypeFunction << 8,
		StorageClass:  ClassExternal,
	}
	b := s.Encode()
	s2 := DecodeStandardSymbol(b)
	if s2.NameIsOffset {
		t.Fatalf("expected inline name")
	}
	if s2.NameString() != "_main" {
		t.Fatalf("NameString = %q", s2.NameString())
	}
}

func TestStandardSymbolOffsetName(t *testing.T) {
	s := StandardSymbol{NameIsOffset: true, NameOffset: 12, SectionNumber: 1, StorageClass: ClassExternal}
	b := s.Encode()
	s2 := DecodeStandardSymbol(b)
	if !s2.NameIsOffset || s2.NameOffset != 12 {
		t.Fatalf("offset name round trip failed: %+v", s2)
	}
}

func TestAuxFunctionDefinitionRoundTrip(t *testing.T) {
	preceding := StandardSymbol{StorageClass: ClassExternal, Type: DTypeFunction << 8, SectionNumber: 1}
	rec := AuxRecord{Kind: AuxFunctionDefinition, FunctionDef: AuxFunctionDefinitionRec{
		TagIndex: 3, TotalSize: 6, PointerToLineNumber: 0, PointerToNextFunction: 0,
	}}
	b := rec.Encode()
	if len(b) != SymbolSlotSize {
		t.Fatalf("len = %d", len(b))
	}
	rec2 := DecodeAux(b, preceding)
	if rec2.Kind != AuxFunctionDefinition || rec2.FunctionDef != rec.FunctionDef {
		t.Fatalf("round trip mismatch: %+v", rec2)
	}
}

func TestAuxSectionDefinitionRoundTrip(t *testing.T) {
	preceding := StandardSymbol{StorageClass: ClassStatic}
	rec := AuxRecord{Kind: AuxSectionDefinition, SectionDef: AuxSectionDefinitionRec{
		Length: 0x18, NumberOfRelocations: 2, Number: 1,
	}}
	b := rec.Encode()
	rec2 := DecodeAux(b, preceding)
	if rec2.Kind != AuxSectionDefinition || rec2.SectionDef != rec.SectionDef {
		t.Fatalf("round trip mismatch: %+v", rec2)
	}
}

func TestAuxFunctionBeginEndRoundTrip(t *testing.T) {
	preceding := StandardSymbol{StorageClass: ClassFunction}
	rec := AuxRecord{Kind: AuxFunctionBeginEnd, FunctionBeginEnd: AuxFunctionBeginEndRec{
		LineNumber: 7, NextEntry: 0x2a,
	}}
	b := rec.Encode()
	if len(b) != SymbolSlotSize {
		t.Fatalf("len = %d", len(b))
	}
	rec2 := DecodeAux(b, preceding)
	if rec2.Kind != AuxFunctionBeginEnd || rec2.FunctionBeginEnd != rec.FunctionBeginEnd {
		t.Fatalf("round trip mismatch: %+v", rec2)
	}
}

func TestAuxWeakExternalRoundTrip(t *testing.T) {
	preceding := StandardSymbol{StorageClass: ClassExternal, SectionNumber: SectionUndefined, Value: 0}
	rec := AuxRecord{Kind: AuxWeakExternal, WeakExternal: AuxWeakExternalRec{
		TagIndex: 5, Characteristics: 1,
	}}
	b := rec.Encode()
	rec2 := DecodeAux(b, preceding)
	if rec2.Kind != AuxWeakExternal || rec2.WeakExternal != rec.WeakExternal {
		t.Fatalf("round trip mismatch: %+v", rec2)
	}
}

func TestAuxFileRoundTrip(t *testing.T) {
	preceding := StandardSymbol{StorageClass: ClassFile}
	rec := AuxRecord{Kind: AuxFile, File: AuxFileRec{FileName: "foo.c"}}
	b := rec.Encode()
	rec2 := DecodeAux(b, preceding)
	if rec2.Kind != AuxFile || rec2.File != rec.File {
		t.Fatalf("round trip mismatch: %+v", rec2)
	}
}

func TestImportDirectoryEntryRoundTrip(t *testing.T) {
	e := ImportDirectoryEntry{
		ImportLookupTableRVA:  0x2000,
		TimeDateStamp:        0,
		ForwarderChain:       0,
		NameRVA:               0x3000,
		ImportAddressTableRVA: 0x4000,
	}
	b := e.Encode()
	if len(b) != ImportDirEntrySize {
		t.Fatalf("len = %d, want %d", len(b), ImportDirEntrySize)
	}
	if DecodeImportDirectoryEntry(b) != e {
		t.Fatalf("round trip mismatch")
	}
}

func TestOptionalHeader64Decode(t *testing.T) {
	b := make([]byte, OptionalHeader64Size)
	binary.LittleEndian.PutUint16(b[0:], MagicPE32P)
	b[2] = 2  // MajorLinkerVersion
	b[3] = 30 // MinorLinkerVersion
	binary.LittleEndian.PutUint32(b[4:], 0x1000)  // SizeOfCode
	binary.LittleEndian.PutUint32(b[16:], 0x5000) // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(b[20:], 0x1000) // BaseOfCode
	binary.LittleEndian.PutUint64(b[24:], 0x140000000) // ImageBase
	binary.LittleEndian.PutUint32(b[32:], 0x1000)      // SectionAlignment
	binary.LittleEndian.PutUint32(b[36:], 0x200)       // FileAlignment
	binary.LittleEndian.PutUint16(b[68:], 3)           // Subsystem
	binary.LittleEndian.PutUint64(b[72:], 0x100000)    // SizeOfStackReserve
	binary.LittleEndian.PutUint32(b[108:], 16)         // NumberOfRvaAndSizes
	binary.LittleEndian.PutUint32(b[112+8:], 0x9000)   // DataDirectories[1].VirtualAddress

	h := DecodeOptionalHeader64(b)
	if h.Magic != MagicPE32P {
		t.Fatalf("Magic = %#x", h.Magic)
	}
	if h.MajorLinkerVersion != 2 || h.MinorLinkerVersion != 30 {
		t.Fatalf("linker version = %d.%d", h.MajorLinkerVersion, h.MinorLinkerVersion)
	}
	if h.ImageBase != 0x140000000 {
		t.Fatalf("ImageBase = %#x", h.ImageBase)
	}
	if h.SectionAlignment != 0x1000 || h.FileAlignment != 0x200 {
		t.Fatalf("alignment fields = %#x/%#x", h.SectionAlignment, h.FileAlignment)
	}
	if h.SizeOfStackReserve != 0x100000 {
		t.Fatalf("SizeOfStackReserve = %#x", h.SizeOfStackReserve)
	}
	if h.DataDirectories[1].VirtualAddress != 0x9000 {
		t.Fatalf("DataDirectories[1].VirtualAddress = %#x", h.DataDirectories[1].VirtualAddress)
	}
}

func TestAuxUnknownSkipped(t *testing.T) {
	preceding := StandardSymbol{StorageClass: 0xEE}
	raw := make([]byte, SymbolSlotSize)
	for i := range raw {
		raw[i] = byte(i)
	}
	rec := DecodeAux(raw, preceding)
	if rec.Kind != AuxUnknown {
		t.Fatalf("expected AuxUnknown, got %v", rec.Kind)
	}
	if !bytes.Equal(rec.Encode(), raw) {
		t.Fatalf("unknown aux did not round trip via Raw")
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ x, align, want uint32 }{
		{0, 0x200, 0},
		{1, 0x200, 0x200},
		{0x200, 0x200, 0x200},
		{0x201, 0x200, 0x400},
	}
	for _, c := range cases {
		if got := AlignUp(c.x, c.align); got != c.want {
			t.Errorf("AlignUp(%#x, %#x) = %#x, want %#x", c.x, c.align, got, c.want)
		}
	}
}
