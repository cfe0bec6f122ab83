// Package coffpe implements fixed-layout COFF/PE record codecs: the DOS
// header, PE signature, COFF file header, optional header (32 and 64-bit
// variants), section header, data directory, symbol-table entries (a
// Standard record plus its five Auxiliary sub-variants), relocation
// entries, and the import directory entry. Every record except the
// decode-only OptionalHeader64 is bijective: encode(decode(b)) == b and
// decode(encode(r)) == r for well-formed input.
package coffpe

import "encoding/binary"

// Fixed sizes named directly so callers can compute layout without
// reaching into struct internals.
const (
	DOSHeaderSize        = 0x40
	FileHeaderSize        = 20
	SectionHeaderSize    = 40
	DataDirectorySize    = 8
	OptionalHeader32Size = 96 + 16*DataDirectorySize // 224
	OptionalHeader64Size = 112 + 16*DataDirectorySize // 240
	SymbolSlotSize       = 18
	RelocationSize       = 10
	ImportDirEntrySize   = 20

	PESignature = 0x00004550
)

// Machine types.
const (
	MachineI386 = 0x14C
)

// Magic numbers for the optional header.
const (
	MagicPE32  = 0x10B
	MagicPE32P = 0x20B
)

// File-header characteristics flags (subset actually produced/consumed).
const (
	CharRelocsStripped = 0x0001
	CharExecutableImage = 0x0002
	CharLineNumsStripped = 0x0004
	CharLocalSymsStripped = 0x0008
	Char32BitMachine    = 0x0100
	CharDebugStripped  = 0x0200
)

// Section characteristics flags.
const (
	SecContainsCode             = 0x00000020
	SecContainsInitializedData   = 0x00000040
	SecContainsUninitializedData = 0x00000080
	SecMemExecute               = 0x20000000
	SecMemRead                  = 0x40000000
	SecMemWrite                 = 0x80000000
)

// Symbol storage classes relevant to §4.3's aux-record dispatch.
const (
	ClassExternal = 2
	ClassStatic   = 3
	ClassFunction = 101
	ClassFile     = 103
)

// Symbol type field: low byte is base type, high byte is derived type.
// IsFunction (0x20) appears in the high byte per the published COFF spec.
const (
	DTypeFunction = 0x20
)

const SectionUndefined = 0

// Relocation types (i386).
const (
	RelocAbsolute = 0x0000
	RelocDir32VA  = 0x0006
	RelocDir32RVA = 0x0007
	RelocRel32    = 0x0014
)

// DOSHeader models the MS-DOS stub header. Only Magic and PEHeaderOffset
// carry meaning for this linker; the remaining 15 named fields and two
// reserved runs round the header out to DOSHeaderSize bytes and are
// preserved byte-for-byte on decode so re-encoding is lossless.
type DOSHeader struct {
	Magic          uint16 // "MZ"
	LastPageBytes  uint16
	PagesInFile    uint16
	Relocations    uint16
	HeaderParagraphs uint16
	MinExtraParagraphs uint16
	MaxExtraParagraphs uint16
	InitialSS      uint16
	InitialSP      uint16
	Checksum       uint16
	InitialIP      uint16
	InitialCS      uint16
	RelocTableOffset uint16
	OverlayNumber  uint16
	Reserved1      [4]uint16
	OEMID          uint16
	OEMInfo        uint16
	Reserved2      [10]uint16
	PEHeaderOffset uint32
}

func DefaultDOSHeader() DOSHeader {
	return DOSHeader{
		Magic:          0x5A4D, // "MZ"
		PagesInFile:    1,
		HeaderParagraphs: 4,
		MaxExtraParagraphs: 0xFFFF,
		PEHeaderOffset: DOSHeaderSize,
	}
}

func (h DOSHeader) Encode() []byte {
	b := make([]byte, DOSHeaderSize)
	le16 := binary.LittleEndian.PutUint16
	le16(b[0:], h.Magic)
	le16(b[2:], h.LastPageBytes)
	le16(b[4:], h.PagesInFile)
	le16(b[6:], h.Relocations)
	le16(b[8:], h.HeaderParagraphs)
	le16(b[10:], h.MinExtraParagraphs)
	le16(b[12:], h.MaxExtraParagraphs)
	le16(b[14:], h.InitialSS)
	le16(b[16:], h.InitialSP)
	le16(b[18:], h.Checksum)
	le16(b[20:], h.InitialIP)
	le16(b[22:], h.InitialCS)
	le16(b[24:], h.RelocTableOffset)
	le16(b[26:], h.OverlayNumber)
	for i, v := range h.Reserved1 {
		le16(b[28+i*2:], v)
	}
	le16(b[36:], h.OEMID)
	le16(b[38:], h.OEMInfo)
	for i, v := range h.Reserved2 {
		le16(b[40+i*2:], v)
	}
	binary.LittleEndian.PutUint32(b[60:], h.PEHeaderOffset)
	return b
}

func DecodeDOSHeader(b []byte) DOSHeader {
	le16 := binary.LittleEndian.Uint16
	var h DOSHeader
	h.Magic = le16(b[0:])
	h.LastPageBytes = le16(b[2:])
	h.PagesInFile = le16(b[4:])
	h.Relocations = le16(b[6:])
	h.HeaderParagraphs = le16(b[8:])
	h.MinExtraParagraphs = le16(b[10:])
	h.MaxExtraParagraphs = le16(b[12:])
	h.InitialSS = le16(b[14:])
	h.InitialSP = le16(b[16:])
	h.Checksum = le16(b[18:])
	h.InitialIP = le16(b[20:])
	h.InitialCS = le16(b[22:])
	h.RelocTableOffset = le16(b[24:])
	h.OverlayNumber = le16(b[26:])
	for i := range h.Reserved1 {
		h.Reserved1[i] = le16(b[28+i*2:])
	}
	h.OEMID = le16(b[36:])
	h.OEMInfo = le16(b[38:])
	for i := range h.Reserved2 {
		h.Reserved2[i] = le16(b[40+i*2:])
	}
	h.PEHeaderOffset = binary.LittleEndian.Uint32(b[60:])
	return h
}

// FileHeader is the 20-byte COFF file header (the part of the PE header
// that follows the "PE\0\0" signature).
type FileHeader struct {
	Machine              uint16
	NumberOfSections      uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

func (h FileHeader) Encode() []byte {
	b := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint16(b[0:], h.Machine)
	binary.LittleEndian.PutUint16(b[2:], h.NumberOfSections)
	binary.LittleEndian.PutUint32(b[4:], h.TimeDateStamp)
	binary.LittleEndian.PutUint32(b[8:], h.PointerToSymbolTable)
	binary.LittleEndian.PutUint32(b[12:], h.NumberOfSymbols)
	binary.LittleEndian.PutUint16(b[16:], h.SizeOfOptionalHeader)
	binary.LittleEndian.PutUint16(b[18:], h.Characteristics)
	return b
}

func DecodeFileHeader(b []byte) FileHeader {
	return FileHeader{
		Machine:              binary.LittleEndian.Uint16(b[0:]),
		NumberOfSections:     binary.LittleEndian.Uint16(b[2:]),
		TimeDateStamp:        binary.LittleEndian.Uint32(b[4:]),
		PointerToSymbolTable: binary.LittleEndian.Uint32(b[8:]),
		NumberOfSymbols:      binary.LittleEndian.Uint32(b[12:]),
		SizeOfOptionalHeader: binary.LittleEndian.Uint16(b[16:]),
		Characteristics:      binary.LittleEndian.Uint16(b[18:]),
	}
}

// DataDirectory is one of the 16 fixed entries at the tail of the
// optional header.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

func (d DataDirectory) Encode() []byte {
	b := make([]byte, DataDirectorySize)
	binary.LittleEndian.PutUint32(b[0:], d.VirtualAddress)
	binary.LittleEndian.PutUint32(b[4:], d.Size)
	return b
}

func DecodeDataDirectory(b []byte) DataDirectory {
	return DataDirectory{
		VirtualAddress: binary.LittleEndian.Uint32(b[0:]),
		Size:           binary.LittleEndian.Uint32(b[4:]),
	}
}

// Data directory indices used by this linker.
const (
	DirExport  = 0
	DirImport  = 1
	DirIAT     = 12
	NumDataDirs = 16
)

// OptionalHeader32 is the PE32 optional header (magic 0x10B), 224 bytes:
// 96 fixed-size fields followed by 16 data directories.
type OptionalHeader32 struct {
	Magic                   uint16
	MajorLinkerVersion       uint8
	MinorLinkerVersion       uint8
	SizeOfCode              uint32
	SizeOfInitializedData    uint32
	SizeOfUninitializedData  uint32
	AddressOfEntryPoint      uint32
	BaseOfCode              uint32
	BaseOfData              uint32
	ImageBase               uint32
	SectionAlignment         uint32
	FileAlignment           uint32
	MajorOSVersion           uint16
	MinorOSVersion           uint16
	MajorImageVersion        uint16
	MinorImageVersion        uint16
	MajorSubsystemVersion    uint16
	MinorSubsystemVersion    uint16
	Win32VersionValue        uint32
	SizeOfImage             uint32
	SizeOfHeaders           uint32
	CheckSum                uint32
	Subsystem               uint16
	DllCharacteristics      uint16
	SizeOfStackReserve       uint32
	SizeOfStackCommit       uint32
	SizeOfHeapReserve        uint32
	SizeOfHeapCommit       uint32
	LoaderFlags             uint32
	NumberOfRvaAndSizes      uint32
	DataDirectories         [NumDataDirs]DataDirectory
}

func (h OptionalHeader32) Encode() []byte {
	b := make([]byte, OptionalHeader32Size)
	le16 := binary.LittleEndian.PutUint16
	le32 := binary.LittleEndian.PutUint32
	le16(b[0:], h.Magic)
	b[2] = h.MajorLinkerVersion
	b[3] = h.MinorLinkerVersion
	le32(b[4:], h.SizeOfCode)
	le32(b[8:], h.SizeOfInitializedData)
	le32(b[12:], h.SizeOfUninitializedData)
	le32(b[16:], h.AddressOfEntryPoint)
	le32(b[20:], h.BaseOfCode)
	le32(b[24:], h.BaseOfData)
	le32(b[28:], h.ImageBase)
	le32(b[32:], h.SectionAlignment)
	le32(b[36:], h.FileAlignment)
	le16(b[40:], h.MajorOSVersion)
	le16(b[42:], h.MinorOSVersion)
	le16(b[44:], h.MajorImageVersion)
	le16(b[46:], h.MinorImageVersion)
	le16(b[48:], h.MajorSubsystemVersion)
	le16(b[50:], h.MinorSubsystemVersion)
	le32(b[52:], h.Win32VersionValue)
	le32(b[56:], h.SizeOfImage)
	le32(b[60:], h.SizeOfHeaders)
	le32(b[64:], h.CheckSum)
	le16(b[68:], h.Subsystem)
	le16(b[70:], h.DllCharacteristics)
	le32(b[72:], h.SizeOfStackReserve)
	le32(b[76:], h.SizeOfStackCommit)
	le32(b[80:], h.SizeOfHeapReserve)
	le32(b[84:], h.SizeOfHeapCommit)
	le32(b[88:], h.LoaderFlags)
	le32(b[92:], h.NumberOfRvaAndSizes)
	for i, d := range h.DataDirectories {
		copy(b[96+i*8:], d.Encode())
	}
	return b
}

func DecodeOptionalHeader32(b []byte) OptionalHeader32 {
	le16 := binary.LittleEndian.Uint16
	le32 := binary.LittleEndian.Uint32
	h := OptionalHeader32{
		Magic:                  le16(b[0:]),
		MajorLinkerVersion:      b[2],
		MinorLinkerVersion:      b[3],
		SizeOfCode:             le32(b[4:]),
		SizeOfInitializedData:   le32(b[8:]),
		SizeOfUninitializedData: le32(b[12:]),
		AddressOfEntryPoint:     le32(b[16:]),
		BaseOfCode:             le32(b[20:]),
		BaseOfData:             le32(b[24:]),
		ImageBase:              le32(b[28:]),
		SectionAlignment:        le32(b[32:]),
		FileAlignment:          le32(b[36:]),
		MajorOSVersion:          le16(b[40:]),
		MinorOSVersion:          le16(b[42:]),
		MajorImageVersion:       le16(b[44:]),
		MinorImageVersion:       le16(b[46:]),
		MajorSubsystemVersion:   le16(b[48:]),
		MinorSubsystemVersion:   le16(b[50:]),
		Win32VersionValue:       le32(b[52:]),
		SizeOfImage:            le32(b[56:]),
		SizeOfHeaders:          le32(b[60:]),
		CheckSum:               le32(b[64:]),
		Subsystem:              le16(b[68:]),
		DllCharacteristics:      le16(b[70:]),
		SizeOfStackReserve:      le32(b[72:]),
		SizeOfStackCommit:      le32(b[76:]),
		SizeOfHeapReserve:       le32(b[80:]),
		SizeOfHeapCommit:      le32(b[84:]),
		LoaderFlags:            le32(b[88:]),
		NumberOfRvaAndSizes:     le32(b[92:]),
	}
	for i := range h.DataDirectories {
		h.DataDirectories[i] = DecodeDataDirectory(b[96+i*8:])
	}
	return h
}

// OptionalHeader64 is decode-only: per design note §9 ("PE header
// reader"), this linker only ever writes PE32; the 64-bit variant exists
// for symmetry with C2's spec and so a PE reader (used by the DLL
// oracle) can recognize and reject/accept PE32+ DLLs it is asked to
// inspect.
type OptionalHeader64 struct {
	Magic                  uint16
	MajorLinkerVersion      uint8
	MinorLinkerVersion      uint8
	SizeOfCode             uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint     uint32
	BaseOfCode             uint32
	ImageBase              uint64
	SectionAlignment        uint32
	FileAlignment          uint32
	MajorOSVersion          uint16
	MinorOSVersion          uint16
	MajorImageVersion       uint16
	MinorImageVersion       uint16
	MajorSubsystemVersion   uint16
	MinorSubsystemVersion   uint16
	Win32VersionValue       uint32
	SizeOfImage            uint32
	SizeOfHeaders          uint32
	CheckSum               uint32
	Subsystem              uint16
	DllCharacteristics     uint16
	SizeOfStackReserve      uint64
	SizeOfStackCommit      uint64
	SizeOfHeapReserve       uint64
	SizeOfHeapCommit       uint64
	LoaderFlags            uint32
	NumberOfRvaAndSizes     uint32
	DataDirectories        [NumDataDirs]DataDirectory
}

func DecodeOptionalHeader64(b []byte) OptionalHeader64 {
	le16 := binary.LittleEndian.Uint16
	le32 := binary.LittleEndian.Uint32
	le64 := binary.LittleEndian.Uint64
	h := OptionalHeader64{
		Magic:                  le16(b[0:]),
		MajorLinkerVersion:      b[2],
		MinorLinkerVersion:      b[3],
		SizeOfCode:             le32(b[4:]),
		SizeOfInitializedData:   le32(b[8:]),
		SizeOfUninitializedData: le32(b[12:]),
		AddressOfEntryPoint:     le32(b[16:]),
		BaseOfCode:             le32(b[20:]),
		ImageBase:              le64(b[24:]),
		SectionAlignment:        le32(b[32:]),
		FileAlignment:          le32(b[36:]),
		MajorOSVersion:          le16(b[40:]),
		MinorOSVersion:          le16(b[42:]),
		MajorImageVersion:       le16(b[44:]),
		MinorImageVersion:       le16(b[46:]),
		MajorSubsystemVersion:   le16(b[48:]),
		MinorSubsystemVersion:   le16(b[50:]),
		Win32VersionValue:       le32(b[52:]),
		SizeOfImage:            le32(b[56:]),
		SizeOfHeaders:          le32(b[60:]),
		CheckSum:               le32(b[64:]),
		Subsystem:              le16(b[68:]),
		DllCharacteristics:      le16(b[70:]),
		SizeOfStackReserve:      le64(b[72:]),
		SizeOfStackCommit:      le64(b[80:]),
		SizeOfHeapReserve:       le64(b[88:]),
		SizeOfHeapCommit:      le64(b[96:]),
		LoaderFlags:            le32(b[104:]),
		NumberOfRvaAndSizes:     le32(b[108:]),
	}
	for i := range h.DataDirectories {
		h.DataDirectories[i] = DecodeDataDirectory(b[112+i*8:])
	}
	return h
}

// SectionHeader is the 40-byte PE/COFF section header.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress        uint32
	SizeOfRawData        uint32
	PointerToRawData      uint32
	PointerToRelocations  uint32
	PointerToLineNumbers uint32
	NumberOfRelocations   uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

func (h SectionHeader) Encode() []byte {
	b := make([]byte, SectionHeaderSize)
	copy(b[0:8], h.Name[:])
	binary.LittleEndian.PutUint32(b[8:], h.VirtualSize)
	binary.LittleEndian.PutUint32(b[12:], h.VirtualAddress)
	binary.LittleEndian.PutUint32(b[16:], h.SizeOfRawData)
	binary.LittleEndian.PutUint32(b[20:], h.PointerToRawData)
	binary.LittleEndian.PutUint32(b[24:], h.PointerToRelocations)
	binary.LittleEndian.PutUint32(b[28:], h.PointerToLineNumbers)
	binary.LittleEndian.PutUint16(b[32:], h.NumberOfRelocations)
	binary.LittleEndian.PutUint16(b[34:], h.NumberOfLineNumbers)
	binary.LittleEndian.PutUint32(b[36:], h.Characteristics)
	return b
}

func DecodeSectionHeader(b []byte) SectionHeader {
	var h SectionHeader
	copy(h.Name[:], b[0:8])
	h.VirtualSize = binary.LittleEndian.Uint32(b[8:])
	h.VirtualAddress = binary.LittleEndian.Uint32(b[12:])
	h.SizeOfRawData = binary.LittleEndian.Uint32(b[16:])
	h.PointerToRawData = binary.LittleEndian.Uint32(b[20:])
	h.PointerToRelocations = binary.LittleEndian.Uint32(b[24:])
	h.PointerToLineNumbers = binary.LittleEndian.Uint32(b[28:])
	h.NumberOfRelocations = binary.LittleEndian.Uint16(b[32:])
	h.NumberOfLineNumbers = binary.LittleEndian.Uint16(b[34:])
	h.Characteristics = binary.LittleEndian.Uint32(b[36:])
	return h
}

// NameString returns Name with trailing NUL bytes trimmed.
func (h SectionHeader) NameString() string {
	n := 0
	for n < len(h.Name) && h.Name[n] != 0 {
		n++
	}
	return string(h.Name[:n])
}

// SectionName8 packs s into the 8-byte, NUL-padded section-name field.
func SectionName8(s string) [8]byte {
	var b [8]byte
	copy(b[:], s)
	return b
}

// Relocation is the 10-byte COFF relocation entry.
type Relocation struct {
	VirtualAddress  uint32
	SymbolTableIndex uint32
	Type            uint16
}

func (r Relocation) Encode() []byte {
	b := make([]byte, RelocationSize)
	binary.LittleEndian.PutUint32(b[0:], r.VirtualAddress)
	binary.LittleEndian.PutUint32(b[4:], r.SymbolTableIndex)
	binary.LittleEndian.PutUint16(b[8:], r.Type)
	return b
}

func DecodeRelocation(b []byte) Relocation {
	return Relocation{
		VirtualAddress:   binary.LittleEndian.Uint32(b[0:]),
		SymbolTableIndex: binary.LittleEndian.Uint32(b[4:]),
		Type:             binary.LittleEndian.Uint16(b[8:]),
	}
}

// ImportDirectoryEntry is one 20-byte entry of the Import Directory Table.
type ImportDirectoryEntry struct {
	ImportLookupTableRVA uint32
	TimeDateStamp        uint32
	ForwarderChain       uint32
	NameRVA              uint32
	ImportAddressTableRVA uint32
}

func (e ImportDirectoryEntry) Encode() []byte {
	b := make([]byte, ImportDirEntrySize)
	binary.LittleEndian.PutUint32(b[0:], e.ImportLookupTableRVA)
	binary.LittleEndian.PutUint32(b[4:], e.TimeDateStamp)
	binary.LittleEndian.PutUint32(b[8:], e.ForwarderChain)
	binary.LittleEndian.PutUint32(b[12:], e.NameRVA)
	binary.LittleEndian.PutUint32(b[16:], e.ImportAddressTableRVA)
	return b
}

func DecodeImportDirectoryEntry(b []byte) ImportDirectoryEntry {
	return ImportDirectoryEntry{
		ImportLookupTableRVA:  binary.LittleEndian.Uint32(b[0:]),
		TimeDateStamp:         binary.LittleEndian.Uint32(b[4:]),
		ForwarderChain:        binary.LittleEndian.Uint32(b[8:]),
		NameRVA:               binary.LittleEndian.Uint32(b[12:]),
		ImportAddressTableRVA: binary.LittleEndian.Uint32(b[16:]),
	}
}

// AlignUp rounds x up to the next multiple of align (align a power of two).
func AlignUp(x, align uint32) uint32 {
	if align == 0 {
		return x
	}
	return (x + align - 1) &^ (align - 1)
}
