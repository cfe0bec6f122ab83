package coffpe

import "encoding/binary"

// StandardSymbol is the 18-byte Standard symbol-table entry. Name is
// either 8 literal bytes, or, when the first 4 bytes decode as zero, a
// {0,0,0,0,offset} indirection into the string table (offset in
// NameOffset, valid when NameIsOffset is true).
type StandardSymbol struct {
	NameBytes          [8]byte
	NameIsOffset       bool
	NameOffset         uint32
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

func (s StandardSymbol) Encode() []byte {
	b := make([]byte, SymbolSlotSize)
	if s.NameIsOffset {
		binary.LittleEndian.PutUint32(b[0:], 0)
		binary.LittleEndian.PutUint32(b[4:], s.NameOffset)
	} else {
		copy(b[0:8], s.NameBytes[:])
	}
	binary.LittleEndian.PutUint32(b[8:], s.Value)
	binary.LittleEndian.PutUint16(b[12:], uint16(s.SectionNumber))
	binary.LittleEndian.PutUint16(b[14:], s.Type)
	b[16] = s.StorageClass
	b[17] = s.NumberOfAuxSymbols
	return b
}

func DecodeStandardSymbol(b []byte) StandardSymbol {
	var s StandardSymbol
	first4 := binary.LittleEndian.Uint32(b[0:4])
	if first4 == 0 {
		s.NameIsOffset = true
		s.NameOffset = binary.LittleEndian.Uint32(b[4:8])
	} else {
		copy(s.NameBytes[:], b[0:8])
	}
	s.Value = binary.LittleEndian.Uint32(b[8:])
	s.SectionNumber = int16(binary.LittleEndian.Uint16(b[12:]))
	s.Type = binary.LittleEndian.Uint16(b[14:])
	s.StorageClass = b[16]
	s.NumberOfAuxSymbols = b[17]
	return s
}

// NameString returns the inline 8-byte name trimmed of trailing NULs.
// Only meaningful when NameIsOffset is false.
func (s StandardSymbol) NameString() string {
	n := 0
	for n < len(s.NameBytes) && s.NameBytes[n] != 0 {
		n++
	}
	return string(s.NameBytes[:n])
}

// AuxKind tags which of the five auxiliary sub-variants a raw 18-byte
// slot was decoded as.
type AuxKind int

const (
	AuxUnknown AuxKind = iota
	AuxFunctionDefinition
	AuxFunctionBeginEnd
	AuxWeakExternal
	AuxFile
	AuxSectionDefinition
)

// AuxFunctionDefinitionRec describes a function symbol's aux record:
// 16 meaningful bytes followed by 2 bytes of padding.
type AuxFunctionDefinitionRec struct {
	TagIndex       uint32
	TotalSize      uint32
	PointerToLineNumber uint32
	PointerToNextFunction uint32
}

// AuxFunctionBeginEndRec models a .bf/.ef aux record.
type AuxFunctionBeginEndRec struct {
	LineNumber  uint16
	NextEntry   uint32
}

// AuxWeakExternalRec models a weak-external aux record.
type AuxWeakExternalRec struct {
	TagIndex      uint32
	Characteristics uint32
}

// AuxFileRec holds an 18-byte padded ANSI filename.
type AuxFileRec struct {
	FileName string
}

// AuxSectionDefinitionRec models a section-definition aux record.
type AuxSectionDefinitionRec struct {
	Length             uint32
	NumberOfRelocations uint16
	NumberOfLineNumbers uint16
	CheckSum           uint32
	Number             uint16
	Selection          uint8
}

// AuxRecord is a decoded auxiliary symbol-table slot: exactly one of the
// typed fields below is populated, selected by Kind.
type AuxRecord struct {
	Kind           AuxKind
	FunctionDef    AuxFunctionDefinitionRec
	FunctionBeginEnd AuxFunctionBeginEndRec
	WeakExternal   AuxWeakExternalRec
	File           AuxFileRec
	SectionDef     AuxSectionDefinitionRec
	Raw            [SymbolSlotSize]byte // always populated, used for re-encoding unknown/skipped slots
}

// DecodeAux dispatches on the preceding Standard symbol's
// (storageClass, type, sectionNumber, value) tuple, per §4.3.
func DecodeAux(b []byte, preceding StandardSymbol) AuxRecord {
	var rec AuxRecord
	copy(rec.Raw[:], b)

	highType := preceding.Type >> 8
	switch {
	case preceding.StorageClass == ClassExternal && highType == DTypeFunction && preceding.SectionNumber > 0:
		rec.Kind = AuxFunctionDefinition
		rec.FunctionDef = AuxFunctionDefinitionRec{
			TagIndex:              binary.LittleEndian.Uint32(b[0:]),
			TotalSize:              binary.LittleEndian.Uint32(b[4:]),
			PointerToLineNumber:    binary.LittleEndian.Uint32(b[8:]),
			PointerToNextFunction:  binary.LittleEndian.Uint32(b[12:]),
		}
	case preceding.StorageClass == ClassFunction:
		rec.Kind = AuxFunctionBeginEnd
		rec.FunctionBeginEnd = AuxFunctionBeginEndRec{
			LineNumber: binary.LittleEndian.Uint16(b[0:]),
			NextEntry:  binary.LittleEndian.Uint32(b[6:]),
		}
	case preceding.StorageClass == ClassExternal && preceding.SectionNumber == SectionUndefined && preceding.Value == 0:
		rec.Kind = AuxWeakExternal
		rec.WeakExternal = AuxWeakExternalRec{
			TagIndex:        binary.LittleEndian.Uint32(b[0:]),
			Characteristics: binary.LittleEndian.Uint32(b[4:]),
		}
	case preceding.StorageClass == ClassFile:
		rec.Kind = AuxFile
		n := 0
		for n < SymbolSlotSize && b[n] != 0 {
			n++
		}
		rec.File = AuxFileRec{FileName: string(b[:n])}
	case preceding.StorageClass == ClassStatic:
		rec.Kind = AuxSectionDefinition
		rec.SectionDef = AuxSectionDefinitionRec{
			Length:              binary.LittleEndian.Uint32(b[0:]),
			NumberOfRelocations:  binary.LittleEndian.Uint16(b[4:]),
			NumberOfLineNumbers: binary.LittleEndian.Uint16(b[6:]),
			CheckSum:            binary.LittleEndian.Uint32(b[8:]),
			Number:              binary.LittleEndian.Uint16(b[12:]),
			Selection:           b[14],
		}
	default:
		rec.Kind = AuxUnknown
	}
	return rec
}

// Encode re-serializes the aux record. Unknown/skipped slots and the
// File variant round-trip through Raw / FileName; the typed variants
// re-encode their fields so a decode-then-encode of a well-formed slot
// reproduces the original bytes.
func (a AuxRecord) Encode() []byte {
	b := make([]byte, SymbolSlotSize)
	switch a.Kind {
	case AuxFunctionDefinition:
		binary.LittleEndian.PutUint32(b[0:], a.FunctionDef.TagIndex)
		binary.LittleEndian.PutUint32(b[4:], a.FunctionDef.TotalSize)
		binary.LittleEndian.PutUint32(b[8:], a.FunctionDef.PointerToLineNumber)
		binary.LittleEndian.PutUint32(b[12:], a.FunctionDef.PointerToNextFunction)
	case AuxFunctionBeginEnd:
		binary.LittleEndian.PutUint16(b[0:], a.FunctionBeginEnd.LineNumber)
		binary.LittleEndian.PutUint32(b[6:], a.FunctionBeginEnd.NextEntry)
	case AuxWeakExternal:
		binary.LittleEndian.PutUint32(b[0:], a.WeakExternal.TagIndex)
		binary.LittleEndian.PutUint32(b[4:], a.WeakExternal.Characteristics)
	case AuxFile:
		copy(b, a.File.FileName)
	case AuxSectionDefinition:
		binary.LittleEndian.PutUint32(b[0:], a.SectionDef.Length)
		binary.LittleEndian.PutUint16(b[4:], a.SectionDef.NumberOfRelocations)
		binary.LittleEndian.PutUint16(b[6:], a.SectionDef.NumberOfLineNumbers)
		binary.LittleEndian.PutUint32(b[8:], a.SectionDef.CheckSum)
		binary.LittleEndian.PutUint16(b[12:], a.SectionDef.Number)
		b[14] = a.SectionDef.Selection
	default:
		copy(b, a.Raw[:])
	}
	return b
}
