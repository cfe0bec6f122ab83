// Package objfile parses 32-bit i386 COFF object files into an in-memory
// representation: file header, sections (header + raw data + relocation
// table), a slot-based symbol table with auxiliary records expanded per
// storage class, and a string table keyed by byte offset.
package objfile

import (
	"fmt"

	"github.com/xyproto/i386ld/internal/bstream"
	"github.com/xyproto/i386ld/internal/coffpe"
)

// Section is one object section: header, raw bytes, and its relocations.
type Section struct {
	Header      coffpe.SectionHeader
	Data        []byte
	Relocations []coffpe.Relocation
}

func (s *Section) Name() string { return s.Header.NameString() }

// SymbolSlot is one slot-based entry of the symbol table: exactly one of
// Standard or Aux is non-nil.
type SymbolSlot struct {
	Standard *coffpe.StandardSymbol
	Aux      *coffpe.AuxRecord
}

// File is a fully parsed COFF object.
type File struct {
	Path        string
	Header      coffpe.FileHeader
	Sections    []*Section
	Symbols     []SymbolSlot
	StringTable map[uint32]string
}

// SymbolName resolves a Standard symbol's name, following the
// string-table indirection when the inline name is {0,0,0,0,offset}.
func (f *File) SymbolName(s coffpe.StandardSymbol) (string, error) {
	if !s.NameIsOffset {
		return s.NameString(), nil
	}
	name, ok := f.StringTable[s.NameOffset]
	if !ok {
		return "", fmt.Errorf("missing string-table entry at offset %d", s.NameOffset)
	}
	return name, nil
}

// SectionByName returns the contributing object section whose
// NUL-trimmed name equals name, or nil.
func (f *File) SectionByName(name string) *Section {
	for _, sec := range f.Sections {
		if sec.Name() == name {
			return sec
		}
	}
	return nil
}

// ErrMalformed wraps any parse failure as "object malformed", per §4.3.
type ErrMalformed struct {
	Path string
	Err  error
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("%s: object malformed: %v", e.Path, e.Err)
}

func (e *ErrMalformed) Unwrap() error { return e.Err }

// Read parses path into a File.
func Read(path string) (*File, error) {
	s, err := bstream.Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	f := &File{Path: path, StringTable: map[uint32]string{}}

	hb, err := s.ReadBytes(coffpe.FileHeaderSize)
	if err != nil {
		return nil, &ErrMalformed{path, fmt.Errorf("file header: %w", err)}
	}
	f.Header = coffpe.DecodeFileHeader(hb)

	for i := 0; i < int(f.Header.NumberOfSections); i++ {
		shb, err := s.ReadBytes(coffpe.SectionHeaderSize)
		if err != nil {
			return nil, &ErrMalformed{path, fmt.Errorf("section header %d: %w", i, err)}
		}
		sh := coffpe.DecodeSectionHeader(shb)
		f.Sections = append(f.Sections, &Section{Header: sh})
	}

	for _, sec := range f.Sections {
		if sec.Header.SizeOfRawData > 0 && sec.Header.PointerToRawData > 0 {
			if err := s.Seek(int64(sec.Header.PointerToRawData)); err != nil {
				return nil, &ErrMalformed{path, err}
			}
			data, err := s.ReadBytes(int(sec.Header.SizeOfRawData))
			if err != nil {
				return nil, &ErrMalformed{path, fmt.Errorf("section %q data: %w", sec.Name(), err)}
			}
			sec.Data = data
		}
		if sec.Header.NumberOfRelocations > 0 {
			if err := s.Seek(int64(sec.Header.PointerToRelocations)); err != nil {
				return nil, &ErrMalformed{path, err}
			}
			for i := 0; i < int(sec.Header.NumberOfRelocations); i++ {
				rb, err := s.ReadBytes(coffpe.RelocationSize)
				if err != nil {
					return nil, &ErrMalformed{path, fmt.Errorf("section %q relocation %d: %w", sec.Name(), i, err)}
				}
				sec.Relocations = append(sec.Relocations, coffpe.DecodeRelocation(rb))
			}
		}
	}

	if f.Header.PointerToSymbolTable > 0 && f.Header.NumberOfSymbols > 0 {
		if err := s.Seek(int64(f.Header.PointerToSymbolTable)); err != nil {
			return nil, &ErrMalformed{path, err}
		}
		total := int(f.Header.NumberOfSymbols)
		var preceding coffpe.StandardSymbol
		for i := 0; i < total; {
			slotBytes, err := s.ReadBytes(coffpe.SymbolSlotSize)
			if err != nil {
				return nil, &ErrMalformed{path, fmt.Errorf("symbol slot %d: %w", i, err)}
			}
			std := coffpe.DecodeStandardSymbol(slotBytes)
			f.Symbols = append(f.Symbols, SymbolSlot{Standard: &std})
			preceding = std
			i++
			for aux := 0; aux < int(std.NumberOfAuxSymbols) && i < total; aux++ {
				auxBytes, err := s.ReadBytes(coffpe.SymbolSlotSize)
				if err != nil {
					return nil, &ErrMalformed{path, fmt.Errorf("aux slot %d: %w", i, err)}
				}
				rec := coffpe.DecodeAux(auxBytes, preceding)
				f.Symbols = append(f.Symbols, SymbolSlot{Aux: &rec})
				i++
			}
			// single advance: the aux slots already consumed above account
			// for std.NumberOfAuxSymbols; the outer loop must not add it
			// again (see the numberOfAuxSymbols design note).
		}

		sizeBytes, err := s.ReadBytes(4)
		if err != nil {
			return nil, &ErrMalformed{path, fmt.Errorf("string table size: %w", err)}
		}
		strTabSize := le32(sizeBytes)
		if strTabSize > 4 {
			rest, err := s.ReadBytes(int(strTabSize - 4))
			if err != nil {
				return nil, &ErrMalformed{path, fmt.Errorf("string table: %w", err)}
			}
			off := uint32(4)
			start := 0
			for i, c := range rest {
				if c == 0 {
					f.StringTable[off] = string(rest[start:i])
					off += uint32(i-start) + 1
					start = i + 1
				}
			}
		}
	}

	return f, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
