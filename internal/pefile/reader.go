// Package pefile reads the parts of an existing PE image this linker
// needs to answer "does symbol S exist in DLL D, and at what RVA": the
// COFF header, PE32 or PE32+ optional header, section table, and export
// directory. It is the concrete backing for internal/dlloracle, adapted
// from a PE32+-only export reader to accept both optional-header widths,
// since the DLLs a 32-bit program imports are themselves ordinary PE32
// images on a 32-bit toolchain, not PE32+.
package pefile

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/xyproto/i386ld/internal/coffpe"
)

// ExportedFunction is one named export from a DLL's export directory.
type ExportedFunction struct {
	Name    string
	Ordinal uint16
	RVA     uint32
}

// File holds the parsed header/section/export state of one opened PE
// image (always a DLL, for this linker's purposes).
type File struct {
	f        *os.File
	is64     bool
	coffHdr  coffpe.FileHeader
	opt32    coffpe.OptionalHeader32
	opt64    coffpe.OptionalHeader64
	sections []coffpe.SectionHeader
	exports  map[string]ExportedFunction
}

func imageBase(f *File) uint64 {
	if f.is64 {
		return f.opt64.ImageBase
	}
	return uint64(f.opt32.ImageBase)
}

func dataDir(f *File, idx int) coffpe.DataDirectory {
	if f.is64 {
		return f.opt64.DataDirectories[idx]
	}
	return f.opt32.DataDirectories[idx]
}

// Open parses path's headers and section table. The export directory is
// parsed on the first Lookup.
func Open(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f := &File{f: osf}
	if err := f.parse(); err != nil {
		osf.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) Close() error { return f.f.Close() }

func (f *File) readAt(off int64, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := f.f.ReadAt(b, off); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *File) parse() error {
	dosHdr, err := f.readAt(0, coffpe.DOSHeaderSize)
	if err != nil {
		return fmt.Errorf("dos header: %w", err)
	}
	dos := coffpe.DecodeDOSHeader(dosHdr)
	if dos.Magic != 0x5A4D {
		return fmt.Errorf("not a PE image: bad DOS magic")
	}

	peSigOff := int64(dos.PEHeaderOffset)
	sigAndHdr, err := f.readAt(peSigOff, 4+coffpe.FileHeaderSize)
	if err != nil {
		return fmt.Errorf("pe header: %w", err)
	}
	sig := binary.LittleEndian.Uint32(sigAndHdr[0:4])
	if sig != coffpe.PESignature {
		return fmt.Errorf("not a PE image: bad PE signature")
	}
	f.coffHdr = coffpe.DecodeFileHeader(sigAndHdr[4:])

	optOff := peSigOff + 4 + coffpe.FileHeaderSize
	magicBytes, err := f.readAt(optOff, 2)
	if err != nil {
		return fmt.Errorf("optional header magic: %w", err)
	}
	magic := binary.LittleEndian.Uint16(magicBytes)
	switch magic {
	case coffpe.MagicPE32:
		ob, err := f.readAt(optOff, coffpe.OptionalHeader32Size)
		if err != nil {
			return fmt.Errorf("optional header32: %w", err)
		}
		f.opt32 = coffpe.DecodeOptionalHeader32(ob)
		f.is64 = false
	case coffpe.MagicPE32P:
		ob, err := f.readAt(optOff, coffpe.OptionalHeader64Size)
		if err != nil {
			return fmt.Errorf("optional header64: %w", err)
		}
		f.opt64 = coffpe.DecodeOptionalHeader64(ob)
		f.is64 = true
	default:
		return fmt.Errorf("unrecognized optional header magic %#x", magic)
	}

	sectOff := optOff + int64(f.coffHdr.SizeOfOptionalHeader)
	for i := 0; i < int(f.coffHdr.NumberOfSections); i++ {
		shb, err := f.readAt(sectOff+int64(i*coffpe.SectionHeaderSize), coffpe.SectionHeaderSize)
		if err != nil {
			return fmt.Errorf("section header %d: %w", i, err)
		}
		f.sections = append(f.sections, coffpe.DecodeSectionHeader(shb))
	}
	return nil
}

func (f *File) rvaToSection(rva uint32) *coffpe.SectionHeader {
	for i := range f.sections {
		sh := &f.sections[i]
		size := sh.VirtualSize
		if size == 0 {
			size = sh.SizeOfRawData
		}
		if rva >= sh.VirtualAddress && rva < sh.VirtualAddress+size {
			return sh
		}
	}
	return nil
}

func (f *File) rvaToFileOffset(rva uint32) (int64, error) {
	sh := f.rvaToSection(rva)
	if sh == nil {
		return 0, fmt.Errorf("rva %#x not contained in any section", rva)
	}
	return int64(sh.PointerToRawData + (rva - sh.VirtualAddress)), nil
}

func (f *File) readStringAtRVA(rva uint32) (string, error) {
	off, err := f.rvaToFileOffset(rva)
	if err != nil {
		return "", err
	}
	var buf []byte
	chunk := make([]byte, 1)
	for {
		if _, err := f.f.ReadAt(chunk, off); err != nil {
			return "", err
		}
		if chunk[0] == 0 {
			break
		}
		buf = append(buf, chunk[0])
		off++
	}
	return string(buf), nil
}

// loadExports parses the export directory (data directory 0) on first
// use and caches the name -> ExportedFunction map.
func (f *File) loadExports() error {
	if f.exports != nil {
		return nil
	}
	f.exports = map[string]ExportedFunction{}

	dd := dataDir(f, coffpe.DirExport)
	if dd.VirtualAddress == 0 {
		return nil // no exports: common for non-DLL images, not an error
	}
	off, err := f.rvaToFileOffset(dd.VirtualAddress)
	if err != nil {
		return err
	}
	hdr, err := f.readAt(off, 40)
	if err != nil {
		return fmt.Errorf("export directory: %w", err)
	}
	base := binary.LittleEndian.Uint32(hdr[16:])
	numFunctions := binary.LittleEndian.Uint32(hdr[20:])
	numNames := binary.LittleEndian.Uint32(hdr[24:])
	addrFunctionsRVA := binary.LittleEndian.Uint32(hdr[28:])
	addrNamesRVA := binary.LittleEndian.Uint32(hdr[32:])
	addrNameOrdinalsRVA := binary.LittleEndian.Uint32(hdr[36:])

	funcOff, err := f.rvaToFileOffset(addrFunctionsRVA)
	if err != nil {
		return err
	}
	functions := make([]uint32, numFunctions)
	for i := range functions {
		b, err := f.readAt(funcOff+int64(i*4), 4)
		if err != nil {
			return err
		}
		functions[i] = binary.LittleEndian.Uint32(b)
	}

	namesOff, err := f.rvaToFileOffset(addrNamesRVA)
	if err != nil {
		return err
	}
	ordOff, err := f.rvaToFileOffset(addrNameOrdinalsRVA)
	if err != nil {
		return err
	}
	for i := uint32(0); i < numNames; i++ {
		nb, err := f.readAt(namesOff+int64(i*4), 4)
		if err != nil {
			return err
		}
		nameRVA := binary.LittleEndian.Uint32(nb)
		name, err := f.readStringAtRVA(nameRVA)
		if err != nil {
			return err
		}
		ob, err := f.readAt(ordOff+int64(i*2), 2)
		if err != nil {
			return err
		}
		ordIdx := binary.LittleEndian.Uint16(ob)
		if int(ordIdx) >= len(functions) {
			continue
		}
		f.exports[name] = ExportedFunction{
			Name:    name,
			Ordinal: ordIdx + uint16(base),
			RVA:     functions[ordIdx],
		}
	}
	return nil
}

// Lookup returns the exported function named name, if any.
func (f *File) Lookup(name string) (ExportedFunction, bool) {
	if err := f.loadExports(); err != nil {
		return ExportedFunction{}, false
	}
	fn, ok := f.exports[name]
	return fn, ok
}
