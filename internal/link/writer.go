package link

import (
	"encoding/binary"
	"os"

	"github.com/xyproto/i386ld/internal/bstream"
	"github.com/xyproto/i386ld/internal/coffpe"
)

// Linker version fixed by §6.2.
const (
	linkerMajor = 2
	linkerMinor = 24
)

// WriteTo implements C10: resizes the output file to its final length,
// then writes the DOS header, PE signature, COFF file header, optional
// header, section headers, and each section's raw data at its assigned
// file offset. Any failure after the file is created removes the
// partial output, per §5.
func (l *Linker) WriteTo(path string) (err error) {
	s, createErr := bstream.Create(path)
	if createErr != nil {
		return &Error{Kind: KindWrite, Err: createErr}
	}
	defer func() {
		closeErr := s.Close()
		if err != nil {
			os.Remove(path)
			return
		}
		if closeErr != nil {
			err = &Error{Kind: KindWrite, Err: closeErr}
			os.Remove(path)
		}
	}()

	last := l.sections[len(l.sections)-1]
	totalSize := int64(last.PointerToRawData) + int64(last.SizeOfRawData)
	if writeErr := s.Truncate(totalSize); writeErr != nil {
		return &Error{Kind: KindWrite, Err: writeErr}
	}

	if writeErr := s.Seek(0); writeErr != nil {
		return &Error{Kind: KindWrite, Err: writeErr}
	}

	dos := coffpe.DefaultDOSHeader()
	if writeErr := s.WriteBytes(dos.Encode()); writeErr != nil {
		return &Error{Kind: KindWrite, Err: writeErr}
	}

	sigBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sigBytes, coffpe.PESignature)
	if writeErr := s.WriteBytes(sigBytes); writeErr != nil {
		return &Error{Kind: KindWrite, Err: writeErr}
	}

	entry, _ := l.resolveEntry()
	fh := coffpe.FileHeader{
		Machine:              coffpe.MachineI386,
		NumberOfSections:      uint16(len(l.sections)),
		TimeDateStamp:        0,
		PointerToSymbolTable: 0,
		NumberOfSymbols:      0,
		SizeOfOptionalHeader: coffpe.OptionalHeader32Size,
		Characteristics: coffpe.CharRelocsStripped | coffpe.CharExecutableImage |
			coffpe.Char32BitMachine | coffpe.CharDebugStripped,
	}
	if writeErr := s.WriteBytes(fh.Encode()); writeErr != nil {
		return &Error{Kind: KindWrite, Err: writeErr}
	}

	oh := coffpe.OptionalHeader32{
		Magic:                   coffpe.MagicPE32,
		MajorLinkerVersion:       linkerMajor,
		MinorLinkerVersion:       linkerMinor,
		SizeOfCode:              l.sizeOfCode,
		SizeOfInitializedData:    l.sizeOfInitializedData,
		SizeOfUninitializedData:  l.sizeOfUninitializedData,
		AddressOfEntryPoint:      l.resolvedRVA(entry),
		BaseOfCode:              l.baseOfCode,
		BaseOfData:              l.baseOfData,
		ImageBase:               l.opts.ImageBase,
		SectionAlignment:         l.opts.SectionAlign,
		FileAlignment:           l.opts.FileAlign,
		MajorOSVersion:           4,
		MinorOSVersion:           0,
		MajorImageVersion:        1,
		MinorImageVersion:        0,
		MajorSubsystemVersion:    4,
		MinorSubsystemVersion:    0,
		SizeOfImage:             l.sizeOfImage,
		SizeOfHeaders:           l.sizeOfHeaders,
		Subsystem:               l.opts.Subsystem,
		SizeOfStackReserve:       l.opts.StackReserve,
		SizeOfStackCommit:       l.opts.StackCommit,
		SizeOfHeapReserve:        l.opts.HeapReserve,
		SizeOfHeapCommit:       l.opts.HeapCommit,
		NumberOfRvaAndSizes:      coffpe.NumDataDirs,
	}
	oh.DataDirectories[coffpe.DirImport] = coffpe.DataDirectory{VirtualAddress: l.importDirRVA, Size: l.importDirSize}
	oh.DataDirectories[coffpe.DirIAT] = coffpe.DataDirectory{VirtualAddress: l.iatDirRVA, Size: l.iatDirSize}
	if writeErr := s.WriteBytes(oh.Encode()); writeErr != nil {
		return &Error{Kind: KindWrite, Err: writeErr}
	}

	for _, sec := range l.sections {
		sh := coffpe.SectionHeader{
			Name:             coffpe.SectionName8(sec.Name),
			VirtualSize:      sec.VirtualSize,
			VirtualAddress:    sec.VirtualAddress,
			SizeOfRawData:    sec.SizeOfRawData,
			PointerToRawData: sec.PointerToRawData,
			Characteristics:  sec.Characteristics,
		}
		if writeErr := s.WriteBytes(sh.Encode()); writeErr != nil {
			return &Error{Kind: KindWrite, Err: writeErr}
		}
	}

	for _, sec := range l.sections {
		if sec.SizeOfRawData == 0 {
			continue
		}
		if writeErr := s.Seek(int64(sec.PointerToRawData)); writeErr != nil {
			return &Error{Kind: KindWrite, Err: writeErr}
		}
		if writeErr := s.WriteBytes(sec.Data); writeErr != nil {
			return &Error{Kind: KindWrite, Err: writeErr}
		}
		pad := int(sec.SizeOfRawData) - len(sec.Data)
		if pad > 0 {
			if writeErr := s.WriteZeros(pad); writeErr != nil {
				return &Error{Kind: KindWrite, Err: writeErr}
			}
		}
	}

	return nil
}
