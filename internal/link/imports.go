package link

import (
	"encoding/binary"

	"github.com/xyproto/i386ld/internal/coffpe"
)

// synthesizeImports implements C8: discovers every External symbol
// referenced by a relocation but not defined anywhere in the linked
// objects, resolves each against the DLL oracle, and — if any imports
// exist — prepends a `.dlljmp` thunk section and appends an `.idata`
// section holding the import directory, lookup/address tables,
// hint-name entries, and DLL name strings.
func (l *Linker) synthesizeImports() error {
	if err := l.discoverImports(); err != nil {
		return err
	}
	if len(l.importDLLs) == 0 {
		return nil
	}
	l.prependThunkSection()
	l.appendImportDataSection()
	l.fillThunks()
	return nil
}

func (l *Linker) findOrCreateDLL(name string) *ImportedDLL {
	for _, d := range l.importDLLs {
		if d.Name == name {
			return d
		}
	}
	d := &ImportedDLL{Name: name}
	l.importDLLs = append(l.importDLLs, d)
	return d
}

// discoverImports is Pass 1 of §4.6: scan every relocation, and for each
// target External symbol absent from the global resolver map, consult
// the DLL oracle. An unresolvable symbol fails the link.
func (l *Linker) discoverImports() error {
	for _, obj := range l.objects {
		for _, sec := range obj.Sections {
			for _, reloc := range sec.Relocations {
				if int(reloc.SymbolTableIndex) >= len(obj.Symbols) {
					return wrap(KindMalformed, "%s: relocation symbol index %d out of range", obj.Path, reloc.SymbolTableIndex)
				}
				slot := obj.Symbols[reloc.SymbolTableIndex]
				if slot.Standard == nil {
					continue
				}
				sym := *slot.Standard
				if sym.StorageClass != coffpe.ClassExternal {
					continue
				}
				name, err := obj.SymbolName(sym)
				if err != nil {
					return wrap(KindMalformed, "%s: %v", obj.Path, err)
				}
				if _, ok := l.resolved[name]; ok {
					continue
				}
				if _, ok := l.importAlias[name]; ok {
					continue
				}

				res, found := l.oracle.Resolve(name)
				if !found {
					return wrap(KindResolution, "unresolved external symbol %q (no DLL provides it)", name)
				}
				l.importAlias[name] = res.Name
				if _, ok := l.imports[res.Name]; !ok {
					fn := &ImportedFunction{Name: res.Name}
					l.imports[res.Name] = fn
					dll := l.findOrCreateDLL(res.DLL)
					dll.Functions = append(dll.Functions, fn)
				}
			}
		}
	}
	return nil
}

func (l *Linker) totalImportCount() int {
	n := 0
	for _, d := range l.importDLLs {
		n += len(d.Functions)
	}
	return n
}

// prependThunkSection inserts the `.dlljmp` code section at output index
// 0, shifting every previously laid-out section's file offset and RVA
// by the thunk section's aligned sizes, per the §4.6 "Layout shift".
func (l *Linker) prependThunkSection() {
	count := l.totalImportCount()
	rawSize := coffpe.AlignUp(uint32(6*count), l.opts.FileAlign)
	vSize := coffpe.AlignUp(uint32(6*count), l.opts.SectionAlign)

	for _, s := range l.sections {
		if s.PointerToRawData != 0 {
			s.PointerToRawData += rawSize
		}
		s.VirtualAddress += vSize
	}
	l.baseOfData += vSize
	l.sizeOfCode += rawSize
	l.rawCursor += rawSize
	l.vaCursor += vSize

	thunk := &Section{
		Name:             ".dlljmp",
		Characteristics:  coffpe.SecContainsCode | coffpe.SecMemExecute | coffpe.SecMemRead,
		Data:             make([]byte, 6*count),
		Rank:             0,
		VirtualAddress:    l.opts.SectionAlign,
		VirtualSize:      uint32(6 * count),
		PointerToRawData: l.sizeOfHeaders,
		SizeOfRawData:    rawSize,
	}
	l.baseOfCode = thunk.VirtualAddress

	l.sections = append([]*Section{thunk}, l.sections...)
	l.sectionIndex = map[string]int{}
	for i, s := range l.sections {
		l.sectionIndex[s.Name] = i
	}
	for name, rs := range l.resolved {
		rs.SectionIndex++
		l.resolved[name] = rs
	}
}

// appendImportDataSection builds and appends `.idata`: the import
// directory table, the lookup/address tables, the hint-name block, and
// the DLL name strings, per the exact byte-offset arithmetic of §4.6
// (size+3 hint-name advance, reproduced per the §9 design note).
func (l *Linker) appendImportDataSection() {
	k := len(l.importDLLs)
	idtSize := uint32((k + 1) * coffpe.ImportDirEntrySize)

	var iltBlockSize, hintNameBlockSize, dllNamesSize uint32
	for _, d := range l.importDLLs {
		iltBlockSize += uint32((1 + len(d.Functions)) * 4)
		for _, fn := range d.Functions {
			hintNameBlockSize += uint32(len(fn.Name) + 3)
		}
		dllNamesSize += uint32(len(d.Name) + 1)
	}
	iatBlockSize := iltBlockSize

	V := l.vaCursor
	R := l.rawCursor

	iltBlockStart := V + idtSize
	iatBlockStart := iltBlockStart + iltBlockSize
	hintNameBlockStart := iatBlockStart + iatBlockSize
	dllNamesBlockStart := hintNameBlockStart + hintNameBlockSize

	total := idtSize + iltBlockSize + iatBlockSize + hintNameBlockSize + dllNamesSize
	data := make([]byte, total)

	var lookupOff, hintOff, nameOff uint32
	for _, d := range l.importDLLs {
		d.ILTRVA = iltBlockStart + lookupOff
		d.IATRVA = iatBlockStart + lookupOff
		d.NameRVA = dllNamesBlockStart + nameOff

		for i, fn := range d.Functions {
			fn.HintNameRVA = hintNameBlockStart + hintOff
			fn.IATRVA = d.IATRVA + uint32(i*4)

			binary.LittleEndian.PutUint32(data[iltBlockStart-V+lookupOff+uint32(i*4):], fn.HintNameRVA)
			binary.LittleEndian.PutUint32(data[iatBlockStart-V+lookupOff+uint32(i*4):], fn.HintNameRVA)

			entryOff := hintNameBlockStart - V + hintOff
			// 2-byte hint (always zero), NUL-terminated name; no
			// additional pad byte beyond the NUL (see the idata sizing
			// design note).
			copy(data[entryOff+2:], fn.Name)
			hintOff += uint32(len(fn.Name) + 3)
		}
		lookupOff += uint32((1 + len(d.Functions)) * 4)

		copy(data[dllNamesBlockStart-V+nameOff:], d.Name)
		nameOff += uint32(len(d.Name) + 1)
	}

	// import directory table: one 20-byte entry per DLL, terminated by a
	// zeroed entry.
	for i, d := range l.importDLLs {
		e := coffpe.ImportDirectoryEntry{
			ImportLookupTableRVA:  d.ILTRVA,
			ImportAddressTableRVA: d.IATRVA,
			NameRVA:               d.NameRVA,
		}
		copy(data[i*coffpe.ImportDirEntrySize:], e.Encode())
	}

	sec := &Section{
		Name:             ".idata",
		Characteristics:  coffpe.SecContainsInitializedData | coffpe.SecMemRead | coffpe.SecMemWrite,
		Data:             data,
		Rank:             3,
		VirtualAddress:    V,
		VirtualSize:      total,
		PointerToRawData: R,
		SizeOfRawData:    coffpe.AlignUp(total, l.opts.FileAlign),
	}
	l.sections = append(l.sections, sec)
	l.sectionIndex[sec.Name] = len(l.sections) - 1

	l.rawCursor = R + sec.SizeOfRawData
	l.vaCursor = V + coffpe.AlignUp(total, l.opts.SectionAlign)
	l.sizeOfImage = l.vaCursor
	l.sizeOfInitializedData += sec.SizeOfRawData

	l.importDirRVA = V
	l.importDirSize = total
	l.iatDirRVA = iatBlockStart
	l.iatDirSize = iatBlockSize
}

// fillThunks writes the `FF 25 <abs IAT addr>` indirect-jump bytes for
// every imported function's thunk slot, in the same order the thunk
// section's size was computed from.
func (l *Linker) fillThunks() {
	thunkSec := l.sections[l.sectionIndex[".dlljmp"]]
	idx := 0
	for _, d := range l.importDLLs {
		for _, fn := range d.Functions {
			fn.ThunkRVA = thunkSec.VirtualAddress + uint32(idx*6)
			off := idx * 6
			thunkSec.Data[off] = 0xFF
			thunkSec.Data[off+1] = 0x25
			binary.LittleEndian.PutUint32(thunkSec.Data[off+2:], l.opts.ImageBase+fn.IATRVA)
			idx++
		}
	}
}

// importTargetRVA returns the thunk RVA an External symbol resolves to,
// if it was discovered as an import.
func (l *Linker) importTargetRVA(name string) (uint32, bool) {
	resolved, ok := l.importAlias[name]
	if !ok {
		return 0, false
	}
	fn, ok := l.imports[resolved]
	if !ok {
		return 0, false
	}
	return fn.ThunkRVA, true
}
