package link

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/i386ld/internal/coffpe"
	"github.com/xyproto/i386ld/internal/objfile"
)

// applyRelocations implements C9: patches every object relocation into
// its merged section's bytes per the i386 relocation semantics of §4.7.
func (l *Linker) applyRelocations() error {
	for objIdx, obj := range l.objects {
		for _, sec := range obj.Sections {
			mergedIdx, ok := l.sectionIndex[sec.Name()]
			if !ok {
				continue
			}
			merged := l.sections[mergedIdx]
			offsetInMerged := l.objSectionOffset[objIdx][sec.Name()]
			sectionRVA := merged.VirtualAddress

			for _, reloc := range sec.Relocations {
				if int(reloc.SymbolTableIndex) >= len(obj.Symbols) {
					return wrap(KindMalformed, "%s: relocation symbol index %d out of range", obj.Path, reloc.SymbolTableIndex)
				}
				slot := obj.Symbols[reloc.SymbolTableIndex]
				if slot.Standard == nil {
					return wrap(KindMalformed, "%s: relocation targets an auxiliary symbol slot", obj.Path)
				}
				sym := *slot.Standard

				addressedRVA, isImport, err := l.addressedRVA(objIdx, obj, sym)
				if err != nil {
					return err
				}

				changedRVA := sectionRVA + offsetInMerged
				patchOff := int(offsetInMerged + reloc.VirtualAddress)
				if patchOff+4 > len(merged.Data) {
					return wrap(KindMalformed, "%s: relocation patch offset %d out of bounds", obj.Path, patchOff)
				}

				switch reloc.Type {
				case coffpe.RelocAbsolute:
					// no-op

				case coffpe.RelocDir32VA:
					v := addressedRVA + l.opts.ImageBase
					if isImport {
						binary.LittleEndian.PutUint32(merged.Data[patchOff:], v)
					} else {
						addDword(merged.Data[patchOff:], v)
					}

				case coffpe.RelocDir32RVA:
					if isImport {
						binary.LittleEndian.PutUint32(merged.Data[patchOff:], addressedRVA)
					} else {
						addDword(merged.Data[patchOff:], addressedRVA)
					}

				case coffpe.RelocRel32:
					v := addressedRVA - changedRVA - 5 - (reloc.VirtualAddress - 1)
					if isImport {
						binary.LittleEndian.PutUint32(merged.Data[patchOff:], v)
					} else {
						addDword(merged.Data[patchOff:], v)
					}

				default:
					return &Error{Kind: KindUnsupportedRelocation, Err: fmt.Errorf("%s: unsupported relocation type %#x", obj.Path, reloc.Type)}
				}
			}
		}
	}
	return nil
}

func addDword(b []byte, v uint32) {
	existing := binary.LittleEndian.Uint32(b)
	binary.LittleEndian.PutUint32(b, existing+v)
}

// addressedRVA resolves a relocation's target symbol to an RVA, per the
// three cases of §4.7: a non-External section-relative symbol, an
// External symbol resolved in the global map, or an External symbol
// resolved to a synthesized import thunk.
func (l *Linker) addressedRVA(objIdx int, obj *objfile.File, sym coffpe.StandardSymbol) (rva uint32, isImport bool, err error) {
	if sym.StorageClass != coffpe.ClassExternal {
		secName, nameErr := obj.SymbolName(sym)
		if nameErr != nil {
			return 0, false, wrap(KindMalformed, "%s: %v", obj.Path, nameErr)
		}
		mergedIdx, ok := l.sectionIndex[secName]
		if !ok {
			return 0, false, wrap(KindMalformed, "%s: relocation references unknown section %q", obj.Path, secName)
		}
		addressedOffset := l.objSectionOffset[objIdx][secName] + sym.Value
		return l.sections[mergedIdx].VirtualAddress + addressedOffset, false, nil
	}

	name, nameErr := obj.SymbolName(sym)
	if nameErr != nil {
		return 0, false, wrap(KindMalformed, "%s: %v", obj.Path, nameErr)
	}
	if rs, ok := l.resolved[name]; ok {
		return l.resolvedRVA(rs), false, nil
	}
	if thunkRVA, ok := l.importTargetRVA(name); ok {
		return thunkRVA, true, nil
	}
	return 0, false, wrap(KindResolution, "%s: relocation references unresolved symbol %q", obj.Path, name)
}
