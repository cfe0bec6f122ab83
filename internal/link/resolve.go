package link

import "github.com/xyproto/i386ld/internal/coffpe"

// resolveSymbols implements C7: builds the global name -> (output
// section, offset) map from every External Standard symbol with a
// nonzero section number, across all objects. Duplicate names fail the
// link with a ResolutionError, per §4.5/§8 ("Uniqueness").
func (l *Linker) resolveSymbols() error {
	for objIdx, obj := range l.objects {
		for _, slot := range obj.Symbols {
			if slot.Standard == nil {
				continue
			}
			sym := *slot.Standard
			if sym.StorageClass != coffpe.ClassExternal || sym.SectionNumber <= 0 {
				continue
			}
			name, err := obj.SymbolName(sym)
			if err != nil {
				return wrap(KindMalformed, "%s: %v", obj.Path, err)
			}

			secIdx := int(sym.SectionNumber) - 1
			if secIdx < 0 || secIdx >= len(obj.Sections) {
				return wrap(KindMalformed, "%s: symbol %q references out-of-range section %d", obj.Path, name, sym.SectionNumber)
			}
			secName := obj.Sections[secIdx].Name()
			mergedIdx, ok := l.sectionIndex[secName]
			if !ok {
				return wrap(KindMalformed, "%s: symbol %q in unknown merged section %q", obj.Path, name, secName)
			}
			localOffset := l.objSectionOffset[objIdx][secName]

			if _, dup := l.resolved[name]; dup {
				return wrap(KindResolution, "symbol %q defined in multiple object files", name)
			}
			l.resolved[name] = ResolvedSymbol{
				SectionIndex: mergedIdx,
				Offset:       localOffset + sym.Value,
			}
		}
	}
	return nil
}

// resolvedRVA returns the RVA of a resolved symbol.
func (l *Linker) resolvedRVA(rs ResolvedSymbol) uint32 {
	return l.sections[rs.SectionIndex].VirtualAddress + rs.Offset
}
