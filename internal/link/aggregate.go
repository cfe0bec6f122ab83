package link

import (
	"sort"

	"github.com/xyproto/i386ld/internal/objfile"
)

// logicalData returns sec's contribution to its merged section: the raw
// bytes read from disk for sections that have them, or a zero-filled
// buffer sized from the object's SizeOfRawData for uninitialized-data
// sections, which objfile.Read leaves with a nil Data since there is
// nothing on disk to read (PointerToRawData==0) even though the section
// still reserves SizeOfRawData bytes of image space.
func logicalData(sec *objfile.Section) []byte {
	if len(sec.Data) > 0 {
		return sec.Data
	}
	if sec.Header.SizeOfRawData > 0 {
		return make([]byte, sec.Header.SizeOfRawData)
	}
	return sec.Data
}

// aggregate implements C5: it groups same-named sections across all
// registered objects, concatenating their raw bytes and recording each
// contributing object's offset into the merged buffer, then orders the
// merged sections by rank (code, then initialized data, then
// uninitialized data, then other), preserving insertion order on ties.
func (l *Linker) aggregate() {
	l.objSectionOffset = make([]map[string]uint32, len(l.objects))
	for i := range l.objects {
		l.objSectionOffset[i] = map[string]uint32{}
	}

	for objIdx, obj := range l.objects {
		for _, sec := range obj.Sections {
			name := sec.Name()
			contribution := logicalData(sec)
			idx, ok := l.sectionIndex[name]
			if !ok {
				idx = len(l.sections)
				data := make([]byte, len(contribution))
				copy(data, contribution)
				l.sections = append(l.sections, &Section{
					Name:            name,
					Characteristics: sec.Header.Characteristics,
					Data:            data,
					Rank:            rankOf(sec.Header.Characteristics),
				})
				l.sectionIndex[name] = idx
				l.objSectionOffset[objIdx][name] = 0
			} else {
				merged := l.sections[idx]
				l.objSectionOffset[objIdx][name] = uint32(len(merged.Data))
				merged.Data = append(merged.Data, contribution...)
			}
		}
	}

	sort.SliceStable(l.sections, func(i, j int) bool {
		return l.sections[i].Rank < l.sections[j].Rank
	})
	l.sectionIndex = map[string]int{}
	for i, s := range l.sections {
		l.sectionIndex[s.Name] = i
	}
}
