package link

import "github.com/xyproto/i386ld/internal/coffpe"

// peHeaderFixedSize is everything before the section header array:
// DOS header, "PE\0\0" signature, COFF file header, PE32 optional header.
const peHeaderFixedSize = coffpe.DOSHeaderSize + 4 + coffpe.FileHeaderSize + coffpe.OptionalHeader32Size

// computeLayout implements C6: assigns pointerToRawData and
// virtualAddress to every merged section under the file/section
// alignment constraints, and computes the header/image size fields.
//
// sizeOfHeaders reserves two extra section-header slots for the
// optional .dlljmp/.idata sections synthesized later by C8, per §4.4;
// the leading virtual-address gap is reproduced exactly as the
// (x/align)+1 integer-division form the original source used, per the
// design note in §9, rather than a clean align_up.
func (l *Linker) computeLayout() {
	n := uint32(len(l.sections))
	l.sizeOfHeaders = coffpe.AlignUp(peHeaderFixedSize+coffpe.SectionHeaderSize*(n+2), l.opts.FileAlign)

	rawAddress := l.sizeOfHeaders
	virtualAddress := l.opts.SectionAlign*(l.sizeOfHeaders/l.opts.SectionAlign+1)

	l.baseOfCode = 0
	l.sizeOfCode = 0
	l.sizeOfInitializedData = 0
	l.sizeOfUninitializedData = 0

	firstCode := true
	for _, s := range l.sections {
		s.VirtualSize = uint32(len(s.Data))
		if s.VirtualSize < 4 {
			s.VirtualSize = 4
		}

		if s.Rank == 2 { // ContainsUninitializedData
			s.SizeOfRawData = 0
			s.PointerToRawData = 0
		} else {
			s.SizeOfRawData = coffpe.AlignUp(uint32(len(s.Data)), l.opts.FileAlign)
			s.PointerToRawData = rawAddress
			rawAddress += s.SizeOfRawData
		}

		s.VirtualAddress = virtualAddress
		virtualAddress += coffpe.AlignUp(uint32(len(s.Data)), l.opts.SectionAlign)

		switch s.Rank {
		case 0:
			l.sizeOfCode += s.SizeOfRawData
			if firstCode {
				l.baseOfCode = s.VirtualAddress
				firstCode = false
			}
			l.baseOfData = virtualAddress
		case 1:
			l.sizeOfInitializedData += s.SizeOfRawData
		case 2:
			l.sizeOfUninitializedData += s.VirtualSize
		}
	}

	l.sizeOfImage = virtualAddress
	l.rawCursor = rawAddress
	l.vaCursor = virtualAddress
}
