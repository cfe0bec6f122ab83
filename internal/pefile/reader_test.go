package pefile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/xyproto/i386ld/internal/coffpe"
)

const (
	testSectionAlign = 0x1000
	testFileAlign    = 0x200
)

// writeMinimalDLL builds a one-section PE32 image exporting a single
// function name at an arbitrary RVA, and returns its path.
func writeMinimalDLL(t *testing.T, dir, exportName string) string {
	t.Helper()

	sizeOfHeaders := coffpe.AlignUp(coffpe.DOSHeaderSize+4+coffpe.FileHeaderSize+coffpe.OptionalHeader32Size+coffpe.SectionHeaderSize, testFileAlign)
	sectionRVA := uint32(testSectionAlign)
	sectionRaw := sizeOfHeaders

	addrFuncsOff := uint32(40)
	addrNamesOff := addrFuncsOff + 4
	addrOrdOff := addrNamesOff + 4
	nameStrOff := addrOrdOff + 2
	dllNameOff := nameStrOff + uint32(len(exportName)+1)
	total := dllNameOff + uint32(len("test.dll")+1)

	data := make([]byte, total)
	binary.LittleEndian.PutUint32(data[16:], 1) // Base
	binary.LittleEndian.PutUint32(data[20:], 1) // NumberOfFunctions
	binary.LittleEndian.PutUint32(data[24:], 1) // NumberOfNames
	binary.LittleEndian.PutUint32(data[28:], sectionRVA+addrFuncsOff)
	binary.LittleEndian.PutUint32(data[32:], sectionRVA+addrNamesOff)
	binary.LittleEndian.PutUint32(data[36:], sectionRVA+addrOrdOff)
	binary.LittleEndian.PutUint32(data[addrFuncsOff:], sectionRVA+0x123) // arbitrary export RVA
	binary.LittleEndian.PutUint32(data[addrNamesOff:], sectionRVA+nameStrOff)
	binary.LittleEndian.PutUint16(data[addrOrdOff:], 0)
	copy(data[nameStrOff:], exportName)
	copy(data[dllNameOff:], "test.dll")

	rawSize := coffpe.AlignUp(total, testFileAlign)
	paddedData := make([]byte, rawSize)
	copy(paddedData, data)

	dos := coffpe.DefaultDOSHeader()
	fh := coffpe.FileHeader{
		Machine:              coffpe.MachineI386,
		NumberOfSections:     1,
		SizeOfOptionalHeader: coffpe.OptionalHeader32Size,
		Characteristics:      coffpe.CharExecutableImage,
	}
	oh := coffpe.OptionalHeader32{
		Magic:           coffpe.MagicPE32,
		SectionAlignment: testSectionAlign,
		FileAlignment:   testFileAlign,
		SizeOfImage:     sectionRVA + coffpe.AlignUp(total, testSectionAlign),
		SizeOfHeaders:   sizeOfHeaders,
		NumberOfRvaAndSizes: coffpe.NumDataDirs,
	}
	oh.DataDirectories[coffpe.DirExport] = coffpe.DataDirectory{VirtualAddress: sectionRVA, Size: total}

	sh := coffpe.SectionHeader{
		Name:             coffpe.SectionName8(".edata"),
		VirtualSize:      total,
		VirtualAddress:    sectionRVA,
		SizeOfRawData:    rawSize,
		PointerToRawData: sectionRaw,
		Characteristics:  coffpe.SecContainsInitializedData | coffpe.SecMemRead,
	}

	var buf []byte
	buf = append(buf, dos.Encode()...)
	sig := make([]byte, 4)
	binary.LittleEndian.PutUint32(sig, coffpe.PESignature)
	buf = append(buf, sig...)
	buf = append(buf, fh.Encode()...)
	buf = append(buf, oh.Encode()...)
	buf = append(buf, sh.Encode()...)
	for uint32(len(buf)) < sizeOfHeaders {
		buf = append(buf, 0)
	}
	for uint32(len(buf)) < sectionRaw {
		buf = append(buf, 0)
	}
	buf = append(buf, paddedData...)

	path := filepath.Join(dir, "test.dll")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write dll: %v", err)
	}
	return path
}

func TestOpenAndLookupExport(t *testing.T) {
	path := writeMinimalDLL(t, t.TempDir(), "ExportedThing")
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	fn, ok := f.Lookup("ExportedThing")
	if !ok {
		t.Fatal("expected ExportedThing to be found")
	}
	if fn.Name != "ExportedThing" {
		t.Errorf("got name %q", fn.Name)
	}
}

func TestLookupMissingExport(t *testing.T) {
	path := writeMinimalDLL(t, t.TempDir(), "ExportedThing")
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if _, ok := f.Lookup("DoesNotExist"); ok {
		t.Fatal("expected lookup to fail")
	}
}

func TestOpenRejectsNonPE(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notapeimage.dll")
	if err := os.WriteFile(path, []byte("not a pe file at all, padded out"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to reject a non-PE file")
	}
}
