package doc97_test

import (
	"encoding/binary"
	"strings"
	"testing"

	doc97 "github.com/hexworks/doc97"
	"github.com/hexworks/doc97/docerr"
)

const (
	sectorSize = 512
	entrySize  = 128
	freeSect   = 0xFFFFFFFF
	endOfChain = 0xFFFFFFFE
	fatSectTag = 0xFFFFFFFD
	noStream   = 0xFFFFFFFF
)

type stream struct {
	name string
	data []byte
}

// buildDocFile assembles a complete single-FAT-sector .doc image holding
// the given streams, each in its own contiguous sector run.
func buildDocFile(t *testing.T, streams []stream) []byte {
	t.Helper()

	header := make([]byte, sectorSize)
	copy(header, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	binary.LittleEndian.PutUint16(header[0x1E:], 9) // 512-byte sectors
	binary.LittleEndian.PutUint16(header[0x20:], 6)
	binary.LittleEndian.PutUint32(header[0x30:], 1) // directory at sector 1
	binary.LittleEndian.PutUint32(header[0x38:], 4096)
	binary.LittleEndian.PutUint32(header[0x3C:], endOfChain) // no mini-FAT
	binary.LittleEndian.PutUint32(header[0x44:], endOfChain) // no DIFAT chain
	for i := 0; i < 109; i++ {
		binary.LittleEndian.PutUint32(header[0x4C+4*i:], freeSect)
	}
	binary.LittleEndian.PutUint32(header[0x4C:], 0) // FAT in sector 0

	fat := make([]byte, sectorSize)
	for i := range fat {
		fat[i] = 0xFF // freeSect fill
	}
	binary.LittleEndian.PutUint32(fat[0:], fatSectTag)
	binary.LittleEndian.PutUint32(fat[4:], endOfChain) // directory, one sector

	dir := make([]byte, sectorSize)
	putEntry := func(i int, name string, objType byte, start uint32, size uint64) {
		b := dir[i*entrySize : (i+1)*entrySize]
		for j, r := range name {
			binary.LittleEndian.PutUint16(b[2*j:], uint16(r))
		}
		binary.LittleEndian.PutUint16(b[0x40:], uint16(2*(len(name)+1)))
		b[0x42] = objType
		binary.LittleEndian.PutUint32(b[0x44:], noStream)
		binary.LittleEndian.PutUint32(b[0x48:], noStream)
		binary.LittleEndian.PutUint32(b[0x4C:], noStream)
		binary.LittleEndian.PutUint32(b[0x74:], start)
		binary.LittleEndian.PutUint64(b[0x78:], size)
	}
	putEntry(0, "Root Entry", 0x05, endOfChain, 0)

	var data []byte
	next := uint32(2) // first data sector
	for i, s := range streams {
		nSectors := (len(s.data) + sectorSize - 1) / sectorSize
		start := uint32(endOfChain)
		if nSectors > 0 {
			start = next
			for k := 0; k < nSectors; k++ {
				succ := uint32(endOfChain)
				if k < nSectors-1 {
					succ = next + uint32(k) + 1
				}
				binary.LittleEndian.PutUint32(fat[4*(next+uint32(k)):], succ)
			}
			padded := make([]byte, nSectors*sectorSize)
			copy(padded, s.data)
			data = append(data, padded...)
			next += uint32(nSectors)
		}
		putEntry(1+i, s.name, 0x02, start, uint64(len(s.data)))
	}

	out := append(header, fat...)
	out = append(out, dir...)
	out = append(out, data...)
	return out
}

// buildFIB produces a 512-byte WordDocument prefix with the given flags
// word and CLX locator.
func buildFIB(flags uint16, fcClx, lcbClx uint32) []byte {
	b := make([]byte, sectorSize)
	binary.LittleEndian.PutUint16(b[0x00:], 0xA5EC) // wIdent
	binary.LittleEndian.PutUint16(b[0x02:], 0x00C1) // nFib, Word 97
	binary.LittleEndian.PutUint16(b[0x0A:], flags)
	binary.LittleEndian.PutUint32(b[0x01A2:], fcClx)
	binary.LittleEndian.PutUint32(b[0x01A6:], lcbClx)
	return b
}

// buildTable places a CLX with one Pcdt at offset 0x80 of a fresh table
// stream. cps has one more element than fcRaws.
func buildTable(cps []uint32, fcRaws []uint32) []byte {
	n := len(fcRaws)
	plc := make([]byte, 4*(n+1)+8*n)
	for i, cp := range cps {
		binary.LittleEndian.PutUint32(plc[4*i:], cp)
	}
	for i, fc := range fcRaws {
		binary.LittleEndian.PutUint32(plc[4*(n+1)+8*i+2:], fc)
	}

	table := make([]byte, 0x80+5+len(plc))
	table[0x80] = 0x02
	binary.LittleEndian.PutUint32(table[0x81:], uint32(len(plc)))
	copy(table[0x85:], plc)
	return table
}

func clxLen(nPieces int) uint32 {
	return uint32(5 + 4*(nPieces+1) + 8*nPieces)
}

func TestTextCompressedPiece(t *testing.T) {
	wordDoc := buildFIB(0x0200, 0x80, clxLen(1))
	copy(wordDoc[0x40:], "abc")
	table := buildTable([]uint32{0, 3}, []uint32{0x80 | 0x40000000})

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
		{"1Table", table},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	got, err := doc.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "abc" {
		t.Fatalf("Text = %q, want %q", got, "abc")
	}
}

func TestTextUTF16Piece(t *testing.T) {
	wordDoc := buildFIB(0x0200, 0x80, clxLen(1))
	copy(wordDoc[0x80:], []byte{0x41, 0x00, 0x42, 0x00})
	table := buildTable([]uint32{0, 2}, []uint32{0x80})

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
		{"1Table", table},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	got, err := doc.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "AB" {
		t.Fatalf("Text = %q, want %q", got, "AB")
	}
}

func TestTextMixedPieces(t *testing.T) {
	wordDoc := buildFIB(0x0200, 0x80, clxLen(2))
	copy(wordDoc[0x40:], "Hi")
	copy(wordDoc[0x80:], []byte{0x21, 0x00})
	table := buildTable([]uint32{0, 2, 3}, []uint32{0x80 | 0x40000000, 0x80})

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
		{"1Table", table},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	got, err := doc.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "Hi!" {
		t.Fatalf("Text = %q, want %q", got, "Hi!")
	}
}

func TestTextNormalization(t *testing.T) {
	raw := []byte{0x41, 0x0D, 0x0A, 0x42, 0x0C, 0x43, 0x07, 0x44, 0x13, 0x45, 0x14, 0x46, 0x15, 0x47}
	wordDoc := buildFIB(0x0200, 0x80, clxLen(1))
	copy(wordDoc[0x40:], raw)
	table := buildTable([]uint32{0, uint32(len(raw))}, []uint32{0x80 | 0x40000000})

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
		{"1Table", table},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	got, err := doc.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "A\nB\nC\tDEFG" {
		t.Fatalf("Text = %q, want %q", got, "A\nB\nC\tDEFG")
	}
}

func TestTextTableStreamSelector(t *testing.T) {
	// flags bit 0x0200 clear selects 0Table.
	wordDoc := buildFIB(0x0000, 0x80, clxLen(1))
	copy(wordDoc[0x40:], "sel")
	table := buildTable([]uint32{0, 3}, []uint32{0x80 | 0x40000000})

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
		{"0Table", table},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	got, err := doc.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "sel" {
		t.Fatalf("Text = %q, want %q", got, "sel")
	}
}

func TestTextEncryptedRejected(t *testing.T) {
	wordDoc := buildFIB(0x0200|0x0100, 0, 0)
	table := make([]byte, 64) // unparseable encryption header

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
		{"1Table", table},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	_, err = doc.Text()
	if !docerr.Is(err, docerr.KindFormat) {
		t.Fatalf("Text err = %v, want KindFormat", err)
	}
	if !strings.Contains(err.Error(), "encrypted") {
		t.Fatalf("Text err = %q, want mention of encryption", err)
	}
}

func TestTextEncryptedNamesAlgorithm(t *testing.T) {
	wordDoc := buildFIB(0x0200|0x0100, 0, 0)
	table := make([]byte, 52)
	binary.LittleEndian.PutUint16(table[0:], 1) // legacy RC4 header 1.1
	binary.LittleEndian.PutUint16(table[2:], 1)

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
		{"1Table", table},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	_, err = doc.Text()
	if err == nil || !strings.Contains(err.Error(), "RC4") {
		t.Fatalf("Text err = %v, want mention of RC4", err)
	}
}

func TestTextMissingTableStream(t *testing.T) {
	wordDoc := buildFIB(0x0200, 0x80, clxLen(1))

	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	_, err = doc.Text()
	if !docerr.Is(err, docerr.KindMissingStream) {
		t.Fatalf("Text err = %v, want KindMissingStream", err)
	}
}

func TestTextMissingWordDocument(t *testing.T) {
	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"1Table", make([]byte, 16)},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	_, err = doc.Text()
	if !docerr.Is(err, docerr.KindMissingStream) {
		t.Fatalf("Text err = %v, want KindMissingStream", err)
	}
}

func TestTextShortWordDocument(t *testing.T) {
	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", make([]byte, 0x1A9)},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	_, err = doc.Text()
	if !docerr.Is(err, docerr.KindInvalid) {
		t.Fatalf("Text err = %v, want KindInvalid", err)
	}
}

func TestOpenBytesNotOLE2(t *testing.T) {
	buf := make([]byte, 512)
	copy(buf, "invalid")
	_, err := doc97.OpenBytes(buf)
	if !docerr.Is(err, docerr.KindFormat) {
		t.Fatalf("OpenBytes err = %v, want KindFormat", err)
	}
	if !strings.Contains(err.Error(), "not an OLE2 container") {
		t.Fatalf("OpenBytes err = %q, want mention of OLE2", err)
	}
}

func TestMetadataAbsentStreamsYieldZeroValue(t *testing.T) {
	wordDoc := buildFIB(0x0200, 0x80, clxLen(1))
	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	m, err := doc.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if *m != (doc97.Metadata{}) {
		t.Fatalf("Metadata = %+v, want zero value", m)
	}
}

func TestMacrosAbsent(t *testing.T) {
	wordDoc := buildFIB(0x0200, 0x80, clxLen(1))
	doc, err := doc97.OpenBytes(buildDocFile(t, []stream{
		{"WordDocument", wordDoc},
	}))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer doc.Close()

	info, err := doc.Macros()
	if err != nil {
		t.Fatalf("Macros: %v", err)
	}
	if info.Present {
		t.Fatalf("Macros = %+v, want absent", info)
	}
}
