// Package ole2 implements a reader for the Compound File Binary Format
// (CFBF, a.k.a. OLE2): the sectored container format that stores a
// Word 97-2003 document's WordDocument, table, and property-set streams
// under named directory entries.
//
// The reader follows the DIFAT -> FAT -> directory -> mini-FAT chain
// exactly as laid out in MS-CFB: it never guesses at stream boundaries or
// falls back to scanning for "probably text" sectors. A broken chain is
// reported as a docerr.Error, not silently patched over.
package ole2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"unicode/utf16"

	"github.com/hexworks/doc97/docerr"
)

const (
	headerSize   = 512
	dirEntrySize = 128

	freeSect   = 0xFFFFFFFF
	endOfChain = 0xFFFFFFFE
	fatSect    = 0xFFFFFFFD
	difatSect  = 0xFFFFFFFC

	// noStream marks an absent sibling/child link in a directory entry.
	noStream = 0xFFFFFFFF

	numHeaderDifat = 109
)

var signature = [8]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// objType values from the directory entry's type byte.
const (
	objEmpty       = 0x00
	objStorage     = 0x01
	objStream      = 0x02
	objRootStorage = 0x05
)

type dirEntry struct {
	name        string
	objType     byte
	leftSib     uint32
	rightSib    uint32
	child       uint32
	startSector uint32
	size        uint64
}

// Reader gives named-stream access to a CFBF container. It is not safe for
// concurrent use: the underlying source has a single shared read cursor.
type Reader struct {
	src    io.ReaderAt
	closer io.Closer

	sectorSize       int
	miniSectorSize   int
	miniStreamCutoff uint32

	fat     []uint32
	miniFat []uint32

	dirEntries []dirEntry
	root       *dirEntry

	miniStream []byte

	h header
}

// Open opens the CFBF container at path, taking ownership of the resulting
// file handle; Close releases it.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := OpenReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// OpenBytes opens an in-memory CFBF container.
func OpenBytes(b []byte) (*Reader, error) {
	return OpenReader(bytes.NewReader(b))
}

// OpenReader opens a CFBF container backed by an arbitrary seekable byte
// source. The source is borrowed: Close never closes it. Pass a value that
// also implements io.Closer and call Close yourself if you want it closed.
func OpenReader(src io.ReaderAt) (*Reader, error) {
	r := &Reader{src: src}
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	if err := r.buildFAT(); err != nil {
		return nil, err
	}
	if err := r.readDirectory(); err != nil {
		return nil, err
	}
	if err := r.loadMiniStream(); err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the file handle opened internally by Open. It is a no-op
// for readers constructed with OpenBytes or OpenReader.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) sectorOffset(idx uint32) int64 {
	return int64(r.sectorSize) * (int64(idx) + 1)
}

func (r *Reader) readAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, off); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, docerr.Format("unexpected end of file")
		}
		return nil, err
	}
	return buf, nil
}

type header struct {
	sectorShift      uint16
	miniSectorShift  uint16
	dirStartSector   uint32
	miniStreamCutoff uint32
	miniFatStart     uint32
	miniFatCount     uint32
	difatStart       uint32
	difatCount       uint32
	difatEntries     [numHeaderDifat]uint32
}

func (r *Reader) readHeader() error {
	buf, err := r.readAt(0, headerSize)
	if err != nil {
		return docerr.Formatf("failed to read CFBF header", err)
	}
	var sig [8]byte
	copy(sig[:], buf[0:8])
	if sig != signature {
		return docerr.Format("not an OLE2 container: bad signature")
	}

	var h header
	h.sectorShift = binary.LittleEndian.Uint16(buf[0x1E:])
	h.miniSectorShift = binary.LittleEndian.Uint16(buf[0x20:])
	h.dirStartSector = binary.LittleEndian.Uint32(buf[0x30:])
	h.miniStreamCutoff = binary.LittleEndian.Uint32(buf[0x38:])
	h.miniFatStart = binary.LittleEndian.Uint32(buf[0x3C:])
	h.miniFatCount = binary.LittleEndian.Uint32(buf[0x40:])
	h.difatStart = binary.LittleEndian.Uint32(buf[0x44:])
	h.difatCount = binary.LittleEndian.Uint32(buf[0x48:])
	for i := 0; i < numHeaderDifat; i++ {
		h.difatEntries[i] = binary.LittleEndian.Uint32(buf[0x4C+4*i:])
	}

	r.sectorSize = 1 << h.sectorShift
	r.miniSectorSize = 1 << h.miniSectorShift
	r.miniStreamCutoff = h.miniStreamCutoff
	r.h = h
	return nil
}

func (r *Reader) buildFAT() error {
	var fatSectors []uint32
	for _, s := range r.h.difatEntries {
		if s != freeSect && s != endOfChain {
			fatSectors = append(fatSectors, s)
		}
	}

	next := r.h.difatStart
	entriesPerSector := r.sectorSize/4 - 1
	seen := map[uint32]bool{}
	for next != freeSect && next != endOfChain {
		if seen[next] {
			return docerr.Format("DIFAT chain loops")
		}
		seen[next] = true
		sec, err := r.readAt(r.sectorOffset(next), r.sectorSize)
		if err != nil {
			return docerr.Formatf("failed to read DIFAT sector", err)
		}
		for i := 0; i < entriesPerSector; i++ {
			v := binary.LittleEndian.Uint32(sec[4*i:])
			if v != freeSect && v != endOfChain {
				fatSectors = append(fatSectors, v)
			}
		}
		next = binary.LittleEndian.Uint32(sec[4*entriesPerSector:])
	}

	var fatBytes []byte
	for _, s := range fatSectors {
		sec, err := r.readAt(r.sectorOffset(s), r.sectorSize)
		if err != nil {
			return docerr.Formatf("failed to read FAT sector", err)
		}
		fatBytes = append(fatBytes, sec...)
	}

	r.fat = make([]uint32, len(fatBytes)/4)
	for i := range r.fat {
		r.fat[i] = binary.LittleEndian.Uint32(fatBytes[4*i:])
	}
	return nil
}

// readChain follows a FAT sector chain starting at start and returns the
// concatenated sector payloads. A chain rooted at FREESECT/ENDOFCHAIN
// yields no bytes. An out-of-range successor or a repeated sector is
// reported as container corruption.
func (r *Reader) readChain(start uint32) ([]byte, error) {
	if start == freeSect || start == endOfChain {
		return nil, nil
	}
	var out []byte
	visited := map[uint32]bool{}
	s := start
	for s != endOfChain {
		if s == freeSect || int(s) >= len(r.fat) {
			return nil, docerr.Format("FAT chain is corrupt")
		}
		if visited[s] {
			return nil, docerr.Format("FAT chain loops")
		}
		visited[s] = true
		sec, err := r.readAt(r.sectorOffset(s), r.sectorSize)
		if err != nil {
			return nil, docerr.Formatf("failed to read sector in chain", err)
		}
		out = append(out, sec...)
		s = r.fat[s]
	}
	return out, nil
}

func (r *Reader) readDirectory() error {
	data, err := r.readChain(r.h.dirStartSector)
	if err != nil {
		return err
	}
	// Entries are kept positionally, free slots included, because the
	// sibling and child links in each entry are indices into the raw
	// directory array.
	for off := 0; off+dirEntrySize <= len(data); off += dirEntrySize {
		ent := data[off : off+dirEntrySize]
		nameLen := binary.LittleEndian.Uint16(ent[0x40:])
		if nameLen < 2 || nameLen > 64 {
			r.dirEntries = append(r.dirEntries, dirEntry{
				objType:  objEmpty,
				leftSib:  noStream,
				rightSib: noStream,
				child:    noStream,
			})
			continue
		}
		nChars := int(nameLen)/2 - 1
		u16 := make([]uint16, nChars)
		for i := 0; i < nChars; i++ {
			u16[i] = binary.LittleEndian.Uint16(ent[2*i:])
		}
		name := string(utf16.Decode(u16))

		de := dirEntry{
			name:        name,
			objType:     ent[0x42],
			leftSib:     binary.LittleEndian.Uint32(ent[0x44:]),
			rightSib:    binary.LittleEndian.Uint32(ent[0x48:]),
			child:       binary.LittleEndian.Uint32(ent[0x4C:]),
			startSector: binary.LittleEndian.Uint32(ent[0x74:]),
			size:        binary.LittleEndian.Uint64(ent[0x78:]),
		}
		r.dirEntries = append(r.dirEntries, de)
		if de.objType == objRootStorage {
			cp := de
			r.root = &cp
		}
	}
	if r.root == nil {
		return docerr.Format("directory has no Root Entry")
	}
	return nil
}

func (r *Reader) loadMiniStream() error {
	full, err := r.readChain(r.root.startSector)
	if err != nil {
		return err
	}
	if uint64(len(full)) > r.root.size {
		full = full[:r.root.size]
	}
	r.miniStream = full

	if r.h.miniFatStart == freeSect || r.h.miniFatStart == endOfChain {
		return nil
	}
	mf, err := r.readChain(r.h.miniFatStart)
	if err != nil {
		return err
	}
	r.miniFat = make([]uint32, len(mf)/4)
	for i := range r.miniFat {
		r.miniFat[i] = binary.LittleEndian.Uint32(mf[4*i:])
	}
	return nil
}

func (r *Reader) readMiniChain(start uint32, size uint64) ([]byte, error) {
	if len(r.miniStream) == 0 || len(r.miniFat) == 0 {
		return nil, docerr.Format("mini stream unavailable")
	}
	var out []byte
	visited := map[uint32]bool{}
	s := start
	for s != endOfChain {
		if s == freeSect || int(s) >= len(r.miniFat) {
			return nil, docerr.Format("mini-FAT chain is corrupt")
		}
		if visited[s] {
			return nil, docerr.Format("mini-FAT chain loops")
		}
		visited[s] = true
		begin := int(s) * r.miniSectorSize
		end := begin + r.miniSectorSize
		if end > len(r.miniStream) {
			return nil, docerr.Format("mini-FAT chain runs past mini stream")
		}
		out = append(out, r.miniStream[begin:end]...)
		s = r.miniFat[s]
	}
	if uint64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

func (r *Reader) find(name string) *dirEntry {
	for i := range r.dirEntries {
		if r.dirEntries[i].objType == objStream && r.dirEntries[i].name == name {
			return &r.dirEntries[i]
		}
	}
	return nil
}

// OpenStream returns the full contents of the named stream. A missing
// stream reports docerr.KindMissingStream.
func (r *Reader) OpenStream(name string) ([]byte, error) {
	ent := r.find(name)
	if ent == nil {
		return nil, docerr.MissingStream(name)
	}
	if ent.size == 0 {
		return []byte{}, nil
	}

	useMini := ent.size < uint64(r.miniStreamCutoff) &&
		ent.startSector != freeSect && ent.startSector != endOfChain &&
		len(r.miniStream) > 0 && len(r.miniFat) > 0

	if useMini {
		return r.readMiniChain(ent.startSector, ent.size)
	}

	data, err := r.readChain(ent.startSector)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > ent.size {
		data = data[:ent.size]
	}
	return data, nil
}

// ListStreams returns the names of every stream-type directory entry, in
// directory order.
func (r *Reader) ListStreams() []string {
	var names []string
	for _, d := range r.dirEntries {
		if d.objType == objStream {
			names = append(names, d.name)
		}
	}
	return names
}

// HasStorage reports whether a storage-type directory entry with the given
// name exists anywhere in the container.
func (r *Reader) HasStorage(name string) bool {
	for i := range r.dirEntries {
		if r.dirEntries[i].objType == objStorage && r.dirEntries[i].name == name {
			return true
		}
	}
	return false
}

// ListStreamsUnder returns the names of every stream in the subtree of the
// named storage, descending through nested storages. Directory entries form
// a red-black tree per storage: each entry links left and right siblings
// plus a child that roots the storage's own tree. A missing storage reports
// docerr.KindMissingStream; a cyclic or out-of-range link reports
// docerr.KindFormat.
func (r *Reader) ListStreamsUnder(storage string) ([]string, error) {
	var root *dirEntry
	for i := range r.dirEntries {
		if r.dirEntries[i].objType == objStorage && r.dirEntries[i].name == storage {
			root = &r.dirEntries[i]
			break
		}
	}
	if root == nil {
		return nil, docerr.MissingStream(storage)
	}

	names := []string{}
	seen := map[uint32]bool{}
	var walk func(id uint32) error
	walk = func(id uint32) error {
		if id == noStream {
			return nil
		}
		if int(id) >= len(r.dirEntries) {
			return docerr.Format("directory entry link out of range")
		}
		if seen[id] {
			return docerr.Format("directory entry tree loops")
		}
		seen[id] = true
		e := &r.dirEntries[id]
		if err := walk(e.leftSib); err != nil {
			return err
		}
		switch e.objType {
		case objStream:
			names = append(names, e.name)
		case objStorage:
			if err := walk(e.child); err != nil {
				return err
			}
		}
		return walk(e.rightSib)
	}
	if err := walk(root.child); err != nil {
		return nil, err
	}
	return names, nil
}
