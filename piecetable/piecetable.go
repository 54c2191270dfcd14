// Package piecetable decodes the CLX/PlcPcd structure that maps a Word
// document's logical character positions onto byte ranges of the
// WordDocument stream.
package piecetable

import (
	"encoding/binary"

	"github.com/hexworks/doc97/docerr"
)

// Encoding names the per-piece text encoding selected by a PCD's
// compression bit.
type Encoding int

const (
	CP1252 Encoding = iota
	UTF16LE
)

func (e Encoding) String() string {
	if e == CP1252 {
		return "cp1252"
	}
	return "utf-16le"
}

// PieceSegment is one contiguous run of text sharing a single encoding and
// file location.
type PieceSegment struct {
	CPStart    uint32
	CPEnd      uint32
	FileOffset uint32
	Encoding   Encoding
	ByteLength uint32
}

const (
	pcdtMarker   = 0x02
	pcdSize      = 8
	fcCompressed = 0x40000000
	fcOffsetMask = 0x3FFFFFFF
)

// Decode locates the CLX inside tableStream at [fcClx, fcClx+lcbClx),
// parses its PlcPcd, and returns the ordered piece segments it describes.
func Decode(tableStream []byte, fcClx, lcbClx uint32) ([]PieceSegment, error) {
	end := uint64(fcClx) + uint64(lcbClx)
	if end > uint64(len(tableStream)) {
		return nil, docerr.Invalid("CLX range exceeds table stream length")
	}
	clx := tableStream[fcClx:end]

	idx := -1
	for i, b := range clx {
		if b == pcdtMarker {
			idx = i
			break
		}
	}
	if idx < 0 || idx+5 > len(clx) {
		return nil, docerr.Invalid("Pcdt header missing in CLX")
	}

	length := binary.LittleEndian.Uint32(clx[idx+1:])
	plcStart := idx + 5
	plcEnd := uint64(plcStart) + uint64(length)
	if plcEnd > uint64(len(clx)) {
		return nil, docerr.Invalid("PlcPcd payload exceeds CLX bounds")
	}
	plc := clx[plcStart:plcEnd]

	if len(plc) < 4 || (len(plc)-4)%12 != 0 {
		return nil, docerr.Invalid("PlcPcd is malformed")
	}
	n := (len(plc) - 4) / 12

	cps := make([]uint32, n+1)
	for i := 0; i <= n; i++ {
		cps[i] = binary.LittleEndian.Uint32(plc[4*i:])
	}

	pcds := plc[4*(n+1):]
	if len(pcds) != n*pcdSize {
		return nil, docerr.Invalid("Pcd array size mismatch")
	}

	segments := make([]PieceSegment, 0, n)
	for i := 0; i < n; i++ {
		cpStart, cpEnd := cps[i], cps[i+1]
		if cpEnd <= cpStart {
			continue
		}
		rec := pcds[i*pcdSize : (i+1)*pcdSize]
		fcRaw := binary.LittleEndian.Uint32(rec[2:6])
		compressed := fcRaw&fcCompressed != 0
		fcValue := fcRaw & fcOffsetMask

		var fileOffset, byteLength uint32
		var enc Encoding
		charCount := cpEnd - cpStart
		if compressed {
			fileOffset = fcValue / 2
			byteLength = charCount
			enc = CP1252
		} else {
			fileOffset = fcValue
			byteLength = charCount * 2
			enc = UTF16LE
		}

		segments = append(segments, PieceSegment{
			CPStart:    cpStart,
			CPEnd:      cpEnd,
			FileOffset: fileOffset,
			Encoding:   enc,
			ByteLength: byteLength,
		})
	}
	return segments, nil
}
