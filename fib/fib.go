// Package fib parses the File Information Block, the fixed-layout header
// at the start of the WordDocument stream that locates the piece table and
// reports whether the document is encrypted.
package fib

import (
	"encoding/binary"

	"github.com/hexworks/doc97/docerr"
)

// MinSize is the minimum number of bytes a WordDocument stream must carry
// before its FIB can be parsed.
const MinSize = 0x01AA

const (
	offNFib   = 0x0002
	offFlags  = 0x000A
	offFcClx  = 0x01A2
	offLcbClx = 0x01A6

	flagEncrypted = 0x0100
	flagUseTable1 = 0x0200
)

// FIB holds the fields of the header needed to locate and decode the piece
// table; everything else in the real structure (fonts, section tables,
// formatting PLCs) is outside this system's scope.
type FIB struct {
	NFib            uint16
	IsEncrypted     bool
	TableStreamName string
	FcClx           uint32
	LcbClx          uint32
}

// Parse decodes the FIB from the head of a WordDocument stream.
func Parse(data []byte) (*FIB, error) {
	if len(data) < MinSize {
		return nil, docerr.Invalid("WordDocument stream shorter than minimum FIB size")
	}

	flags := binary.LittleEndian.Uint16(data[offFlags:])
	f := &FIB{
		NFib:        binary.LittleEndian.Uint16(data[offNFib:]),
		IsEncrypted: flags&flagEncrypted != 0,
		FcClx:       binary.LittleEndian.Uint32(data[offFcClx:]),
		LcbClx:      binary.LittleEndian.Uint32(data[offLcbClx:]),
	}
	if flags&flagUseTable1 != 0 {
		f.TableStreamName = "1Table"
	} else {
		f.TableStreamName = "0Table"
	}
	return f, nil
}
