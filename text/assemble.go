// Package text turns a WordDocument byte stream plus its piece segments
// into normalized plain text: per-segment lenient decoding followed by a
// fixed, order-sensitive table of control-character replacements.
package text

import (
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"

	"github.com/hexworks/doc97/piecetable"
)

// Assemble decodes and concatenates every segment in order, then applies
// Normalize to the result.
func Assemble(wordDocument []byte, segments []piecetable.PieceSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(decodeSegment(wordDocument, seg))
	}
	return Normalize(b.String())
}

func decodeSegment(wordDocument []byte, seg piecetable.PieceSegment) string {
	start := int(seg.FileOffset)
	if start > len(wordDocument) {
		return ""
	}
	end := start + int(seg.ByteLength)
	if end > len(wordDocument) {
		end = len(wordDocument)
	}
	raw := wordDocument[start:end]

	switch seg.Encoding {
	case piecetable.CP1252:
		return decodeCP1252(raw)
	default:
		return decodeUTF16LE(raw)
	}
}

// decodeCP1252 decodes raw Windows-1252 bytes, dropping any byte that has
// no Windows-1252 character rather than emitting a substitute. The charmap
// decoder maps the five undefined bytes (0x81, 0x8D, 0x8F, 0x90, 0x9D) to
// the C1 control characters of the same value, so those bytes are skipped
// by value before decoding.
func decodeCP1252(raw []byte) string {
	dec := charmap.Windows1252.NewDecoder()
	var b strings.Builder
	for _, c := range raw {
		switch c {
		case 0x81, 0x8D, 0x8F, 0x90, 0x9D:
			continue
		}
		out, err := dec.Bytes([]byte{c})
		if err != nil || len(out) == 0 || string(out) == "\uFFFD" {
			continue
		}
		b.Write(out)
	}
	return b.String()
}

// decodeUTF16LE decodes little-endian UTF-16 code units, dropping unpaired
// surrogates instead of emitting the replacement rune.
func decodeUTF16LE(raw []byte) string {
	n := len(raw) / 2
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	runes := utf16.Decode(units)
	var b strings.Builder
	for _, r := range runes {
		if r == 0xFFFD {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize applies the fixed control-character replacement table, in
// order: CRLF and lone CR collapse to LF, form feed becomes LF, the cell
// mark becomes a tab, and the three field-delimiter control characters are
// removed outright. Applying Normalize to its own output is a no-op.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x0C", "\n")
	s = strings.ReplaceAll(s, "\x07", "\t")
	s = strings.ReplaceAll(s, "\x13", "")
	s = strings.ReplaceAll(s, "\x14", "")
	s = strings.ReplaceAll(s, "\x15", "")
	return s
}
