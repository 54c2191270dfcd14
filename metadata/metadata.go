// Package metadata extracts document properties from the
// \x05SummaryInformation and \x05DocumentSummaryInformation streams,
// which store an OLE Property Set: a header naming sections by format ID,
// each section a table of (property ID, offset) pairs followed by typed
// property values.
//
// Metadata is supplementary to text extraction. A missing or structurally
// broken property-set stream yields a zero-value Metadata rather than an
// error; only bounds violations inside an otherwise well-formed section
// are reported.
package metadata

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"

	"github.com/hexworks/doc97/docerr"
	"github.com/hexworks/doc97/ole2"
)

// Stream names inside the container. The \x05 prefix marks the streams as
// belonging to the property-set namespace.
const (
	SummaryStreamName    = "\x05SummaryInformation"
	DocSummaryStreamName = "\x05DocumentSummaryInformation"
)

// Property value type tags (VT_*) decoded by this package. Anything else
// is skipped.
const (
	vtI2       = 0x0002
	vtI4       = 0x0003
	vtBool     = 0x000B
	vtLPSTR    = 0x001E
	vtLPWSTR   = 0x001F
	vtFiletime = 0x0040
)

// Property IDs in the SummaryInformation section.
const (
	pidTitle        = 0x02
	pidSubject      = 0x03
	pidAuthor       = 0x04
	pidKeywords     = 0x05
	pidComments     = 0x06
	pidTemplate     = 0x07
	pidLastAuthor   = 0x08
	pidRevNumber    = 0x09
	pidLastPrinted  = 0x0B
	pidCreateTime   = 0x0C
	pidLastSaveTime = 0x0D
	pidPageCount    = 0x0E
	pidWordCount    = 0x0F
	pidCharCount    = 0x10
	pidAppName      = 0x12
)

// Property IDs in the DocumentSummaryInformation section.
const (
	pidCategory = 0x02
	pidManager  = 0x0E
	pidCompany  = 0x0F
)

// Metadata holds the document properties this system extracts.
type Metadata struct {
	Title           string
	Subject         string
	Author          string
	Keywords        string
	Comments        string
	Template        string
	LastAuthor      string
	RevisionNumber  string
	ApplicationName string
	Created         time.Time
	LastSaved       time.Time
	LastPrinted     time.Time
	PageCount       int32
	WordCount       int32
	CharCount       int32
	Category        string
	Manager         string
	Company         string
}

// Parse reads both property-set streams from the container and merges their
// decoded properties. Absent streams contribute nothing; a stream whose
// property-set header fails basic bounds checks is skipped the same way.
func Parse(r *ole2.Reader) (*Metadata, error) {
	m := &Metadata{}

	if data, err := r.OpenStream(SummaryStreamName); err == nil {
		props, err := parsePropertyStream(data)
		if err != nil {
			return nil, fmt.Errorf("SummaryInformation: %w", err)
		}
		m.applySummary(props)
	} else if !docerr.Is(err, docerr.KindMissingStream) {
		return nil, err
	}

	if data, err := r.OpenStream(DocSummaryStreamName); err == nil {
		props, err := parsePropertyStream(data)
		if err != nil {
			return nil, fmt.Errorf("DocumentSummaryInformation: %w", err)
		}
		m.applyDocSummary(props)
	} else if !docerr.Is(err, docerr.KindMissingStream) {
		return nil, err
	}

	return m, nil
}

func (m *Metadata) applySummary(props map[uint32]interface{}) {
	m.Title = stringProp(props, pidTitle)
	m.Subject = stringProp(props, pidSubject)
	m.Author = stringProp(props, pidAuthor)
	m.Keywords = stringProp(props, pidKeywords)
	m.Comments = stringProp(props, pidComments)
	m.Template = stringProp(props, pidTemplate)
	m.LastAuthor = stringProp(props, pidLastAuthor)
	m.RevisionNumber = stringProp(props, pidRevNumber)
	m.ApplicationName = stringProp(props, pidAppName)
	m.Created = timeProp(props, pidCreateTime)
	m.LastSaved = timeProp(props, pidLastSaveTime)
	m.LastPrinted = timeProp(props, pidLastPrinted)
	m.PageCount = intProp(props, pidPageCount)
	m.WordCount = intProp(props, pidWordCount)
	m.CharCount = intProp(props, pidCharCount)
}

func (m *Metadata) applyDocSummary(props map[uint32]interface{}) {
	m.Category = stringProp(props, pidCategory)
	m.Manager = stringProp(props, pidManager)
	m.Company = stringProp(props, pidCompany)
}

func stringProp(props map[uint32]interface{}, id uint32) string {
	s, _ := props[id].(string)
	return s
}

func timeProp(props map[uint32]interface{}, id uint32) time.Time {
	t, _ := props[id].(time.Time)
	return t
}

func intProp(props map[uint32]interface{}, id uint32) int32 {
	i, _ := props[id].(int32)
	return i
}

// parsePropertyStream decodes the first section of a property-set stream
// into a map from property ID to decoded value. The stream header is
// byte-order mark, version, system ID, class ID, section count, then one
// (format ID, offset) pair per section.
func parsePropertyStream(data []byte) (map[uint32]interface{}, error) {
	// 28-byte header plus at least one format-ID/offset pair.
	if len(data) < 28+20 {
		return nil, nil
	}
	if binary.LittleEndian.Uint16(data[0:]) != 0xFFFE {
		return nil, nil
	}
	count := binary.LittleEndian.Uint32(data[24:])
	if count == 0 {
		return nil, nil
	}
	sectionOff := binary.LittleEndian.Uint32(data[28+16:])
	if uint64(sectionOff)+8 > uint64(len(data)) {
		return nil, nil
	}
	return parseSection(data, sectionOff)
}

// parseSection decodes one property-set section: a 32-bit byte size, a
// 32-bit property count, that many (ID, offset) pairs, then the property
// values at their section-relative offsets.
func parseSection(data []byte, base uint32) (map[uint32]interface{}, error) {
	section := data[base:]
	size := binary.LittleEndian.Uint32(section[0:])
	if size < 8 {
		return nil, nil
	}
	if uint64(size) > uint64(len(section)) {
		return nil, docerr.Invalid("property-set section size exceeds stream")
	}
	section = section[:size]
	nProps := binary.LittleEndian.Uint32(section[4:])
	if uint64(8+8*nProps) > uint64(len(section)) {
		return nil, docerr.Invalid("property-set dictionary exceeds section")
	}

	props := make(map[uint32]interface{}, nProps)
	for i := uint32(0); i < nProps; i++ {
		id := binary.LittleEndian.Uint32(section[8+8*i:])
		off := binary.LittleEndian.Uint32(section[8+8*i+4:])
		if uint64(off)+4 > uint64(len(section)) {
			return nil, docerr.Invalid("property offset exceeds section")
		}
		v, err := decodeProperty(section, off)
		if err != nil {
			return nil, err
		}
		if v != nil {
			props[id] = v
		}
	}
	return props, nil
}

// decodeProperty reads one typed property value. Unknown type tags decode
// to nil and the property is dropped.
func decodeProperty(section []byte, off uint32) (interface{}, error) {
	typ := binary.LittleEndian.Uint32(section[off:])
	body := section[off+4:]
	switch typ {
	case vtI2:
		if len(body) < 2 {
			return nil, docerr.Invalid("VT_I2 value truncated")
		}
		return int32(int16(binary.LittleEndian.Uint16(body))), nil
	case vtI4:
		if len(body) < 4 {
			return nil, docerr.Invalid("VT_I4 value truncated")
		}
		return int32(binary.LittleEndian.Uint32(body)), nil
	case vtBool:
		if len(body) < 2 {
			return nil, docerr.Invalid("VT_BOOL value truncated")
		}
		return binary.LittleEndian.Uint16(body) != 0, nil
	case vtLPSTR:
		if len(body) < 4 {
			return nil, docerr.Invalid("VT_LPSTR length truncated")
		}
		n := binary.LittleEndian.Uint32(body)
		if uint64(4+n) > uint64(len(body)) {
			return nil, docerr.Invalid("VT_LPSTR value truncated")
		}
		return decodeANSI(body[4 : 4+n]), nil
	case vtLPWSTR:
		if len(body) < 4 {
			return nil, docerr.Invalid("VT_LPWSTR length truncated")
		}
		n := binary.LittleEndian.Uint32(body)
		if uint64(4+2*n) > uint64(len(body)) {
			return nil, docerr.Invalid("VT_LPWSTR value truncated")
		}
		return decodeWide(body[4 : 4+2*n]), nil
	case vtFiletime:
		if len(body) < 8 {
			return nil, docerr.Invalid("VT_FILETIME value truncated")
		}
		return filetimeToTime(binary.LittleEndian.Uint64(body)), nil
	}
	return nil, nil
}

// decodeANSI decodes a code-page string property. The code page is
// nominally announced by property 1 of the section; in practice Word
// writes Windows-1252, which is what the text pieces use as well.
func decodeANSI(raw []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\x00")
}

func decodeWide(raw []byte) string {
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return strings.TrimRight(string(utf16.Decode(units)), "\x00")
}

// filetimeToTime converts a Windows FILETIME (100-nanosecond intervals
// since 1601-01-01 UTC) to a time.Time. Zero stays the zero time.
func filetimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	const epochDelta = 116444736000000000 // 1601 -> 1970 in 100ns units
	return time.Unix(0, (int64(ft)-epochDelta)*100).UTC()
}
