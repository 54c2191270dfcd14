// Package crypto parses the encryption header that an encrypted Word
// document stores at the head of its table stream. It identifies the
// scheme and algorithm so a rejection error can name them; it derives no
// keys and decrypts nothing.
package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/hexworks/doc97/docerr"
)

// Algorithm identifiers from the CryptoAPI encryption header.
const (
	calgRC4    = 0x6801
	calgAES128 = 0x660E
	calgAES192 = 0x660F
	calgAES256 = 0x6610
)

const (
	// Legacy RC4 header: version word pair, 16-byte salt, 16-byte
	// encrypted verifier, 16-byte verifier hash.
	rc4HeaderSize = 4 + 16 + 16 + 16

	// CryptoAPI: version word pair, flags, header size, then the
	// EncryptionHeader structure of eight 32-bit fields followed by a
	// NUL-terminated UTF-16LE CSP name.
	cryptoAPIFixedSize = 4 + 4 + 4 + 32
)

// EncryptionHeader describes the encryption scheme of a document well
// enough to name it in an error message.
type EncryptionHeader struct {
	VersionMajor uint16
	VersionMinor uint16
	Flags        uint32
	AlgID        uint32
	AlgIDHash    uint32
	KeySize      uint32 // bits
	ProviderType uint32
	CSPName      string
	Salt         []byte
}

// ParseHeader reads the encryption header from the head of a table stream.
// Two layouts are recognized: the legacy Office 97 RC4 header (version
// 1.1) and the CryptoAPI header (version x.2). Anything else reports
// docerr.KindFormat.
func ParseHeader(tableStream []byte) (*EncryptionHeader, error) {
	if len(tableStream) < 4 {
		return nil, docerr.Format("encryption header truncated")
	}
	h := &EncryptionHeader{
		VersionMajor: binary.LittleEndian.Uint16(tableStream[0:]),
		VersionMinor: binary.LittleEndian.Uint16(tableStream[2:]),
	}

	switch {
	case h.VersionMajor == 1 && h.VersionMinor == 1:
		if len(tableStream) < rc4HeaderSize {
			return nil, docerr.Format("RC4 encryption header truncated")
		}
		h.AlgID = calgRC4
		h.KeySize = 40
		h.Salt = append([]byte(nil), tableStream[4:20]...)
		return h, nil

	case h.VersionMinor == 2 && h.VersionMajor >= 2 && h.VersionMajor <= 4:
		if len(tableStream) < cryptoAPIFixedSize {
			return nil, docerr.Format("CryptoAPI encryption header truncated")
		}
		h.Flags = binary.LittleEndian.Uint32(tableStream[4:])
		headerSize := binary.LittleEndian.Uint32(tableStream[8:])
		h.AlgID = binary.LittleEndian.Uint32(tableStream[20:])
		h.AlgIDHash = binary.LittleEndian.Uint32(tableStream[24:])
		h.KeySize = binary.LittleEndian.Uint32(tableStream[28:])
		h.ProviderType = binary.LittleEndian.Uint32(tableStream[32:])
		nameEnd := uint64(12) + uint64(headerSize)
		if nameEnd > uint64(len(tableStream)) {
			nameEnd = uint64(len(tableStream))
		}
		if nameEnd > cryptoAPIFixedSize {
			h.CSPName = decodeUTF16Z(tableStream[cryptoAPIFixedSize:nameEnd])
		}
		return h, nil
	}
	return nil, docerr.Format(fmt.Sprintf("unrecognized encryption version %d.%d", h.VersionMajor, h.VersionMinor))
}

// Algorithm names the cipher for diagnostics.
func (h *EncryptionHeader) Algorithm() string {
	switch h.AlgID {
	case calgRC4:
		if h.KeySize > 0 {
			return fmt.Sprintf("RC4 (%d-bit)", h.KeySize)
		}
		return "RC4"
	case calgAES128:
		return "AES-128"
	case calgAES192:
		return "AES-192"
	case calgAES256:
		return "AES-256"
	}
	return fmt.Sprintf("algorithm 0x%04X", h.AlgID)
}

// decodeUTF16Z extracts a NUL-terminated UTF-16LE string.
func decodeUTF16Z(data []byte) string {
	var runes []rune
	for i := 0; i+1 < len(data); i += 2 {
		c := uint16(data[i]) | uint16(data[i+1])<<8
		if c == 0 {
			break
		}
		runes = append(runes, rune(c))
	}
	return string(runes)
}
