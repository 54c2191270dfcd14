// Package doc97 extracts plain text and document properties from
// Word 97-2003 binary documents.
//
// A .doc file is an OLE2 compound file holding a WordDocument stream and
// a sibling table stream. Text lives in the WordDocument stream but is
// addressed indirectly: the FIB header locates a piece table in the table
// stream, and each piece maps a run of character positions onto a byte
// range with its own encoding. This package walks that chain:
//
//	doc, err := doc97.Open("report.doc")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer doc.Close()
//
//	text, err := doc.Text()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(text)
//
// Encrypted documents are detected and rejected; Text reports a
// docerr.KindFormat error naming the encryption algorithm when the
// header identifies one.
package doc97

import (
	"fmt"
	"io"

	"github.com/hexworks/doc97/crypto"
	"github.com/hexworks/doc97/docerr"
	"github.com/hexworks/doc97/fib"
	"github.com/hexworks/doc97/macros"
	"github.com/hexworks/doc97/metadata"
	"github.com/hexworks/doc97/ole2"
	"github.com/hexworks/doc97/piecetable"
	"github.com/hexworks/doc97/text"
)

// Metadata re-exports the property-set result type.
type Metadata = metadata.Metadata

// MacroInfo re-exports the macro inspection result type.
type MacroInfo = macros.MacroInfo

// Document is a loaded .doc file. It is not safe for concurrent use; the
// backing source has a single read cursor.
type Document struct {
	reader *ole2.Reader
}

// Open opens the .doc file at path. The file handle is owned by the
// returned Document and released by Close.
func Open(path string) (*Document, error) {
	r, err := ole2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Document{reader: r}, nil
}

// OpenBytes opens an in-memory .doc image.
func OpenBytes(b []byte) (*Document, error) {
	r, err := ole2.OpenBytes(b)
	if err != nil {
		return nil, err
	}
	return &Document{reader: r}, nil
}

// OpenReader opens a .doc backed by a caller-owned seekable source. The
// source is borrowed; Close does not close it.
func OpenReader(src io.ReaderAt) (*Document, error) {
	r, err := ole2.OpenReader(src)
	if err != nil {
		return nil, err
	}
	return &Document{reader: r}, nil
}

// Container exposes the underlying OLE2 reader for callers that want
// streams beyond the ones this package interprets.
func (d *Document) Container() *ole2.Reader {
	return d.reader
}

// Text returns the document's plain text: every piece decoded in order
// under its own encoding, concatenated, and normalized. An encrypted
// document is rejected; a missing WordDocument or table stream reports
// docerr.KindMissingStream.
func (d *Document) Text() (string, error) {
	wordDoc, err := d.reader.OpenStream("WordDocument")
	if err != nil {
		return "", err
	}
	f, err := fib.Parse(wordDoc)
	if err != nil {
		return "", err
	}
	if f.IsEncrypted {
		return "", d.encryptionError(f)
	}
	table, err := d.reader.OpenStream(f.TableStreamName)
	if err != nil {
		return "", err
	}
	segments, err := piecetable.Decode(table, f.FcClx, f.LcbClx)
	if err != nil {
		return "", err
	}
	return text.Assemble(wordDoc, segments), nil
}

// encryptionError builds the rejection error for an encrypted document,
// naming the algorithm when the table stream's encryption header parses.
func (d *Document) encryptionError(f *fib.FIB) error {
	msg := "encrypted documents are not supported"
	if table, err := d.reader.OpenStream(f.TableStreamName); err == nil {
		if h, err := crypto.ParseHeader(table); err == nil {
			msg = fmt.Sprintf("encrypted documents are not supported (%s)", h.Algorithm())
		}
	}
	return docerr.Format(msg)
}

// Metadata parses the document's property-set streams. Absent streams
// yield a zero-value Metadata, not an error.
func (d *Document) Metadata() (*Metadata, error) {
	return metadata.Parse(d.reader)
}

// Macros reports whether the document carries a VBA project and lists its
// module streams.
func (d *Document) Macros() (*MacroInfo, error) {
	return macros.Inspect(d.reader)
}

// Close releases any resources the Document owns. It is a no-op for
// documents opened from bytes or a borrowed source.
func (d *Document) Close() error {
	return d.reader.Close()
}
