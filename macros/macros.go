// Package macros reports whether a document carries a VBA project and
// which module streams it holds. It inspects directory entries only: no
// MS-OVBA container decompression, no p-code, no source recovery.
package macros

import (
	"strings"

	"github.com/hexworks/doc97/docerr"
	"github.com/hexworks/doc97/ole2"
)

// Storage names that hold a VBA project. "Macros" is where Word keeps it;
// "_VBA_PROJECT_CUR" appears in some converter output.
var projectStorages = []string{"Macros", "_VBA_PROJECT_CUR"}

// Bookkeeping streams inside a VBA storage that are not code modules.
var nonModuleStreams = map[string]bool{
	"dir":          true,
	"PROJECT":      true,
	"PROJECTwm":    true,
	"PROJECTlk":    true,
	"_VBA_PROJECT": true,
}

// MacroInfo describes the macro content of a document.
type MacroInfo struct {
	Present       bool
	Storage       string   // which storage held the project, if any
	ModuleStreams []string // module stream names, in storage-tree (in-order) walk order
}

// Inspect checks the container for a VBA project storage and, when one is
// present, lists its module streams.
func Inspect(r *ole2.Reader) (*MacroInfo, error) {
	for _, storage := range projectStorages {
		names, err := r.ListStreamsUnder(storage)
		if err != nil {
			if docerr.Is(err, docerr.KindMissingStream) {
				continue
			}
			return nil, err
		}
		info := &MacroInfo{Present: true, Storage: storage}
		for _, name := range names {
			if nonModuleStreams[name] || strings.HasPrefix(name, "__SRP_") {
				continue
			}
			info.ModuleStreams = append(info.ModuleStreams, name)
		}
		return info, nil
	}

	// A PROJECT stream with no project storage marks a project whose
	// storage was flattened by a converter; report presence without module
	// names. The match is on the name alone, at any level of the directory,
	// not only at the top level.
	for _, name := range r.ListStreams() {
		if name == "PROJECT" {
			return &MacroInfo{Present: true}, nil
		}
	}
	return &MacroInfo{}, nil
}
