// Package chain builds and persists ordered lists of spatial transforms. A
// chain maps a point set from one coordinate space to another; later pipeline
// stages extend an earlier stage's persisted chain rather than rebuilding it,
// so the full subject-to-template mapping is always reconstructible from the
// terminal chain file alone.
package chain

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
)

// An Entry references one transform on disk: an affine matrix (.mat) or a
// deformation field (any other extension). Invert marks entries that are to
// be applied in reverse, e.g. a Procrustes alignment used backwards; the
// numeric inverse is never derived and stored separately.
type Entry struct {
	Path   string
	Invert bool
}

// Affine reports whether the entry references an affine matrix file.
func (e Entry) Affine() bool {
	return strings.HasSuffix(e.Path, ".mat")
}

// String renders the entry in the registration engine's convention:
// the transform path, with ",-1" appended when it is applied inverted.
func (e Entry) String() string {
	if e.Invert {
		return e.Path + ",-1"
	}

	return e.Path
}

// A Chain is an ordered sequence of transforms, applied first-to-last when
// carrying a point set from the source space to the destination space.
// Chains are value-semantics: Append and Prepend return extended copies and
// never mutate their receiver, so a persisted chain can be extended by two
// different stages without aliasing.
type Chain []Entry

// Append returns a new chain with entries added after the receiver's, in the
// order given.
func (c Chain) Append(entries ...Entry) Chain {
	out := make(Chain, 0, len(c)+len(entries))
	out = append(out, c...)
	out = append(out, entries...)

	return out
}

// Prepend returns a new chain with entries added before the receiver's, in
// the order given. Used when a new registration is applied closer to the
// template side of the mapping.
func (c Chain) Prepend(entries ...Entry) Chain {
	out := make(Chain, 0, len(c)+len(entries))
	out = append(out, entries...)
	out = append(out, c...)

	return out
}

// Args renders the chain as the ordered argument list the registration
// engine expects for reslicing.
func (c Chain) Args() []string {
	out := make([]string, 0, len(c))
	for _, e := range c {
		out = append(out, e.String())
	}

	return out
}

// Save persists the chain, one entry per line, atomically. Chains are always
// written immediately after composition so that a crash never requires
// recomputing the registrations that produced the components.
func (c Chain) Save(path string) error {
	return artifact.Publish(path, func(w io.Writer) error {
		for _, e := range c {
			if _, err := fmt.Fprintln(w, e.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads a chain persisted by Save, preserving entry order exactly.
func Load(path string) (Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	var out Chain

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entry := Entry{Path: line}
		if strings.HasSuffix(line, ",-1") {
			entry.Path = strings.TrimSuffix(line, ",-1")
			entry.Invert = true
		}

		out = append(out, entry)
	}

	return out, pfx.Err(scanner.Err())
}
