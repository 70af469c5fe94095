package fs

import (
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.InputResolver = (*Resolver)(nil)

// Resolver expands input glob patterns, including `**`, against a project
// root.
type Resolver struct{}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveInputs expands the patterns below root and returns the union of
// matches as a sorted, deduplicated list of root-relative paths. A
// pattern matching nothing is an error: a declared input that does not
// exist can never produce a stable fingerprint.
func (r *Resolver) ResolveInputs(inputs []string, root string) ([]string, error) {
	fsys := os.DirFS(root)
	unique := make(map[string]bool)

	for _, input := range inputs {
		matches, err := doublestar.Glob(fsys, input, doublestar.WithFilesOnly())
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "invalid input pattern"), "pattern", input)
		}
		if len(matches) == 0 {
			return nil, zerr.With(zerr.With(zerr.New("input not found"), "pattern", input), "root", root)
		}
		for _, match := range matches {
			unique[match] = true
		}
	}

	result := make([]string, 0, len(unique))
	for path := range unique {
		result = append(result, path)
	}
	sort.Strings(result)
	return result, nil
}
