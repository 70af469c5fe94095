package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Hasher = (*Hasher)(nil)

// Hasher computes task fingerprints and directory tree hashes with xxhash.
type Hasher struct {
	walker *Walker
}

// NewHasher creates a new Hasher.
func NewHasher(walker *Walker) *Hasher {
	return &Hasher{walker: walker}
}

// ComputeFingerprint folds the rendered command, the environment identity
// key and every input file's path and content into one digest. The file
// list is hashed in sorted order so the result is independent of glob
// expansion order.
func (h *Hasher) ComputeFingerprint(root string, files []string, command, envKey string) (string, error) {
	digest := xxhash.New()

	_, _ = digest.WriteString(command)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(envKey)
	_, _ = digest.Write([]byte{0})

	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	for _, file := range sorted {
		_, _ = digest.WriteString(file)
		_, _ = digest.Write([]byte{0})

		content, err := h.hashFileContent(filepath.Join(root, file))
		if err != nil {
			return "", err
		}
		if err := binary.Write(digest, binary.LittleEndian, content); err != nil {
			return "", zerr.Wrap(err, "writing file hash to digest")
		}
	}

	return fmt.Sprintf("%016x", digest.Sum64()), nil
}

// HashTree computes a stable hash over every regular file under dir,
// keyed by path relative to dir.
func (h *Hasher) HashTree(dir string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", zerr.With(zerr.Wrap(err, "hashing directory tree"), "dir", dir)
	}

	digest := xxhash.New()
	for path := range h.walker.WalkFiles(dir, nil) {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		_, _ = digest.WriteString(rel)
		_, _ = digest.Write([]byte{0})

		content, err := h.hashFileContent(path)
		if err != nil {
			return "", err
		}
		if err := binary.Write(digest, binary.LittleEndian, content); err != nil {
			return "", zerr.Wrap(err, "writing file hash to digest")
		}
	}

	return fmt.Sprintf("%016x", digest.Sum64()), nil
}

func (h *Hasher) hashFileContent(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}
	return digest.Sum64(), nil
}
