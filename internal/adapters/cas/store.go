// Package cas persists per-task run records for fingerprint caching.
package cas

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.RunInfoStore = (*Store)(nil)

// Store implements ports.RunInfoStore using a flat JSON file keyed by
// domain.RunInfoKey.
type Store struct {
	path  string
	mu    sync.RWMutex
	cache map[string]domain.RunInfo
}

// NewStore creates a RunInfoStore backed by the file at the given path.
// A missing file is an empty store.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  filepath.Clean(path),
		cache: make(map[string]domain.RunInfo),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:gosec // Path is cleaned and provided by trusted caller
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.Wrap(err, "failed to read run info store")
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.cache); err != nil {
		return zerr.Wrap(err, "failed to unmarshal run info store")
	}
	return nil
}

func (s *Store) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to marshal run info store")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create directory for run info store")
	}

	//nolint:gosec // Path is cleaned and provided by trusted caller
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return zerr.Wrap(err, "failed to write run info store")
	}
	return nil
}

// Get retrieves the run info stored under key, or nil when absent.
func (s *Store) Get(key string) (*domain.RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.cache[key]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

// Put stores the run info under key and flushes to disk.
func (s *Store) Put(key string, info domain.RunInfo) error {
	s.mu.Lock()
	s.cache[key] = info
	s.mu.Unlock()

	return s.save()
}
