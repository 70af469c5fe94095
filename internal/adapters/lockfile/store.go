// Package lockfile reads and writes the project lock document as YAML.
package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

var _ ports.LockStore = (*Store)(nil)

// FileName is the lock file name within a project root.
const FileName = "kiln.lock"

// Store implements ports.LockStore.
type Store struct {
	logger ports.Logger
}

// NewStore creates a new Store.
func NewStore(logger ports.Logger) *Store {
	return &Store{logger: logger}
}

// lockFile is the serialized document shape. Field order is the write
// order; readers of any tool version older than the written format must
// refuse the file rather than misread it.
type lockFile struct {
	Version      int                           `yaml:"version"`
	Environments map[string]map[string]lockEnv `yaml:"environments"`
	Packages     []lockRecord                  `yaml:"packages"`
}

type lockEnv struct {
	Channels []lockChannel `yaml:"channels"`
	Packages []lockRef     `yaml:"packages"`
}

type lockChannel struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority,omitempty"`
}

// lockRef references one pool record from an environment entry. The
// reference is structural, not positional: entries survive pool
// reordering.
type lockRef struct {
	Ecosystem string `yaml:"ecosystem"`
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Build     string `yaml:"build,omitempty"`
	Subdir    string `yaml:"subdir"`
}

type lockRecord struct {
	Ecosystem   string   `yaml:"ecosystem"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Build       string   `yaml:"build,omitempty"`
	BuildNumber int      `yaml:"build_number,omitempty"`
	Subdir      string   `yaml:"subdir"`
	URL         string   `yaml:"url,omitempty"`
	SHA256      string   `yaml:"sha256,omitempty"`
	MD5         string   `yaml:"md5,omitempty"`
	Depends     []string `yaml:"depends,omitempty"`
	Constrains  []string `yaml:"constrains,omitempty"`
	License     string   `yaml:"license,omitempty"`
	Size        int64    `yaml:"size,omitempty"`
	Timestamp   int64    `yaml:"timestamp,omitempty"`

	// Purls is a pointer so the serialized form distinguishes "no purls
	// recorded" (field absent) from "known to provide none" (empty list).
	Purls *[]string `yaml:"purls,omitempty"`

	EditablePath string `yaml:"editable_path,omitempty"`
	ContentHash  string `yaml:"content_hash,omitempty"`
}

// Read loads the lock document at path. A missing file yields nil, nil.
// Documents declaring a newer format version are rejected. Identity keys
// appearing more than once with differing content keep their first record
// and are marked as duplicates for the checker.
func (s *Store) Read(path string) (*domain.LockDocument, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(err, "reading lock file"), "path", path)
	}

	var file lockFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "parsing lock file"), "path", path)
	}
	if file.Version > domain.LockFormatVersion {
		return nil, zerr.With(zerr.With(zerr.With(domain.ErrLockVersionTooNew,
			"path", path),
			"file_version", file.Version),
			"supported", domain.LockFormatVersion,
		)
	}

	doc := domain.NewLockDocument()
	doc.Version = file.Version

	for _, wire := range file.Packages {
		rec, err := wire.toDomain()
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "decoding lock record"), "path", path)
		}
		if err := doc.AddRecord(rec); err != nil {
			if errors.Is(err, domain.ErrDuplicateRecord) {
				doc.MarkDuplicate(rec.Key())
				s.logger.Warn("duplicate package record in lock file",
					"record", rec.Key().String())
				continue
			}
			return nil, err
		}
	}

	for envName, platforms := range file.Environments {
		for platformName, env := range platforms {
			entry := domain.LockEntry{}
			for _, ch := range env.Channels {
				entry.Channels = append(entry.Channels, domain.Channel{Name: ch.Name, Priority: ch.Priority})
			}
			for _, ref := range env.Packages {
				entry.Packages = append(entry.Packages, domain.RecordKey{
					Ecosystem: domain.Ecosystem(ref.Ecosystem),
					Name:      domain.NormalizeName(ref.Name),
					Version:   ref.Version,
					Build:     ref.Build,
					Subdir:    domain.Platform(ref.Subdir),
				})
			}
			if err := doc.SetEntry(envName, domain.Platform(platformName), entry); err != nil {
				return nil, err
			}
		}
	}

	return doc, nil
}

// Write persists the document to path atomically: a temporary file in the
// same directory is renamed over the target.
func (s *Store) Write(path string, doc *domain.LockDocument) error {
	file := lockFile{
		Version:      doc.Version,
		Environments: make(map[string]map[string]lockEnv, len(doc.Environments)),
	}

	envNames := make([]string, 0, len(doc.Environments))
	for name := range doc.Environments {
		envNames = append(envNames, name)
	}
	sort.Strings(envNames)

	for _, envName := range envNames {
		platforms := doc.Environments[envName]
		out := make(map[string]lockEnv, len(platforms))
		for platform, entry := range platforms {
			env := lockEnv{}
			for _, ch := range entry.Channels {
				env.Channels = append(env.Channels, lockChannel{Name: ch.Name, Priority: ch.Priority})
			}
			for _, key := range entry.Packages {
				env.Packages = append(env.Packages, lockRef{
					Ecosystem: string(key.Ecosystem),
					Name:      key.Name,
					Version:   key.Version,
					Build:     key.Build,
					Subdir:    string(key.Subdir),
				})
			}
			out[string(platform)] = env
		}
		file.Environments[envName] = out
	}

	for _, rec := range doc.Records() {
		file.Packages = append(file.Packages, fromDomain(rec))
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return zerr.Wrap(err, "marshalling lock file")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".kiln-lock-*")
	if err != nil {
		return zerr.With(zerr.Wrap(err, "creating temporary lock file"), "dir", dir)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Best effort cleanup

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // Write error takes precedence
		return zerr.Wrap(err, "writing temporary lock file")
	}
	if err := tmp.Close(); err != nil {
		return zerr.Wrap(err, "closing temporary lock file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return zerr.With(zerr.Wrap(err, "replacing lock file"), "path", path)
	}
	return nil
}

func (w *lockRecord) toDomain() (*domain.PackageRecord, error) {
	version, err := domain.ParseVersion(w.Version)
	if err != nil {
		return nil, err
	}
	rec := &domain.PackageRecord{
		Ecosystem:    domain.Ecosystem(w.Ecosystem),
		Name:         domain.NewInternedString(domain.NormalizeName(w.Name)),
		Version:      version,
		Build:        w.Build,
		BuildNumber:  w.BuildNumber,
		Subdir:       domain.Platform(w.Subdir),
		URL:          w.URL,
		SHA256:       w.SHA256,
		MD5:          w.MD5,
		Depends:      w.Depends,
		Constrains:   w.Constrains,
		License:      w.License,
		Size:         w.Size,
		EditablePath: w.EditablePath,
		ContentHash:  w.ContentHash,
	}
	if w.Timestamp != 0 {
		rec.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	}
	if w.Purls != nil {
		rec.PurlIDs = make([]string, len(*w.Purls))
		copy(rec.PurlIDs, *w.Purls)
	}
	return rec, nil
}

func fromDomain(rec *domain.PackageRecord) lockRecord {
	wire := lockRecord{
		Ecosystem:    string(rec.Ecosystem),
		Name:         rec.Name.String(),
		Version:      rec.Version.String(),
		Build:        rec.Build,
		BuildNumber:  rec.BuildNumber,
		Subdir:       string(rec.Subdir),
		URL:          rec.URL,
		SHA256:       rec.SHA256,
		MD5:          rec.MD5,
		Depends:      rec.Depends,
		Constrains:   rec.Constrains,
		License:      rec.License,
		Size:         rec.Size,
		EditablePath: rec.EditablePath,
		ContentHash:  rec.ContentHash,
	}
	if !rec.Timestamp.IsZero() {
		wire.Timestamp = rec.Timestamp.UnixMilli()
	}
	if rec.PurlIDs != nil {
		purls := make([]string, len(rec.PurlIDs))
		copy(purls, rec.PurlIDs)
		wire.Purls = &purls
	}
	return wire
}
