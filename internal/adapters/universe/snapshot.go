// Package universe serves package candidate queries from repodata-style
// JSON channel directories. The snapshot is read-only: a file is parsed
// at most once per process and every query answers against the same
// immutable data, keeping solves deterministic.
package universe

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Universe = (*Snapshot)(nil)

// noarchSubdir is the platform-independent pseudo-subdir consulted for
// every platform query.
const noarchSubdir = domain.Platform("noarch")

// Snapshot loads channel subdirectories of the form
// <root>/<channel>/<subdir>/repodata.json on first use and indexes their
// records by (ecosystem, name).
type Snapshot struct {
	root   string
	logger ports.Logger

	mu   sync.Mutex
	dirs map[string]*subdirIndex
}

type subdirIndex struct {
	byName map[indexKey][]*domain.PackageRecord
}

type indexKey struct {
	eco  domain.Ecosystem
	name string
}

// NewSnapshot creates a Snapshot over the given channel root directory.
func NewSnapshot(root string, logger ports.Logger) *Snapshot {
	return &Snapshot{
		root:   root,
		logger: logger,
		dirs:   make(map[string]*subdirIndex),
	}
}

// Query returns every candidate for name in the given channels and
// platform, including noarch records. An unknown name yields an empty
// slice.
func (s *Snapshot) Query(ctx context.Context, channels []domain.Channel, platform domain.Platform, eco domain.Ecosystem, name string) ([]*domain.PackageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*domain.PackageRecord
	key := indexKey{eco: eco, name: name}

	for _, channel := range channels {
		for _, subdir := range []domain.Platform{platform, noarchSubdir} {
			idx, err := s.subdir(channel.Name, subdir)
			if err != nil {
				return nil, err
			}
			if idx == nil {
				continue
			}
			out = append(out, idx.byName[key]...)
		}
	}
	return out, nil
}

// subdir returns the index for one (channel, subdir), loading it on first
// use. A missing repodata file is an empty subdir, not an error.
func (s *Snapshot) subdir(channel string, subdir domain.Platform) (*subdirIndex, error) {
	cacheKey := channel + "/" + string(subdir)

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.dirs[cacheKey]; ok {
		return idx, nil
	}

	path := filepath.Join(s.root, channel, string(subdir), "repodata.json")
	idx, err := s.load(path, channel, subdir)
	if err != nil {
		return nil, err
	}
	s.dirs[cacheKey] = idx
	return idx, nil
}

// repodata is the serialized subdir shape: conda records keyed by file
// name plus wheel records layered in the same channel tree.
type repodata struct {
	Subdir   string                `json:"subdir"`
	Packages map[string]wireRecord `json:"packages"`
	Wheels   map[string]wireRecord `json:"wheels"`
}

type wireRecord struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Build       string    `json:"build"`
	BuildNumber int       `json:"build_number"`
	Depends     []string  `json:"depends"`
	Constrains  []string  `json:"constrains"`
	SHA256      string    `json:"sha256"`
	MD5         string    `json:"md5"`
	License     string    `json:"license"`
	Size        int64     `json:"size"`
	Timestamp   int64     `json:"timestamp"`
	Purls       *[]string `json:"purls"`
}

func (s *Snapshot) load(path, channel string, subdir domain.Platform) (*subdirIndex, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(err, "reading repodata"), "path", path)
	}

	var file repodata
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "parsing repodata"), "path", path)
	}

	idx := &subdirIndex{byName: make(map[indexKey][]*domain.PackageRecord)}
	for fileName, wire := range file.Packages {
		if err := idx.add(channel, subdir, fileName, wire, domain.EcosystemConda); err != nil {
			return nil, zerr.With(err, "path", path)
		}
	}
	for fileName, wire := range file.Wheels {
		if err := idx.add(channel, subdir, fileName, wire, domain.EcosystemWheel); err != nil {
			return nil, zerr.With(err, "path", path)
		}
	}

	s.logger.Debug("loaded repodata",
		"channel", channel,
		"subdir", string(subdir),
		"conda", len(file.Packages),
		"wheel", len(file.Wheels),
	)
	return idx, nil
}

func (idx *subdirIndex) add(channel string, subdir domain.Platform, fileName string, wire wireRecord, eco domain.Ecosystem) error {
	version, err := domain.ParseVersion(wire.Version)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "invalid record version"), "file", fileName)
	}

	rec := &domain.PackageRecord{
		Ecosystem:   eco,
		Name:        domain.NewInternedString(domain.NormalizeName(wire.Name)),
		Version:     version,
		Build:       wire.Build,
		BuildNumber: wire.BuildNumber,
		Subdir:      subdir,
		URL:         "https://conda.anaconda.org/" + channel + "/" + string(subdir) + "/" + fileName,
		SHA256:      wire.SHA256,
		MD5:         wire.MD5,
		Depends:     wire.Depends,
		Constrains:  wire.Constrains,
		License:     wire.License,
		Size:        wire.Size,
	}
	if wire.Timestamp != 0 {
		rec.Timestamp = time.UnixMilli(wire.Timestamp).UTC()
	}
	if wire.Purls != nil {
		rec.PurlIDs = append([]string{}, (*wire.Purls)...)
	}

	key := indexKey{eco: eco, name: rec.Name.String()}
	idx.byName[key] = append(idx.byName[key], rec)
	return nil
}
