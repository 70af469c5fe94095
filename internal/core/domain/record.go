package domain

import (
	"fmt"
	"time"
)

// Ecosystem distinguishes the two package ecosystems a project may draw
// from: binary conda-style packages and Python wheel-style packages layered
// on top of them.
type Ecosystem string

const (
	// EcosystemConda is the primary binary package ecosystem.
	EcosystemConda Ecosystem = "conda"
	// EcosystemWheel is the secondary ecosystem, resolved on top of the
	// frozen conda solution and never the other way around.
	EcosystemWheel Ecosystem = "wheel"
)

// RecordKey is the identity of a package record inside the lock pool. The
// pool holds at most one record per key.
type RecordKey struct {
	Ecosystem Ecosystem
	Name      string
	Version   string
	Build     string
	Subdir    Platform
}

// String renders the key in a stable, human-readable form.
func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%s-%s-%s", k.Ecosystem, k.Subdir, k.Name, k.Version, k.Build)
}

// PackageRecord is one fully resolved package in the lock pool.
type PackageRecord struct {
	Ecosystem   Ecosystem
	Name        InternedString
	Version     Version
	Build       string
	BuildNumber int
	Subdir      Platform
	URL         string
	SHA256      string
	MD5         string

	// Depends and Constrains hold raw spec strings in the record's own
	// dependency syntax ("python >=3.9", "numpy 1.21.*"). Constrains
	// restrict versions if the named package is selected but never pull
	// it in.
	Depends    []string
	Constrains []string

	License   string
	Size      int64
	Timestamp time.Time

	// PurlIDs carries secondary-ecosystem identity markers exposed by a
	// conda record ("pypi/numpy"), letting wheel resolution treat the
	// conda package as already providing that distribution.
	PurlIDs []string

	// EditablePath and ContentHash describe a wheel-ecosystem editable
	// install: the referenced location and the content hash recorded at
	// lock time.
	EditablePath string
	ContentHash  string
}

// Key returns the record's pool identity.
func (r *PackageRecord) Key() RecordKey {
	return RecordKey{
		Ecosystem: r.Ecosystem,
		Name:      r.Name.String(),
		Version:   r.Version.String(),
		Build:     r.Build,
		Subdir:    r.Subdir,
	}
}

// IsEditable reports whether the record is a local editable install.
func (r *PackageRecord) IsEditable() bool { return r.EditablePath != "" }

// ProvidesPurl reports whether the record exposes the given
// secondary-ecosystem identity marker.
func (r *PackageRecord) ProvidesPurl(id string) bool {
	for _, p := range r.PurlIDs {
		if p == id {
			return true
		}
	}
	return false
}
