package domain

import (
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.trai.ch/zerr"
)

// ChecksumKind selects the digest algorithm of a spec's checksum pin.
type ChecksumKind string

const (
	ChecksumSHA256 ChecksumKind = "sha256"
	ChecksumMD5    ChecksumKind = "md5"
)

// Checksum pins a dependency to an exact artifact digest.
type Checksum struct {
	Kind   ChecksumKind
	Digest string
}

// SourceKind discriminates the SourceLocation variant.
type SourceKind string

const (
	SourcePath SourceKind = "path"
	SourceGit  SourceKind = "git"
)

// GitRefKind names the kind of git reference a source dependency pins.
type GitRefKind string

const (
	GitRefBranch GitRefKind = "branch"
	GitRefTag    GitRefKind = "tag"
	GitRefRev    GitRefKind = "rev"
)

// SourceLocation describes a dependency obtained from a location rather
// than a package index. A source dependency is resolved by reading the
// target's own declared identity, so it carries no version constraint.
type SourceLocation struct {
	Kind         SourceKind
	Path         string
	GitURL       string
	GitRefKind   GitRefKind
	GitRef       string
	Subdirectory string
}

// PackageSpec is a single declared package requirement. All present fields
// must independently hold for a record to match; absent fields always
// match. Source and Version are mutually exclusive.
type PackageSpec struct {
	Name      InternedString
	Ecosystem Ecosystem

	Version     VersionConstraint
	hasVersion  bool
	Build       string // glob over the build string
	BuildNumber *VersionConstraint
	Channel     string
	Checksum    *Checksum
	License     string
	FileName    string
	Source      *SourceLocation
}

// NewSpec builds a versioned requirement for a registry package.
func NewSpec(name string, eco Ecosystem, constraint VersionConstraint) PackageSpec {
	return PackageSpec{
		Name:       NewInternedString(NormalizeName(name)),
		Ecosystem:  eco,
		Version:    constraint,
		hasVersion: !constraint.IsAny(),
	}
}

// NewSourceSpec builds a requirement resolved from a source location.
func NewSourceSpec(name string, eco Ecosystem, src SourceLocation) PackageSpec {
	return PackageSpec{
		Name:      NewInternedString(NormalizeName(name)),
		Ecosystem: eco,
		Source:    &src,
	}
}

// NormalizeName canonicalizes a package name. Specs and records must both
// apply it, or a mixed-case record could never match any spec.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// HasVersion reports whether the spec carries a real version restriction.
func (s *PackageSpec) HasVersion() bool { return s.hasVersion }

// Validate enforces the structural invariants of a spec.
func (s *PackageSpec) Validate() error {
	if s.Name.String() == "" {
		return zerr.New("package spec has no name")
	}
	if s.Source != nil && s.hasVersion {
		return zerr.With(
			zerr.New("source dependency cannot carry a version constraint"),
			"package", s.Name.String(),
		)
	}
	return nil
}

// Matches evaluates the spec against a record: every present field must
// hold on its own. Source specs never match registry records by version;
// they match a record whose editable path or URL equals the source target.
func (s *PackageSpec) Matches(rec *PackageRecord) bool {
	if s.Ecosystem != "" && s.Ecosystem != rec.Ecosystem {
		return false
	}
	if s.Name.String() != "" && s.Name != rec.Name {
		return false
	}

	if s.Source != nil {
		return s.matchesSource(rec)
	}

	if s.hasVersion && !s.Version.Matches(rec.Version) {
		return false
	}
	if s.Build != "" {
		ok, err := doublestar.Match(s.Build, rec.Build)
		if err != nil || !ok {
			return false
		}
	}
	if s.BuildNumber != nil {
		bn, err := ParseVersion(strconv.Itoa(rec.BuildNumber))
		if err != nil || !s.BuildNumber.Matches(bn) {
			return false
		}
	}
	if s.Channel != "" && !channelMatches(s.Channel, rec.URL) {
		return false
	}
	if s.Checksum != nil && !s.checksumMatches(rec) {
		return false
	}
	if s.License != "" && !strings.EqualFold(s.License, rec.License) {
		return false
	}
	if s.FileName != "" && fileNameOf(rec.URL) != s.FileName {
		return false
	}
	return true
}

func (s *PackageSpec) matchesSource(rec *PackageRecord) bool {
	switch s.Source.Kind {
	case SourcePath:
		return rec.EditablePath == s.Source.Path
	case SourceGit:
		return strings.HasPrefix(rec.URL, s.Source.GitURL)
	default:
		return false
	}
}

func (s *PackageSpec) checksumMatches(rec *PackageRecord) bool {
	switch s.Checksum.Kind {
	case ChecksumSHA256:
		return strings.EqualFold(s.Checksum.Digest, rec.SHA256)
	case ChecksumMD5:
		return strings.EqualFold(s.Checksum.Digest, rec.MD5)
	default:
		return false
	}
}

// channelMatches accepts both bare channel names and full channel URLs: a
// record fetched from "https://host/conda-forge/linux-64/pkg.conda"
// matches channel "conda-forge" as well as "https://host/conda-forge".
func channelMatches(channel, url string) bool {
	if channel == "" || url == "" {
		return channel == ""
	}
	if strings.Contains(channel, "://") {
		return strings.HasPrefix(url, strings.TrimSuffix(channel, "/"))
	}
	return strings.Contains(url, "/"+channel+"/")
}

func fileNameOf(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}

// String renders the spec in "name constraint" form for error reporting.
func (s *PackageSpec) String() string {
	name := s.Name.String()
	switch {
	case s.Source != nil && s.Source.Kind == SourcePath:
		return name + " @ path:" + s.Source.Path
	case s.Source != nil && s.Source.Kind == SourceGit:
		return name + " @ git:" + s.Source.GitURL
	case s.hasVersion:
		return name + " " + s.Version.String()
	default:
		return name + " *"
	}
}

// ParseDependsString parses a record dependency string of the conda form
// "name [constraint [build-glob]]", e.g. "python >=3.9,<3.13" or
// "openssl 3.* *_1".
func ParseDependsString(s string, eco Ecosystem) (PackageSpec, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return PackageSpec{}, zerr.New("empty dependency string")
	}

	spec := PackageSpec{
		Name:      NewInternedString(NormalizeName(fields[0])),
		Ecosystem: eco,
	}
	if len(fields) > 1 {
		constraint, err := ParseConstraint(fields[1])
		if err != nil {
			return PackageSpec{}, zerr.With(zerr.Wrap(err, "invalid dependency constraint"), "depends", s)
		}
		spec.Version = constraint
		spec.hasVersion = !constraint.IsAny()
	}
	if len(fields) > 2 {
		spec.Build = fields[2]
	}
	return spec, nil
}
