package domain

import (
	"strconv"
	"strings"

	"go.trai.ch/zerr"
)

// Version is a parsed package version using conda-style ordering rules.
// Unlike strict semver, any number of dot-separated segments is allowed and
// segments may mix numeric and alphabetic components ("1.2.3.post1",
// "2021a", "1.0rc2"). Ordering is defined segment-wise: within a segment,
// "dev" sorts below everything, alphabetic components sort below numeric
// ones, and "post" sorts above numeric ones.
type Version struct {
	raw      string
	epoch    int
	segments []versionSegment
}

type versionSegment struct {
	components []versionComponent
}

// componentKind orders the component classes within a segment.
type componentKind int

const (
	kindDev componentKind = iota
	kindAlpha
	kindNumeric
	kindPost
)

type versionComponent struct {
	kind componentKind
	num  int
	str  string
}

// ParseVersion parses a version string. An optional "N!" epoch prefix is
// honored. Empty strings are rejected.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, zerr.New("empty version string")
	}

	v := Version{raw: raw}

	rest := raw
	if bang := strings.IndexByte(rest, '!'); bang >= 0 {
		epoch, err := strconv.Atoi(rest[:bang])
		if err != nil {
			return Version{}, zerr.With(zerr.New("invalid version epoch"), "version", raw)
		}
		v.epoch = epoch
		rest = rest[bang+1:]
	}

	rest = strings.ToLower(rest)
	for _, part := range splitSegments(rest) {
		seg, err := parseSegment(part)
		if err != nil {
			return Version{}, zerr.With(zerr.Wrap(err, "invalid version segment"), "version", raw)
		}
		v.segments = append(v.segments, seg)
	}
	if len(v.segments) == 0 {
		return Version{}, zerr.With(zerr.New("version has no segments"), "version", raw)
	}

	return v, nil
}

// MustParseVersion is ParseVersion for compile-time-known inputs. It panics
// on error and is intended for tests and constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func splitSegments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}

func parseSegment(s string) (versionSegment, error) {
	var seg versionSegment
	i := 0
	for i < len(s) {
		j := i
		if isDigit(s[i]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			n, err := strconv.Atoi(s[i:j])
			if err != nil {
				return versionSegment{}, zerr.New("numeric component out of range")
			}
			seg.components = append(seg.components, versionComponent{kind: kindNumeric, num: n})
		} else {
			for j < len(s) && !isDigit(s[j]) {
				j++
			}
			alpha := s[i:j]
			switch alpha {
			case "dev":
				seg.components = append(seg.components, versionComponent{kind: kindDev, str: alpha})
			case "post":
				seg.components = append(seg.components, versionComponent{kind: kindPost, str: alpha})
			default:
				seg.components = append(seg.components, versionComponent{kind: kindAlpha, str: alpha})
			}
		}
		i = j
	}
	if len(seg.components) == 0 {
		return versionSegment{}, zerr.New("empty version segment")
	}
	return seg, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// String returns the version exactly as parsed.
func (v Version) String() string { return v.raw }

// IsZero reports whether the version is the unparsed zero value.
func (v Version) IsZero() bool { return v.raw == "" }

// Compare returns -1, 0 or +1 ordering v against other.
func (v Version) Compare(other Version) int {
	if v.epoch != other.epoch {
		return compareInt(v.epoch, other.epoch)
	}

	n := max(len(v.segments), len(other.segments))
	for i := 0; i < n; i++ {
		c := compareSegment(v.segmentAt(i), other.segmentAt(i))
		if c != 0 {
			return c
		}
	}
	return 0
}

// zeroSegment stands in for missing trailing segments so "1.2" == "1.2.0".
var zeroSegment = versionSegment{components: []versionComponent{{kind: kindNumeric, num: 0}}}

func (v Version) segmentAt(i int) versionSegment {
	if i < len(v.segments) {
		return v.segments[i]
	}
	return zeroSegment
}

func compareSegment(a, b versionSegment) int {
	n := max(len(a.components), len(b.components))
	for i := 0; i < n; i++ {
		ac := componentAt(a, i)
		bc := componentAt(b, i)
		if ac.kind != bc.kind {
			return compareInt(int(ac.kind), int(bc.kind))
		}
		switch ac.kind {
		case kindNumeric:
			if c := compareInt(ac.num, bc.num); c != 0 {
				return c
			}
		default:
			if c := strings.Compare(ac.str, bc.str); c != 0 {
				return c
			}
		}
	}
	return 0
}

// componentAt pads a segment with an implicit numeric zero so that a purely
// alphabetic tail ("1.0a") sorts below its release ("1.0").
func componentAt(s versionSegment, i int) versionComponent {
	if i < len(s.components) {
		return s.components[i]
	}
	return versionComponent{kind: kindNumeric, num: 0}
}

// NumericSegment returns the leading numeric value of segment i, treating
// missing segments and non-numeric leads as zero. Pin strategies use it to
// compare major/minor positions.
func (v Version) NumericSegment(i int) int {
	c := componentAt(v.segmentAt(i), 0)
	if c.kind == kindNumeric {
		return c.num
	}
	return 0
}

// StartsWith reports whether v begins with every segment of prefix. This is
// the matching rule behind wildcard constraints such as "1.2.*".
func (v Version) StartsWith(prefix Version) bool {
	if v.epoch != prefix.epoch {
		return false
	}
	if len(prefix.segments) > len(v.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		if compareSegment(v.segments[i], seg) != 0 {
			return false
		}
	}
	return true
}

// TrimLastSegment returns a copy of v without its final segment. Used to
// derive the compatible-release upper bound of the "~=" operator; a
// single-segment version is returned unchanged.
func (v Version) TrimLastSegment() Version {
	if len(v.segments) <= 1 {
		return v
	}
	rest := v.raw
	if bang := strings.IndexByte(rest, '!'); bang >= 0 {
		rest = rest[bang+1:]
	}
	parts := splitSegments(strings.ToLower(rest))
	return Version{
		raw:      strings.Join(parts[:len(parts)-1], "."),
		epoch:    v.epoch,
		segments: v.segments[:len(v.segments)-1],
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
