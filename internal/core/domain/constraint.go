package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// ConstraintOp is a single comparison operator inside a version constraint.
type ConstraintOp string

const (
	OpEqual          ConstraintOp = "=="
	OpNotEqual       ConstraintOp = "!="
	OpLess           ConstraintOp = "<"
	OpLessEqual      ConstraintOp = "<="
	OpGreater        ConstraintOp = ">"
	OpGreaterEqual   ConstraintOp = ">="
	OpStartsWith     ConstraintOp = "=*"
	OpNotStartsWith  ConstraintOp = "!=*"
	opCompatibleWith ConstraintOp = "~=" // expanded at parse time, never stored
)

// ConstraintClause is one operator/version pair. Clauses joined by "," are
// ANDed; groups of clauses joined by "|" are ORed.
type ConstraintClause struct {
	Op      ConstraintOp
	Version Version
}

// Matches evaluates the clause against a concrete version.
func (c ConstraintClause) Matches(v Version) bool {
	switch c.Op {
	case OpEqual:
		return v.Compare(c.Version) == 0
	case OpNotEqual:
		return v.Compare(c.Version) != 0
	case OpLess:
		return v.Compare(c.Version) < 0
	case OpLessEqual:
		return v.Compare(c.Version) <= 0
	case OpGreater:
		return v.Compare(c.Version) > 0
	case OpGreaterEqual:
		return v.Compare(c.Version) >= 0
	case OpStartsWith:
		return v.StartsWith(c.Version)
	case OpNotStartsWith:
		return !v.StartsWith(c.Version)
	default:
		return false
	}
}

// VersionConstraint is a disjunction of conjunctions of clauses, in the
// textual order they were written: "a,b|c" means (a AND b) OR c.
type VersionConstraint struct {
	raw    string
	groups [][]ConstraintClause
}

// ParseConstraint parses a constraint expression. Supported operators are
// ==, !=, <, <=, >, >= and ~=; "*" suffixes select prefix matching and a
// lone "*" matches any version. A bare version is an exact match.
//
// A syntactically valid but self-contradictory expression (">3,<2") parses
// fine: it simply matches nothing, and surfaces later as an unsatisfiable
// resolution, which is the intended failure boundary.
func ParseConstraint(s string) (VersionConstraint, error) {
	raw := strings.TrimSpace(s)
	if raw == "" || raw == "*" {
		return VersionConstraint{raw: "*"}, nil
	}

	c := VersionConstraint{raw: raw}
	for _, groupText := range strings.Split(raw, "|") {
		if strings.TrimSpace(groupText) == "" {
			return VersionConstraint{}, zerr.With(zerr.New("empty constraint group"), "constraint", raw)
		}
		// A group that reduces to no clauses (a lone "*") matches anything.
		group := []ConstraintClause{}
		for _, clauseText := range strings.Split(groupText, ",") {
			clauses, err := parseClause(strings.TrimSpace(clauseText))
			if err != nil {
				return VersionConstraint{}, zerr.With(err, "constraint", raw)
			}
			group = append(group, clauses...)
		}
		c.groups = append(c.groups, group)
	}
	return c, nil
}

// MustParseConstraint is ParseConstraint for compile-time-known inputs.
func MustParseConstraint(s string) VersionConstraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// parseClause returns one or two clauses: "~=" expands into its >= lower
// bound plus a prefix upper bound.
func parseClause(s string) ([]ConstraintClause, error) {
	if s == "" {
		return nil, zerr.New("empty constraint clause")
	}
	if s == "*" {
		return []ConstraintClause{}, nil
	}

	op, rest := splitOperator(s)
	rest = strings.TrimSpace(rest)

	if op == opCompatibleWith {
		base, err := ParseVersion(rest)
		if err != nil {
			return nil, err
		}
		return []ConstraintClause{
			{Op: OpGreaterEqual, Version: base},
			{Op: OpStartsWith, Version: base.TrimLastSegment()},
		}, nil
	}

	// A trailing ".*" (or bare "*") turns equality operators into prefix
	// matching: "==1.2.*" and "1.2.*" match 1.2.x, "!=1.2.*" excludes it.
	prefix := false
	if strings.HasSuffix(rest, ".*") {
		prefix = true
		rest = strings.TrimSuffix(rest, ".*")
	} else if strings.HasSuffix(rest, "*") {
		prefix = true
		rest = strings.TrimSuffix(rest, "*")
		rest = strings.TrimSuffix(rest, ".")
	}

	v, err := ParseVersion(rest)
	if err != nil {
		return nil, err
	}

	if prefix {
		switch op {
		case OpEqual:
			return []ConstraintClause{{Op: OpStartsWith, Version: v}}, nil
		case OpNotEqual:
			return []ConstraintClause{{Op: OpNotStartsWith, Version: v}}, nil
		case OpGreaterEqual, OpGreater, OpLess, OpLessEqual:
			// ">=1.2.*" behaves as ">=1.2".
			return []ConstraintClause{{Op: op, Version: v}}, nil
		default:
			return nil, zerr.With(zerr.New("wildcard not allowed with operator"), "operator", string(op))
		}
	}

	return []ConstraintClause{{Op: op, Version: v}}, nil
}

func splitOperator(s string) (ConstraintOp, string) {
	switch {
	case strings.HasPrefix(s, "=="):
		return OpEqual, s[2:]
	case strings.HasPrefix(s, "!="):
		return OpNotEqual, s[2:]
	case strings.HasPrefix(s, "<="):
		return OpLessEqual, s[2:]
	case strings.HasPrefix(s, ">="):
		return OpGreaterEqual, s[2:]
	case strings.HasPrefix(s, "~="):
		return opCompatibleWith, s[2:]
	case strings.HasPrefix(s, "<"):
		return OpLess, s[1:]
	case strings.HasPrefix(s, ">"):
		return OpGreater, s[1:]
	case strings.HasPrefix(s, "="):
		return OpEqual, s[1:]
	default:
		return OpEqual, s
	}
}

// Matches reports whether v satisfies the constraint. The empty constraint
// matches every version.
func (c VersionConstraint) Matches(v Version) bool {
	if len(c.groups) == 0 {
		return true
	}
	for _, group := range c.groups {
		all := true
		for _, clause := range group {
			if !clause.Matches(v) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// IsAny reports whether the constraint places no restriction at all.
func (c VersionConstraint) IsAny() bool {
	if len(c.groups) == 0 {
		return true
	}
	for _, group := range c.groups {
		if len(group) == 0 {
			return true
		}
	}
	return false
}

// String returns the constraint as written.
func (c VersionConstraint) String() string {
	if c.raw == "" {
		return "*"
	}
	return c.raw
}
