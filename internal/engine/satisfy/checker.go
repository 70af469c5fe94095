// Package satisfy implements the lock file satisfiability checker: given a
// manifest and a lock document, it decides per (environment, platform) pair
// whether the locked state still matches the declared requirements.
package satisfy

import (
	"context"
	"path/filepath"
	"slices"
	"sort"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
)

// Reason classifies why a pair is unsatisfied.
type Reason string

const (
	// ReasonMissingEntry indicates the pair has no lock entry at all.
	ReasonMissingEntry Reason = "MissingEntry"
	// ReasonChannelMismatch indicates the effective channel list differs
	// from the one recorded for the entry.
	ReasonChannelMismatch Reason = "ChannelMismatch"
	// ReasonMissingOrIncompatiblePackage indicates a declared spec matches
	// no record in the entry.
	ReasonMissingOrIncompatiblePackage Reason = "MissingOrIncompatiblePackage"
	// ReasonMissingSecondaryMapping indicates a conda record lacks the
	// wheel-ecosystem identity markers required for layered resolution.
	ReasonMissingSecondaryMapping Reason = "MissingSecondaryMapping"
	// ReasonStaleEditableHash indicates an editable install's content
	// changed since it was locked.
	ReasonStaleEditableHash Reason = "StaleEditableHash"
	// ReasonDuplicatePackageEntry indicates the entry references a record
	// whose identity key appeared more than once in the pool.
	ReasonDuplicatePackageEntry Reason = "DuplicatePackageEntry"
	// ReasonSystemRequirementUnmet indicates the host does not meet a
	// declared system requirement minimum.
	ReasonSystemRequirementUnmet Reason = "SystemRequirementUnmet"
)

// Verdict is the check outcome for one (environment, platform) pair.
type Verdict struct {
	Satisfied bool
	Reason    Reason
	// Spec is set for MissingOrIncompatiblePackage verdicts.
	Spec *domain.PackageSpec
	// Detail carries human-readable context for the reason.
	Detail string
}

func satisfied() Verdict { return Verdict{Satisfied: true} }

// Result maps every declared pair to its verdict.
type Result map[domain.EnvPlatform]Verdict

// AllSatisfied reports whether every pair is satisfied.
func (r Result) AllSatisfied() bool {
	for _, v := range r {
		if !v.Satisfied {
			return false
		}
	}
	return true
}

// Unsatisfied returns the unsatisfied pairs in deterministic order.
func (r Result) Unsatisfied() []domain.EnvPlatform {
	var pairs []domain.EnvPlatform
	for pair, v := range r {
		if !v.Satisfied {
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// Checker evaluates a lock document against a manifest.
type Checker struct {
	hasher ports.Hasher
	logger ports.Logger

	// hostInfo holds detected host properties keyed by requirement kind
	// ("linux", "glibc", "cuda"). A kind absent here is not checked.
	hostInfo map[string]string
}

// Option configures a Checker.
type Option func(*Checker)

// WithHostInfo supplies detected host properties for system requirement
// verification.
func WithHostInfo(info map[string]string) Option {
	return func(c *Checker) { c.hostInfo = info }
}

// New creates a Checker.
func New(hasher ports.Hasher, logger ports.Logger, opts ...Option) *Checker {
	c := &Checker{
		hasher: hasher,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check evaluates every (environment, platform) pair the manifest declares
// and reports a verdict for each. A nil lock counts as empty: every pair is
// unsatisfied with MissingEntry. The checks per pair run in a fixed order
// and the first failing one determines the reason, but all pairs are always
// evaluated so the resolver can batch every unsatisfied pair into one pass.
func (c *Checker) Check(ctx context.Context, manifest *domain.Manifest, lock *domain.LockDocument) (Result, error) {
	pairs, err := manifest.Pairs()
	if err != nil {
		return nil, err
	}

	result := make(Result, len(pairs))
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		view, err := manifest.View(pair.Environment)
		if err != nil {
			return nil, err
		}
		verdict := c.checkPair(pair, view, manifest.ProjectRoot, lock)
		if !verdict.Satisfied {
			c.logger.Debug("lock entry unsatisfied",
				"environment", pair.Environment,
				"platform", string(pair.Platform),
				"reason", string(verdict.Reason),
			)
		}
		result[pair] = verdict
	}
	return result, nil
}

func (c *Checker) checkPair(pair domain.EnvPlatform, view domain.EnvironmentView, root string, lock *domain.LockDocument) Verdict {
	if lock == nil {
		return Verdict{Reason: ReasonMissingEntry}
	}
	entry, ok := lock.Entry(pair.Environment, pair.Platform)
	if !ok {
		return Verdict{Reason: ReasonMissingEntry}
	}

	if !slices.Equal(view.Channels, entry.Channels) {
		return Verdict{Reason: ReasonChannelMismatch}
	}

	records, err := lock.EntryRecords(pair.Environment, pair.Platform)
	if err != nil {
		// A dangling reference means the entry cannot be trusted at all.
		return Verdict{Reason: ReasonMissingEntry, Detail: err.Error()}
	}

	if v := checkSpecs(view.CondaSpecs, domain.EcosystemConda, records); !v.Satisfied {
		return v
	}
	if v := checkSpecs(view.WheelSpecs, domain.EcosystemWheel, records); !v.Satisfied {
		return v
	}

	if len(view.WheelSpecs) > 0 {
		// Wheel resolution is layered on top of the conda solution and
		// needs to know which conda records already provide a wheel
		// distribution. Records written before marker tracking carry no
		// marker list at all; those entries must be re-solved.
		for _, rec := range records {
			if rec.Ecosystem == domain.EcosystemConda && rec.PurlIDs == nil {
				return Verdict{
					Reason: ReasonMissingSecondaryMapping,
					Detail: rec.Key().String(),
				}
			}
		}
	}

	if v := c.checkEditables(root, records); !v.Satisfied {
		return v
	}

	for kind, minimum := range view.SystemRequirements {
		detected, ok := c.hostInfo[kind]
		if !ok {
			continue
		}
		met, err := domain.MeetsSystemRequirement(detected, minimum)
		if err != nil || !met {
			return Verdict{Reason: ReasonSystemRequirementUnmet, Detail: kind}
		}
	}

	for _, key := range entry.Packages {
		if lock.IsDuplicate(key) {
			return Verdict{Reason: ReasonDuplicatePackageEntry, Detail: key.String()}
		}
	}

	return satisfied()
}

// checkSpecs verifies that every declared spec matches at least one record
// of its ecosystem in the entry.
func checkSpecs(specs []domain.PackageSpec, eco domain.Ecosystem, records []*domain.PackageRecord) Verdict {
	for i := range specs {
		spec := &specs[i]
		found := false
		for _, rec := range records {
			if rec.Ecosystem == eco && spec.Matches(rec) {
				found = true
				break
			}
		}
		if !found {
			return Verdict{
				Reason: ReasonMissingOrIncompatiblePackage,
				Spec:   spec,
				Detail: spec.String(),
			}
		}
	}
	return satisfied()
}

func (c *Checker) checkEditables(root string, records []*domain.PackageRecord) Verdict {
	for _, rec := range records {
		if !rec.IsEditable() {
			continue
		}
		current, err := c.hasher.HashTree(filepath.Join(root, rec.EditablePath))
		if err != nil || current != rec.ContentHash {
			return Verdict{Reason: ReasonStaleEditableHash, Detail: rec.EditablePath}
		}
	}
	return satisfied()
}
