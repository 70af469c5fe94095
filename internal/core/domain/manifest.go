package domain

import (
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"go.trai.ch/zerr"
)

// DefaultFeatureName is the implicit feature aggregating the manifest's
// top-level declarations.
const DefaultFeatureName = "default"

// DefaultEnvironmentName is the environment every project has.
const DefaultEnvironmentName = "default"

// Channel is a package source with a merge priority: higher priority
// channels are consulted first.
type Channel struct {
	Name     string
	Priority int
}

// PinStrategy selects how the resolver prefers among feasible versions.
type PinStrategy string

const (
	PinLatestUp     PinStrategy = "latest-up"
	PinSemver       PinStrategy = "semver"
	PinMinor        PinStrategy = "minor"
	PinMajor        PinStrategy = "major"
	PinExactVersion PinStrategy = "exact-version"
	PinNone         PinStrategy = "no-pin"
)

// Feature is a named, reusable bundle of dependencies, channels, platforms,
// system requirements and tasks. Features are composed into environments;
// they are never mutated after the manifest is loaded.
type Feature struct {
	Name               string
	Dependencies       []PackageSpec // conda ecosystem
	WheelDependencies  []PackageSpec // secondary ecosystem
	Platforms          []Platform
	Channels           []Channel
	SystemRequirements map[string]string // requirement kind -> minimum version
	Tasks              map[string]Task
}

// EnvironmentDef is a manifest-level environment declaration: an ordered
// feature composition plus an optional solve group.
type EnvironmentDef struct {
	Name             string
	Features         []string
	SolveGroup       string
	NoDefaultFeature bool
}

// Manifest is the read-only, in-memory form of a project's declarative
// configuration. It is produced by the config adapter and consumed by the
// checker, the resolver and the task engine.
type Manifest struct {
	Name        string
	ProjectRoot string
	Platforms   []Platform
	PinStrategy PinStrategy

	Default      Feature
	Features     map[string]Feature
	Environments map[string]EnvironmentDef
}

// EnvironmentView is the flattened, effective configuration of one
// environment: the merged union of its features.
type EnvironmentView struct {
	Name               string
	SolveGroup         string
	Platforms          []Platform
	Channels           []Channel
	CondaSpecs         []PackageSpec
	WheelSpecs         []PackageSpec
	SystemRequirements map[string]string
	Tasks              map[string]Task
}

// EnvironmentNames returns the declared environment names, sorted.
func (m *Manifest) EnvironmentNames() []string {
	names := make([]string, 0, len(m.Environments))
	for name := range m.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View flattens an environment into its effective feature union. Later
// features override earlier ones on scalar fields and merge on collection
// fields; the default feature, when included, is applied first.
func (m *Manifest) View(envName string) (EnvironmentView, error) {
	def, ok := m.Environments[envName]
	if !ok {
		return EnvironmentView{}, zerr.With(ErrUnknownEnvironment, "environment", envName)
	}

	features := make([]Feature, 0, len(def.Features)+1)
	if !def.NoDefaultFeature {
		features = append(features, m.Default)
	}
	for _, name := range def.Features {
		f, ok := m.Features[name]
		if !ok {
			return EnvironmentView{}, zerr.With(zerr.With(ErrUnknownFeature,
				"feature", name),
				"environment", envName,
			)
		}
		features = append(features, f)
	}

	view := EnvironmentView{
		Name:               envName,
		SolveGroup:         def.SolveGroup,
		SystemRequirements: make(map[string]string),
		Tasks:              make(map[string]Task),
	}
	for _, f := range features {
		view.CondaSpecs = mergeSpecs(view.CondaSpecs, f.Dependencies)
		view.WheelSpecs = mergeSpecs(view.WheelSpecs, f.WheelDependencies)
		view.Channels = mergeChannels(view.Channels, f.Channels)
		view.Platforms = mergePlatforms(view.Platforms, f.Platforms)
		for kind, minimum := range f.SystemRequirements {
			// Overwrite policy: the later feature wins.
			view.SystemRequirements[kind] = minimum
		}
		for name, task := range f.Tasks {
			view.Tasks[name] = task
		}
	}
	if len(view.Platforms) == 0 {
		view.Platforms = append(view.Platforms, m.Platforms...)
	}
	return view, nil
}

// mergeSpecs implements the dependency merge policy: a later spec for the
// same (ecosystem, name) replaces the earlier one, order otherwise kept.
func mergeSpecs(base, overlay []PackageSpec) []PackageSpec {
	out := make([]PackageSpec, len(base))
	copy(out, base)
	for _, spec := range overlay {
		replaced := false
		for i := range out {
			if out[i].Name == spec.Name && out[i].Ecosystem == spec.Ecosystem {
				out[i] = spec
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, spec)
		}
	}
	return out
}

// mergeChannels unions channels keeping first occurrence, then orders by
// descending priority with the original order as tie-break.
func mergeChannels(base, overlay []Channel) []Channel {
	out := make([]Channel, len(base))
	copy(out, base)
	for _, ch := range overlay {
		seen := false
		for _, existing := range out {
			if existing.Name == ch.Name {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func mergePlatforms(base, overlay []Platform) []Platform {
	out := make([]Platform, len(base))
	copy(out, base)
	for _, p := range overlay {
		found := false
		for _, existing := range out {
			if existing == p {
				found = true
				break
			}
		}
		if !found {
			out = append(out, p)
		}
	}
	return out
}

// Pairs enumerates every (environment, platform) combination the manifest
// declares, sorted for deterministic iteration.
func (m *Manifest) Pairs() ([]EnvPlatform, error) {
	var pairs []EnvPlatform
	for _, envName := range m.EnvironmentNames() {
		view, err := m.View(envName)
		if err != nil {
			return nil, err
		}
		for _, platform := range view.Platforms {
			pairs = append(pairs, EnvPlatform{Environment: envName, Platform: platform})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Environment != pairs[j].Environment {
			return pairs[i].Environment < pairs[j].Environment
		}
		return pairs[i].Platform < pairs[j].Platform
	})
	return pairs, nil
}

// EnvPlatform is one (environment, platform) combination.
type EnvPlatform struct {
	Environment string
	Platform    Platform
}

// String renders the pair for error metadata.
func (p EnvPlatform) String() string {
	return p.Environment + "/" + string(p.Platform)
}

// Validate performs manifest-level consistency checks that are fatal before
// any resolution is attempted.
func (m *Manifest) Validate() error {
	declared := make(map[Platform]bool, len(m.Platforms))
	for _, p := range m.Platforms {
		declared[p] = true
	}

	for _, envName := range m.EnvironmentNames() {
		view, err := m.View(envName)
		if err != nil {
			return err
		}
		for _, p := range view.Platforms {
			if !declared[p] {
				return zerr.With(zerr.With(zerr.With(ErrManifestInconsistency,
					"environment", envName),
					"platform", string(p)),
					"reason", "platform not declared at project level",
				)
			}
		}
		for _, spec := range view.CondaSpecs {
			if err := spec.Validate(); err != nil {
				return err
			}
		}
		for _, spec := range view.WheelSpecs {
			if err := spec.Validate(); err != nil {
				return err
			}
		}
		for kind, minimum := range view.SystemRequirements {
			if _, err := goversion.NewVersion(minimum); err != nil {
				return zerr.With(zerr.With(zerr.With(ErrManifestInconsistency,
					"environment", envName),
					"requirement", kind),
					"reason", "unparsable minimum version "+minimum,
				)
			}
		}
		for name, task := range view.Tasks {
			if err := task.Validate(); err != nil {
				return zerr.With(zerr.With(err, "environment", envName), "task", name)
			}
		}
	}
	return nil
}

// SolveGroupOf returns the solve-group key for an environment: its declared
// group, or a private per-environment key so ungrouped environments solve
// alone.
func (m *Manifest) SolveGroupOf(envName string) string {
	if def, ok := m.Environments[envName]; ok && def.SolveGroup != "" {
		return def.SolveGroup
	}
	return "environment:" + envName
}

// MeetsSystemRequirement checks a detected system version against the
// declared minimum using hashicorp/go-version semantics.
func MeetsSystemRequirement(detected, minimum string) (bool, error) {
	have, err := goversion.NewVersion(strings.TrimSpace(detected))
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, "unparsable detected version"), "version", detected)
	}
	want, err := goversion.NewVersion(strings.TrimSpace(minimum))
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, "unparsable minimum version"), "version", minimum)
	}
	return have.GreaterThanOrEqual(want), nil
}
