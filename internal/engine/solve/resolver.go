// Package solve implements the dependency resolver: it turns the manifest's
// declared specs for every unsatisfied (environment, platform) pair into a
// consistent set of pinned package records and assembles an updated lock
// document. Satisfied pairs carry over untouched unless they share a solve
// group with an unsatisfied one, in which case the group re-solves whole.
package solve

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sort"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Resolver computes lock entries for unsatisfied pairs against a snapshot
// package universe.
type Resolver struct {
	universe  ports.Universe
	hasher    ports.Hasher
	logger    ports.Logger
	telemetry ports.Telemetry

	maxParallel int
	visitBudget int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxParallel bounds how many solve groups run concurrently.
func WithMaxParallel(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxParallel = n
		}
	}
}

// WithTelemetry records a progress vertex per solve group.
func WithTelemetry(t ports.Telemetry) Option {
	return func(r *Resolver) {
		r.telemetry = t
	}
}

// WithVisitBudget bounds the backtracking search per solve problem.
func WithVisitBudget(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.visitBudget = n
		}
	}
}

// New creates a Resolver.
func New(universe ports.Universe, hasher ports.Hasher, logger ports.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		universe:    universe,
		hasher:      hasher,
		logger:      logger,
		maxParallel: runtime.NumCPU(),
		visitBudget: 200_000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve solves every unsatisfied pair and returns a new lock document.
// Pairs outside the unsatisfied set are carried over unchanged from prev,
// except solve-group siblings of an unsatisfied pair: the whole group
// re-solves as one constraint problem so its members keep resolving each
// shared package to the identical record. The input document is never
// mutated; distinct groups are independent and run concurrently.
func (r *Resolver) Resolve(ctx context.Context, manifest *domain.Manifest, unsatisfied []domain.EnvPlatform, prev *domain.LockDocument) (*domain.LockDocument, error) {
	groups, err := buildGroups(manifest, unsatisfied)
	if err != nil {
		return nil, err
	}

	out := domain.NewLockDocument()
	if prev != nil {
		out = prev.Clone()
	}
	out.Version = domain.LockFormatVersion

	solutions := make([]*groupSolution, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.maxParallel)
	for i, g := range groups {
		eg.Go(func() error {
			r.logger.Debug("solving group",
				"group", g.key,
				"platform", string(g.platform),
				"environments", len(g.envs),
			)
			groupCtx := egCtx
			var vertex ports.Vertex
			if r.telemetry != nil {
				groupCtx, vertex = r.telemetry.Record(egCtx, "solve "+g.key+" ("+string(g.platform)+")")
			}
			solution, err := r.solveGroup(groupCtx, g, prev)
			if vertex != nil {
				vertex.Complete(err)
			}
			if err != nil {
				return err
			}
			solutions[i] = solution
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Merging is conflict-free: identity keys dedupe pool records and each
	// group owns disjoint (environment, platform) entries. Done serially
	// for deterministic output.
	for i, solution := range solutions {
		if err := mergeSolution(out, groups[i], solution); err != nil {
			return nil, err
		}
	}
	out.GC()
	return out, nil
}

// groupProblem is one independent constraint problem: all environments that
// share a solve group on one platform.
type groupProblem struct {
	key      string
	platform domain.Platform
	channels []domain.Channel
	pin      domain.PinStrategy
	envs     []envInput

	// declared is set for manifest solve groups, as opposed to the
	// synthetic single-environment groups.
	declared bool
}

type envInput struct {
	name     string
	channels []domain.Channel
	conda    []domain.PackageSpec
	wheel    []domain.PackageSpec
}

// buildGroups partitions the unsatisfied pairs into solve problems. An
// environment without a declared solve group forms a group of its own. A
// declared solve group always re-solves with every member on the platform
// present, satisfied or not: members constrain each other, and dropping a
// satisfied one would let the re-solved rest drift away from its records.
func buildGroups(manifest *domain.Manifest, unsatisfied []domain.EnvPlatform) ([]*groupProblem, error) {
	type groupID struct {
		key      string
		platform domain.Platform
	}
	byID := make(map[groupID]*groupProblem)

	for _, pair := range unsatisfied {
		view, err := manifest.View(pair.Environment)
		if err != nil {
			return nil, err
		}
		key := manifest.SolveGroupOf(pair.Environment)
		declared := key != ""
		if !declared {
			key = "environment:" + pair.Environment
		}
		id := groupID{key: key, platform: pair.Platform}
		g, ok := byID[id]
		if !ok {
			g = &groupProblem{key: key, platform: pair.Platform, pin: manifest.PinStrategy, declared: declared}
			byID[id] = g
		}
		g.channels = unionChannels(g.channels, view.Channels)
		g.envs = append(g.envs, envInput{
			name:     pair.Environment,
			channels: view.Channels,
			conda:    view.CondaSpecs,
			wheel:    view.WheelSpecs,
		})
	}

	for id, g := range byID {
		if !g.declared {
			continue
		}
		present := make(map[string]bool, len(g.envs))
		for _, env := range g.envs {
			present[env.name] = true
		}
		for _, envName := range manifest.EnvironmentNames() {
			if present[envName] || manifest.SolveGroupOf(envName) != id.key {
				continue
			}
			view, err := manifest.View(envName)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(view.Platforms, id.platform) {
				continue
			}
			g.channels = unionChannels(g.channels, view.Channels)
			g.envs = append(g.envs, envInput{
				name:     envName,
				channels: view.Channels,
				conda:    view.CondaSpecs,
				wheel:    view.WheelSpecs,
			})
		}
	}

	groups := make([]*groupProblem, 0, len(byID))
	for _, g := range byID {
		sort.Slice(g.envs, func(i, j int) bool { return g.envs[i].name < g.envs[j].name })
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].key != groups[j].key {
			return groups[i].key < groups[j].key
		}
		return groups[i].platform < groups[j].platform
	})
	return groups, nil
}

func unionChannels(base, extra []domain.Channel) []domain.Channel {
	out := append([]domain.Channel(nil), base...)
	for _, ch := range extra {
		present := false
		for _, have := range out {
			if have.Name == ch.Name {
				present = true
				break
			}
		}
		if !present {
			out = append(out, ch)
		}
	}
	return out
}

// groupSolution is the solved record set for one group, both ecosystems.
type groupSolution struct {
	conda map[string]*domain.PackageRecord
	wheel map[string]*domain.PackageRecord
	// providedBy maps a wheel distribution name to the conda record that
	// already provides it, so projections can follow the layering edge.
	providedBy map[string]*domain.PackageRecord
}

// solveGroup solves the conda ecosystem for the whole group first, freezes
// that result, then layers the wheel ecosystem on top of it.
func (r *Resolver) solveGroup(ctx context.Context, g *groupProblem, prev *domain.LockDocument) (*groupSolution, error) {
	prevRecords := previousRecords(prev, g)

	condaRoots := unionSpecs(g.envs, domain.EcosystemConda)
	condaSel, err := r.solveEcosystem(ctx, g, domain.EcosystemConda, condaRoots, nil, prevRecords)
	if err != nil {
		return nil, err
	}

	providedBy := purlIndex(condaSel)

	wheelRoots := unionSpecs(g.envs, domain.EcosystemWheel)
	wheelSel, err := r.solveEcosystem(ctx, g, domain.EcosystemWheel, wheelRoots, providedBy, prevRecords)
	if err != nil {
		return nil, err
	}

	return &groupSolution{conda: condaSel, wheel: wheelSel, providedBy: providedBy}, nil
}

func (r *Resolver) solveEcosystem(
	ctx context.Context,
	g *groupProblem,
	eco domain.Ecosystem,
	roots map[string][]domain.PackageSpec,
	providedBy map[string]*domain.PackageRecord,
	prevRecords map[domain.Ecosystem]map[string]*domain.PackageRecord,
) (map[string]*domain.PackageRecord, error) {
	if len(roots) == 0 {
		return map[string]*domain.PackageRecord{}, nil
	}

	editable, solvable, err := r.splitEditable(g, eco, roots)
	if err != nil {
		return nil, err
	}

	s := newSolver(r.universe, g, eco, providedBy, prevRecords[eco], r.visitBudget)
	selected, err := s.solve(ctx, solvable)
	if err != nil {
		if errors.Is(err, domain.ErrUnsatisfiable) {
			conflict := r.minimizeConflict(ctx, g, eco, providedBy, prevRecords[eco], solvable)
			return nil, zerr.With(zerr.With(zerr.With(err,
				"group", g.key),
				"platform", string(g.platform)),
				"conflicting_specs", formatSpecs(conflict),
			)
		}
		return nil, err
	}
	for name, rec := range editable {
		selected[name] = rec
	}
	return selected, nil
}

// splitEditable peels source-location specs off the solvable set and turns
// each into a record directly: a source dependency carries its own identity
// and never competes with registry candidates.
func (r *Resolver) splitEditable(g *groupProblem, eco domain.Ecosystem, roots map[string][]domain.PackageSpec) (map[string]*domain.PackageRecord, map[string][]domain.PackageSpec, error) {
	editable := make(map[string]*domain.PackageRecord)
	solvable := make(map[string][]domain.PackageSpec, len(roots))
	for name, specs := range roots {
		var src *domain.SourceLocation
		for i := range specs {
			if specs[i].Source != nil {
				src = specs[i].Source
				break
			}
		}
		if src == nil {
			solvable[name] = specs
			continue
		}
		if src.Kind != domain.SourcePath {
			// Git sources are fetched and pinned by ref; no content hash
			// to track.
			editable[name] = &domain.PackageRecord{
				Ecosystem: eco,
				Name:      domain.NewInternedString(name),
				Version:   domain.MustParseVersion("0.0.0"),
				Subdir:    g.platform,
				URL:       src.GitURL,
			}
			continue
		}
		hash, err := r.hasher.HashTree(src.Path)
		if err != nil {
			return nil, nil, zerr.Wrap(err, "hashing editable source")
		}
		editable[name] = &domain.PackageRecord{
			Ecosystem:    eco,
			Name:         domain.NewInternedString(name),
			Version:      domain.MustParseVersion("0.0.0"),
			Subdir:       g.platform,
			EditablePath: src.Path,
			ContentHash:  hash,
		}
	}
	return editable, solvable, nil
}

// unionSpecs collects every root spec across the group's environments,
// keyed by package name. All specs for a name apply simultaneously; that is
// exactly the solve-group identity constraint.
func unionSpecs(envs []envInput, eco domain.Ecosystem) map[string][]domain.PackageSpec {
	out := make(map[string][]domain.PackageSpec)
	for _, env := range envs {
		specs := env.conda
		if eco == domain.EcosystemWheel {
			specs = env.wheel
		}
		for _, spec := range specs {
			out[spec.Name.String()] = append(out[spec.Name.String()], spec)
		}
	}
	return out
}

// purlIndex maps wheel distribution names to the conda records that already
// provide them.
func purlIndex(selected map[string]*domain.PackageRecord) map[string]*domain.PackageRecord {
	out := make(map[string]*domain.PackageRecord)
	for _, rec := range selected {
		for _, id := range rec.PurlIDs {
			out[purlName(id)] = rec
		}
	}
	return out
}

// purlName extracts the distribution name from an identity marker like
// "pypi/numpy".
func purlName(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			return id[i+1:]
		}
	}
	return id
}

// previousRecords indexes the previous lock's records for the group's
// environments by ecosystem and name, for pin strategy windows.
func previousRecords(prev *domain.LockDocument, g *groupProblem) map[domain.Ecosystem]map[string]*domain.PackageRecord {
	out := map[domain.Ecosystem]map[string]*domain.PackageRecord{
		domain.EcosystemConda: {},
		domain.EcosystemWheel: {},
	}
	if prev == nil {
		return out
	}
	for _, env := range g.envs {
		records, err := prev.EntryRecords(env.name, g.platform)
		if err != nil {
			continue
		}
		for _, rec := range records {
			byName := out[rec.Ecosystem]
			if _, ok := byName[rec.Name.String()]; !ok {
				byName[rec.Name.String()] = rec
			}
		}
	}
	return out
}

func formatSpecs(specs []domain.PackageSpec) string {
	strs := make([]string, len(specs))
	for i := range specs {
		strs[i] = specs[i].String()
	}
	sort.Strings(strs)
	out := ""
	for i, s := range strs {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}
