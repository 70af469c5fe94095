package solve

import (
	"context"
	"errors"
	"sort"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// errBudgetExhausted aborts a search that grew beyond the visit budget.
// Unlike an unsatisfiable result it is a hard failure, not a verdict.
var errBudgetExhausted = errors.New("solver visit budget exhausted")

// solver is one backtracking search over a single ecosystem of a group
// problem. It is single-use and not safe for concurrent calls.
type solver struct {
	universe ports.Universe
	group    *groupProblem
	eco      domain.Ecosystem

	// providedBy is the frozen conda layer during the wheel phase: wheel
	// requirements whose distribution a conda record already provides are
	// satisfied without selecting anything.
	providedBy map[string]*domain.PackageRecord
	prev       map[string]*domain.PackageRecord

	budget int
	visits int

	selected    map[string]*domain.PackageRecord
	constraints map[string][]domain.PackageSpec
	restricts   map[string][]domain.PackageSpec
	candCache   map[string][]*domain.PackageRecord
}

func newSolver(
	universe ports.Universe,
	group *groupProblem,
	eco domain.Ecosystem,
	providedBy map[string]*domain.PackageRecord,
	prev map[string]*domain.PackageRecord,
	budget int,
) *solver {
	return &solver{
		universe:    universe,
		group:       group,
		eco:         eco,
		providedBy:  providedBy,
		prev:        prev,
		budget:      budget,
		selected:    make(map[string]*domain.PackageRecord),
		constraints: make(map[string][]domain.PackageSpec),
		restricts:   make(map[string][]domain.PackageSpec),
		candCache:   make(map[string][]*domain.PackageRecord),
	}
}

// solve runs the search from the given root specs and returns the selected
// record per package name. Failure to find any feasible assignment returns
// ErrUnsatisfiable; the caller owns conflict minimization.
func (s *solver) solve(ctx context.Context, roots map[string][]domain.PackageSpec) (map[string]*domain.PackageRecord, error) {
	pending := make([]string, 0, len(roots))
	for name, specs := range roots {
		s.constraints[name] = append(s.constraints[name], specs...)
		pending = append(pending, name)
	}
	sort.Strings(pending)

	if err := s.step(ctx, pending); err != nil {
		return nil, err
	}
	return s.selected, nil
}

// step selects a record for the first pending name and recurses. The search
// is depth-first over candidate orderings, which combined with the sorted
// pending queue and the deterministic candidate preference makes the whole
// solve reproducible for a given universe snapshot.
func (s *solver) step(ctx context.Context, pending []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	s.visits++
	if s.visits > s.budget {
		return zerr.With(errBudgetExhausted, "group", s.group.key)
	}

	name := pending[0]
	rest := pending[1:]

	if _, ok := s.selected[name]; ok {
		return s.step(ctx, rest)
	}
	if provided, ok := s.providedBy[name]; ok {
		// The conda layer already provides this distribution; the wheel
		// phase may not override it, only accept or reject it.
		for _, spec := range s.constraints[name] {
			if spec.HasVersion() && !spec.Version.Matches(provided.Version) {
				return zerr.With(zerr.With(domain.ErrUnsatisfiable,
					"package", name),
					"provided_by", provided.Key().String(),
				)
			}
		}
		return s.step(ctx, rest)
	}

	candidates, err := s.candidates(ctx, name)
	if err != nil {
		return err
	}

	for _, cand := range candidates {
		undo, next, ok := s.apply(name, cand, rest)
		if !ok {
			undo()
			continue
		}
		err := s.step(ctx, next)
		if err == nil {
			return nil
		}
		undo()
		if !errors.Is(err, domain.ErrUnsatisfiable) {
			return err
		}
	}

	return zerr.With(domain.ErrUnsatisfiable, "package", name)
}

// candidates queries the universe once per name, then filters by the
// currently accumulated constraints and orders by preference.
func (s *solver) candidates(ctx context.Context, name string) ([]*domain.PackageRecord, error) {
	raw, ok := s.candCache[name]
	if !ok {
		var err error
		raw, err = s.universe.Query(ctx, s.group.channels, s.group.platform, s.eco, name)
		if err != nil {
			return nil, err
		}
		s.candCache[name] = raw
	}

	feasible := make([]*domain.PackageRecord, 0, len(raw))
	for _, cand := range raw {
		if s.feasible(name, cand) {
			feasible = append(feasible, cand)
		}
	}
	return orderCandidates(feasible, s.prev[name], s.group.pin), nil
}

func (s *solver) feasible(name string, cand *domain.PackageRecord) bool {
	for _, spec := range s.constraints[name] {
		if !spec.Matches(cand) {
			return false
		}
	}
	for _, spec := range s.restricts[name] {
		if !spec.Matches(cand) {
			return false
		}
	}
	return true
}

// apply selects cand for name, folds its depends and constrains clauses
// into the solver state, and returns the extended pending queue. ok is
// false when the candidate immediately contradicts an existing selection;
// the returned undo reverts everything either way.
func (s *solver) apply(name string, cand *domain.PackageRecord, rest []string) (undo func(), next []string, ok bool) {
	priorConstraints := make(map[string]int)
	priorRestricts := make(map[string]int)
	s.selected[name] = cand

	undo = func() {
		delete(s.selected, name)
		for dep, n := range priorConstraints {
			s.constraints[dep] = s.constraints[dep][:n]
		}
		for dep, n := range priorRestricts {
			s.restricts[dep] = s.restricts[dep][:n]
		}
	}

	inQueue := make(map[string]bool, len(rest))
	for _, n := range rest {
		inQueue[n] = true
	}
	next = append([]string(nil), rest...)

	for _, depStr := range cand.Depends {
		spec, err := domain.ParseDependsString(depStr, s.eco)
		if err != nil {
			return undo, nil, false
		}
		dep := spec.Name.String()

		if provided, isProvided := s.providedBy[dep]; isProvided {
			if spec.HasVersion() && !spec.Version.Matches(provided.Version) {
				return undo, nil, false
			}
			continue
		}
		if chosen, isChosen := s.selected[dep]; isChosen {
			if !spec.Matches(chosen) {
				return undo, nil, false
			}
			continue
		}

		if _, tracked := priorConstraints[dep]; !tracked {
			priorConstraints[dep] = len(s.constraints[dep])
		}
		s.constraints[dep] = append(s.constraints[dep], spec)
		if !inQueue[dep] {
			inQueue[dep] = true
			next = insertSorted(next, dep)
		}
	}

	for _, conStr := range cand.Constrains {
		spec, err := domain.ParseDependsString(conStr, s.eco)
		if err != nil {
			return undo, nil, false
		}
		dep := spec.Name.String()

		// Constrains restrict a package if it is selected but never pull
		// it in.
		if chosen, isChosen := s.selected[dep]; isChosen {
			if !spec.Matches(chosen) {
				return undo, nil, false
			}
		}
		if _, tracked := priorRestricts[dep]; !tracked {
			priorRestricts[dep] = len(s.restricts[dep])
		}
		s.restricts[dep] = append(s.restricts[dep], spec)
	}

	return undo, next, true
}

func insertSorted(queue []string, name string) []string {
	i := sort.SearchStrings(queue, name)
	queue = append(queue, "")
	copy(queue[i+1:], queue[i:])
	queue[i] = name
	return queue
}
