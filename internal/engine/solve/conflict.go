package solve

import (
	"context"
	"errors"
	"sort"

	"go.trai.ch/kiln/internal/core/domain"
)

// minimizeConflict extracts a minimal subset of root specs whose
// simultaneous presence is unsatisfiable, by deletion: drop one spec at a
// time and keep the drop whenever the remainder still fails to solve. The
// result is minimal in the sense that removing any single remaining spec
// makes the problem solvable.
func (r *Resolver) minimizeConflict(
	ctx context.Context,
	g *groupProblem,
	eco domain.Ecosystem,
	providedBy map[string]*domain.PackageRecord,
	prev map[string]*domain.PackageRecord,
	roots map[string][]domain.PackageSpec,
) []domain.PackageSpec {
	kept := flattenSpecs(roots)

	// Each trial re-runs the solver on a smaller problem; a reduced budget
	// keeps pathological cases from multiplying the original search cost.
	budget := r.visitBudget / 10
	if budget < 1000 {
		budget = 1000
	}

	for i := 0; i < len(kept); {
		if ctx.Err() != nil {
			break
		}
		trial := make([]domain.PackageSpec, 0, len(kept)-1)
		trial = append(trial, kept[:i]...)
		trial = append(trial, kept[i+1:]...)

		if r.stillUnsatisfiable(ctx, g, eco, providedBy, prev, trial, budget) {
			kept = trial
		} else {
			i++
		}
	}
	return kept
}

func (r *Resolver) stillUnsatisfiable(
	ctx context.Context,
	g *groupProblem,
	eco domain.Ecosystem,
	providedBy map[string]*domain.PackageRecord,
	prev map[string]*domain.PackageRecord,
	flat []domain.PackageSpec,
	budget int,
) bool {
	roots := make(map[string][]domain.PackageSpec)
	for _, spec := range flat {
		name := spec.Name.String()
		roots[name] = append(roots[name], spec)
	}
	s := newSolver(r.universe, g, eco, providedBy, prev, budget)
	_, err := s.solve(ctx, roots)
	// A budget-exhausted trial counts as solvable: dropping the spec is
	// only justified when the remainder provably still conflicts.
	return err != nil && errors.Is(err, domain.ErrUnsatisfiable)
}

func flattenSpecs(roots map[string][]domain.PackageSpec) []domain.PackageSpec {
	var flat []domain.PackageSpec
	for _, specs := range roots {
		flat = append(flat, specs...)
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].String() < flat[j].String() })
	return flat
}
