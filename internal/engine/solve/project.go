package solve

import (
	"sort"

	"go.trai.ch/kiln/internal/core/domain"
)

// mergeSolution projects the group solution onto each of the group's
// environments and writes the resulting entries into the output document.
// An environment receives only the records reachable from its own root
// specs, so environments in one solve group agree on shared packages
// without inheriting each other's extras.
func mergeSolution(out *domain.LockDocument, g *groupProblem, solution *groupSolution) error {
	for _, env := range g.envs {
		records := reachableRecords(env, solution)

		entry := domain.LockEntry{Channels: env.channels}
		for _, rec := range records {
			if err := out.AddRecord(rec); err != nil {
				return err
			}
			entry.Packages = append(entry.Packages, rec.Key())
		}
		if err := out.SetEntry(env.name, g.platform, entry); err != nil {
			return err
		}
	}
	return nil
}

// reachableRecords walks the dependency closure of an environment's root
// specs through the solved record set, following the wheel-to-conda
// layering edge for distributions a conda record provides.
func reachableRecords(env envInput, solution *groupSolution) []*domain.PackageRecord {
	included := make(map[domain.RecordKey]*domain.PackageRecord)

	var visitConda func(name string)
	visitConda = func(name string) {
		rec, ok := solution.conda[name]
		if !ok {
			return
		}
		key := rec.Key()
		if _, seen := included[key]; seen {
			return
		}
		included[key] = rec
		for _, depStr := range rec.Depends {
			if spec, err := domain.ParseDependsString(depStr, domain.EcosystemConda); err == nil {
				visitConda(spec.Name.String())
			}
		}
	}

	var visitWheel func(name string)
	visitWheel = func(name string) {
		if provider, ok := solution.providedBy[name]; ok {
			visitConda(provider.Name.String())
			return
		}
		rec, ok := solution.wheel[name]
		if !ok {
			return
		}
		key := rec.Key()
		if _, seen := included[key]; seen {
			return
		}
		included[key] = rec
		for _, depStr := range rec.Depends {
			if spec, err := domain.ParseDependsString(depStr, domain.EcosystemWheel); err == nil {
				visitWheel(spec.Name.String())
			}
		}
	}

	for _, spec := range env.conda {
		visitConda(spec.Name.String())
	}
	for _, spec := range env.wheel {
		visitWheel(spec.Name.String())
	}

	records := make([]*domain.PackageRecord, 0, len(included))
	for _, rec := range included {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Ecosystem != b.Ecosystem {
			return a.Ecosystem < b.Ecosystem
		}
		if a.Name.String() != b.Name.String() {
			return a.Name.String() < b.Name.String()
		}
		return a.Key().String() < b.Key().String()
	})
	return records
}
