// Package scheduler implements the task engine: name lookup across
// environments, expansion of a task invocation into a dependency-ordered
// plan, and execution of that plan through the shell runner with
// fingerprint-based caching.
package scheduler

import (
	"sort"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// LookupKind tags the outcome of a task name lookup.
type LookupKind int

const (
	// LookupNotFound means no reachable environment defines the task.
	LookupNotFound LookupKind = iota
	// LookupUnique means exactly one (task, environment) candidate matched.
	LookupUnique
	// LookupAmbiguous means the name matched distinct task definitions in
	// more than one environment and no explicit environment was selected.
	// The caller decides how to disambiguate; this package never guesses.
	LookupAmbiguous
)

// TaskRef names one (task, environment) lookup candidate.
type TaskRef struct {
	Task        string
	Environment string
}

// LookupResult is the outcome of LookupTask. Task and Environment are set
// for LookupUnique; Candidates is set for LookupAmbiguous.
type LookupResult struct {
	Kind        LookupKind
	Task        domain.Task
	Environment string
	Candidates  []TaskRef
}

// LookupTask resolves a task name against the manifest. With an explicit
// environment the search is confined to that environment. Without one,
// every declared environment is searched: a single hit is unique, and a
// name whose hits all share one identical definition resolves to the
// default environment when that environment is among the hits. Anything
// else with multiple hits is ambiguous.
func LookupTask(manifest *domain.Manifest, name, explicitEnv string) (LookupResult, error) {
	if explicitEnv != "" {
		view, err := manifest.View(explicitEnv)
		if err != nil {
			return LookupResult{}, err
		}
		task, ok := view.Tasks[name]
		if !ok {
			return LookupResult{Kind: LookupNotFound}, nil
		}
		return LookupResult{Kind: LookupUnique, Task: task, Environment: explicitEnv}, nil
	}

	type hit struct {
		env  string
		task domain.Task
	}
	var hits []hit
	for _, envName := range manifest.EnvironmentNames() {
		view, err := manifest.View(envName)
		if err != nil {
			return LookupResult{}, zerr.Wrap(err, "flattening environment during task lookup")
		}
		if task, ok := view.Tasks[name]; ok {
			hits = append(hits, hit{env: envName, task: task})
		}
	}

	switch len(hits) {
	case 0:
		return LookupResult{Kind: LookupNotFound}, nil
	case 1:
		return LookupResult{Kind: LookupUnique, Task: hits[0].task, Environment: hits[0].env}, nil
	}

	// A task contributed by a shared feature surfaces in every environment
	// that includes the feature. When all hits carry the same definition
	// there is a single definition site, so preferring the default
	// environment is resolution, not guessing.
	identical := true
	for _, h := range hits[1:] {
		if !tasksEqual(h.task, hits[0].task) {
			identical = false
			break
		}
	}
	if identical {
		for _, h := range hits {
			if h.env == domain.DefaultEnvironmentName {
				return LookupResult{Kind: LookupUnique, Task: h.task, Environment: h.env}, nil
			}
		}
	}

	candidates := make([]TaskRef, len(hits))
	for i, h := range hits {
		candidates[i] = TaskRef{Task: name, Environment: h.env}
	}
	return LookupResult{Kind: LookupAmbiguous, Candidates: candidates}, nil
}

func tasksEqual(a, b domain.Task) bool {
	if a.Name != b.Name || a.Command != b.Command || a.Cwd != b.Cwd ||
		a.CleanEnv != b.CleanEnv || a.Description != b.Description {
		return false
	}
	if len(a.Env) != len(b.Env) || len(a.Args) != len(b.Args) ||
		len(a.DependsOn) != len(b.DependsOn) ||
		len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return false
	}
	for k, v := range a.Env {
		if b.Env[k] != v {
			return false
		}
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	for i := range a.DependsOn {
		ad, bd := a.DependsOn[i], b.DependsOn[i]
		if ad.Task != bd.Task || ad.Environment != bd.Environment {
			return false
		}
		if len(ad.Args) != len(bd.Args) || len(ad.NamedArgs) != len(bd.NamedArgs) {
			return false
		}
		for j := range ad.Args {
			if ad.Args[j] != bd.Args[j] {
				return false
			}
		}
		for k, v := range ad.NamedArgs {
			if bd.NamedArgs[k] != v {
				return false
			}
		}
	}
	for i := range a.Inputs {
		if a.Inputs[i] != b.Inputs[i] {
			return false
		}
	}
	for i := range a.Outputs {
		if a.Outputs[i] != b.Outputs[i] {
			return false
		}
	}
	return true
}

// ListTasks returns every (task, environment) pair reachable from the
// manifest, sorted by task name then environment.
func ListTasks(manifest *domain.Manifest) ([]TaskRef, error) {
	var refs []TaskRef
	for _, envName := range manifest.EnvironmentNames() {
		view, err := manifest.View(envName)
		if err != nil {
			return nil, err
		}
		for name := range view.Tasks {
			refs = append(refs, TaskRef{Task: name, Environment: envName})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Task != refs[j].Task {
			return refs[i].Task < refs[j].Task
		}
		return refs[i].Environment < refs[j].Environment
	})
	return refs, nil
}
