package scheduler

import (
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Planner expands one task invocation into a dependency-ordered execution
// plan with every command rendered. The plan is built fresh per request
// and never persisted.
type Planner struct {
	manifest  *domain.Manifest
	templater ports.Templater
}

// NewPlanner creates a Planner over the given manifest.
func NewPlanner(manifest *domain.Manifest, templater ports.Templater) *Planner {
	return &Planner{manifest: manifest, templater: templater}
}

// Plan expands the invocation of taskName in envName with the given
// positional CLI arguments. Dependencies are traversed depth-first; a
// (task, environment, arguments) triple that is reached through several
// edges collapses into a single node, so a shared dependency executes
// once. Nodes are emitted dependencies-first.
func (p *Planner) Plan(taskName, envName string, cliArgs []string) (*domain.Plan, error) {
	e := &expansion{
		planner: p,
		index:   make(map[string]int),
		onPath:  make(map[string]bool),
		views:   make(map[string]domain.EnvironmentView),
	}
	view, err := e.view(envName)
	if err != nil {
		return nil, err
	}
	task, ok := view.Tasks[taskName]
	if !ok {
		return nil, zerr.With(zerr.With(domain.ErrTaskNotFound, "task", taskName), "environment", envName)
	}
	args, err := task.ResolveArgs(cliArgs)
	if err != nil {
		return nil, err
	}

	if _, err := e.visit(task, envName, args); err != nil {
		return nil, err
	}
	return &domain.Plan{Nodes: e.nodes}, nil
}

// expansion is the state of one Plan call.
type expansion struct {
	planner *Planner
	nodes   []domain.PlanNode

	// index maps node IDs to their position in nodes once fully expanded.
	index map[string]int
	// onPath marks node IDs on the current traversal path, path keeps
	// their task names in visit order for cycle reporting.
	onPath map[string]bool
	path   []pathEntry

	// views caches flattened environments for the duration of one plan.
	views map[string]domain.EnvironmentView
}

type pathEntry struct {
	id   string
	name string
}

func (e *expansion) visit(task domain.Task, envName string, args map[string]string) (int, error) {
	node := domain.PlanNode{Task: task, Environment: envName, Args: args}
	id := node.ID()

	if idx, ok := e.index[id]; ok {
		return idx, nil
	}
	if e.onPath[id] {
		return 0, zerr.With(domain.ErrCycleDetected, "cycle", e.cycleFrom(id))
	}
	e.onPath[id] = true
	e.path = append(e.path, pathEntry{id: id, name: task.Name})
	defer func() {
		delete(e.onPath, id)
		e.path = e.path[:len(e.path)-1]
	}()

	var deps []int
	for _, edge := range task.DependsOn {
		depEnv := envName
		if edge.Environment != "" {
			depEnv = edge.Environment
		}
		view, err := e.view(depEnv)
		if err != nil {
			return 0, err
		}
		depTask, ok := view.Tasks[edge.Task]
		if !ok {
			return 0, zerr.With(zerr.With(zerr.With(domain.ErrTaskNotFound,
				"task", edge.Task),
				"environment", depEnv),
				"required_by", task.Name,
			)
		}
		depArgs, err := depTask.MergeArgs(edge.Args, edge.NamedArgs)
		if err != nil {
			return 0, err
		}
		idx, err := e.visit(depTask, depEnv, depArgs)
		if err != nil {
			return 0, err
		}
		deps = append(deps, idx)
	}

	if task.Command != "" {
		rendered, err := e.planner.templater.Render(task.Command, args)
		if err != nil {
			return 0, zerr.With(zerr.With(zerr.Wrap(err, "rendering task command"),
				"task", task.Name),
				"environment", envName,
			)
		}
		node.Command = rendered
	}
	node.DependsOn = deps

	idx := len(e.nodes)
	e.nodes = append(e.nodes, node)
	e.index[id] = idx
	return idx, nil
}

// cycleFrom renders the dependency cycle closing at id, task names in
// traversal order.
func (e *expansion) cycleFrom(id string) string {
	start := 0
	for i, entry := range e.path {
		if entry.id == id {
			start = i
			break
		}
	}
	names := make([]string, 0, len(e.path)-start+1)
	for _, entry := range e.path[start:] {
		names = append(names, entry.name)
	}
	names = append(names, e.path[start].name)
	return strings.Join(names, " -> ")
}

func (e *expansion) view(envName string) (domain.EnvironmentView, error) {
	if v, ok := e.views[envName]; ok {
		return v, nil
	}
	v, err := e.planner.manifest.View(envName)
	if err != nil {
		return domain.EnvironmentView{}, err
	}
	e.views[envName] = v
	return v, nil
}
