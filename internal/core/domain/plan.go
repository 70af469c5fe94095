package domain

import (
	"sort"
	"strings"
)

// NodeState is the lifecycle state of one plan node.
//
// Pending -> Skipped | Running -> Succeeded | Failed. Skipped, Succeeded
// and Failed are terminal; a Failed node aborts the whole plan.
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeRunning   NodeState = "running"
	NodeSucceeded NodeState = "succeeded"
	NodeFailed    NodeState = "failed"
	NodeSkipped   NodeState = "skipped"
)

// IsTerminal reports whether the state admits no further transition.
func (s NodeState) IsTerminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeSkipped:
		return true
	default:
		return false
	}
}

// PlanNode is one concrete (task, environment, arguments) unit in a task
// execution plan, with its command already rendered.
type PlanNode struct {
	Task        Task
	Environment string
	Args        map[string]string
	Command     string

	// DependsOn indexes into the owning plan's node list.
	DependsOn []int
}

// ID identifies a node within its plan: same task, environment and
// arguments collapse into a single node so a shared dependency runs once.
func (n *PlanNode) ID() string {
	keys := make([]string, 0, len(n.Args))
	for k := range n.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(n.Environment)
	b.WriteString("::")
	b.WriteString(n.Task.Name)
	for _, k := range keys {
		b.WriteString("::")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(n.Args[k])
	}
	return b.String()
}

// Plan is a dependency-ordered task execution plan: nodes appear after all
// of their dependencies (topological order, dependencies first). Built
// fresh per run request and never persisted.
type Plan struct {
	Nodes []PlanNode
}

// Commands returns the rendered command of every node in execution order,
// as reported by dry runs.
func (p *Plan) Commands() []string {
	out := make([]string, 0, len(p.Nodes))
	for i := range p.Nodes {
		if p.Nodes[i].Command != "" {
			out = append(out, p.Nodes[i].Command)
		}
	}
	return out
}

// RunInfo records the outcome of one executed plan node for fingerprint
// caching: an identical fingerprint on a later run skips execution.
type RunInfo struct {
	Task        string `json:"task"`
	Environment string `json:"environment"`
	Fingerprint string `json:"fingerprint"`
	UnixTime    int64  `json:"unix_time"`
}

// RunInfoKey builds the store key for a (task, environment) pair.
func RunInfoKey(task, environment string) string {
	return environment + "::" + task
}
