package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// TaskArg is a declared task argument, optionally with a default value.
type TaskArg struct {
	Name       string
	Default    string
	HasDefault bool
}

// TaskDepRef is one dependency edge of a task: the referenced task, an
// optional environment override taking precedence over the ambient
// environment, and optional argument values. Args binds positionally,
// NamedArgs binds by declared argument name; an edge may carry either
// form.
type TaskDepRef struct {
	Task        string
	Environment string
	Args        []string
	NamedArgs   map[string]string
}

// Task is a user-defined unit of work: a command template executed through
// the portable shell, with declared arguments, cache inputs/outputs and
// dependency edges. A task belongs to exactly one feature and becomes
// reachable from every environment that includes it.
type Task struct {
	Name        string
	Command     string
	Cwd         string
	Env         map[string]string
	Args        []TaskArg
	DependsOn   []TaskDepRef
	Inputs      []string
	Outputs     []string
	CleanEnv    bool
	Description string
}

// Validate enforces the structural task invariants: a runnable body and
// well-formed argument names. The minus character is reserved by the
// template expression syntax, so it cannot appear in argument names.
func (t *Task) Validate() error {
	if t.Name == "" {
		return zerr.New("task has no name")
	}
	if t.Command == "" && len(t.DependsOn) == 0 {
		return zerr.With(zerr.New("task has neither command nor dependencies"), "task", t.Name)
	}

	seenDefault := false
	for _, arg := range t.Args {
		if !isValidArgName(arg.Name) {
			return zerr.With(zerr.With(zerr.New("invalid task argument name"),
				"task", t.Name),
				"argument", arg.Name,
			)
		}
		if arg.HasDefault {
			seenDefault = true
		} else if seenDefault {
			return zerr.With(zerr.With(zerr.New("required argument after argument with default"),
				"task", t.Name),
				"argument", arg.Name,
			)
		}
	}
	return nil
}

func isValidArgName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ResolveArgs binds positional values to the declared arguments, falling
// back to defaults. Missing required arguments are a configuration error;
// surplus values are rejected.
func (t *Task) ResolveArgs(values []string) (map[string]string, error) {
	if len(values) > len(t.Args) {
		return nil, zerr.With(zerr.With(zerr.With(ErrTooManyArguments,
			"task", t.Name),
			"declared", len(t.Args)),
			"given", len(values),
		)
	}
	resolved := make(map[string]string, len(t.Args))
	for i, arg := range t.Args {
		switch {
		case i < len(values):
			resolved[arg.Name] = values[i]
		case arg.HasDefault:
			resolved[arg.Name] = arg.Default
		default:
			return nil, zerr.With(zerr.With(ErrMissingArgument, "task", t.Name), "argument", arg.Name)
		}
	}
	return resolved, nil
}

// MergeArgs applies a dependency edge's partial override on top of the
// dependency task's own defaults. Positional values bind in declaration
// order and named values bind by argument name, with named taking
// precedence; arguments the edge leaves unspecified fall back to their
// defaults.
func (t *Task) MergeArgs(positional []string, named map[string]string) (map[string]string, error) {
	if len(positional) > len(t.Args) {
		return nil, zerr.With(zerr.With(zerr.With(ErrTooManyArguments,
			"task", t.Name),
			"declared", len(t.Args)),
			"given", len(positional),
		)
	}
	declared := make(map[string]bool, len(t.Args))
	for _, arg := range t.Args {
		declared[arg.Name] = true
	}
	for name := range named {
		if !declared[name] {
			return nil, zerr.With(zerr.With(zerr.New("dependency names an undeclared argument"),
				"task", t.Name),
				"argument", name,
			)
		}
	}

	resolved := make(map[string]string, len(t.Args))
	for i, arg := range t.Args {
		value, overridden := named[arg.Name]
		switch {
		case overridden:
			resolved[arg.Name] = value
		case i < len(positional):
			resolved[arg.Name] = positional[i]
		case arg.HasDefault:
			resolved[arg.Name] = arg.Default
		default:
			return nil, zerr.With(zerr.With(ErrMissingArgument, "task", t.Name), "argument", arg.Name)
		}
	}
	return resolved, nil
}

// ArgNames returns the declared argument names in order.
func (t *Task) ArgNames() []string {
	names := make([]string, len(t.Args))
	for i, arg := range t.Args {
		names[i] = arg.Name
	}
	return names
}

// DisplayCommand is a single-line command preview for listings.
func (t *Task) DisplayCommand() string {
	return strings.Join(strings.Fields(t.Command), " ")
}
