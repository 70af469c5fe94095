package domain

import "errors"

// Sentinels are plain errors rather than zerr values: zerr.With upgrades
// a plain error by wrapping it, which keeps the sentinel on the unwrap
// chain, so errors.Is still matches after metadata is attached. A zerr
// sentinel would be copied by With and lose its identity.
var (
	// ErrManifestInconsistency is returned for manifest declarations that
	// can never be satisfied, e.g. a target override for an undeclared
	// platform. Fatal, never retried.
	ErrManifestInconsistency = errors.New("manifest inconsistency")

	// ErrUnknownEnvironment is returned when a requested environment is
	// not declared in the manifest.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrUnknownFeature is returned when an environment references a
	// feature the manifest does not declare.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrUnsatisfiable is returned when the resolver cannot find a
	// feasible assignment; its metadata carries the minimal conflicting
	// spec set.
	ErrUnsatisfiable = errors.New("unsatisfiable dependency constraints")

	// ErrDuplicateRecord is returned when two distinct records collide on
	// the same pool identity key.
	ErrDuplicateRecord = errors.New("duplicate package record")

	// ErrLockVersionTooNew is returned when a lock document declares a
	// format version newer than this tool understands.
	ErrLockVersionTooNew = errors.New("lock file format version too new")

	// ErrCycleDetected is returned when the task dependency graph
	// contains a cycle; its metadata names the cycle's tasks in order.
	ErrCycleDetected = errors.New("task dependency cycle detected")

	// ErrTaskNotFound is returned when no reachable environment defines
	// the requested task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAmbiguousTask is returned when a task name exists in more than
	// one reachable environment and none was selected explicitly.
	ErrAmbiguousTask = errors.New("task is ambiguous across environments")

	// ErrMissingArgument is returned when a required task argument has no
	// value and no default.
	ErrMissingArgument = errors.New("missing required task argument")

	// ErrTooManyArguments is returned when an invocation supplies more
	// positional values than the task declares.
	ErrTooManyArguments = errors.New("too many task arguments")

	// ErrTaskFailed is returned when a plan node's command exits
	// non-zero; metadata carries the command and exit code.
	ErrTaskFailed = errors.New("task execution failed")
)
