package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// cleanEnvAllowlist is the ambient environment kept when a task requests
// a clean environment.
var cleanEnvAllowlist = []string{"HOME", "USER", "SHELL", "TMPDIR", "TERM", "LANG"}

// RunOptions configure the execution of one plan.
type RunOptions struct {
	// Root is the project root. Relative task working directories and
	// input globs resolve against it.
	Root string

	// Parallelism bounds concurrently running nodes. Values below one
	// mean strictly sequential execution, which is the default.
	Parallelism int

	// Force disables fingerprint cache reuse.
	Force bool

	// EnvKeys maps environment names to their installed-package-set
	// identity, folded into every node fingerprint so that re-solving
	// an environment invalidates its tasks.
	EnvKeys map[string]string

	// ActivationEnv maps environment names to the "KEY=VALUE" entries of
	// their activation, layered between the ambient environment and the
	// task's own variables.
	ActivationEnv map[string][]string
}

// Scheduler runs execution plans node by node, dependencies strictly
// before dependents. A failing node aborts the remaining plan; nodes
// already running are allowed to finish.
type Scheduler struct {
	runner    ports.CommandRunner
	resolver  ports.InputResolver
	hasher    ports.Hasher
	templater ports.Templater
	store     ports.RunInfoStore
	telemetry ports.Telemetry
	logger    ports.Logger
}

// New creates a Scheduler.
func New(
	runner ports.CommandRunner,
	resolver ports.InputResolver,
	hasher ports.Hasher,
	templater ports.Templater,
	store ports.RunInfoStore,
	telemetry ports.Telemetry,
	logger ports.Logger,
) *Scheduler {
	return &Scheduler{
		runner:    runner,
		resolver:  resolver,
		hasher:    hasher,
		templater: templater,
		store:     store,
		telemetry: telemetry,
		logger:    logger,
	}
}

// Run executes the plan and returns the final state of every node,
// indexed like plan.Nodes. The error carries the first failure; nodes
// never started remain Pending.
func (s *Scheduler) Run(ctx context.Context, plan *domain.Plan, opts RunOptions) ([]domain.NodeState, error) {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	state := s.newRunState(ctx, plan, opts)

	for !state.done() {
		state.schedule()
		if state.done() {
			break
		}
		if state.aborted {
			// Only drain: no new nodes start after a failure.
			state.handleResult(<-state.resultsCh)
			continue
		}
		select {
		case res := <-state.resultsCh:
			state.handleResult(res)
		case <-ctx.Done():
			state.abort(ctx.Err())
		}
	}

	if err := ctx.Err(); err != nil && !errors.Is(state.errs, err) {
		state.errs = errors.Join(state.errs, err)
	}
	return state.states, state.errs
}

type nodeResult struct {
	idx   int
	state domain.NodeState
	err   error
}

type runState struct {
	s    *Scheduler
	plan *domain.Plan
	opts RunOptions
	ctx  context.Context

	inDegree   []int
	dependents [][]int
	ready      []int
	active     int
	resultsCh  chan nodeResult

	states  []domain.NodeState
	aborted bool
	errs    error
}

func (s *Scheduler) newRunState(ctx context.Context, plan *domain.Plan, opts RunOptions) *runState {
	n := len(plan.Nodes)
	state := &runState{
		s:          s,
		plan:       plan,
		opts:       opts,
		ctx:        ctx,
		inDegree:   make([]int, n),
		dependents: make([][]int, n),
		resultsCh:  make(chan nodeResult, opts.Parallelism),
		states:     make([]domain.NodeState, n),
	}
	for i := range plan.Nodes {
		state.states[i] = domain.NodePending
		state.inDegree[i] = len(plan.Nodes[i].DependsOn)
		for _, dep := range plan.Nodes[i].DependsOn {
			state.dependents[dep] = append(state.dependents[dep], i)
		}
	}
	// Plan order is topological, so degree-zero nodes found in order keep
	// sequential runs deterministic.
	for i := range plan.Nodes {
		if state.inDegree[i] == 0 {
			state.ready = append(state.ready, i)
		}
	}
	return state
}

func (state *runState) done() bool {
	if state.active > 0 {
		return false
	}
	return state.aborted || len(state.ready) == 0
}

func (state *runState) schedule() {
	for len(state.ready) > 0 && state.active < state.opts.Parallelism && !state.aborted {
		idx := state.ready[0]
		state.ready = state.ready[1:]

		state.active++
		state.states[idx] = domain.NodeRunning

		go func(idx int) {
			ns, err := state.s.runNode(state.ctx, &state.plan.Nodes[idx], state.opts)
			state.resultsCh <- nodeResult{idx: idx, state: ns, err: err}
		}(idx)
	}
}

func (state *runState) handleResult(res nodeResult) {
	state.active--
	state.states[res.idx] = res.state

	if res.err != nil {
		node := &state.plan.Nodes[res.idx]
		state.errs = errors.Join(state.errs, zerr.With(zerr.With(res.err,
			"task", node.Task.Name),
			"environment", node.Environment,
		))
		state.abort(nil)
		return
	}
	for _, dep := range state.dependents[res.idx] {
		state.inDegree[dep]--
		if state.inDegree[dep] == 0 {
			state.ready = append(state.ready, dep)
		}
	}
}

func (state *runState) abort(err error) {
	if state.aborted {
		return
	}
	state.aborted = true
	state.ready = nil
	if err != nil {
		state.errs = errors.Join(state.errs, err)
	}
}

// runNode executes one plan node: fingerprint check, then the rendered
// command through the shell runner. Cancellation is observed at the node
// boundary; a node that already started runs to completion.
func (s *Scheduler) runNode(ctx context.Context, node *domain.PlanNode, opts RunOptions) (domain.NodeState, error) {
	if err := ctx.Err(); err != nil {
		return domain.NodePending, err
	}

	ctx, vertex := s.telemetry.Record(ctx, fmt.Sprintf("%s (%s)", node.Task.Name, node.Environment))

	fingerprint, err := s.fingerprint(node, opts)
	if err != nil {
		vertex.Complete(err)
		return domain.NodeFailed, err
	}
	key := domain.RunInfoKey(node.Task.Name, node.Environment)

	if fingerprint != "" && !opts.Force {
		prior, err := s.store.Get(key)
		if err != nil {
			vertex.Complete(err)
			return domain.NodeFailed, err
		}
		if prior != nil && prior.Fingerprint == fingerprint {
			s.logger.Debug("fingerprint unchanged, skipping",
				"task", node.Task.Name, "environment", node.Environment)
			vertex.Cached()
			vertex.Complete(nil)
			return domain.NodeSkipped, nil
		}
	}

	if node.Command != "" {
		env, err := s.buildEnv(node, opts)
		if err != nil {
			vertex.Complete(err)
			return domain.NodeFailed, err
		}
		cwd := opts.Root
		if node.Task.Cwd != "" {
			cwd = filepath.Join(opts.Root, node.Task.Cwd)
		}

		exitCode, err := s.runner.Run(ctx, ports.Command{
			Line:   node.Command,
			Cwd:    cwd,
			Env:    env,
			Stdout: vertex.Stdout(),
			Stderr: vertex.Stderr(),
		})
		if err != nil {
			vertex.Complete(err)
			return domain.NodeFailed, err
		}
		if exitCode != 0 {
			failure := zerr.With(zerr.With(domain.ErrTaskFailed,
				"command", node.Command),
				"exit_code", exitCode,
			)
			vertex.Complete(failure)
			return domain.NodeFailed, failure
		}
	}

	if fingerprint != "" {
		info := domain.RunInfo{
			Task:        node.Task.Name,
			Environment: node.Environment,
			Fingerprint: fingerprint,
			UnixTime:    time.Now().Unix(),
		}
		if err := s.store.Put(key, info); err != nil {
			vertex.Complete(err)
			return domain.NodeFailed, zerr.Wrap(err, "recording run info")
		}
	}

	vertex.Complete(nil)
	return domain.NodeSucceeded, nil
}

// fingerprint computes the cache fingerprint of a node, or "" when the
// task declares no inputs and is therefore never cached.
func (s *Scheduler) fingerprint(node *domain.PlanNode, opts RunOptions) (string, error) {
	if len(node.Task.Inputs) == 0 {
		return "", nil
	}

	patterns := make([]string, 0, len(node.Task.Inputs))
	for _, input := range node.Task.Inputs {
		rendered, err := s.templater.Render(input, node.Args)
		if err != nil {
			return "", zerr.With(zerr.With(zerr.Wrap(err, "rendering task input"),
				"task", node.Task.Name),
				"input", input,
			)
		}
		patterns = append(patterns, rendered)
	}

	files, err := s.resolver.ResolveInputs(patterns, opts.Root)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "resolving task inputs"), "task", node.Task.Name)
	}

	return s.hasher.ComputeFingerprint(opts.Root, files, node.Command, opts.EnvKeys[node.Environment])
}

// buildEnv layers the subprocess environment: ambient (or the clean-env
// allowlist), then the environment's activation, then the task's own
// variables with argument placeholders rendered. Later entries win.
func (s *Scheduler) buildEnv(node *domain.PlanNode, opts RunOptions) ([]string, error) {
	var env []string
	if node.Task.CleanEnv {
		for _, key := range cleanEnvAllowlist {
			if value, ok := os.LookupEnv(key); ok {
				env = append(env, key+"="+value)
			}
		}
	} else {
		env = append(env, os.Environ()...)
	}

	env = append(env, opts.ActivationEnv[node.Environment]...)

	keys := make([]string, 0, len(node.Task.Env))
	for key := range node.Task.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rendered, err := s.templater.Render(node.Task.Env[key], node.Args)
		if err != nil {
			return nil, zerr.With(zerr.With(zerr.Wrap(err, "rendering task environment variable"),
				"task", node.Task.Name),
				"variable", key,
			)
		}
		env = append(env, key+"="+rendered)
	}
	return env, nil
}

// ExitCode extracts the subprocess exit code from a scheduler error, or
// fallback when the error does not carry one.
func ExitCode(err error, fallback int) int {
	if err == nil {
		return 0
	}
	if code, ok := findExitCode(err); ok {
		return code
	}
	return fallback
}

func findExitCode(err error) (int, bool) {
	if zErr, ok := err.(*zerr.Error); ok {
		if code, ok := zErr.Metadata()["exit_code"].(int); ok {
			return code, true
		}
	}
	switch wrapped := err.(type) {
	case interface{ Unwrap() error }:
		if inner := wrapped.Unwrap(); inner != nil {
			return findExitCode(inner)
		}
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			if code, ok := findExitCode(inner); ok {
				return code, true
			}
		}
	}
	return 0, false
}
