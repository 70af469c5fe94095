// Package app implements the application layer for kiln: it composes the
// checker, the resolver and the task engine into the operations the CLI
// exposes.
package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/kiln/internal/adapters/lockfile" //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/adapters/watcher"  //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/satisfy"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.trai.ch/kiln/internal/engine/solve"
	"go.trai.ch/zerr"
)

// App wires the manifest, the lock file and the engines into the
// operations the CLI exposes.
type App struct {
	manifests ports.ManifestLoader
	locks     ports.LockStore
	checker   *satisfy.Checker
	resolver  *solve.Resolver
	scheduler *scheduler.Scheduler
	templater ports.Templater
	watcher   ports.Watcher
	tracer    ports.Tracer
	logger    ports.Logger
}

// New creates a new App instance.
func New(
	manifests ports.ManifestLoader,
	locks ports.LockStore,
	checker *satisfy.Checker,
	resolver *solve.Resolver,
	sched *scheduler.Scheduler,
	templater ports.Templater,
	watch ports.Watcher,
	tracer ports.Tracer,
	logger ports.Logger,
) *App {
	return &App{
		manifests: manifests,
		locks:     locks,
		checker:   checker,
		resolver:  resolver,
		scheduler: sched,
		templater: templater,
		watcher:   watch,
		tracer:    tracer,
		logger:    logger,
	}
}

// RunOptions configure a task invocation.
type RunOptions struct {
	// Dir is the project directory holding kiln.toml.
	Dir string
	// Task is the task name to run.
	Task string
	// Environment confines the task lookup when non-empty.
	Environment string
	// Args are positional values for the task's declared arguments.
	Args []string
	// Force bypasses fingerprint cache reuse.
	Force bool
	// Parallelism bounds concurrently running plan nodes.
	Parallelism int
}

// Check verifies the lock file against the manifest and reports a verdict
// per (environment, platform) pair without modifying anything.
func (a *App) Check(ctx context.Context, dir string) (satisfy.Result, error) {
	ctx, span := a.tracer.Start(ctx, "check")
	defer span.End()

	manifest, lock, err := a.load(dir)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := a.checker.Check(ctx, manifest, lock)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// Lock brings the lock file up to date: unsatisfied pairs are re-solved,
// satisfied pairs are carried over unchanged. With force set, every pair
// is re-solved from scratch. Reports whether the file was rewritten.
func (a *App) Lock(ctx context.Context, dir string, force bool) (*domain.LockDocument, bool, error) {
	ctx, span := a.tracer.Start(ctx, "lock")
	defer span.End()

	manifest, prev, err := a.load(dir)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	var stale []domain.EnvPlatform
	if force {
		stale, err = manifest.Pairs()
		prev = nil
	} else {
		var result satisfy.Result
		result, err = a.checker.Check(ctx, manifest, prev)
		if result != nil {
			stale = result.Unsatisfied()
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if len(stale) == 0 {
		a.logger.Debug("lock file already satisfies the manifest")
		return prev, false, nil
	}

	doc, err := a.resolver.Resolve(ctx, manifest, stale, prev)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if err := a.locks.Write(filepath.Join(dir, lockfile.FileName), doc); err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	return doc, true, nil
}

// Run looks up a task, expands it into a plan and executes the plan.
// It returns the terminal state of every plan node in execution order.
func (a *App) Run(ctx context.Context, opts RunOptions) ([]domain.NodeState, error) {
	ctx, span := a.tracer.Start(ctx, "run")
	defer span.End()
	span.SetAttribute("task", opts.Task)

	manifest, lock, err := a.load(opts.Dir)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	plan, err := a.plan(manifest, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	a.tracer.EmitPlan(ctx, planNames(plan))

	states, err := a.scheduler.Run(ctx, plan, scheduler.RunOptions{
		Root:          manifest.ProjectRoot,
		Parallelism:   opts.Parallelism,
		Force:         opts.Force,
		EnvKeys:       environmentKeys(manifest, lock),
		ActivationEnv: activationEnv(manifest, plan),
	})
	if err != nil {
		span.RecordError(err)
	}
	return states, err
}

// DryRun expands a task into a plan and returns the rendered commands in
// execution order without running anything.
func (a *App) DryRun(_ context.Context, opts RunOptions) ([]string, error) {
	manifest, err := a.manifests.Load(opts.Dir)
	if err != nil {
		return nil, err
	}
	plan, err := a.plan(manifest, opts)
	if err != nil {
		return nil, err
	}
	return plan.Commands(), nil
}

// List returns every runnable (task, environment) pair, sorted by task
// name then environment.
func (a *App) List(_ context.Context, dir string) ([]scheduler.TaskRef, error) {
	manifest, err := a.manifests.Load(dir)
	if err != nil {
		return nil, err
	}
	return scheduler.ListTasks(manifest)
}

// Watch runs the task once, then reruns it whenever files under the
// project root change. It returns when ctx is cancelled; individual run
// failures are reported and watching continues.
func (a *App) Watch(ctx context.Context, opts RunOptions) error {
	if _, err := a.Run(ctx, opts); err != nil {
		a.logger.Error("task failed", "task", opts.Task, "error", err)
	}

	manifest, err := a.manifests.Load(opts.Dir)
	if err != nil {
		return err
	}
	if err := a.watcher.Start(ctx, manifest.ProjectRoot); err != nil {
		return err
	}
	defer func() { _ = a.watcher.Stop() }()

	batches := watcher.Debounce(ctx, a.watcher, 0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return ctx.Err()
			}
			a.logger.Info("change detected, rerunning", "task", opts.Task, "files", len(batch))
			if _, err := a.Run(ctx, opts); err != nil {
				a.logger.Error("task failed", "task", opts.Task, "error", err)
			}
		}
	}
}

// load reads the manifest and the lock file for a project directory. A
// missing lock file yields a nil document, which downstream code treats
// as empty.
func (a *App) load(dir string) (*domain.Manifest, *domain.LockDocument, error) {
	manifest, err := a.manifests.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	lock, err := a.locks.Read(filepath.Join(dir, lockfile.FileName))
	if err != nil {
		return nil, nil, err
	}
	return manifest, lock, nil
}

// plan resolves the task name to a single definition site and expands it.
func (a *App) plan(manifest *domain.Manifest, opts RunOptions) (*domain.Plan, error) {
	lookup, err := scheduler.LookupTask(manifest, opts.Task, opts.Environment)
	if err != nil {
		return nil, err
	}
	switch lookup.Kind {
	case scheduler.LookupNotFound:
		return nil, zerr.With(domain.ErrTaskNotFound, "task", opts.Task)
	case scheduler.LookupAmbiguous:
		envs := make([]string, 0, len(lookup.Candidates))
		for _, ref := range lookup.Candidates {
			envs = append(envs, ref.Environment)
		}
		return nil, zerr.With(zerr.With(domain.ErrAmbiguousTask,
			"task", opts.Task),
			"environments", strings.Join(envs, ", "),
		)
	case scheduler.LookupUnique:
	}

	planner := scheduler.NewPlanner(manifest, a.templater)
	return planner.Plan(lookup.Task.Name, lookup.Environment, opts.Args)
}

// environmentKeys derives a stable identity per environment from the lock
// entries of the current platform. Re-solving an environment changes its
// key, which invalidates the fingerprints of its tasks.
func environmentKeys(manifest *domain.Manifest, lock *domain.LockDocument) map[string]string {
	if lock == nil {
		return nil
	}
	platform := domain.CurrentPlatform()
	keys := make(map[string]string)
	for _, env := range manifest.EnvironmentNames() {
		entry, ok := lock.Entry(env, platform)
		if !ok {
			continue
		}
		parts := make([]string, 0, len(entry.Packages))
		for _, key := range entry.Packages {
			parts = append(parts, key.String())
		}
		keys[env] = strings.Join(parts, ";")
	}
	return keys
}

// activationEnv builds the activation variables for every environment the
// plan touches. Installed environments live under .kiln/envs/<name>.
func activationEnv(manifest *domain.Manifest, plan *domain.Plan) map[string][]string {
	out := make(map[string][]string)
	for i := range plan.Nodes {
		env := plan.Nodes[i].Environment
		if _, ok := out[env]; ok {
			continue
		}
		prefix := filepath.Join(manifest.ProjectRoot, ".kiln", "envs", env)
		out[env] = []string{
			"CONDA_PREFIX=" + prefix,
			"CONDA_DEFAULT_ENV=" + env,
			"PATH=" + filepath.Join(prefix, "bin") + string(filepath.ListSeparator) + os.Getenv("PATH"),
		}
	}
	return out
}

// planNames lists the node identities of a plan in execution order.
func planNames(plan *domain.Plan) []string {
	names := make([]string, len(plan.Nodes))
	for i := range plan.Nodes {
		names[i] = plan.Nodes[i].ID()
	}
	return names
}
