package scheduler_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

type schedulerFixture struct {
	runner   *mocks.MockCommandRunner
	resolver *mocks.MockInputResolver
	hasher   *mocks.MockHasher
	store    *mocks.MockRunInfoStore
	sched    *scheduler.Scheduler

	mu  sync.Mutex
	ran []string
}

func newScheduler(t *testing.T) *schedulerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &schedulerFixture{
		runner:   mocks.NewMockCommandRunner(ctrl),
		resolver: mocks.NewMockInputResolver(ctrl),
		hasher:   mocks.NewMockHasher(ctrl),
		store:    mocks.NewMockRunInfoStore(ctrl),
	}

	templater := mocks.NewMockTemplater(ctrl)
	templater.EXPECT().Render(gomock.Any(), gomock.Any()).DoAndReturn(fakeRender).AnyTimes()

	vertex := mocks.NewMockVertex(ctrl)
	vertex.EXPECT().Stdout().Return(io.Discard).AnyTimes()
	vertex.EXPECT().Stderr().Return(io.Discard).AnyTimes()
	vertex.EXPECT().Complete(gomock.Any()).AnyTimes()
	vertex.EXPECT().Cached().AnyTimes()
	vertex.EXPECT().Log(gomock.Any(), gomock.Any()).AnyTimes()

	telemetry := mocks.NewMockTelemetry(ctrl)
	telemetry.EXPECT().Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ ...ports.VertexOption) (context.Context, ports.Vertex) {
			return ctx, vertex
		}).AnyTimes()

	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()

	f.sched = scheduler.New(f.runner, f.resolver, f.hasher, templater, f.store, telemetry, logger)
	return f
}

// expectRun records each executed command line and returns the given exit
// code once the named command runs.
func (f *schedulerFixture) expectRun(line string, exitCode int) *gomock.Call {
	return f.runner.EXPECT().
		Run(gomock.Any(), gomock.Cond(func(cmd ports.Command) bool { return cmd.Line == line })).
		DoAndReturn(func(_ context.Context, cmd ports.Command) (int, error) {
			f.mu.Lock()
			f.ran = append(f.ran, cmd.Line)
			f.mu.Unlock()
			return exitCode, nil
		})
}

func planNode(name, command string, deps ...int) domain.PlanNode {
	return domain.PlanNode{
		Task:        domain.Task{Name: name, Command: command},
		Environment: domain.DefaultEnvironmentName,
		Command:     command,
		DependsOn:   deps,
	}
}

func TestScheduler_SequentialChain(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{
		planNode("configure", "cmake -S . -B build"),
		planNode("build", "cmake --build build", 0),
	}}
	f.expectRun("cmake -S . -B build", 0)
	f.expectRun("cmake --build build", 0)

	states, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{Root: "/project"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cmake -S . -B build", "cmake --build build"}, f.ran)
	assert.Equal(t, []domain.NodeState{domain.NodeSucceeded, domain.NodeSucceeded}, states)
}

func TestScheduler_FailFastAbortsRemainingPlan(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{
		planNode("a", "step-a"),
		planNode("b", "step-b", 0),
		planNode("c", "step-c", 1),
	}}
	f.expectRun("step-a", 0)
	f.expectRun("step-b", 3)
	// step-c must never be invoked.

	states, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{Root: "/project"})
	require.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.Equal(t, []domain.NodeState{
		domain.NodeSucceeded,
		domain.NodeFailed,
		domain.NodePending,
	}, states)
	assert.Equal(t, 3, scheduler.ExitCode(err, 1))
}

func TestScheduler_FingerprintHitSkipsExecution(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{{
		Task: domain.Task{
			Name:    "build",
			Command: "make",
			Inputs:  []string{"src/**/*.c"},
		},
		Environment: domain.DefaultEnvironmentName,
		Command:     "make",
	}}}

	f.resolver.EXPECT().ResolveInputs([]string{"src/**/*.c"}, "/project").
		Return([]string{"src/main.c"}, nil)
	f.hasher.EXPECT().ComputeFingerprint("/project", []string{"src/main.c"}, "make", "env-key").
		Return("fp-1", nil)
	key := domain.RunInfoKey("build", domain.DefaultEnvironmentName)
	f.store.EXPECT().Get(key).Return(&domain.RunInfo{Fingerprint: "fp-1"}, nil)

	states, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{
		Root:    "/project",
		EnvKeys: map[string]string{domain.DefaultEnvironmentName: "env-key"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeState{domain.NodeSkipped}, states)
	assert.Empty(t, f.ran)
}

func TestScheduler_FingerprintMissRunsAndRecords(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{{
		Task: domain.Task{
			Name:    "build",
			Command: "make",
			Inputs:  []string{"src/**/*.c"},
		},
		Environment: domain.DefaultEnvironmentName,
		Command:     "make",
	}}}

	f.resolver.EXPECT().ResolveInputs(gomock.Any(), gomock.Any()).Return([]string{"src/main.c"}, nil)
	f.hasher.EXPECT().ComputeFingerprint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("fp-2", nil)
	key := domain.RunInfoKey("build", domain.DefaultEnvironmentName)
	f.store.EXPECT().Get(key).Return(&domain.RunInfo{Fingerprint: "fp-1"}, nil)
	f.expectRun("make", 0)
	f.store.EXPECT().Put(key, gomock.Cond(func(info domain.RunInfo) bool {
		return info.Fingerprint == "fp-2" && info.Task == "build"
	})).Return(nil)

	states, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{Root: "/project"})
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeState{domain.NodeSucceeded}, states)
}

func TestScheduler_ForceIgnoresRecordedFingerprint(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{{
		Task: domain.Task{
			Name:    "build",
			Command: "make",
			Inputs:  []string{"src/**/*.c"},
		},
		Environment: domain.DefaultEnvironmentName,
		Command:     "make",
	}}}

	f.resolver.EXPECT().ResolveInputs(gomock.Any(), gomock.Any()).Return([]string{"src/main.c"}, nil)
	f.hasher.EXPECT().ComputeFingerprint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("fp-1", nil)
	// Get is never consulted under force; the fresh outcome is recorded.
	f.expectRun("make", 0)
	f.store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{Root: "/project", Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"make"}, f.ran)
}

func TestScheduler_NoInputsNeverTouchesStore(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{planNode("greet", "echo hi")}}
	f.expectRun("echo hi", 0)

	_, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{Root: "/project"})
	require.NoError(t, err)
}

func TestScheduler_ParallelSiblingsJoinBeforeDependent(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{
		planNode("lib", "build-lib"),
		planNode("app", "build-app"),
		planNode("link", "link-all", 0, 1),
	}}
	f.expectRun("build-lib", 0)
	f.expectRun("build-app", 0)
	f.expectRun("link-all", 0)

	states, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{
		Root:        "/project",
		Parallelism: 2,
	})
	require.NoError(t, err)
	require.Len(t, f.ran, 3)
	assert.Equal(t, "link-all", f.ran[2])
	assert.Equal(t, []domain.NodeState{
		domain.NodeSucceeded, domain.NodeSucceeded, domain.NodeSucceeded,
	}, states)
}

func TestScheduler_AggregateNodeRunsNothing(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{
		planNode("configure", "cmake -S . -B build"),
		planNode("all", "", 0),
	}}
	f.expectRun("cmake -S . -B build", 0)

	states, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{Root: "/project"})
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeState{domain.NodeSucceeded, domain.NodeSucceeded}, states)
}

func TestScheduler_LayersEnvironment(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{{
		Task: domain.Task{
			Name:    "greet",
			Command: "echo $GREETING",
			Env:     map[string]string{"GREETING": "Hello, {{ name }}"},
		},
		Environment: domain.DefaultEnvironmentName,
		Args:        map[string]string{"name": "John"},
		Command:     "echo $GREETING",
	}}}

	var captured ports.Command
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd ports.Command) (int, error) {
			captured = cmd
			return 0, nil
		})

	_, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{
		Root: "/project",
		ActivationEnv: map[string][]string{
			domain.DefaultEnvironmentName: {"CONDA_PREFIX=/envs/default"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, captured.Env, "CONDA_PREFIX=/envs/default")
	assert.Contains(t, captured.Env, "GREETING=Hello, John")
	assert.Equal(t, "/project", captured.Cwd)
}

func TestScheduler_WorkingDirectoryJoinsRoot(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{{
		Task:        domain.Task{Name: "docs", Command: "mkdocs build", Cwd: "docs"},
		Environment: domain.DefaultEnvironmentName,
		Command:     "mkdocs build",
	}}}

	var captured ports.Command
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd ports.Command) (int, error) {
			captured = cmd
			return 0, nil
		})

	_, err := f.sched.Run(context.Background(), plan, scheduler.RunOptions{Root: "/project"})
	require.NoError(t, err)
	assert.Equal(t, "/project/docs", captured.Cwd)
}

func TestScheduler_CancelledContextLeavesNodesPending(t *testing.T) {
	f := newScheduler(t)
	plan := &domain.Plan{Nodes: []domain.PlanNode{planNode("build", "make")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	states, err := f.sched.Run(ctx, plan, scheduler.RunOptions{Root: "/project"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []domain.NodeState{domain.NodePending}, states)
	assert.Empty(t, f.ran)
}
