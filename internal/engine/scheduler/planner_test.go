package scheduler_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

// fakeRender substitutes {{ name }} placeholders, erroring on any left
// unbound, mirroring the contract of the templater port.
func fakeRender(template string, args map[string]string) (string, error) {
	out := template
	for name, value := range args {
		out = strings.ReplaceAll(out, "{{ "+name+" }}", value)
	}
	if i := strings.Index(out, "{{"); i >= 0 {
		return "", domain.ErrMissingArgument
	}
	return out, nil
}

func newTemplater(t *testing.T) *mocks.MockTemplater {
	t.Helper()
	ctrl := gomock.NewController(t)
	templater := mocks.NewMockTemplater(ctrl)
	templater.EXPECT().Render(gomock.Any(), gomock.Any()).DoAndReturn(fakeRender).AnyTimes()
	return templater
}

func TestPlanner_LinearDependencyChain(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"configure": {Name: "configure", Command: "cmake -S . -B build"},
		"build": {
			Name:      "build",
			Command:   "cmake --build build",
			DependsOn: []domain.TaskDepRef{{Task: "configure"}},
		},
	}, nil)

	plan, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("build", domain.DefaultEnvironmentName, nil)
	require.NoError(t, err)

	require.Len(t, plan.Nodes, 2)
	assert.Equal(t, "configure", plan.Nodes[0].Task.Name)
	assert.Equal(t, "build", plan.Nodes[1].Task.Name)
	assert.Equal(t, []int{0}, plan.Nodes[1].DependsOn)
	assert.Equal(t, []string{"cmake -S . -B build", "cmake --build build"}, plan.Commands())
}

func TestPlanner_SharedDependencyRunsOnce(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"configure": {Name: "configure", Command: "cmake -S . -B build"},
		"lib": {
			Name:      "lib",
			Command:   "cmake --build build --target lib",
			DependsOn: []domain.TaskDepRef{{Task: "configure"}},
		},
		"app": {
			Name:      "app",
			Command:   "cmake --build build --target app",
			DependsOn: []domain.TaskDepRef{{Task: "configure"}},
		},
		"all": {
			Name:      "all",
			DependsOn: []domain.TaskDepRef{{Task: "lib"}, {Task: "app"}},
		},
	}, nil)

	plan, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("all", domain.DefaultEnvironmentName, nil)
	require.NoError(t, err)

	require.Len(t, plan.Nodes, 4)
	assert.Equal(t, "configure", plan.Nodes[0].Task.Name)
	// The aggregate node has no command and depends on both targets.
	root := plan.Nodes[3]
	assert.Equal(t, "all", root.Task.Name)
	assert.Empty(t, root.Command)
	assert.Equal(t, []int{1, 2}, root.DependsOn)
}

func TestPlanner_RendersArguments(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"greet": {
			Name:    "greet",
			Command: "echo Hello, {{ name }}!",
			Args:    []domain.TaskArg{{Name: "name"}},
		},
	}, nil)

	plan, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("greet", domain.DefaultEnvironmentName, []string{"John"})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo Hello, John!"}, plan.Commands())
}

func TestPlanner_MissingRequiredArgument(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"greet": {
			Name:    "greet",
			Command: "echo Hello, {{ name }}!",
			Args:    []domain.TaskArg{{Name: "name"}},
		},
	}, nil)

	_, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("greet", domain.DefaultEnvironmentName, nil)
	require.ErrorIs(t, err, domain.ErrMissingArgument)
}

func TestPlanner_TooManyArguments(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"greet": {
			Name:    "greet",
			Command: "echo Hello, {{ name }}!",
			Args:    []domain.TaskArg{{Name: "name"}},
		},
	}, nil)

	_, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("greet", domain.DefaultEnvironmentName, []string{"a", "b"})
	require.ErrorIs(t, err, domain.ErrTooManyArguments)
}

func TestPlanner_DependencyArgOverrideMergesWithDefaults(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"compile": {
			Name:    "compile",
			Command: "cc -O{{ level }} -o {{ out }} main.c",
			Args: []domain.TaskArg{
				{Name: "level", Default: "0", HasDefault: true},
				{Name: "out", Default: "a.out", HasDefault: true},
			},
		},
		"release": {
			Name:      "release",
			DependsOn: []domain.TaskDepRef{{Task: "compile", Args: []string{"2"}}},
		},
	}, nil)

	plan, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("release", domain.DefaultEnvironmentName, nil)
	require.NoError(t, err)

	// The edge overrides the first argument; the second keeps its default.
	require.Len(t, plan.Nodes, 2)
	assert.Equal(t, "cc -O2 -o a.out main.c", plan.Nodes[0].Command)
}

func TestPlanner_DependencyNamedArgOverride(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"compile": {
			Name:    "compile",
			Command: "cc -O{{ level }} -o {{ out }} main.c",
			Args: []domain.TaskArg{
				{Name: "level", Default: "0", HasDefault: true},
				{Name: "out", Default: "a.out", HasDefault: true},
			},
		},
		"release": {
			Name: "release",
			DependsOn: []domain.TaskDepRef{{
				Task:      "compile",
				NamedArgs: map[string]string{"out": "release.bin"},
			}},
		},
	}, nil)

	plan, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("release", domain.DefaultEnvironmentName, nil)
	require.NoError(t, err)

	// Only the named argument changes; the rest keep their defaults.
	require.Len(t, plan.Nodes, 2)
	assert.Equal(t, "cc -O0 -o release.bin main.c", plan.Nodes[0].Command)
}

func TestPlanner_EnvironmentOverrideOnEdge(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"package": {
			Name:      "package",
			Command:   "tar -czf dist.tgz dist/",
			DependsOn: []domain.TaskDepRef{{Task: "check", Environment: "test"}},
		},
	}, map[string]domain.Feature{
		"test": {Name: "test", Tasks: map[string]domain.Task{
			"check": {Name: "check", Command: "pytest"},
		}},
	}, domain.DefaultEnvironmentName, "test")

	plan, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("package", domain.DefaultEnvironmentName, nil)
	require.NoError(t, err)

	require.Len(t, plan.Nodes, 2)
	assert.Equal(t, "test", plan.Nodes[0].Environment)
	assert.Equal(t, domain.DefaultEnvironmentName, plan.Nodes[1].Environment)
}

func TestPlanner_CycleDetected(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"a": {Name: "a", Command: "true", DependsOn: []domain.TaskDepRef{{Task: "b"}}},
		"b": {Name: "b", Command: "true", DependsOn: []domain.TaskDepRef{{Task: "c"}}},
		"c": {Name: "c", Command: "true", DependsOn: []domain.TaskDepRef{{Task: "a"}}},
	}, nil)

	_, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("a", domain.DefaultEnvironmentName, nil)
	require.ErrorIs(t, err, domain.ErrCycleDetected)

	var zErr *zerr.Error
	require.ErrorAs(t, err, &zErr)
	assert.Equal(t, "a -> b -> c -> a", zErr.Metadata()["cycle"])
}

func TestPlanner_UnknownDependencyTask(t *testing.T) {
	m := manifestWithTasks(map[string]domain.Task{
		"build": {Name: "build", Command: "make", DependsOn: []domain.TaskDepRef{{Task: "gen"}}},
	}, nil)

	_, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("build", domain.DefaultEnvironmentName, nil)
	require.ErrorIs(t, err, domain.ErrTaskNotFound)

	// Every attached pair must survive the chained metadata calls.
	var zErr *zerr.Error
	require.ErrorAs(t, err, &zErr)
	assert.Equal(t, "gen", zErr.Metadata()["task"])
	assert.Equal(t, domain.DefaultEnvironmentName, zErr.Metadata()["environment"])
	assert.Equal(t, "build", zErr.Metadata()["required_by"])
}

func TestPlanner_UnknownRootTask(t *testing.T) {
	m := manifestWithTasks(nil, nil)

	_, err := scheduler.NewPlanner(m, newTemplater(t)).Plan("build", domain.DefaultEnvironmentName, nil)
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
}
