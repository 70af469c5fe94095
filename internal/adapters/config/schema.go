package config

import "github.com/BurntSushi/toml"

// ManifestFileName is the manifest file looked up in the project root.
const ManifestFileName = "kiln.toml"

// manifestFile is the raw TOML shape of kiln.toml. Values that accept
// both a shorthand string and a table form are kept as toml.Primitive
// and decoded in a second pass.
type manifestFile struct {
	Project            projectDTO                `toml:"project"`
	Dependencies       map[string]toml.Primitive `toml:"dependencies"`
	WheelDependencies  map[string]toml.Primitive `toml:"wheel-dependencies"`
	SystemRequirements map[string]string         `toml:"system-requirements"`
	Tasks              map[string]toml.Primitive `toml:"tasks"`
	Feature            map[string]featureDTO     `toml:"feature"`
	Environments       map[string]toml.Primitive `toml:"environments"`
}

type projectDTO struct {
	Name        string   `toml:"name"`
	Platforms   []string `toml:"platforms"`
	Channels    []string `toml:"channels"`
	PinStrategy string   `toml:"pin-strategy"`
}

type featureDTO struct {
	Dependencies       map[string]toml.Primitive `toml:"dependencies"`
	WheelDependencies  map[string]toml.Primitive `toml:"wheel-dependencies"`
	Channels           []string                  `toml:"channels"`
	Platforms          []string                  `toml:"platforms"`
	SystemRequirements map[string]string         `toml:"system-requirements"`
	Tasks              map[string]toml.Primitive `toml:"tasks"`
}

// depDTO is the table form of a dependency. The shorthand form is a bare
// constraint string.
type depDTO struct {
	Version  string `toml:"version"`
	Build    string `toml:"build"`
	Channel  string `toml:"channel"`
	Path     string `toml:"path"`
	Git      string `toml:"git"`
	Branch   string `toml:"branch"`
	Tag      string `toml:"tag"`
	Rev      string `toml:"rev"`
	Subdir   string `toml:"subdirectory"`
	Editable bool   `toml:"editable"`
}

// taskDTO is the table form of a task. The shorthand form is a bare
// command string.
type taskDTO struct {
	Cmd         string            `toml:"cmd"`
	Cwd         string            `toml:"cwd"`
	Env         map[string]string `toml:"env"`
	Args        []toml.Primitive  `toml:"args"`
	DependsOn   []toml.Primitive  `toml:"depends-on"`
	Inputs      []string          `toml:"inputs"`
	Outputs     []string          `toml:"outputs"`
	CleanEnv    bool              `toml:"clean-env"`
	Description string            `toml:"description"`
}

// argDTO is the table form of a declared task argument. The shorthand
// form is a bare name.
type argDTO struct {
	Name    string  `toml:"name"`
	Default *string `toml:"default"`
}

// depEdgeDTO is the table form of a dependency edge. The shorthand form
// is a bare task name. Args stays primitive because it accepts either a
// positional list or a name-to-value table.
type depEdgeDTO struct {
	Task        string         `toml:"task"`
	Environment string         `toml:"environment"`
	Args        toml.Primitive `toml:"args"`
}

// envDTO is the table form of an environment. The shorthand form is a
// bare feature list.
type envDTO struct {
	Features         []string `toml:"features"`
	SolveGroup       string   `toml:"solve-group"`
	NoDefaultFeature bool     `toml:"no-default-feature"`
}
