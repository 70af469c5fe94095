// Package config loads the kiln.toml manifest into the domain model.
package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.ManifestLoader = (*Loader)(nil)

// Loader implements ports.ManifestLoader for TOML manifests.
type Loader struct{}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and validates <dir>/kiln.toml.
func (l *Loader) Load(dir string) (*domain.Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "reading manifest"), "path", path)
	}

	var file manifestFile
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "parsing manifest"), "path", path)
	}

	manifest, err := buildManifest(md, &file, dir)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}
	if err := manifest.Validate(); err != nil {
		return nil, zerr.With(err, "path", path)
	}
	return manifest, nil
}

func buildManifest(md toml.MetaData, file *manifestFile, dir string) (*domain.Manifest, error) {
	if file.Project.Name == "" {
		return nil, zerr.With(domain.ErrManifestInconsistency, "reason", "project has no name")
	}
	if len(file.Project.Platforms) == 0 {
		return nil, zerr.With(domain.ErrManifestInconsistency, "reason", "project declares no platforms")
	}

	m := &domain.Manifest{
		Name:        file.Project.Name,
		ProjectRoot: dir,
		PinStrategy: domain.PinStrategy(file.Project.PinStrategy),
		Features:    make(map[string]domain.Feature),
		Environments: map[string]domain.EnvironmentDef{
			domain.DefaultEnvironmentName: {Name: domain.DefaultEnvironmentName},
		},
	}
	if m.PinStrategy == "" {
		m.PinStrategy = domain.PinLatestUp
	}
	for _, p := range file.Project.Platforms {
		m.Platforms = append(m.Platforms, domain.Platform(p))
	}

	defaultFeature, err := buildFeature(md, domain.DefaultFeatureName, featureDTO{
		Dependencies:       file.Dependencies,
		WheelDependencies:  file.WheelDependencies,
		Channels:           file.Project.Channels,
		SystemRequirements: file.SystemRequirements,
		Tasks:              file.Tasks,
	})
	if err != nil {
		return nil, err
	}
	m.Default = defaultFeature

	for name, dto := range file.Feature {
		feature, err := buildFeature(md, name, dto)
		if err != nil {
			return nil, err
		}
		m.Features[name] = feature
	}

	for name, prim := range file.Environments {
		def, err := decodeEnvironment(md, name, prim)
		if err != nil {
			return nil, err
		}
		m.Environments[name] = def
	}

	return m, nil
}

func buildFeature(md toml.MetaData, name string, dto featureDTO) (domain.Feature, error) {
	feature := domain.Feature{
		Name:               name,
		SystemRequirements: dto.SystemRequirements,
		Tasks:              make(map[string]domain.Task),
	}
	for _, ch := range dto.Channels {
		feature.Channels = append(feature.Channels, domain.Channel{Name: ch})
	}
	for _, p := range dto.Platforms {
		feature.Platforms = append(feature.Platforms, domain.Platform(p))
	}

	for pkg, prim := range dto.Dependencies {
		spec, err := decodeSpec(md, pkg, prim, domain.EcosystemConda)
		if err != nil {
			return domain.Feature{}, err
		}
		feature.Dependencies = append(feature.Dependencies, spec)
	}
	for pkg, prim := range dto.WheelDependencies {
		spec, err := decodeSpec(md, pkg, prim, domain.EcosystemWheel)
		if err != nil {
			return domain.Feature{}, err
		}
		feature.WheelDependencies = append(feature.WheelDependencies, spec)
	}

	for taskName, prim := range dto.Tasks {
		task, err := decodeTask(md, taskName, prim)
		if err != nil {
			return domain.Feature{}, err
		}
		feature.Tasks[taskName] = task
	}

	// TOML tables carry no order; sort so every load produces the same
	// solver input.
	sortSpecs(feature.Dependencies)
	sortSpecs(feature.WheelDependencies)
	return feature, nil
}

func sortSpecs(specs []domain.PackageSpec) {
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name.String() < specs[j].Name.String()
	})
}

// decodeSpec accepts either a bare constraint string or a dependency
// table.
func decodeSpec(md toml.MetaData, name string, prim toml.Primitive, eco domain.Ecosystem) (domain.PackageSpec, error) {
	var shorthand string
	if err := md.PrimitiveDecode(prim, &shorthand); err == nil {
		constraint, err := domain.ParseConstraint(shorthand)
		if err != nil {
			return domain.PackageSpec{}, zerr.With(err, "package", name)
		}
		return domain.NewSpec(name, eco, constraint), nil
	}

	var dto depDTO
	if err := md.PrimitiveDecode(prim, &dto); err != nil {
		return domain.PackageSpec{}, zerr.With(zerr.Wrap(err, "invalid dependency"), "package", name)
	}

	switch {
	case dto.Path != "":
		return domain.NewSourceSpec(name, eco, domain.SourceLocation{
			Kind: domain.SourcePath,
			Path: dto.Path,
		}), nil
	case dto.Git != "":
		src := domain.SourceLocation{
			Kind:         domain.SourceGit,
			GitURL:       dto.Git,
			Subdirectory: dto.Subdir,
		}
		switch {
		case dto.Rev != "":
			src.GitRefKind, src.GitRef = domain.GitRefRev, dto.Rev
		case dto.Tag != "":
			src.GitRefKind, src.GitRef = domain.GitRefTag, dto.Tag
		case dto.Branch != "":
			src.GitRefKind, src.GitRef = domain.GitRefBranch, dto.Branch
		}
		return domain.NewSourceSpec(name, eco, src), nil
	}

	version := dto.Version
	if version == "" {
		version = "*"
	}
	constraint, err := domain.ParseConstraint(version)
	if err != nil {
		return domain.PackageSpec{}, zerr.With(err, "package", name)
	}
	spec := domain.NewSpec(name, eco, constraint)
	spec.Build = dto.Build
	spec.Channel = dto.Channel
	return spec, nil
}

// decodeTask accepts either a bare command string or a task table.
func decodeTask(md toml.MetaData, name string, prim toml.Primitive) (domain.Task, error) {
	var shorthand string
	if err := md.PrimitiveDecode(prim, &shorthand); err == nil {
		return domain.Task{Name: name, Command: shorthand}, nil
	}

	var dto taskDTO
	if err := md.PrimitiveDecode(prim, &dto); err != nil {
		return domain.Task{}, zerr.With(zerr.Wrap(err, "invalid task"), "task", name)
	}

	task := domain.Task{
		Name:        name,
		Command:     dto.Cmd,
		Cwd:         dto.Cwd,
		Env:         dto.Env,
		Inputs:      dto.Inputs,
		Outputs:     dto.Outputs,
		CleanEnv:    dto.CleanEnv,
		Description: dto.Description,
	}

	for _, argPrim := range dto.Args {
		arg, err := decodeArg(md, name, argPrim)
		if err != nil {
			return domain.Task{}, err
		}
		task.Args = append(task.Args, arg)
	}

	for _, edgePrim := range dto.DependsOn {
		edge, err := decodeDepEdge(md, name, edgePrim)
		if err != nil {
			return domain.Task{}, err
		}
		task.DependsOn = append(task.DependsOn, edge)
	}
	return task, nil
}

func decodeArg(md toml.MetaData, task string, prim toml.Primitive) (domain.TaskArg, error) {
	var name string
	if err := md.PrimitiveDecode(prim, &name); err == nil {
		return domain.TaskArg{Name: name}, nil
	}

	var dto argDTO
	if err := md.PrimitiveDecode(prim, &dto); err != nil {
		return domain.TaskArg{}, zerr.With(zerr.Wrap(err, "invalid task argument"), "task", task)
	}
	arg := domain.TaskArg{Name: dto.Name}
	if dto.Default != nil {
		arg.Default = *dto.Default
		arg.HasDefault = true
	}
	return arg, nil
}

func decodeDepEdge(md toml.MetaData, task string, prim toml.Primitive) (domain.TaskDepRef, error) {
	var name string
	if err := md.PrimitiveDecode(prim, &name); err == nil {
		return domain.TaskDepRef{Task: name}, nil
	}

	var dto depEdgeDTO
	if err := md.PrimitiveDecode(prim, &dto); err != nil {
		return domain.TaskDepRef{}, zerr.With(zerr.Wrap(err, "invalid task dependency"), "task", task)
	}
	if dto.Task == "" {
		return domain.TaskDepRef{}, zerr.With(zerr.New("task dependency has no task name"), "task", task)
	}
	edge := domain.TaskDepRef{Task: dto.Task, Environment: dto.Environment}

	var positional []string
	if err := md.PrimitiveDecode(dto.Args, &positional); err == nil {
		edge.Args = positional
		return edge, nil
	}
	var named map[string]string
	if err := md.PrimitiveDecode(dto.Args, &named); err == nil {
		edge.NamedArgs = named
		return edge, nil
	}
	return domain.TaskDepRef{}, zerr.With(zerr.With(zerr.New("task dependency args must be a list or a table"),
		"task", task),
		"dependency", dto.Task,
	)
}

// decodeEnvironment accepts either a bare feature list or an environment
// table.
func decodeEnvironment(md toml.MetaData, name string, prim toml.Primitive) (domain.EnvironmentDef, error) {
	var features []string
	if err := md.PrimitiveDecode(prim, &features); err == nil {
		return domain.EnvironmentDef{Name: name, Features: features}, nil
	}

	var dto envDTO
	if err := md.PrimitiveDecode(prim, &dto); err != nil {
		return domain.EnvironmentDef{}, zerr.With(zerr.Wrap(err, "invalid environment"), "environment", name)
	}
	return domain.EnvironmentDef{
		Name:             name,
		Features:         dto.Features,
		SolveGroup:       dto.SolveGroup,
		NoDefaultFeature: dto.NoDefaultFeature,
	}, nil
}
