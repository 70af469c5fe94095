package solve_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/solve"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

// universeFixture answers queries from a static record set, keyed by
// ecosystem and name.
type universeFixture map[domain.Ecosystem]map[string][]*domain.PackageRecord

func (f universeFixture) add(rec *domain.PackageRecord) {
	eco := rec.Ecosystem
	if f[eco] == nil {
		f[eco] = make(map[string][]*domain.PackageRecord)
	}
	name := rec.Name.String()
	f[eco][name] = append(f[eco][name], rec)
}

func newResolver(t *testing.T, fixture universeFixture, opts ...solve.Option) *solve.Resolver {
	t.Helper()
	ctrl := gomock.NewController(t)

	uni := mocks.NewMockUniverse(ctrl)
	uni.EXPECT().
		Query(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []domain.Channel, _ domain.Platform, eco domain.Ecosystem, name string) ([]*domain.PackageRecord, error) {
			return fixture[eco][name], nil
		}).
		AnyTimes()

	hasher := mocks.NewMockHasher(ctrl)
	hasher.EXPECT().HashTree(gomock.Any()).Return("tree-hash", nil).AnyTimes()

	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()

	return solve.New(uni, hasher, logger, opts...)
}

func rec(eco domain.Ecosystem, name, version, build string, depends ...string) *domain.PackageRecord {
	return &domain.PackageRecord{
		Ecosystem: eco,
		Name:      domain.NewInternedString(name),
		Version:   domain.MustParseVersion(version),
		Build:     build,
		Subdir:    domain.PlatformLinux64,
		URL:       "https://conda.anaconda.org/conda-forge/linux-64/" + name + "-" + version + ".conda",
		SHA256:    "sha-" + name + "-" + version + "-" + build,
		Depends:   depends,
		PurlIDs:   []string{},
	}
}

func manifestWithEnvs(envs map[string]domain.EnvironmentDef, features map[string]domain.Feature) *domain.Manifest {
	return &domain.Manifest{
		Name:      "demo",
		Platforms: []domain.Platform{domain.PlatformLinux64},
		Default: domain.Feature{
			Name:     domain.DefaultFeatureName,
			Channels: []domain.Channel{{Name: "conda-forge"}},
		},
		Features:     features,
		Environments: envs,
	}
}

func pair(env string) domain.EnvPlatform {
	return domain.EnvPlatform{Environment: env, Platform: domain.PlatformLinux64}
}

func TestResolver_SelectsLatestSatisfying(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "numpy", "1.25.0", "py311_0"))
	fixture.add(rec(domain.EcosystemConda, "numpy", "2.1.0", "py311_0"))
	fixture.add(rec(domain.EcosystemConda, "numpy", "2.0.1", "py311_0"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint(">=2.0")),
	}

	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.NoError(t, err)

	records, err := lock.EntryRecords("default", domain.PlatformLinux64)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2.1.0", records[0].Version.String())
	require.NoError(t, lock.CheckIntegrity())
}

func TestResolver_TransitiveDepends(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "numpy", "1.25.0", "py311_0", "python >=3.9"))
	fixture.add(rec(domain.EcosystemConda, "python", "3.11.4", "h0_0"))
	fixture.add(rec(domain.EcosystemConda, "python", "3.8.0", "h0_0"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}

	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.NoError(t, err)

	records, err := lock.EntryRecords("default", domain.PlatformLinux64)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byName := map[string]string{}
	for _, r := range records {
		byName[r.Name.String()] = r.Version.String()
	}
	assert.Equal(t, "1.25.0", byName["numpy"])
	assert.Equal(t, "3.11.4", byName["python"])
}

func TestResolver_BacktracksOverConflict(t *testing.T) {
	// Latest b requires a<2, so picking a=2.1.0 first must be undone.
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "a", "2.1.0", "0"))
	fixture.add(rec(domain.EcosystemConda, "a", "1.9.0", "0"))
	fixture.add(rec(domain.EcosystemConda, "b", "5.0.0", "0", "a <2"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("a", domain.EcosystemConda, domain.MustParseConstraint("*")),
		domain.NewSpec("b", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}

	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.NoError(t, err)

	records, err := lock.EntryRecords("default", domain.PlatformLinux64)
	require.NoError(t, err)
	byName := map[string]string{}
	for _, r := range records {
		byName[r.Name.String()] = r.Version.String()
	}
	assert.Equal(t, "1.9.0", byName["a"])
	assert.Equal(t, "5.0.0", byName["b"])
}

func TestResolver_Unsatisfiable_MinimalConflict(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "a", "1.0.0", "0"))
	fixture.add(rec(domain.EcosystemConda, "a", "2.0.0", "0"))
	fixture.add(rec(domain.EcosystemConda, "b", "1.0.0", "0", "a >=2.0"))
	fixture.add(rec(domain.EcosystemConda, "c", "1.0.0", "0"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("a", domain.EcosystemConda, domain.MustParseConstraint("<2.0")),
		domain.NewSpec("b", domain.EcosystemConda, domain.MustParseConstraint("*")),
		domain.NewSpec("c", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}

	r := newResolver(t, fixture)
	_, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.ErrorIs(t, err, domain.ErrUnsatisfiable)

	var zerrErr *zerr.Error
	require.True(t, errors.As(err, &zerrErr))
	conflicts, ok := zerrErr.Metadata()["conflicting_specs"].(string)
	require.True(t, ok)
	assert.Contains(t, conflicts, "a")
	assert.Contains(t, conflicts, "b")
	assert.NotContains(t, conflicts, "c")
}

func TestResolver_PartialUpdateLeavesSatisfiedEntriesIdentical(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "numpy", "2.1.0", "py311_0"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{
			"default": {Name: "default"},
			"extra":   {Name: "extra", Features: []string{"extra"}},
		},
		map[string]domain.Feature{
			"extra": {
				Name: "extra",
				Dependencies: []domain.PackageSpec{
					domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint(">=2.0")),
				},
			},
		},
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("python", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}
	fixture.add(rec(domain.EcosystemConda, "python", "3.11.4", "h0_0"))

	// Previous lock already satisfies "default" and is untouched.
	prev := domain.NewLockDocument()
	python := rec(domain.EcosystemConda, "python", "3.10.0", "h0_0")
	require.NoError(t, prev.AddRecord(python))
	prevEntry := domain.LockEntry{
		Channels: []domain.Channel{{Name: "conda-forge"}},
		Packages: []domain.RecordKey{python.Key()},
	}
	require.NoError(t, prev.SetEntry("default", domain.PlatformLinux64, prevEntry))

	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("extra")}, prev)
	require.NoError(t, err)

	// The satisfied pair is carried over, down to the same record pointer.
	entry, ok := lock.Entry("default", domain.PlatformLinux64)
	require.True(t, ok)
	assert.Equal(t, prevEntry, entry)
	kept, ok := lock.Record(python.Key())
	require.True(t, ok)
	assert.Same(t, python, kept)

	// The input document was not mutated.
	_, ok = prev.Entry("extra", domain.PlatformLinux64)
	assert.False(t, ok)

	records, err := lock.EntryRecords("extra", domain.PlatformLinux64)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestResolver_IdempotentResolve(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "numpy", "1.25.0", "py311_0", "python >=3.9"))
	fixture.add(rec(domain.EcosystemConda, "python", "3.11.4", "h0_0"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}

	r := newResolver(t, fixture)
	pairs := []domain.EnvPlatform{pair("default")}

	first, err := r.Resolve(context.Background(), manifest, pairs, nil)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), manifest, pairs, first)
	require.NoError(t, err)

	firstEntry, _ := first.Entry("default", domain.PlatformLinux64)
	secondEntry, _ := second.Entry("default", domain.PlatformLinux64)
	assert.Equal(t, firstEntry, secondEntry)
}

func TestResolver_SolveGroupIdentity(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "numpy", "2.1.0", "py311_0"))
	fixture.add(rec(domain.EcosystemConda, "numpy", "1.25.0", "py311_0"))
	fixture.add(rec(domain.EcosystemConda, "pandas", "2.2.0", "py311_0", "numpy <2"))

	// env "analysis" pulls pandas which forces numpy<2; env "base" requests
	// bare numpy. Sharing a solve group they must agree on numpy 1.25.0.
	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{
			"base":     {Name: "base", SolveGroup: "main"},
			"analysis": {Name: "analysis", Features: []string{"analysis"}, SolveGroup: "main"},
		},
		map[string]domain.Feature{
			"analysis": {
				Name: "analysis",
				Dependencies: []domain.PackageSpec{
					domain.NewSpec("pandas", domain.EcosystemConda, domain.MustParseConstraint("*")),
				},
			},
		},
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}

	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("base"), pair("analysis")}, nil)
	require.NoError(t, err)

	baseRecords, err := lock.EntryRecords("base", domain.PlatformLinux64)
	require.NoError(t, err)
	analysisRecords, err := lock.EntryRecords("analysis", domain.PlatformLinux64)
	require.NoError(t, err)

	numpyIn := func(records []*domain.PackageRecord) *domain.PackageRecord {
		for _, r := range records {
			if r.Name.String() == "numpy" {
				return r
			}
		}
		return nil
	}
	baseNumpy := numpyIn(baseRecords)
	analysisNumpy := numpyIn(analysisRecords)
	require.NotNil(t, baseNumpy)
	require.NotNil(t, analysisNumpy)
	assert.Same(t, baseNumpy, analysisNumpy)
	assert.Equal(t, "1.25.0", baseNumpy.Version.String())

	// base never asked for pandas, so it must not inherit it.
	for _, r := range baseRecords {
		assert.NotEqual(t, "pandas", r.Name.String())
	}
}

func TestResolver_SolveGroupPartialResolveKeepsIdentity(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "numpy", "2.1.0", "py311_0"))
	fixture.add(rec(domain.EcosystemConda, "numpy", "1.25.0", "py311_0"))
	fixture.add(rec(domain.EcosystemConda, "pandas", "2.2.0", "py311_0", "numpy <2"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{
			"base":     {Name: "base", SolveGroup: "main"},
			"analysis": {Name: "analysis", Features: []string{"analysis"}, SolveGroup: "main"},
		},
		map[string]domain.Feature{
			"analysis": {
				Name: "analysis",
				Dependencies: []domain.PackageSpec{
					domain.NewSpec("pandas", domain.EcosystemConda, domain.MustParseConstraint("*")),
				},
			},
		},
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}

	// The previous lock already holds a satisfied "analysis" pinned to
	// numpy 1.25.0 via the pandas constraint; only "base" is stale.
	prev := domain.NewLockDocument()
	prevNumpy := rec(domain.EcosystemConda, "numpy", "1.25.0", "py311_0")
	prevPandas := rec(domain.EcosystemConda, "pandas", "2.2.0", "py311_0", "numpy <2")
	require.NoError(t, prev.AddRecord(prevNumpy))
	require.NoError(t, prev.AddRecord(prevPandas))
	require.NoError(t, prev.SetEntry("analysis", domain.PlatformLinux64, domain.LockEntry{
		Channels: []domain.Channel{{Name: "conda-forge"}},
		Packages: []domain.RecordKey{prevNumpy.Key(), prevPandas.Key()},
	}))

	// Re-solving only "base" must not let it drift to numpy 2.1.0 while its
	// group sibling stays on 1.25.0: the whole group resolves together.
	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("base")}, prev)
	require.NoError(t, err)

	numpyOf := func(env string) *domain.PackageRecord {
		records, err := lock.EntryRecords(env, domain.PlatformLinux64)
		require.NoError(t, err)
		for _, r := range records {
			if r.Name.String() == "numpy" {
				return r
			}
		}
		return nil
	}
	baseNumpy := numpyOf("base")
	analysisNumpy := numpyOf("analysis")
	require.NotNil(t, baseNumpy)
	require.NotNil(t, analysisNumpy)
	assert.Equal(t, "1.25.0", baseNumpy.Version.String())
	assert.Equal(t, baseNumpy.Key(), analysisNumpy.Key())
	require.NoError(t, lock.CheckIntegrity())
}

func TestResolver_WheelLayeredOnConda(t *testing.T) {
	fixture := universeFixture{}
	requests := rec(domain.EcosystemConda, "requests", "2.31.0", "py311_0")
	requests.PurlIDs = []string{"pypi/requests"}
	fixture.add(requests)
	fixture.add(rec(domain.EcosystemWheel, "flask", "3.0.0", "", "werkzeug >=3.0"))
	fixture.add(rec(domain.EcosystemWheel, "werkzeug", "3.0.1", ""))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("requests", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}
	manifest.Default.WheelDependencies = []domain.PackageSpec{
		// Already provided by the conda record: no wheel selected for it.
		domain.NewSpec("requests", domain.EcosystemWheel, domain.MustParseConstraint(">=2.0")),
		domain.NewSpec("flask", domain.EcosystemWheel, domain.MustParseConstraint("*")),
	}

	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.NoError(t, err)

	records, err := lock.EntryRecords("default", domain.PlatformLinux64)
	require.NoError(t, err)

	var wheelNames []string
	for _, r := range records {
		if r.Ecosystem == domain.EcosystemWheel {
			wheelNames = append(wheelNames, r.Name.String())
		}
	}
	assert.ElementsMatch(t, []string{"flask", "werkzeug"}, wheelNames)
}

func TestResolver_WheelConflictsWithCondaProvider(t *testing.T) {
	fixture := universeFixture{}
	requests := rec(domain.EcosystemConda, "requests", "2.31.0", "py311_0")
	requests.PurlIDs = []string{"pypi/requests"}
	fixture.add(requests)

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("requests", domain.EcosystemConda, domain.MustParseConstraint("*")),
	}
	manifest.Default.WheelDependencies = []domain.PackageSpec{
		// The conda layer provides 2.31.0; the wheel layer may not override.
		domain.NewSpec("requests", domain.EcosystemWheel, domain.MustParseConstraint(">=3.0")),
	}

	r := newResolver(t, fixture)
	_, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.ErrorIs(t, err, domain.ErrUnsatisfiable)
}

func TestResolver_EditableSource(t *testing.T) {
	fixture := universeFixture{}
	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	manifest.Default.WheelDependencies = []domain.PackageSpec{
		domain.NewSourceSpec("mylib", domain.EcosystemWheel, domain.SourceLocation{
			Kind: domain.SourcePath,
			Path: "libs/mylib",
		}),
	}

	r := newResolver(t, fixture)
	lock, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.NoError(t, err)

	records, err := lock.EntryRecords("default", domain.PlatformLinux64)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "libs/mylib", records[0].EditablePath)
	assert.Equal(t, "tree-hash", records[0].ContentHash)
}

func TestResolver_ContradictoryConstraintSurfacesAsUnsatisfiable(t *testing.T) {
	fixture := universeFixture{}
	fixture.add(rec(domain.EcosystemConda, "numpy", "1.25.0", "py311_0"))
	fixture.add(rec(domain.EcosystemConda, "numpy", "3.1.0", "py311_0"))

	manifest := manifestWithEnvs(
		map[string]domain.EnvironmentDef{"default": {Name: "default"}},
		nil,
	)
	// Parses fine, matches nothing.
	manifest.Default.Dependencies = []domain.PackageSpec{
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint(">3.0,<2.0")),
	}

	r := newResolver(t, fixture)
	_, err := r.Resolve(context.Background(), manifest, []domain.EnvPlatform{pair("default")}, nil)
	require.ErrorIs(t, err, domain.ErrUnsatisfiable)
}
