package satisfy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/satisfy"
	"go.uber.org/mock/gomock"
)

func newChecker(t *testing.T, opts ...satisfy.Option) (*satisfy.Checker, *mocks.MockHasher) {
	t.Helper()
	ctrl := gomock.NewController(t)
	hasher := mocks.NewMockHasher(ctrl)
	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()
	return satisfy.New(hasher, logger, opts...), hasher
}

func testManifest(specs ...domain.PackageSpec) *domain.Manifest {
	return &domain.Manifest{
		Name:      "demo",
		Platforms: []domain.Platform{domain.PlatformLinux64},
		Default: domain.Feature{
			Name:         domain.DefaultFeatureName,
			Dependencies: specs,
			Channels:     []domain.Channel{{Name: "conda-forge"}},
		},
		Environments: map[string]domain.EnvironmentDef{
			domain.DefaultEnvironmentName: {Name: domain.DefaultEnvironmentName},
		},
	}
}

func condaRecord(name, version, build string) *domain.PackageRecord {
	return &domain.PackageRecord{
		Ecosystem: domain.EcosystemConda,
		Name:      domain.NewInternedString(name),
		Version:   domain.MustParseVersion(version),
		Build:     build,
		Subdir:    domain.PlatformLinux64,
		SHA256:    "sha-" + name + "-" + version,
		PurlIDs:   []string{},
	}
}

func lockWith(t *testing.T, records ...*domain.PackageRecord) *domain.LockDocument {
	t.Helper()
	doc := domain.NewLockDocument()
	entry := domain.LockEntry{Channels: []domain.Channel{{Name: "conda-forge"}}}
	for _, rec := range records {
		require.NoError(t, doc.AddRecord(rec))
		entry.Packages = append(entry.Packages, rec.Key())
	}
	require.NoError(t, doc.SetEntry(domain.DefaultEnvironmentName, domain.PlatformLinux64, entry))
	return doc
}

func defaultPair() domain.EnvPlatform {
	return domain.EnvPlatform{Environment: domain.DefaultEnvironmentName, Platform: domain.PlatformLinux64}
}

func TestChecker_SatisfiedInRange(t *testing.T) {
	checker, _ := newChecker(t)
	manifest := testManifest(
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint(">=1.21,<2.0")),
	)
	lock := lockWith(t, condaRecord("numpy", "1.25.0", "py311_0"))

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)
	assert.True(t, result.AllSatisfied())
	assert.True(t, result[defaultPair()].Satisfied)
}

func TestChecker_IncompatibleVersion(t *testing.T) {
	checker, _ := newChecker(t)
	manifest := testManifest(
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint(">=2.0")),
	)
	lock := lockWith(t, condaRecord("numpy", "1.25.0", "py311_0"))

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)

	verdict := result[defaultPair()]
	assert.False(t, verdict.Satisfied)
	assert.Equal(t, satisfy.ReasonMissingOrIncompatiblePackage, verdict.Reason)
	require.NotNil(t, verdict.Spec)
	assert.Equal(t, "numpy", verdict.Spec.Name.String())
	assert.Equal(t, []domain.EnvPlatform{defaultPair()}, result.Unsatisfied())
}

func TestChecker_MissingEntry(t *testing.T) {
	checker, _ := newChecker(t)
	manifest := testManifest(
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	)

	result, err := checker.Check(context.Background(), manifest, domain.NewLockDocument())
	require.NoError(t, err)
	assert.Equal(t, satisfy.ReasonMissingEntry, result[defaultPair()].Reason)

	// A nil lock behaves like an empty one.
	result, err = checker.Check(context.Background(), manifest, nil)
	require.NoError(t, err)
	assert.Equal(t, satisfy.ReasonMissingEntry, result[defaultPair()].Reason)
}

func TestChecker_ChannelMismatch(t *testing.T) {
	checker, _ := newChecker(t)
	manifest := testManifest(
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	)
	lock := lockWith(t, condaRecord("numpy", "1.25.0", "py311_0"))

	// Recorded channels no longer match the manifest's effective list.
	entry, ok := lock.Entry(domain.DefaultEnvironmentName, domain.PlatformLinux64)
	require.True(t, ok)
	entry.Channels = []domain.Channel{{Name: "bioconda"}}
	require.NoError(t, lock.SetEntry(domain.DefaultEnvironmentName, domain.PlatformLinux64, entry))

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)
	assert.Equal(t, satisfy.ReasonChannelMismatch, result[defaultPair()].Reason)
}

func TestChecker_MissingSecondaryMapping(t *testing.T) {
	checker, _ := newChecker(t)
	manifest := testManifest(
		domain.NewSpec("python", domain.EcosystemConda, domain.MustParseConstraint("*")),
	)
	manifest.Default.WheelDependencies = []domain.PackageSpec{
		domain.NewSpec("requests", domain.EcosystemWheel, domain.MustParseConstraint("*")),
	}

	// The conda record predates marker tracking: nil marker list.
	python := condaRecord("python", "3.11.4", "h0_0")
	python.PurlIDs = nil
	requests := &domain.PackageRecord{
		Ecosystem: domain.EcosystemWheel,
		Name:      domain.NewInternedString("requests"),
		Version:   domain.MustParseVersion("2.31.0"),
		Subdir:    domain.PlatformLinux64,
		SHA256:    "sha-requests",
	}
	lock := lockWith(t, python, requests)

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)
	assert.Equal(t, satisfy.ReasonMissingSecondaryMapping, result[defaultPair()].Reason)
}

func TestChecker_StaleEditableHash(t *testing.T) {
	checker, hasher := newChecker(t)
	manifest := testManifest()
	manifest.ProjectRoot = "/project"
	manifest.Default.WheelDependencies = []domain.PackageSpec{
		domain.NewSpec("mylib", domain.EcosystemWheel, domain.MustParseConstraint("*")),
	}

	editable := &domain.PackageRecord{
		Ecosystem:    domain.EcosystemWheel,
		Name:         domain.NewInternedString("mylib"),
		Version:      domain.MustParseVersion("0.1.0"),
		Subdir:       domain.PlatformLinux64,
		EditablePath: "libs/mylib",
		ContentHash:  "old-hash",
	}
	lock := lockWith(t, editable)

	hasher.EXPECT().HashTree("/project/libs/mylib").Return("new-hash", nil)

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)

	verdict := result[defaultPair()]
	assert.Equal(t, satisfy.ReasonStaleEditableHash, verdict.Reason)
	assert.Equal(t, "libs/mylib", verdict.Detail)
}

func TestChecker_DuplicatePackageEntry(t *testing.T) {
	checker, _ := newChecker(t)
	manifest := testManifest(
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	)
	numpy := condaRecord("numpy", "1.25.0", "py311_0")
	lock := lockWith(t, numpy)
	lock.MarkDuplicate(numpy.Key())

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)
	assert.Equal(t, satisfy.ReasonDuplicatePackageEntry, result[defaultPair()].Reason)
}

func TestChecker_SystemRequirementUnmet(t *testing.T) {
	checker, _ := newChecker(t, satisfy.WithHostInfo(map[string]string{"linux": "4.18.0"}))
	manifest := testManifest(
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	)
	manifest.Default.SystemRequirements = map[string]string{"linux": "5.10"}
	lock := lockWith(t, condaRecord("numpy", "1.25.0", "py311_0"))

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)

	verdict := result[defaultPair()]
	assert.Equal(t, satisfy.ReasonSystemRequirementUnmet, verdict.Reason)
	assert.Equal(t, "linux", verdict.Detail)
}

func TestChecker_UndetectedRequirementKindSkipped(t *testing.T) {
	checker, _ := newChecker(t)
	manifest := testManifest(
		domain.NewSpec("numpy", domain.EcosystemConda, domain.MustParseConstraint("*")),
	)
	manifest.Default.SystemRequirements = map[string]string{"cuda": "12"}
	lock := lockWith(t, condaRecord("numpy", "1.25.0", "py311_0"))

	result, err := checker.Check(context.Background(), manifest, lock)
	require.NoError(t, err)
	assert.True(t, result.AllSatisfied())
}
