package cas_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/cas"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".kiln", "run-info.json")

	store, err := cas.NewStore(path)
	require.NoError(t, err)

	key := domain.RunInfoKey("build", "default")
	missing, err := store.Get(key)
	require.NoError(t, err)
	assert.Nil(t, missing)

	info := domain.RunInfo{Task: "build", Environment: "default", Fingerprint: "fp-1", UnixTime: 1700000000}
	require.NoError(t, store.Put(key, info))

	got, err := store.Get(key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, info, *got)
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-info.json")
	key := domain.RunInfoKey("check", "test")

	first, err := cas.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(key, domain.RunInfo{Task: "check", Environment: "test", Fingerprint: "fp-2"}))

	second, err := cas.NewStore(path)
	require.NoError(t, err)
	got, err := second.Get(key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fp-2", got.Fingerprint)
}

func TestStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-info.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := cas.NewStore(path)
	require.Error(t, err)
}
