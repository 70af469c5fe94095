package progrock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/telemetry/progrock"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
)

func TestNew(t *testing.T) {
	recorder := progrock.New()
	assert.NotNil(t, recorder)
	require.NoError(t, recorder.Close())
}

func TestRecorder_RecordCarriesVertexOnContext(t *testing.T) {
	recorder := progrock.New()
	defer func() { _ = recorder.Close() }()

	ctx, vertex := recorder.Record(context.Background(), "default::build")
	assert.Same(t, vertex, ports.VertexFromContext(ctx))
	vertex.Complete(nil)
}

func TestRecorder_VertexLifecycle(t *testing.T) {
	recorder := progrock.New()

	_, vertex := recorder.Record(context.Background(), "default::test")

	_, err := vertex.Stdout().Write([]byte("standard output\n"))
	require.NoError(t, err)
	_, err = vertex.Stderr().Write([]byte("error output\n"))
	require.NoError(t, err)

	vertex.Log(domain.LogLevelDebug, "resolving inputs")
	vertex.Complete(errors.New("exit status 1"))

	_, cached := recorder.Record(context.Background(), "default::lint", ports.WithInternal())
	cached.Cached()

	require.NoError(t, recorder.Close())
}
