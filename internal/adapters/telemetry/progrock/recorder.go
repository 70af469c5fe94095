// Package progrock provides the Progrock implementation of the telemetry
// port. Every scheduled task becomes a vertex on a tape, which the CLI
// renders as live progress.
package progrock

import (
	"context"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/vito/progrock"
	"go.trai.ch/kiln/internal/core/ports"
)

// Recorder implements ports.Telemetry on top of a progrock tape.
type Recorder struct {
	w      progrock.Writer
	rec    *progrock.Recorder
	stdout io.Writer
	stderr io.Writer
}

// New creates a Recorder with a default tape. Vertex output is mirrored to
// the process streams.
func New() ports.Telemetry {
	rec := NewRecorder(progrock.NewTape())
	rec.stdout = os.Stdout
	rec.stderr = os.Stderr
	return rec
}

// NewRecorder creates a Recorder writing to the given writer.
func NewRecorder(w progrock.Writer) *Recorder {
	rec := progrock.NewRecorder(w)
	return &Recorder{
		w:   w,
		rec: rec,
	}
}

// Record starts recording a new vertex. The returned context carries the
// vertex so nested work can attach output to it.
func (r *Recorder) Record(ctx context.Context, name string, opts ...ports.VertexOption) (context.Context, ports.Vertex) {
	cfg := &ports.VertexConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var vopts []progrock.VertexOpt
	if cfg.Internal {
		vopts = append(vopts, progrock.Internal())
	}

	d := digest.FromString(name)
	v := r.rec.Vertex(d, name, vopts...)
	vertex := &Vertex{vertex: v, stdout: r.stdout, stderr: r.stderr}
	return ports.ContextWithVertex(ctx, vertex), vertex
}

// Close flushes and closes the recording session.
func (r *Recorder) Close() error {
	if c, ok := r.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
