package progrock

import (
	"fmt"
	"io"

	"github.com/vito/progrock"
	"go.trai.ch/kiln/internal/core/domain"
)

// Vertex implements ports.Vertex wrapping *progrock.VertexRecorder. Task
// output is recorded on the tape and written through to the process
// streams, so it stays visible without a renderer attached.
type Vertex struct {
	vertex *progrock.VertexRecorder
	stdout io.Writer
	stderr io.Writer
}

// Stdout returns a writer to capture standard output stream.
func (v *Vertex) Stdout() io.Writer {
	if v.stdout == nil {
		return v.vertex.Stdout()
	}
	return io.MultiWriter(v.vertex.Stdout(), v.stdout)
}

// Stderr returns a writer to capture error output stream.
func (v *Vertex) Stderr() io.Writer {
	if v.stderr == nil {
		return v.vertex.Stderr()
	}
	return io.MultiWriter(v.vertex.Stderr(), v.stderr)
}

// Log records a structured log message associated with this vertex.
func (v *Vertex) Log(level domain.LogLevel, msg string) {
	_, _ = fmt.Fprintf(v.vertex.Stdout(), "[%s] %s\n", level.String(), msg)
}

// Complete marks the vertex as finished (successfully or with an error).
func (v *Vertex) Complete(err error) {
	v.vertex.Done(err)
}

// Cached marks the vertex as a cache hit.
func (v *Vertex) Cached() {
	v.vertex.Cached()
}
