// Package shell executes rendered task commands through the portable
// shell interpreter.
package shell

import (
	"context"
	"errors"
	"os/exec"

	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.CommandRunner = (*Runner)(nil)

// Runner implements ports.CommandRunner with `sh -c`.
type Runner struct {
	logger ports.Logger
}

// NewRunner creates a new Runner.
func NewRunner(logger ports.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the command line and blocks until the subprocess exits.
// The exit code is returned as data; err is reserved for failures to
// launch or observe the process.
func (r *Runner) Run(ctx context.Context, cmd ports.Command) (int, error) {
	proc := exec.CommandContext(ctx, "sh", "-c", cmd.Line) //nolint:gosec // user provided command
	proc.Dir = cmd.Cwd
	proc.Env = cmd.Env
	proc.Stdout = cmd.Stdout
	proc.Stderr = cmd.Stderr

	r.logger.Debug("running command", "line", cmd.Line, "cwd", cmd.Cwd)

	if err := proc.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, zerr.With(zerr.Wrap(err, "launching command"), "command", cmd.Line)
	}
	return 0, nil
}
