package ports

import (
	"context"
	"io"
)

// Command is one shell invocation: the fully rendered command string plus
// its working directory and environment.
type Command struct {
	// Line is passed verbatim to the portable shell interpreter.
	Line string
	// Cwd is the working directory; empty means the project root the
	// runner was constructed with.
	Cwd string
	// Env is the complete environment in "KEY=VALUE" form. The runner
	// does not inherit anything on its own; layering is the caller's
	// responsibility.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// CommandRunner executes commands through the portable shell capability.
// It blocks until the subprocess exits.
//
//go:generate go run go.uber.org/mock/mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type CommandRunner interface {
	// Run executes the command and returns its exit code. A non-zero
	// exit code is not an error; err is reserved for failures to launch
	// or observe the process.
	Run(ctx context.Context, cmd Command) (int, error)
}
