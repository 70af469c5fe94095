package app

import (
	"go.trai.ch/kiln/internal/core/ports"
)

// Components contains the initialized application components the CLI
// layer needs access to.
type Components struct {
	App    *App
	Logger ports.Logger
}
