// Package ports defines the core interfaces for the application.
package ports

import "go.trai.ch/kiln/internal/core/domain"

// ManifestLoader loads the project's declarative configuration. Parsing of
// the on-disk format is an adapter concern; the core only ever sees the
// typed, immutable Manifest.
//
//go:generate go run go.uber.org/mock/mockgen -source=manifest_loader.go -destination=mocks/mock_manifest_loader.go -package=mocks
type ManifestLoader interface {
	// Load reads the manifest from the given project directory.
	Load(dir string) (*domain.Manifest, error)
}
