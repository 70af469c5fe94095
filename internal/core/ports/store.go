package ports

import "go.trai.ch/kiln/internal/core/domain"

// RunInfoStore defines the interface for storing and retrieving run records.
//
//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
type RunInfoStore interface {
	// Get retrieves the run info for a given key as produced by
	// domain.RunInfoKey. Returns nil, nil if not found.
	Get(key string) (*domain.RunInfo, error)

	// Put stores the run info.
	Put(key string, info domain.RunInfo) error
}
