package ports

import "go.trai.ch/kiln/internal/core/domain"

// LockStore defines the interface for reading and writing the project lock file.
//
//go:generate mockgen -source=lock_store.go -destination=mocks/mock_lock_store.go -package=mocks
type LockStore interface {
	// Read loads the lock file at path. Returns nil, nil if the file does
	// not exist. Documents written by a newer format version are rejected.
	Read(path string) (*domain.LockDocument, error)

	// Write persists the document to path, replacing any previous content.
	Write(path string, doc *domain.LockDocument) error
}
