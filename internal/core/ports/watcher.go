package ports

import (
	"context"
	"iter"
)

// WatchOp classifies a file system change.
type WatchOp uint8

const (
	// OpCreate marks a created file or directory.
	OpCreate WatchOp = iota
	// OpWrite marks a modified file.
	OpWrite
	// OpRemove marks a removed file or directory.
	OpRemove
	// OpRename marks a renamed file or directory.
	OpRename
)

// WatchEvent is one observed change under a watched project root.
type WatchEvent struct {
	// Path is the absolute path that changed.
	Path string
	// Operation classifies the change.
	Operation WatchOp
}

// Watcher observes a project root for file changes, feeding watch-mode
// task reruns. Implementations pick up directories created after Start.
type Watcher interface {
	// Start begins watching root recursively.
	Start(ctx context.Context, root string) error
	// Stop ends the watch and releases resources.
	Stop() error
	// Events yields observed changes until the watcher stops.
	Events() iter.Seq[WatchEvent]
}
