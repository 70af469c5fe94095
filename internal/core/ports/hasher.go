package ports

// Hasher defines the interface for content hashing.
//
//go:generate mockgen -destination=mocks/mock_hasher.go -package=mocks -source=hasher.go
type Hasher interface {
	// ComputeFingerprint computes the cache fingerprint for a rendered task
	// invocation. files are resolved input paths relative to root; envKey
	// identifies the environment the task runs in so that re-solving an
	// environment invalidates its tasks.
	ComputeFingerprint(root string, files []string, command string, envKey string) (string, error)

	// HashTree computes a stable content hash over every regular file under
	// dir, used to detect stale editable package installs.
	HashTree(dir string) (string, error)
}
