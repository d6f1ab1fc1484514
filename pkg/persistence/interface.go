package persistence

import "github.com/AnonJon/oz-merkle-go/pkg/merkle"

// ITreePersistence stores built trees so proofs can be served after a restart.
// All implementations must be thread-safe as the proof server handles
// requests concurrently.
//
// Trees are keyed by their root. The stored leaves are the caller-encoded
// bytes, which is enough to rebuild every layer.
type ITreePersistence interface {
	// SaveTree persists a tree record keyed by its root.
	// Overwrites any existing record with the same root (idempotent).
	SaveTree(record *TreeRecord) error

	// LoadTree retrieves a tree record by root.
	// Returns nil if the tree doesn't exist, error only on storage failure.
	LoadTree(root merkle.Digest) (*TreeRecord, error)

	// ListTrees returns every stored tree ordered by creation time, then root.
	// Returns empty slice if no trees exist, error only on storage failure.
	ListTrees() ([]*TreeRecord, error)

	// DeleteTree removes a tree by root.
	// Idempotent - returns nil if the tree doesn't exist.
	DeleteTree(root merkle.Digest) error

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
