package memory

import (
	"fmt"
	"sync"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	"go.uber.org/zap"
)

// MemoryPersistence is an in-memory implementation of ITreePersistence.
// This implementation is intended for TESTING and local development.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies records to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Tree storage: root -> TreeRecord
	trees map[merkle.Digest]*persistence.TreeRecord

	// Closed flag
	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Logs a loud warning since stored trees do not survive a restart.
func NewMemoryPersistence(logger *zap.Logger) *MemoryPersistence {
	if logger != nil {
		logger.Sugar().Warnw("Using in-memory persistence - ALL TREES WILL BE LOST ON RESTART",
			"hint", "set MERKLE_PERSISTENCE_TYPE=badger or redis for durable storage")
	}

	return &MemoryPersistence{
		trees: make(map[merkle.Digest]*persistence.TreeRecord),
	}
}

// SaveTree persists a tree record.
func (m *MemoryPersistence) SaveTree(record *persistence.TreeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.trees[record.Root] = record.Clone()
	return nil
}

// LoadTree retrieves a tree record by root.
func (m *MemoryPersistence) LoadTree(root merkle.Digest) (*persistence.TreeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	record, exists := m.trees[root]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return record.Clone(), nil
}

// ListTrees returns all tree records ordered by creation time.
func (m *MemoryPersistence) ListTrees() ([]*persistence.TreeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*persistence.TreeRecord, 0, len(m.trees))
	for _, record := range m.trees {
		result = append(result, record.Clone())
	}
	persistence.SortRecords(result)

	return result, nil
}

// DeleteTree removes a tree record.
func (m *MemoryPersistence) DeleteTree(root merkle.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	delete(m.trees, root)
	return nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return nil
}
