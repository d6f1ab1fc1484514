// Package persistencetest holds the behaviour every ITreePersistence backend
// must share. Backend packages call Run from their own tests.
package persistencetest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty backend.
type Factory func(t *testing.T) persistence.ITreePersistence

// NewRecord builds a tree over n leaves labelled with tag and wraps it in a record.
func NewRecord(t *testing.T, tag string, n int) *persistence.TreeRecord {
	t.Helper()
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = []byte(fmt.Sprintf("%s-leaf-%d", tag, i))
	}
	tree, err := merkle.Build(leaves)
	require.NoError(t, err)
	return persistence.NewTreeRecord(tag, tree, "", leaves)
}

// Run exercises the full ITreePersistence contract.
func Run(t *testing.T, open Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(t, "save-load", 5)
		require.NoError(t, p.SaveTree(record))

		loaded, err := p.LoadTree(record.Root)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, record, loaded)

		tree, err := loaded.Rebuild()
		require.NoError(t, err)
		assert.Equal(t, record.Root, tree.Root())
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		loaded, err := p.LoadTree(NewRecord(t, "missing", 2).Root)
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveInvalid", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		err := p.SaveTree(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil TreeRecord")

		record := NewRecord(t, "invalid", 2)
		record.Leaves = nil
		require.Error(t, p.SaveTree(record))
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(t, "overwrite", 3)
		require.NoError(t, p.SaveTree(record))

		renamed := record.Clone()
		renamed.Name = "renamed"
		require.NoError(t, p.SaveTree(renamed))

		loaded, err := p.LoadTree(record.Root)
		require.NoError(t, err)
		assert.Equal(t, "renamed", loaded.Name)

		all, err := p.ListTrees()
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(t, "delete", 4)
		require.NoError(t, p.SaveTree(record))
		require.NoError(t, p.DeleteTree(record.Root))

		loaded, err := p.LoadTree(record.Root)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		// Idempotent
		require.NoError(t, p.DeleteTree(record.Root))
	})

	t.Run("List", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		empty, err := p.ListTrees()
		require.NoError(t, err)
		assert.Empty(t, empty)

		records := []*persistence.TreeRecord{
			NewRecord(t, "list-a", 2),
			NewRecord(t, "list-b", 3),
			NewRecord(t, "list-c", 4),
		}
		for i, r := range records {
			r.CreatedAt = int64(300 - i*100)
			require.NoError(t, p.SaveTree(r))
		}

		all, err := p.ListTrees()
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, records[2].Root, all[0].Root)
		assert.Equal(t, records[1].Root, all[1].Root)
		assert.Equal(t, records[0].Root, all[2].Root)
	})

	t.Run("DeepCopy", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(t, "copy", 2)
		require.NoError(t, p.SaveTree(record))

		// Mutating the caller's record must not affect what was stored
		record.Leaves[0][0] ^= 0xff
		record.Name = "mutated"

		loaded, err := p.LoadTree(record.Root)
		require.NoError(t, err)
		assert.Equal(t, "copy", loaded.Name)
		_, err = loaded.Rebuild()
		require.NoError(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		p := open(t)
		require.NoError(t, p.HealthCheck())
		require.NoError(t, p.Close())

		// Idempotent
		require.NoError(t, p.Close())

		record := NewRecord(t, "closed", 2)
		assert.Error(t, p.SaveTree(record))
		_, err := p.LoadTree(record.Root)
		assert.Error(t, err)
		_, err = p.ListTrees()
		assert.Error(t, err)
		assert.Error(t, p.DeleteTree(record.Root))
		assert.Error(t, p.HealthCheck())
	})

	t.Run("ThreadSafety", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		const workers = 8
		records := make([]*persistence.TreeRecord, workers)
		for i := range records {
			records[i] = NewRecord(t, fmt.Sprintf("concurrent-%d", i), 3+i)
		}

		var wg sync.WaitGroup
		errs := make(chan error, workers*3)
		for _, r := range records {
			wg.Add(1)
			go func(r *persistence.TreeRecord) {
				defer wg.Done()
				if err := p.SaveTree(r); err != nil {
					errs <- err
					return
				}
				if _, err := p.LoadTree(r.Root); err != nil {
					errs <- err
				}
				if _, err := p.ListTrees(); err != nil {
					errs <- err
				}
			}(r)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		all, err := p.ListTrees()
		require.NoError(t, err)
		assert.Len(t, all, workers)
	})
}
