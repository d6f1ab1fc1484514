package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of rebuilt trees kept when Config.CacheSize is zero.
const DefaultCacheSize = 256

// cachedTree pairs a rebuilt tree with the record it came from.
type cachedTree struct {
	record *persistence.TreeRecord
	tree   *merkle.Tree
}

// treeCache keeps the most recently used rebuilt trees in memory. Misses load
// the record from the store and rebuild it; concurrent misses for one root
// share a single rebuild.
type treeCache struct {
	store   persistence.ITreePersistence
	metrics *metrics
	trees   *lru.Cache[merkle.Digest, *cachedTree]
	group   singleflight.Group

	// mu orders inserts against evictions. A root's generation moves on every
	// eviction so a load that started before a delete is not cached after it.
	mu          sync.Mutex
	generations map[merkle.Digest]uint64
}

func newTreeCache(store persistence.ITreePersistence, m *metrics, size int) (*treeCache, error) {
	trees, err := lru.New[merkle.Digest, *cachedTree](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree cache: %w", err)
	}
	return &treeCache{
		store:       store,
		metrics:     m,
		trees:       trees,
		generations: make(map[merkle.Digest]uint64),
	}, nil
}

// put records a tree that was just built and saved.
func (c *treeCache) put(record *persistence.TreeRecord, tree *merkle.Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(&cachedTree{record: record, tree: tree})
}

func (c *treeCache) add(entry *cachedTree) {
	c.trees.Add(entry.record.Root, entry)
	c.metrics.cachedTrees.Set(float64(c.trees.Len()))
}

func (c *treeCache) generation(root merkle.Digest) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[root]
}

// putIfCurrent caches entry only if root was not evicted since gen was read.
func (c *treeCache) putIfCurrent(entry *cachedTree, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[entry.record.Root] != gen {
		return false
	}
	c.add(entry)
	return true
}

func (c *treeCache) evict(root merkle.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[root]++
	c.trees.Remove(root)
	c.group.Forget(root.Hex())
	c.metrics.cachedTrees.Set(float64(c.trees.Len()))
}

// peek returns the cached entry without touching the store or recency.
func (c *treeCache) peek(root merkle.Digest) *cachedTree {
	entry, _ := c.trees.Peek(root)
	return entry
}

// get returns the tree for root, or nil when the store has no such tree.
func (c *treeCache) get(root merkle.Digest) (*cachedTree, error) {
	if entry, ok := c.trees.Get(root); ok {
		return entry, nil
	}

	v, err, _ := c.group.Do(root.Hex(), func() (interface{}, error) {
		gen := c.generation(root)

		record, err := c.store.LoadTree(root)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return (*cachedTree)(nil), nil
		}

		start := time.Now()
		tree, err := record.Rebuild()
		if err != nil {
			return nil, fmt.Errorf("stored tree %s is unusable: %w", root, err)
		}
		c.metrics.buildDuration.Observe(time.Since(start).Seconds())

		entry := &cachedTree{record: record, tree: tree}
		c.putIfCurrent(entry, gen)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cachedTree), nil
}
