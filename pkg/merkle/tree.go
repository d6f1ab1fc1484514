package merkle

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// minParallelChunk is the smallest number of hashes handed to one worker.
// Below this the goroutine overhead outweighs the hashing work.
const minParallelChunk = 256

type buildConfig struct {
	scheme  Scheme
	hash    HashFunction
	engine  *Engine
	sorted  bool
	workers int
}

// Option configures Build and BuildFromDigests.
type Option func(*buildConfig)

// WithEngine uses a preconfigured engine. It takes precedence over
// WithScheme and WithHashFunction.
func WithEngine(e *Engine) Option {
	return func(c *buildConfig) {
		c.engine = e
	}
}

// WithScheme selects the hashing scheme (default SchemeTagged).
func WithScheme(s Scheme) Option {
	return func(c *buildConfig) {
		c.scheme = s
	}
}

// WithHashFunction replaces the keccak256 primitive.
func WithHashFunction(h HashFunction) Option {
	return func(c *buildConfig) {
		c.hash = h
	}
}

// WithSortedLeaves sorts the leaf digests ascending and removes duplicates
// before the layers are built. Leaf indices then refer to sorted positions.
func WithSortedLeaves() Option {
	return func(c *buildConfig) {
		c.sorted = true
	}
}

// WithParallelism hashes each layer with up to workers goroutines. Layers
// are still built one after another.
func WithParallelism(workers int) Option {
	return func(c *buildConfig) {
		c.workers = workers
	}
}

func newBuildConfig(opts []Option) (*buildConfig, error) {
	cfg := &buildConfig{scheme: SchemeTagged}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.engine == nil {
		e, err := NewEngine(cfg.scheme, cfg.hash)
		if err != nil {
			return nil, err
		}
		cfg.engine = e
	}
	return cfg, nil
}

// Build creates a merkle tree from caller-encoded leaves, in input order.
func Build(leaves [][]byte, opts ...Option) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyInput
	}

	cfg, err := newBuildConfig(opts)
	if err != nil {
		return nil, err
	}

	digests := make([]Digest, len(leaves))
	err = forEachChunk(len(leaves), cfg.workers, func(start, end int) {
		for i := start; i < end; i++ {
			digests[i] = cfg.engine.LeafDigest(leaves[i])
		}
	})
	if err != nil {
		return nil, err
	}

	return buildLayers(digests, cfg)
}

// BuildFromDigests creates a merkle tree from leaf digests that have already
// been through Engine.LeafDigest. The input slice is not retained.
func BuildFromDigests(leaves []Digest, opts ...Option) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyInput
	}

	cfg, err := newBuildConfig(opts)
	if err != nil {
		return nil, err
	}

	digests := make([]Digest, len(leaves))
	copy(digests, leaves)

	return buildLayers(digests, cfg)
}

func buildLayers(leaves []Digest, cfg *buildConfig) (*Tree, error) {
	if cfg.sorted {
		leaves = sortAndDedup(leaves)
	}

	levels := [][]Digest{leaves}
	current := leaves
	for len(current) > 1 {
		next, err := nextLayer(cfg.engine, current, cfg.workers)
		if err != nil {
			return nil, err
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{
		engine: cfg.engine,
		layers: levels,
		sorted: cfg.sorted,
	}, nil
}

// nextLayer pairs adjacent nodes left to right. An unpaired trailing node
// is carried up unchanged.
func nextLayer(e *Engine, current []Digest, workers int) ([]Digest, error) {
	next := make([]Digest, (len(current)+1)/2)
	pairs := len(current) / 2

	err := forEachChunk(pairs, workers, func(start, end int) {
		for i := start; i < end; i++ {
			next[i] = e.NodeDigest(current[2*i], current[2*i+1])
		}
	})
	if err != nil {
		return nil, err
	}

	if len(current)%2 == 1 {
		next[len(next)-1] = current[len(current)-1]
	}
	return next, nil
}

// forEachChunk runs fn over [0, n) split into contiguous chunks, using up
// to workers goroutines.
func forEachChunk(n, workers int, fn func(start, end int)) error {
	if workers <= 1 || n < 2*minParallelChunk {
		fn(0, n)
		return nil
	}

	chunk := (n + workers - 1) / workers
	if chunk < minParallelChunk {
		chunk = minParallelChunk
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		start, end := start, min(start+chunk, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	return g.Wait()
}

func sortAndDedup(leaves []Digest) []Digest {
	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].Less(leaves[j])
	})

	out := leaves[:0]
	for i, d := range leaves {
		if i > 0 && d == out[len(out)-1] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Root returns the merkle root.
func (t *Tree) Root() Digest {
	return t.layers[len(t.layers)-1][0]
}

// Engine returns the engine the tree was hashed with.
func (t *Tree) Engine() *Engine {
	return t.engine
}

// LeafCount returns the number of leaves in layer 0. For sorted trees this
// is the count after duplicates were removed.
func (t *Tree) LeafCount() int {
	return len(t.layers[0])
}

// Depth returns the number of layers above the leaves.
func (t *Tree) Depth() int {
	return len(t.layers) - 1
}

// Sorted reports whether the tree was built with WithSortedLeaves.
func (t *Tree) Sorted() bool {
	return t.sorted
}

// LeafDigest returns the digest stored at the given leaf position.
func (t *Tree) LeafDigest(index int) (Digest, error) {
	if index < 0 || index >= len(t.layers[0]) {
		return ZeroDigest, fmt.Errorf("%w: index %d (tree has %d leaves)", ErrIndexOutOfRange, index, len(t.layers[0]))
	}
	return t.layers[0][index], nil
}

// Leaves returns a copy of the leaf digests.
func (t *Tree) Leaves() []Digest {
	out := make([]Digest, len(t.layers[0]))
	copy(out, t.layers[0])
	return out
}

// Layers returns a deep copy of every layer, leaves first.
func (t *Tree) Layers() [][]Digest {
	out := make([][]Digest, len(t.layers))
	for i, layer := range t.layers {
		out[i] = make([]Digest, len(layer))
		copy(out[i], layer)
	}
	return out
}

// IndexOf returns the first position of a leaf digest in layer 0.
func (t *Tree) IndexOf(leaf Digest) (int, bool) {
	leaves := t.layers[0]
	if t.sorted {
		i := sort.Search(len(leaves), func(i int) bool {
			return bytes.Compare(leaves[i][:], leaf[:]) >= 0
		})
		if i < len(leaves) && leaves[i] == leaf {
			return i, true
		}
		return -1, false
	}

	for i, d := range leaves {
		if d == leaf {
			return i, true
		}
	}
	return -1, false
}
