package merkle

import (
	"fmt"

	"github.com/transparency-dev/merkle/compact"
)

// RootBuilder computes the root of a tree one leaf at a time while only
// keeping O(log n) digests in memory. It produces the same root as Build for
// the same leaves in the same order; sorted trees are not supported since
// sorting needs every leaf up front.
//
// The layered tree with promoted odd nodes has the same shape as an
// RFC 6962 tree, which is what compact ranges maintain.
type RootBuilder struct {
	engine *Engine
	rng    *compact.Range
}

// NewRootBuilder returns an empty builder. A nil engine selects DefaultEngine.
func NewRootBuilder(e *Engine) *RootBuilder {
	e = engineOrDefault(e)
	factory := &compact.RangeFactory{
		Hash: func(left, right []byte) []byte {
			var l, r Digest
			copy(l[:], left)
			copy(r[:], right)
			parent := e.NodeDigest(l, r)
			return parent[:]
		},
	}
	return &RootBuilder{
		engine: e,
		rng:    factory.NewEmptyRange(0),
	}
}

// AddLeaf hashes and appends a caller-encoded leaf.
func (b *RootBuilder) AddLeaf(leaf []byte) error {
	return b.AddDigest(b.engine.LeafDigest(leaf))
}

// AddDigest appends an already hashed leaf.
func (b *RootBuilder) AddDigest(d Digest) error {
	if err := b.rng.Append(d.Bytes(), nil); err != nil {
		return fmt.Errorf("failed to append leaf %d: %w", b.rng.End(), err)
	}
	return nil
}

// Count returns the number of leaves appended so far.
func (b *RootBuilder) Count() uint64 {
	return b.rng.End()
}

// Root returns the root over every appended leaf.
func (b *RootBuilder) Root() (Digest, error) {
	if b.rng.End() == 0 {
		return ZeroDigest, ErrEmptyInput
	}
	hash, err := b.rng.GetRootHash(nil)
	if err != nil {
		return ZeroDigest, fmt.Errorf("failed to compute root: %w", err)
	}
	return DigestFromBytes(hash)
}
