package merkle

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// frontierNode is a known node on the layer currently being advanced.
type frontierNode struct {
	pos    int
	digest Digest
}

// GetMultiProof creates a proof for several leaves at once.
//
// The requested leaves seed a frontier sorted by position. Each layer is
// advanced left to right: a node whose sibling is the next frontier entry is
// combined with it (flag true), a node whose sibling is unknown is combined
// with a proof digest (flag false), and a promoted trailing node moves up
// without consuming a flag.
//
// The flags follow positional replay, so ProcessMultiProof is the matching
// verifier. OpenZeppelin's multiProofVerify consumes a FIFO queue instead and
// computes a different root whenever a promoted node takes part.
func (t *Tree) GetMultiProof(indices []int) (*MultiProof, error) {
	if len(indices) == 0 {
		return nil, ErrEmptyRequest
	}

	leafCount := len(t.layers[0])
	seen := bitset.New(uint(leafCount))
	for _, index := range indices {
		if index < 0 || index >= leafCount {
			return nil, fmt.Errorf("%w: index %d (tree has %d leaves)", ErrIndexOutOfRange, index, leafCount)
		}
		if seen.Test(uint(index)) {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateIndex, index)
		}
		seen.Set(uint(index))
	}

	mp := &MultiProof{
		LeafCount: leafCount,
		Indices:   make([]int, 0, len(indices)),
		Leaves:    make([]Digest, 0, len(indices)),
		Proof:     make([]Digest, 0),
		Flags:     make([]bool, 0, len(indices)),
	}

	frontier := make([]frontierNode, 0, len(indices))
	for i, ok := seen.NextSet(0); ok; i, ok = seen.NextSet(i + 1) {
		pos := int(i)
		mp.Indices = append(mp.Indices, pos)
		mp.Leaves = append(mp.Leaves, t.layers[0][pos])
		frontier = append(frontier, frontierNode{pos: pos, digest: t.layers[0][pos]})
	}

	for level := 0; level < len(t.layers)-1; level++ {
		layer := t.layers[level]
		next := make([]frontierNode, 0, (len(frontier)+1)/2)

		for i := 0; i < len(frontier); {
			current := frontier[i]
			i++

			sibling := current.pos ^ 1
			switch {
			case sibling >= len(layer):
				// Promoted node, carried up unchanged.
				next = append(next, frontierNode{pos: current.pos >> 1, digest: current.digest})
				continue
			case i < len(frontier) && frontier[i].pos == sibling:
				mp.Flags = append(mp.Flags, true)
				i++
			default:
				mp.Flags = append(mp.Flags, false)
				mp.Proof = append(mp.Proof, layer[sibling])
			}

			parent := current.pos >> 1
			next = append(next, frontierNode{pos: parent, digest: t.layers[level+1][parent]})
		}

		frontier = next
	}

	return mp, nil
}

// ProcessMultiProof replays flags against the leaf digests and proof digests
// and returns the implied root.
//
// indices must be strictly ascending and leaves[i] is the digest at
// indices[i]. leafCount is the size of layer 0, which fixes where promoted
// nodes occur. Every flag and every proof digest must be consumed exactly
// once; any inconsistency returns ErrMalformedProof.
func ProcessMultiProof(e *Engine, leafCount int, indices []int, leaves, proof []Digest, flags []bool) (Digest, error) {
	e = engineOrDefault(e)

	if len(leaves) == 0 || len(leaves) != len(indices) {
		return ZeroDigest, fmt.Errorf("%w: %d leaves for %d indices", ErrMalformedProof, len(leaves), len(indices))
	}
	if leafCount < len(leaves) {
		return ZeroDigest, fmt.Errorf("%w: %d leaves in a tree of %d", ErrMalformedProof, len(leaves), leafCount)
	}
	if len(leaves)+len(proof) != len(flags)+1 {
		return ZeroDigest, fmt.Errorf("%w: %d leaves and %d proof digests need %d flags, got %d",
			ErrMalformedProof, len(leaves), len(proof), len(leaves)+len(proof)-1, len(flags))
	}

	frontier := make([]frontierNode, len(leaves))
	for i, index := range indices {
		if index < 0 || index >= leafCount || (i > 0 && index <= indices[i-1]) {
			return ZeroDigest, fmt.Errorf("%w: indices must be ascending and below %d", ErrMalformedProof, leafCount)
		}
		frontier[i] = frontierNode{pos: index, digest: leaves[i]}
	}

	flagPos, proofPos := 0, 0
	for size := leafCount; size > 1; size = (size + 1) / 2 {
		next := make([]frontierNode, 0, (len(frontier)+1)/2)

		for i := 0; i < len(frontier); {
			current := frontier[i]
			i++

			sibling := current.pos ^ 1
			if sibling >= size {
				next = append(next, frontierNode{pos: current.pos >> 1, digest: current.digest})
				continue
			}

			if flagPos >= len(flags) {
				return ZeroDigest, fmt.Errorf("%w: flags exhausted", ErrMalformedProof)
			}
			flag := flags[flagPos]
			flagPos++

			haveSibling := i < len(frontier) && frontier[i].pos == sibling
			if flag != haveSibling {
				return ZeroDigest, fmt.Errorf("%w: flag %d does not match position %d", ErrMalformedProof, flagPos-1, current.pos)
			}

			var other Digest
			if flag {
				other = frontier[i].digest
				i++
			} else {
				if proofPos >= len(proof) {
					return ZeroDigest, fmt.Errorf("%w: proof exhausted", ErrMalformedProof)
				}
				other = proof[proofPos]
				proofPos++
			}

			next = append(next, frontierNode{pos: current.pos >> 1, digest: e.NodeDigest(current.digest, other)})
		}

		frontier = next
	}

	if flagPos != len(flags) || proofPos != len(proof) || len(frontier) != 1 {
		return ZeroDigest, fmt.Errorf("%w: unconsumed inputs", ErrMalformedProof)
	}
	return frontier[0].digest, nil
}

// VerifyMultiProof reports whether every leaf is included under root.
// leaves[i] is the caller-encoded leaf at indices[i]; the pairs may be given
// in any order.
func VerifyMultiProof(e *Engine, leaves [][]byte, indices []int, mp *MultiProof, root Digest) bool {
	if mp == nil || len(leaves) == 0 || len(leaves) != len(indices) {
		return false
	}
	e = engineOrDefault(e)

	order := make([]int, len(indices))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return indices[order[a]] < indices[order[b]]
	})

	sortedIndices := make([]int, len(indices))
	digests := make([]Digest, len(indices))
	for i, o := range order {
		sortedIndices[i] = indices[o]
		digests[i] = e.LeafDigest(leaves[o])
	}

	computed, err := ProcessMultiProof(e, mp.LeafCount, sortedIndices, digests, mp.Proof, mp.Flags)
	if err != nil {
		return false
	}
	return computed == root
}

// Verify checks the multiproof's own leaf digests against root.
func (mp *MultiProof) Verify(e *Engine, root Digest) bool {
	if mp == nil {
		return false
	}
	computed, err := ProcessMultiProof(e, mp.LeafCount, mp.Indices, mp.Leaves, mp.Proof, mp.Flags)
	if err != nil {
		return false
	}
	return computed == root
}
