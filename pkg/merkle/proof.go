package merkle

import "fmt"

// GetProof creates an inclusion proof for the leaf at the given index.
// The proof consists of sibling digests along the path from leaf to root.
func (t *Tree) GetProof(index int) (*Proof, error) {
	if index < 0 || index >= len(t.layers[0]) {
		return nil, fmt.Errorf("%w: index %d (tree has %d leaves)", ErrIndexOutOfRange, index, len(t.layers[0]))
	}

	siblings := make([]Digest, 0, len(t.layers)-1)
	pos := index
	for level := 0; level < len(t.layers)-1; level++ {
		layer := t.layers[level]

		// A promoted node has no sibling on this layer and passes through.
		if sibling := pos ^ 1; sibling < len(layer) {
			siblings = append(siblings, layer[sibling])
		}
		pos >>= 1
	}

	return &Proof{
		LeafIndex: index,
		Leaf:      t.layers[0][index],
		Siblings:  siblings,
	}, nil
}

// GetProofForLeaf looks up the first occurrence of leaf and returns its proof.
func (t *Tree) GetProofForLeaf(leaf []byte) (*Proof, error) {
	index, ok := t.IndexOf(t.engine.LeafDigest(leaf))
	if !ok {
		return nil, ErrLeafNotFound
	}
	return t.GetProof(index)
}

// ProcessProof folds a proof into the root it implies for the given leaf digest.
func ProcessProof(e *Engine, leaf Digest, proof []Digest) Digest {
	e = engineOrDefault(e)

	computed := leaf
	for _, sibling := range proof {
		computed = e.NodeDigest(computed, sibling)
	}
	return computed
}

// VerifyProof reports whether leaf is included under root. Pair hashing is
// order-insensitive, so index only has to be a valid position; the
// left/right orientation at each layer does not need to be tracked.
func VerifyProof(e *Engine, leaf []byte, index int, proof []Digest, root Digest) bool {
	if index < 0 {
		return false
	}
	e = engineOrDefault(e)
	return ProcessProof(e, e.LeafDigest(leaf), proof) == root
}

// Verify checks the proof's leaf digest against root.
func (p *Proof) Verify(e *Engine, root Digest) bool {
	if p == nil || p.LeafIndex < 0 {
		return false
	}
	return ProcessProof(e, p.Leaf, p.Siblings) == root
}
