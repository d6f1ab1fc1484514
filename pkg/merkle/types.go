package merkle

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DigestLength is the size in bytes of every node in the tree.
const DigestLength = 32

// Digest is a 32-byte hash value. Leaves and internal nodes are both
// represented as digests once hashed.
type Digest [DigestLength]byte

// ZeroDigest is never produced for a real tree; it is only a placeholder.
var ZeroDigest Digest

// Hex returns the 0x-prefixed hex encoding of the digest.
func (d Digest) Hex() string {
	return hexutil.Encode(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// Bytes returns a copy of the digest as a byte slice.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestLength)
	copy(out, d[:])
	return out
}

// Less reports whether d sorts before o using unsigned lexicographic comparison.
func (d Digest) Less(o Digest) bool {
	return bytes.Compare(d[:], o[:]) < 0
}

// MarshalText encodes the digest as 0x-prefixed hex so JSON documents stay
// readable and match what Solidity tooling prints.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText decodes a 0x-prefixed, 32-byte hex string.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := DigestFromHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DigestFromHex parses a 0x-prefixed hex string into a Digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	raw, err := hexutil.Decode(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	if len(raw) != DigestLength {
		return d, fmt.Errorf("invalid digest length: expected %d bytes, got %d", DigestLength, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// DigestFromBytes copies a 32-byte slice into a Digest.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestLength {
		return d, fmt.Errorf("invalid digest length: expected %d bytes, got %d", DigestLength, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Tree is an immutable binary merkle tree stored as an arena of layers.
//
// layers[0] holds the leaf digests, layers[len-1] holds only the root.
// When a layer has an odd number of nodes the trailing node is promoted
// unchanged into the next layer.
type Tree struct {
	engine *Engine
	layers [][]Digest
	sorted bool
}

// Proof is an inclusion proof for a single leaf.
type Proof struct {
	// LeafIndex is the position of the leaf in layer 0
	LeafIndex int `json:"leafIndex"`

	// Leaf is the digest of the leaf being proven
	Leaf Digest `json:"leaf"`

	// Siblings are ordered from the leaf towards the root. Layers where the
	// node was promoted without a sibling contribute nothing.
	Siblings []Digest `json:"siblings"`
}

// MultiProof proves several leaves at once.
//
// Indices are ascending and Leaves[i] is the digest at Indices[i]. The tree
// is replayed one layer at a time from left to right; each pairing consumes
// one flag. Flags has exactly len(Leaves)-1+len(Proof) entries: true pairs a
// node with the next known node on its layer, false pairs it with the next
// digest from Proof. LeafCount fixes where promoted nodes pass through.
type MultiProof struct {
	LeafCount int      `json:"leafCount"`
	Indices   []int    `json:"indices"`
	Leaves    []Digest `json:"leaves"`
	Proof     []Digest `json:"proof"`
	Flags     []bool   `json:"flags"`
}
