// Package calldata abi-encodes proofs as arguments for Solidity verifiers.
package calldata

import (
	"fmt"
	"math/big"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/util"
)

var (
	// (bytes32[] proof, bytes32 root, bytes32 leaf)
	proofArgs = util.MustArguments("bytes32[]", "bytes32", "bytes32")

	// (bytes32[] proof, bool[] flags, bytes32 root, bytes32[] leaves, uint256[] indices, uint256 leafCount)
	multiProofArgs = util.MustArguments("bytes32[]", "bool[]", "bytes32", "bytes32[]", "uint256[]", "uint256")
)

func toWords(ds []merkle.Digest) [][32]byte {
	out := make([][32]byte, len(ds))
	for i, d := range ds {
		out[i] = d
	}
	return out
}

func fromWords(ws [][32]byte) []merkle.Digest {
	out := make([]merkle.Digest, len(ws))
	for i, w := range ws {
		out[i] = w
	}
	return out
}

// EncodeProof packs a single inclusion proof.
func EncodeProof(proof []merkle.Digest, root, leaf merkle.Digest) ([]byte, error) {
	data, err := proofArgs.Pack(toWords(proof), [32]byte(root), [32]byte(leaf))
	if err != nil {
		return nil, fmt.Errorf("failed to pack proof: %w", err)
	}
	return data, nil
}

// DecodeProof reverses EncodeProof.
func DecodeProof(data []byte) (proof []merkle.Digest, root, leaf merkle.Digest, err error) {
	values, err := proofArgs.Unpack(data)
	if err != nil {
		return nil, root, leaf, fmt.Errorf("failed to unpack proof: %w", err)
	}

	words, ok1 := values[0].([][32]byte)
	r, ok2 := values[1].([32]byte)
	l, ok3 := values[2].([32]byte)
	if !ok1 || !ok2 || !ok3 {
		return nil, root, leaf, fmt.Errorf("unexpected proof argument types %T, %T, %T", values[0], values[1], values[2])
	}
	return fromWords(words), r, l, nil
}

// EncodeMultiProof packs a multiproof together with its root. The layout
// carries leafCount for a positional verifier; it is not an argument list for
// OpenZeppelin's multiProofVerify, which computes a different root when a
// promoted node takes part.
func EncodeMultiProof(mp *merkle.MultiProof, root merkle.Digest) ([]byte, error) {
	if mp == nil {
		return nil, fmt.Errorf("nil multiproof")
	}

	indices := make([]*big.Int, len(mp.Indices))
	for i, idx := range mp.Indices {
		indices[i] = big.NewInt(int64(idx))
	}

	flags := mp.Flags
	if flags == nil {
		flags = []bool{}
	}

	data, err := multiProofArgs.Pack(
		toWords(mp.Proof),
		flags,
		[32]byte(root),
		toWords(mp.Leaves),
		indices,
		big.NewInt(int64(mp.LeafCount)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack multiproof: %w", err)
	}
	return data, nil
}

// DecodeMultiProof reverses EncodeMultiProof.
func DecodeMultiProof(data []byte) (*merkle.MultiProof, merkle.Digest, error) {
	values, err := multiProofArgs.Unpack(data)
	if err != nil {
		return nil, merkle.ZeroDigest, fmt.Errorf("failed to unpack multiproof: %w", err)
	}

	proof, ok1 := values[0].([][32]byte)
	flags, ok2 := values[1].([]bool)
	root, ok3 := values[2].([32]byte)
	leaves, ok4 := values[3].([][32]byte)
	indices, ok5 := values[4].([]*big.Int)
	leafCount, ok6 := values[5].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return nil, merkle.ZeroDigest, fmt.Errorf("unexpected multiproof argument types")
	}

	if !leafCount.IsInt64() {
		return nil, merkle.ZeroDigest, fmt.Errorf("leaf count %s out of range", leafCount)
	}
	mp := &merkle.MultiProof{
		LeafCount: int(leafCount.Int64()),
		Indices:   make([]int, len(indices)),
		Leaves:    fromWords(leaves),
		Proof:     fromWords(proof),
		Flags:     flags,
	}
	for i, idx := range indices {
		if !idx.IsInt64() {
			return nil, merkle.ZeroDigest, fmt.Errorf("index %s out of range", idx)
		}
		mp.Indices[i] = int(idx.Int64())
	}
	return mp, root, nil
}
