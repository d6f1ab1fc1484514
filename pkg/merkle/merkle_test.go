package merkle

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// createTestLeaves creates n distinct caller-encoded leaves
func createTestLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := 0; i < n; i++ {
		leaves[i] = []byte(fmt.Sprintf("leaf-%04d", i))
	}
	return leaves
}

// randomDigest generates a random 32-byte digest for testing
func randomDigest() Digest {
	var d Digest
	_, _ = rand.Read(d[:]) // Ignore error in test helper
	return d
}

// TestBuild tests tree construction and proof round trips for various sizes
func TestBuild(t *testing.T) {
	testCases := []struct {
		name      string
		numLeaves int
	}{
		{"Single leaf", 1},
		{"Two leaves", 2},
		{"Three leaves", 3},
		{"Four leaves (power of 2)", 4},
		{"Five leaves", 5},
		{"Seven leaves", 7},
		{"Eight leaves (power of 2)", 8},
		{"Fifteen leaves", 15},
		{"Sixteen leaves (power of 2)", 16},
		{"Seventeen leaves", 17},
		{"Hundred leaves", 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			leaves := createTestLeaves(tc.numLeaves)
			tree, err := Build(leaves)
			require.NoError(t, err)
			require.NotNil(t, tree)

			require.Equal(t, tc.numLeaves, tree.LeafCount())
			require.NotEqual(t, ZeroDigest, tree.Root())

			// Every layer is ceil(previous / 2) long and ends with the root
			layers := tree.Layers()
			for i := 0; i+1 < len(layers); i++ {
				require.Equal(t, (len(layers[i])+1)/2, len(layers[i+1]))
			}
			require.Len(t, layers[len(layers)-1], 1)

			for i := 0; i < tc.numLeaves; i++ {
				proof, err := tree.GetProof(i)
				require.NoError(t, err)
				require.Equal(t, i, proof.LeafIndex)
				require.Equal(t, tree.Engine().LeafDigest(leaves[i]), proof.Leaf)
				require.LessOrEqual(t, len(proof.Siblings), tree.Depth())

				require.True(t, VerifyProof(nil, leaves[i], i, proof.Siblings, tree.Root()), "Proof for leaf %d should be valid", i)
				require.True(t, proof.Verify(nil, tree.Root()))
			}
		})
	}
}

// TestBuildEmpty tests that building a tree from no leaves fails
func TestBuildEmpty(t *testing.T) {
	tree, err := Build(nil)
	require.ErrorIs(t, err, ErrEmptyInput)
	require.Nil(t, tree)

	tree, err = BuildFromDigests([]Digest{})
	require.ErrorIs(t, err, ErrEmptyInput)
	require.Nil(t, tree)
}

// TestBuildUnknownScheme tests that an unsupported scheme is rejected
func TestBuildUnknownScheme(t *testing.T) {
	_, err := Build(createTestLeaves(2), WithScheme("sideways"))
	require.ErrorIs(t, err, ErrUnknownScheme)
}

// TestThreeLeafTree walks the a, b, c example by hand
func TestThreeLeafTree(t *testing.T) {
	e := DefaultEngine()
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c")}

	tree, err := Build(leaves)
	require.NoError(t, err)

	ha, hb, hc := e.LeafDigest(leaves[0]), e.LeafDigest(leaves[1]), e.LeafDigest(leaves[2])
	layers := tree.Layers()
	require.Equal(t, []Digest{ha, hb, hc}, layers[0])
	require.Equal(t, []Digest{e.NodeDigest(ha, hb), hc}, layers[1])
	require.Equal(t, e.NodeDigest(layers[1][0], layers[1][1]), tree.Root())

	proof, err := tree.GetProof(2)
	require.NoError(t, err)
	require.Equal(t, []Digest{layers[1][0]}, proof.Siblings)
	require.Equal(t, tree.Root(), e.NodeDigest(e.LeafDigest([]byte("c")), proof.Siblings[0]))
}

// TestSingleLeafTree tests the degenerate tree with only a root
func TestSingleLeafTree(t *testing.T) {
	leaf := []byte("only")
	tree, err := Build([][]byte{leaf})
	require.NoError(t, err)

	require.Equal(t, DefaultEngine().LeafDigest(leaf), tree.Root())
	require.Equal(t, 0, tree.Depth())

	proof, err := tree.GetProof(0)
	require.NoError(t, err)
	require.Empty(t, proof.Siblings)
	require.True(t, VerifyProof(nil, leaf, 0, proof.Siblings, tree.Root()))
}

// TestGetProofInvalidIndex tests proof generation with invalid indices
func TestGetProofInvalidIndex(t *testing.T) {
	tree, err := Build(createTestLeaves(4))
	require.NoError(t, err)

	t.Run("Negative index", func(t *testing.T) {
		proof, err := tree.GetProof(-1)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
		require.Nil(t, proof)
	})

	t.Run("Index out of bounds", func(t *testing.T) {
		proof, err := tree.GetProof(4)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
		require.Nil(t, proof)
	})
}

// TestProofVerification tests that any tampering makes verification fail
func TestProofVerification(t *testing.T) {
	leaves := createTestLeaves(11)
	tree, err := Build(leaves)
	require.NoError(t, err)

	for i := range leaves {
		proof, err := tree.GetProof(i)
		require.NoError(t, err)

		t.Run(fmt.Sprintf("Leaf_%d", i), func(t *testing.T) {
			require.True(t, VerifyProof(nil, leaves[i], i, proof.Siblings, tree.Root()))

			// Tamper with each byte of the leaf
			for b := range leaves[i] {
				tampered := append([]byte{}, leaves[i]...)
				tampered[b] ^= 0x01
				require.False(t, VerifyProof(nil, tampered, i, proof.Siblings, tree.Root()))
			}

			// Tamper with each sibling
			for s := range proof.Siblings {
				siblings := append([]Digest{}, proof.Siblings...)
				siblings[s][DigestLength-1] ^= 0x80
				require.False(t, VerifyProof(nil, leaves[i], i, siblings, tree.Root()))
			}

			// Tamper with the root
			root := tree.Root()
			root[0] ^= 0xFF
			require.False(t, VerifyProof(nil, leaves[i], i, proof.Siblings, root))

			// Drop the last sibling
			if len(proof.Siblings) > 0 {
				require.False(t, VerifyProof(nil, leaves[i], i, proof.Siblings[:len(proof.Siblings)-1], tree.Root()))
			}
		})
	}

	t.Run("Negative index", func(t *testing.T) {
		proof, err := tree.GetProof(0)
		require.NoError(t, err)
		require.False(t, VerifyProof(nil, leaves[0], -1, proof.Siblings, tree.Root()))
	})

	t.Run("Nil proof", func(t *testing.T) {
		var proof *Proof
		require.False(t, proof.Verify(nil, tree.Root()))
	})
}

// TestNodeDigestCommutative tests order-insensitive pair hashing
func TestNodeDigestCommutative(t *testing.T) {
	for _, scheme := range SupportedSchemes() {
		e, err := NewEngine(scheme, nil)
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			a, b := randomDigest(), randomDigest()
			require.Equal(t, e.NodeDigest(a, b), e.NodeDigest(b, a), "scheme %s", scheme)
		}
	}
}

// TestSchemeDefinitions pins each scheme to its hashing rule
func TestSchemeDefinitions(t *testing.T) {
	leaf := []byte("payload")
	a, b := Digest{0x01}, Digest{0x02}

	t.Run("Tagged", func(t *testing.T) {
		e, err := NewEngine(SchemeTagged, nil)
		require.NoError(t, err)
		require.Equal(t, Digest(crypto.Keccak256Hash([]byte{0x00}, leaf)), e.LeafDigest(leaf))
		require.Equal(t, Digest(crypto.Keccak256Hash([]byte{0x01}, a[:], b[:])), e.NodeDigest(b, a))
	})

	t.Run("OpenZeppelin", func(t *testing.T) {
		e, err := NewEngine(SchemeOpenZeppelin, nil)
		require.NoError(t, err)
		require.Equal(t, Digest(crypto.Keccak256Hash(crypto.Keccak256(leaf))), e.LeafDigest(leaf))
		require.Equal(t, Digest(crypto.Keccak256Hash(a[:], b[:])), e.NodeDigest(b, a))
	})

	t.Run("Legacy", func(t *testing.T) {
		e, err := NewEngine(SchemeLegacy, nil)
		require.NoError(t, err)
		require.Equal(t, Digest(crypto.Keccak256Hash(leaf)), e.LeafDigest(leaf))
		require.Equal(t, Digest(crypto.Keccak256Hash(a[:], b[:])), e.NodeDigest(a, b))
	})
}

// TestLeafCannotImpersonateNode tests that an internal node cannot be
// presented as a leaf under the tagged scheme
func TestLeafCannotImpersonateNode(t *testing.T) {
	leaves := createTestLeaves(4)
	tree, err := Build(leaves)
	require.NoError(t, err)

	layers := tree.Layers()
	lo, hi := layers[0][0], layers[0][1]
	if hi.Less(lo) {
		lo, hi = hi, lo
	}
	forged := append(lo.Bytes(), hi.Bytes()...)

	// layer1[0] is H(0x01 || lo || hi); presenting lo||hi as leaf bytes must not reproduce it
	require.NotEqual(t, layers[1][0], tree.Engine().LeafDigest(forged))
	require.False(t, VerifyProof(nil, forged, 0, []Digest{layers[1][1]}, tree.Root()))

	// The legacy scheme has no such separation
	legacy, err := NewEngine(SchemeLegacy, nil)
	require.NoError(t, err)
	legacyTree, err := Build(leaves, WithEngine(legacy))
	require.NoError(t, err)
	ll := legacyTree.Layers()
	lo, hi = ll[0][0], ll[0][1]
	if hi.Less(lo) {
		lo, hi = hi, lo
	}
	require.Equal(t, ll[1][0], legacy.LeafDigest(append(lo.Bytes(), hi.Bytes()...)))
}

// TestTreeDeterminism tests that identical input always produces identical output
func TestTreeDeterminism(t *testing.T) {
	leaves := createTestLeaves(10)

	tree1, err := Build(leaves)
	require.NoError(t, err)
	tree2, err := Build(leaves)
	require.NoError(t, err)

	require.Equal(t, tree1.Root(), tree2.Root())
	require.Equal(t, tree1.Layers(), tree2.Layers())

	for i := range leaves {
		p1, err := tree1.GetProof(i)
		require.NoError(t, err)
		p2, err := tree2.GetProof(i)
		require.NoError(t, err)
		require.Equal(t, p1, p2)
	}
}

// TestInputOrderMatters tests that unsorted trees keep caller order
func TestInputOrderMatters(t *testing.T) {
	leaves := createTestLeaves(6)
	reversed := make([][]byte, len(leaves))
	for i := range leaves {
		reversed[len(leaves)-1-i] = leaves[i]
	}

	tree1, err := Build(leaves)
	require.NoError(t, err)
	tree2, err := Build(reversed)
	require.NoError(t, err)
	require.NotEqual(t, tree1.Root(), tree2.Root())

	// Sorting removes the dependency on input order
	sorted1, err := Build(leaves, WithSortedLeaves())
	require.NoError(t, err)
	sorted2, err := Build(reversed, WithSortedLeaves())
	require.NoError(t, err)
	require.Equal(t, sorted1.Root(), sorted2.Root())
}

// TestSortedLeaves tests sorting, deduplication and lookup by leaf
func TestSortedLeaves(t *testing.T) {
	leaves := [][]byte{[]byte("x"), []byte("y"), []byte("x"), []byte("z"), []byte("y")}

	tree, err := Build(leaves, WithSortedLeaves())
	require.NoError(t, err)
	require.True(t, tree.Sorted())
	require.Equal(t, 3, tree.LeafCount())

	digests := tree.Leaves()
	for i := 1; i < len(digests); i++ {
		require.True(t, digests[i-1].Less(digests[i]))
	}

	for _, leaf := range leaves {
		proof, err := tree.GetProofForLeaf(leaf)
		require.NoError(t, err)
		require.True(t, VerifyProof(nil, leaf, proof.LeafIndex, proof.Siblings, tree.Root()))
	}

	_, err = tree.GetProofForLeaf([]byte("missing"))
	require.ErrorIs(t, err, ErrLeafNotFound)
}

// TestIndexOfUnsorted tests that lookup returns the first occurrence
func TestIndexOfUnsorted(t *testing.T) {
	leaves := [][]byte{[]byte("p"), []byte("q"), []byte("p")}
	tree, err := Build(leaves)
	require.NoError(t, err)
	require.Equal(t, 3, tree.LeafCount())

	idx, ok := tree.IndexOf(tree.Engine().LeafDigest([]byte("p")))
	require.True(t, ok)
	require.Equal(t, 0, idx)

	_, ok = tree.IndexOf(randomDigest())
	require.False(t, ok)
}

// TestBuildFromDigests tests that pre-hashed leaves give the same tree
func TestBuildFromDigests(t *testing.T) {
	leaves := createTestLeaves(9)
	tree, err := Build(leaves)
	require.NoError(t, err)

	input := tree.Leaves()
	fromDigests, err := BuildFromDigests(input)
	require.NoError(t, err)
	require.Equal(t, tree.Root(), fromDigests.Root())

	// The input slice is copied
	input[0] = ZeroDigest
	require.Equal(t, tree.Root(), fromDigests.Root())
	d, err := fromDigests.LeafDigest(0)
	require.NoError(t, err)
	require.NotEqual(t, ZeroDigest, d)
}

// TestParallelBuild tests that parallel construction matches sequential construction
func TestParallelBuild(t *testing.T) {
	for _, size := range []int{1, 511, 512, 513, 4097} {
		t.Run(fmt.Sprintf("Size_%d", size), func(t *testing.T) {
			leaves := createTestLeaves(size)

			sequential, err := Build(leaves)
			require.NoError(t, err)
			parallel, err := Build(leaves, WithParallelism(8))
			require.NoError(t, err)

			require.Equal(t, sequential.Root(), parallel.Root())
			require.Equal(t, sequential.Layers(), parallel.Layers())
		})
	}
}

// TestLayersAreCopies tests that callers cannot mutate the tree
func TestLayersAreCopies(t *testing.T) {
	tree, err := Build(createTestLeaves(4))
	require.NoError(t, err)
	root := tree.Root()

	layers := tree.Layers()
	layers[len(layers)-1][0] = ZeroDigest
	leaves := tree.Leaves()
	leaves[0] = ZeroDigest

	require.Equal(t, root, tree.Root())
	d, err := tree.LeafDigest(0)
	require.NoError(t, err)
	require.NotEqual(t, ZeroDigest, d)
}

// TestDigestHex tests hex round trips and rejection of bad input
func TestDigestHex(t *testing.T) {
	d := randomDigest()
	parsed, err := DigestFromHex(d.Hex())
	require.NoError(t, err)
	require.Equal(t, d, parsed)

	_, err = DigestFromHex("0x1234")
	require.Error(t, err)
	_, err = DigestFromHex("not-hex")
	require.Error(t, err)
	_, err = DigestFromBytes(make([]byte, 31))
	require.Error(t, err)
}
