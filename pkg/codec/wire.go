package codec

import (
	"fmt"
	"math"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/bits-and-blooms/bitset"
)

type wireProof struct {
	LeafIndex uint64   `cbor:"1,keyasint"`
	Leaf      []byte   `cbor:"2,keyasint"`
	Siblings  [][]byte `cbor:"3,keyasint"`
}

type wireMultiProof struct {
	LeafCount uint64   `cbor:"1,keyasint"`
	Indices   []uint64 `cbor:"2,keyasint"`
	Leaves    [][]byte `cbor:"3,keyasint"`
	Proof     [][]byte `cbor:"4,keyasint"`
	FlagCount uint64   `cbor:"5,keyasint"`
	FlagWords []uint64 `cbor:"6,keyasint,omitempty"`
}

type wireDump struct {
	Scheme string   `cbor:"1,keyasint"`
	Hash   string   `cbor:"2,keyasint,omitempty"`
	Sorted bool     `cbor:"3,keyasint"`
	Root   []byte   `cbor:"4,keyasint"`
	Leaves [][]byte `cbor:"5,keyasint"`
}

// toInt converts a wire count or position, rejecting values an int cannot hold.
func toInt(field string, v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, fmt.Errorf("%s %d out of range", field, v)
	}
	return int(v), nil
}

func digestsToWire(ds []merkle.Digest) [][]byte {
	out := make([][]byte, len(ds))
	for i, d := range ds {
		out[i] = d.Bytes()
	}
	return out
}

func digestsFromWire(raw [][]byte) ([]merkle.Digest, error) {
	out := make([]merkle.Digest, len(raw))
	for i, b := range raw {
		d, err := merkle.DigestFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("digest %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

func proofToWire(p *merkle.Proof) *wireProof {
	return &wireProof{
		LeafIndex: uint64(p.LeafIndex),
		Leaf:      p.Leaf.Bytes(),
		Siblings:  digestsToWire(p.Siblings),
	}
}

func (w *wireProof) proof() (*merkle.Proof, error) {
	leaf, err := merkle.DigestFromBytes(w.Leaf)
	if err != nil {
		return nil, fmt.Errorf("leaf: %w", err)
	}
	siblings, err := digestsFromWire(w.Siblings)
	if err != nil {
		return nil, err
	}
	index, err := toInt("leaf index", w.LeafIndex)
	if err != nil {
		return nil, err
	}
	return &merkle.Proof{LeafIndex: index, Leaf: leaf, Siblings: siblings}, nil
}

// PackFlags packs flags into little-endian 64-bit words.
func PackFlags(flags []bool) []uint64 {
	bs := bitset.New(uint(len(flags)))
	for i, f := range flags {
		if f {
			bs.Set(uint(i))
		}
	}
	return bs.Bytes()
}

// UnpackFlags reverses PackFlags for the first n flags. n may not exceed the
// bits held by words.
func UnpackFlags(words []uint64, n int) ([]bool, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative flag count %d", n)
	}
	if uint64(n) > uint64(len(words))*64 {
		return nil, fmt.Errorf("flag words too short: need %d, got %d", (uint64(n)+63)/64, len(words))
	}
	bs := bitset.From(words)
	flags := make([]bool, n)
	for i := range flags {
		flags[i] = bs.Test(uint(i))
	}
	return flags, nil
}

func multiProofToWire(mp *merkle.MultiProof) *wireMultiProof {
	indices := make([]uint64, len(mp.Indices))
	for i, idx := range mp.Indices {
		indices[i] = uint64(idx)
	}
	return &wireMultiProof{
		LeafCount: uint64(mp.LeafCount),
		Indices:   indices,
		Leaves:    digestsToWire(mp.Leaves),
		Proof:     digestsToWire(mp.Proof),
		FlagCount: uint64(len(mp.Flags)),
		FlagWords: PackFlags(mp.Flags),
	}
}

func (w *wireMultiProof) multiProof() (*merkle.MultiProof, error) {
	leaves, err := digestsFromWire(w.Leaves)
	if err != nil {
		return nil, fmt.Errorf("leaves: %w", err)
	}
	proof, err := digestsFromWire(w.Proof)
	if err != nil {
		return nil, fmt.Errorf("proof: %w", err)
	}
	flagCount, err := toInt("flag count", w.FlagCount)
	if err != nil {
		return nil, err
	}
	flags, err := UnpackFlags(w.FlagWords, flagCount)
	if err != nil {
		return nil, err
	}
	leafCount, err := toInt("leaf count", w.LeafCount)
	if err != nil {
		return nil, err
	}
	indices := make([]int, len(w.Indices))
	for i, idx := range w.Indices {
		if indices[i], err = toInt("index", idx); err != nil {
			return nil, err
		}
	}
	return &merkle.MultiProof{
		LeafCount: leafCount,
		Indices:   indices,
		Leaves:    leaves,
		Proof:     proof,
		Flags:     flags,
	}, nil
}

func dumpToWire(d *TreeDump) *wireDump {
	return &wireDump{
		Scheme: d.Scheme,
		Hash:   d.Hash,
		Sorted: d.Sorted,
		Root:   d.Root.Bytes(),
		Leaves: digestsToWire(d.Leaves),
	}
}

func (w *wireDump) dump() (*TreeDump, error) {
	root, err := merkle.DigestFromBytes(w.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	leaves, err := digestsFromWire(w.Leaves)
	if err != nil {
		return nil, fmt.Errorf("leaves: %w", err)
	}
	return &TreeDump{Scheme: w.Scheme, Hash: w.Hash, Sorted: w.Sorted, Root: root, Leaves: leaves}, nil
}
