package persistence

import (
	"fmt"
	"sort"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/hashers"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// TreeRecord is the persisted form of a tree.
type TreeRecord struct {
	// ID is a random identifier assigned when the record is created
	ID string `json:"id"`

	// Name is a free-form label, e.g. "airdrop-2024-q3"
	Name string `json:"name"`

	// Scheme is the merkle.Scheme the tree was built with
	Scheme string `json:"scheme"`

	// Hash names the hash function from pkg/hashers; empty means keccak256
	Hash string `json:"hash,omitempty"`

	// Sorted records whether leaves were sorted and deduplicated
	Sorted bool `json:"sorted"`

	// Root is the tree root and the storage key
	Root merkle.Digest `json:"root"`

	// Leaves are the caller-encoded leaf bytes in input order
	Leaves []hexutil.Bytes `json:"leaves"`

	// LeafCount is the size of the built tree's leaf layer, which is smaller
	// than len(Leaves) when a sorted tree dropped duplicates. Zero in records
	// written before the field existed.
	LeafCount int `json:"leafCount,omitempty"`

	// CreatedAt is the Unix timestamp when the record was created
	CreatedAt int64 `json:"createdAt"`
}

// NewTreeRecord captures a freshly built tree and the leaves it was built from.
func NewTreeRecord(name string, tree *merkle.Tree, hashName string, leaves [][]byte) *TreeRecord {
	stored := make([]hexutil.Bytes, len(leaves))
	for i, l := range leaves {
		stored[i] = append(hexutil.Bytes{}, l...)
	}

	return &TreeRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Scheme:    tree.Engine().Scheme().String(),
		Hash:      hashName,
		Sorted:    tree.Sorted(),
		Root:      tree.Root(),
		Leaves:    stored,
		LeafCount: tree.LeafCount(),
		CreatedAt: time.Now().Unix(),
	}
}

// Validate checks that the record can be stored.
func (r *TreeRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("cannot save nil TreeRecord")
	}
	if r.Root == merkle.ZeroDigest {
		return fmt.Errorf("tree record has no root")
	}
	if len(r.Leaves) == 0 {
		return fmt.Errorf("tree record %s has no leaves", r.Root)
	}
	if _, err := merkle.ParseScheme(r.Scheme); err != nil {
		return err
	}
	if r.LeafCount < 0 || r.LeafCount > len(r.Leaves) {
		return fmt.Errorf("tree record %s has leaf count %d for %d stored leaves", r.Root, r.LeafCount, len(r.Leaves))
	}
	return nil
}

// TreeLeafCount returns the number of leaves in the built tree without
// rebuilding it. Records without a stored count fall back to len(Leaves).
func (r *TreeRecord) TreeLeafCount() int {
	if r.LeafCount > 0 {
		return r.LeafCount
	}
	return len(r.Leaves)
}

// LeafBytes returns the stored leaves as plain byte slices.
func (r *TreeRecord) LeafBytes() [][]byte {
	out := make([][]byte, len(r.Leaves))
	for i, l := range r.Leaves {
		out[i] = l
	}
	return out
}

// HashFunction resolves the hash function the tree was built with.
func (r *TreeRecord) HashFunction() (merkle.HashFunction, error) {
	name := r.Hash
	if name == "" {
		name = hashers.Keccak256
	}
	return hashers.Get(name)
}

// Rebuild reconstructs the tree and checks it against the stored root.
func (r *TreeRecord) Rebuild() (*merkle.Tree, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	h, err := r.HashFunction()
	if err != nil {
		return nil, err
	}

	opts := []merkle.Option{merkle.WithScheme(merkle.Scheme(r.Scheme)), merkle.WithHashFunction(h)}
	if r.Sorted {
		opts = append(opts, merkle.WithSortedLeaves())
	}

	tree, err := merkle.Build(r.LeafBytes(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild tree %s: %w", r.Root, err)
	}
	if tree.Root() != r.Root {
		return nil, fmt.Errorf("rebuilt root %s does not match stored root %s", tree.Root(), r.Root)
	}
	if r.LeafCount > 0 && tree.LeafCount() != r.LeafCount {
		return nil, fmt.Errorf("rebuilt tree %s has %d leaves, record says %d", r.Root, tree.LeafCount(), r.LeafCount)
	}
	return tree, nil
}

// Clone returns a deep copy of the record.
func (r *TreeRecord) Clone() *TreeRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Leaves = make([]hexutil.Bytes, len(r.Leaves))
	for i, l := range r.Leaves {
		c.Leaves[i] = append(hexutil.Bytes{}, l...)
	}
	return &c
}

// SortRecords orders records by creation time, then root.
func SortRecords(records []*TreeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt < records[j].CreatedAt
		}
		return records[i].Root.Less(records[j].Root)
	})
}
