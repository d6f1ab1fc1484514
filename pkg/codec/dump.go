package codec

import (
	"fmt"

	"github.com/AnonJon/oz-merkle-go/pkg/hashers"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
)

// TreeDump is enough to rebuild a tree without the original leaf records.
type TreeDump struct {
	Scheme string          `json:"scheme"`
	Hash   string          `json:"hash,omitempty"`
	Sorted bool            `json:"sorted"`
	Root   merkle.Digest   `json:"root"`
	Leaves []merkle.Digest `json:"leaves"`
}

// Dump captures a tree. hashName records which hash function built it; an
// empty name means keccak256.
func Dump(t *merkle.Tree, hashName string) *TreeDump {
	return &TreeDump{
		Scheme: t.Engine().Scheme().String(),
		Hash:   hashName,
		Sorted: t.Sorted(),
		Root:   t.Root(),
		Leaves: t.Leaves(),
	}
}

// Tree rebuilds the tree from its leaf digests and checks the stored root.
func (d *TreeDump) Tree() (*merkle.Tree, error) {
	scheme, err := merkle.ParseScheme(d.Scheme)
	if err != nil {
		return nil, err
	}

	hashName := d.Hash
	if hashName == "" {
		hashName = hashers.Keccak256
	}
	h, err := hashers.Get(hashName)
	if err != nil {
		return nil, err
	}

	opts := []merkle.Option{merkle.WithScheme(scheme), merkle.WithHashFunction(h)}
	if d.Sorted {
		opts = append(opts, merkle.WithSortedLeaves())
	}

	t, err := merkle.BuildFromDigests(d.Leaves, opts...)
	if err != nil {
		return nil, err
	}
	if t.Root() != d.Root {
		return nil, fmt.Errorf("rebuilt root %s does not match dumped root %s", t.Root(), d.Root)
	}
	return t, nil
}
