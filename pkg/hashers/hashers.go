// Package hashers provides named hash primitives that can back a merkle
// engine. Every primitive produces a 32-byte digest.
package hashers

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	merkletree "github.com/wealdtech/go-merkletree/v2"
	"github.com/wealdtech/go-merkletree/v2/blake2b"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

const (
	Keccak256 = "keccak256"
	SHA256    = "sha256"
	SHA3_256  = "sha3-256"
	BLAKE3    = "blake3"
	BLAKE2b   = "blake2b"
)

var registry = map[string]func() merkle.HashFunction{
	Keccak256: func() merkle.HashFunction { return merkle.Keccak256{} },
	SHA256:    func() merkle.HashFunction { return sha256Hash{} },
	SHA3_256:  func() merkle.HashFunction { return sha3Hash{} },
	BLAKE3:    func() merkle.HashFunction { return blake3Hash{} },
	BLAKE2b:   func() merkle.HashFunction { return FromHashType(blake2b.New()) },
}

// Get returns the hash function registered under name.
func Get(name string) (merkle.HashFunction, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown hash function %q (supported: %v)", name, Names())
	}
	return ctor(), nil
}

// Names lists the registered hash functions in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type sha256Hash struct{}

func (sha256Hash) Hash(data ...[]byte) merkle.Digest {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out merkle.Digest
	h.Sum(out[:0])
	return out
}

type sha3Hash struct{}

func (sha3Hash) Hash(data ...[]byte) merkle.Digest {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out merkle.Digest
	h.Sum(out[:0])
	return out
}

type blake3Hash struct{}

func (blake3Hash) Hash(data ...[]byte) merkle.Digest {
	h := blake3.New()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out merkle.Digest
	h.Sum(out[:0])
	return out
}

// hashTypeAdapter wraps a go-merkletree HashType.
type hashTypeAdapter struct {
	ht merkletree.HashType
}

// FromHashType adapts any go-merkletree hash with a 32-byte output. It
// panics if the hash has a different length.
func FromHashType(ht merkletree.HashType) merkle.HashFunction {
	if ht.HashLength() != merkle.DigestLength {
		panic(fmt.Sprintf("hash %s has length %d, need %d", ht.HashName(), ht.HashLength(), merkle.DigestLength))
	}
	return hashTypeAdapter{ht: ht}
}

func (a hashTypeAdapter) Hash(data ...[]byte) merkle.Digest {
	var out merkle.Digest
	copy(out[:], a.ht.Hash(data...))
	return out
}
