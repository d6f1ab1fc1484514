package merkle

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// HashFunction is the hash primitive used by the tree. Implementations must
// be stateless (or allocate their state per call) so that a single value can
// be shared by concurrent builders and verifiers.
type HashFunction interface {
	// Hash returns the digest of the concatenation of data.
	Hash(data ...[]byte) Digest
}

// Keccak256 is the default hash primitive, matching Solidity's keccak256.
type Keccak256 struct{}

// Hash implements HashFunction.
func (Keccak256) Hash(data ...[]byte) Digest {
	return Digest(crypto.Keccak256Hash(data...))
}

// Scheme selects how leaves and internal nodes are hashed.
type Scheme string

func (s Scheme) String() string {
	return string(s)
}

const (
	// SchemeTagged hashes leaves as H(0x00 || leaf) and nodes as
	// H(0x01 || min || max). The domain tags make it impossible to present an
	// internal node as a leaf.
	SchemeTagged Scheme = "tagged"

	// SchemeOpenZeppelin hashes leaves as H(H(leaf)) and nodes as
	// H(min || max), which is what MerkleProof.sol and the StandardMerkleTree
	// tooling recompute on chain. Single proofs verify with
	// MerkleProof.verify. Multiproofs do not: multiProofVerify replays a FIFO
	// queue that loses track of positions once a promoted node is involved.
	SchemeOpenZeppelin Scheme = "openzeppelin"

	// SchemeLegacy hashes leaves as H(leaf) and nodes as H(min || max). It
	// offers no leaf/node separation and is kept for roots that were
	// published with it.
	SchemeLegacy Scheme = "legacy"
)

const (
	leafTag byte = 0x00
	nodeTag byte = 0x01
)

// SupportedSchemes lists every scheme accepted by NewEngine.
func SupportedSchemes() []Scheme {
	return []Scheme{SchemeTagged, SchemeOpenZeppelin, SchemeLegacy}
}

// ParseScheme converts a scheme name into a Scheme.
func ParseScheme(name string) (Scheme, error) {
	for _, s := range SupportedSchemes() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

// Engine applies a Scheme on top of a HashFunction. An Engine has no mutable
// state and is safe for concurrent use.
type Engine struct {
	scheme Scheme
	hash   HashFunction
}

// NewEngine returns an engine for the given scheme. A nil hash function
// selects Keccak256.
func NewEngine(scheme Scheme, h HashFunction) (*Engine, error) {
	if _, err := ParseScheme(string(scheme)); err != nil {
		return nil, err
	}
	if h == nil {
		h = Keccak256{}
	}
	return &Engine{scheme: scheme, hash: h}, nil
}

var defaultEngine = &Engine{scheme: SchemeTagged, hash: Keccak256{}}

// DefaultEngine returns the tagged keccak256 engine.
func DefaultEngine() *Engine {
	return defaultEngine
}

// Scheme returns the engine's hashing scheme.
func (e *Engine) Scheme() Scheme {
	return e.scheme
}

// HashFunction returns the underlying hash primitive.
func (e *Engine) HashFunction() HashFunction {
	return e.hash
}

// LeafDigest hashes caller-encoded leaf bytes into a layer 0 digest.
func (e *Engine) LeafDigest(leaf []byte) Digest {
	switch e.scheme {
	case SchemeOpenZeppelin:
		inner := e.hash.Hash(leaf)
		return e.hash.Hash(inner[:])
	case SchemeLegacy:
		return e.hash.Hash(leaf)
	default:
		return e.hash.Hash([]byte{leafTag}, leaf)
	}
}

// NodeDigest hashes two child digests into their parent. The children are
// ordered by value first, so NodeDigest(a, b) == NodeDigest(b, a).
func (e *Engine) NodeDigest(a, b Digest) Digest {
	lo, hi := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		lo, hi = b, a
	}

	if e.scheme == SchemeTagged {
		return e.hash.Hash([]byte{nodeTag}, lo[:], hi[:])
	}
	return e.hash.Hash(lo[:], hi[:])
}

func engineOrDefault(e *Engine) *Engine {
	if e == nil {
		return defaultEngine
	}
	return e
}
