package merkle

import "errors"

var (
	// ErrEmptyInput is returned when a tree is built from zero leaves. The
	// root of an empty tree is undefined; it is never defaulted to zero.
	ErrEmptyInput = errors.New("cannot build merkle tree from empty leaf list")

	// ErrIndexOutOfRange is returned when a proof is requested for a leaf
	// position that does not exist.
	ErrIndexOutOfRange = errors.New("leaf index out of range")

	// ErrEmptyRequest is returned when a multiproof is requested for no leaves.
	ErrEmptyRequest = errors.New("multiproof requested for zero leaves")

	// ErrDuplicateIndex is returned when a multiproof request repeats an index.
	ErrDuplicateIndex = errors.New("duplicate leaf index in multiproof request")

	// ErrMalformedProof is returned when proof, flag and leaf counts are
	// inconsistent with each other.
	ErrMalformedProof = errors.New("malformed merkle proof")

	// ErrLeafNotFound is returned when looking up a leaf that is not in the tree.
	ErrLeafNotFound = errors.New("leaf not found in tree")

	// ErrUnknownScheme is returned for an unsupported hashing scheme name.
	ErrUnknownScheme = errors.New("unknown hashing scheme")
)
