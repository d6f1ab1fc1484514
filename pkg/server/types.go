package server

import (
	"encoding/json"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CreateTreeRequest is the body of POST /trees. Exactly one of Leaves or
// Allocations must be set; allocations are encoded with Encoding (or the
// server default) before hashing.
type CreateTreeRequest struct {
	Name        string          `json:"name"`
	Leaves      []hexutil.Bytes `json:"leaves,omitempty"`
	Allocations json.RawMessage `json:"allocations,omitempty"`
	Encoding    string          `json:"encoding,omitempty"`
	Scheme      string          `json:"scheme,omitempty"`
	Hash        string          `json:"hash,omitempty"`
	Sorted      bool            `json:"sorted,omitempty"`
}

// TreeSummary describes a stored tree without its leaves.
type TreeSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Root      merkle.Digest `json:"root"`
	LeafCount int           `json:"leafCount"`
	Scheme    string        `json:"scheme"`
	Hash      string        `json:"hash,omitempty"`
	Sorted    bool          `json:"sorted"`
	CreatedAt int64         `json:"createdAt"`
}

// ListTreesResponse is the body of GET /trees.
type ListTreesResponse struct {
	Trees []TreeSummary `json:"trees"`
}

// MultiProofRequest is the body of POST /trees/{root}/multiproof.
type MultiProofRequest struct {
	Indices []int `json:"indices"`
}

// VerifyRequest is the body of POST /verify. Leaf holds the caller-encoded
// leaf bytes, which are hashed with the requested scheme.
type VerifyRequest struct {
	Leaf   hexutil.Bytes   `json:"leaf"`
	Index  int             `json:"index"`
	Proof  []merkle.Digest `json:"proof"`
	Root   merkle.Digest   `json:"root"`
	Scheme string          `json:"scheme,omitempty"`
	Hash   string          `json:"hash,omitempty"`
}

// VerifyMultiRequest is the body of POST /verify/multi.
type VerifyMultiRequest struct {
	Leaves     []hexutil.Bytes    `json:"leaves"`
	Indices    []int              `json:"indices"`
	MultiProof *merkle.MultiProof `json:"multiProof"`
	Root       merkle.Digest      `json:"root"`
	Scheme     string             `json:"scheme,omitempty"`
	Hash       string             `json:"hash,omitempty"`
}

// VerifyResponse is returned by both verify endpoints.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
