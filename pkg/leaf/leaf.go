// Package leaf turns allocation records into the canonical byte strings that
// are hashed into a merkle tree.
//
// Two layouts are supported:
//   - packed: address (20 bytes) || amount as uint256 big-endian (32 bytes),
//     the layout of abi.encodePacked(address, uint256)
//   - abi: abi.encode(address, uint256), used by OpenZeppelin's
//     StandardMerkleTree
package leaf

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/AnonJon/oz-merkle-go/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Allocation is a single (account, amount) record.
type Allocation struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

// Validate checks that the amount fits in a uint256.
func (a Allocation) Validate() error {
	if a.Amount == nil {
		return fmt.Errorf("allocation for %s has no amount", a.Account.Hex())
	}
	if a.Amount.Sign() < 0 {
		return fmt.Errorf("allocation for %s has negative amount %s", a.Account.Hex(), a.Amount)
	}
	if a.Amount.BitLen() > 256 {
		return fmt.Errorf("allocation for %s has amount %s that overflows uint256", a.Account.Hex(), a.Amount)
	}
	return nil
}

// Encoder converts an allocation into leaf bytes.
type Encoder func(a Allocation) ([]byte, error)

const (
	EncodingPacked = "packed"
	EncodingABI    = "abi"
)

var encoders = map[string]Encoder{
	EncodingPacked: EncodePacked,
	EncodingABI:    EncodeABI,
}

// EncoderByName returns the encoder for "packed" or "abi".
func EncoderByName(name string) (Encoder, error) {
	enc, ok := encoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown leaf encoding %q (supported: %v)", name, EncodingNames())
	}
	return enc, nil
}

// EncodingNames lists the supported encodings.
func EncodingNames() []string {
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EncodePacked returns address || uint256(amount).
func EncodePacked(a Allocation) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, common.AddressLength+32)
	out = append(out, a.Account.Bytes()...)
	out = append(out, a.Amount.FillBytes(make([]byte, 32))...)
	return out, nil
}

var abiAllocation = util.MustArguments("address", "uint256")

// EncodeABI returns abi.encode(address, uint256).
func EncodeABI(a Allocation) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	encoded, err := abiAllocation.Pack(a.Account, a.Amount)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to abi encode allocation for %s", a.Account.Hex())
	}
	return encoded, nil
}

// EncodeAll encodes every allocation, failing on the first invalid record.
func EncodeAll(allocations []Allocation, enc Encoder) ([][]byte, error) {
	if enc == nil {
		enc = EncodePacked
	}

	out := make([][]byte, len(allocations))
	for i, a := range allocations {
		b, err := enc(a)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		out[i] = b
	}
	return out, nil
}
