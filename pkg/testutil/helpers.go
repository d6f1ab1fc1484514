package testutil

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/AnonJon/oz-merkle-go/pkg/leaf"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

// CreateTestLeaves creates n distinct raw leaves labelled with tag
func CreateTestLeaves(tag string, n int) []hexutil.Bytes {
	leaves := make([]hexutil.Bytes, n)
	for i := range leaves {
		leaves[i] = hexutil.Bytes(fmt.Sprintf("%s-%d", tag, i))
	}
	return leaves
}

// RawLeaves converts hex leaves into plain byte slices
func RawLeaves(leaves []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(leaves))
	for i, l := range leaves {
		out[i] = l
	}
	return out
}

// CreateTestAllocations creates n allocations with deterministic accounts.
// Amounts grow with the index.
func CreateTestAllocations(n int) []leaf.Allocation {
	allocations := make([]leaf.Allocation, n)
	for i := range allocations {
		allocations[i] = leaf.Allocation{
			Account: common.BigToAddress(big.NewInt(int64(0x1000 + i))),
			Amount:  new(big.Int).Mul(big.NewInt(int64(i+1)), big.NewInt(1e18)),
		}
	}
	return allocations
}

// AllocationsJSON renders allocations as a document accepted by leaf.ParseJSON
func AllocationsJSON(t *testing.T, allocations []leaf.Allocation) []byte {
	t.Helper()
	out := []byte("[")
	for i, a := range allocations {
		require.NoError(t, a.Validate())
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, fmt.Sprintf(`{"account":%q,"amount":%s}`, a.Account.Hex(), a.Amount.String())...)
	}
	return append(out, ']')
}
