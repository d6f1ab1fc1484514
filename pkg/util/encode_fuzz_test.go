package util

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func FuzzBytes32ArrayRoundTrip(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("0123456789abcdef0123456789abcdef"))

	args := MustArguments("bytes32[]")

	f.Fuzz(func(t *testing.T, b []byte) {
		// Keep memory bounded for fuzzing.
		if len(b) > 4096 {
			b = b[:4096]
		}

		words := make([][32]byte, (len(b)+31)/32)
		for i := range words {
			copy(words[i][:], b[i*32:])
		}

		encoded, err := args.Pack(words)
		require.NoError(t, err)
		require.Len(t, encoded, 64+32*len(words))

		out, err := args.Unpack(encoded)
		require.NoError(t, err)
		require.Len(t, out, 1)

		decoded, ok := out[0].([][32]byte)
		require.True(t, ok)
		require.Equal(t, words, decoded)
	})
}

func FuzzAddressUint256RoundTrip(f *testing.F) {
	f.Add(make([]byte, 20), uint64(0))
	f.Add([]byte("01234567890123456789"), uint64(1<<63))

	args := MustArguments("address", "uint256")

	f.Fuzz(func(t *testing.T, b []byte, amount uint64) {
		if len(b) < 20 {
			return
		}
		addr := common.BytesToAddress(b[:20])
		value := new(big.Int).SetUint64(amount)

		encoded, err := args.Pack(addr, value)
		require.NoError(t, err)
		require.Len(t, encoded, 64)

		out, err := args.Unpack(encoded)
		require.NoError(t, err)
		require.Equal(t, addr, out[0].(common.Address))
		require.Equal(t, 0, value.Cmp(out[1].(*big.Int)))
	})
}
