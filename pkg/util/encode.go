package util

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// NewArguments builds an unnamed ABI argument list from Solidity type names,
// e.g. NewArguments("address", "uint256").
func NewArguments(typeNames ...string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(typeNames))
	for _, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			return nil, fmt.Errorf("invalid abi type %q: %w", name, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args, nil
}

// MustArguments is NewArguments for package-level type lists known to be valid.
func MustArguments(typeNames ...string) abi.Arguments {
	args, err := NewArguments(typeNames...)
	if err != nil {
		panic(err)
	}
	return args
}
