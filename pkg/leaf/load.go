package leaf

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// LoadFile reads allocations from a .csv or .json file.
//
// CSV files hold "address,amount" rows with an optional header row. JSON
// files hold an array of {"account": "0x..", "amount": "123"} objects; the
// amount may be a string or a number.
func LoadFile(path string) ([]Allocation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseCSV(bytes.NewReader(data))
	case ".json":
		return ParseJSON(data)
	default:
		return nil, errors.Errorf("unsupported leaves file %s: expected .csv or .json", path)
	}
}

// ParseCSV reads "address,amount" rows.
func ParseCSV(r io.Reader) ([]Allocation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	var out []Allocation
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse csv")
		}

		// Header row
		if line == 1 && !common.IsHexAddress(record[0]) {
			continue
		}

		a, err := parseAllocation(record[0], record[1])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, a)
	}

	if len(out) == 0 {
		return nil, errors.New("no allocations found")
	}
	return out, nil
}

type rawAllocation struct {
	Account string      `json:"account"`
	Amount  json.Number `json:"amount"`
}

// ParseJSON reads an array of allocation objects.
func ParseJSON(data []byte) ([]Allocation, error) {
	var raw []rawAllocation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse json allocations")
	}
	if len(raw) == 0 {
		return nil, errors.New("no allocations found")
	}

	out := make([]Allocation, len(raw))
	for i, r := range raw {
		a, err := parseAllocation(r.Account, r.Amount.String())
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		out[i] = a
	}
	return out, nil
}

func parseAllocation(account, amount string) (Allocation, error) {
	account = strings.TrimSpace(account)
	if !common.IsHexAddress(account) {
		return Allocation{}, errors.Errorf("invalid address %q", account)
	}

	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return Allocation{}, errors.Errorf("invalid amount %q", amount)
	}

	a := Allocation{Account: common.HexToAddress(account), Amount: value}
	if err := a.Validate(); err != nil {
		return Allocation{}, err
	}
	return a, nil
}
