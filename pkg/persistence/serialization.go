package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalTreeRecord serializes a TreeRecord to JSON bytes.
// Digests and leaves are hex encoded.
func MarshalTreeRecord(r *TreeRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot marshal nil TreeRecord")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TreeRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalTreeRecord deserializes a TreeRecord from JSON bytes.
func UnmarshalTreeRecord(data []byte) (*TreeRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var r TreeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to TreeRecord: %w", err)
	}

	return &r, nil
}
