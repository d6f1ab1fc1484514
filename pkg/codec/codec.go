// Package codec serializes proofs, multiproofs and tree dumps.
//
// JSON uses 0x-prefixed hex digests and is meant for humans and web
// clients. CBOR is the compact binary form: digests are raw byte strings
// and multiproof flags are packed into 64-bit words.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/fxamacker/cbor/v2"
)

// Format names a wire encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat converts a format name into a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, FormatCBOR:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unknown format %q (supported: json, cbor)", name)
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes a *merkle.Proof, *merkle.MultiProof or *TreeDump.
func Marshal(format Format, v any) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(v)
	case FormatCBOR:
		wire, err := toWire(v)
		if err != nil {
			return nil, err
		}
		return encMode.Marshal(wire)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Unmarshal decodes data into a *merkle.Proof, *merkle.MultiProof or *TreeDump.
func Unmarshal(format Format, data []byte, v any) error {
	switch format {
	case FormatJSON:
		return json.Unmarshal(data, v)
	case FormatCBOR:
		return fromWire(data, v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func toWire(v any) (any, error) {
	switch t := v.(type) {
	case *merkle.Proof:
		return proofToWire(t), nil
	case *merkle.MultiProof:
		return multiProofToWire(t), nil
	case *TreeDump:
		return dumpToWire(t), nil
	default:
		return nil, fmt.Errorf("cannot cbor encode %T", v)
	}
}

func fromWire(data []byte, v any) error {
	switch t := v.(type) {
	case *merkle.Proof:
		var w wireProof
		if err := decMode.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("failed to decode proof: %w", err)
		}
		p, err := w.proof()
		if err != nil {
			return err
		}
		*t = *p
	case *merkle.MultiProof:
		var w wireMultiProof
		if err := decMode.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("failed to decode multiproof: %w", err)
		}
		mp, err := w.multiProof()
		if err != nil {
			return err
		}
		*t = *mp
	case *TreeDump:
		var w wireDump
		if err := decMode.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("failed to decode tree dump: %w", err)
		}
		d, err := w.dump()
		if err != nil {
			return err
		}
		*t = *d
	default:
		return fmt.Errorf("cannot cbor decode into %T", v)
	}
	return nil
}
