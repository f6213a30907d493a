// Package abi implements the ABI-driven log decoder of spec §4.1: it loads a
// contract ABI once at startup, then matches raw logs against the ABI's
// declared events in declaration order, the first successful parse wins.
//
// Grounded on the original Rust decoder/abi.rs's token_to_bson match arms for
// the scalar coercion table, re-expressed over go-ethereum's accounts/abi
// package instead of ethabi.
package abi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mrzigha/evm-indexer/internal/indexererr"
)

// Decoder matches raw logs against a loaded contract ABI.
type Decoder struct {
	contract gethabi.ABI
	// declOrder preserves the ABI's declared event order; go-ethereum's
	// abi.ABI.Events is a Go map and would otherwise iterate in randomized
	// order, breaking the determinism requirement in spec §4.1.
	declOrder []string
}

type abiEntry struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Load reads and parses the ABI JSON file at path, per EVM_INDEXER_ABI_PATH.
func Load(path string) (*Decoder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(indexererr.ErrAbiFileNotFound, path)
		}
		return nil, errors.Wrap(err, "reading ABI file")
	}
	return Parse(raw)
}

// Parse builds a Decoder from raw ABI JSON bytes.
func Parse(raw []byte) (*Decoder, error) {
	contract, err := gethabi.JSON(newJSONReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "parsing ABI JSON")
	}

	var entries []abiEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrap(err, "scanning ABI declaration order")
	}

	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == "event" {
			order = append(order, e.Name)
		}
	}

	return &Decoder{contract: contract, declOrder: order}, nil
}

// Decode matches log against the ABI's declared events in declaration order
// and returns the first successfully-parsed event. If no event matches, it
// returns indexererr.ErrUnknownEvent.
func (d *Decoder) Decode(log RawLog) (DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return DecodedEvent{}, errors.Wrap(indexererr.ErrUnknownEvent, "log has no topics")
	}
	sig := log.Topics[0]

	for _, name := range d.declOrder {
		event, ok := d.contract.Events[name]
		if !ok || event.ID != sig {
			continue
		}

		params, err := d.unpack(event, log)
		if err != nil {
			// Declared order with topic-0 match but schema mismatch: try
			// the next declared event with the same signature, if any.
			continue
		}

		return DecodedEvent{Name: event.Name, Params: params}, nil
	}

	return DecodedEvent{}, indexererr.ErrUnknownEvent
}

func (d *Decoder) unpack(event gethabi.Event, log RawLog) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(event.Inputs))

	var indexed gethabi.Arguments
	var nonIndexed gethabi.Arguments
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		} else {
			nonIndexed = append(nonIndexed, in)
		}
	}

	if len(indexed) != len(log.Topics)-1 {
		return nil, fmt.Errorf("indexed field count %d does not match topic count %d", len(indexed), len(log.Topics)-1)
	}

	for i, in := range indexed {
		word := log.Topics[i+1]
		value, err := unpackIndexedWord(in.Type, word)
		if err != nil {
			// Dynamic indexed fields (string, bytes, arrays) are stored as
			// their topic hash, since the original value isn't recoverable
			// from the indexed word alone.
			params[in.Name] = word.Hex()
			continue
		}
		params[in.Name] = coerce(in.Type, value)
	}

	if len(nonIndexed) > 0 {
		values, err := nonIndexed.Unpack(log.Data)
		if err != nil {
			return nil, errors.Wrap(err, "unpacking non-indexed fields")
		}
		for i, in := range nonIndexed {
			params[in.Name] = coerce(in.Type, values[i])
		}
	}

	return params, nil
}

// unpackIndexedWord decodes a single 32-byte indexed topic word for static
// (non-dynamic) ABI types by treating it as a one-argument tuple.
func unpackIndexedWord(t gethabi.Type, word common.Hash) (interface{}, error) {
	args := gethabi.Arguments{{Type: t}}
	values, err := args.Unpack(word.Bytes())
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// coerce applies spec §3's scalar coercion table: address -> hex string,
// integer -> decimal string (via shopspring/decimal, to keep one documented
// codepath for big-integer stringification), bool -> bool, bytes -> hex
// string, string -> string, anything else -> nil.
func coerce(t gethabi.Type, value interface{}) interface{} {
	switch t.T {
	case gethabi.AddressTy:
		addr, ok := value.(common.Address)
		if !ok {
			return nil
		}
		return addr.Hex()

	case gethabi.UintTy, gethabi.IntTy:
		switch v := value.(type) {
		case *big.Int:
			return decimal.NewFromBigInt(v, 0).String()
		case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
			return fmt.Sprintf("%d", v)
		default:
			return nil
		}

	case gethabi.BoolTy:
		b, ok := value.(bool)
		if !ok {
			return nil
		}
		return b

	case gethabi.StringTy:
		s, ok := value.(string)
		if !ok {
			return nil
		}
		return s

	case gethabi.BytesTy:
		b, ok := value.([]byte)
		if !ok {
			return nil
		}
		return "0x" + hex.EncodeToString(b)

	default:
		// Tuples, arrays, fixed-size byte arrays (bytesN), fixed-point:
		// routed to null, matching the original decoder's
		// `_ => Bson::Null` catch-all.
		return nil
	}
}
