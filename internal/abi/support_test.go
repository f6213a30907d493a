package abi_test

import (
	"bytes"
	"os"
	"testing"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mrzigha/evm-indexer/internal/abi"
)

// rawLogFor builds a synthetic RawLog for eventName from the declared ABI at
// abiPath: indexedValues are ABI-encoded one at a time into topic words
// (static types only, as real indexed topics are), and nonIndexedTypes/
// nonIndexedValues are packed together into Data, mirroring how a real log
// would be emitted.
func rawLogFor(t *testing.T, abiPath, eventName string, indexedValues []interface{}, nonIndexedTypes []gethabi.Type, nonIndexedValues []interface{}) (abi.RawLog, error) {
	t.Helper()

	raw, err := os.ReadFile(abiPath)
	if err != nil {
		return abi.RawLog{}, err
	}
	contract, err := gethabi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.RawLog{}, err
	}
	event := contract.Events[eventName]

	topics := []common.Hash{event.ID}
	indexedInputs := event.Inputs.Indexed()
	for i, in := range indexedInputs {
		encoded, err := gethabi.Arguments{{Type: in.Type}}.Pack(indexedValues[i])
		if err != nil {
			return abi.RawLog{}, err
		}
		topics = append(topics, common.BytesToHash(encoded))
	}

	var args gethabi.Arguments
	for _, ty := range nonIndexedTypes {
		args = append(args, gethabi.Argument{Type: ty})
	}
	data, err := args.Pack(nonIndexedValues...)
	if err != nil {
		return abi.RawLog{}, err
	}

	return abi.RawLog{Topics: topics, Data: data}, nil
}
