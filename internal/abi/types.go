package abi

import "github.com/ethereum/go-ethereum/common"

// RawLog is the transport-independent shape of an on-chain log, per spec §3.
// Both the WS and HTTP transports in internal/chainconn produce this from
// their native go-ethereum types.Log.
type RawLog struct {
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	Removed     bool
}

// DecodedEvent is the decoder's output, per spec §3: a name plus a field map
// with scalars coerced to the store-safe representations in the coercion
// table (address/bytes -> hex string, integers -> decimal string, bool ->
// bool, string -> string, anything else -> nil).
type DecodedEvent struct {
	Name   string
	Params map[string]interface{}
}
