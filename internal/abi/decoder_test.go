package abi_test

import (
	"math/big"
	"strings"
	"testing"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/mrzigha/evm-indexer/internal/abi"
	"github.com/mrzigha/evm-indexer/internal/indexererr"
)

func loadTestDecoder(t *testing.T) *abi.Decoder {
	t.Helper()
	d, err := abi.Load("../../testdata/abi.json")
	require.NoError(t, err)
	return d
}

func uint256Type(t *testing.T) gethabi.Type {
	t.Helper()
	ty, err := gethabi.NewType("uint256", "", nil)
	require.NoError(t, err)
	return ty
}

// S1 — happy path: TicketsBought(address indexed buyer, uint256 amount).
func TestDecoder_TicketsBought(t *testing.T) {
	d := loadTestDecoder(t)

	raw, err := rawLogFor(t, "../../testdata/abi.json", "TicketsBought", []interface{}{
		common.HexToAddress("0x0000000000000000000000000000000000dead"),
	}, []gethabi.Type{uint256Type(t)}, []interface{}{big.NewInt(42)})
	require.NoError(t, err)
	raw.BlockNumber = 100
	raw.TxHash = common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000")

	evt, err := d.Decode(raw)
	require.NoError(t, err)

	require.Equal(t, "TicketsBought", evt.Name)
	want := map[string]interface{}{
		"buyer":  "0x000000000000000000000000000000000000dEaD",
		"amount": "42",
	}
	if diff := pretty.Compare(want, evt.Params); diff != "" {
		t.Fatalf("decoded params mismatch (-want +got):\n%s", diff)
	}
}

// S2 — decode failure: topic-0 not declared in the ABI.
func TestDecoder_UnknownEvent(t *testing.T) {
	d := loadTestDecoder(t)

	raw := abi.RawLog{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000")},
		Data:   nil,
	}

	_, err := d.Decode(raw)
	require.ErrorIs(t, err, indexererr.ErrUnknownEvent)
}

func TestDecoder_NoTopics(t *testing.T) {
	d := loadTestDecoder(t)
	_, err := d.Decode(abi.RawLog{})
	require.Error(t, err)
}

// Invariant 3 (round trip) for a multi-field event with both indexed and
// non-indexed integer params.
func TestDecoder_LotteryClaimed_RoundTrip(t *testing.T) {
	d := loadTestDecoder(t)

	claimer := common.HexToAddress("0x00000000000000000000000000000000001234")
	raw, err := rawLogFor(t, "../../testdata/abi.json", "LotteryClaimed", []interface{}{
		big.NewInt(7), claimer,
	}, []gethabi.Type{uint256Type(t)}, []interface{}{big.NewInt(9001)})
	require.NoError(t, err)

	evt, err := d.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "LotteryClaimed", evt.Name)
	require.Equal(t, "9001", evt.Params["amount"])
	require.Equal(t, claimer.Hex(), evt.Params["claimer"])
	require.Equal(t, "7", evt.Params["lotteryId"])
}

// Non-indexed dynamic array types fall through to the "other -> null" branch
// of the coercion table.
func TestDecoder_DynamicArrayCoercesToNull(t *testing.T) {
	d := loadTestDecoder(t)

	sliceType, err := gethabi.NewType("uint256[]", "", nil)
	require.NoError(t, err)

	raw, err := rawLogFor(t, "../../testdata/abi.json", "RequestFulfilled", []interface{}{
		big.NewInt(1),
	}, []gethabi.Type{sliceType}, []interface{}{[]*big.Int{big.NewInt(1), big.NewInt(2)}})
	require.NoError(t, err)

	evt, err := d.Decode(raw)
	require.NoError(t, err)
	require.Nil(t, evt.Params["randomWords"])
}

// SPEC_FULL.md §D.4: fixed-size byte arrays (bytesN) are routed through the
// "other -> null" branch same as tuples, matching the original decoder's
// `_ => Bson::Null` catch-all — they are not hex-encoded.
func TestDecoder_FixedBytesCoercesToNull(t *testing.T) {
	fixedBytesABI := `[{
		"type": "event",
		"name": "Checkpointed",
		"anonymous": false,
		"inputs": [
			{ "name": "root", "type": "bytes32", "indexed": false }
		]
	}]`
	d, err := abi.Parse([]byte(fixedBytesABI))
	require.NoError(t, err)

	contract, err := gethabi.JSON(strings.NewReader(fixedBytesABI))
	require.NoError(t, err)
	event := contract.Events["Checkpointed"]

	var root [32]byte
	copy(root[:], []byte("deadbeefdeadbeefdeadbeefdeadbeef"))
	data, err := event.Inputs.Pack(root)
	require.NoError(t, err)

	evt, err := d.Decode(abi.RawLog{Topics: []common.Hash{event.ID}, Data: data})
	require.NoError(t, err)
	require.Nil(t, evt.Params["root"])
}
