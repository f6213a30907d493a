// Package chainconn owns transport connectivity to EVM RPC endpoints: the
// per-endpoint health checker (spec §4.6), the reconnecting ChainConnection
// (spec §4.3), and the WS-push/HTTP-poll subscription unification (spec
// §4.3, Design Notes §9).
package chainconn

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// RpcClient is the subset of JSON-RPC methods the indexer needs from an EVM
// node (spec §6: eth_blockNumber, eth_getLogs, eth_subscribe("logs", ...),
// net_peerCount). Kept as an interface so health/connection/subscription
// tests can substitute a fake instead of dialing a real node.
type RpcClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	PeerCount(ctx context.Context) (uint64, error)
	Close()
}

// ethRpcClient adapts go-ethereum's ethclient.Client (which does not expose
// net_peerCount directly) to RpcClient by issuing that one call through the
// underlying rpc.Client.
type ethRpcClient struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// DialClient connects to url (ws:// or http(s)://) and returns an RpcClient.
func DialClient(ctx context.Context, url string) (RpcClient, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	return &ethRpcClient{eth: ethclient.NewClient(rc), rpc: rc}, nil
}

func (c *ethRpcClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *ethRpcClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

func (c *ethRpcClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.eth.SubscribeFilterLogs(ctx, q, ch)
}

func (c *ethRpcClient) PeerCount(ctx context.Context) (uint64, error) {
	var result string
	if err := c.rpc.CallContext(ctx, &result, "net_peerCount"); err != nil {
		return 0, err
	}
	var n uint64
	if _, err := parseHexUint(result, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *ethRpcClient) Close() { c.rpc.Close() }

// parseHexUint parses a "0x..."-prefixed hex quantity, the shape net_peerCount
// returns over JSON-RPC.
func parseHexUint(s string, out *uint64) (uint64, error) {
	var n uint64
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return 0, errors.Errorf("invalid hex quantity %q", s)
	}
	for _, r := range s[2:] {
		n <<= 4
		switch {
		case r >= '0' && r <= '9':
			n |= uint64(r - '0')
		case r >= 'a' && r <= 'f':
			n |= uint64(r-'a') + 10
		case r >= 'A' && r <= 'F':
			n |= uint64(r-'A') + 10
		default:
			return 0, errors.Errorf("invalid hex digit in %q", s)
		}
	}
	*out = n
	return n, nil
}
