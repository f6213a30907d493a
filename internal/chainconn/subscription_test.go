package chainconn_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/mrzigha/evm-indexer/internal/chainconn"
	"github.com/mrzigha/evm-indexer/internal/config"
	"github.com/mrzigha/evm-indexer/internal/logger"
	"github.com/mrzigha/evm-indexer/internal/metrics"
)

// Spec §8 invariant 6: for a mock chain producing logs at blocks
// b, b+1, ..., both WS and HTTP modes yield the same sequence when
// consumed to completion.
func TestSubscription_WSAndHTTPYieldSameSequence(t *testing.T) {
	contract := common.HexToAddress("0x0000000000000000000000000000000000dEaD")

	wsClient := newFakeClient(100)
	wsConn := chainconn.New(config.ChainConfig{
		Name:            "mainnet",
		ContractAddress: contract.Hex(),
		Rpcs: []config.RpcEndpoint{{
			URL: "ws://node", RpcType: config.RpcWebSocket, Priority: 0,
			CircuitBreaker: config.CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: 30, HalfOpenTimeout: 10},
		}},
	}, metrics.NewSink("mainnet", ""), logger.Default()).
		WithDialer(func(ctx context.Context, url string) (chainconn.RpcClient, error) { return wsClient, nil })

	require.NoError(t, wsConn.Connect(context.Background()))
	wsSeq, err := wsConn.SubscribeToEvents(context.Background())
	require.NoError(t, err)
	defer wsSeq.Close()

	go func() {
		wsClient.pushLog(types.Log{BlockNumber: 101, TxHash: common.HexToHash("0x01")})
		wsClient.pushLog(types.Log{BlockNumber: 102, TxHash: common.HexToHash("0x02")})
	}()

	var wsBlocks []uint64
	for i := 0; i < 2; i++ {
		item := <-wsSeq.Items()
		require.NoError(t, item.Err)
		wsBlocks = append(wsBlocks, item.Log.BlockNumber)
	}
	require.Equal(t, []uint64{101, 102}, wsBlocks)

	httpClient := newFakeClient(100)
	httpConn := chainconn.New(config.ChainConfig{
		Name:            "mainnet",
		ContractAddress: contract.Hex(),
		Rpcs: []config.RpcEndpoint{{
			URL: "http://node", RpcType: config.RpcHTTP, Priority: 0,
			CircuitBreaker: config.CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: 30, HalfOpenTimeout: 10},
		}},
	}, metrics.NewSink("mainnet", ""), logger.Default()).
		WithDialer(func(ctx context.Context, url string) (chainconn.RpcClient, error) { return httpClient, nil })

	require.NoError(t, httpConn.Connect(context.Background()))
	httpSeq, err := httpConn.SubscribeToEvents(context.Background())
	require.NoError(t, err)
	defer httpSeq.Close()

	httpClient.setFilterLogs([]types.Log{
		{BlockNumber: 101, TxHash: common.HexToHash("0x01")},
		{BlockNumber: 102, TxHash: common.HexToHash("0x02")},
	})
	httpClient.setBlockNumber(102)

	var httpBlocks []uint64
	deadline := time.After(5 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case item := <-httpSeq.Items():
			require.NoError(t, item.Err)
			httpBlocks = append(httpBlocks, item.Log.BlockNumber)
		case <-deadline:
			t.Fatal("timed out waiting for http poll sequence")
		}
	}
	require.Equal(t, wsBlocks, httpBlocks)
}
