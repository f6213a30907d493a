package chainconn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrzigha/evm-indexer/internal/chainconn"
	"github.com/mrzigha/evm-indexer/internal/config"
	"github.com/mrzigha/evm-indexer/internal/logger"
	"github.com/mrzigha/evm-indexer/internal/metrics"
)

func testChainConfig() config.ChainConfig {
	return config.ChainConfig{
		Name:            "mainnet",
		ContractAddress: "0x000000000000000000000000000000000000dEaD",
		Rpcs: []config.RpcEndpoint{
			{
				URL:      "http://node-a",
				RpcType:  config.RpcHTTP,
				Priority: 0,
				CircuitBreaker: config.CircuitBreakerConfig{
					FailureThreshold: 3, ResetTimeout: 30, HalfOpenTimeout: 10,
				},
			},
		},
	}
}

// Spec §8 boundary case: endpoint list of length 1 still honours the
// 3-attempt retry before signalling ErrNoHealthyEndpoints.
func TestChainConnection_EndpointListOfOneStillHonoursThreeAttempts(t *testing.T) {
	attempts := 0
	conn := chainconn.New(testChainConfig(), metrics.NewSink("mainnet", ""), logger.Default()).
		WithDialer(func(ctx context.Context, url string) (chainconn.RpcClient, error) {
			attempts++
			return nil, context.DeadlineExceeded
		}).
		WithRetryDelays(time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := conn.Connect(ctx)
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestChainConnection_ConnectSucceeds(t *testing.T) {
	conn := chainconn.New(testChainConfig(), metrics.NewSink("mainnet", ""), logger.Default()).
		WithDialer(func(ctx context.Context, url string) (chainconn.RpcClient, error) {
			return newFakeClient(42), nil
		})

	require.NoError(t, conn.Connect(context.Background()))
	require.True(t, conn.IsConnected())
}

func TestChainConnection_EnsureConnectionReconnectsOnProbeFailure(t *testing.T) {
	bad := newFakeClient(1)
	bad.blockNumberErr = context.DeadlineExceeded
	good := newFakeClient(2)

	calls := 0
	conn := chainconn.New(testChainConfig(), metrics.NewSink("mainnet", ""), logger.Default()).
		WithDialer(func(ctx context.Context, url string) (chainconn.RpcClient, error) {
			calls++
			if calls == 1 {
				return bad, nil
			}
			return good, nil
		})

	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.EnsureConnection(context.Background()))

	client, _, err := conn.CurrentClient()
	require.NoError(t, err)
	require.Equal(t, good, client)
}
