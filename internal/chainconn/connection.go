package chainconn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/tevino/abool"

	"github.com/mrzigha/evm-indexer/internal/breaker"
	"github.com/mrzigha/evm-indexer/internal/config"
	"github.com/mrzigha/evm-indexer/internal/indexererr"
	"github.com/mrzigha/evm-indexer/internal/logger"
	"github.com/mrzigha/evm-indexer/internal/metrics"
)

const (
	connectMaxAttempts  = 3
	connectRetryDelay   = 5 * time.Second
	subscribeMaxAttempt = 3
	subscribeRetryDelay = 5 * time.Second
)

// ChainConnection owns at most one live transport for a chain at a time,
// reconnecting across its prioritised endpoint list on failure (spec §4.3).
// Shared between the supervisor and the listener via a reader-writer lock,
// per spec §5: mutators (connect/ensure_connection/subscribe) take the
// writer, metric/state reads take the reader.
type ChainConnection struct {
	Cfg     config.ChainConfig
	Breaker *breaker.Breaker
	metrics metrics.Sink
	log     *logger.Logger

	mu        sync.RWMutex
	client    RpcClient
	endpoint  config.RpcEndpoint
	connected *abool.AtomicBool

	dial                func(ctx context.Context, url string) (RpcClient, error)
	connectRetryDelay   time.Duration
	subscribeRetryDelay time.Duration
}

// New constructs a ChainConnection for cfg. It does not dial; call Connect
// explicitly so startup failures are caller-visible.
func New(cfg config.ChainConfig, sink metrics.Sink, log *logger.Logger) *ChainConnection {
	br := breaker.New(breaker.Config{
		FailureThreshold: cfg.Rpcs[0].CircuitBreaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Rpcs[0].CircuitBreaker.ResetTimeout) * time.Second,
		HalfOpenTimeout:  time.Duration(cfg.Rpcs[0].CircuitBreaker.HalfOpenTimeout) * time.Second,
	}, sink)

	return &ChainConnection{
		Cfg:                 cfg,
		Breaker:             br,
		metrics:             sink,
		log:                 log,
		connected:           abool.New(),
		dial:                DialClient,
		connectRetryDelay:   connectRetryDelay,
		subscribeRetryDelay: subscribeRetryDelay,
	}
}

// WithDialer overrides the transport dialer, for tests.
func (c *ChainConnection) WithDialer(dial func(ctx context.Context, url string) (RpcClient, error)) *ChainConnection {
	c.dial = dial
	return c
}

// WithRetryDelays overrides the connect/subscribe inter-attempt delays, for
// tests that need the 3-attempt retry loop to run faster than spec §4.3's
// production 5s pause.
func (c *ChainConnection) WithRetryDelays(connect, subscribe time.Duration) *ChainConnection {
	c.connectRetryDelay = connect
	c.subscribeRetryDelay = subscribe
	return c
}

// IsConnected reports whether a transport is currently held.
func (c *ChainConnection) IsConnected() bool { return c.connected.IsSet() }

// Connect walks the endpoint list in declared order; for each, tries up to
// 3 attempts with a 5s pause between attempts; first success wins. Failure
// of all endpoints returns ErrNoHealthyEndpoints.
func (c *ChainConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *ChainConnection) connectLocked(ctx context.Context) error {
	for _, ep := range c.Cfg.Rpcs {
		for attempt := 1; attempt <= connectMaxAttempts; attempt++ {
			c.log.Infow("attempting RPC connection", "chain", c.Cfg.Name, "endpoint", ep.URL, "attempt", attempt)

			client, err := c.dial(ctx, ep.URL)
			if err == nil {
				c.client = client
				c.endpoint = ep
				c.connected.Set()
				c.metrics.WithEndpoint(ep.URL).SetConnected(true)
				c.log.Infow("connected to RPC endpoint", "chain", c.Cfg.Name, "endpoint", ep.URL)
				return nil
			}

			c.log.Warnw("RPC connection attempt failed", "chain", c.Cfg.Name, "endpoint", ep.URL, "attempt", attempt, "error", err)
			c.metrics.WithEndpoint(ep.URL).RecordEndpointFailure()

			if attempt < connectMaxAttempts {
				if err := sleepOrDone(ctx, c.connectRetryDelay); err != nil {
					return err
				}
			}
		}
	}

	c.log.Errorw("failed to connect to any RPC endpoint after all retries", "chain", c.Cfg.Name)
	return indexererr.ErrNoHealthyEndpoints
}

// EnsureConnection probes the current transport with a cheap block_number
// call; if none exists, or the probe errors, it reconnects.
func (c *ChainConnection) EnsureConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.connectLocked(ctx)
	}

	if _, err := c.client.BlockNumber(ctx); err != nil {
		c.log.Warnw("connection check failed, reconnecting", "chain", c.Cfg.Name, "error", err)
		return c.reconnectLocked(ctx)
	}
	return nil
}

// Reconnect drops the current transport and connects anew.
func (c *ChainConnection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectLocked(ctx)
}

func (c *ChainConnection) reconnectLocked(ctx context.Context) error {
	if c.client != nil {
		c.client.Close()
	}
	c.client = nil
	c.connected.UnSet()
	c.metrics.WithEndpoint(c.endpoint.URL).SetConnected(false)
	return c.connectLocked(ctx)
}

// ContractAddress parses Cfg.ContractAddress as a common.Address.
func (c *ChainConnection) ContractAddress() (common.Address, error) {
	addr := c.Cfg.ContractAddress
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return common.Address{}, indexererr.ErrInvalidAddress
	}
	return common.HexToAddress(addr), nil
}

// CurrentClient returns the live client and endpoint under the reader lock.
// The writer lock must not be held across draining a subscription
// sequence, per spec §5 — callers obtain the client here, release the
// reader, then drain independently.
func (c *ChainConnection) CurrentClient() (RpcClient, config.RpcEndpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, config.RpcEndpoint{}, indexererr.ErrNotConnected
	}
	return c.client, c.endpoint, nil
}

// SubscribeToEvents attempts up to 3 times, forcing a reconnect between
// attempts, to obtain a unified log sequence anchored at the current chain
// tip. Failure of all attempts signals ErrNoHealthyEndpoints.
func (c *ChainConnection) SubscribeToEvents(ctx context.Context) (*LogSequence, error) {
	for attempt := 1; attempt <= subscribeMaxAttempt; attempt++ {
		if err := c.EnsureConnection(ctx); err != nil {
			return nil, err
		}

		client, ep, err := c.CurrentClient()
		if err != nil {
			return nil, err
		}

		contract, err := c.ContractAddress()
		if err != nil {
			return nil, err
		}

		currentBlock, err := client.BlockNumber(ctx)
		if err != nil {
			c.log.Warnw("failed to read current block before subscribing", "chain", c.Cfg.Name, "error", err)
			if attempt < subscribeMaxAttempt {
				if err := sleepOrDone(ctx, c.subscribeRetryDelay); err != nil {
					return nil, err
				}
				_ = c.Reconnect(ctx)
				continue
			}
			return nil, errors.Wrap(indexererr.ErrNoHealthyEndpoints, err.Error())
		}

		seq, err := newLogSequence(ctx, client, ep, contract, currentBlock, c.log)
		if err != nil {
			c.log.Warnw("failed to subscribe to events", "chain", c.Cfg.Name, "attempt", attempt, "error", err)
			if attempt < subscribeMaxAttempt {
				if err := sleepOrDone(ctx, c.subscribeRetryDelay); err != nil {
					return nil, err
				}
				_ = c.Reconnect(ctx)
				continue
			}
			return nil, errors.Wrap(indexererr.ErrNoHealthyEndpoints, err.Error())
		}

		c.log.Infow("subscribed to events", "chain", c.Cfg.Name, "contract", contract.Hex(), "from_block", currentBlock)
		return seq, nil
	}

	return nil, indexererr.ErrNoHealthyEndpoints
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
