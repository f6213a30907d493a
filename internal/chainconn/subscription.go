package chainconn

import (
	"context"
	"math/big"
	"time"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mrzigha/evm-indexer/internal/abi"
	"github.com/mrzigha/evm-indexer/internal/config"
	"github.com/mrzigha/evm-indexer/internal/logger"
)

// pollingInterval is the HTTP-poll cadence of spec §4.3.
const pollingInterval = 2 * time.Second

// LogItem is one element of a unified log sequence: either a decodable raw
// log, or a transport-level error. An error does not necessarily end the
// sequence (HTTP polling yields errors and keeps going; WS subscription
// errors end the epoch) — see LogItem.Err on each item.
type LogItem struct {
	Log abi.RawLog
	Err error
}

// LogSequence is the Design Notes §9 "unified lazy sequence": a single
// channel of LogItem fed by either a WS push subscription or an HTTP poll
// loop, so the listener never needs to know which transport is underneath.
type LogSequence struct {
	items  chan LogItem
	cancel context.CancelFunc
	done   chan struct{}
}

// Items returns the channel of produced log items. It is closed when the
// sequence ends (WS subscription torn down, or the caller cancels).
func (s *LogSequence) Items() <-chan LogItem { return s.items }

// Close abandons the sequence, per spec §5's cancellation requirement that
// HTTP polling honour cancellation within one polling interval.
func (s *LogSequence) Close() {
	s.cancel()
	<-s.done
}

func newLogSequence(ctx context.Context, client RpcClient, ep config.RpcEndpoint, contract common.Address, fromBlock uint64, log *logger.Logger) (*LogSequence, error) {
	seqCtx, cancel := context.WithCancel(ctx)

	seq := &LogSequence{
		items:  make(chan LogItem),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	query := eth.FilterQuery{
		Addresses: []common.Address{contract},
		FromBlock: new(big.Int).SetUint64(fromBlock),
	}

	switch ep.RpcType {
	case config.RpcWebSocket:
		raw := make(chan types.Log)
		sub, err := client.SubscribeFilterLogs(seqCtx, query, raw)
		if err != nil {
			cancel()
			close(seq.done)
			return nil, err
		}
		go runWSSequence(seqCtx, seq, sub, raw)
		return seq, nil

	default:
		go runHTTPSequence(seqCtx, seq, client, contract, fromBlock, log)
		return seq, nil
	}
}

func runWSSequence(ctx context.Context, seq *LogSequence, sub eth.Subscription, raw chan types.Log) {
	defer close(seq.items)
	defer close(seq.done)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			select {
			case seq.items <- LogItem{Err: err}:
			case <-ctx.Done():
			}
			return
		case l := <-raw:
			item := LogItem{Log: toRawLog(l)}
			select {
			case seq.items <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runHTTPSequence polls every 2s: remembers last_seen = current_block at
// entry; each tick fetches block_number, and if it advanced, requests logs
// in [last_seen+1, current] and yields each; on success advances last_seen;
// on error yields the error without terminating (spec §4.3).
func runHTTPSequence(ctx context.Context, seq *LogSequence, client RpcClient, contract common.Address, fromBlock uint64, log *logger.Logger) {
	defer close(seq.items)
	defer close(seq.done)

	lastSeen := fromBlock
	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := client.BlockNumber(ctx)
			if err != nil {
				if !deliver(ctx, seq, LogItem{Err: err}) {
					return
				}
				continue
			}
			if current <= lastSeen {
				continue
			}

			query := eth.FilterQuery{
				Addresses: []common.Address{contract},
				FromBlock: new(big.Int).SetUint64(lastSeen + 1),
				ToBlock:   new(big.Int).SetUint64(current),
			}
			logs, err := client.FilterLogs(ctx, query)
			if err != nil {
				log.Warnw("http poll: fetching logs failed", "error", err, "from", lastSeen+1, "to", current)
				if !deliver(ctx, seq, LogItem{Err: err}) {
					return
				}
				continue
			}

			for _, l := range logs {
				if !deliver(ctx, seq, LogItem{Log: toRawLog(l)}) {
					return
				}
			}
			lastSeen = current
		}
	}
}

func deliver(ctx context.Context, seq *LogSequence, item LogItem) bool {
	select {
	case seq.items <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

func toRawLog(l types.Log) abi.RawLog {
	return abi.RawLog{
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		Removed:     l.Removed,
	}
}
