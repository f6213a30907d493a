package chainconn_test

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeClient is a scriptable RpcClient for tests: it never dials a real
// node, matching the "inject a no-op/fake collaborator" guidance for
// testing transport polymorphism (spec §8 invariant 6).
type fakeClient struct {
	mu sync.Mutex

	blockNumberErr error
	blockNumber    uint64
	peerCount      uint64
	filterLogs     []types.Log
	filterErr      error
	subErr         error
	closed         bool

	subLogsCh chan<- types.Log
	subErrCh  chan error
}

func newFakeClient(block uint64) *fakeClient {
	return &fakeClient{blockNumber: block, subErrCh: make(chan error, 1)}
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockNumber, f.blockNumberErr
}

func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filterLogs, f.filterErr
}

func (f *fakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.mu.Lock()
	f.subLogsCh = ch
	f.mu.Unlock()
	return &fakeSubscription{errCh: f.subErrCh}, nil
}

func (f *fakeClient) PeerCount(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peerCount, nil
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeClient) pushLog(l types.Log) {
	f.mu.Lock()
	ch := f.subLogsCh
	f.mu.Unlock()
	ch <- l
}

func (f *fakeClient) endSubscription(err error) {
	f.subErrCh <- err
}

func (f *fakeClient) setFilterLogs(logs []types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterLogs = logs
}

func (f *fakeClient) setBlockNumber(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockNumber = n
}

type fakeSubscription struct {
	errCh chan error
}

func (s *fakeSubscription) Unsubscribe() {}
func (s *fakeSubscription) Err() <-chan error { return s.errCh }
