package store

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory EventStore for tests, keyed on the same
// (transaction_hash, block_number) identity the Mongo-backed Store dedups
// against (spec §4.5).
type MemStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
	logs []EventLog
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{seen: make(map[string]struct{})}
}

func memKey(txHash string, blockNumber uint64) string {
	return fmt.Sprintf("%s:%d", txHash, blockNumber)
}

// Exists implements EventStore.
func (m *MemStore) Exists(_ context.Context, txHash string, blockNumber uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[memKey(txHash, blockNumber)]
	return ok, nil
}

// Insert implements EventStore.
func (m *MemStore) Insert(_ context.Context, log EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[memKey(log.TransactionHash, log.BlockNumber)] = struct{}{}
	m.logs = append(m.logs, log)
	return nil
}

// Close implements EventStore.
func (m *MemStore) Close(_ context.Context) error { return nil }

// Logs returns a copy of everything inserted so far, for test assertions.
func (m *MemStore) Logs() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventLog, len(m.logs))
	copy(out, m.logs)
	return out
}
