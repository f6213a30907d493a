package chainconn

import (
	"context"
	"sync"
	"time"

	"github.com/mrzigha/evm-indexer/internal/config"
	"github.com/mrzigha/evm-indexer/internal/metrics"
)

// defaultUnknownLatency is the "initial optimism" latency spec §4.6 assigns
// to an endpoint with no recorded health yet.
const defaultUnknownLatency = 60 * time.Second

// EndpointHealth is the per-endpoint health record of spec §3.
type EndpointHealth struct {
	LastChecked time.Time
	Healthy     bool
	Latency     time.Duration
	BlockHeight uint64
	PeerCount   uint64
}

// entry pairs a health record with its own lock, giving HealthChecker
// per-entry (shard) locking instead of one lock guarding the whole map, per
// spec §5's "EndpointHealth map uses per-entry locking".
type entry struct {
	mu     sync.Mutex
	health EndpointHealth
}

// HealthChecker probes a chain's configured endpoints on a per-endpoint
// cadence and answers "which endpoint should I use right now" via
// BestEndpoint. Grounded on the original health/mod.rs's HealthCheck.
type HealthChecker struct {
	chain   string
	metrics metrics.Sink
	dial    func(ctx context.Context, url string) (RpcClient, error)

	mu      sync.Mutex
	entries map[string]*entry
}

// NewHealthChecker builds a checker for chain, recording into sink.
func NewHealthChecker(chain string, sink metrics.Sink) *HealthChecker {
	return &HealthChecker{
		chain:   chain,
		metrics: sink,
		dial:    DialClient,
		entries: make(map[string]*entry),
	}
}

// WithDialer overrides the transport dialer, for tests.
func (h *HealthChecker) WithDialer(dial func(ctx context.Context, url string) (RpcClient, error)) *HealthChecker {
	h.dial = dial
	return h
}

func (h *HealthChecker) entryFor(url string) *entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[url]
	if !ok {
		e = &entry{}
		h.entries[url] = e
	}
	return e
}

// Run starts one independent probe loop per endpoint, each on its own
// cadence (spec §4.6 "Independent loop per endpoint"), blocking until ctx is
// cancelled.
func (h *HealthChecker) Run(ctx context.Context, endpoints []config.RpcEndpoint) {
	var wg sync.WaitGroup
	for _, ep := range endpoints {
		ep := ep
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.runOne(ctx, ep)
		}()
	}
	wg.Wait()
}

func (h *HealthChecker) runOne(ctx context.Context, ep config.RpcEndpoint) {
	interval := time.Duration(ep.HealthCheck.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.CheckEndpoint(ctx, ep)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckEndpoint(ctx, ep)
		}
	}
}

// CheckEndpoint performs one probe: dial a fresh transport, concurrently
// request block_number and peer_count, and record the outcome.
func (h *HealthChecker) CheckEndpoint(ctx context.Context, ep config.RpcEndpoint) bool {
	sink := h.metrics.WithEndpoint(ep.URL)
	start := time.Now()

	timeout := time.Duration(ep.HealthCheck.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := h.dial(dialCtx, ep.URL)
	if err != nil {
		h.recordFailure(ep.URL, sink)
		return false
	}
	defer client.Close()

	type result struct {
		block uint64
		peers uint64
		err   error
	}
	blockCh := make(chan result, 1)
	peerCh := make(chan result, 1)

	go func() {
		n, err := client.BlockNumber(dialCtx)
		blockCh <- result{block: n, err: err}
	}()
	go func() {
		n, err := client.PeerCount(dialCtx)
		peerCh <- result{peers: n, err: err}
	}()

	blockRes := <-blockCh
	peerRes := <-peerCh
	if blockRes.err != nil || peerRes.err != nil {
		h.recordFailure(ep.URL, sink)
		return false
	}

	latency := time.Since(start)
	sink.ObserveLatencySeconds(latency.Seconds())

	e := h.entryFor(ep.URL)
	e.mu.Lock()
	e.health = EndpointHealth{
		LastChecked: time.Now(),
		Healthy:     true,
		Latency:     latency,
		BlockHeight: blockRes.block,
		PeerCount:   peerRes.peers,
	}
	e.mu.Unlock()

	return true
}

func (h *HealthChecker) recordFailure(url string, sink metrics.Sink) {
	sink.RecordEndpointFailure()
	e := h.entryFor(url)
	e.mu.Lock()
	e.health.Healthy = false
	e.health.LastChecked = time.Now()
	e.mu.Unlock()
}

// Health returns a snapshot of url's current record, and whether one has
// ever been recorded.
func (h *HealthChecker) Health(url string) (EndpointHealth, bool) {
	h.mu.Lock()
	e, ok := h.entries[url]
	h.mu.Unlock()
	if !ok {
		return EndpointHealth{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health, true
}

// BestEndpoint returns the lowest-priority healthy endpoint, ties broken by
// lowest observed latency; endpoints with no record are treated as healthy
// with 60s latency (spec §4.6 "initial optimism").
func (h *HealthChecker) BestEndpoint(endpoints []config.RpcEndpoint) (config.RpcEndpoint, bool) {
	var best config.RpcEndpoint
	var bestLatency time.Duration
	found := false

	for _, ep := range endpoints {
		health, ok := h.Health(ep.URL)
		healthy := !ok || health.Healthy
		if !healthy {
			continue
		}
		latency := defaultUnknownLatency
		if ok {
			latency = health.Latency
		}

		if !found {
			best, bestLatency, found = ep, latency, true
			continue
		}
		if ep.Priority < best.Priority || (ep.Priority == best.Priority && latency < bestLatency) {
			best, bestLatency = ep, latency
		}
	}

	return best, found
}
