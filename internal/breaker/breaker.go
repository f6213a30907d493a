// Package breaker implements the three-state circuit breaker of spec §4.2:
// Closed -> Open on sustained failure, Open -> HalfOpen on a failed probe
// after reset_timeout, HalfOpen -> Closed on success or -> Open on failure.
//
// State and the failure counter are guarded by two distinct synchronization
// domains, per spec §5's "CircuitState uses a pair of locks (state,
// failure-count), acquired in a fixed order to prevent deadlock": the state
// machine itself under stateMu, and the consecutive-failure counter as its
// own go.uber.org/atomic.Uint32 so it can be read and reset without ever
// contending on stateMu. Reads (CanExecute) only take the state lock.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/mrzigha/evm-indexer/internal/metrics"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Config mirrors the RpcEndpoint.circuit_breaker_cfg of spec §3.
type Config struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
	HalfOpenTimeout  time.Duration
}

// Breaker is the gate described in spec §4.2. The zero value is not usable;
// construct with New.
type Breaker struct {
	cfg     Config
	metrics metrics.Sink
	now     func() time.Time

	stateMu sync.Mutex
	st      state
	since   time.Time // opened_at for Open, entered_at for HalfOpen

	failures atomic.Uint32
}

// New constructs a Breaker in the Closed state. now defaults to time.Now
// (monotonic-backed); tests may inject a fake clock.
func New(cfg Config, sink metrics.Sink) *Breaker {
	return &Breaker{
		cfg:     cfg,
		metrics: sink,
		now:     time.Now,
		st:      closed,
	}
}

// WithClock overrides the clock source, for deterministic tests of the timer
// transitions.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// CanExecute reports whether a caller may proceed: always true in Closed;
// in Open, true once reset_timeout has elapsed since opened_at; in HalfOpen,
// true once half_open_timeout has elapsed since entered_at.
func (b *Breaker) CanExecute() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	switch b.st {
	case closed:
		return true
	case open:
		return !b.now().Before(b.since.Add(b.cfg.ResetTimeout))
	case halfOpen:
		return !b.now().Before(b.since.Add(b.cfg.HalfOpenTimeout))
	default:
		return false
	}
}

// RecordSuccess transitions HalfOpen -> Closed and resets the failure
// counter; in Closed it simply resets the counter; in Open it has no effect
// (a success can't be observed while the breaker has suppressed the call).
func (b *Breaker) RecordSuccess() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	switch b.st {
	case halfOpen:
		b.st = closed
		b.resetFailures()
	case closed:
		b.resetFailures()
	}
}

// RecordFailure applies spec §4.2's failure transition table and reports
// whether the breaker is Open after this call: true when this call trips it,
// and also when it was already Open and reset_timeout has not yet elapsed.
func (b *Breaker) RecordFailure() (tripped bool) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	switch b.st {
	case closed:
		n := b.incrementFailures()
		if n >= b.cfg.FailureThreshold {
			b.st = open
			b.since = b.now()
			b.metrics.RecordCircuitBreakerTrip()
			return true
		}
		return false

	case halfOpen:
		b.st = open
		b.since = b.now()
		b.metrics.RecordCircuitBreakerTrip()
		return true

	case open:
		// Literal §4.2 behavior: a failure observed after opened_at+R moves
		// the breaker to HalfOpen rather than re-tripping it; CanExecute
		// then reports false until half_open_timeout has elapsed from now.
		if !b.now().Before(b.since.Add(b.cfg.ResetTimeout)) {
			b.st = halfOpen
			b.since = b.now()
			b.resetFailures()
			return false
		}
		return true
	}
	return false
}

func (b *Breaker) incrementFailures() uint32 {
	return b.failures.Inc()
}

func (b *Breaker) resetFailures() {
	b.failures.Store(0)
}

// Failures returns the current consecutive-failure count, for tests and
// diagnostics.
func (b *Breaker) Failures() uint32 {
	return b.failures.Load()
}
