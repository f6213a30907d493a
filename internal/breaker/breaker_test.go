package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzigha/evm-indexer/internal/breaker"
	"github.com/mrzigha/evm-indexer/internal/metrics"
)

func newTestBreaker(t *testing.T, threshold uint32, reset, halfOpen time.Duration) (*breaker.Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := breaker.New(breaker.Config{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		HalfOpenTimeout:  halfOpen,
	}, metrics.NewSink("test", "endpoint")).WithClock(clock.Now)
	return b, clock
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// Invariant 1: after exactly failure_threshold consecutive failures from
// Closed, the breaker is Open and can_execute is false until reset_timeout
// elapses.
func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, clock := newTestBreaker(t, 3, 10*time.Second, 5*time.Second)

	assert.True(t, b.CanExecute())
	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	require.True(t, b.RecordFailure(), "third consecutive failure must trip the breaker")

	assert.False(t, b.CanExecute(), "breaker must remain closed to traffic before reset_timeout")

	clock.Advance(9 * time.Second)
	assert.False(t, b.CanExecute())

	clock.Advance(2 * time.Second)
	assert.True(t, b.CanExecute(), "can_execute must return true once now >= opened_at+reset_timeout")
}

// Invariant 2: any success in HalfOpen transitions to Closed with failures
// reset to zero.
func TestBreaker_HalfOpenSuccessClosesAndResets(t *testing.T) {
	b, clock := newTestBreaker(t, 2, 5*time.Second, 2*time.Second)

	require.False(t, b.RecordFailure())
	require.True(t, b.RecordFailure())

	clock.Advance(6 * time.Second)
	// First failure observed after reset_timeout moves Open -> HalfOpen.
	require.False(t, b.RecordFailure())
	assert.Equal(t, uint32(0), b.Failures())

	b.RecordSuccess()
	assert.True(t, b.CanExecute())
	assert.Equal(t, uint32(0), b.Failures())

	// A fresh failure from Closed starts counting from zero again.
	require.False(t, b.RecordFailure())
	assert.Equal(t, uint32(1), b.Failures())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, 1, 5*time.Second, 2*time.Second)

	require.True(t, b.RecordFailure()) // Closed -> Open
	clock.Advance(6 * time.Second)
	require.False(t, b.RecordFailure()) // Open -> HalfOpen (literal probe failure)

	require.True(t, b.RecordFailure()) // HalfOpen -> Open again
	assert.False(t, b.CanExecute())
}

// Open question (c): half_open_timeout gates can_execute in HalfOpen; the
// very first probe is not special-cased.
func TestBreaker_HalfOpenTimeoutGatesCanExecute(t *testing.T) {
	b, clock := newTestBreaker(t, 1, 5*time.Second, 3*time.Second)

	require.True(t, b.RecordFailure())
	clock.Advance(6 * time.Second)
	require.False(t, b.RecordFailure()) // now HalfOpen, entered_at = now

	assert.False(t, b.CanExecute(), "half_open_timeout has not elapsed yet")
	clock.Advance(3 * time.Second)
	assert.True(t, b.CanExecute())
}

func TestBreaker_SuccessInClosedResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Second, time.Second)
	require.False(t, b.RecordFailure())
	require.False(t, b.RecordFailure())
	b.RecordSuccess()
	assert.Equal(t, uint32(0), b.Failures())
}

func TestBreaker_EndpointListOfOneStillHonoursThreeAttempts(t *testing.T) {
	// Boundary case from spec §8: a single-endpoint breaker config is
	// exercised no differently than a multi-endpoint one; the threshold is
	// the only thing that matters.
	b, _ := newTestBreaker(t, 3, time.Minute, time.Second)
	for i := 0; i < 2; i++ {
		assert.False(t, b.RecordFailure())
	}
	assert.True(t, b.RecordFailure())
}
