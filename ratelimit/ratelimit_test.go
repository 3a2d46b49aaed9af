package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock drives the limiter deterministically: sleeps advance the clock
// instead of blocking.
type testClock struct {
	t      time.Time
	sleeps []time.Duration
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestLimiter(maxPerMinute, maxPerDay int) (*RateLimiter, *testClock) {
	clock := newTestClock()
	r := New(maxPerMinute, maxPerDay, zerolog.Nop())
	r.now = clock.now
	r.sleep = clock.sleep
	return r, clock
}

func TestUnlimitedNeverWaits(t *testing.T) {
	r, clock := newTestLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Acquire(context.Background()))
	}
	assert.Empty(t, clock.sleeps)
}

func TestMinDelaySpreadsBursts(t *testing.T) {
	r, clock := newTestLimiter(2, 0)

	require.NoError(t, r.Acquire(context.Background()))
	assert.Empty(t, clock.sleeps, "first call must be admitted immediately")

	require.NoError(t, r.Acquire(context.Background()))
	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 30*time.Second, clock.sleeps[0])
}

func TestPerMinuteCeiling(t *testing.T) {
	r, clock := newTestLimiter(2, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(context.Background()))
	}

	// second call waits the 30s minimum delay; the third hits the window
	// ceiling and waits until the oldest call leaves the minute window
	require.Len(t, clock.sleeps, 2)
	assert.Equal(t, 30*time.Second, clock.sleeps[0])
	assert.Equal(t, 30*time.Second, clock.sleeps[1])
}

func TestDailyCeiling(t *testing.T) {
	r, clock := newTestLimiter(0, 1)

	require.NoError(t, r.Acquire(context.Background()))
	require.NoError(t, r.Acquire(context.Background()))

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 24*time.Hour, clock.sleeps[0])
}

func TestIndependentCeilings(t *testing.T) {
	// per-minute quota still available, but the daily budget is exhausted
	r, clock := newTestLimiter(10, 2)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(context.Background()))
	}

	var total time.Duration
	for _, d := range clock.sleeps {
		total += d
	}
	assert.GreaterOrEqual(t, total, 23*time.Hour, "third call must wait out the daily window")
}

func TestAcquireHonorsContext(t *testing.T) {
	r := New(1, 0, zerolog.Nop())
	require.NoError(t, r.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Acquire(ctx), context.Canceled)
}

func TestNilLimiterIsNoop(t *testing.T) {
	var r *RateLimiter
	assert.NoError(t, r.Acquire(context.Background()))
}
