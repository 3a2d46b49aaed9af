// Package ratelimit throttles calls to the external generation services.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// RateLimiter enforces per-minute and per-day request ceilings. The two
// limits are independent: either may be zero (unbounded). When a per-minute
// limit is set, a minimum delay of one minute divided by the limit is also
// kept between consecutive requests so bursts spread out evenly.
//
// The lock is held across the whole check-sleep-record sequence, so waiting
// callers are admitted one at a time in lock-acquisition order.
type RateLimiter struct {
	maxPerMinute int
	maxPerDay    int
	minDelay     time.Duration

	mu    sync.Mutex
	calls []time.Time

	log zerolog.Logger

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a limiter with the given ceilings. Zero for both disables
// limiting entirely.
func New(maxPerMinute, maxPerDay int, log zerolog.Logger) *RateLimiter {
	r := &RateLimiter{
		maxPerMinute: maxPerMinute,
		maxPerDay:    maxPerDay,
		log:          log,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	if maxPerMinute > 0 {
		r.minDelay = minuteWindow / time.Duration(maxPerMinute)
	}
	return r
}

// Acquire blocks until the caller is permitted to make a request under the
// configured budgets, then records the call. Returns early with the context
// error if ctx is cancelled while waiting.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil || (r.maxPerMinute == 0 && r.maxPerDay == 0) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	if r.maxPerDay > 0 {
		if daily := r.inWindow(now, dayWindow); len(daily) >= r.maxPerDay {
			wait := dayWindow - now.Sub(daily[0])
			if wait > 0 {
				r.log.Warn().
					Int("max_per_day", r.maxPerDay).
					Dur("wait", wait).
					Msg("daily rate limit reached, waiting")
				if err := r.sleep(ctx, wait); err != nil {
					return err
				}
				now = r.now()
				r.prune(now)
			}
		}
	}

	if r.maxPerMinute > 0 {
		if minute := r.inWindow(now, minuteWindow); len(minute) >= r.maxPerMinute {
			wait := minuteWindow - now.Sub(minute[0])
			if wait > 0 {
				r.log.Warn().
					Int("max_per_minute", r.maxPerMinute).
					Dur("wait", wait).
					Msg("per-minute rate limit reached, waiting")
				if err := r.sleep(ctx, wait); err != nil {
					return err
				}
				now = r.now()
				r.prune(now)
			}
		}

		if len(r.calls) > 0 && r.minDelay > 0 {
			if since := now.Sub(r.calls[len(r.calls)-1]); since < r.minDelay {
				if err := r.sleep(ctx, r.minDelay-since); err != nil {
					return err
				}
				now = r.now()
			}
		}
	}

	r.calls = append(r.calls, now)
	return nil
}

// prune drops call records older than the widest configured window.
func (r *RateLimiter) prune(now time.Time) {
	window := minuteWindow
	if r.maxPerDay > 0 {
		window = dayWindow
	}
	kept := r.calls[:0]
	for _, t := range r.calls {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	r.calls = kept
}

func (r *RateLimiter) inWindow(now time.Time, window time.Duration) []time.Time {
	for i, t := range r.calls {
		if now.Sub(t) < window {
			return r.calls[i:]
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
