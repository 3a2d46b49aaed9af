// Package signals provides the one-shot coordination flags that sequence
// dependent pipeline work without polling.
package signals

import (
	"context"
	"errors"
	"sync"

	"script2video-pipeline/types"
)

// ErrFailed is returned by Wait when the task that should have produced the
// signal failed: the signal will never fire, and waiters must treat their
// dependency as unavailable.
var ErrFailed = errors.New("producer task failed")

// Signal is a one-shot, multi-waiter readiness flag. Fire releases all
// current and future waiters exactly once; release order among waiters is
// not guaranteed. Fail releases them with ErrFailed instead, so a failed
// producer unblocks its dependents without cancelling unrelated work.
type Signal struct {
	once   sync.Once
	ch     chan struct{}
	failed bool
}

func New() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire marks the signal ready. Safe to call more than once.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Fail marks the signal as permanently unavailable, releasing all current
// and future waiters with ErrFailed. A signal that already fired stays
// fired.
func (s *Signal) Fail() {
	s.once.Do(func() {
		s.failed = true
		close(s.ch)
	})
}

// Fired reports whether the signal is already ready. A failed signal never
// reads as fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return !s.failed
	default:
		return false
	}
}

// Wait blocks until the signal fires, the producer fails, or ctx is
// cancelled.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		if s.failed {
			return ErrFailed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Board owns every coordination signal of one pipeline run, keyed by shot
// and frame type plus one per character chain. It is fully populated before
// any generation task starts and never mutated afterwards, so lookups need
// no locking.
type Board struct {
	frames     map[int]map[types.FrameType]*Signal
	characters map[int]*Signal
}

func NewBoard() *Board {
	return &Board{
		frames:     make(map[int]map[types.FrameType]*Signal),
		characters: make(map[int]*Signal),
	}
}

// AddShot registers the frame signals a shot needs. Shots with small
// variation only ever produce a first frame, so no last-frame signal exists
// for them; waiting on one would be an upstream invariant violation.
func (b *Board) AddShot(shotIdx int, needsLastFrame bool) {
	m := map[types.FrameType]*Signal{types.FirstFrame: New()}
	if needsLastFrame {
		m[types.LastFrame] = New()
	}
	b.frames[shotIdx] = m
}

// Frame returns the signal for a (shot, frame type) pair, or nil if the pair
// was never registered.
func (b *Board) Frame(shotIdx int, ft types.FrameType) *Signal {
	return b.frames[shotIdx][ft]
}

func (b *Board) AddCharacter(charIdx int) {
	b.characters[charIdx] = New()
}

func (b *Board) Character(charIdx int) *Signal {
	return b.characters[charIdx]
}
