/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package match

import (
	crand "crypto/rand"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Engine runs one Photo-Memory session. Every timer it schedules carries
// the generation it was scheduled in; a callback whose generation is no
// longer current does nothing, so re-dealing or closing the engine retires
// all outstanding timers at once.
type Engine struct {
	mu    sync.Mutex
	clock clockwork.Clock
	rng   *rand.Rand

	keys    []string
	state   State
	gen     uint64
	version uint64
	closed  bool

	tick   clockwork.Timer
	eval   clockwork.Timer
	redeal clockwork.Timer

	onChange   func(Snapshot)
	onComplete func(score int)
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// OnChange registers a callback receiving a snapshot after every transition.
// Snapshots from timer callbacks may arrive concurrently with those from
// Flip; consumers should discard snapshots with an older Version.
func OnChange(f func(Snapshot)) Option {
	return func(e *Engine) { e.onChange = f }
}

// OnComplete registers a callback fired once per deal when the board is cleared.
func OnComplete(f func(score int)) Option {
	return func(e *Engine) { e.onComplete = f }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.rng == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		e.rng = rand.New(rand.NewChaCha8(seed))
	}

	return e
}

// Start deals a fresh board from keys, cancelling anything left over from
// a previous deal.
func (e *Engine) Start(keys []string) error {
	e.mu.Lock()

	e.retireLocked()
	e.closed = false
	e.state.Phase = PhaseLoading

	if err := e.state.Deal(keys, e.rng); err != nil {
		e.mu.Unlock()

		return err
	}
	e.keys = slices.Clone(keys)
	e.scheduleTickLocked()
	snap := e.snapshotLocked()

	e.mu.Unlock()

	e.emit(snap)

	return nil
}

// Restart re-deals the current keys.
func (e *Engine) Restart() error {
	e.mu.Lock()
	keys := e.keys
	e.mu.Unlock()

	return e.Start(keys)
}

// Flip turns over card i and reports whether the flip was accepted.
func (e *Engine) Flip(i int) bool {
	e.mu.Lock()

	if e.closed || !e.state.Flip(i) {
		e.mu.Unlock()

		return false
	}

	if e.state.Phase == PhaseEvaluating {
		delay := MismatchDelay
		if e.state.IsMatch() {
			delay = MatchDelay
		}
		gen := e.gen
		e.eval = e.clock.AfterFunc(delay, func() { e.evaluate(gen) })
	}
	snap := e.snapshotLocked()

	e.mu.Unlock()

	e.emit(snap)

	return true
}

// Close cancels every pending timer. Later timer callbacks are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.retireLocked()
	e.closed = true
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Phase
}

// State returns a copy of the current board, including hidden faces.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.clone()
}

// Snapshot returns the player-facing view of the board.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.view(e.version)
}

func (e *Engine) evaluate(gen uint64) {
	e.mu.Lock()

	if gen != e.gen || e.closed {
		e.mu.Unlock()

		return
	}

	e.eval = nil
	e.state.Resolve()

	completed := e.state.Phase == PhaseCompleted
	if completed && e.tick != nil {
		e.tick.Stop()
		e.tick = nil
	}
	score := e.state.Score
	snap := e.snapshotLocked()

	e.mu.Unlock()

	e.emit(snap)

	if completed && e.onComplete != nil {
		e.onComplete(score)
	}
}

func (e *Engine) countdown(gen uint64) {
	e.mu.Lock()

	if gen != e.gen || e.closed {
		e.mu.Unlock()

		return
	}

	e.tick = nil
	expired := e.state.Tick()

	switch {
	case expired:
		// a pending evaluation must not land on the next board
		e.retireLocked()
		next := e.gen
		e.redeal = e.clock.AfterFunc(TimeoutDelay, func() { e.deal(next) })
	case e.state.Phase == PhasePlaying || e.state.Phase == PhaseEvaluating:
		e.scheduleTickLocked()
	}
	snap := e.snapshotLocked()

	e.mu.Unlock()

	e.emit(snap)
}

func (e *Engine) deal(gen uint64) {
	e.mu.Lock()

	if gen != e.gen || e.closed {
		e.mu.Unlock()

		return
	}

	e.redeal = nil
	e.state.Phase = PhaseLoading
	loading := e.snapshotLocked()

	if err := e.state.Deal(e.keys, e.rng); err != nil {
		// stays in Loading with no timers until Start or Restart
		e.mu.Unlock()

		e.emit(loading)

		return
	}
	e.scheduleTickLocked()
	playing := e.snapshotLocked()

	e.mu.Unlock()

	e.emit(loading)
	e.emit(playing)
}

func (e *Engine) scheduleTickLocked() {
	gen := e.gen
	e.tick = e.clock.AfterFunc(time.Second, func() { e.countdown(gen) })
}

// retireLocked invalidates every timer scheduled so far.
func (e *Engine) retireLocked() {
	e.gen++

	for _, t := range []clockwork.Timer{e.tick, e.eval, e.redeal} {
		if t != nil {
			t.Stop()
		}
	}
	e.tick, e.eval, e.redeal = nil, nil, nil
}

func (e *Engine) snapshotLocked() Snapshot {
	e.version++

	return e.state.view(e.version)
}

func (e *Engine) emit(s Snapshot) {
	if e.onChange != nil {
		e.onChange(s)
	}
}
