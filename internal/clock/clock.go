// Package clock provides an injectable time source, a Clock interface
// with a virtual implementation for deterministic tests, mirroring the
// teacher's TestParameters fast-timer convention (parameters.go)
// generalized into an actual virtual clock. The core components do not
// import it: each takes a now func() time.Time instead (time.Now in the
// daemon, a closure in tests).
package clock

import (
	"sync"
	"time"
)

// Clock abstracts reading the current time and waiting on timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer abstracts time.Timer so it can be backed by a virtual clock.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is the production Clock backed by the OS monotonic clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTimer(d time.Duration) Timer {
	t := time.NewTimer(d)
	return &realTimer{t: t}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time      { return r.t.C }
func (r *realTimer) Stop() bool               { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// Virtual is a manually-advanced Clock for deterministic tests of
// timeout-heavy state machines (auction windows, collection windows,
// chain-confirmation waits).
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []virtualWaiter
}

type virtualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual returns a Virtual clock starting at the given instant.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := v.now.Add(d)
	if !deadline.After(v.now) {
		ch <- v.now
		return ch
	}
	v.waiters = append(v.waiters, virtualWaiter{deadline: deadline, ch: ch})
	return ch
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	return &virtualTimer{v: v, ch: v.After(d)}
}

// Advance moves the clock forward by d, firing any waiter whose deadline
// has now elapsed, in deadline order.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)

	remaining := v.waiters[:0]
	for _, w := range v.waiters {
		if !w.deadline.After(v.now) {
			w.ch <- v.now
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining
}

type virtualTimer struct {
	v  *Virtual
	ch <-chan time.Time
}

func (t *virtualTimer) C() <-chan time.Time { return t.ch }
func (t *virtualTimer) Stop() bool          { return true }
func (t *virtualTimer) Reset(d time.Duration) bool {
	t.ch = t.v.After(d)
	return true
}
