package coalesce

import (
	"sync"
	"time"
)

// Timer runs fn once after the timer has been left alone for d. Every Reset
// while armed pushes the deadline back, so a burst of resets produces a
// single call when the burst ends.
type Timer struct {
	mu    sync.Mutex
	d     time.Duration
	fn    func()
	t     *time.Timer
	gen   uint64
	armed bool
}

// NewTimer returns a disarmed timer.
func NewTimer(d time.Duration, fn func()) *Timer {
	return &Timer{d: d, fn: fn}
}

// Reset arms the timer, or restarts the quiet period if already armed.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.armed = true
	t.t = time.AfterFunc(t.d, func() { t.fire(gen) })
}

// Stop disarms the timer and reports whether it was armed.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.armed
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
	t.armed = false
	return was
}

// Pending reports whether fn is still due.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	// A Reset or Stop that raced with expiry owns the timer now.
	if gen != t.gen || !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.t = nil
	t.mu.Unlock()

	t.fn()
}
