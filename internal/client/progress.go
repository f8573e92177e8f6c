package client

import "sync"

// ProgressFunc receives a percentage in [0, 100].
type ProgressFunc func(percent float64)

// Tracker forwards progress to a callback and never reports a value lower
// than one already reported.
type Tracker struct {
	mu      sync.Mutex
	started bool
	last    float64
	fn      ProgressFunc
}

// NewTracker wraps fn; fn may be nil.
func NewTracker(fn ProgressFunc) *Tracker {
	return &Tracker{fn: fn}
}

// Report emits p if it advances the last reported value.
func (t *Tracker) Report(p float64) {
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	if t.started && p <= t.last {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.last = p
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn(p)
	}
}

// Last returns the highest percentage reported so far.
func (t *Tracker) Last() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
