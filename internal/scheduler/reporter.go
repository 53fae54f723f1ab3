package scheduler

import (
	"sync"
)

const progressSteps = 200

// reporter turns per-occurrence ticks from concurrent passes into monotonic,
// rate-limited progress events.
type reporter struct {
	mu      sync.Mutex
	fn      ProgressFunc
	total   int
	current int
	emitted int
	step    int
}

func newReporter(fn ProgressFunc, total int) *reporter {
	step := total / progressSteps
	if step < 1 {
		step = 1
	}
	return &reporter{fn: fn, total: total, step: step, emitted: -1}
}

// advance records n units of work.
func (r *reporter) advance(n int) {
	if r == nil || r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current += n
	if r.current > r.total {
		r.current = r.total
	}
	if r.current-r.emitted >= r.step || r.current == r.total {
		r.emitLocked()
	}
}

// start publishes the zero point.
func (r *reporter) start() {
	if r == nil || r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked()
}

// finish publishes completion once.
func (r *reporter) finish() {
	if r == nil || r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = r.total
	r.emitLocked()
}

func (r *reporter) emitLocked() {
	if r.current == r.emitted {
		return
	}
	r.emitted = r.current
	r.fn(Progress{Current: r.current, Total: r.total})
}
