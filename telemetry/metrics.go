// Package telemetry collects frame-level statistics for the render loop and
// worker: pass latency percentiles, frame and skip counts, and the fault and
// drop counters exposed by the error boundary and command queue.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

var percentiles = [...]float64{0.50, 0.90, 0.95, 0.99}

type (
	// Metrics is safe for concurrent use. The zero value is not usable, use
	// New.
	Metrics struct {
		exceptions ExceptionSource
		drops      DropSource
		fps        *RateCounter
		pass       distribution
		frames     atomic.Uint64
		consumed   atomic.Uint64
		skipped    atomic.Uint64
		faulted    atomic.Uint64
		commands   atomic.Uint64
		mu         sync.Mutex
	}

	// ExceptionSource is implemented by *fault.Boundary.
	ExceptionSource interface {
		Exceptions() uint64
		ResetExceptions() uint64
	}

	// DropSource is implemented by *cmdqueue.Queue.
	DropSource interface {
		Dropped() uint64
	}

	// Option configures Metrics.
	Option interface {
		applyMetrics(*Metrics)
	}

	optionFunc func(*Metrics)

	// Snapshot is a point-in-time copy of Metrics.
	Snapshot struct {
		Pass Latency
		// Frames is the number of render loop iterations.
		Frames uint64
		// Consumed is the number of completed passes observed by the render
		// loop, which is also the number of buffer swaps.
		Consumed uint64
		// Skipped is the number of iterations that rendered stale state,
		// because a pass was still in flight.
		Skipped    uint64
		Faulted    uint64
		Commands   uint64
		Exceptions uint64
		Dropped    uint64
		// FPS is the render loop rate, over a rolling window.
		FPS float64
	}

	// Latency summarizes a latency distribution.
	Latency struct {
		P50   time.Duration
		P90   time.Duration
		P95   time.Duration
		P99   time.Duration
		Max   time.Duration
		Mean  time.Duration
		Count int
	}
)

func (f optionFunc) applyMetrics(m *Metrics) { f(m) }

// WithExceptionSource includes the exception counter in snapshots, and
// resets it with Reset.
func WithExceptionSource(src ExceptionSource) Option {
	return optionFunc(func(m *Metrics) {
		m.exceptions = src
	})
}

// WithDropSource includes the dropped command counter in snapshots.
func WithDropSource(src DropSource) Option {
	return optionFunc(func(m *Metrics) {
		m.drops = src
	})
}

// New constructs Metrics.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		pass: newDistribution(percentiles[:]...),
		fps:  NewRateCounter(5*time.Second, 100*time.Millisecond),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyMetrics(m)
		}
	}
	return m
}

// RecordPass records the duration of a worker pass.
func (m *Metrics) RecordPass(d time.Duration, faulted bool) {
	if faulted {
		m.faulted.Add(1)
	}
	m.mu.Lock()
	m.pass.observe(float64(d))
	m.mu.Unlock()
}

// RecordFrame records a render loop iteration.
func (m *Metrics) RecordFrame(consumed, skipped bool, commands int) {
	m.frames.Add(1)
	m.fps.Increment()
	if consumed {
		m.consumed.Add(1)
	}
	if skipped {
		m.skipped.Add(1)
	}
	if commands > 0 {
		m.commands.Add(uint64(commands))
	}
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Frames:   m.frames.Load(),
		Consumed: m.consumed.Load(),
		Skipped:  m.skipped.Load(),
		Faulted:  m.faulted.Load(),
		Commands: m.commands.Load(),
		FPS:      m.fps.Rate(),
	}
	if m.exceptions != nil {
		s.Exceptions = m.exceptions.Exceptions()
	}
	if m.drops != nil {
		s.Dropped = m.drops.Dropped()
	}

	m.mu.Lock()
	s.Pass = Latency{
		P50:   time.Duration(m.pass.quantile(0)),
		P90:   time.Duration(m.pass.quantile(1)),
		P95:   time.Duration(m.pass.quantile(2)),
		P99:   time.Duration(m.pass.quantile(3)),
		Max:   time.Duration(m.pass.max),
		Mean:  time.Duration(m.pass.mean()),
		Count: m.pass.count,
	}
	m.mu.Unlock()

	return s
}

// Reset zeroes all counters, including the exception counter of the
// configured ExceptionSource. The drop counter is monotonic, and is not
// reset.
func (m *Metrics) Reset() {
	m.frames.Store(0)
	m.consumed.Store(0)
	m.skipped.Store(0)
	m.faulted.Store(0)
	m.commands.Store(0)
	if m.exceptions != nil {
		m.exceptions.ResetExceptions()
	}
	m.mu.Lock()
	m.pass.reset()
	m.mu.Unlock()
}
