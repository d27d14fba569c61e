// Package callback implements the bridge that defers script callbacks, queued
// by the worker, until their results are ready, then runs each exactly once
// on the worker goroutine, inside scoped runtime entry.
package callback

import (
	"sync"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/fault"
)

type (
	// Handle identifies a registered callback. Zero is the null handle.
	Handle uint64

	// Func is a callback, invoked at most once with the result it was
	// notified with.
	Func func(Result) error

	// Entrant provides scoped exclusive entry into the scripting runtime.
	// Enter must hold the runtime for the duration of fn only.
	Entrant interface {
		Enter(fn func() error) error
	}

	// Bridge is the callback table. Register and NotifyReady are safe to
	// call from any goroutine; ExecutePendingCallbacks is intended to be
	// called by the worker, once per pass.
	//
	// The table lock is never held while a callback runs, so callbacks may
	// themselves register or notify.
	Bridge struct {
		entrant  Entrant
		boundary *fault.Boundary
		logger   *logiface.Logger[logiface.Event]
		entries  map[Handle]*entry
		// order holds handles in registration order, with zero marking
		// removed entries
		order  []Handle
		nextID Handle
		mu     sync.Mutex
		eager  bool
		closed bool
	}

	// Option configures a Bridge.
	Option interface {
		applyBridge(*Bridge)
	}

	optionFunc func(*Bridge)

	entry struct {
		fn     Func
		result Result
		ready  bool
	}
)

// compactThreshold is the minimum order length before compaction is
// considered.
const compactThreshold = 256

func (f optionFunc) applyBridge(b *Bridge) { f(b) }

// WithLogger sets the logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(b *Bridge) {
		b.logger = logger
	})
}

// WithEagerReady selects eager readiness, where callbacks are notified as
// soon as their command is submitted, rather than once the consumer has
// applied it. See Bridge.Eager.
func WithEagerReady(eager bool) Option {
	return optionFunc(func(b *Bridge) {
		b.eager = eager
	})
}

// New constructs a Bridge. It panics if entrant or boundary is nil.
func New(entrant Entrant, boundary *fault.Boundary, opts ...Option) *Bridge {
	fault.Require(`callback entrant`, entrant)
	fault.Require(`callback boundary`, boundary)
	b := &Bridge{
		entrant:  entrant,
		boundary: boundary,
		entries:  make(map[Handle]*entry),
		order:    make([]Handle, 0, 64),
		nextID:   1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyBridge(b)
		}
	}
	return b
}

// Eager reports whether the bridge was configured for eager readiness.
func (b *Bridge) Eager() bool {
	return b.eager
}

// Register adds fn to the table, returning its handle. It returns the null
// handle if fn is nil, or the bridge is closed.
func (b *Bridge) Register(fn Func) Handle {
	if fn == nil {
		return 0
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = b.boundary.Absorb(`callback.register`, fault.New(fault.KindRuntimeUnavailable, `callback.register`, `bridge closed`))
		return 0
	}
	id := b.nextID
	b.nextID++
	b.entries[id] = &entry{fn: fn}
	b.order = append(b.order, id)
	b.mu.Unlock()

	return id
}

// NotifyReady marks the callback ready, to be run with result on the next
// ExecutePendingCallbacks. It returns false, logging, if the handle is
// unknown, or already ready.
func (b *Bridge) NotifyReady(id Handle, result Result) bool {
	b.mu.Lock()
	e, ok := b.entries[id]
	if ok && e.ready {
		ok = false
	}
	if ok {
		e.result = result
		e.ready = true
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Warning().
			Uint64(`handle`, uint64(id)).
			Log(`callback: notify for unknown or already ready handle`)
	}
	return ok
}

// ExecutePendingCallbacks runs every ready callback, in registration order,
// removing each from the table before it runs. Each invocation is wrapped by
// the error boundary and performed inside its own Entrant.Enter scope; a
// failing callback does not prevent the rest from running. Callbacks that
// are not ready are untouched. It returns the number of callbacks run.
func (b *Bridge) ExecutePendingCallbacks() int {
	type ready struct {
		fn     Func
		result Result
		id     Handle
	}

	b.mu.Lock()
	var batch []ready
	for i, id := range b.order {
		if id == 0 {
			continue
		}
		e := b.entries[id]
		if !e.ready {
			continue
		}
		batch = append(batch, ready{id: id, fn: e.fn, result: e.result})
		delete(b.entries, id)
		b.order[i] = 0
	}
	b.compactLocked()
	b.mu.Unlock()

	for _, r := range batch {
		_ = b.boundary.Guard(`callback`, func() error {
			return b.entrant.Enter(func() error {
				return r.fn(r.result)
			})
		})
	}

	return len(batch)
}

// compactLocked removes null markers from order once they dominate it.
func (b *Bridge) compactLocked() {
	if len(b.entries) == 0 {
		b.order = b.order[:0]
		return
	}
	if len(b.order) < compactThreshold || len(b.entries)*4 > len(b.order) {
		return
	}
	n := 0
	for _, id := range b.order {
		if id != 0 {
			b.order[n] = id
			n++
		}
	}
	clear(b.order[n:])
	b.order = b.order[:n]
}

// Pending returns the number of registered callbacks not yet run.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Close drops every pending callback, without running them. Subsequent
// Register calls return the null handle. It returns the number dropped.
func (b *Bridge) Close() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.entries)
	b.closed = true
	clear(b.entries)
	b.order = b.order[:0]
	if n != 0 {
		b.logger.Debug().
			Int(`dropped`, n).
			Log(`callback: closed with pending callbacks`)
	}
	return n
}
