// Package statebuffer implements a generic double buffer, shared between a
// single writer (the worker) and a single consumer (the render loop).
//
// The writer mutates the back instance, via [Buffer.Back], for the duration
// of a pass. Once the pass has completed, the consumer calls [Buffer.Swap],
// exchanging the front/back labels. Swap is a pointer exchange, not a copy,
// so it costs the same regardless of the size of T. The price is holding two
// instances of T.
package statebuffer

import (
	"sync"
	"sync/atomic"
)

type (
	// Buffer is a double-buffered T. Instances must be initialized using New.
	//
	// Invariants:
	//   - readers only dereference the pointer returned by Front
	//   - the writer only mutates the pointer returned by Back
	//   - the front/back identity changes only inside Swap, under mu
	//
	// Swap must only be called once the writer has signaled a completed pass,
	// and never concurrently with Back being written.
	Buffer[T any] struct { // betteralign:ignore
		_     [0]func() // prevent comparison
		front atomic.Pointer[T]
		back  *T
		copy  func(dst, src *T)
		slots [2]T
		swaps atomic.Uint64
		stale atomic.Bool
		mu    sync.Mutex
	}

	// Swapper is implemented by every Buffer instantiation, and allows
	// heterogeneous buffers to be swapped together.
	Swapper interface {
		Swap()
	}

	// Option configures a Buffer, see New.
	Option[T any] interface {
		applyBuffer(*bufferOptions[T])
	}

	bufferOptions[T any] struct {
		init func(*T)
		copy func(dst, src *T)
	}

	optionFunc[T any] func(*bufferOptions[T])
)

func (f optionFunc[T]) applyBuffer(o *bufferOptions[T]) { f(o) }

// WithInit configures a function used to initialize both instances, e.g. to
// allocate maps.
func WithInit[T any](fn func(v *T)) Option[T] {
	return optionFunc[T](func(o *bufferOptions[T]) {
		o.init = fn
	})
}

// WithCopy configures the function used by Reconcile, to bring the back
// instance up to date with the front instance.
func WithCopy[T any](fn func(dst, src *T)) Option[T] {
	return optionFunc[T](func(o *bufferOptions[T]) {
		o.copy = fn
	})
}

// New initializes a new Buffer.
func New[T any](opts ...Option[T]) *Buffer[T] {
	var o bufferOptions[T]
	for _, opt := range opts {
		if opt != nil {
			opt.applyBuffer(&o)
		}
	}

	b := &Buffer[T]{copy: o.copy}
	if o.init != nil {
		o.init(&b.slots[0])
		o.init(&b.slots[1])
	}
	b.front.Store(&b.slots[0])
	b.back = &b.slots[1]
	return b
}

// Front returns the reader-visible instance. The returned value must be
// treated as read-only. It may be called concurrently with writes to the
// back instance, and with Swap.
func (x *Buffer[T]) Front() *T {
	return x.front.Load()
}

// Back returns the writer-exclusive instance, for the current pass.
func (x *Buffer[T]) Back() *T {
	return x.back
}

// Swap exchanges the front and back labels. It holds the internal mutex only
// for the duration of the pointer exchange.
func (x *Buffer[T]) Swap() {
	x.mu.Lock()
	front := x.front.Load()
	x.front.Store(x.back)
	x.back = front
	x.stale.Store(true)
	x.mu.Unlock()
	x.swaps.Add(1)
}

// Reconcile copies the front instance into the back instance, using the
// function configured via WithCopy, if the back instance is stale (it has
// not been reconciled since the last Swap). It is a no-op if no copy
// function was configured. The writer must call it before mutating the back
// instance, such that writes build on the most recently published state.
// It returns true if a copy was made.
func (x *Buffer[T]) Reconcile() bool {
	if x.copy == nil || !x.stale.Load() {
		return false
	}
	x.copy(x.back, x.front.Load())
	x.stale.Store(false)
	return true
}

// Swaps returns the number of completed Swap calls.
func (x *Buffer[T]) Swaps() uint64 {
	return x.swaps.Load()
}
