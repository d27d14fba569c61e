// Package cmdqueue implements a bounded, lock-free, single-producer
// single-consumer queue, used to hand commands from the worker to the render
// loop.
//
// Submission never blocks: if the ring is full, the command is dropped,
// counted, and logged (rate limited), and Submit returns false. The consumer
// drains everything queued once per frame.
package cmdqueue

import (
	"fmt"
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

const (
	sizeOfCacheLine    = 128
	sizeOfAtomicUint64 = 8
	cursorPadSize      = sizeOfCacheLine - sizeOfAtomicUint64

	// DefaultCapacity is used when New is given a non-positive capacity
	// via config defaults.
	DefaultCapacity = 1024
)

var defaultDropLogRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

type (
	// Queue is a bounded SPSC ring of T. Exactly one goroutine may call
	// Submit, and exactly one (possibly different) goroutine may call Drain
	// or DrainInto. Len, Cap, and Dropped are safe from any goroutine.
	//
	// Memory ordering: the producer writes the slot then publishes it by
	// storing tail; the consumer reads tail, then the slot, then releases it
	// by storing head.
	Queue[T any] struct { // betteralign:ignore
		_       [sizeOfCacheLine]byte
		head    atomic.Uint64 // consumer cursor
		_       [cursorPadSize]byte
		tail    atomic.Uint64 // producer cursor
		_       [cursorPadSize]byte
		dropped atomic.Uint64
		buffer  []T
		mask    uint64
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		name    string
	}

	// Option configures a Queue.
	Option interface {
		applyQueue(*queueOptions)
	}

	queueOptions struct {
		logger *logiface.Logger[logiface.Event]
		rates  map[time.Duration]int
		name   string
		rated  bool
	}

	optionFunc func(*queueOptions)
)

func (f optionFunc) applyQueue(o *queueOptions) { f(o) }

// WithLogger sets the logger used to report dropped commands.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(o *queueOptions) {
		o.logger = logger
	})
}

// WithName sets the name reported in logs, defaults to "commands".
func WithName(name string) Option {
	return optionFunc(func(o *queueOptions) {
		o.name = name
	})
}

// WithDropLogRates overrides the rate limit for drop warnings. A nil or
// empty map logs every drop.
func WithDropLogRates(rates map[time.Duration]int) Option {
	return optionFunc(func(o *queueOptions) {
		o.rates = rates
		o.rated = true
	})
}

// New constructs a Queue able to hold at least capacity elements. The
// capacity is rounded up to the next power of two. It panics if capacity is
// not positive.
func New[T any](capacity int, opts ...Option) *Queue[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("cmdqueue: capacity must be positive, got %d", capacity))
	}

	o := queueOptions{
		name:  `commands`,
		rates: defaultDropLogRates,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyQueue(&o)
		}
	}

	size := roundUpPow2(uint64(capacity))
	q := &Queue[T]{
		buffer: make([]T, size),
		mask:   size - 1,
		logger: o.logger,
		name:   o.name,
	}
	if len(o.rates) != 0 {
		q.limiter = catrate.NewLimiter(o.rates)
	}
	return q
}

func roundUpPow2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}

// Submit enqueues v, returning false, leaving the queue unchanged, if it is
// full. It never blocks. Producer only.
func (q *Queue[T]) Submit(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() > q.mask {
		q.drop(v)
		return false
	}
	q.buffer[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

func (q *Queue[T]) drop(v T) {
	n := q.dropped.Add(1)
	if q.logger == nil {
		return
	}
	if q.limiter != nil {
		if _, ok := q.limiter.Allow(q.name); !ok {
			return
		}
	}
	b := q.logger.Warning()
	if s, ok := any(v).(fmt.Stringer); ok {
		b = b.Stringer(`command`, s)
	}
	b.Str(`queue`, q.name).
		Int(`capacity`, q.Cap()).
		Uint64(`dropped`, n).
		Log(`command queue full, dropping command`)
}

// Drain removes and returns every queued element, in submission order.
// It returns nil if the queue is empty. Consumer only.
func (q *Queue[T]) Drain() []T {
	return q.DrainInto(nil)
}

// DrainInto appends every queued element to dst, in submission order,
// returning the extended slice. Consumer only.
func (q *Queue[T]) DrainInto(dst []T) []T {
	head := q.head.Load()
	tail := q.tail.Load()
	if head == tail {
		return dst
	}
	var zero T
	for i := head; i != tail; i++ {
		idx := i & q.mask
		dst = append(dst, q.buffer[idx])
		q.buffer[idx] = zero // release references for GC
	}
	q.head.Store(tail)
	return dst
}

// Len returns the number of queued elements. It may be stale under
// concurrent modification.
func (q *Queue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the fixed capacity of the queue.
func (q *Queue[T]) Cap() int {
	return len(q.buffer)
}

// Dropped returns the number of elements rejected by Submit.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
