// Package scheduler implements the frame scheduler: the handshake between a
// fixed-cadence render loop, and a worker that runs one pass of logic per
// trigger, on its own schedule.
//
// The render loop calls [Scheduler.Frame] once per iteration. Frame never
// blocks: it triggers a pass if none is in flight, then polls for
// completion. A completed pass is consumed by swapping every registered
// buffer, then draining and applying the pass's commands. Until then, the
// render loop keeps rendering the existing front buffers (frame skipping).
//
// The worker goroutine runs [Scheduler.Run], which waits for a trigger,
// runs the pass inside the error boundary, then signals completion.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/cmdqueue"
	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/statebuffer"
	"github.com/joeycumines/go-framesync/telemetry"
)

var (
	// ErrAlreadyRunning is returned by Run or Start if the worker is already
	// running.
	ErrAlreadyRunning = errors.New("scheduler: already running")
)

type (
	// Pass is one execution of worker logic, for the given frame. It runs on
	// the worker goroutine, and may write to the back instance of every
	// registered buffer, and submit commands.
	Pass func(ctx context.Context, frame uint64) error

	// Applier applies drained commands to render-side state. It is called on
	// the render loop goroutine, from within Frame.
	Applier[T any] interface {
		Apply(cmd T)
	}

	// ApplierFunc adapts a function to Applier.
	ApplierFunc[T any] func(cmd T)

	// FrameResult describes what a single Frame call did.
	FrameResult[T any] struct {
		// Commands are the commands drained and applied this frame. The
		// slice is reused, and is only valid until the next Frame call.
		Commands []T
		// Frame is the 1-based render loop iteration.
		Frame uint64
		// Triggered reports that a new pass was triggered.
		Triggered bool
		// Consumed reports that a completed pass was observed, and its
		// results swapped in.
		Consumed bool
		// Skipped reports that a pass was in flight, but not complete, so
		// the existing front buffers must be rendered again.
		Skipped bool
		// Faulted reports that the consumed pass ended in a script fault.
		// Its partial writes are still swapped in.
		Faulted bool
		// Paused reports that triggering was suppressed.
		Paused bool
	}

	// Scheduler coordinates the render loop and worker. It must be
	// constructed using New.
	Scheduler[T any] struct {
		applier  Applier[T]
		queue    *cmdqueue.Queue[T]
		boundary *fault.Boundary
		logger   *logiface.Logger[logiface.Event]
		metrics  *telemetry.Metrics
		pass     Pass
		trigger  chan struct{}
		stop     chan struct{}
		stopped  chan struct{}
		buffers  []statebuffer.Swapper
		// pending is the reused drain buffer, owned by the render loop
		pending     []T
		idleWaiters []chan struct{}
		state       frameState
		complete    atomic.Bool
		running     atomic.Bool
		passFrame   atomic.Uint64
		frames      atomic.Uint64
		consumed    atomic.Uint64
		skipped     atomic.Uint64
		// pause is the number of frames to suppress triggering for, or
		// negative to suppress until Resume
		pause    atomic.Int64
		mu       sync.Mutex
		stopOnce sync.Once
		// beforeTrigger runs between the paused check and the Idle to
		// Triggered transition, nil outside of tests
		beforeTrigger func()
	}
)

// Apply implements Applier.
func (f ApplierFunc[T]) Apply(cmd T) { f(cmd) }

// New constructs a Scheduler. It panics with a fault.ErrFatalPrecondition
// error if any of queue, pass, applier, or boundary is nil.
func New[T any](queue *cmdqueue.Queue[T], pass Pass, applier Applier[T], boundary *fault.Boundary, opts ...Option) *Scheduler[T] {
	fault.Require(`scheduler queue`, queue)
	fault.Require(`scheduler pass`, pass)
	fault.Require(`scheduler applier`, applier)
	fault.Require(`scheduler boundary`, boundary)

	var o schedulerOptions
	for _, opt := range opts {
		if opt != nil {
			opt.applyScheduler(&o)
		}
	}
	for _, b := range o.buffers {
		fault.Require(`scheduler buffer`, b)
	}

	return &Scheduler[T]{
		applier:  applier,
		queue:    queue,
		boundary: boundary,
		logger:   o.logger,
		metrics:  o.metrics,
		pass:     pass,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		buffers:  o.buffers,
		pending:  make([]T, 0, queue.Cap()),
	}
}

// Frame performs one render loop iteration of the protocol:
//
//  1. if no pass is in flight (and triggering is not paused), trigger one
//  2. poll the completion flag, without blocking
//  3. if complete, swap every buffer, drain and apply commands, then
//     return to idle
//
// Frame must only be called by the render loop goroutine.
func (s *Scheduler[T]) Frame() FrameResult[T] {
	res := FrameResult[T]{Frame: s.frames.Add(1)}

	res.Paused = s.paused()
	if !res.Paused && !s.stopping() {
		if s.beforeTrigger != nil {
			s.beforeTrigger()
		}
		res.Paused, res.Triggered = s.tryTrigger(res.Frame)
	}

	if s.complete.Load() {
		s.consume(&res)
	} else if st := s.state.load(); st == StateTriggered || st == StateExecuting {
		res.Skipped = true
		s.skipped.Add(1)
	}

	if s.metrics != nil {
		s.metrics.RecordFrame(res.Consumed, res.Skipped, len(res.Commands))
	}

	return res
}

// tryTrigger moves Idle to Triggered and wakes the worker. A Pause that
// lands between the paused check and the transition is observed here, and
// the transition is rolled back, so a WaitIdle that returned after Pause
// is never followed by a pass. The same applies to the worker exiting.
func (s *Scheduler[T]) tryTrigger(frame uint64) (paused, triggered bool) {
	if !s.state.tryTransition(StateIdle, StateTriggered) {
		return false, false
	}
	if s.pause.Load() != 0 || s.stopping() {
		if s.state.tryTransition(StateTriggered, StateIdle) {
			s.notifyIdle()
		}
		return s.pause.Load() != 0, false
	}
	s.passFrame.Store(frame)
	select {
	case s.trigger <- struct{}{}:
	default:
		// unreachable while at most one pass is in flight
		s.logger.Err().
			Uint64(`frame`, frame).
			Log(`scheduler: trigger already pending`)
	}
	return false, true
}

func (s *Scheduler[T]) consume(res *FrameResult[T]) {
	st := s.state.load()

	for _, b := range s.buffers {
		b.Swap()
	}

	s.pending = s.queue.DrainInto(s.pending[:0])
	for _, cmd := range s.pending {
		s.applier.Apply(cmd)
	}

	res.Commands = s.pending
	res.Consumed = true
	res.Faulted = st == StateFaulted
	s.consumed.Add(1)

	s.complete.Store(false)
	if !s.state.tryTransition(st, StateIdle) {
		s.logger.Err().
			Str(`state`, s.state.load().String()).
			Log(`scheduler: unexpected state on consume`)
	}

	s.notifyIdle()
}

// Run is the worker loop. It blocks until ctx is canceled, or Shutdown is
// called, running one pass per trigger. A pass in progress is never
// interrupted; cancellation is only observed between passes.
func (s *Scheduler[T]) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	return s.run(ctx)
}

// Start runs the worker loop in a new goroutine, see Run.
func (s *Scheduler[T]) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	go func() {
		if err := s.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Err().
				Err(err).
				Log(`scheduler: worker stopped`)
		}
	}()
	return nil
}

func (s *Scheduler[T]) run(ctx context.Context) error {
	defer close(s.stopped)

	s.logger.Debug().Log(`scheduler: worker started`)
	defer s.logger.Debug().Log(`scheduler: worker stopped`)

	defer s.abandonTrigger()

	for {
		// exit takes priority over a pending trigger
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.stopping() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-s.trigger:
		}
		s.execute(ctx)
	}
}

// abandonTrigger stops further triggering, and returns a pass that was
// triggered but never picked up by the exiting worker to Idle, releasing
// any WaitIdle callers.
func (s *Scheduler[T]) abandonTrigger() {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.state.tryTransition(StateTriggered, StateIdle) {
		return
	}
	select {
	case <-s.trigger:
	default:
	}
	s.logger.Debug().Log(`scheduler: abandoned pending trigger`)
	s.notifyIdle()
}

func (s *Scheduler[T]) execute(ctx context.Context) {
	if !s.state.tryTransition(StateTriggered, StateExecuting) {
		s.logger.Err().
			Str(`state`, s.state.load().String()).
			Log(`scheduler: unexpected state on trigger`)
		return
	}

	frame := s.passFrame.Load()
	start := time.Now()
	err := s.boundary.Guard(`worker.pass`, func() error {
		return s.pass(ctx, frame)
	})
	elapsed := time.Since(start)

	next := StateComplete
	if fault.KindOf(err) == fault.KindScriptFault {
		next = StateFaulted
	}
	s.state.tryTransition(StateExecuting, next)

	if s.metrics != nil {
		s.metrics.RecordPass(elapsed, next == StateFaulted)
	}

	// publishes every write made by the pass to the render loop
	s.complete.Store(true)
}

// Shutdown stops the worker loop, waiting for any pass in progress to
// finish, or ctx to be canceled. No further passes are triggered.
func (s *Scheduler[T]) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.running.Load() {
		return nil
	}
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler[T]) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Pause suppresses triggering for the next cycles Frame calls, or until
// Resume if cycles is not positive. A pass already in flight still
// completes, and is still consumed.
func (s *Scheduler[T]) Pause(cycles int) {
	if cycles <= 0 {
		s.pause.Store(-1)
		return
	}
	s.pause.Store(int64(cycles))
}

// Resume re-enables triggering.
func (s *Scheduler[T]) Resume() {
	s.pause.Store(0)
}

// paused reports whether triggering is suppressed for this frame,
// counting down a finite pause.
func (s *Scheduler[T]) paused() bool {
	for {
		n := s.pause.Load()
		switch {
		case n == 0:
			return false
		case n < 0:
			return true
		case s.pause.CompareAndSwap(n, n-1):
			return true
		}
	}
}

// WaitIdle blocks until no pass is in flight, or ctx is canceled. Unless
// triggering is paused, a new pass may be triggered as soon as it returns.
func (s *Scheduler[T]) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state.load() == StateIdle {
			s.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		s.idleWaiters = append(s.idleWaiters, ch)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *Scheduler[T]) notifyIdle() {
	s.mu.Lock()
	for _, ch := range s.idleWaiters {
		close(ch)
	}
	s.idleWaiters = nil
	s.mu.Unlock()
}

// State returns the current protocol state.
func (s *Scheduler[T]) State() State {
	return s.state.load()
}

// Frames returns the number of Frame calls.
func (s *Scheduler[T]) Frames() uint64 {
	return s.frames.Load()
}

// Consumed returns the number of completed passes consumed, equal to the
// number of times the registered buffers were swapped.
func (s *Scheduler[T]) Consumed() uint64 {
	return s.consumed.Load()
}

// Skipped returns the number of frames that reused stale state, because a
// pass was still in flight.
func (s *Scheduler[T]) Skipped() uint64 {
	return s.skipped.Load()
}
