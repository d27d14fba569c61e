package fault

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// defaultLogRates bounds how often a single op may emit a fault log line.
// Faults beyond the rate are still counted.
var defaultLogRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

type (
	// Boundary is the error isolation boundary, wrapping worker passes and
	// callback invocations. Every recoverable condition is absorbed here,
	// logged, and counted; nothing crosses it as a panic, except for
	// ErrFatalPrecondition.
	//
	// A Boundary is safe for concurrent use.
	Boundary struct {
		logger     *logiface.Logger[logiface.Event]
		limiter    *catrate.Limiter
		onFault    func(*Error)
		exceptions atomic.Uint64
		absorbed   atomic.Uint64
	}

	// Option configures a Boundary.
	Option interface {
		applyBoundary(*Boundary)
	}

	optionFunc func(*Boundary)
)

func (f optionFunc) applyBoundary(b *Boundary) { f(b) }

// WithLogger sets the logger used to report absorbed faults. A nil logger
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(b *Boundary) {
		b.logger = logger
	})
}

// WithLogRates overrides the per-op log rate limits. A nil or empty map
// disables rate limiting.
func WithLogRates(rates map[time.Duration]int) Option {
	return optionFunc(func(b *Boundary) {
		if len(rates) == 0 {
			b.limiter = nil
			return
		}
		b.limiter = catrate.NewLimiter(rates)
	})
}

// WithOnFault registers a hook, called synchronously for every absorbed
// fault, after it has been counted. It must not block.
func WithOnFault(fn func(*Error)) Option {
	return optionFunc(func(b *Boundary) {
		b.onFault = fn
	})
}

// NewBoundary constructs a Boundary.
func NewBoundary(opts ...Option) *Boundary {
	b := &Boundary{
		limiter: catrate.NewLimiter(defaultLogRates),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyBoundary(b)
		}
	}
	return b
}

// Guard runs fn, converting any returned error or panic into a classified
// *Error, which is logged, counted, then returned. A nil return means fn
// completed without fault.
//
// Panics carrying ErrFatalPrecondition are propagated unchanged.
func (b *Boundary) Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, ErrFatalPrecondition) {
				panic(r)
			}
			err = b.Absorb(op, PanicError{Value: r})
		}
	}()
	if e := fn(); e != nil {
		return b.Absorb(op, e)
	}
	return nil
}

// Absorb classifies, logs, and counts err, returning the classified form.
// It returns nil if err is nil. Script faults increment the exception
// counter; recoverable kinds are logged at warning level only.
func (b *Boundary) Absorb(op string, err error) error {
	if err == nil {
		return nil
	}

	e := classify(op, err)

	switch e.Kind {
	case KindFatalPrecondition:
		panic(e)
	case KindScriptFault:
		n := b.exceptions.Add(1)
		if b.allow(op) {
			b.logger.Err().
				Str(`op`, op).
				Str(`kind`, e.Kind.String()).
				Str(`trace`, e.Trace).
				Uint64(`exceptions`, n).
				Err(err).
				Log(e.Message)
		}
	default:
		b.absorbed.Add(1)
		if b.allow(op) {
			b.logger.Warning().
				Str(`op`, op).
				Str(`kind`, e.Kind.String()).
				Err(err).
				Log(e.Message)
		}
	}

	if b.onFault != nil {
		b.onFault(e)
	}

	return e
}

// Exceptions returns the number of script faults absorbed since
// construction or the last ResetExceptions. It is monotonic between resets.
func (b *Boundary) Exceptions() uint64 {
	return b.exceptions.Load()
}

// ResetExceptions zeroes the exception counter, returning the prior value.
func (b *Boundary) ResetExceptions() uint64 {
	return b.exceptions.Swap(0)
}

// Absorbed returns the number of recoverable (non-exception) faults.
func (b *Boundary) Absorbed() uint64 {
	return b.absorbed.Load()
}

func (b *Boundary) allow(op string) bool {
	if b.limiter == nil {
		return true
	}
	_, ok := b.limiter.Allow(op)
	return ok
}

// classify builds the *Error for err, extracting the message and trace from
// goja exceptions where present.
func classify(op string, err error) *Error {
	var existing *Error
	if errors.As(err, &existing) && existing.Kind != KindNone {
		e := *existing
		if e.Op == "" {
			e.Op = op
		}
		if e.Message == "" {
			e.Message = err.Error()
		}
		return &e
	}

	e := &Error{
		Kind:    KindOf(err),
		Op:      op,
		Message: err.Error(),
		Err:     err,
	}

	var (
		exception   *goja.Exception
		interrupted *goja.InterruptedError
	)
	switch {
	case errors.As(err, &interrupted):
		e.Kind = KindScriptFault
		e.Message = "interrupted: " + interrupted.Error()
		e.Trace = interrupted.String()
	case errors.As(err, &exception):
		e.Kind = KindScriptFault
		if v := exception.Value(); v != nil {
			e.Message = v.String()
		}
		e.Trace = exception.String()
	}

	return e
}
