package fault

import (
	"errors"
	"fmt"
	"reflect"
)

// Standard errors, one per Kind. Use [errors.Is] against these, or [KindOf].
var (
	// ErrQueueFull indicates backpressure: a command was dropped because the
	// bounded queue had no free slot.
	ErrQueueFull = errors.New("fault: queue full")

	// ErrInvalidHandle indicates an unknown callback, entity, or camera id.
	ErrInvalidHandle = errors.New("fault: invalid handle")

	// ErrRuntimeUnavailable indicates the scripting runtime is not
	// initialized, or has been closed.
	ErrRuntimeUnavailable = errors.New("fault: runtime unavailable")

	// ErrScriptFault indicates an exception (or panic) raised by worker-side
	// logic or a callback.
	ErrScriptFault = errors.New("fault: script fault")

	// ErrFatalPrecondition indicates a required core dependency was absent at
	// construction. It is never absorbed by a Boundary.
	ErrFatalPrecondition = errors.New("fault: fatal precondition")
)

// Kind classifies an error into the taxonomy handled by a Boundary.
type Kind int

const (
	// KindNone is the zero value, used for nil errors.
	KindNone Kind = iota
	KindQueueFull
	KindInvalidHandle
	KindRuntimeUnavailable
	KindScriptFault
	KindFatalPrecondition
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindQueueFull:
		return "QueueFull"
	case KindInvalidHandle:
		return "InvalidHandle"
	case KindRuntimeUnavailable:
		return "RuntimeUnavailable"
	case KindScriptFault:
		return "ScriptFault"
	case KindFatalPrecondition:
		return "FatalPrecondition"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Recoverable reports whether the kind is absorbed at a boundary without
// being counted as an exception.
func (k Kind) Recoverable() bool {
	switch k {
	case KindQueueFull, KindInvalidHandle, KindRuntimeUnavailable:
		return true
	default:
		return false
	}
}

// sentinel returns the standard error associated with the kind, or nil.
func (k Kind) sentinel() error {
	switch k {
	case KindQueueFull:
		return ErrQueueFull
	case KindInvalidHandle:
		return ErrInvalidHandle
	case KindRuntimeUnavailable:
		return ErrRuntimeUnavailable
	case KindScriptFault:
		return ErrScriptFault
	case KindFatalPrecondition:
		return ErrFatalPrecondition
	default:
		return nil
	}
}

// KindOf classifies err. Errors that match none of the standard errors are
// treated as script faults, since anything unclassified that escaped worker
// logic is, by definition, a fault of that logic.
func KindOf(err error) Kind {
	var e *Error
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &e) && e.Kind != KindNone:
		return e.Kind
	case errors.Is(err, ErrFatalPrecondition):
		return KindFatalPrecondition
	case errors.Is(err, ErrQueueFull):
		return KindQueueFull
	case errors.Is(err, ErrInvalidHandle):
		return KindInvalidHandle
	case errors.Is(err, ErrRuntimeUnavailable):
		return KindRuntimeUnavailable
	default:
		return KindScriptFault
	}
}

// Error is the structured form of a classified fault.
type Error struct {
	// Err is the underlying cause, if any.
	Err error
	// Op names the operation that failed, e.g. "worker.pass".
	Op string
	// Message is the human-readable message, e.g. the script exception text.
	Message string
	// Trace is the script stack trace, if one was available.
	Trace string
	Kind  Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return "fault: " + msg
	}
	return "fault: " + e.Op + ": " + msg
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the standard error for the Kind, so that
// errors.Is(&Error{Kind: KindQueueFull}, ErrQueueFull) is true.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// New constructs an *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an *Error of the given kind, wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("fault: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Require panics with an ErrFatalPrecondition *Error if v is nil, including
// typed nils (e.g. a nil pointer stored in an interface). It is intended for
// constructors, where an absent dependency indicates a startup ordering
// defect.
func Require(name string, v any) {
	if isNil(v) {
		panic(&Error{
			Kind:    KindFatalPrecondition,
			Op:      "require",
			Message: name + " must not be nil",
			Err:     ErrFatalPrecondition,
		})
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
