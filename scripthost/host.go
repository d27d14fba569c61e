// Package scripthost owns the embedded JavaScript runtime (goja), and
// provides scoped, exclusive entry into it.
//
// A goja.Runtime is not safe for concurrent use. Every call into the
// runtime, including invoking stored callables, must go through
// [Host.Enter] or [Host.EnterVM], which hold the runtime for the duration of
// the given function only.
package scripthost

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/fault"
)

// ErrNotFunction is returned by Call if the named global is not callable.
var ErrNotFunction = errors.New("scripthost: not a function")

type (
	// Host is the scripting runtime host. It must be constructed using New.
	Host struct {
		vm       *goja.Runtime
		registry *require.Registry
		logger   *logiface.Logger[logiface.Event]
		lastErr  error
		mu       sync.Mutex // runtime entry
		errMu    sync.Mutex
		closed   atomic.Bool
	}

	// Option configures a Host.
	Option interface {
		applyHost(*hostOptions)
	}

	hostOptions struct {
		logger  *logiface.Logger[logiface.Event]
		modules []module
		console bool
	}

	module struct {
		loader require.ModuleLoader
		name   string
	}

	optionFunc func(*hostOptions)
)

func (f optionFunc) applyHost(o *hostOptions) { f(o) }

// WithLogger sets the logger, also used as the destination for the
// JavaScript console.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(o *hostOptions) {
		o.logger = logger
	})
}

// WithModule registers a native module, loadable via require(name).
func WithModule(name string, loader require.ModuleLoader) Option {
	return optionFunc(func(o *hostOptions) {
		o.modules = append(o.modules, module{name: name, loader: loader})
	})
}

// WithConsole toggles the console global, enabled by default.
func WithConsole(enabled bool) Option {
	return optionFunc(func(o *hostOptions) {
		o.console = enabled
	})
}

// New constructs a Host, with a fresh runtime.
func New(opts ...Option) *Host {
	o := hostOptions{console: true}
	for _, opt := range opts {
		if opt != nil {
			opt.applyHost(&o)
		}
	}

	h := &Host{
		vm:     goja.New(),
		logger: o.logger,
	}
	h.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	h.registry = require.NewRegistry()
	for _, m := range o.modules {
		h.registry.RegisterNativeModule(m.name, m.loader)
	}
	if o.console {
		h.registry.RegisterNativeModule(`console`, console.RequireWithPrinter(printer{h.logger}))
	}
	h.registry.Enable(h.vm)
	if o.console {
		_ = h.vm.Set(`console`, require.Require(h.vm, `console`))
	}

	return h
}

// RegisterModule registers a native module, loadable via require(name). It
// must be called before the first script requires it.
func (h *Host) RegisterModule(name string, loader require.ModuleLoader) {
	h.registry.RegisterNativeModule(name, loader)
}

// Enter runs fn with exclusive access to the runtime. The runtime is
// released when fn returns, or panics. It returns an
// fault.ErrRuntimeUnavailable error if the host is closed.
func (h *Host) Enter(fn func() error) error {
	return h.EnterVM(func(*goja.Runtime) error { return fn() })
}

// EnterVM is Enter, passing the runtime.
func (h *Host) EnterVM(fn func(vm *goja.Runtime) error) error {
	if h.closed.Load() {
		return fault.New(fault.KindRuntimeUnavailable, `scripthost.enter`, `host closed`)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return fault.New(fault.KindRuntimeUnavailable, `scripthost.enter`, `host closed`)
	}
	return fn(h.vm)
}

// ExecuteScript runs text, returning false if it failed, in which case the
// error is available via LastError.
func (h *Host) ExecuteScript(name, text string) bool {
	_, err := h.ExecuteScriptWithResult(name, text)
	return err == nil
}

// ExecuteScriptWithResult runs text, returning the completion value. A
// failure is also recorded, see LastError.
func (h *Host) ExecuteScriptWithResult(name, text string) (value goja.Value, err error) {
	err = h.EnterVM(func(vm *goja.Runtime) (err error) {
		value, err = vm.RunScript(name, text)
		return
	})
	h.record(name, err)
	return
}

// Compile parses and compiles src, without running it. It does not require
// entry into the runtime.
func (h *Host) Compile(name, src string) (*goja.Program, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fault.Wrap(fault.KindScriptFault, `scripthost.compile`, err)
	}
	return prog, nil
}

// Load runs a compiled program, replacing any globals it declares. A
// failure is also recorded, see LastError.
func (h *Host) Load(prog *goja.Program) error {
	err := h.EnterVM(func(vm *goja.Runtime) error {
		_, err := vm.RunProgram(prog)
		return err
	})
	h.record(`load`, err)
	return err
}

// Call invokes the named global function, with exclusive access to the
// runtime. It returns ErrNotFunction if the global is undefined, or not
// callable.
func (h *Host) Call(name string, args ...any) (result goja.Value, err error) {
	err = h.EnterVM(func(vm *goja.Runtime) error {
		result, err = CallIn(vm, name, args...)
		return err
	})
	return
}

// CallIn invokes the named global function, for callers that already hold
// the runtime.
func CallIn(vm *goja.Runtime, name string, args ...any) (goja.Value, error) {
	fn, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return nil, ErrNotFunction
	}
	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = vm.ToValue(arg)
	}
	return fn(goja.Undefined(), values...)
}

// HasError reports whether the most recent script execution failed.
func (h *Host) HasError() bool {
	return h.LastError() != nil
}

// LastError returns the error from the most recent script execution, or nil
// if it succeeded.
func (h *Host) LastError() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.lastErr
}

// ClearError resets LastError.
func (h *Host) ClearError() {
	h.errMu.Lock()
	h.lastErr = nil
	h.errMu.Unlock()
}

func (h *Host) record(name string, err error) {
	h.errMu.Lock()
	h.lastErr = err
	h.errMu.Unlock()
	if err != nil {
		h.logger.Warning().
			Str(`script`, name).
			Err(err).
			Log(`scripthost: script failed`)
	}
}

// Close interrupts any running script, then waits for it to release the
// runtime. Subsequent entry fails with fault.ErrRuntimeUnavailable.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.vm.Interrupt(`scripthost: closed`)
	h.mu.Lock()
	h.vm.ClearInterrupt()
	h.mu.Unlock()
	return nil
}

// printer routes console output into the logger.
type printer struct {
	logger *logiface.Logger[logiface.Event]
}

func (p printer) Log(s string) {
	p.logger.Info().Str(`source`, `console`).Log(s)
}

func (p printer) Warn(s string) {
	p.logger.Warning().Str(`source`, `console`).Log(s)
}

func (p printer) Error(s string) {
	p.logger.Err().Str(`source`, `console`).Log(s)
}
