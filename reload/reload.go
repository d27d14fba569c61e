// Package reload replaces the running script between worker passes.
//
// A reload compiles the new source first, so a syntax error never disturbs
// the running program. The scheduler is then paused, and the reload waits
// for any in-flight pass to be consumed before loading the program, such
// that it never runs concurrently with (or interleaves) a pass.
package reload

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/fault"
)

type (
	// Controller is the part of the scheduler a Reloader drives.
	Controller interface {
		Pause(cycles int)
		Resume()
		WaitIdle(ctx context.Context) error
	}

	// Loader compiles and runs programs. It is implemented by
	// *scripthost.Host.
	Loader interface {
		Compile(name, src string) (*goja.Program, error)
		Load(prog *goja.Program) error
	}

	// Reloader serializes script reloads against the scheduler.
	Reloader struct {
		ctrl     Controller
		loader   Loader
		logger   *logiface.Logger[logiface.Event]
		mu       sync.Mutex
		reloads  atomic.Uint64
		failures atomic.Uint64
	}

	// Option configures a Reloader.
	Option interface {
		applyReloader(*Reloader)
	}

	optionFunc func(*Reloader)
)

func (f optionFunc) applyReloader(r *Reloader) { f(r) }

// WithLogger sets the logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(r *Reloader) {
		r.logger = logger
	})
}

// New constructs a Reloader. It panics if a dependency is nil.
func New(ctrl Controller, loader Loader, opts ...Option) *Reloader {
	fault.Require(`reload controller`, ctrl)
	fault.Require(`reload loader`, loader)
	r := &Reloader{
		ctrl:   ctrl,
		loader: loader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyReloader(r)
		}
	}
	return r
}

// Reload compiles then loads src. On a compile error the running program is
// untouched. An error raised while loading is returned, but globals the
// program defined before the error remain. The scheduler is always resumed.
func (r *Reloader) Reload(ctx context.Context, name, src string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prog, err := r.loader.Compile(name, src)
	if err != nil {
		return r.fail(name, `compile`, err)
	}

	// held until the program is loaded
	r.ctrl.Pause(0)
	defer r.ctrl.Resume()

	if err := r.ctrl.WaitIdle(ctx); err != nil {
		return r.fail(name, `wait`, err)
	}

	if err := r.loader.Load(prog); err != nil {
		return r.fail(name, `load`, err)
	}

	n := r.reloads.Add(1)
	r.logger.Info().
		Str(`script`, name).
		Uint64(`reloads`, n).
		Log(`reload: script reloaded`)
	return nil
}

func (r *Reloader) fail(name, stage string, err error) error {
	r.failures.Add(1)
	r.logger.Warning().
		Str(`script`, name).
		Str(`stage`, stage).
		Err(err).
		Log(`reload: script not reloaded`)
	return err
}

// ReloadFile reads path and reloads it, naming the script by path.
func (r *Reloader) ReloadFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return r.fail(path, `read`, err)
	}
	return r.Reload(ctx, path, string(src))
}

// Watch polls path every interval, reloading it whenever its modification
// time changes, until ctx is done. Failed reloads are logged and retried on
// the next change. It returns the cause of ctx.
func (r *Reloader) Watch(ctx context.Context, path string, interval time.Duration) error {
	last := modTime(path)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
		mt := modTime(path)
		if mt.IsZero() || mt.Equal(last) {
			continue
		}
		last = mt
		if err := r.ReloadFile(ctx, path); err != nil && errors.Is(err, ctx.Err()) {
			return context.Cause(ctx)
		}
	}
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Reloads returns the number of successful reloads.
func (r *Reloader) Reloads() uint64 { return r.reloads.Load() }

// Failures returns the number of failed reloads.
func (r *Reloader) Failures() uint64 { return r.failures.Load() }
