// Package engineapi exposes the scene to scripts, as the native "engine"
// module, and provides the worker pass that drives them.
//
// Every mutation a script makes is validated against the worker's back
// buffers, submitted to the command queue for the renderer, and only then
// applied to the back buffers. A mutation that cannot be queued has no
// effect, and reports false (or null) to the script. That includes creating
// an entity with a mesh the renderer does not know, see Config.Meshes.
package engineapi

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/behavior"
	"github.com/joeycumines/go-framesync/callback"
	"github.com/joeycumines/go-framesync/cmdqueue"
	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/scene"
	"github.com/joeycumines/go-framesync/scripthost"
	"github.com/joeycumines/go-framesync/statebuffer"
)

const (
	// ModuleName is the default name scripts require the module by.
	ModuleName = `engine`

	defaultUpdateFunction = `update`
	defaultTick           = time.Second / 60
	defaultMaxDelta       = 100 * time.Millisecond
)

type (
	// Config holds the dependencies of an Engine. Host, Bridge, Queue, and
	// Boundary are required.
	Config struct {
		Host     *scripthost.Host
		Bridge   *callback.Bridge
		Queue    *cmdqueue.Queue[scene.Command]
		Boundary *fault.Boundary
		// Allocator defaults to one using scene.DefaultRanges.
		Allocator *scene.Allocator
		// Behaviors defaults to behavior.DefaultRegistry.
		Behaviors *behavior.Registry
		// Meshes reports whether the renderer can draw a mesh. A nil func
		// accepts every mesh.
		Meshes func(name string) bool
		Logger *logiface.Logger[logiface.Event]
	}

	// Engine is the worker side of the scene. It must be constructed using
	// New. Its mutating methods are serialized by the scripting runtime,
	// since they are only reachable from scripts.
	Engine struct {
		host      *scripthost.Host
		bridge    *callback.Bridge
		queue     *cmdqueue.Queue[scene.Command]
		boundary  *fault.Boundary
		alloc     *scene.Allocator
		behaviors *behavior.Set
		meshes    func(string) bool
		logger    *logiface.Logger[logiface.Event]
		entities  *statebuffer.Buffer[scene.EntityState]
		cameras   *statebuffer.Buffer[scene.CameraState]
		now       func() time.Time
		last      time.Time
		update    string
		tick      time.Duration
		maxDelta  time.Duration
	}

	// Option configures an Engine.
	Option interface {
		applyEngine(*Engine)
	}

	optionFunc func(*Engine)
)

func (f optionFunc) applyEngine(e *Engine) { f(e) }

// WithUpdateFunction sets the name of the global function called once per
// pass, as fn(frame, dt). Defaults to "update".
func WithUpdateFunction(name string) Option {
	return optionFunc(func(e *Engine) {
		e.update = name
	})
}

// WithTick sets the delta reported for the first pass. Defaults to 1/60s.
func WithTick(d time.Duration) Option {
	return optionFunc(func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	})
}

// WithMaxDelta bounds the delta reported to scripts and behaviors, such that
// a long stall does not produce a large jump. Defaults to 100ms.
func WithMaxDelta(d time.Duration) Option {
	return optionFunc(func(e *Engine) {
		if d > 0 {
			e.maxDelta = d
		}
	})
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(e *Engine) {
		if now != nil {
			e.now = now
		}
	})
}

// New constructs an Engine, registering the "engine" module with the host.
// It panics if a required dependency is missing.
func New(cfg Config, opts ...Option) *Engine {
	fault.Require(`engine host`, cfg.Host)
	fault.Require(`engine bridge`, cfg.Bridge)
	fault.Require(`engine queue`, cfg.Queue)
	fault.Require(`engine boundary`, cfg.Boundary)

	if cfg.Allocator == nil {
		cfg.Allocator = scene.NewAllocator(scene.DefaultRanges())
	}

	e := &Engine{
		host:      cfg.Host,
		bridge:    cfg.Bridge,
		queue:     cfg.Queue,
		boundary:  cfg.Boundary,
		alloc:     cfg.Allocator,
		behaviors: behavior.NewSet(cfg.Behaviors),
		meshes:    cfg.Meshes,
		logger:    cfg.Logger,
		entities: statebuffer.New(statebuffer.WithCopy(func(dst, src *scene.EntityState) {
			dst.CopyFrom(src)
		})),
		cameras: statebuffer.New(statebuffer.WithCopy(func(dst, src *scene.CameraState) {
			dst.CopyFrom(src)
		})),
		now:      time.Now,
		update:   defaultUpdateFunction,
		tick:     defaultTick,
		maxDelta: defaultMaxDelta,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyEngine(e)
		}
	}

	e.host.RegisterModule(ModuleName, e.load)

	return e
}

// Entities returns the entity buffer. The renderer reads its front.
func (e *Engine) Entities() *statebuffer.Buffer[scene.EntityState] {
	return e.entities
}

// Cameras returns the camera buffer. The renderer reads its front.
func (e *Engine) Cameras() *statebuffer.Buffer[scene.CameraState] {
	return e.cameras
}

// Buffers returns every buffer to be swapped when a pass is consumed.
func (e *Engine) Buffers() []statebuffer.Swapper {
	return []statebuffer.Swapper{e.entities, e.cameras}
}

// Pass is the worker pass, see scheduler.Pass. It runs ready callbacks,
// steps attached behaviors, then calls the script's update function (if
// defined) with the frame number and the elapsed time, in seconds.
func (e *Engine) Pass(ctx context.Context, frame uint64) error {
	e.reconcile()

	e.bridge.ExecutePendingCallbacks()

	dt := float32(e.delta().Seconds())

	return e.host.EnterVM(func(vm *goja.Runtime) error {
		e.behaviors.Step(dt, e.entities.Back())
		_, err := scripthost.CallIn(vm, e.update, frame, dt)
		if errors.Is(err, scripthost.ErrNotFunction) {
			return nil
		}
		return err
	})
}

func (e *Engine) delta() time.Duration {
	now := e.now()
	d := e.tick
	if !e.last.IsZero() {
		d = min(now.Sub(e.last), e.maxDelta)
	}
	e.last = now
	return max(d, 0)
}

func (e *Engine) reconcile() {
	e.entities.Reconcile()
	e.cameras.Reconcile()
}

// issue validates, queues, then applies cmd to the back buffers, returning
// false if cmd had no effect. If fn is a function, it is registered as the
// callback for cmd, and is passed the outcome on a later pass.
func (e *Engine) issue(vm *goja.Runtime, op string, cmd scene.Command, fn goja.Value) bool {
	e.reconcile()

	var handle callback.Handle
	if cb, ok := goja.AssertFunction(fn); ok {
		handle = e.bridge.Register(func(r callback.Result) error {
			_, err := cb(goja.Undefined(), resultValue(vm, r))
			return err
		})
	}

	err := e.validate(cmd)
	if err != nil {
		_ = e.boundary.Absorb(op, err)
	} else {
		if handle != 0 && !e.bridge.Eager() {
			cmd = cmd.WithCallback(uint64(handle))
		}
		if !e.queue.Submit(cmd) {
			// logged by the queue
			err = fault.New(fault.KindQueueFull, op, `command dropped`)
		}
	}
	if err != nil {
		if handle != 0 {
			e.bridge.NotifyReady(handle, callback.Failed{Err: err})
		}
		return false
	}

	if err := e.apply(cmd); err != nil {
		// unreachable, since cmd was validated
		e.logger.Err().
			Stringer(`command`, cmd).
			Err(err).
			Log(`engineapi: validated command failed to apply`)
	}

	if handle != 0 && e.bridge.Eager() {
		e.bridge.NotifyReady(handle, callback.ResultFor(cmd, nil))
	}

	return true
}

func (e *Engine) validate(cmd scene.Command) error {
	switch cmd.Kind.Family() {
	case scene.KindEntity:
		if cmd.Kind == scene.CommandCreateMesh && e.meshes != nil && !e.meshes(cmd.Mesh) {
			return fault.New(fault.KindInvalidHandle, `engine.validate`, `unknown mesh `+cmd.Mesh)
		}
		return e.entities.Back().Validate(cmd)
	case scene.KindCamera:
		return e.cameras.Back().Validate(cmd)
	default:
		return fault.New(fault.KindInvalidHandle, `engine.validate`, `unknown command kind `+cmd.Kind.String())
	}
}

func (e *Engine) apply(cmd scene.Command) error {
	switch cmd.Kind.Family() {
	case scene.KindEntity:
		if cmd.Kind == scene.CommandDestroyEntity {
			e.behaviors.DetachAll(cmd.Target)
		}
		return e.entities.Back().Apply(cmd)
	case scene.KindCamera:
		return e.cameras.Back().Apply(cmd)
	default:
		return nil
	}
}
