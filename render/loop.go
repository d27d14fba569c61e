package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/scene"
	"github.com/joeycumines/go-framesync/scheduler"
	"github.com/joeycumines/go-framesync/statebuffer"
)

const defaultInterval = time.Second / 60

type (
	// Framer advances the frame protocol by one render frame. It is
	// implemented by *scheduler.Scheduler[scene.Command].
	Framer interface {
		Frame() scheduler.FrameResult[scene.Command]
	}

	// Loop drives the render side at a fixed cadence: each tick calls
	// Frame, which never waits on the worker, then draws the front buffers.
	Loop struct {
		framer    Framer
		renderer  *Renderer
		entities  *statebuffer.Buffer[scene.EntityState]
		cameras   *statebuffer.Buffer[scene.CameraState]
		logger    *logiface.Logger[logiface.Event]
		onFrame   func(scheduler.FrameResult[scene.Command])
		outputDir string
		interval  time.Duration
		maxFrames uint64
		dumpEvery uint64
		frames    uint64
	}

	// LoopOption configures a Loop.
	LoopOption interface {
		applyLoop(*Loop)
	}

	loopOptionFunc func(*Loop)
)

func (f loopOptionFunc) applyLoop(l *Loop) { f(l) }

// WithInterval sets the frame period. Defaults to 1/60s.
func WithInterval(d time.Duration) LoopOption {
	return loopOptionFunc(func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	})
}

// WithMaxFrames stops the loop, returning nil, after n frames. Zero means
// unbounded.
func WithMaxFrames(n uint64) LoopOption {
	return loopOptionFunc(func(l *Loop) {
		l.maxFrames = n
	})
}

// WithPNGDump writes every nth drawn frame to dir, as frame-NNNNNN.png. An
// empty dir disables dumping.
func WithPNGDump(dir string, every uint64) LoopOption {
	return loopOptionFunc(func(l *Loop) {
		l.outputDir = dir
		l.dumpEvery = max(every, 1)
	})
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return loopOptionFunc(func(l *Loop) {
		l.logger = logger
	})
}

// WithOnFrame registers a function called with every frame result.
func WithOnFrame(fn func(scheduler.FrameResult[scene.Command])) LoopOption {
	return loopOptionFunc(func(l *Loop) {
		l.onFrame = fn
	})
}

// NewLoop constructs a Loop. It panics if a dependency is nil.
func NewLoop(framer Framer, renderer *Renderer, entities *statebuffer.Buffer[scene.EntityState], cameras *statebuffer.Buffer[scene.CameraState], opts ...LoopOption) *Loop {
	fault.Require(`render framer`, framer)
	fault.Require(`render renderer`, renderer)
	fault.Require(`render entities`, entities)
	fault.Require(`render cameras`, cameras)
	l := &Loop{
		framer:   framer,
		renderer: renderer,
		entities: entities,
		cameras:  cameras,
		interval: defaultInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyLoop(l)
		}
	}
	return l
}

// Run runs the loop until ctx is canceled (returning its cause), the
// maximum number of frames is reached (returning nil), or drawing fails.
func (l *Loop) Run(ctx context.Context) error {
	if l.outputDir != `` {
		if err := os.MkdirAll(l.outputDir, 0o755); err != nil {
			return fmt.Errorf("render: output dir: %w", err)
		}
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if l.maxFrames != 0 && l.frames >= l.maxFrames {
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
		if err := l.Step(); err != nil {
			return err
		}
	}
}

// Step runs a single frame, without waiting for the ticker.
func (l *Loop) Step() error {
	res := l.framer.Frame()
	l.frames++

	if l.onFrame != nil {
		l.onFrame(res)
	}

	if err := l.renderer.Draw(l.entities.Front(), l.cameras.Front()); err != nil {
		return err
	}

	if l.outputDir != `` && l.frames%l.dumpEvery == 0 {
		path := filepath.Join(l.outputDir, fmt.Sprintf("frame-%06d.png", l.frames))
		if err := l.renderer.SavePNG(path); err != nil {
			return fmt.Errorf("render: dump frame %d: %w", l.frames, err)
		}
		l.logger.Debug().
			Uint64(`frame`, l.frames).
			Str(`path`, path).
			Log(`render: frame written`)
	}

	return nil
}

// Frames returns the number of frames run.
func (l *Loop) Frames() uint64 { return l.frames }
