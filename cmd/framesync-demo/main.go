// Command framesync-demo runs a scripted scene through the frame protocol,
// rendering it in software, optionally dumping frames as PNG files.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gogpu/gg"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/go-framesync/callback"
	"github.com/joeycumines/go-framesync/cmdqueue"
	"github.com/joeycumines/go-framesync/config"
	"github.com/joeycumines/go-framesync/engineapi"
	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/internal/logging"
	"github.com/joeycumines/go-framesync/reload"
	"github.com/joeycumines/go-framesync/render"
	"github.com/joeycumines/go-framesync/scene"
	"github.com/joeycumines/go-framesync/scheduler"
	"github.com/joeycumines/go-framesync/scripthost"
	"github.com/joeycumines/go-framesync/telemetry"
)

// shutdownGrace bounds the wait for an in-flight pass, after which the
// script is interrupted.
const shutdownGrace = 2 * time.Second

//go:embed demo.js
var demoScript string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "framesync-demo: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet(`framesync-demo`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String(`config`, ``, `YAML config file (optional)`)
		scriptPath = fs.String(`script`, ``, `script to run (defaults to the built-in demo)`)
		watch      = fs.Bool(`watch`, false, `reload the script when it changes`)
		frames     = fs.Uint64(`frames`, 0, `stop after this many frames (0 = config value)`)
		outputDir  = fs.String(`out`, ``, `directory for PNG frame dumps`)
		eager      = fs.Bool(`eager`, false, `make callbacks ready at submission`)
		logLevel   = fs.String(`log-level`, ``, `log level (overrides config)`)
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != `` {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if *scriptPath != `` {
		cfg.Script.Path = *scriptPath
	}
	if *watch {
		cfg.Script.Watch = true
	}
	if *frames != 0 {
		cfg.Render.MaxFrames = *frames
	}
	if *outputDir != `` {
		cfg.Render.OutputDir = *outputDir
	}
	if *eager {
		cfg.Callback.EagerReady = true
	}
	if *logLevel != `` {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Parse(stderr, cfg.Log.Level)
	if err != nil {
		return err
	}

	return newApp(&cfg, logger).run(ctx)
}

type app struct {
	cfg      *config.Config
	logger   *logiface.Logger[logiface.Event]
	boundary *fault.Boundary
	queue    *cmdqueue.Queue[scene.Command]
	host     *scripthost.Host
	bridge   *callback.Bridge
	engine   *engineapi.Engine
	renderer *render.Renderer
	metrics  *telemetry.Metrics
	sched    *scheduler.Scheduler[scene.Command]
	loop     *render.Loop
	reloader *reload.Reloader
}

func newApp(cfg *config.Config, logger *logiface.Logger[logiface.Event]) *app {
	a := &app{cfg: cfg, logger: logger}

	a.boundary = fault.NewBoundary(fault.WithLogger(logger))

	queueOpts := []cmdqueue.Option{cmdqueue.WithLogger(logger), cmdqueue.WithName(`commands`)}
	if cfg.Queue.DropLogRates != nil {
		queueOpts = append(queueOpts, cmdqueue.WithDropLogRates(cfg.Queue.DropLogRates))
	}
	a.queue = cmdqueue.New[scene.Command](cfg.Queue.Capacity, queueOpts...)

	a.host = scripthost.New(scripthost.WithLogger(logger))

	a.bridge = callback.New(a.host, a.boundary,
		callback.WithLogger(logger),
		callback.WithEagerReady(cfg.Callback.EagerReady),
	)

	a.renderer = render.New(cfg.Render.Width, cfg.Render.Height,
		render.WithNotifier(a.bridge),
		render.WithLogger(logger),
		render.WithBackground(gg.Hex(cfg.Render.Background)),
	)

	a.engine = engineapi.New(engineapi.Config{
		Host:      a.host,
		Bridge:    a.bridge,
		Queue:     a.queue,
		Boundary:  a.boundary,
		Allocator: scene.NewAllocator(cfg.IDs),
		Meshes:    a.renderer.HasMesh,
		Logger:    logger,
	},
		engineapi.WithUpdateFunction(cfg.Engine.UpdateFunction),
		engineapi.WithTick(cfg.FrameInterval()),
		engineapi.WithMaxDelta(cfg.Engine.MaxDelta),
	)

	a.metrics = telemetry.New(
		telemetry.WithExceptionSource(a.boundary),
		telemetry.WithDropSource(a.queue),
	)

	a.sched = scheduler.New(a.queue, a.engine.Pass, a.renderer, a.boundary,
		scheduler.WithBuffers(a.engine.Buffers()...),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(a.metrics),
	)

	a.loop = render.NewLoop(a.sched, a.renderer, a.engine.Entities(), a.engine.Cameras(),
		render.WithInterval(cfg.FrameInterval()),
		render.WithMaxFrames(cfg.Render.MaxFrames),
		render.WithPNGDump(cfg.Render.OutputDir, cfg.Render.DumpEvery),
		render.WithLoopLogger(logger),
		render.WithOnFrame(a.onFrame),
	)

	a.reloader = reload.New(a.sched, a.host, reload.WithLogger(logger))

	return a
}

func (a *app) onFrame(res scheduler.FrameResult[scene.Command]) {
	if res.Faulted {
		a.logger.Debug().
			Uint64(`frame`, res.Frame).
			Log(`framesync-demo: faulted pass consumed`)
	}
}

func (a *app) script() (name, src string, err error) {
	if a.cfg.Script.Path == `` {
		return `demo.js`, demoScript, nil
	}
	b, err := os.ReadFile(a.cfg.Script.Path)
	if err != nil {
		return ``, ``, fmt.Errorf("script: %w", err)
	}
	return a.cfg.Script.Path, string(b), nil
}

func (a *app) run(ctx context.Context) error {
	defer a.close()

	name, src, err := a.script()
	if err != nil {
		return err
	}
	if !a.host.ExecuteScript(name, src) {
		return fmt.Errorf("script %s: %w", name, a.host.LastError())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(a.sched.Run(ctx))
	})

	g.Go(func() error {
		defer cancel()
		err := a.loop.Run(ctx)
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer done()
		if a.sched.Shutdown(shutdownCtx) != nil {
			a.logger.Warning().Log(`framesync-demo: pass did not finish, interrupting`)
			_ = a.host.Close()
		}
		return ignoreCanceled(err)
	})

	if a.cfg.Script.Watch {
		g.Go(func() error {
			return ignoreCanceled(a.reloader.Watch(ctx, a.cfg.Script.Path, a.cfg.Script.WatchInterval))
		})
	}

	a.logger.Info().
		Str(`script`, name).
		Bool(`eager_ready`, a.cfg.Callback.EagerReady).
		Uint64(`max_frames`, a.cfg.Render.MaxFrames).
		Log(`framesync-demo: started`)

	err = g.Wait()

	s := a.metrics.Snapshot()
	a.logger.Info().
		Uint64(`frames`, s.Frames).
		Uint64(`consumed`, s.Consumed).
		Uint64(`skipped`, s.Skipped).
		Uint64(`faulted`, s.Faulted).
		Uint64(`commands`, s.Commands).
		Uint64(`exceptions`, s.Exceptions).
		Uint64(`dropped`, s.Dropped).
		Dur(`pass_p50`, s.Pass.P50).
		Dur(`pass_p99`, s.Pass.P99).
		Float64(`fps`, s.FPS).
		Uint64(`reloads`, a.reloader.Reloads()).
		Log(`framesync-demo: stopped`)

	return err
}

func (a *app) close() {
	if n := a.bridge.Close(); n != 0 {
		a.logger.Debug().
			Int(`callbacks`, n).
			Log(`framesync-demo: pending callbacks dropped`)
	}
	_ = a.host.Close()
	_ = a.renderer.Close()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
