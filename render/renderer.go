// Package render is the consumer side of the frame protocol. It applies
// queued commands to its own resources, signals callback completion, and
// rasterizes the front buffers with a software renderer.
package render

import (
	"fmt"
	"image"
	"io"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gg"
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/callback"
	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/scene"
)

// ErrUnknownMesh is reported (as a callback failure) when an entity is
// created with a mesh that has no registered shape.
var ErrUnknownMesh = fmt.Errorf("render: unknown mesh: %w", fault.ErrInvalidHandle)

type (
	// Notifier receives completion of commands carrying a callback handle.
	// It is implemented by *callback.Bridge.
	Notifier interface {
		NotifyReady(id callback.Handle, result callback.Result) bool
	}

	// Mesh draws the outline of a shape centered on (x, y), with the given
	// projected radius, as the current path of dc.
	Mesh func(dc *gg.Context, x, y, r float64)

	// Renderer implements scheduler.Applier[scene.Command]. Apply and Draw
	// must be called from the render goroutine only.
	Renderer struct {
		dc         *gg.Context
		notifier   Notifier
		logger     *logiface.Logger[logiface.Event]
		meshes     map[string]Mesh
		resident   map[scene.ID]string
		draws      []drawable
		background gg.RGBA
		active     scene.ID
		applied    uint64
		rejected   uint64
	}

	// Option configures a Renderer.
	Option interface {
		applyRenderer(*Renderer)
	}

	optionFunc func(*Renderer)

	drawable struct {
		mesh  Mesh
		color mgl32.Vec4
		x, y  float64
		r     float64
		depth float32
	}
)

func (f optionFunc) applyRenderer(r *Renderer) { f(r) }

// WithNotifier sets the receiver of command completion. Without one,
// callback handles carried by commands are ignored.
func WithNotifier(n Notifier) Option {
	return optionFunc(func(r *Renderer) {
		r.notifier = n
	})
}

// WithLogger sets the logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(r *Renderer) {
		r.logger = logger
	})
}

// WithMesh registers (or replaces) a mesh shape.
func WithMesh(name string, m Mesh) Option {
	return optionFunc(func(r *Renderer) {
		if m == nil {
			delete(r.meshes, name)
		} else {
			r.meshes[name] = m
		}
	})
}

// WithBackground sets the clear color.
func WithBackground(c gg.RGBA) Option {
	return optionFunc(func(r *Renderer) {
		r.background = c
	})
}

// DefaultMeshes returns the built-in shapes, keyed by mesh name.
func DefaultMeshes() map[string]Mesh {
	return map[string]Mesh{
		`cube`: func(dc *gg.Context, x, y, r float64) {
			dc.DrawRectangle(x-r, y-r, 2*r, 2*r)
		},
		`sphere`: func(dc *gg.Context, x, y, r float64) {
			dc.DrawCircle(x, y, r)
		},
		`plane`: func(dc *gg.Context, x, y, r float64) {
			dc.DrawRectangle(x-r, y-r/4, 2*r, r/2)
		},
		`pyramid`: func(dc *gg.Context, x, y, r float64) {
			dc.MoveTo(x, y-r)
			dc.LineTo(x+r, y+r)
			dc.LineTo(x-r, y+r)
			dc.ClosePath()
		},
	}
}

// New constructs a Renderer drawing into a width x height image.
func New(width, height int, opts ...Option) *Renderer {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("render: invalid size %dx%d", width, height))
	}
	r := &Renderer{
		dc:         gg.NewContext(width, height),
		meshes:     DefaultMeshes(),
		resident:   make(map[scene.ID]string),
		background: gg.RGB(0.08, 0.08, 0.1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyRenderer(r)
		}
	}
	return r
}

// Apply applies a command to the render-side resources, then signals the
// command's callback, if any.
func (r *Renderer) Apply(cmd scene.Command) {
	err := r.apply(cmd)
	if err != nil {
		r.rejected++
		r.logger.Warning().
			Stringer(`command`, cmd).
			Err(err).
			Log(`render: command rejected`)
	} else {
		r.applied++
	}
	if cmd.Callback != 0 && r.notifier != nil {
		r.notifier.NotifyReady(callback.Handle(cmd.Callback), callback.ResultFor(cmd, err))
	}
}

func (r *Renderer) apply(cmd scene.Command) error {
	switch cmd.Kind {
	case scene.CommandCreateMesh:
		if _, ok := r.meshes[cmd.Mesh]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMesh, cmd.Mesh)
		}
		r.resident[cmd.Target] = cmd.Mesh
	case scene.CommandDestroyEntity:
		delete(r.resident, cmd.Target)
	case scene.CommandSetActiveCamera:
		r.active = cmd.Target
	case scene.CommandDestroyCamera:
		if r.active == cmd.Target {
			r.active = 0
		}
	}
	return nil
}

// Resident reports whether the entity has a loaded mesh.
func (r *Renderer) Resident(id scene.ID) bool {
	_, ok := r.resident[id]
	return ok
}

// HasMesh reports whether name is a registered mesh. The mesh set is fixed
// at construction, so HasMesh may be called from any goroutine.
func (r *Renderer) HasMesh(name string) bool {
	_, ok := r.meshes[name]
	return ok
}

// ActiveCamera returns the id of the camera selected by the last applied
// SetActiveCamera, or zero.
func (r *Renderer) ActiveCamera() scene.ID { return r.active }

// Applied returns the number of commands applied successfully.
func (r *Renderer) Applied() uint64 { return r.applied }

// Rejected returns the number of commands that failed to apply.
func (r *Renderer) Rejected() uint64 { return r.rejected }

// Draw rasterizes the given (front) snapshots. Entities without a resident
// mesh are skipped. If no camera is active, a perspective camera at
// (0, 0, 10), looking down -Z, is used.
func (r *Renderer) Draw(entities *scene.EntityState, cameras *scene.CameraState) error {
	cam, ok := cameras.Get(r.active)
	if !ok {
		cam, ok = cameras.Active()
	}
	if !ok {
		cam = defaultCamera()
	}

	w, h := float64(r.dc.Width()), float64(r.dc.Height())
	view := cam.View()
	proj := cam.Projection(float32(w / h))

	r.draws = r.draws[:0]
	for id, e := range entities.All() {
		name, ok := r.resident[id]
		if !ok {
			continue
		}
		d, ok := project(view.Mul4(e.Model()), proj, e.Scale, w, h)
		if !ok {
			continue
		}
		d.mesh = r.meshes[name]
		d.color = e.Color
		r.draws = append(r.draws, d)
	}
	// painter's algorithm, far to near
	slices.SortStableFunc(r.draws, func(a, b drawable) int {
		switch {
		case a.depth > b.depth:
			return -1
		case a.depth < b.depth:
			return 1
		default:
			return 0
		}
	})

	r.dc.ClearWithColor(r.background)
	for _, d := range r.draws {
		r.dc.Push()
		d.mesh(r.dc, d.x, d.y, d.r)
		r.dc.SetRGBA(float64(d.color[0]), float64(d.color[1]), float64(d.color[2]), float64(d.color[3]))
		err := r.dc.Fill()
		r.dc.Pop()
		if err != nil {
			return fmt.Errorf("render: fill: %w", err)
		}
	}
	return nil
}

func defaultCamera() scene.Camera {
	return scene.Camera{
		Position:    mgl32.Vec3{0, 0, 10},
		Orientation: mgl32.QuatIdent(),
		FOV:         60,
		Near:        0.1,
		Far:         1000,
	}
}

// project maps the model-view origin to screen space, estimating the radius
// from the largest scale component, at unit size.
func project(modelView, proj mgl32.Mat4, scale mgl32.Vec3, w, h float64) (d drawable, ok bool) {
	center := modelView.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	extent := max(abs32(scale[0]), abs32(scale[1]), abs32(scale[2])) / 2
	edge := center.Add(mgl32.Vec4{extent, 0, 0, 0})

	cx, cy, cz, ok := toScreen(proj.Mul4x1(center), w, h)
	if !ok {
		return d, false
	}
	ex, ey, _, ok := toScreen(proj.Mul4x1(edge), w, h)
	if !ok {
		return d, false
	}
	d.x, d.y, d.depth = cx, cy, cz
	d.r = math.Hypot(ex-cx, ey-cy)
	return d, d.r > 0
}

func toScreen(clip mgl32.Vec4, w, h float64) (x, y float64, z float32, ok bool) {
	if clip[3] <= 0 {
		return 0, 0, 0, false
	}
	ndc := clip.Vec3().Mul(1 / clip[3])
	if ndc[2] < -1 || ndc[2] > 1 {
		return 0, 0, 0, false
	}
	x = (float64(ndc[0]) + 1) / 2 * w
	y = (1 - float64(ndc[1])) / 2 * h
	return x, y, ndc[2], true
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Image returns the most recently drawn frame.
func (r *Renderer) Image() image.Image { return r.dc.Image() }

// SavePNG writes the most recently drawn frame to path.
func (r *Renderer) SavePNG(path string) error { return r.dc.SavePNG(path) }

// EncodePNG writes the most recently drawn frame to w.
func (r *Renderer) EncodePNG(w io.Writer) error { return r.dc.EncodePNG(w) }

// Close releases the drawing context.
func (r *Renderer) Close() error { return r.dc.Close() }
