// Package behavior provides the closed set of per-entity behaviors that
// scripts may attach, and the per-entity Set that steps them each pass.
//
// Behaviors are native, and are selected by name from a Registry. Scripts
// configure them, but never supply their logic.
package behavior

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/scene"
)

// ErrUnknownBehavior is returned for names not present in the Registry.
var ErrUnknownBehavior = fmt.Errorf("behavior: unknown behavior: %w", fault.ErrInvalidHandle)

type (
	// Behavior mutates an entity, once per worker pass. Implementations may
	// hold per-attachment state.
	Behavior interface {
		Step(dt float32, e *scene.Entity)
	}

	// Params configures a behavior. Each behavior reads only the fields it
	// needs, zero values select defaults.
	Params struct {
		Axis      mgl32.Vec3 `json:"axis"`
		Center    mgl32.Vec3 `json:"center"`
		Speed     float32    `json:"speed"`
		Amplitude float32    `json:"amplitude"`
		Frequency float32    `json:"frequency"`
		Radius    float32    `json:"radius"`
	}

	// Constructor builds a Behavior from Params.
	Constructor func(p Params) (Behavior, error)

	// Registry maps behavior names to constructors.
	Registry struct {
		constructors map[string]Constructor
	}

	// Spin rotates the entity about Axis, at Speed radians per second.
	Spin struct {
		Axis  mgl32.Vec3
		Speed float32
	}

	// Bob oscillates the entity along Axis, about the position it had when
	// first stepped.
	Bob struct {
		base      mgl32.Vec3
		Axis      mgl32.Vec3
		Amplitude float32
		Frequency float32 // Hz
		elapsed   float32
		started   bool
	}

	// Orbit moves the entity in a circle about Center, in the plane
	// perpendicular to Axis, at Speed radians per second.
	Orbit struct {
		Center mgl32.Vec3
		Axis   mgl32.Vec3
		Radius float32
		Speed  float32
		angle  float32
	}
)

// DefaultRegistry returns a Registry containing the built-in behaviors:
// "spin", "bob", and "orbit".
func DefaultRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{
		`spin`:  NewSpin,
		`bob`:   NewBob,
		`orbit`: NewOrbit,
	}}
}

// Register adds or replaces a named constructor.
func (r *Registry) Register(name string, c Constructor) {
	if c == nil {
		panic(`behavior: nil constructor`)
	}
	if r.constructors == nil {
		r.constructors = make(map[string]Constructor)
	}
	r.constructors[name] = c
}

// New constructs the named behavior.
func (r *Registry) New(name string, p Params) (Behavior, error) {
	c, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBehavior, name)
	}
	return c(p)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.constructors))
}

func axisOr(v, def mgl32.Vec3) (mgl32.Vec3, error) {
	if v == (mgl32.Vec3{}) {
		return def, nil
	}
	if l := v.Len(); l == 0 || math.IsNaN(float64(l)) || math.IsInf(float64(l), 0) {
		return mgl32.Vec3{}, fmt.Errorf("behavior: invalid axis %v", v)
	}
	return v.Normalize(), nil
}

// NewSpin constructs a Spin, defaulting to the Y axis at one radian per
// second.
func NewSpin(p Params) (Behavior, error) {
	axis, err := axisOr(p.Axis, mgl32.Vec3{0, 1, 0})
	if err != nil {
		return nil, err
	}
	speed := p.Speed
	if speed == 0 {
		speed = 1
	}
	return &Spin{Axis: axis, Speed: speed}, nil
}

func (x *Spin) Step(dt float32, e *scene.Entity) {
	q := mgl32.QuatRotate(x.Speed*dt, x.Axis)
	e.Orientation = q.Mul(e.Orientation).Normalize()
}

// NewBob constructs a Bob, defaulting to the Y axis, amplitude 0.5, at 1Hz.
func NewBob(p Params) (Behavior, error) {
	axis, err := axisOr(p.Axis, mgl32.Vec3{0, 1, 0})
	if err != nil {
		return nil, err
	}
	b := &Bob{Axis: axis, Amplitude: p.Amplitude, Frequency: p.Frequency}
	if b.Amplitude == 0 {
		b.Amplitude = 0.5
	}
	if b.Frequency == 0 {
		b.Frequency = 1
	}
	return b, nil
}

func (x *Bob) Step(dt float32, e *scene.Entity) {
	if !x.started {
		x.base = e.Position
		x.started = true
	}
	x.elapsed += dt
	offset := x.Amplitude * float32(math.Sin(2*math.Pi*float64(x.Frequency*x.elapsed)))
	e.Position = x.base.Add(x.Axis.Mul(offset))
}

// NewOrbit constructs an Orbit, defaulting to the Y axis, radius 1, at one
// radian per second.
func NewOrbit(p Params) (Behavior, error) {
	axis, err := axisOr(p.Axis, mgl32.Vec3{0, 1, 0})
	if err != nil {
		return nil, err
	}
	o := &Orbit{Center: p.Center, Axis: axis, Radius: p.Radius, Speed: p.Speed}
	if o.Radius == 0 {
		o.Radius = 1
	}
	if o.Speed == 0 {
		o.Speed = 1
	}
	return o, nil
}

func (x *Orbit) Step(dt float32, e *scene.Entity) {
	x.angle = float32(math.Mod(float64(x.angle+x.Speed*dt), 2*math.Pi))
	// any vector perpendicular to the axis works as the zero angle
	ref := mgl32.Vec3{1, 0, 0}
	if abs32(x.Axis.Dot(ref)) > 0.9 {
		ref = mgl32.Vec3{0, 0, 1}
	}
	u := x.Axis.Cross(ref).Normalize()
	offset := mgl32.QuatRotate(x.angle, x.Axis).Rotate(u).Mul(x.Radius)
	e.Position = x.Center.Add(offset)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
