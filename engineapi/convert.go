package engineapi

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/dop251/goja"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/joeycumines/go-framesync/behavior"
	"github.com/joeycumines/go-framesync/callback"
	"github.com/joeycumines/go-framesync/scene"
)

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// floats reads an array of n numbers, or n-1 numbers if pad is set, in which
// case the final element defaults to pad's value.
func floats(v goja.Value, n int, pad *float32) ([]float32, error) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != `Array` {
		return nil, fmt.Errorf("expected an array of %d numbers", n)
	}
	length := int(obj.Get(`length`).ToInteger())
	if length != n && (pad == nil || length != n-1) {
		return nil, fmt.Errorf("expected an array of %d numbers, got %d", n, length)
	}
	out := make([]float32, n)
	for i := range length {
		out[i] = float32(obj.Get(strconv.Itoa(i)).ToFloat())
	}
	if length == n-1 {
		out[n-1] = *pad
	}
	return out, nil
}

func vec3(v goja.Value) (*mgl32.Vec3, error) {
	f, err := floats(v, 3, nil)
	if err != nil {
		return nil, err
	}
	return &mgl32.Vec3{f[0], f[1], f[2]}, nil
}

func quat(v goja.Value) (*mgl32.Quat, error) {
	f, err := floats(v, 4, nil)
	if err != nil {
		return nil, err
	}
	q := mgl32.Quat{W: f[3], V: mgl32.Vec3{f[0], f[1], f[2]}}
	if q.Len() == 0 {
		return nil, fmt.Errorf("orientation must be non-zero")
	}
	q = q.Normalize()
	return &q, nil
}

func color(v goja.Value) (*mgl32.Vec4, error) {
	one := float32(1)
	f, err := floats(v, 4, &one)
	if err != nil {
		return nil, err
	}
	return &mgl32.Vec4{f[0], f[1], f[2], f[3]}, nil
}

func number(v goja.Value) (*float32, error) {
	if t := v.ExportType(); t == nil || (t.Kind() != reflect.Int64 && t.Kind() != reflect.Float64) {
		return nil, fmt.Errorf("expected a number")
	}
	f := float32(v.ToFloat())
	return &f, nil
}

// field reads an optional property, returning nil if obj or the property is
// absent.
func field(obj *goja.Object, name string) goja.Value {
	if obj == nil {
		return nil
	}
	if v := obj.Get(name); !isNullish(v) {
		return v
	}
	return nil
}

func options(v goja.Value) (*goja.Object, error) {
	if isNullish(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("expected an options object")
	}
	return obj, nil
}

func entityPatch(v goja.Value) (p scene.EntityPatch, err error) {
	obj, err := options(v)
	if err != nil {
		return
	}
	if f := field(obj, `position`); f != nil {
		if p.Position, err = vec3(f); err != nil {
			return p, fmt.Errorf("position: %w", err)
		}
	}
	if f := field(obj, `orientation`); f != nil {
		if p.Orientation, err = quat(f); err != nil {
			return p, fmt.Errorf("orientation: %w", err)
		}
	}
	if f := field(obj, `scale`); f != nil {
		if p.Scale, err = vec3(f); err != nil {
			return p, fmt.Errorf("scale: %w", err)
		}
	}
	if f := field(obj, `color`); f != nil {
		if p.Color, err = color(f); err != nil {
			return p, fmt.Errorf("color: %w", err)
		}
	}
	return p, nil
}

func cameraPatch(v goja.Value) (p scene.CameraPatch, err error) {
	obj, err := options(v)
	if err != nil {
		return
	}
	if f := field(obj, `position`); f != nil {
		if p.Position, err = vec3(f); err != nil {
			return p, fmt.Errorf("position: %w", err)
		}
	}
	if f := field(obj, `orientation`); f != nil {
		if p.Orientation, err = quat(f); err != nil {
			return p, fmt.Errorf("orientation: %w", err)
		}
	}
	for _, n := range [...]struct {
		dst  **float32
		name string
	}{
		{&p.FOV, `fov`},
		{&p.Near, `near`},
		{&p.Far, `far`},
	} {
		if f := field(obj, n.name); f != nil {
			if *n.dst, err = number(f); err != nil {
				return p, fmt.Errorf("%s: %w", n.name, err)
			}
		}
	}
	return p, nil
}

func behaviorParams(v goja.Value) (p behavior.Params, err error) {
	obj, err := options(v)
	if err != nil {
		return
	}
	for _, n := range [...]struct {
		dst  *mgl32.Vec3
		name string
	}{
		{&p.Axis, `axis`},
		{&p.Center, `center`},
	} {
		if f := field(obj, n.name); f != nil {
			var x *mgl32.Vec3
			if x, err = vec3(f); err != nil {
				return p, fmt.Errorf("%s: %w", n.name, err)
			}
			*n.dst = *x
		}
	}
	for _, n := range [...]struct {
		dst  *float32
		name string
	}{
		{&p.Speed, `speed`},
		{&p.Amplitude, `amplitude`},
		{&p.Frequency, `frequency`},
		{&p.Radius, `radius`},
	} {
		if f := field(obj, n.name); f != nil {
			var x *float32
			if x, err = number(f); err != nil {
				return p, fmt.Errorf("%s: %w", n.name, err)
			}
			*n.dst = *x
		}
	}
	return p, nil
}

func vecValue(vm *goja.Runtime, v []float32) goja.Value {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return vm.NewArray(out...)
}

func entityValue(vm *goja.Runtime, e scene.Entity) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set(`id`, uint64(e.ID))
	_ = obj.Set(`mesh`, e.Mesh)
	_ = obj.Set(`position`, vecValue(vm, e.Position[:]))
	_ = obj.Set(`orientation`, vecValue(vm, []float32{e.Orientation.X(), e.Orientation.Y(), e.Orientation.Z(), e.Orientation.W}))
	_ = obj.Set(`scale`, vecValue(vm, e.Scale[:]))
	_ = obj.Set(`color`, vecValue(vm, e.Color[:]))
	return obj
}

func cameraValue(vm *goja.Runtime, c scene.Camera) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set(`id`, uint64(c.ID))
	_ = obj.Set(`type`, c.Type.String())
	_ = obj.Set(`position`, vecValue(vm, c.Position[:]))
	_ = obj.Set(`orientation`, vecValue(vm, []float32{c.Orientation.X(), c.Orientation.Y(), c.Orientation.Z(), c.Orientation.W}))
	_ = obj.Set(`fov`, float64(c.FOV))
	_ = obj.Set(`near`, float64(c.Near))
	_ = obj.Set(`far`, float64(c.Far))
	return obj
}

// resultValue converts a callback result to the object passed to scripts:
// {ok: true, id} or {ok: false, error}.
func resultValue(vm *goja.Runtime, r callback.Result) goja.Value {
	obj := vm.NewObject()
	switch r := r.(type) {
	case callback.Created:
		_ = obj.Set(`ok`, true)
		_ = obj.Set(`created`, true)
		_ = obj.Set(`id`, uint64(r.ID))
	case callback.Applied:
		_ = obj.Set(`ok`, true)
		_ = obj.Set(`id`, uint64(r.ID))
	case callback.Failed:
		_ = obj.Set(`ok`, false)
		msg := `unknown error`
		if r.Err != nil {
			msg = r.Err.Error()
		}
		_ = obj.Set(`error`, msg)
	default:
		panic(fmt.Sprintf("engineapi: unhandled result type %T", r))
	}
	return obj
}
