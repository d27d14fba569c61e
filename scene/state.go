package scene

import (
	"fmt"
	"iter"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/joeycumines/go-framesync/fault"
)

// ErrInvalidHandle is returned when a command targets an id that does not
// exist (or, for creation, already exists). It matches fault.ErrInvalidHandle.
var ErrInvalidHandle = fmt.Errorf("scene: %w", fault.ErrInvalidHandle)

// Entity is a per-id transform snapshot.
type Entity struct {
	Mesh        string
	Orientation mgl32.Quat
	Color       mgl32.Vec4
	Position    mgl32.Vec3
	Scale       mgl32.Vec3
	ID          ID
}

// Model returns the model matrix (translate * rotate * scale).
func (e Entity) Model() mgl32.Mat4 {
	return mgl32.Translate3D(e.Position[0], e.Position[1], e.Position[2]).
		Mul4(e.Orientation.Normalize().Mat4()).
		Mul4(mgl32.Scale3D(e.Scale[0], e.Scale[1], e.Scale[2]))
}

func newEntity(id ID, mesh string) Entity {
	return Entity{
		ID:          id,
		Mesh:        mesh,
		Orientation: mgl32.QuatIdent(),
		Scale:       mgl32.Vec3{1, 1, 1},
		Color:       mgl32.Vec4{1, 1, 1, 1},
	}
}

func (e *Entity) patch(c Command) {
	if c.Has(FieldPosition) {
		e.Position = c.Position
	}
	if c.Has(FieldOrientation) {
		e.Orientation = c.Orientation
	}
	if c.Has(FieldScale) {
		e.Scale = c.Scale
	}
	if c.Has(FieldColor) {
		e.Color = c.Color
	}
}

// EntityState is the set of live entities, indexed by id. The zero value is
// ready to use.
type EntityState struct {
	table table[Entity]
}

// Len returns the number of live entities.
func (x *EntityState) Len() int { return x.table.len() }

// Get returns the entity with the given id.
func (x *EntityState) Get(id ID) (Entity, bool) { return x.table.get(id) }

// All iterates all live entities, in ascending id order.
func (x *EntityState) All() iter.Seq2[ID, Entity] { return x.table.all() }

// Update mutates an existing entity in place, returning false if it does
// not exist. It is intended for worker-side logic (e.g. behaviors).
func (x *EntityState) Update(id ID, fn func(e *Entity)) bool { return x.table.ptr(id, fn) }

// CopyFrom replaces the contents of x with those of src.
func (x *EntityState) CopyFrom(src *EntityState) { x.table.copyFrom(&src.table) }

// Validate returns the error Apply would return for c, without mutating x.
func (x *EntityState) Validate(c Command) error {
	_, exists := x.table.get(c.Target)
	switch c.Kind {
	case CommandCreateMesh:
		if exists {
			return fmt.Errorf("%w: entity %d already exists", ErrInvalidHandle, c.Target)
		}
		if c.Target == 0 {
			return fmt.Errorf("%w: entity id must be non-zero", ErrInvalidHandle)
		}
	case CommandUpdateEntity, CommandDestroyEntity:
		if !exists {
			return fmt.Errorf("%w: unknown entity %d", ErrInvalidHandle, c.Target)
		}
	}
	return nil
}

// Apply applies an entity command. Commands targeting other families are
// ignored.
func (x *EntityState) Apply(c Command) error {
	if err := x.Validate(c); err != nil {
		return err
	}
	switch c.Kind {
	case CommandCreateMesh:
		e := newEntity(c.Target, c.Mesh)
		e.patch(c)
		x.table.insert(c.Target, e)
	case CommandUpdateEntity:
		x.table.ptr(c.Target, func(e *Entity) { e.patch(c) })
	case CommandDestroyEntity:
		x.table.remove(c.Target)
	}
	return nil
}

// CameraType is the projection used by a camera.
type CameraType uint8

const (
	CameraPerspective CameraType = iota
	CameraOrthographic
)

// String returns a human-readable representation of the camera type.
func (t CameraType) String() string {
	switch t {
	case CameraPerspective:
		return "perspective"
	case CameraOrthographic:
		return "orthographic"
	default:
		return fmt.Sprintf("CameraType(%d)", uint8(t))
	}
}

// ParseCameraType is the inverse of CameraType.String.
func ParseCameraType(s string) (CameraType, error) {
	switch s {
	case "perspective", "":
		return CameraPerspective, nil
	case "orthographic":
		return CameraOrthographic, nil
	default:
		return 0, fmt.Errorf("scene: unknown camera type %q", s)
	}
}

// Camera is a per-id camera snapshot.
type Camera struct {
	Orientation mgl32.Quat
	Position    mgl32.Vec3
	ID          ID
	FOV         float32 // degrees, perspective only
	Near        float32
	Far         float32
	Type        CameraType
}

func newCamera(id ID, typ CameraType) Camera {
	return Camera{
		ID:          id,
		Type:        typ,
		Orientation: mgl32.QuatIdent(),
		FOV:         60,
		Near:        0.1,
		Far:         1000,
	}
}

func (c *Camera) patch(cmd Command) {
	if cmd.Has(FieldPosition) {
		c.Position = cmd.Position
	}
	if cmd.Has(FieldOrientation) {
		c.Orientation = cmd.Orientation
	}
	if cmd.Has(FieldFOV) {
		c.FOV = cmd.FOV
	}
	if cmd.Has(FieldNear) {
		c.Near = cmd.Near
	}
	if cmd.Has(FieldFar) {
		c.Far = cmd.Far
	}
	if cmd.Has(FieldCameraType) {
		c.Type = cmd.CameraType
	}
}

// View returns the view matrix.
func (c Camera) View() mgl32.Mat4 {
	rot := c.Orientation.Normalize().Conjugate().Mat4()
	return rot.Mul4(mgl32.Translate3D(-c.Position[0], -c.Position[1], -c.Position[2]))
}

// Projection returns the projection matrix for the given aspect ratio.
func (c Camera) Projection(aspect float32) mgl32.Mat4 {
	if c.Type == CameraOrthographic {
		h := c.FOV / 2
		return mgl32.Ortho(-h*aspect, h*aspect, -h, h, c.Near, c.Far)
	}
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, c.Near, c.Far)
}

// CameraState is the set of live cameras, plus the active camera. The zero
// value is ready to use.
type CameraState struct {
	table  table[Camera]
	active ID
}

// Len returns the number of live cameras.
func (x *CameraState) Len() int { return x.table.len() }

// Get returns the camera with the given id.
func (x *CameraState) Get(id ID) (Camera, bool) { return x.table.get(id) }

// All iterates all live cameras, in ascending id order.
func (x *CameraState) All() iter.Seq2[ID, Camera] { return x.table.all() }

// Active returns the active camera, if any.
func (x *CameraState) Active() (Camera, bool) {
	if x.active == 0 {
		return Camera{}, false
	}
	return x.table.get(x.active)
}

// ActiveID returns the id of the active camera, or zero.
func (x *CameraState) ActiveID() ID { return x.active }

// CopyFrom replaces the contents of x with those of src.
func (x *CameraState) CopyFrom(src *CameraState) {
	x.table.copyFrom(&src.table)
	x.active = src.active
}

// Validate returns the error Apply would return for c, without mutating x.
func (x *CameraState) Validate(c Command) error {
	_, exists := x.table.get(c.Target)
	switch c.Kind {
	case CommandCreateCamera:
		if exists {
			return fmt.Errorf("%w: camera %d already exists", ErrInvalidHandle, c.Target)
		}
		if c.Target == 0 {
			return fmt.Errorf("%w: camera id must be non-zero", ErrInvalidHandle)
		}
	case CommandUpdateCamera, CommandUpdateCameraType, CommandSetActiveCamera, CommandDestroyCamera:
		if !exists {
			return fmt.Errorf("%w: unknown camera %d", ErrInvalidHandle, c.Target)
		}
	}
	return nil
}

// Apply applies a camera command. Commands targeting other families are
// ignored.
func (x *CameraState) Apply(c Command) error {
	if err := x.Validate(c); err != nil {
		return err
	}
	switch c.Kind {
	case CommandCreateCamera:
		cam := newCamera(c.Target, c.CameraType)
		cam.patch(c)
		x.table.insert(c.Target, cam)
	case CommandUpdateCamera, CommandUpdateCameraType:
		x.table.ptr(c.Target, func(cam *Camera) { cam.patch(c) })
	case CommandSetActiveCamera:
		x.active = c.Target
	case CommandDestroyCamera:
		x.table.remove(c.Target)
		if x.active == c.Target {
			x.active = 0
		}
	}
	return nil
}
