package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// CommandKind tags the variant of a Command.
type CommandKind uint8

const (
	CommandInvalid CommandKind = iota
	CommandCreateMesh
	CommandUpdateEntity
	CommandDestroyEntity
	CommandCreateCamera
	CommandUpdateCamera
	CommandUpdateCameraType
	CommandSetActiveCamera
	CommandDestroyCamera
)

// String returns a human-readable representation of the kind.
func (k CommandKind) String() string {
	switch k {
	case CommandCreateMesh:
		return "CreateMesh"
	case CommandUpdateEntity:
		return "UpdateEntity"
	case CommandDestroyEntity:
		return "DestroyEntity"
	case CommandCreateCamera:
		return "CreateCamera"
	case CommandUpdateCamera:
		return "UpdateCamera"
	case CommandUpdateCameraType:
		return "UpdateCameraType"
	case CommandSetActiveCamera:
		return "SetActiveCamera"
	case CommandDestroyCamera:
		return "DestroyCamera"
	default:
		return fmt.Sprintf("CommandKind(%d)", uint8(k))
	}
}

// Family returns the kind of object targeted by commands of this kind.
func (k CommandKind) Family() Kind {
	switch k {
	case CommandCreateMesh, CommandUpdateEntity, CommandDestroyEntity:
		return KindEntity
	case CommandCreateCamera, CommandUpdateCamera, CommandUpdateCameraType, CommandSetActiveCamera, CommandDestroyCamera:
		return KindCamera
	default:
		return KindInvalid
	}
}

// Fields is a bit set marking which optional payload fields of a Command are
// set. Unset fields leave the corresponding state unchanged.
type Fields uint16

const (
	FieldPosition Fields = 1 << iota
	FieldOrientation
	FieldScale
	FieldColor
	FieldFOV
	FieldNear
	FieldFar
	FieldCameraType
)

// Command is a mutation, submitted by the worker, and applied by the
// consumer. It is a tagged union over CommandKind; which payload fields are
// meaningful depends on Kind and Fields.
//
// Commands are values, and are immutable once constructed, use the New*
// functions. Copying a Command into a queue transfers it.
type Command struct {
	Mesh        string
	Orientation mgl32.Quat
	Color       mgl32.Vec4
	Position    mgl32.Vec3
	Scale       mgl32.Vec3
	Target      ID
	// Callback is an opaque handle, signaled once the command has been
	// applied by the consumer. Zero means none.
	Callback   uint64
	FOV        float32
	Near       float32
	Far        float32
	Fields     Fields
	CameraType CameraType
	Kind       CommandKind
}

// Has reports whether all the given fields are set.
func (c Command) Has(f Fields) bool {
	return c.Fields&f == f
}

// WithCallback returns a copy of c, carrying the given callback handle.
func (c Command) WithCallback(handle uint64) Command {
	c.Callback = handle
	return c
}

// String implements fmt.Stringer, for logging.
func (c Command) String() string {
	return fmt.Sprintf("%s(%d)", c.Kind, c.Target)
}

// EntityPatch models the optional fields of an entity mutation. Nil fields
// are left unset.
type EntityPatch struct {
	Position    *mgl32.Vec3
	Orientation *mgl32.Quat
	Scale       *mgl32.Vec3
	Color       *mgl32.Vec4
}

func (p EntityPatch) applyTo(c *Command) {
	if p.Position != nil {
		c.Position = *p.Position
		c.Fields |= FieldPosition
	}
	if p.Orientation != nil {
		c.Orientation = *p.Orientation
		c.Fields |= FieldOrientation
	}
	if p.Scale != nil {
		c.Scale = *p.Scale
		c.Fields |= FieldScale
	}
	if p.Color != nil {
		c.Color = *p.Color
		c.Fields |= FieldColor
	}
}

// CameraPatch models the optional fields of a camera mutation. Nil fields
// are left unset.
type CameraPatch struct {
	Position    *mgl32.Vec3
	Orientation *mgl32.Quat
	FOV         *float32
	Near        *float32
	Far         *float32
}

func (p CameraPatch) applyTo(c *Command) {
	if p.Position != nil {
		c.Position = *p.Position
		c.Fields |= FieldPosition
	}
	if p.Orientation != nil {
		c.Orientation = *p.Orientation
		c.Fields |= FieldOrientation
	}
	if p.FOV != nil {
		c.FOV = *p.FOV
		c.Fields |= FieldFOV
	}
	if p.Near != nil {
		c.Near = *p.Near
		c.Fields |= FieldNear
	}
	if p.Far != nil {
		c.Far = *p.Far
		c.Fields |= FieldFar
	}
}

// NewCreateMesh creates an entity with the given mesh, with optional initial
// transform / color.
func NewCreateMesh(id ID, mesh string, initial EntityPatch) Command {
	c := Command{Kind: CommandCreateMesh, Target: id, Mesh: mesh}
	initial.applyTo(&c)
	return c
}

// NewUpdateEntity updates the set fields of an existing entity.
func NewUpdateEntity(id ID, patch EntityPatch) Command {
	c := Command{Kind: CommandUpdateEntity, Target: id}
	patch.applyTo(&c)
	return c
}

// NewDestroyEntity removes an entity.
func NewDestroyEntity(id ID) Command {
	return Command{Kind: CommandDestroyEntity, Target: id}
}

// NewCreateCamera creates a camera of the given type, with optional initial
// fields.
func NewCreateCamera(id ID, typ CameraType, initial CameraPatch) Command {
	c := Command{Kind: CommandCreateCamera, Target: id, CameraType: typ, Fields: FieldCameraType}
	initial.applyTo(&c)
	return c
}

// NewUpdateCamera updates the set fields of an existing camera.
func NewUpdateCamera(id ID, patch CameraPatch) Command {
	c := Command{Kind: CommandUpdateCamera, Target: id}
	patch.applyTo(&c)
	return c
}

// NewUpdateCameraType changes the projection type of an existing camera.
func NewUpdateCameraType(id ID, typ CameraType) Command {
	return Command{Kind: CommandUpdateCameraType, Target: id, CameraType: typ, Fields: FieldCameraType}
}

// NewSetActiveCamera selects the camera used for rendering.
func NewSetActiveCamera(id ID) Command {
	return Command{Kind: CommandSetActiveCamera, Target: id}
}

// NewDestroyCamera removes a camera.
func NewDestroyCamera(id ID) Command {
	return Command{Kind: CommandDestroyCamera, Target: id}
}
