package render

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-framesync/callback"
	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/scene"
	"github.com/joeycumines/go-framesync/scheduler"
	"github.com/joeycumines/go-framesync/statebuffer"
)

type notification struct {
	result callback.Result
	id     callback.Handle
}

type recordingNotifier []notification

func (x *recordingNotifier) NotifyReady(id callback.Handle, result callback.Result) bool {
	*x = append(*x, notification{id: id, result: result})
	return true
}

func vec3(x, y, z float32) *mgl32.Vec3 { return &mgl32.Vec3{x, y, z} }

func rgba(r, g, b float32) *mgl32.Vec4 { return &mgl32.Vec4{r, g, b, 1} }

type pixel struct{ r, g, b uint32 }

func at(t *testing.T, r *Renderer, x, y int) pixel {
	t.Helper()
	cr, cg, cb, _ := r.Image().At(x, y).RGBA()
	return pixel{cr >> 8, cg >> 8, cb >> 8}
}

func isRed(p pixel) bool  { return p.r > 200 && p.g < 50 && p.b < 50 }
func isBlue(p pixel) bool { return p.b > 200 && p.r < 50 && p.g < 50 }

// world builds matching render-side and snapshot state for cmds.
func world(t *testing.T, r *Renderer, cmds ...scene.Command) (*scene.EntityState, *scene.CameraState) {
	t.Helper()
	var entities scene.EntityState
	var cameras scene.CameraState
	for _, cmd := range cmds {
		switch cmd.Kind.Family() {
		case scene.KindEntity:
			require.NoError(t, entities.Apply(cmd))
		case scene.KindCamera:
			require.NoError(t, cameras.Apply(cmd))
		}
		r.Apply(cmd)
	}
	return &entities, &cameras
}

func TestRenderer_Apply_callbacks(t *testing.T) {
	t.Parallel()
	var n recordingNotifier
	r := New(16, 16, WithNotifier(&n))

	r.Apply(scene.NewCreateMesh(1, `cube`, scene.EntityPatch{}).WithCallback(7))
	r.Apply(scene.NewCreateMesh(2, `teapot`, scene.EntityPatch{}).WithCallback(8))
	r.Apply(scene.NewUpdateEntity(1, scene.EntityPatch{Position: vec3(1, 0, 0)}).WithCallback(9))
	r.Apply(scene.NewDestroyEntity(1))

	require.Len(t, n, 3)
	assert.Equal(t, notification{id: 7, result: callback.Created{ID: 1}}, n[0])
	assert.Equal(t, callback.Handle(8), n[1].id)
	failed, ok := n[1].result.(callback.Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, ErrUnknownMesh)
	assert.ErrorIs(t, failed.Err, fault.ErrInvalidHandle)
	assert.Equal(t, notification{id: 9, result: callback.Applied{ID: 1}}, n[2])

	assert.False(t, r.Resident(1))
	assert.False(t, r.Resident(2))
	assert.Equal(t, uint64(3), r.Applied())
	assert.Equal(t, uint64(1), r.Rejected())
}

func TestRenderer_activeCamera(t *testing.T) {
	t.Parallel()
	r := New(16, 16)
	r.Apply(scene.NewCreateCamera(1000, scene.CameraPerspective, scene.CameraPatch{}))
	r.Apply(scene.NewSetActiveCamera(1000))
	assert.Equal(t, scene.ID(1000), r.ActiveCamera())
	r.Apply(scene.NewDestroyCamera(1000))
	assert.Zero(t, r.ActiveCamera())
}

func TestRenderer_HasMesh(t *testing.T) {
	t.Parallel()
	r := New(16, 16,
		WithMesh("teapot", func(dc *gg.Context, x, y, radius float64) {}),
		WithMesh("plane", nil),
	)
	assert.True(t, r.HasMesh("cube"))
	assert.True(t, r.HasMesh("teapot"))
	assert.False(t, r.HasMesh("plane"))
	assert.False(t, r.HasMesh(""))
}

func TestRenderer_Draw(t *testing.T) {
	t.Parallel()
	r := New(64, 64, WithBackground(gg.RGB(0, 0, 0)))
	t.Cleanup(func() { _ = r.Close() })

	entities, cameras := world(t, r,
		scene.NewCreateMesh(1, `sphere`, scene.EntityPatch{Scale: vec3(2, 2, 2), Color: rgba(1, 0, 0)}),
	)
	require.NoError(t, r.Draw(entities, cameras))

	assert.True(t, isRed(at(t, r, 32, 32)), "%+v", at(t, r, 32, 32))
	assert.Equal(t, pixel{}, at(t, r, 1, 1))

	var buf bytes.Buffer
	require.NoError(t, r.EncodePNG(&buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestRenderer_Draw_depthOrder(t *testing.T) {
	t.Parallel()
	r := New(64, 64)
	t.Cleanup(func() { _ = r.Close() })

	// the nearer entity has the lower id, so is iterated first
	entities, cameras := world(t, r,
		scene.NewCreateMesh(1, `cube`, scene.EntityPatch{Position: vec3(0, 0, 2), Scale: vec3(2, 2, 2), Color: rgba(0, 0, 1)}),
		scene.NewCreateMesh(2, `cube`, scene.EntityPatch{Scale: vec3(4, 4, 4), Color: rgba(1, 0, 0)}),
	)
	require.NoError(t, r.Draw(entities, cameras))
	assert.True(t, isBlue(at(t, r, 32, 32)), "%+v", at(t, r, 32, 32))
}

func TestRenderer_Draw_skipsNonResident(t *testing.T) {
	t.Parallel()
	r := New(64, 64, WithBackground(gg.RGB(0, 0, 0)))
	t.Cleanup(func() { _ = r.Close() })

	entities, cameras := world(t, r,
		scene.NewCreateMesh(1, `teapot`, scene.EntityPatch{Scale: vec3(4, 4, 4), Color: rgba(1, 0, 0)}),
	)
	require.Equal(t, 1, entities.Len())
	require.NoError(t, r.Draw(entities, cameras))
	assert.Equal(t, pixel{}, at(t, r, 32, 32))
}

func TestRenderer_Draw_camera(t *testing.T) {
	t.Parallel()
	r := New(64, 64, WithBackground(gg.RGB(0, 0, 0)))
	t.Cleanup(func() { _ = r.Close() })

	entities, cameras := world(t, r,
		scene.NewCreateMesh(1, `cube`, scene.EntityPatch{Scale: vec3(2, 2, 2), Color: rgba(1, 0, 0)}),
		scene.NewCreateCamera(1000, scene.CameraPerspective, scene.CameraPatch{Position: vec3(100, 0, 10)}),
		scene.NewSetActiveCamera(1000),
	)
	require.NoError(t, r.Draw(entities, cameras))
	assert.Equal(t, pixel{}, at(t, r, 32, 32), "entity is out of view")

	require.NoError(t, cameras.Apply(scene.NewUpdateCamera(1000, scene.CameraPatch{Position: vec3(0, 0, 10)})))
	require.NoError(t, r.Draw(entities, cameras))
	assert.True(t, isRed(at(t, r, 32, 32)))
}

func TestNew_invalidSize(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { New(0, 10) })
}

type countingFramer struct{ n int }

func (x *countingFramer) Frame() scheduler.FrameResult[scene.Command] {
	x.n++
	return scheduler.FrameResult[scene.Command]{Frame: uint64(x.n)}
}

func newBuffers() (*statebuffer.Buffer[scene.EntityState], *statebuffer.Buffer[scene.CameraState]) {
	return statebuffer.New[scene.EntityState](), statebuffer.New[scene.CameraState]()
}

func TestLoop_maxFrames(t *testing.T) {
	t.Parallel()
	var framer countingFramer
	entities, cameras := newBuffers()
	dir := t.TempDir()
	var results []uint64

	l := NewLoop(&framer, New(8, 8), entities, cameras,
		WithInterval(time.Millisecond),
		WithMaxFrames(4),
		WithPNGDump(dir, 2),
		WithOnFrame(func(res scheduler.FrameResult[scene.Command]) { results = append(results, res.Frame) }),
	)
	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, 4, framer.n)
	assert.Equal(t, uint64(4), l.Frames())
	assert.Equal(t, []uint64{1, 2, 3, 4}, results)

	files, err := filepath.Glob(filepath.Join(dir, `*.png`))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, `frame-000002.png`),
		filepath.Join(dir, `frame-000004.png`),
	}, files)
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestLoop_contextCanceled(t *testing.T) {
	t.Parallel()
	entities, cameras := newBuffers()
	l := NewLoop(&countingFramer{}, New(8, 8), entities, cameras, WithInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
}

func TestNewLoop_fatalPrecondition(t *testing.T) {
	t.Parallel()
	defer func() {
		err, _ := recover().(error)
		assert.ErrorIs(t, err, fault.ErrFatalPrecondition)
	}()
	NewLoop(nil, nil, nil, nil)
}
