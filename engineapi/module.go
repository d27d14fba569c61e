package engineapi

import (
	"github.com/dop251/goja"

	"github.com/joeycumines/go-framesync/scene"
)

// load is the require.ModuleLoader for the engine module.
//
// Mutations take an optional trailing callback, called on a later pass with
// {ok, id} or {ok: false, error}. Creation returns the new id, or null.
// Other mutations return true if the command was queued.
func (e *Engine) load(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get(`exports`).(*goja.Object)
	set := func(name string, fn func(call goja.FunctionCall) goja.Value) {
		_ = exports.Set(name, fn)
	}

	_ = exports.Set(`cameraTypes`, []string{scene.CameraPerspective.String(), scene.CameraOrthographic.String()})

	// createMesh(mesh, options?, callback?) -> id | null
	set(`createMesh`, func(call goja.FunctionCall) goja.Value {
		mesh := call.Argument(0)
		if isNullish(mesh) {
			panic(vm.NewTypeError(`createMesh: mesh is required`))
		}
		patch, err := entityPatch(call.Argument(1))
		if err != nil {
			panic(vm.NewTypeError(`createMesh: ` + err.Error()))
		}
		id, ok := e.allocate(`engine.createMesh`, scene.KindEntity)
		if !ok {
			return goja.Null()
		}
		if !e.issue(vm, `engine.createMesh`, scene.NewCreateMesh(id, mesh.String(), patch), call.Argument(2)) {
			return goja.Null()
		}
		return vm.ToValue(uint64(id))
	})

	// updateEntity(id, options, callback?) -> bool
	set(`updateEntity`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `updateEntity`, call.Argument(0))
		patch, err := entityPatch(call.Argument(1))
		if err != nil {
			panic(vm.NewTypeError(`updateEntity: ` + err.Error()))
		}
		return vm.ToValue(e.issue(vm, `engine.updateEntity`, scene.NewUpdateEntity(id, patch), call.Argument(2)))
	})

	// destroyEntity(id, callback?) -> bool
	set(`destroyEntity`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `destroyEntity`, call.Argument(0))
		return vm.ToValue(e.issue(vm, `engine.destroyEntity`, scene.NewDestroyEntity(id), call.Argument(1)))
	})

	// createCamera(type?, options?, callback?) -> id | null
	set(`createCamera`, func(call goja.FunctionCall) goja.Value {
		typ := e.cameraType(vm, `createCamera`, call.Argument(0))
		patch, err := cameraPatch(call.Argument(1))
		if err != nil {
			panic(vm.NewTypeError(`createCamera: ` + err.Error()))
		}
		id, ok := e.allocate(`engine.createCamera`, scene.KindCamera)
		if !ok {
			return goja.Null()
		}
		if !e.issue(vm, `engine.createCamera`, scene.NewCreateCamera(id, typ, patch), call.Argument(2)) {
			return goja.Null()
		}
		return vm.ToValue(uint64(id))
	})

	// updateCamera(id, options, callback?) -> bool
	set(`updateCamera`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `updateCamera`, call.Argument(0))
		patch, err := cameraPatch(call.Argument(1))
		if err != nil {
			panic(vm.NewTypeError(`updateCamera: ` + err.Error()))
		}
		return vm.ToValue(e.issue(vm, `engine.updateCamera`, scene.NewUpdateCamera(id, patch), call.Argument(2)))
	})

	// setCameraType(id, type, callback?) -> bool
	set(`setCameraType`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `setCameraType`, call.Argument(0))
		typ := e.cameraType(vm, `setCameraType`, call.Argument(1))
		return vm.ToValue(e.issue(vm, `engine.setCameraType`, scene.NewUpdateCameraType(id, typ), call.Argument(2)))
	})

	// setActiveCamera(id, callback?) -> bool
	set(`setActiveCamera`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `setActiveCamera`, call.Argument(0))
		return vm.ToValue(e.issue(vm, `engine.setActiveCamera`, scene.NewSetActiveCamera(id), call.Argument(1)))
	})

	// destroyCamera(id, callback?) -> bool
	set(`destroyCamera`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `destroyCamera`, call.Argument(0))
		return vm.ToValue(e.issue(vm, `engine.destroyCamera`, scene.NewDestroyCamera(id), call.Argument(1)))
	})

	// attachBehavior(id, name, params?) -> bool
	set(`attachBehavior`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `attachBehavior`, call.Argument(0))
		params, err := behaviorParams(call.Argument(2))
		if err != nil {
			panic(vm.NewTypeError(`attachBehavior: ` + err.Error()))
		}
		e.reconcile()
		if _, ok := e.entities.Back().Get(id); !ok {
			_ = e.boundary.Absorb(`engine.attachBehavior`, scene.ErrInvalidHandle)
			return vm.ToValue(false)
		}
		if err := e.behaviors.Attach(id, call.Argument(1).String(), params); err != nil {
			_ = e.boundary.Absorb(`engine.attachBehavior`, err)
			return vm.ToValue(false)
		}
		return vm.ToValue(true)
	})

	// detachBehavior(id, name) -> bool
	set(`detachBehavior`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `detachBehavior`, call.Argument(0))
		return vm.ToValue(e.behaviors.Detach(id, call.Argument(1).String()))
	})

	// behaviors(id) -> string[]
	set(`behaviors`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `behaviors`, call.Argument(0))
		return vm.ToValue(e.behaviors.Attached(id))
	})

	// entities() -> id[]
	set(`entities`, func(call goja.FunctionCall) goja.Value {
		e.reconcile()
		var ids []any
		for id := range e.entities.Back().All() {
			ids = append(ids, uint64(id))
		}
		return vm.NewArray(ids...)
	})

	// entity(id) -> object | null
	set(`entity`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `entity`, call.Argument(0))
		e.reconcile()
		if v, ok := e.entities.Back().Get(id); ok {
			return entityValue(vm, v)
		}
		return goja.Null()
	})

	// cameras() -> id[]
	set(`cameras`, func(call goja.FunctionCall) goja.Value {
		e.reconcile()
		var ids []any
		for id := range e.cameras.Back().All() {
			ids = append(ids, uint64(id))
		}
		return vm.NewArray(ids...)
	})

	// camera(id) -> object | null
	set(`camera`, func(call goja.FunctionCall) goja.Value {
		id := e.id(vm, `camera`, call.Argument(0))
		e.reconcile()
		if v, ok := e.cameras.Back().Get(id); ok {
			return cameraValue(vm, v)
		}
		return goja.Null()
	})

	// activeCamera() -> id | null
	set(`activeCamera`, func(call goja.FunctionCall) goja.Value {
		e.reconcile()
		if id := e.cameras.Back().ActiveID(); id != 0 {
			return vm.ToValue(uint64(id))
		}
		return goja.Null()
	})

	// kindOf(id) -> "entity" | "camera" | "light" | "invalid"
	set(`kindOf`, func(call goja.FunctionCall) goja.Value {
		v := call.Argument(0).ToInteger()
		if v <= 0 {
			return vm.ToValue(scene.KindInvalid.String())
		}
		return vm.ToValue(e.alloc.Ranges().KindOf(scene.ID(v)).String())
	})
}

func (e *Engine) id(vm *goja.Runtime, fn string, v goja.Value) scene.ID {
	if isNullish(v) {
		panic(vm.NewTypeError(fn + `: id is required`))
	}
	n := v.ToInteger()
	if n <= 0 {
		panic(vm.NewTypeError(fn + `: id must be a positive integer`))
	}
	return scene.ID(n)
}

func (e *Engine) cameraType(vm *goja.Runtime, fn string, v goja.Value) scene.CameraType {
	if isNullish(v) {
		return scene.CameraPerspective
	}
	typ, err := scene.ParseCameraType(v.String())
	if err != nil {
		panic(vm.NewTypeError(fn + `: ` + err.Error()))
	}
	return typ
}

func (e *Engine) allocate(op string, kind scene.Kind) (scene.ID, bool) {
	id, err := e.alloc.Next(kind)
	if err != nil {
		_ = e.boundary.Absorb(op, err)
		return 0, false
	}
	return id, true
}
