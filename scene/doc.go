// Package scene models the renderable world: entities, cameras, and the
// commands that mutate them.
//
// The worker owns a back copy of [EntityState] and [CameraState], applying
// each [Command] as it is issued, and submits the same command for the
// consumer (renderer) to apply against its own resources. Ids are allocated
// from disjoint per-kind ranges, see [Ranges] and [Allocator].
package scene
