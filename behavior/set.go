package behavior

import (
	"fmt"
	"slices"

	"github.com/joeycumines/go-framesync/scene"
)

type (
	// Set tracks the behaviors attached to each entity. It is owned by the
	// worker, and is not safe for concurrent use.
	Set struct {
		registry *Registry
		attached map[scene.ID][]attachment
	}

	attachment struct {
		behavior Behavior
		name     string
	}
)

// NewSet constructs a Set, using registry to resolve names. A nil registry
// uses DefaultRegistry.
func NewSet(registry *Registry) *Set {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Set{
		registry: registry,
		attached: make(map[scene.ID][]attachment),
	}
}

// Attach attaches the named behavior to the entity, replacing any existing
// attachment with the same name.
func (s *Set) Attach(id scene.ID, name string, p Params) error {
	if id == 0 {
		return fmt.Errorf("behavior: attach %q: %w", name, scene.ErrInvalidHandle)
	}
	b, err := s.registry.New(name, p)
	if err != nil {
		return err
	}
	list := s.attached[id]
	if i := s.index(list, name); i >= 0 {
		list[i].behavior = b
	} else {
		list = append(list, attachment{name: name, behavior: b})
	}
	s.attached[id] = list
	return nil
}

// Detach removes the named behavior from the entity, returning false if it
// was not attached.
func (s *Set) Detach(id scene.ID, name string) bool {
	list := s.attached[id]
	i := s.index(list, name)
	if i < 0 {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(s.attached, id)
	} else {
		s.attached[id] = list
	}
	return true
}

// DetachAll removes every behavior from the entity, returning the number
// removed.
func (s *Set) DetachAll(id scene.ID) int {
	n := len(s.attached[id])
	delete(s.attached, id)
	return n
}

// Attached returns the names of the behaviors attached to the entity, in
// attachment order.
func (s *Set) Attached(id scene.ID) []string {
	list := s.attached[id]
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.name
	}
	return names
}

// Len returns the number of entities with at least one behavior.
func (s *Set) Len() int {
	return len(s.attached)
}

// Step advances every attached behavior by dt seconds, against entities.
// Attachments for entities that no longer exist are dropped.
func (s *Set) Step(dt float32, entities *scene.EntityState) {
	for id, list := range s.attached {
		ok := entities.Update(id, func(e *scene.Entity) {
			for _, a := range list {
				a.behavior.Step(dt, e)
			}
		})
		if !ok {
			delete(s.attached, id)
		}
	}
}

func (s *Set) index(list []attachment, name string) int {
	return slices.IndexFunc(list, func(a attachment) bool { return a.name == name })
}
