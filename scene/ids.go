package scene

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ID identifies an entity, camera, or light. The numeric space is shared
// across kinds, and partitioned into disjoint ranges (see Ranges), such that
// the kind of any valid id is recoverable from its value alone. Zero is never
// a valid id.
type ID uint64

// Kind is the kind of object an ID refers to.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindEntity
	KindCamera
	KindLight
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindCamera:
		return "camera"
	case KindLight:
		return "light"
	default:
		return "invalid"
	}
}

// Range is a half-open interval [Base, Limit) of ids.
type Range struct {
	Base  ID `yaml:"base"`
	Limit ID `yaml:"limit"`
}

// Contains reports whether id is within the range.
func (r Range) Contains(id ID) bool {
	return id >= r.Base && id < r.Limit
}

func (r Range) overlaps(o Range) bool {
	return r.Base < o.Limit && o.Base < r.Limit
}

// Ranges partitions the id space by kind.
type Ranges struct {
	Entity Range `yaml:"entity"`
	Camera Range `yaml:"camera"`
	Light  Range `yaml:"light"`
}

// DefaultRanges returns the default partitioning: entities start at 1,
// cameras at 1000, lights at 2000.
func DefaultRanges() Ranges {
	return Ranges{
		Entity: Range{Base: 1, Limit: 1000},
		Camera: Range{Base: 1000, Limit: 2000},
		Light:  Range{Base: 2000, Limit: 3000},
	}
}

// Validate checks that every range is non-empty, excludes zero, and that no
// two ranges overlap.
func (x Ranges) Validate() error {
	named := [...]struct {
		name string
		r    Range
	}{
		{`entity`, x.Entity},
		{`camera`, x.Camera},
		{`light`, x.Light},
	}
	for _, n := range named {
		if n.r.Base == 0 {
			return fmt.Errorf("scene: %s range must start above zero", n.name)
		}
		if n.r.Limit <= n.r.Base {
			return fmt.Errorf("scene: %s range is empty: [%d, %d)", n.name, n.r.Base, n.r.Limit)
		}
	}
	for i := range named {
		for j := i + 1; j < len(named); j++ {
			if named[i].r.overlaps(named[j].r) {
				return fmt.Errorf("scene: %s and %s ranges overlap", named[i].name, named[j].name)
			}
		}
	}
	return nil
}

// KindOf returns the kind the id belongs to, or KindInvalid.
func (x Ranges) KindOf(id ID) Kind {
	switch {
	case x.Entity.Contains(id):
		return KindEntity
	case x.Camera.Contains(id):
		return KindCamera
	case x.Light.Contains(id):
		return KindLight
	default:
		return KindInvalid
	}
}

func (x Ranges) rangeOf(kind Kind) (Range, bool) {
	switch kind {
	case KindEntity:
		return x.Entity, true
	case KindCamera:
		return x.Camera, true
	case KindLight:
		return x.Light, true
	default:
		return Range{}, false
	}
}

// ErrIDExhausted is returned by Allocator.Next once a kind's range is used up.
var ErrIDExhausted = errors.New("scene: id range exhausted")

// Allocator hands out strictly increasing ids, per kind, within the
// configured Ranges. Ids are never reused. It is safe for concurrent use.
type Allocator struct {
	ranges Ranges
	next   [KindLight + 1]atomic.Uint64
}

// NewAllocator constructs an Allocator. It panics if ranges is invalid.
func NewAllocator(ranges Ranges) *Allocator {
	if err := ranges.Validate(); err != nil {
		panic(err)
	}
	a := &Allocator{ranges: ranges}
	a.next[KindEntity].Store(uint64(ranges.Entity.Base))
	a.next[KindCamera].Store(uint64(ranges.Camera.Base))
	a.next[KindLight].Store(uint64(ranges.Light.Base))
	return a
}

// Ranges returns the partitioning used by the allocator.
func (a *Allocator) Ranges() Ranges {
	return a.ranges
}

// Next returns the next id for kind.
func (a *Allocator) Next(kind Kind) (ID, error) {
	r, ok := a.ranges.rangeOf(kind)
	if !ok {
		return 0, fmt.Errorf("scene: cannot allocate id of kind %s", kind)
	}
	for {
		cur := a.next[kind].Load()
		if ID(cur) >= r.Limit {
			return 0, fmt.Errorf("%w: %s", ErrIDExhausted, kind)
		}
		if a.next[kind].CompareAndSwap(cur, cur+1) {
			return ID(cur), nil
		}
	}
}
