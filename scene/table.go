package scene

import (
	"iter"
	"maps"
	"slices"
)

// table is an id-indexed mapping with ascending-id iteration.
type table[V any] struct {
	values map[ID]V
	ids    []ID // sorted ascending
}

func (x *table[V]) init() {
	if x.values == nil {
		x.values = make(map[ID]V)
	}
}

func (x *table[V]) len() int {
	return len(x.ids)
}

func (x *table[V]) get(id ID) (V, bool) {
	v, ok := x.values[id]
	return v, ok
}

func (x *table[V]) ptr(id ID, fn func(v *V)) bool {
	v, ok := x.values[id]
	if !ok {
		return false
	}
	fn(&v)
	x.values[id] = v
	return true
}

// insert adds or replaces the value for id, returning false if it already
// existed.
func (x *table[V]) insert(id ID, v V) bool {
	x.init()
	_, exists := x.values[id]
	x.values[id] = v
	if !exists {
		// ids are normally allocated in ascending order, so this is usually
		// an append
		if n := len(x.ids); n == 0 || x.ids[n-1] < id {
			x.ids = append(x.ids, id)
		} else {
			i, _ := slices.BinarySearch(x.ids, id)
			x.ids = slices.Insert(x.ids, i, id)
		}
	}
	return !exists
}

func (x *table[V]) remove(id ID) bool {
	if _, ok := x.values[id]; !ok {
		return false
	}
	delete(x.values, id)
	if i, ok := slices.BinarySearch(x.ids, id); ok {
		x.ids = slices.Delete(x.ids, i, i+1)
	}
	return true
}

func (x *table[V]) all() iter.Seq2[ID, V] {
	return func(yield func(ID, V) bool) {
		for _, id := range x.ids {
			if !yield(id, x.values[id]) {
				return
			}
		}
	}
}

func (x *table[V]) copyFrom(src *table[V]) {
	x.init()
	clear(x.values)
	maps.Copy(x.values, src.values)
	x.ids = append(x.ids[:0], src.ids...)
}
