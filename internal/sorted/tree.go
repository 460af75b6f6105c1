// Package sorted provides the offset-ordered index each per-process queue
// keeps its pending requests in.
package sorted

import "github.com/tidwall/btree"

// Tree maps a sector offset to exactly one value. Offsets are unique: an
// insert that collides returns the current occupant instead of replacing it.
type Tree[V any] struct {
	m btree.Map[uint64, V]
}

// Insert adds v at key. If key is already taken the existing value is
// returned with ok=false and the tree is left unchanged.
func (t *Tree[V]) Insert(key uint64, v V) (alias V, ok bool) {
	if cur, found := t.m.Get(key); found {
		return cur, false
	}
	t.m.Set(key, v)
	return alias, true
}

// Delete removes key and reports whether it was present
func (t *Tree[V]) Delete(key uint64) bool {
	_, ok := t.m.Delete(key)
	return ok
}

// Get returns the value stored at key
func (t *Tree[V]) Get(key uint64) (V, bool) {
	return t.m.Get(key)
}

// Min returns the lowest-offset entry
func (t *Tree[V]) Min() (uint64, V, bool) {
	return t.m.Min()
}

// Prev returns the entry with the greatest key strictly below key
func (t *Tree[V]) Prev(key uint64) (pk uint64, pv V, ok bool) {
	t.m.Descend(key, func(k uint64, v V) bool {
		if k == key {
			return true
		}
		pk, pv, ok = k, v, true
		return false
	})
	return
}

// Next returns the entry with the smallest key strictly above key
func (t *Tree[V]) Next(key uint64) (nk uint64, nv V, ok bool) {
	t.m.Ascend(key, func(k uint64, v V) bool {
		if k == key {
			return true
		}
		nk, nv, ok = k, v, true
		return false
	})
	return
}

// Len returns the number of entries
func (t *Tree[V]) Len() int {
	return t.m.Len()
}

// Empty reports whether the tree holds nothing
func (t *Tree[V]) Empty() bool {
	return t.m.Len() == 0
}

// Ascend calls fn for every entry in offset order until fn returns false
func (t *Tree[V]) Ascend(fn func(key uint64, v V) bool) {
	t.m.Scan(fn)
}
