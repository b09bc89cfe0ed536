// Package blackboard provides the per-instance key/value store shared by all
// nodes of a behavior tree instance, during and across ticks.
//
// A Blackboard has exactly one mutator: the goroutine currently ticking the
// owning instance. Scheduler workers never write it; they report results
// which the owning leaf writes on a later tick. Because of that single-writer
// discipline the store carries no lock. Builds with the "debug" tag assert
// the discipline on every write.
package blackboard

import (
	"sort"
	"sync/atomic"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Blackboard is a key/value store. The zero value is ready to use.
//
// Values persist until overwritten or deleted; there is no implicit expiry.
// Values that need shared or cyclic structure are stored in the blackboard's
// arena and referenced by handle.
type Blackboard struct {
	data  map[Key]value.Value
	arena value.Arena
	// owner is the goroutine id of the tick currently writing, or 0.
	owner atomic.Int64
}

// New returns an empty blackboard.
func New() *Blackboard {
	return &Blackboard{data: make(map[Key]value.Value)}
}

// Get returns the value stored at key, or def if absent.
func (b *Blackboard) Get(key Key, def value.Value) value.Value {
	if v, ok := b.data[key]; ok {
		return v
	}
	return def
}

// Lookup returns the value stored at key and whether it was present.
func (b *Blackboard) Lookup(key Key) (value.Value, bool) {
	v, ok := b.data[key]
	return v, ok
}

// Put stores v at key. Invalid (zero) keys are ignored.
func (b *Blackboard) Put(key Key, v value.Value) {
	if !key.Valid() {
		return
	}
	b.assertWriter("Put")
	if b.data == nil {
		b.data = make(map[Key]value.Value)
	}
	b.data[key] = v
}

// Delete removes key, reporting whether it was present.
func (b *Blackboard) Delete(key Key) bool {
	b.assertWriter("Delete")
	if _, ok := b.data[key]; !ok {
		return false
	}
	delete(b.data, key)
	return true
}

// Has reports whether key is present.
func (b *Blackboard) Has(key Key) bool {
	_, ok := b.data[key]
	return ok
}

// Len returns the number of entries.
func (b *Blackboard) Len() int { return len(b.data) }

// Keys returns all keys in a stable order (by kind, then payload).
func (b *Blackboard) Keys() []Key {
	keys := make([]Key, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// Snapshot returns a shallow copy of the entries.
func (b *Blackboard) Snapshot() map[Key]value.Value {
	out := make(map[Key]value.Value, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}

// Named returns the symbol- and string-keyed entries as plain Go data,
// keyed by name. Symbols win over strings of the same name. Used as the
// environment for predicate expressions.
func (b *Blackboard) Named() map[string]any {
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		if k.kind == KeyString {
			out[k.s] = v.ToAny()
		}
	}
	for k, v := range b.data {
		if k.kind == KeySymbol {
			out[k.s] = v.ToAny()
		}
	}
	return out
}

// Alloc stores v in the arena and returns a handle value referencing it.
func (b *Blackboard) Alloc(v value.Value) value.Value {
	b.assertWriter("Alloc")
	return value.HandleOf(b.arena.Alloc(v))
}

// Deref follows a handle value. Non-handle values are returned unchanged.
func (b *Blackboard) Deref(v value.Value) (value.Value, error) {
	h, err := v.AsHandle()
	if err != nil {
		return v, nil
	}
	return b.arena.Get(h)
}

// Arena exposes the handle arena owned by this blackboard.
func (b *Blackboard) Arena() *value.Arena { return &b.arena }

// Clear removes all entries and arena slots.
func (b *Blackboard) Clear() {
	b.assertWriter("Clear")
	b.data = make(map[Key]value.Value)
	b.arena = value.Arena{}
}

// Bind marks goroutine gid as the current writer. It returns false if a
// different goroutine already holds the blackboard.
func (b *Blackboard) Bind(gid int64) bool {
	return b.owner.CompareAndSwap(0, gid)
}

// Unbind clears the current writer.
func (b *Blackboard) Unbind(gid int64) {
	b.owner.CompareAndSwap(gid, 0)
}
