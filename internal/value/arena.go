package value

import (
	"errors"
	"fmt"
)

// ErrStaleHandle is returned when a handle refers to a released slot.
var ErrStaleHandle = errors.New("value: stale handle")

// Handle addresses a slot in an Arena. Handles are stable for the lifetime of
// the slot; once released, the slot's generation changes and old handles
// dereference to ErrStaleHandle.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle, which never refers to a slot.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string { return fmt.Sprintf("#<%d:%d>", h.index, h.gen) }

// Arena stores values that participate in shared or cyclic structure. Values
// refer to each other through Handles instead of pointers, so the arena can
// be dropped as a whole with no cycle collection.
//
// Arena is not safe for concurrent use; it follows the single-writer
// discipline of its owning blackboard.
type Arena struct {
	slots []arenaSlot
	free  []uint32
	live  int
}

type arenaSlot struct {
	gen  uint32
	used bool
	v    Value
}

// Alloc stores v and returns its handle.
func (a *Arena) Alloc(v Value) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.used = true
	s.v = v
	a.live++
	return Handle{index: idx, gen: s.gen}
}

func (a *Arena) slot(h Handle) (*arenaSlot, error) {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil, ErrStaleHandle
	}
	s := &a.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return s, nil
}

// Get dereferences h.
func (a *Arena) Get(h Handle) (Value, error) {
	s, err := a.slot(h)
	if err != nil {
		return Nil, err
	}
	return s.v, nil
}

// Set replaces the value stored at h.
func (a *Arena) Set(h Handle, v Value) error {
	s, err := a.slot(h)
	if err != nil {
		return err
	}
	s.v = v
	return nil
}

// Release frees the slot. Outstanding copies of h become stale.
func (a *Arena) Release(h Handle) error {
	s, err := a.slot(h)
	if err != nil {
		return err
	}
	s.used = false
	s.v = Nil
	a.free = append(a.free, h.index)
	a.live--
	return nil
}

// Len returns the number of live slots.
func (a *Arena) Len() int { return a.live }
