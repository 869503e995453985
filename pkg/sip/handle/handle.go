// Package handle provides opaque, generation-checked identifiers for engine
// objects (transactions, dialogs, calls, registrations, subscriptions).
//
// A Table stores values in reusable slots. Every ID carries the slot index and
// the slot generation at insertion time; removing a value bumps the
// generation, so an ID that outlived its value never resolves again.
//
// Tables are not safe for concurrent use. Engine tables are guarded by the
// owning Context lock.
package handle

import "fmt"

// ID is an opaque reference into a Table. The zero ID is never issued.
type ID uint64

// Nil is the zero ID.
const Nil ID = 0

func makeID(index, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(index))
}

func (id ID) index() uint32 { return uint32(id) }
func (id ID) gen() uint32   { return uint32(id >> 32) }

// IsNil reports whether id is the zero ID.
func (id ID) IsNil() bool { return id == Nil }

// String returns "index.generation".
func (id ID) String() string {
	if id.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d.%d", id.index(), id.gen())
}

type slot[T any] struct {
	gen  uint32
	used bool
	val  T
}

// Table is a generational arena of values of type T.
type Table[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{}
}

// Insert stores v and returns its ID.
func (t *Table[T]) Insert(v T) ID {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		// generation starts at 1 so that index 0 never yields the Nil ID
		t.slots = append(t.slots, slot[T]{gen: 1})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.used = true
	s.val = v
	t.live++
	return makeID(idx, s.gen)
}

// Get resolves id. It returns false for the Nil ID, for IDs never issued by
// this table and for IDs whose value has been removed.
func (t *Table[T]) Get(id ID) (T, bool) {
	var zero T
	s := t.lookup(id)
	if s == nil {
		return zero, false
	}
	return s.val, true
}

// Contains reports whether id resolves.
func (t *Table[T]) Contains(id ID) bool {
	return t.lookup(id) != nil
}

// Remove deletes the value referenced by id and invalidates id.
func (t *Table[T]) Remove(id ID) bool {
	s := t.lookup(id)
	if s == nil {
		return false
	}
	var zero T
	s.val = zero
	s.used = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, id.index())
	t.live--
	return true
}

// Len returns the number of live values.
func (t *Table[T]) Len() int { return t.live }

// Each calls fn for every live value in slot order until fn returns false.
// fn must not insert into or remove from the table.
func (t *Table[T]) Each(fn func(ID, T) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used {
			continue
		}
		if !fn(makeID(uint32(i), s.gen), s.val) {
			return
		}
	}
}

// IDs returns the IDs of all live values in slot order.
func (t *Table[T]) IDs() []ID {
	ids := make([]ID, 0, t.live)
	t.Each(func(id ID, _ T) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (t *Table[T]) lookup(id ID) *slot[T] {
	if id.IsNil() {
		return nil
	}
	idx := id.index()
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.used || s.gen != id.gen() {
		return nil
	}
	return s
}
