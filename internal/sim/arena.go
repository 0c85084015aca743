package sim

// Handle addresses a slot in an Arena. A handle whose generation no longer
// matches the slot refers to a removed value and resolves to nothing.
type Handle struct {
	Index      uint32 `msgpack:"index"`
	Generation uint32 `msgpack:"generation"`
}

// Valid reports whether the handle was issued by an arena. The zero handle is
// never issued because generations start at one.
func (h Handle) Valid() bool {
	return h.Generation != 0
}

type arenaSlot[T any] struct {
	Generation uint32 `msgpack:"generation"`
	Occupied   bool   `msgpack:"occupied"`
	Value      T      `msgpack:"value"`
}

// Arena stores values behind generational handles. Iteration always follows
// slot index order and freed slots are reused lowest index first, so two
// arenas fed the same operations hand out the same handles.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	count int
}

// Insert stores value and returns its handle.
func (a *Arena[T]) Insert(value T) Handle {
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[index]
		slot.Generation++
		slot.Occupied = true
		slot.Value = value
		a.count++
		return Handle{Index: index, Generation: slot.Generation}
	}
	a.slots = append(a.slots, arenaSlot[T]{Generation: 1, Occupied: true, Value: value})
	a.count++
	return Handle{Index: uint32(len(a.slots) - 1), Generation: 1}
}

// Get returns a pointer to the value addressed by h, or nil when the handle is
// stale. The pointer is invalidated by the next Insert.
func (a *Arena[T]) Get(h Handle) *T {
	if int(h.Index) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[h.Index]
	if !slot.Occupied || slot.Generation != h.Generation {
		return nil
	}
	return &slot.Value
}

// Contains reports whether h addresses a live value.
func (a *Arena[T]) Contains(h Handle) bool {
	return a.Get(h) != nil
}

// Remove frees the slot addressed by h, reporting whether it was live.
func (a *Arena[T]) Remove(h Handle) bool {
	if a.Get(h) == nil {
		return false
	}
	slot := &a.slots[h.Index]
	var zero T
	slot.Occupied = false
	slot.Value = zero
	a.count--
	a.insertFree(h.Index)
	return true
}

// insertFree keeps the free list sorted descending so the lowest index is
// popped first.
func (a *Arena[T]) insertFree(index uint32) {
	pos := len(a.free)
	for pos > 0 && a.free[pos-1] < index {
		pos--
	}
	a.free = append(a.free, 0)
	copy(a.free[pos+1:], a.free[pos:])
	a.free[pos] = index
}

// Len reports the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}

// Handles returns the handles of live values in index order. Callers that
// mutate the arena while walking it should iterate over this copy.
func (a *Arena[T]) Handles() []Handle {
	handles := make([]Handle, 0, a.count)
	for i := range a.slots {
		if a.slots[i].Occupied {
			handles = append(handles, Handle{Index: uint32(i), Generation: a.slots[i].Generation})
		}
	}
	return handles
}

// Each visits live values in index order.
func (a *Arena[T]) Each(fn func(Handle, *T)) {
	for i := range a.slots {
		slot := &a.slots[i]
		if !slot.Occupied {
			continue
		}
		fn(Handle{Index: uint32(i), Generation: slot.Generation}, &slot.Value)
	}
}

// Clone deep copies the arena. cloneValue may be nil for values without
// reference fields.
func (a *Arena[T]) Clone(cloneValue func(T) T) Arena[T] {
	cloned := Arena[T]{
		slots: make([]arenaSlot[T], len(a.slots)),
		free:  append([]uint32(nil), a.free...),
		count: a.count,
	}
	copy(cloned.slots, a.slots)
	if cloneValue != nil {
		for i := range cloned.slots {
			if cloned.slots[i].Occupied {
				cloned.slots[i].Value = cloneValue(cloned.slots[i].Value)
			}
		}
	}
	return cloned
}

// digestSlots exposes the slot table to the digest encoder.
func (a *Arena[T]) digestSlots() []arenaSlot[T] {
	return a.slots
}
