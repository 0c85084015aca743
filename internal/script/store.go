package script

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/vmihailenco/msgpack/v5"

	"real-pet/battle/internal/journal"
	"real-pet/battle/internal/sim"
)

// Continuation is a script call scheduled by Wait.
type Continuation struct {
	Handle uint64        `msgpack:"handle"`
	Due    sim.FrameTime `msgpack:"due"`
	Fn     string        `msgpack:"fn"`
	Entity sim.EntityID  `msgpack:"entity"`
	Arg    int64         `msgpack:"arg"`
}

type storeState struct {
	Vars          map[string]int64 `msgpack:"vars"`
	Continuations []Continuation   `msgpack:"continuations"`
	NextHandle    uint64           `msgpack:"nextHandle"`
}

func (s storeState) clone() storeState {
	cloned := storeState{
		Continuations: append([]Continuation(nil), s.Continuations...),
		NextHandle:    s.NextHandle,
	}
	if len(s.Vars) > 0 {
		cloned.Vars = make(map[string]int64, len(s.Vars))
		for k, v := range s.Vars {
			cloned.Vars[k] = v
		}
	}
	return cloned
}

// Store is the rollback-aware state of one script package. Snap and Rollback
// mirror the battle backups: same capacity, same clamping.
type Store struct {
	current storeState
	history *journal.Journal[storeState]
}

// NewStore creates a store retaining capacity snapshots.
func NewStore(capacity int) *Store {
	return &Store{history: journal.New[storeState](capacity)}
}

// Get reads a script variable; unset variables read as zero.
func (s *Store) Get(key string) int64 {
	return s.current.Vars[key]
}

// Set writes a script variable.
func (s *Store) Set(key string, value int64) {
	if s.current.Vars == nil {
		s.current.Vars = make(map[string]int64)
	}
	s.current.Vars[key] = value
}

// Schedule registers a continuation and returns its handle.
func (s *Store) Schedule(due sim.FrameTime, fn string, entity sim.EntityID, arg int64) uint64 {
	s.current.NextHandle++
	handle := s.current.NextHandle
	s.current.Continuations = append(s.current.Continuations, Continuation{
		Handle: handle,
		Due:    due,
		Fn:     fn,
		Entity: entity,
		Arg:    arg,
	})
	return handle
}

// TakeDue removes and returns the continuations due at or before now, in
// handle order.
func (s *Store) TakeDue(now sim.FrameTime) []Continuation {
	var due []Continuation
	kept := s.current.Continuations[:0]
	for _, c := range s.current.Continuations {
		if c.Due <= now {
			due = append(due, c)
			continue
		}
		kept = append(kept, c)
	}
	s.current.Continuations = kept
	return due
}

// Pending reports the number of scheduled continuations.
func (s *Store) Pending() int {
	return len(s.current.Continuations)
}

// Snap records the current state.
func (s *Store) Snap() {
	s.history.Record(s.current.clone())
}

// Rollback restores the state recorded steps snapshots ago, clamped to the
// retained history. Zero steps does nothing.
func (s *Store) Rollback(steps int) int {
	restored, taken, ok := s.history.Rewind(steps)
	if !ok {
		return 0
	}
	s.current = restored.clone()
	return taken
}

// Len reports the retained snapshot count.
func (s *Store) Len() int {
	return s.history.Len()
}

// EncodeDigest writes the canonical encoding of the current state.
func (s *Store) EncodeDigest(w io.Writer) error {
	view := s.current
	if len(view.Vars) == 0 {
		view.Vars = nil
	}
	if len(view.Continuations) == 0 {
		view.Continuations = nil
	}
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&view); err != nil {
		return eris.Wrap(err, "encode script store")
	}
	return nil
}
