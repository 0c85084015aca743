package sim

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// Digest is a blake3 fingerprint of a state.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// digestView flattens the state, arena internals included, so two states
// with different free lists never share a digest.
type digestView struct {
	Time         FrameTime             `msgpack:"time"`
	Entities     []arenaSlot[Entity]   `msgpack:"entities"`
	EntityFree   []uint32              `msgpack:"entityFree"`
	Animators    []arenaSlot[Animator] `msgpack:"animators"`
	AnimatorFree []uint32              `msgpack:"animatorFree"`
	Field        Field                 `msgpack:"field"`
	Inputs       []PlayerInput         `msgpack:"inputs"`
	Pending      []Effect              `msgpack:"pending"`
	Stats        Stats                 `msgpack:"stats"`
	TurnGauge    int                   `msgpack:"turnGauge"`
	RNG          RNG                   `msgpack:"rng"`
	EndRequested bool                  `msgpack:"endRequested"`
	Exit         bool                  `msgpack:"exit"`
}

// canonical maps an empty slice to nil. Clones and in-place truncation
// disagree on nil-ness, and msgpack encodes the two differently.
func canonical[T any](values []T) []T {
	if len(values) == 0 {
		return nil
	}
	return values
}

// EncodeDigest writes the canonical encoding of the state to w.
func (s *State) EncodeDigest(w io.Writer) error {
	view := digestView{
		Time:         s.Time,
		Entities:     canonical(s.Entities.digestSlots()),
		EntityFree:   canonical(s.Entities.free),
		Animators:    canonical(s.Animators.digestSlots()),
		AnimatorFree: canonical(s.Animators.free),
		Field:        s.Field,
		Inputs:       canonical(s.Inputs),
		Pending:      canonical(s.Pending.pending),
		Stats:        s.Stats,
		TurnGauge:    s.TurnGauge,
		RNG:          s.RNG,
		EndRequested: s.EndRequested,
		Exit:         s.Exit,
	}
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&view); err != nil {
		return fmt.Errorf("encode state digest: %w", err)
	}
	return nil
}

type controlView struct {
	Name  string  `msgpack:"name"`
	State Control `msgpack:"state"`
}

// EncodeControlDigest writes the canonical encoding of a control state to w.
// A nil control encodes as an empty name.
func EncodeControlDigest(w io.Writer, control Control) error {
	view := controlView{State: control}
	if control != nil {
		view.Name = control.Name()
	}
	if err := msgpack.NewEncoder(w).Encode(&view); err != nil {
		return fmt.Errorf("encode control digest: %w", err)
	}
	return nil
}

// Digest hashes the state.
func (s *State) Digest() (Digest, error) {
	hasher := blake3.New(32, nil)
	if err := s.EncodeDigest(hasher); err != nil {
		return Digest{}, err
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}
