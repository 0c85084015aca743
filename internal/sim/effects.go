package sim

// EffectKind tags a deferred effect.
type EffectKind uint8

const (
	// EffectFrame fires when an animator reaches a frame with a callback.
	EffectFrame EffectKind = iota + 1
	// EffectComplete fires when an animator finishes its last frame.
	EffectComplete
	// EffectInterrupt fires when a running animation is replaced.
	EffectInterrupt
	// EffectHit resolves damage against Entity from Source.
	EffectHit
	// EffectSpawnSpell creates a buster spell owned by Source.
	EffectSpawnSpell
	// EffectScript calls into a loaded script package.
	EffectScript
	// EffectErase marks Entity for removal in post-update.
	EffectErase
)

func (k EffectKind) String() string {
	switch k {
	case EffectFrame:
		return "frame"
	case EffectComplete:
		return "complete"
	case EffectInterrupt:
		return "interrupt"
	case EffectHit:
		return "hit"
	case EffectSpawnSpell:
		return "spawn_spell"
	case EffectScript:
		return "script"
	case EffectErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Effect is a deferred action produced during a step. It only carries plain
// values and a script handle so it survives a wholesale state clone.
type Effect struct {
	Kind   EffectKind `msgpack:"kind"`
	Entity EntityID   `msgpack:"entity"`
	Source EntityID   `msgpack:"source"`
	Frame  int        `msgpack:"frame,omitempty"`
	Damage int        `msgpack:"damage,omitempty"`
	Script ScriptCall `msgpack:"script,omitempty"`
	// Then is queued after this effect is applied. Animator callbacks use it
	// to chain a script call behind the built-in handling.
	Then *Effect `msgpack:"then,omitempty"`
}

func cloneEffect(effect Effect) Effect {
	if effect.Then != nil {
		then := cloneEffect(*effect.Then)
		effect.Then = &then
	}
	return effect
}

func cloneEffects(effects []Effect) []Effect {
	if len(effects) == 0 {
		return nil
	}
	cloned := make([]Effect, len(effects))
	for i, effect := range effects {
		cloned[i] = cloneEffect(effect)
	}
	return cloned
}

// EffectQueue is the pending effect queue for one step. Effects are applied
// strictly in the order they were pushed.
type EffectQueue struct {
	pending []Effect
}

// Push appends an effect. Pushing while Drain is running appends to the pass
// in progress.
func (q *EffectQueue) Push(effect Effect) {
	q.pending = append(q.pending, effect)
}

// Len reports the number of effects waiting to be drained.
func (q *EffectQueue) Len() int {
	return len(q.pending)
}

// Drain applies queued effects in FIFO order until the queue is empty,
// including effects queued by apply itself, and returns them in the order they
// were applied.
func (q *EffectQueue) Drain(apply func(Effect)) []Effect {
	var drained []Effect
	for i := 0; i < len(q.pending); i++ {
		effect := q.pending[i]
		drained = append(drained, effect)
		if apply != nil {
			apply(effect)
		}
	}
	q.pending = q.pending[:0]
	return drained
}

// Clone deep copies the queue.
func (q EffectQueue) Clone() EffectQueue {
	return EffectQueue{pending: cloneEffects(q.pending)}
}
