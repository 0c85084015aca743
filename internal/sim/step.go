package sim

// Step advances the simulation by one frame. Inputs must already be loaded
// into state.Inputs. The phases always run in the same order: control
// transition, pre-update, update, post-update.
func Step(state *State, control Control, scripts Scripts) (Control, []Effect) {
	if scripts == nil {
		scripts = NoScripts{}
	}
	if control == nil {
		control = NewIntroControl(DefaultIntroFrames, DefaultOutroFrames)
	}

	if next := control.Next(state); next != nil {
		control = next
	}
	preUpdate(state, scripts)
	control, applied := control.Update(state, scripts)
	postUpdate(state)
	return control, applied
}

// preUpdate spawns entities queued last frame and runs pending init hooks.
func preUpdate(state *State, scripts Scripts) {
	for _, id := range state.Entities.Handles() {
		if entity := state.Entity(id); entity != nil && !entity.Spawned {
			entity.Spawned = true
		}
	}
	for _, id := range state.Entities.Handles() {
		entity := state.Entity(id)
		if entity == nil || !entity.Spawned || entity.Initialized {
			continue
		}
		entity.Initialized = true
		if entity.Script.Bound && entity.Script.Init != "" {
			call := entity.Script.Call(entity.Script.Init, id)
			if err := scripts.Call(state, call); err != nil {
				state.Stats.ScriptFaults++
			}
		}
	}
}

// runFrame is the shared update body of every control phase.
func runFrame(state *State, scripts Scripts, combat bool) []Effect {
	if combat {
		for _, id := range state.Entities.Handles() {
			updateEntity(state, scripts, id)
		}
	}
	for _, id := range state.Entities.Handles() {
		entity := state.Entity(id)
		if entity == nil || !entity.Spawned {
			continue
		}
		animator := state.Animators.Get(entity.Animator)
		if animator == nil {
			continue
		}
		for _, effect := range animator.Update() {
			state.Pending.Push(effect)
		}
	}
	if combat {
		if err := scripts.Resume(state); err != nil {
			state.Stats.ScriptFaults += faultCount(err)
		}
	}
	return state.Pending.Drain(func(effect Effect) {
		applyEffect(state, scripts, effect)
	})
}

func updateEntity(state *State, scripts Scripts, id EntityID) {
	entity := state.Entity(id)
	if entity == nil || !entity.Alive() {
		return
	}
	switch entity.Kind {
	case KindPlayer:
		updatePlayer(state, id, entity)
	case KindCharacter:
		if entity.Script.Bound && entity.Script.Update != "" {
			if err := scripts.Call(state, entity.Script.Call(entity.Script.Update, id)); err != nil {
				state.Stats.ScriptFaults++
			}
		}
	case KindSpell:
		updateSpell(state, id, entity)
	}
}

var directions = [...]struct {
	input  Input
	dx, dy int
}{
	{InputUp, 0, -1},
	{InputDown, 0, 1},
	{InputLeft, -1, 0},
	{InputRight, 1, 0},
}

func updatePlayer(state *State, id EntityID, entity *Entity) {
	input := state.Input(entity.PlayerIndex)
	if entity.Busy {
		return
	}
	for _, dir := range directions {
		if input.WasJustPressed(dir.input) {
			state.MoveEntity(id, dir.dx, dir.dy)
			break
		}
	}
	if input.WasJustPressed(InputShoot) {
		StartShoot(state, id)
	}
	if input.WasJustPressed(InputSpecial) && entity.Script.Bound && entity.Script.Special != "" {
		state.Pending.Push(Effect{
			Kind:   EffectScript,
			Entity: id,
			Script: entity.Script.Call(entity.Script.Special, id),
		})
	}
}

// StartShoot plays the shoot animation on a fighter. The spell spawns on
// frame 1 and the fighter stays busy until the animation ends or is
// interrupted.
func StartShoot(state *State, id EntityID) bool {
	entity := state.Entity(id)
	if entity == nil || !entity.Alive() || entity.Busy {
		return false
	}
	animator := state.Animators.Get(entity.Animator)
	if animator == nil {
		return false
	}
	for _, effect := range animator.SetState(shootState, shootFrames, shootFrameLength) {
		state.Pending.Push(effect)
	}
	animator.Callbacks = []FrameCallback{{Frame: 1, Effect: Effect{Kind: EffectSpawnSpell, Source: id}}}
	animator.OnComplete = []Effect{{Kind: EffectComplete, Entity: id}}
	animator.OnInterrupt = []Effect{{Kind: EffectInterrupt, Entity: id}}
	entity.Busy = true
	return true
}

func updateSpell(state *State, id EntityID, spell *Entity) {
	spell.Age++
	if spell.MoveEvery > 0 && spell.Age%spell.MoveEvery == 0 {
		spell.X += spell.Direction
	}
	if !state.Field.InBounds(spell.X, spell.Y) {
		spell.Erased = true
		return
	}
	target, ok := state.EntityAt(spell.X, spell.Y)
	if !ok || target == spell.Owner {
		return
	}
	if victim := state.Entity(target); victim == nil || victim.Team == spell.Team {
		return
	}
	state.Pending.Push(Effect{Kind: EffectHit, Entity: target, Source: id, Damage: spell.Damage})
	state.Pending.Push(Effect{Kind: EffectErase, Entity: id})
}

// applyEffect resolves one queued effect. Effects whose entity no longer
// exists are skipped and counted.
func applyEffect(state *State, scripts Scripts, effect Effect) {
	state.Stats.EffectsDrained++
	if !effectTargetLive(state, effect) {
		state.Stats.EffectsSkipped++
		return
	}

	switch effect.Kind {
	case EffectComplete, EffectInterrupt:
		state.Entity(effect.Entity).Busy = false
	case EffectHit:
		victim := state.Entity(effect.Entity)
		victim.Health -= effect.Damage
		state.Stats.Hits++
		if animator := state.Animators.Get(victim.Animator); animator != nil {
			for _, interrupted := range animator.Interrupt() {
				state.Pending.Push(interrupted)
			}
		}
		if victim.Fighter() && victim.Health <= 0 {
			victim.Health = 0
			victim.Erased = true
		}
	case EffectSpawnSpell:
		state.spawnSpell(effect.Source)
	case EffectScript:
		if err := scripts.Call(state, effect.Script); err != nil {
			state.Stats.ScriptFaults++
		}
	case EffectErase:
		state.MarkErased(effect.Entity)
	}

	if effect.Then != nil {
		state.Pending.Push(cloneEffect(*effect.Then))
	}
}

func effectTargetLive(state *State, effect Effect) bool {
	switch effect.Kind {
	case EffectSpawnSpell:
		return state.Entities.Contains(effect.Source)
	case EffectScript:
		return !effect.Entity.Valid() || state.Entities.Contains(effect.Entity)
	default:
		return state.Entities.Contains(effect.Entity)
	}
}

// postUpdate deletes erased entities and advances time.
func postUpdate(state *State) {
	for _, id := range state.Entities.Handles() {
		entity := state.Entity(id)
		if entity == nil {
			continue
		}
		if entity.Erased || (entity.Fighter() && entity.Spawned && entity.Health <= 0) {
			state.Animators.Remove(entity.Animator)
			state.Entities.Remove(id)
			state.Stats.Deletions++
		}
	}
	state.Time++
}

// faultCount counts the failures carried by an error built with errors.Join.
func faultCount(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
