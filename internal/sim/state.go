package sim

// TurnGaugeMax is the value at which the turn gauge stops filling.
const TurnGaugeMax = 512

// Stats counts notable events over the lifetime of a state. Stats travel with
// the state so they roll back with it.
type Stats struct {
	Hits           int `msgpack:"hits"`
	Deletions      int `msgpack:"deletions"`
	EffectsDrained int `msgpack:"effectsDrained"`
	EffectsSkipped int `msgpack:"effectsSkipped"`
	ScriptFaults   int `msgpack:"scriptFaults"`
}

// RNG is a splitmix64 generator. It is a plain value so cloning the state
// clones the sequence.
type RNG struct {
	Seed uint64 `msgpack:"seed"`
}

// NewRNG seeds a generator.
func NewRNG(seed uint64) RNG {
	return RNG{Seed: seed}
}

// Next returns the next 64 random bits.
func (r *RNG) Next() uint64 {
	r.Seed += 0x9e3779b97f4a7c15
	z := r.Seed
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn returns a value in [0, n). Non-positive n yields 0 without advancing.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Next() % uint64(n))
}

// State is the complete simulation. Everything a frame reads or writes lives
// here so a wholesale Clone is a complete snapshot.
type State struct {
	Time         FrameTime
	Entities     Arena[Entity]
	Animators    Arena[Animator]
	Field        Field
	Inputs       []PlayerInput
	Pending      EffectQueue
	Stats        Stats
	TurnGauge    int
	RNG          RNG
	EndRequested bool
	Exit         bool
}

// NewState returns an empty battle for the given number of players.
func NewState(players int, seed uint64) *State {
	if players < 0 {
		players = 0
	}
	return &State{
		Field:  NewField(),
		Inputs: make([]PlayerInput, players),
		RNG:    NewRNG(seed),
	}
}

// Clone deep copies the state. The clone shares nothing with the receiver.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return &State{
		Time:         s.Time,
		Entities:     s.Entities.Clone(nil),
		Animators:    s.Animators.Clone(cloneAnimator),
		Field:        s.Field.Clone(),
		Inputs:       append([]PlayerInput(nil), s.Inputs...),
		Pending:      s.Pending.Clone(),
		Stats:        s.Stats,
		TurnGauge:    s.TurnGauge,
		RNG:          s.RNG,
		EndRequested: s.EndRequested,
		Exit:         s.Exit,
	}
}

// Input returns the loaded input of a player, or the zero input for an
// unknown index.
func (s *State) Input(player int) PlayerInput {
	if player < 0 || player >= len(s.Inputs) {
		return PlayerInput{}
	}
	return s.Inputs[player]
}

// PlayerEntity finds the fighter controlled by a player index.
func (s *State) PlayerEntity(player int) (EntityID, bool) {
	var found EntityID
	ok := false
	s.Entities.Each(func(id Handle, entity *Entity) {
		if !ok && entity.Kind == KindPlayer && entity.PlayerIndex == player {
			found = id
			ok = true
		}
	})
	return found, ok
}

// LivingTeams counts the distinct teams that still have a live fighter.
func (s *State) LivingTeams() int {
	var seen [TeamOther + 1]bool
	count := 0
	s.Entities.Each(func(_ Handle, entity *Entity) {
		if !entity.Fighter() || !entity.Alive() || entity.Team > TeamOther {
			return
		}
		if !seen[entity.Team] {
			seen[entity.Team] = true
			count++
		}
	})
	return count
}
