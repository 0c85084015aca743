package sim

// EntityKind classifies entities for the built-in update logic.
type EntityKind uint8

const (
	KindPlayer EntityKind = iota + 1
	KindCharacter
	KindSpell
	KindArtifact
)

func (k EntityKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindCharacter:
		return "character"
	case KindSpell:
		return "spell"
	case KindArtifact:
		return "artifact"
	default:
		return "unknown"
	}
}

const (
	shootState       = "SHOOT"
	shootFrames      = 3
	shootFrameLength = 4

	busterDamage    = 10
	spellMoveEvery  = 2
	defaultMaxSpawn = 64
)

// Entity is one participant of the battle. Fighters are players and
// characters; spells and artifacts never count toward team survival.
type Entity struct {
	ID          EntityID   `msgpack:"id"`
	Kind        EntityKind `msgpack:"kind"`
	Team        Team       `msgpack:"team"`
	PlayerIndex int        `msgpack:"playerIndex"`
	X           int        `msgpack:"x"`
	Y           int        `msgpack:"y"`
	Health      int        `msgpack:"health"`
	MaxHealth   int        `msgpack:"maxHealth"`
	Animator    AnimatorID `msgpack:"animator"`
	Script      ScriptHook `msgpack:"script"`
	Busy        bool       `msgpack:"busy"`
	Spawned     bool       `msgpack:"spawned"`
	Initialized bool       `msgpack:"initialized"`
	Erased      bool       `msgpack:"erased"`

	// spell movement
	Owner     EntityID `msgpack:"owner"`
	Direction int      `msgpack:"direction"`
	MoveEvery int      `msgpack:"moveEvery"`
	Damage    int      `msgpack:"damage"`
	Age       int      `msgpack:"age"`
}

// Fighter reports whether the entity counts toward its team's survival.
func (e *Entity) Fighter() bool {
	return e.Kind == KindPlayer || e.Kind == KindCharacter
}

// Alive reports whether the entity is spawned and not being removed.
func (e *Entity) Alive() bool {
	return e.Spawned && !e.Erased && (!e.Fighter() || e.Health > 0)
}

// EntityAt returns the first live fighter on (x, y) in index order.
func (s *State) EntityAt(x, y int) (EntityID, bool) {
	var found EntityID
	ok := false
	s.Entities.Each(func(id Handle, entity *Entity) {
		if ok || !entity.Fighter() || !entity.Alive() {
			return
		}
		if entity.X == x && entity.Y == y {
			found = id
			ok = true
		}
	})
	return found, ok
}

// Entity resolves an id, returning nil when the entity no longer exists.
func (s *State) Entity(id EntityID) *Entity {
	return s.Entities.Get(id)
}

// SpawnPlayer creates the fighter for a player index at its layout position.
// Players are spawned immediately so they exist from frame zero.
func (s *State) SpawnPlayer(index int, health int, hook ScriptHook) EntityID {
	x, y, team := s.Field.SpawnPosition(index)
	animator := s.Animators.Insert(IdleAnimator())
	id := s.Entities.Insert(Entity{
		Kind:        KindPlayer,
		Team:        team,
		PlayerIndex: index,
		X:           x,
		Y:           y,
		Health:      health,
		MaxHealth:   health,
		Animator:    animator,
		Script:      hook,
		Spawned:     true,
	})
	s.Entities.Get(id).ID = id
	return id
}

// SpawnCharacter queues a script-driven fighter. It appears during the next
// pre-update phase.
func (s *State) SpawnCharacter(team Team, x, y, health int, hook ScriptHook) (EntityID, bool) {
	if s.Entities.Len() >= defaultMaxSpawn || !s.Field.InBounds(x, y) {
		return EntityID{}, false
	}
	animator := s.Animators.Insert(IdleAnimator())
	id := s.Entities.Insert(Entity{
		Kind:        KindCharacter,
		Team:        team,
		PlayerIndex: -1,
		X:           x,
		Y:           y,
		Health:      health,
		MaxHealth:   health,
		Animator:    animator,
		Script:      hook,
	})
	s.Entities.Get(id).ID = id
	return id, true
}

func (s *State) spawnSpell(owner EntityID) {
	source := s.Entity(owner)
	if source == nil || !source.Alive() {
		return
	}
	if s.Entities.Len() >= defaultMaxSpawn {
		return
	}
	direction := 1
	if source.Team == TeamBlue {
		direction = -1
	}
	spell := Entity{
		Kind:        KindSpell,
		Team:        source.Team,
		PlayerIndex: -1,
		X:           source.X,
		Y:           source.Y,
		Owner:       owner,
		Direction:   direction,
		MoveEvery:   spellMoveEvery,
		Damage:      busterDamage,
		Animator:    s.Animators.Insert(IdleAnimator()),
	}
	id := s.Entities.Insert(spell)
	s.Entities.Get(id).ID = id
}

// MoveEntity moves a fighter by (dx, dy) when the destination is a walkable
// tile of its own team and unoccupied.
func (s *State) MoveEntity(id EntityID, dx, dy int) bool {
	entity := s.Entity(id)
	if entity == nil || !entity.Alive() || entity.Busy {
		return false
	}
	x, y := entity.X+dx, entity.Y+dy
	tile, ok := s.Field.Tile(x, y)
	if !ok || !tile.Walkable() || tile.Team != entity.Team {
		return false
	}
	if _, occupied := s.EntityAt(x, y); occupied {
		return false
	}
	entity.X, entity.Y = x, y
	return true
}

// MarkErased flags an entity for removal during post-update.
func (s *State) MarkErased(id EntityID) {
	if entity := s.Entity(id); entity != nil {
		entity.Erased = true
	}
}
