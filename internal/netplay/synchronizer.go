package netplay

import (
	"real-pet/battle/internal/net/proto"
	"real-pet/battle/internal/sim"
)

const (
	// DefaultBufferTolerance is how far a peer's view of our buffer may run
	// ahead of our view of theirs before we slow down.
	DefaultBufferTolerance = 3
	// DefaultInputBufferLimit bounds speculation ahead of the synced frame.
	DefaultInputBufferLimit = 20
	// DefaultSlowCooldown is the number of ticks frame production pauses for
	// once flow control engages.
	DefaultSlowCooldown = DefaultBufferTolerance + 1
)

// Config tunes the synchronizer.
type Config struct {
	BufferTolerance  int
	InputBufferLimit int
	SlowCooldown     int
}

// DefaultConfig returns the standard netplay tuning.
func DefaultConfig() Config {
	return Config{
		BufferTolerance:  DefaultBufferTolerance,
		InputBufferLimit: DefaultInputBufferLimit,
		SlowCooldown:     DefaultSlowCooldown,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.BufferTolerance < 0 {
		c.BufferTolerance = defaults.BufferTolerance
	}
	if c.InputBufferLimit <= 0 {
		c.InputBufferLimit = defaults.InputBufferLimit
	}
	if c.SlowCooldown < 0 {
		c.SlowCooldown = 0
	}
	return c
}

// PlayerController holds the not yet consumed inputs of one participant. The
// n-th buffered entry belongs to frame syncedTime+n.
type PlayerController struct {
	Connected bool
	Buffer    []sim.InputSet
}

// Receipt describes how a remote Input packet was absorbed.
type Receipt struct {
	// Target is the frame the input belongs to when it contradicts what was
	// speculated, or the current frame when no correction is needed.
	Target sim.FrameTime
	// Diverged reports whether the input differs from the speculation.
	Diverged bool
	// Throttled reports whether this packet engaged flow control.
	Throttled bool
	// RemoteDepth and LocalDepth are the depths compared for flow control.
	RemoteDepth int
	LocalDepth  int
}

// Synchronizer buffers per-player inputs, tracks the newest frame for which
// every connected player's input is known, and applies soft backpressure.
type Synchronizer struct {
	controllers []PlayerController
	local       int
	synced      sim.FrameTime
	cooldown    int
	cfg         Config
}

// New creates one connected controller per player.
func New(players, local int, cfg Config) *Synchronizer {
	if players < 1 {
		players = 1
	}
	controllers := make([]PlayerController, players)
	for i := range controllers {
		controllers[i].Connected = true
	}
	return &Synchronizer{
		controllers: controllers,
		local:       local,
		cfg:         cfg.normalized(),
	}
}

// Config reports the effective tuning.
func (s *Synchronizer) Config() Config {
	return s.cfg
}

// LocalIndex reports the local player's index.
func (s *Synchronizer) LocalIndex() int {
	return s.local
}

// Players reports the number of participants.
func (s *Synchronizer) Players() int {
	return len(s.controllers)
}

// Solo reports whether the battle has a single participant.
func (s *Synchronizer) Solo() bool {
	return len(s.controllers) == 1
}

// SyncedTime is the oldest frame not yet confirmed for every connected player.
func (s *Synchronizer) SyncedTime() sim.FrameTime {
	return s.synced
}

// ResetSyncedTime moves the synced frame, used when stepping backwards in
// solo debugging.
func (s *Synchronizer) ResetSyncedTime(t sim.FrameTime) {
	s.synced = t
}

// Controllers returns a copy of every controller.
func (s *Synchronizer) Controllers() []PlayerController {
	out := make([]PlayerController, len(s.controllers))
	for i, controller := range s.controllers {
		out[i] = PlayerController{
			Connected: controller.Connected,
			Buffer:    append([]sim.InputSet(nil), controller.Buffer...),
		}
	}
	return out
}

// BufferDepths reports the buffered input count of every controller.
func (s *Synchronizer) BufferDepths() []int {
	depths := make([]int, len(s.controllers))
	for i, controller := range s.controllers {
		depths[i] = len(controller.Buffer)
	}
	return depths
}

// InputSynced reports whether every connected controller has at least one
// buffered input.
func (s *Synchronizer) InputSynced() bool {
	for _, controller := range s.controllers {
		if controller.Connected && len(controller.Buffer) == 0 {
			return false
		}
	}
	return true
}

// CanBuffer reports whether another speculative frame fits ahead of the
// synced frame.
func (s *Synchronizer) CanBuffer(now sim.FrameTime) bool {
	return now < s.synced+sim.FrameTime(s.cfg.InputBufferLimit)
}

// Ready reports whether the scene may produce the frame at now.
func (s *Synchronizer) Ready(now sim.FrameTime) bool {
	return !s.Throttled() && (s.CanBuffer(now) || s.InputSynced())
}

// SubmitLocal buffers the local input for the next frame and returns the
// Input packet to broadcast.
func (s *Synchronizer) SubmitLocal(set sim.InputSet) (proto.Packet, bool) {
	if s.local < 0 || s.local >= len(s.controllers) {
		return proto.Packet{}, false
	}
	controller := &s.controllers[s.local]
	controller.Buffer = append(controller.Buffer, set)
	return proto.Input(s.local, set.Codes(), s.BufferDepths()), true
}

// ReceiveRemote absorbs a remote Input packet. The flow-control check runs
// first, then the input is compared against what state currently speculates
// for that player and appended to the player's buffer. Packets for unknown
// players or for the local player are rejected.
func (s *Synchronizer) ReceiveRemote(packet proto.Packet, state *sim.State) (Receipt, bool) {
	index := packet.Index
	if index < 0 || index >= len(s.controllers) || index == s.local {
		return Receipt{}, false
	}
	controller := &s.controllers[index]
	receipt := Receipt{Target: state.Time}

	if s.local >= 0 && s.local < len(packet.BufferSizes) {
		receipt.RemoteDepth = packet.BufferSizes[s.local]
		receipt.LocalDepth = len(controller.Buffer)
		if s.cooldown == 0 && receipt.RemoteDepth > receipt.LocalDepth+s.cfg.BufferTolerance {
			s.cooldown = s.cfg.SlowCooldown
			receipt.Throttled = s.cooldown > 0
		}
	}

	set := sim.InputSetFromCodes(packet.Pressed)
	if index < len(state.Inputs) && !state.Inputs[index].Matches(set) {
		receipt.Target = s.synced + sim.FrameTime(len(controller.Buffer))
		receipt.Diverged = true
	}
	controller.Buffer = append(controller.Buffer, set)
	return receipt, true
}

// ResolvedInput returns the buffered input for frame syncedTime+offset.
func (s *Synchronizer) ResolvedInput(player int, offset sim.FrameTime) (sim.InputSet, bool) {
	if player < 0 || player >= len(s.controllers) || offset < 0 {
		return 0, false
	}
	buffer := s.controllers[player].Buffer
	if offset >= sim.FrameTime(len(buffer)) {
		return 0, false
	}
	return buffer[offset], true
}

// LoadInput prepares state.Inputs for the frame at state.Time. Every player
// input is flushed; buffered inputs replace the speculation where known. When
// every connected player has input buffered the synced frame advances and
// each buffer drops its head.
func (s *Synchronizer) LoadInput(state *sim.State) {
	offset := state.Time - s.synced
	for i := range state.Inputs {
		state.Inputs[i].Flush()
		if set, ok := s.ResolvedInput(i, offset); ok {
			state.Inputs[i].SetPressed(set)
		}
	}

	if s.InputSynced() {
		s.synced++
		for i := range s.controllers {
			if len(s.controllers[i].Buffer) > 0 {
				s.controllers[i].Buffer = s.controllers[i].Buffer[1:]
			}
		}
	}
}

// Disconnect marks a player as gone. Its buffer is kept but no longer gates
// synchronization.
func (s *Synchronizer) Disconnect(index int) bool {
	if index < 0 || index >= len(s.controllers) || !s.controllers[index].Connected {
		return false
	}
	s.controllers[index].Connected = false
	return true
}

// Prefill queues inputs for a player ahead of the first frame, as carried
// over from the lobby.
func (s *Synchronizer) Prefill(index int, sets []sim.InputSet) bool {
	if index < 0 || index >= len(s.controllers) {
		return false
	}
	s.controllers[index].Buffer = append(s.controllers[index].Buffer, sets...)
	return true
}

// DisconnectAll marks every player as gone.
func (s *Synchronizer) DisconnectAll() {
	for i := range s.controllers {
		s.controllers[i].Connected = false
	}
}

// Throttled reports whether flow control is holding frame production.
func (s *Synchronizer) Throttled() bool {
	return s.cooldown > 0
}

// Cooldown reports the remaining throttle ticks.
func (s *Synchronizer) Cooldown() int {
	return s.cooldown
}

// TickCooldown counts one outer tick against an active throttle.
func (s *Synchronizer) TickCooldown() {
	if s.cooldown > 0 {
		s.cooldown--
	}
}
