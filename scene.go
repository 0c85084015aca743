package battle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hako/durafmt"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"

	"real-pet/battle/internal/journal"
	"real-pet/battle/internal/net/link"
	"real-pet/battle/internal/netplay"
	"real-pet/battle/internal/script"
	"real-pet/battle/internal/sim"
	"real-pet/battle/internal/telemetry"
	"real-pet/battle/logging"
	loggingsimulation "real-pet/battle/logging/simulation"
)

// PlayerSetup declares one participant.
type PlayerSetup struct {
	Index  int
	Local  bool
	Health int
	// InputBuffer holds inputs received before the battle started.
	InputBuffer []sim.InputSet
	// Package drives the player's Init and Special hooks when set.
	Package *script.Package
}

// PeerReceiver is an inbound link and the player index it speaks for. Index
// is negative when the link does not belong to a single player.
type PeerReceiver struct {
	Index    int
	Receiver link.Receiver
}

// Props describes a battle to construct.
type Props struct {
	Players []PlayerSetup
	// Battle is loaded first; its Init function runs once at construction.
	Battle    *script.Package
	Senders   []link.Sender
	Receivers []PeerReceiver
}

// LocalControls is what the local device reported for one tick.
type LocalControls struct {
	Pressed sim.InputSet
	// StepBack and StepForward drive frame-by-frame debugging in solo
	// battles.
	StepBack    bool
	StepForward bool
}

// Backup is one retained frame: the simulation before its input was loaded
// and the control phase it ran under.
type Backup struct {
	Simulation *sim.State
	Control    sim.Control
}

// Scene owns a running battle. It is driven by a single goroutine calling
// Update once per tick.
type Scene struct {
	cfg       Config
	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics

	simulation *sim.State
	control    sim.Control
	pool       *script.Pool
	sync       *netplay.Synchronizer
	backups    *journal.Journal[Backup]

	senders   []link.Sender
	receivers []PeerReceiver

	alreadySnapped bool
	frameByFrame   bool
	exiting        bool
	lastPressed    sim.InputSet

	protocolLimiter *rate.Limiter
	suppressed      int
	startedAt       time.Time
}

// NewScene builds the simulation, loads script packages, spawns the players
// and runs the battle package's Init.
func NewScene(cfg Config, props Props, publisher logging.Publisher) (*Scene, error) {
	cfg = cfg.normalized()
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	players := append([]PlayerSetup(nil), props.Players...)
	if len(players) == 0 {
		return nil, errors.New("battle needs at least one player")
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Index < players[j].Index })

	local := -1
	for i, setup := range players {
		if setup.Index != i {
			return nil, fmt.Errorf("player indices must be 0..%d, got %d", len(players)-1, setup.Index)
		}
		if setup.Local {
			if local >= 0 {
				return nil, fmt.Errorf("players %d and %d are both local", local, setup.Index)
			}
			local = setup.Index
		}
	}
	if local < 0 {
		return nil, errors.New("battle has no local player")
	}

	s := &Scene{
		cfg:             cfg,
		publisher:       publisher,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		simulation:      sim.NewState(len(players), cfg.Seed),
		control:         sim.NewIntroControl(cfg.IntroFrames, cfg.OutroFrames),
		pool:            script.NewPool(cfg.InputBufferLimit, publisher),
		sync:            netplay.New(len(players), local, cfg.netplay()),
		backups:         journal.New[Backup](cfg.InputBufferLimit),
		senders:         append([]link.Sender(nil), props.Senders...),
		receivers:       append([]PeerReceiver(nil), props.Receivers...),
		protocolLimiter: rate.NewLimiter(rate.Every(time.Second), protocolErrorBurst),
		startedAt:       time.Now(),
	}
	s.backups.AttachTelemetry(backupTelemetry{metrics: cfg.Metrics})

	if props.Battle != nil {
		index, err := s.pool.Load(*props.Battle)
		if err != nil {
			return nil, fmt.Errorf("load battle package: %w", err)
		}
		if s.pool.Has(index, "Init") {
			if err := s.pool.Call(s.simulation, sim.ScriptCall{VM: index, Fn: "Init"}); err != nil {
				return nil, fmt.Errorf("run battle init: %w", err)
			}
		}
	}

	for _, setup := range players {
		hook := sim.ScriptHook{}
		if setup.Package != nil {
			index, err := s.pool.Load(*setup.Package)
			if err != nil {
				return nil, fmt.Errorf("load package for player %d: %w", setup.Index, err)
			}
			hook = sim.ScriptHook{VM: index, Bound: true}
			if s.pool.Has(index, "Init") {
				hook.Init = "Init"
			}
			if s.pool.Has(index, "Special") {
				hook.Special = "Special"
			}
		}
		health := setup.Health
		if health <= 0 {
			health = DefaultPlayerHealth
		}
		s.simulation.SpawnPlayer(setup.Index, health, hook)
		s.sync.Prefill(setup.Index, setup.InputBuffer)
	}

	return s, nil
}

// Update runs one outer tick: drain packets, then advance at most one frame
// unless frame-by-frame debugging is active.
func (s *Scene) Update(ctx context.Context, controls LocalControls) {
	s.handlePackets(ctx)

	if s.frameByFrame {
		if controls.StepBack {
			s.rewind(ctx, 1)
		}
		if controls.StepForward {
			s.handleLocalInput(ctx, controls.Pressed)
			s.simulate(ctx)
		}
		s.frameByFrame = !s.justPressed(controls.Pressed, sim.InputPause)
	} else {
		if s.sync.Ready(s.simulation.Time) {
			s.handleLocalInput(ctx, controls.Pressed)
			s.simulate(ctx)
		}
		s.sync.TickCooldown()
		s.frameByFrame = s.sync.Solo() && (controls.StepBack || controls.StepForward)
	}
	s.lastPressed = controls.Pressed
	s.metrics.Store(metricKeySyncedTime, uint64(s.sync.SyncedTime()))

	if !s.exiting && s.detectExitRequest() {
		s.exiting = true
		s.reportExit(ctx)
	}
}

// Receive applies pending packets without advancing a frame. Peers use it to
// settle once frame production has stopped.
func (s *Scene) Receive(ctx context.Context) {
	s.handlePackets(ctx)
}

func (s *Scene) justPressed(pressed sim.InputSet, input sim.Input) bool {
	return pressed.Has(input) && !s.lastPressed.Has(input)
}

// handleLocalInput queues the local input and broadcasts it with the current
// buffer depths.
func (s *Scene) handleLocalInput(ctx context.Context, pressed sim.InputSet) {
	packet, ok := s.sync.SubmitLocal(pressed)
	if !ok {
		return
	}
	for i, sender := range s.senders {
		if err := sender.Send(packet); err != nil && !errors.Is(err, link.ErrClosed) {
			s.logger.Printf("failed to send input for frame %d to sender %d: %v", s.simulation.Time, i, err)
		}
	}
}

// detectExitRequest looks at the oldest backup so a battle never exits while
// a rollback could still change its outcome.
func (s *Scene) detectExitRequest() bool {
	if front, ok := s.backups.Front(); ok {
		return front.Simulation.Exit
	}
	return s.simulation.Exit
}

func (s *Scene) reportExit(ctx context.Context) {
	digest, err := s.Digest()
	if err != nil {
		s.logger.Printf("failed to digest final state: %v", err)
	}
	stats := s.simulation.Stats
	loggingsimulation.BattleExit(ctx, s.publisher, int64(s.simulation.Time), loggingsimulation.BattleExitPayload{
		Frames:         int64(s.simulation.Time),
		Duration:       durafmt.Parse(time.Since(s.startedAt)).LimitFirstN(2).String(),
		Digest:         digest.String(),
		Hits:           stats.Hits,
		ScriptFaults:   stats.ScriptFaults,
		EffectsSkipped: stats.EffectsSkipped,
	})
}

// Exited reports whether the battle has finished.
func (s *Scene) Exited() bool {
	return s.exiting
}

// FrameByFrame reports whether solo debugging is active.
func (s *Scene) FrameByFrame() bool {
	return s.frameByFrame
}

// Time is the next frame to be simulated.
func (s *Scene) Time() sim.FrameTime {
	return s.simulation.Time
}

// SyncedTime is the oldest frame still waiting on remote input.
func (s *Scene) SyncedTime() sim.FrameTime {
	return s.sync.SyncedTime()
}

// Phase names the current control phase.
func (s *Scene) Phase() string {
	return s.control.Name()
}

// Stats returns the simulation counters.
func (s *Scene) Stats() sim.Stats {
	return s.simulation.Stats
}

// LocalIndex is the local player's index.
func (s *Scene) LocalIndex() int {
	return s.sync.LocalIndex()
}

// StartedAt is when the scene was constructed.
func (s *Scene) StartedAt() time.Time {
	return s.startedAt
}

// Digest hashes the simulation, the control state and every script store.
func (s *Scene) Digest() (sim.Digest, error) {
	hasher := blake3.New(32, nil)
	if err := s.simulation.EncodeDigest(hasher); err != nil {
		return sim.Digest{}, err
	}
	if err := sim.EncodeControlDigest(hasher, s.control); err != nil {
		return sim.Digest{}, err
	}
	if err := s.pool.EncodeDigest(hasher); err != nil {
		return sim.Digest{}, fmt.Errorf("digest script stores: %w", err)
	}
	var digest sim.Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}
