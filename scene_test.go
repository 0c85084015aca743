package battle

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"real-pet/battle/internal/net/link"
	"real-pet/battle/internal/net/proto"
	"real-pet/battle/internal/script"
	"real-pet/battle/internal/sim"
	"real-pet/battle/logging"
	loggingnetplay "real-pet/battle/logging/netplay"
	loggingsimulation "real-pet/battle/logging/simulation"
)

const enemyBattleSource = `package main

import "battle"

func Init(self, arg int64) {
	battle.Character(4, 1, 40, "", "Think")
}

func Think(self, arg int64) {
	if battle.Frame()%5 != 0 {
		return
	}
	battle.Set("thoughts", battle.Get("thoughts")+1)
	battle.Move(self, 0, battle.Random(3)-1)
	if battle.Random(3) == 0 {
		battle.Shoot(self)
	}
}
`

const endingBattleSource = `package main

import "battle"

func Init(self, arg int64) {
	battle.End()
}
`

type recorder struct {
	mu     sync.Mutex
	events []logging.Event
}

func (r *recorder) Publish(_ context.Context, event logging.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count(kind logging.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Type == kind {
			n++
		}
	}
	return n
}

type counters struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newCounters() *counters {
	return &counters{values: make(map[string]uint64)}
}

func (c *counters) Add(key string, delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] += delta
}

func (c *counters) Store(key string, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *counters) get(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IntroFrames = 2
	cfg.OutroFrames = 5
	cfg.Seed = 11
	return cfg
}

// pattern is a repeatable input sequence per player and frame.
func pattern(player int, frame sim.FrameTime) sim.InputSet {
	switch (int(frame) + player*4) % 9 {
	case 0:
		return sim.NewInputSet(sim.InputShoot)
	case 3:
		return sim.NewInputSet(sim.InputUp)
	case 5:
		return sim.NewInputSet(sim.InputDown, sim.InputShoot)
	case 7:
		return sim.NewInputSet(sim.InputLeft)
	default:
		return 0
	}
}

func mustScene(t *testing.T, cfg Config, props Props, pub logging.Publisher) *Scene {
	t.Helper()
	scene, err := NewScene(cfg, props, pub)
	if err != nil {
		t.Fatalf("failed to build scene: %v", err)
	}
	return scene
}

func mustDigest(t *testing.T, scene *Scene) sim.Digest {
	t.Helper()
	digest, err := scene.Digest()
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	return digest
}

func soloProps() Props {
	return Props{Players: []PlayerSetup{{Index: 0, Local: true}}}
}

// duelProps wires a two player battle whose remote peer is driven by the
// test through the returned pipe end.
func duelProps(battle *script.Package) (Props, *link.PipeEnd) {
	local, remote := link.Pipe()
	return Props{
		Players:   []PlayerSetup{{Index: 0, Local: true}, {Index: 1}},
		Battle:    battle,
		Senders:   []link.Sender{local},
		Receivers: []PeerReceiver{{Index: 1, Receiver: local}},
	}, remote
}

func enemyBattle() *script.Package {
	return &script.Package{ID: "enemies", Path: "battles/enemies.go", Source: enemyBattleSource}
}

func remoteInput(frame sim.FrameTime) proto.Packet {
	return proto.Input(1, pattern(1, frame).Codes(), nil)
}

func TestNewSceneValidatesPlayers(t *testing.T) {
	cases := map[string][]PlayerSetup{
		"empty":     nil,
		"no local":  {{Index: 0}, {Index: 1}},
		"two local": {{Index: 0, Local: true}, {Index: 1, Local: true}},
		"gap":       {{Index: 0, Local: true}, {Index: 2}},
	}
	for name, players := range cases {
		if _, err := NewScene(testConfig(), Props{Players: players}, nil); err == nil {
			t.Fatalf("%s: expected construction to fail", name)
		}
	}

	scene := mustScene(t, testConfig(), Props{Players: []PlayerSetup{{Index: 1}, {Index: 0, Local: true}}}, nil)
	if scene.LocalIndex() != 0 {
		t.Fatalf("expected local index 0, got %d", scene.LocalIndex())
	}
}

func TestLateInputResimulatesToSameState(t *testing.T) {
	cases := []struct {
		batch  sim.FrameTime
		frames sim.FrameTime
	}{
		{batch: 6, frames: 90},
		{batch: 7, frames: 95},
		{batch: 4, frames: 61},
		{batch: 11, frames: 120},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("batch %d over %d frames", tc.batch, tc.frames), func(t *testing.T) {
			ctx := context.Background()
			straightProps, straightRemote := duelProps(enemyBattle())
			straight := mustScene(t, testConfig(), straightProps, nil)
			lateProps, lateRemote := duelProps(enemyBattle())
			late := mustScene(t, testConfig(), lateProps, nil)

			sent := sim.FrameTime(0)
			deliver := func(upTo sim.FrameTime) {
				for ; sent < upTo; sent++ {
					lateRemote.Send(remoteInput(sent))
				}
				late.handlePackets(ctx)
			}
			for frame := sim.FrameTime(0); frame < tc.frames; frame++ {
				straightRemote.Send(remoteInput(frame))
				straight.Update(ctx, LocalControls{Pressed: pattern(0, frame)})
				late.Update(ctx, LocalControls{Pressed: pattern(0, frame)})

				if (frame+1)%tc.batch == 0 {
					deliver(frame + 1)
					if mustDigest(t, straight) != mustDigest(t, late) {
						t.Fatalf("frame %d: resimulated state diverged from the straight run", late.Time())
					}
				}
			}
			deliver(tc.frames)

			if straight.Time() != tc.frames || late.Time() != tc.frames {
				t.Fatalf("expected both scenes at frame %d, got %d and %d", tc.frames, straight.Time(), late.Time())
			}
			if mustDigest(t, straight) != mustDigest(t, late) {
				t.Fatalf("resimulated state diverged from the straight run")
			}
			if straight.Phase() != late.Phase() {
				t.Fatalf("expected matching phase, got %s and %s", straight.Phase(), late.Phase())
			}
		})
	}
}

func TestResimulateWithoutDivergenceIsNoop(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	props, remote := duelProps(nil)
	scene := mustScene(t, testConfig(), props, pub)

	for frame := sim.FrameTime(0); frame < 10; frame++ {
		scene.Update(ctx, LocalControls{})
	}
	before := mustDigest(t, scene)
	for frame := sim.FrameTime(0); frame < 10; frame++ {
		remote.Send(proto.Input(1, nil, nil))
	}
	scene.handlePackets(ctx)

	if got := pub.count(loggingnetplay.EventRollback); got != 0 {
		t.Fatalf("expected no rollback for matching input, got %d", got)
	}
	if mustDigest(t, scene) != before {
		t.Fatalf("expected state to be untouched")
	}
	if scene.SyncedTime() != 0 {
		t.Fatalf("synced time only advances when frames load input, got %d", scene.SyncedTime())
	}
}

func TestRollbackClampsToRetainedHistory(t *testing.T) {
	ctx := context.Background()
	metrics := newCounters()
	cfg := testConfig()
	cfg.Metrics = metrics
	scene := mustScene(t, cfg, soloProps(), nil)

	for i := 0; i < 25; i++ {
		scene.Update(ctx, LocalControls{})
	}
	if scene.backups.Len() != cfg.InputBufferLimit {
		t.Fatalf("expected %d backups, got %d", cfg.InputBufferLimit, scene.backups.Len())
	}
	if got := metrics.get(metricKeyBackupEvictions); got != 5 {
		t.Fatalf("expected 5 evictions, got %d", got)
	}

	taken := scene.rollback(25)
	if taken != cfg.InputBufferLimit {
		t.Fatalf("expected rollback clamped to %d, got %d", cfg.InputBufferLimit, taken)
	}
	if scene.Time() != 5 {
		t.Fatalf("expected oldest backup at frame 5, got %d", scene.Time())
	}
	if scene.rollback(0) != 0 {
		t.Fatalf("expected zero-step rollback to do nothing")
	}
}

func TestUnsatisfiableRollbackIsDropped(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	metrics := newCounters()
	cfg := testConfig()
	cfg.InputBufferLimit = 5
	cfg.Metrics = metrics
	props, _ := duelProps(nil)
	props.Players[1].InputBuffer = make([]sim.InputSet, 30)
	scene := mustScene(t, cfg, props, pub)

	for i := 0; i < 12; i++ {
		scene.Update(ctx, LocalControls{})
	}
	before := mustDigest(t, scene)
	scene.resimulate(ctx, 2, 1)

	if mustDigest(t, scene) != before {
		t.Fatalf("expected dropped rollback to leave the state alone")
	}
	if got := pub.count(loggingnetplay.EventRollbackUnsatisfiable); got != 1 {
		t.Fatalf("expected one unsatisfiable event, got %d", got)
	}
	if got := pub.count(loggingnetplay.EventDesyncRisk); got != 1 {
		t.Fatalf("expected a desync risk signal, got %d", got)
	}
	if got := metrics.get(metricKeyRollbacksDropped); got != 1 {
		t.Fatalf("expected dropped rollback metric 1, got %d", got)
	}
}

// delayedSender holds packets until the test releases them.
type delayedSender struct {
	next link.Sender
	held []proto.Packet
}

func (d *delayedSender) Send(packet proto.Packet) error {
	d.held = append(d.held, packet)
	return nil
}

func (d *delayedSender) release(t *testing.T) {
	t.Helper()
	for _, packet := range d.held {
		if err := d.next.Send(packet); err != nil {
			t.Fatalf("failed to release packet: %v", err)
		}
	}
	d.held = nil
}

func TestPeersConvergeOverDelayedLinks(t *testing.T) {
	ctx := context.Background()
	hostEnd, guestEnd := link.Pipe()
	hostOut := &delayedSender{next: hostEnd}
	guestOut := &delayedSender{next: guestEnd}

	host := mustScene(t, testConfig(), Props{
		Players:   []PlayerSetup{{Index: 0, Local: true}, {Index: 1}},
		Battle:    enemyBattle(),
		Senders:   []link.Sender{hostOut},
		Receivers: []PeerReceiver{{Index: 1, Receiver: hostEnd}},
	}, nil)
	guest := mustScene(t, testConfig(), Props{
		Players:   []PlayerSetup{{Index: 0}, {Index: 1, Local: true}},
		Battle:    enemyBattle(),
		Senders:   []link.Sender{guestOut},
		Receivers: []PeerReceiver{{Index: 0, Receiver: guestEnd}},
	}, nil)

	for tick := 0; tick < 80; tick++ {
		host.Update(ctx, LocalControls{Pressed: pattern(0, host.Time())})
		guest.Update(ctx, LocalControls{Pressed: pattern(1, guest.Time())})
		if tick%3 == 2 {
			hostOut.release(t)
		}
		if tick%5 == 4 {
			guestOut.release(t)
		}
	}

	for i := 0; i < 200 && host.Time() != guest.Time(); i++ {
		hostOut.release(t)
		guestOut.release(t)
		if host.Time() < guest.Time() {
			host.Update(ctx, LocalControls{Pressed: pattern(0, host.Time())})
		} else {
			guest.Update(ctx, LocalControls{Pressed: pattern(1, guest.Time())})
		}
	}
	if host.Time() != guest.Time() {
		t.Fatalf("peers failed to line up: host %d guest %d", host.Time(), guest.Time())
	}

	hostOut.release(t)
	guestOut.release(t)
	host.handlePackets(ctx)
	guest.handlePackets(ctx)

	if mustDigest(t, host) != mustDigest(t, guest) {
		t.Fatalf("peers diverged at frame %d", host.Time())
	}
}

func TestThrottleSuspendsForCooldown(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	metrics := newCounters()
	cfg := testConfig()
	cfg.Metrics = metrics
	props, remote := duelProps(nil)
	scene := mustScene(t, cfg, props, pub)

	remote.Send(proto.Input(1, nil, []int{10, 0}))
	for tick := 0; tick < cfg.SlowCooldown; tick++ {
		scene.Update(ctx, LocalControls{})
		if scene.Time() != 0 {
			t.Fatalf("expected tick %d to be suspended, frame advanced to %d", tick, scene.Time())
		}
	}
	scene.Update(ctx, LocalControls{})
	if scene.Time() != 1 {
		t.Fatalf("expected production to resume after the cooldown, at frame %d", scene.Time())
	}
	if got := pub.count(loggingnetplay.EventThrottle); got != 1 {
		t.Fatalf("expected one throttle event, got %d", got)
	}
	if got := metrics.get(metricKeyThrottles); got != 1 {
		t.Fatalf("expected throttle metric 1, got %d", got)
	}
}

func TestProtocolErrorsAreRateLimited(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	metrics := newCounters()
	cfg := testConfig()
	cfg.Metrics = metrics
	props, remote := duelProps(nil)
	scene := mustScene(t, cfg, props, pub)

	for i := 0; i < 10; i++ {
		remote.Send(proto.Hello(1))
	}
	remote.Send(proto.Input(0, nil, nil))
	remote.Send(proto.Heartbeat(1))
	scene.Update(ctx, LocalControls{})

	if got := pub.count(loggingnetplay.EventProtocolError); got != protocolErrorBurst {
		t.Fatalf("expected %d logged protocol errors, got %d", protocolErrorBurst, got)
	}
	if got := metrics.get(metricKeyProtocolErrors); got != 11 {
		t.Fatalf("expected every protocol error counted, got %d", got)
	}
	if scene.Time() != 1 {
		t.Fatalf("expected bad packets to be ignored, frame %d", scene.Time())
	}
}

func TestSpeculationStallsAtBufferLimit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	props, remote := duelProps(nil)
	scene := mustScene(t, cfg, props, nil)

	for i := 0; i < cfg.InputBufferLimit+5; i++ {
		scene.Update(ctx, LocalControls{})
	}
	if scene.Time() != sim.FrameTime(cfg.InputBufferLimit) {
		t.Fatalf("expected speculation to stop at frame %d, got %d", cfg.InputBufferLimit, scene.Time())
	}

	remote.Send(proto.AllDisconnected())
	scene.Update(ctx, LocalControls{})
	if scene.Time() != sim.FrameTime(cfg.InputBufferLimit)+1 {
		t.Fatalf("expected AllDisconnected to release the stall, frame %d", scene.Time())
	}
}

func TestClosedLinkDisconnectsPlayer(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	cfg := testConfig()
	props, remote := duelProps(nil)
	scene := mustScene(t, cfg, props, pub)

	for i := 0; i < cfg.InputBufferLimit; i++ {
		scene.Update(ctx, LocalControls{})
	}
	remote.Send(remoteInput(0))
	remote.Close()
	scene.Update(ctx, LocalControls{})
	scene.Update(ctx, LocalControls{})

	if got := pub.count(loggingnetplay.EventPlayerDisconnected); got != 1 {
		t.Fatalf("expected one disconnect event, got %d", got)
	}
	if len(scene.receivers) != 0 {
		t.Fatalf("expected the closed receiver to be dropped")
	}
	if scene.Time() != sim.FrameTime(cfg.InputBufferLimit)+2 {
		t.Fatalf("expected frames to advance without the peer, frame %d", scene.Time())
	}
}

func TestSoloFrameByFrameDebugging(t *testing.T) {
	ctx := context.Background()
	scene := mustScene(t, testConfig(), soloProps(), nil)

	for i := 0; i < 10; i++ {
		scene.Update(ctx, LocalControls{Pressed: pattern(0, scene.Time())})
	}
	scene.Update(ctx, LocalControls{StepBack: true})
	if !scene.FrameByFrame() || scene.Time() != 11 {
		t.Fatalf("expected frame-by-frame at frame 11, got %v at %d", scene.FrameByFrame(), scene.Time())
	}

	scene.Update(ctx, LocalControls{StepBack: true})
	if scene.Time() != 10 {
		t.Fatalf("expected step back to frame 10, got %d", scene.Time())
	}
	if scene.SyncedTime() != 10 {
		t.Fatalf("expected synced time reset to 10, got %d", scene.SyncedTime())
	}

	scene.Update(ctx, LocalControls{StepForward: true})
	if scene.Time() != 11 {
		t.Fatalf("expected step forward to frame 11, got %d", scene.Time())
	}

	scene.Update(ctx, LocalControls{})
	if scene.Time() != 11 {
		t.Fatalf("expected paused scene to hold frame 11, got %d", scene.Time())
	}

	scene.Update(ctx, LocalControls{Pressed: sim.NewInputSet(sim.InputPause)})
	if scene.FrameByFrame() {
		t.Fatalf("expected pause to leave frame-by-frame mode")
	}
	scene.Update(ctx, LocalControls{})
	if scene.Time() != 12 {
		t.Fatalf("expected normal play to resume, frame %d", scene.Time())
	}
}

func TestStepBackIgnoredInMultiplayer(t *testing.T) {
	ctx := context.Background()
	props, _ := duelProps(nil)
	scene := mustScene(t, testConfig(), props, nil)

	scene.Update(ctx, LocalControls{StepBack: true, StepForward: true})
	if scene.FrameByFrame() {
		t.Fatalf("expected debugging to stay off with a remote player")
	}
}

func TestExitWaitsForOldestBackup(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	cfg := testConfig()
	scene := mustScene(t, cfg, Props{
		Players: []PlayerSetup{{Index: 0, Local: true}},
		Battle:  &script.Package{ID: "ending", Source: endingBattleSource},
	}, pub)

	exitAt := sim.FrameTime(-1)
	for i := 0; i < 200 && !scene.Exited(); i++ {
		scene.Update(ctx, LocalControls{})
		if exitAt < 0 && scene.simulation.Exit {
			exitAt = scene.Time()
			if scene.Exited() {
				t.Fatalf("exit must wait for the oldest backup")
			}
		}
	}
	if !scene.Exited() {
		t.Fatalf("expected the battle to exit")
	}
	if want := exitAt + sim.FrameTime(cfg.InputBufferLimit); scene.Time() != want {
		t.Fatalf("expected exit at frame %d, got %d", want, scene.Time())
	}

	for i := 0; i < 5; i++ {
		scene.Update(ctx, LocalControls{})
	}
	if got := pub.count(loggingsimulation.EventBattleExit); got != 1 {
		t.Fatalf("expected one exit event, got %d", got)
	}
}

func TestDigestCoversControlState(t *testing.T) {
	ctx := context.Background()
	scene := mustScene(t, testConfig(), soloProps(), nil)
	scene.Update(ctx, LocalControls{})

	intro, ok := scene.control.(sim.IntroControl)
	if !ok {
		t.Fatalf("expected intro control, got %s", scene.Phase())
	}
	before := mustDigest(t, scene)
	intro.Elapsed++
	scene.control = intro
	if mustDigest(t, scene) == before {
		t.Fatalf("expected control progress to change the digest")
	}
}

func TestAppliedEffectsAreCounted(t *testing.T) {
	ctx := context.Background()
	metrics := newCounters()
	cfg := testConfig()
	cfg.Metrics = metrics
	scene := mustScene(t, cfg, soloProps(), nil)

	for frame := sim.FrameTime(0); frame < 30; frame++ {
		var pressed sim.InputSet
		if frame%6 == 3 {
			pressed = sim.NewInputSet(sim.InputShoot)
		}
		scene.Update(ctx, LocalControls{Pressed: pressed})
	}
	if got := metrics.get(metricKeyEffectsApplied); got == 0 {
		t.Fatalf("expected shooting to apply effects, got %d", got)
	}
	if got := metrics.get(metricKeyFramesAdvanced); got != 30 {
		t.Fatalf("expected 30 frames advanced, got %d", got)
	}
}
