package netplay

import (
	"testing"

	"real-pet/battle/internal/net/proto"
	"real-pet/battle/internal/sim"
)

func TestSyncedTimeWaitsForConnectedPlayers(t *testing.T) {
	sync := New(2, 0, DefaultConfig())
	state := sim.NewState(2, 1)

	for frame := 0; frame < 3; frame++ {
		if _, ok := sync.SubmitLocal(sim.NewInputSet(sim.InputUp)); !ok {
			t.Fatalf("expected local submit to succeed")
		}
		sync.LoadInput(state)
		state.Time++
	}
	if sync.SyncedTime() != 0 {
		t.Fatalf("expected synced time to hold at 0, got %d", sync.SyncedTime())
	}
	if sync.InputSynced() {
		t.Fatalf("expected input not synced while remote buffer is empty")
	}

	if !sync.Disconnect(1) {
		t.Fatalf("expected disconnect to succeed")
	}
	if !sync.InputSynced() {
		t.Fatalf("expected disconnected player to stop gating synchronization")
	}
	sync.SubmitLocal(0)
	sync.LoadInput(state)
	if sync.SyncedTime() != 1 {
		t.Fatalf("expected synced time 1 after disconnect, got %d", sync.SyncedTime())
	}
	if sync.Disconnect(1) {
		t.Fatalf("expected second disconnect to report false")
	}
}

func TestLoadInputUsesPositionalBuffer(t *testing.T) {
	sync := New(2, 0, DefaultConfig())
	state := sim.NewState(2, 1)

	sync.SubmitLocal(sim.NewInputSet(sim.InputLeft))
	sync.SubmitLocal(sim.NewInputSet(sim.InputRight))

	state.Time = 1
	sync.LoadInput(state)
	if !state.Inputs[0].IsDown(sim.InputRight) {
		t.Fatalf("expected frame 1 to load the second buffered entry, got %s", state.Inputs[0].Pressed)
	}
	if state.Inputs[1].Pressed != 0 {
		t.Fatalf("expected remote speculation to stay empty, got %s", state.Inputs[1].Pressed)
	}
	if _, ok := sync.ResolvedInput(0, -1); ok {
		t.Fatalf("expected negative offset to resolve to nothing")
	}
}

func TestReceiveRemoteReportsDivergenceFrame(t *testing.T) {
	sync := New(2, 0, DefaultConfig())
	state := sim.NewState(2, 1)
	state.Time = 5

	receipt, ok := sync.ReceiveRemote(proto.Input(1, nil, []int{0, 0}), state)
	if !ok {
		t.Fatalf("expected packet to be accepted")
	}
	if receipt.Diverged || receipt.Target != 5 {
		t.Fatalf("expected matching input to target the current frame, got %+v", receipt)
	}

	receipt, _ = sync.ReceiveRemote(proto.Input(1, []uint8{uint8(sim.InputShoot)}, []int{0, 0}), state)
	if !receipt.Diverged {
		t.Fatalf("expected differing input to diverge")
	}
	if receipt.Target != 1 {
		t.Fatalf("expected divergence at synced+len(buffer)=1, got %d", receipt.Target)
	}
	if depths := sync.BufferDepths(); depths[1] != 2 {
		t.Fatalf("expected remote buffer depth 2, got %v", depths)
	}
}

func TestReceiveRemoteRejectsUnknownAndLocalIndex(t *testing.T) {
	sync := New(2, 0, DefaultConfig())
	state := sim.NewState(2, 1)
	if _, ok := sync.ReceiveRemote(proto.Input(0, nil, nil), state); ok {
		t.Fatalf("expected local index to be rejected")
	}
	if _, ok := sync.ReceiveRemote(proto.Input(7, nil, nil), state); ok {
		t.Fatalf("expected unknown index to be rejected")
	}
}

func TestFlowControlThrottlesForCooldown(t *testing.T) {
	cfg := DefaultConfig()
	sync := New(2, 0, cfg)
	state := sim.NewState(2, 1)

	receipt, _ := sync.ReceiveRemote(proto.Input(1, nil, []int{cfg.BufferTolerance + 1, 0}), state)
	if !receipt.Throttled {
		t.Fatalf("expected throttle to engage, got %+v", receipt)
	}

	stalled := 0
	for tick := 0; tick < 10; tick++ {
		if !sync.Ready(state.Time) {
			stalled++
		}
		sync.TickCooldown()
	}
	if stalled != cfg.SlowCooldown {
		t.Fatalf("expected %d stalled ticks, got %d", cfg.SlowCooldown, stalled)
	}
}

func TestFlowControlIgnoresSmallDrift(t *testing.T) {
	cfg := DefaultConfig()
	sync := New(2, 0, cfg)
	state := sim.NewState(2, 1)

	receipt, _ := sync.ReceiveRemote(proto.Input(1, nil, []int{cfg.BufferTolerance, 0}), state)
	if receipt.Throttled || sync.Throttled() {
		t.Fatalf("expected drift within tolerance to be ignored")
	}
}

func TestCanBufferBoundsSpeculation(t *testing.T) {
	cfg := DefaultConfig()
	sync := New(2, 0, cfg)
	if !sync.Ready(sim.FrameTime(cfg.InputBufferLimit - 1)) {
		t.Fatalf("expected frame inside the window to be ready")
	}
	if sync.Ready(sim.FrameTime(cfg.InputBufferLimit)) {
		t.Fatalf("expected frame at the limit to wait for remote input")
	}
	sync.DisconnectAll()
	if !sync.Ready(sim.FrameTime(cfg.InputBufferLimit)) {
		t.Fatalf("expected synced input to lift the limit")
	}
}

func TestSubmitLocalReportsDepths(t *testing.T) {
	sync := New(3, 1, DefaultConfig())
	packet, ok := sync.SubmitLocal(sim.NewInputSet(sim.InputShoot, sim.InputUp))
	if !ok {
		t.Fatalf("expected submit to succeed")
	}
	if packet.Kind != proto.KindInput || packet.Index != 1 {
		t.Fatalf("unexpected packet header: %+v", packet)
	}
	if len(packet.BufferSizes) != 3 || packet.BufferSizes[1] != 1 {
		t.Fatalf("expected local depth 1 in %v", packet.BufferSizes)
	}
	if len(packet.Pressed) != 2 || packet.Pressed[0] != uint8(sim.InputUp) {
		t.Fatalf("expected ascending codes, got %v", packet.Pressed)
	}
}

func TestPrefillQueuesLobbyInputs(t *testing.T) {
	sync := New(2, 0, DefaultConfig())
	if !sync.Prefill(1, []sim.InputSet{sim.NewInputSet(sim.InputLeft), sim.NewInputSet(sim.InputShoot)}) {
		t.Fatalf("expected prefill to succeed")
	}
	if sync.Prefill(5, nil) {
		t.Fatalf("expected prefill for unknown player to fail")
	}
	if got, ok := sync.ResolvedInput(1, 1); !ok || !got.Has(sim.InputShoot) {
		t.Fatalf("expected second prefilled input at offset 1, got %v", got)
	}
	if depths := sync.BufferDepths(); depths[0] != 0 || depths[1] != 2 {
		t.Fatalf("expected depths [0 2], got %v", depths)
	}
}
