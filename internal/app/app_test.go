package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	battle "real-pet/battle"
	"real-pet/battle/internal/sim"
	"real-pet/battle/internal/telemetry"
)

func clearBattleEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BATTLE_LISTEN", "BATTLE_TICK_RATE", "BATTLE_INPUT_BUFFER_LIMIT", "BATTLE_LOCAL_INDEX", "BATTLE_LOG_JSON"} {
		t.Setenv(key, "")
	}
}

func TestPlayStopsAtMaxFrames(t *testing.T) {
	scene, err := battle.NewScene(battle.DefaultConfig(), battle.Props{
		Players: []battle.PlayerSetup{{Index: 0, Local: true}},
	}, nil)
	if err != nil {
		t.Fatalf("failed to build scene: %v", err)
	}
	cfg := DefaultConfig()
	cfg.TickRate = 1000
	cfg.MaxFrames = 12

	var requested []sim.FrameTime
	source := InputSourceFunc(func(frame sim.FrameTime) battle.LocalControls {
		requested = append(requested, frame)
		return battle.LocalControls{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := play(ctx, scene, source, cfg, telemetry.Discard, telemetry.NopMetrics(), nil); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if scene.Time() != 12 {
		t.Fatalf("expected play to stop at frame 12, got %d", scene.Time())
	}
	for i, frame := range requested {
		if frame != sim.FrameTime(i) {
			t.Fatalf("expected controls requested for frame %d, got %d", i, frame)
		}
	}
}

func TestPlayReturnsOnCancel(t *testing.T) {
	scene, err := battle.NewScene(battle.DefaultConfig(), battle.Props{
		Players: []battle.PlayerSetup{{Index: 0, Local: true}, {Index: 1}},
	}, nil)
	if err != nil {
		t.Fatalf("failed to build scene: %v", err)
	}
	cfg := DefaultConfig()
	cfg.TickRate = 1000

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := play(ctx, scene, NewBot(1, 0), cfg, telemetry.Discard, telemetry.NopMetrics(), nil); err != nil {
		t.Fatalf("expected cancellation to end play cleanly, got %v", err)
	}
	if limit := sim.FrameTime(battle.DefaultConfig().InputBufferLimit); scene.Time() > limit {
		t.Fatalf("expected a silent peer to stall speculation at %d, got %d", limit, scene.Time())
	}
}

func TestRunSoloBattle(t *testing.T) {
	clearBattleEnv(t)
	cfg := DefaultConfig()
	cfg.TickRate = 1000
	cfg.MaxFrames = 30
	cfg.Listen = ""
	cfg.Logging.EnabledSinks = nil

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Run(ctx, cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected the battle to finish before the deadline")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	clearBattleEnv(t)
	cfg := DefaultConfig()
	cfg.Players = 0
	if err := Run(context.Background(), cfg); err == nil {
		t.Fatalf("expected invalid config to fail")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitHealthy(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", addr)
}

func TestRunTwoPeersOverWebsockets(t *testing.T) {
	clearBattleEnv(t)
	addr := freeAddr(t)

	host := DefaultConfig()
	host.Players = 2
	host.Listen = addr
	host.TickRate = 500
	host.MaxFrames = 60
	host.Logging.EnabledSinks = nil

	guest := host
	guest.LocalIndex = 1
	guest.Listen = ""
	guest.Peers = []string{fmt.Sprintf("ws://%s%s", addr, battlePath)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	hostErr := make(chan error, 1)
	go func() { hostErr <- Run(ctx, host) }()
	waitHealthy(t, addr)

	if err := Run(ctx, guest); err != nil {
		t.Fatalf("guest failed: %v", err)
	}
	if err := <-hostErr; err != nil {
		t.Fatalf("host failed: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected both peers to finish before the deadline")
	}
}
