package app

import (
	"context"
	"errors"
	"fmt"

	battle "real-pet/battle"
	"real-pet/battle/internal/net/link"
	"real-pet/battle/internal/net/proto"
	"real-pet/battle/internal/script"
	"real-pet/battle/internal/sim"
	"real-pet/battle/logging"
)

// DuelConfig describes an in-process battle between bots whose packets are
// held back for a seeded number of ticks.
type DuelConfig struct {
	Players int
	Frames  int
	Seed    uint64
	// MaxDelay is the longest a packet is held, in ticks.
	MaxDelay int
	Battle   battle.Config
	// Script is the battle package every peer loads.
	Script    *script.Package
	Publisher logging.Publisher
}

// DuelResult is the settled state of every peer.
type DuelResult struct {
	Frames  sim.FrameTime
	Digests []sim.Digest
	Stats   []sim.Stats
}

// Converged reports whether every peer ended on the same digest.
func (r DuelResult) Converged() bool {
	for _, digest := range r.Digests {
		if digest != r.Digests[0] {
			return false
		}
	}
	return len(r.Digests) > 0
}

// delayedSender holds packets until their due tick. Due ticks never
// decrease, so delivery order is preserved.
type delayedSender struct {
	next    link.Sender
	rng     sim.RNG
	max     int
	tick    int
	lastDue int
	held    []heldPacket
}

type heldPacket struct {
	due    int
	packet proto.Packet
}

func (d *delayedSender) Send(packet proto.Packet) error {
	due := d.tick + d.rng.Intn(d.max+1)
	if due < d.lastDue {
		due = d.lastDue
	}
	d.lastDue = due
	d.held = append(d.held, heldPacket{due: due, packet: packet})
	return nil
}

// advance delivers every packet due by tick. A negative tick delivers all.
func (d *delayedSender) advance(tick int) error {
	d.tick = tick
	delivered := 0
	for _, held := range d.held {
		if tick >= 0 && held.due > tick {
			break
		}
		if err := d.next.Send(held.packet); err != nil {
			return err
		}
		delivered++
	}
	d.held = append(d.held[:0], d.held[delivered:]...)
	return nil
}

// RunDuel plays cfg.Frames frames on every peer, then delivers everything
// still in flight and lets each peer resimulate. Peers that agree on every
// input end on the same digest.
func RunDuel(ctx context.Context, cfg DuelConfig) (DuelResult, error) {
	if cfg.Players < 2 {
		return DuelResult{}, errors.New("a duel needs at least two players")
	}
	if cfg.Frames <= 0 {
		return DuelResult{}, fmt.Errorf("frames must be positive, got %d", cfg.Frames)
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}

	props := make([]battle.Props, cfg.Players)
	for i := range props {
		for p := 0; p < cfg.Players; p++ {
			props[i].Players = append(props[i].Players, battle.PlayerSetup{Index: p, Local: p == i})
		}
		props[i].Battle = cfg.Script
	}

	var senders []*delayedSender
	for i := 0; i < cfg.Players; i++ {
		for j := i + 1; j < cfg.Players; j++ {
			left, right := link.Pipe()
			toRight := &delayedSender{next: left, rng: sim.NewRNG(cfg.Seed + uint64(i*cfg.Players+j)), max: cfg.MaxDelay}
			toLeft := &delayedSender{next: right, rng: sim.NewRNG(cfg.Seed + uint64(j*cfg.Players+i)), max: cfg.MaxDelay}
			senders = append(senders, toRight, toLeft)

			props[i].Senders = append(props[i].Senders, toRight)
			props[i].Receivers = append(props[i].Receivers, battle.PeerReceiver{Index: j, Receiver: left})
			props[j].Senders = append(props[j].Senders, toLeft)
			props[j].Receivers = append(props[j].Receivers, battle.PeerReceiver{Index: i, Receiver: right})
		}
	}

	scenes := make([]*battle.Scene, cfg.Players)
	bots := make([]Bot, cfg.Players)
	for i := range scenes {
		scene, err := battle.NewScene(cfg.Battle, props[i], cfg.Publisher)
		if err != nil {
			return DuelResult{}, fmt.Errorf("build peer %d: %w", i, err)
		}
		scenes[i] = scene
		bots[i] = NewBot(cfg.Seed, i)
	}

	target := sim.FrameTime(cfg.Frames)
	limit := cfg.Frames*4 + cfg.MaxDelay*cfg.Players + 100
	for tick := 0; ; tick++ {
		if err := ctx.Err(); err != nil {
			return DuelResult{}, err
		}
		done := true
		for i, scene := range scenes {
			if scene.Time() < target {
				scene.Update(ctx, bots[i].Controls(scene.Time()))
			}
			done = done && scene.Time() >= target
		}
		for _, sender := range senders {
			if err := sender.advance(tick); err != nil {
				return DuelResult{}, fmt.Errorf("deliver packets: %w", err)
			}
		}
		if done {
			break
		}
		if tick >= limit {
			return DuelResult{}, fmt.Errorf("peers stalled before frame %d", target)
		}
	}

	for _, sender := range senders {
		if err := sender.advance(-1); err != nil {
			return DuelResult{}, fmt.Errorf("deliver packets: %w", err)
		}
	}
	result := DuelResult{Frames: target}
	for i, scene := range scenes {
		scene.Receive(ctx)
		digest, err := scene.Digest()
		if err != nil {
			return DuelResult{}, fmt.Errorf("digest peer %d: %w", i, err)
		}
		result.Digests = append(result.Digests, digest)
		result.Stats = append(result.Stats, scene.Stats())
	}
	return result, nil
}
