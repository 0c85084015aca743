package app

import (
	battle "real-pet/battle"
	"real-pet/battle/internal/sim"
)

// holdFrames is how long the bot keeps a choice before picking again.
const holdFrames = 4

// InputSource produces the local controls for the frame about to run.
type InputSource interface {
	Controls(frame sim.FrameTime) battle.LocalControls
}

// InputSourceFunc adapts a function into an InputSource.
type InputSourceFunc func(frame sim.FrameTime) battle.LocalControls

func (f InputSourceFunc) Controls(frame sim.FrameTime) battle.LocalControls {
	return f(frame)
}

var botChoices = [...]sim.InputSet{
	0,
	sim.NewInputSet(sim.InputUp),
	sim.NewInputSet(sim.InputDown),
	sim.NewInputSet(sim.InputLeft),
	sim.NewInputSet(sim.InputRight),
	sim.NewInputSet(sim.InputShoot),
	sim.NewInputSet(sim.InputUp, sim.InputShoot),
	sim.NewInputSet(sim.InputSpecial),
}

// Bot picks controls from its seed and the frame alone, so a replay with the
// same seed presses the same buttons on the same frames.
type Bot struct {
	Seed uint64
}

// NewBot returns a bot for one player. The player index is mixed into the
// seed so bots in the same battle differ.
func NewBot(seed uint64, player int) Bot {
	return Bot{Seed: seed ^ (uint64(player+1) * 0x9e3779b97f4a7c15)}
}

func (b Bot) Controls(frame sim.FrameTime) battle.LocalControls {
	rng := sim.NewRNG(b.Seed + uint64(frame/holdFrames))
	choice := botChoices[rng.Intn(len(botChoices))]
	// Release for one frame between choices so presses register as new.
	if frame%holdFrames == holdFrames-1 {
		choice = 0
	}
	return battle.LocalControls{Pressed: choice}
}
