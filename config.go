// Package battle runs a rollback netplay battle: it speculates past missing
// remote input, records one backup per frame, and resimulates from the
// divergence point when a late input contradicts the speculation.
package battle

import (
	"real-pet/battle/internal/netplay"
	"real-pet/battle/internal/sim"
	"real-pet/battle/internal/telemetry"
)

// DefaultPlayerHealth is used when a PlayerSetup leaves Health unset.
const DefaultPlayerHealth = 100

// Config tunes a battle scene.
type Config struct {
	// InputBufferLimit caps speculation ahead of the synced frame and sizes
	// the backup history.
	InputBufferLimit int `json:"inputBufferLimit"`
	// BufferTolerance is the depth drift accepted before flow control.
	BufferTolerance int `json:"bufferTolerance"`
	// SlowCooldown is the number of ticks frame production pauses for.
	SlowCooldown int    `json:"slowCooldown"`
	IntroFrames  int    `json:"introFrames"`
	OutroFrames  int    `json:"outroFrames"`
	Seed         uint64 `json:"seed"`
	// DigestEvery publishes a frame digest every n advanced frames. Zero
	// disables it.
	DigestEvery int `json:"digestEvery,omitempty"`

	Logger  telemetry.Logger  `json:"-"`
	Metrics telemetry.Metrics `json:"-"`
}

// DefaultConfig returns the standard battle tuning.
func DefaultConfig() Config {
	return Config{
		InputBufferLimit: netplay.DefaultInputBufferLimit,
		BufferTolerance:  netplay.DefaultBufferTolerance,
		SlowCooldown:     netplay.DefaultSlowCooldown,
		IntroFrames:      sim.DefaultIntroFrames,
		OutroFrames:      sim.DefaultOutroFrames,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.InputBufferLimit <= 0 {
		c.InputBufferLimit = defaults.InputBufferLimit
	}
	if c.BufferTolerance < 0 {
		c.BufferTolerance = defaults.BufferTolerance
	}
	if c.SlowCooldown < 0 {
		c.SlowCooldown = defaults.SlowCooldown
	}
	if c.IntroFrames < 0 {
		c.IntroFrames = 0
	}
	if c.OutroFrames <= 0 {
		c.OutroFrames = defaults.OutroFrames
	}
	if c.DigestEvery < 0 {
		c.DigestEvery = 0
	}
	if c.Logger == nil {
		c.Logger = telemetry.Discard
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NopMetrics()
	}
	return c
}

func (c Config) netplay() netplay.Config {
	return netplay.Config{
		BufferTolerance:  c.BufferTolerance,
		InputBufferLimit: c.InputBufferLimit,
		SlowCooldown:     c.SlowCooldown,
	}
}
