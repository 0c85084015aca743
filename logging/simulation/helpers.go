package simulation

import (
	"context"

	"real-pet/battle/logging"
)

const (
	// EventBattleExit is emitted once when the oldest retained frame requests exit.
	EventBattleExit logging.EventType = "simulation.battle_exit"
	// EventFrameDigest is emitted with the digest of an advanced frame.
	EventFrameDigest logging.EventType = "simulation.frame_digest"
	// EventScriptLoaded is emitted when a script package is added to the pool.
	EventScriptLoaded logging.EventType = "simulation.script_loaded"
)

// BattleExitPayload summarises a finished battle.
type BattleExitPayload struct {
	Frames         int64  `json:"frames"`
	Duration       string `json:"duration,omitempty"`
	Digest         string `json:"digest"`
	Hits           int    `json:"hits"`
	ScriptFaults   int    `json:"scriptFaults"`
	EffectsSkipped int    `json:"effectsSkipped"`
}

// BattleExit publishes the end-of-battle summary.
func BattleExit(ctx context.Context, pub logging.Publisher, frame int64, payload BattleExitPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBattleExit,
		Frame:    frame,
		Actor:    logging.ActorRef{Kind: logging.ActorKindBattle},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// FrameDigestPayload carries a frame digest for replay comparison.
type FrameDigestPayload struct {
	Digest  string `json:"digest"`
	Control string `json:"control"`
}

// FrameDigest publishes a debug event with the digest of a frame.
func FrameDigest(ctx context.Context, pub logging.Publisher, frame int64, payload FrameDigestPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameDigest,
		Frame:    frame,
		Actor:    logging.ActorRef{Kind: logging.ActorKindBattle},
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// ScriptLoadedPayload identifies a loaded package.
type ScriptLoadedPayload struct {
	Package   string `json:"package"`
	Path      string `json:"path"`
	VM        int    `json:"vm"`
	Namespace int    `json:"namespace"`
	Reused    bool   `json:"reused,omitempty"`
}

// ScriptLoaded publishes an info event for every package load request.
func ScriptLoaded(ctx context.Context, pub logging.Publisher, payload ScriptLoadedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventScriptLoaded,
		Actor:    logging.ActorRef{ID: payload.Package, Kind: logging.ActorKindBattle},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}
