package netplay

import (
	"context"
	"strconv"

	"real-pet/battle/logging"
)

const (
	// EventRollback is emitted when a late input forces a rollback.
	EventRollback logging.EventType = "netplay.rollback"
	// EventRollbackUnsatisfiable is emitted when the diverging frame is older than the retained history.
	EventRollbackUnsatisfiable logging.EventType = "netplay.rollback_unsatisfiable"
	// EventThrottle is emitted when flow control pauses frame production.
	EventThrottle logging.EventType = "netplay.throttle"
	// EventProtocolError is emitted for packets that are not valid during battle.
	EventProtocolError logging.EventType = "netplay.protocol_error"
	// EventPlayerDisconnected is emitted when a peer's controller is marked disconnected.
	EventPlayerDisconnected logging.EventType = "netplay.player_disconnected"
	// EventDesyncRisk is emitted when unsatisfiable rollbacks cross the policy threshold.
	EventDesyncRisk logging.EventType = "netplay.desync_risk"
	// EventLinkClosed is emitted when a peer link shuts down.
	EventLinkClosed logging.EventType = "netplay.link_closed"
)

func peer(index int) logging.ActorRef {
	return logging.ActorRef{ID: strconv.Itoa(index), Kind: logging.ActorKindPeer}
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryNetplay
	pub.Publish(ctx, event)
}

// RollbackPayload describes a performed rollback.
type RollbackPayload struct {
	Target int64 `json:"target"`
	Steps  int   `json:"steps"`
}

// Rollback publishes a debug event for every performed rollback.
func Rollback(ctx context.Context, pub logging.Publisher, frame int64, player int, payload RollbackPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventRollback,
		Frame:    frame,
		Actor:    peer(player),
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

// RollbackUnsatisfiablePayload describes a correction that could not be applied.
type RollbackUnsatisfiablePayload struct {
	Target int64 `json:"target"`
	Behind int   `json:"behind"`
	Window int   `json:"window"`
}

// RollbackUnsatisfiable publishes a warning when a divergence falls outside the history window.
func RollbackUnsatisfiable(ctx context.Context, pub logging.Publisher, frame int64, player int, payload RollbackUnsatisfiablePayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventRollbackUnsatisfiable,
		Frame:    frame,
		Actor:    peer(player),
		Severity: logging.SeverityWarn,
		Payload:  payload,
	})
}

// ThrottlePayload captures the depths that triggered flow control.
type ThrottlePayload struct {
	RemoteDepth int `json:"remoteDepth"`
	LocalDepth  int `json:"localDepth"`
	Cooldown    int `json:"cooldown"`
}

// Throttle publishes an info event when frame production pauses.
func Throttle(ctx context.Context, pub logging.Publisher, frame int64, player int, payload ThrottlePayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventThrottle,
		Frame:    frame,
		Actor:    peer(player),
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

// ProtocolErrorPayload names the offending packet.
type ProtocolErrorPayload struct {
	Kind       string `json:"kind"`
	Suppressed int    `json:"suppressed,omitempty"`
}

// ProtocolError publishes a warning for a packet that is not valid during battle.
func ProtocolError(ctx context.Context, pub logging.Publisher, frame int64, player int, payload ProtocolErrorPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventProtocolError,
		Frame:    frame,
		Actor:    peer(player),
		Severity: logging.SeverityWarn,
		Payload:  payload,
	})
}

// PlayerDisconnected publishes an info event when a controller stops gating synchronization.
func PlayerDisconnected(ctx context.Context, pub logging.Publisher, frame int64, player int) {
	publish(ctx, pub, logging.Event{
		Type:     EventPlayerDisconnected,
		Frame:    frame,
		Actor:    peer(player),
		Severity: logging.SeverityInfo,
	})
}

// DesyncRiskPayload summarises the policy signal.
type DesyncRiskPayload struct {
	Unsatisfiable  uint64 `json:"unsatisfiable"`
	TotalRollbacks uint64 `json:"totalRollbacks"`
	Summary        string `json:"summary"`
}

// DesyncRisk publishes an error once accepted divergences become frequent.
func DesyncRisk(ctx context.Context, pub logging.Publisher, frame int64, payload DesyncRiskPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDesyncRisk,
		Frame:    frame,
		Actor:    logging.ActorRef{Kind: logging.ActorKindBattle},
		Severity: logging.SeverityError,
		Payload:  payload,
	})
}

// LinkClosedPayload reports traffic over a link's lifetime.
type LinkClosedPayload struct {
	Remote   string `json:"remote"`
	Sent     string `json:"sent"`
	Received string `json:"received"`
	Reason   string `json:"reason,omitempty"`
}

// LinkClosed publishes an info event when a peer link shuts down.
func LinkClosed(ctx context.Context, pub logging.Publisher, player int, payload LinkClosedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventLinkClosed,
		Actor:    peer(player),
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}
