package battle

import (
	"context"

	"real-pet/battle/internal/sim"
	loggingnetplay "real-pet/battle/logging/netplay"
	loggingsimulation "real-pet/battle/logging/simulation"
)

// simulate advances one frame. The backup for the frame is recorded before
// its input is loaded, unless a rollback in this tick already restored it.
func (s *Scene) simulate(ctx context.Context) {
	if !s.alreadySnapped {
		s.pool.Snap()
		s.backups.Record(Backup{Simulation: s.simulation.Clone(), Control: s.control})
	}
	s.alreadySnapped = false

	s.sync.LoadInput(s.simulation)
	control, applied := sim.Step(s.simulation, s.control, s.pool)
	s.control = control
	s.metrics.Add(metricKeyFramesAdvanced, 1)
	// Resimulated frames count again.
	s.metrics.Add(metricKeyEffectsApplied, uint64(len(applied)))

	if every := s.cfg.DigestEvery; every > 0 && int(s.simulation.Time)%every == 0 {
		digest, err := s.Digest()
		if err != nil {
			s.logger.Printf("failed to digest frame %d: %v", s.simulation.Time, err)
			return
		}
		loggingsimulation.FrameDigest(ctx, s.publisher, int64(s.simulation.Time), loggingsimulation.FrameDigestPayload{
			Digest:  digest.String(),
			Control: s.control.Name(),
		})
	}
}

// rollback restores the backup recorded steps frames ago. steps is clamped to
// the retained history; every script store rewinds by the same count.
func (s *Scene) rollback(steps int) int {
	backup, taken, ok := s.backups.Rewind(steps)
	if !ok {
		return 0
	}
	s.pool.Rollback(taken)
	s.simulation = backup.Simulation.Clone()
	s.control = backup.Control
	s.alreadySnapped = true
	return taken
}

// resimulate replays from target back to the present. A target at or past
// the present is a no-op; one older than the retained history is dropped and
// reported as a desync risk.
func (s *Scene) resimulate(ctx context.Context, target sim.FrameTime, player int) {
	local := s.simulation.Time
	if target >= local {
		return
	}

	steps := int(local - target)
	policy := s.backups.Policy()
	policy.NoteRollback()

	if window := s.backups.Len(); steps > window {
		policy.NoteUnsatisfiable(int64(target), steps, window)
		s.metrics.Add(metricKeyRollbacksDropped, 1)
		loggingnetplay.RollbackUnsatisfiable(ctx, s.publisher, int64(local), player, loggingnetplay.RollbackUnsatisfiablePayload{
			Target: int64(target),
			Behind: steps,
			Window: window,
		})
		s.reportDesyncRisk(ctx)
		return
	}

	s.rollback(steps)
	for s.simulation.Time < local {
		s.simulate(ctx)
	}

	s.metrics.Add(metricKeyRollbacks, 1)
	s.metrics.Add(metricKeyRollbackFrames, uint64(steps))
	loggingnetplay.Rollback(ctx, s.publisher, int64(local), player, loggingnetplay.RollbackPayload{
		Target: int64(target),
		Steps:  steps,
	})
}

// rewind steps the battle back for frame-by-frame debugging. One extra frame
// is rolled back and replayed so the restored backup is consumed.
func (s *Scene) rewind(ctx context.Context, steps int) {
	steps++
	if s.backups.Len() < steps {
		return
	}
	s.rollback(steps)
	s.simulate(ctx)
	s.sync.ResetSyncedTime(s.simulation.Time)
}

func (s *Scene) reportDesyncRisk(ctx context.Context) {
	signal, ok := s.backups.Policy().Consume()
	if !ok {
		return
	}
	summary := signal.Summary()
	s.logger.Printf("desync risk at frame %d: %s", s.simulation.Time, summary)
	loggingnetplay.DesyncRisk(ctx, s.publisher, int64(s.simulation.Time), loggingnetplay.DesyncRiskPayload{
		Unsatisfiable:  signal.Unsatisfiable,
		TotalRollbacks: signal.TotalRollbacks,
		Summary:        summary,
	})
}
