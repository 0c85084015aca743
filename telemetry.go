package battle

import "real-pet/battle/internal/telemetry"

const (
	metricKeyFramesAdvanced   = "battle_frames_advanced_total"
	metricKeyEffectsApplied   = "battle_effects_applied_total"
	metricKeyRollbacks        = "battle_rollbacks_total"
	metricKeyRollbackFrames   = "battle_rollback_frames_total"
	metricKeyRollbacksDropped = "battle_rollbacks_unsatisfiable_total"
	metricKeyThrottles        = "battle_throttles_total"
	metricKeyProtocolErrors   = "battle_protocol_errors_total"
	metricKeyBackupEvictions  = "battle_backup_evictions_total"
	metricKeySyncedTime       = "battle_synced_time"
)

// backupTelemetry reports backup evictions to the metrics sink.
type backupTelemetry struct {
	metrics telemetry.Metrics
}

func (t backupTelemetry) RecordJournalEviction(count int) {
	if t.metrics == nil || count <= 0 {
		return
	}
	t.metrics.Add(metricKeyBackupEvictions, uint64(count))
}
