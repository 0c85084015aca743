package journal

import (
	"fmt"
)

// DesyncReason records one rollback that could not be honoured.
type DesyncReason struct {
	Target int64
	Behind int
	Window int
}

// DesyncSignal summarises unsatisfiable rollbacks since the last Consume.
type DesyncSignal struct {
	Unsatisfiable  uint64
	TotalRollbacks uint64
	Reasons        []DesyncReason
}

// Policy tracks how often a late input arrived outside the retained history.
// Each one is an accepted divergence; the policy raises a signal once they
// make up more than the threshold share of rollback requests.
type Policy struct {
	totalRollbacks uint64
	unsatisfiable  uint64
	pending        bool
	reasons        []DesyncReason
}

const unsatisfiableThresholdPerHundred = 1
const desyncReasonLimit = 8

func NewPolicy() *Policy {
	return &Policy{reasons: make([]DesyncReason, 0, desyncReasonLimit)}
}

// NoteRollback counts a rollback request, satisfiable or not.
func (p *Policy) NoteRollback() {
	if p == nil {
		return
	}
	if p.totalRollbacks == ^uint64(0) {
		p.totalRollbacks = p.totalRollbacks / 2
		p.unsatisfiable = p.unsatisfiable / 2
	}
	p.totalRollbacks++
}

// NoteUnsatisfiable records a rollback target older than the retained window.
func (p *Policy) NoteUnsatisfiable(target int64, behind, window int) {
	if p == nil {
		return
	}
	p.unsatisfiable++
	if len(p.reasons) < desyncReasonLimit {
		p.reasons = append(p.reasons, DesyncReason{Target: target, Behind: behind, Window: window})
	}
	p.evaluate()
}

func (p *Policy) evaluate() {
	if p == nil || p.pending || p.unsatisfiable == 0 {
		return
	}
	total := p.totalRollbacks
	if total == 0 {
		total = 1
	}
	if p.unsatisfiable*100 >= total*unsatisfiableThresholdPerHundred {
		p.pending = true
	}
}

// Consume returns the pending signal, if any, and resets the counters.
func (p *Policy) Consume() (DesyncSignal, bool) {
	if p == nil || !p.pending {
		return DesyncSignal{}, false
	}
	signal := DesyncSignal{
		Unsatisfiable:  p.unsatisfiable,
		TotalRollbacks: p.totalRollbacks,
		Reasons:        append([]DesyncReason(nil), p.reasons...),
	}
	p.pending = false
	p.totalRollbacks = 0
	p.unsatisfiable = 0
	if len(p.reasons) > 0 {
		p.reasons = p.reasons[:0]
	}
	return signal, true
}

func (s DesyncSignal) Summary() string {
	if s.Unsatisfiable == 0 && s.TotalRollbacks == 0 {
		return ""
	}
	return fmt.Sprintf("unsatisfiable=%d total_rollbacks=%d reasons=%v", s.Unsatisfiable, s.TotalRollbacks, s.Reasons)
}
