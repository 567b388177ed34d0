package engine

import (
	"time"

	"citybuilder.ai/internal/persistence/snapshot"
)

// ExportSnapshot captures the resync state. Loop goroutine only.
func (e *Engine) ExportSnapshot(reason string) snapshot.SnapshotV1 {
	e.snapshotSeq++
	ws := e.worldState()
	st := e.sched.Stats()
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:    snapshot.Version,
			Seq:        e.snapshotSeq,
			Seed:       e.tune.Seed,
			Day:        ws.Day,
			Structures: ws.TotalStructureCount,
			SavedAt:    e.cfg.Now().UTC().Format(time.RFC3339),
		},
		Seed:     e.tune.Seed,
		Strategy: e.planner.StrategyName(),
		Speed:    e.speed,
		Reason:   reason,
		State:    ws,
		Counters: snapshot.CountersV1{
			Resets:     e.world.Resets(),
			Dispatched: st.Dispatched,
			Completed:  st.Completed,
			Events:     e.eventSeq,
		},
	}
}

// ImportSnapshot restores a saved state before Run starts. The queue and any
// in-flight build are dropped; occupancy and totals are rebuilt from the
// structure list.
func (e *Engine) ImportSnapshot(s snapshot.SnapshotV1) {
	if s.Seed != e.tune.Seed {
		e.logf("snapshot seed %d differs from tuning seed %d", s.Seed, e.tune.Seed)
	}
	if s.Strategy != "" && s.Strategy != e.planner.StrategyName() {
		e.logf("snapshot strategy %s differs from %s", s.Strategy, e.planner.StrategyName())
	}
	ws, skipped := worldSnapshotFrom(s.State)
	if skipped > 0 {
		e.logf("snapshot: skipped %d structures", skipped)
	}
	e.cancelBuildTimer()
	e.sched.Reset()
	e.world.Restore(ws)
	e.world.RestoreResets(s.Counters.Resets)
	if s.Speed > 0 {
		e.speed = e.tune.ClampSpeed(s.Speed)
	}
	// Continue the file sequence so later exports never reuse a name.
	if s.Header.Seq > e.snapshotSeq {
		e.snapshotSeq = s.Header.Seq
	}
	if s.Counters.Events > e.eventSeq {
		e.eventSeq = s.Counters.Events
	}
	e.publishMetrics()
}
