package sync_test

import (
	stdsync "sync"
	"testing"
	"time"

	"nassync/internal/model"
	"nassync/internal/sync"
	"nassync/internal/testutil"
)

type snapshotRecorder struct {
	mu    stdsync.Mutex
	snaps []model.ProgressSnapshot
}

func (r *snapshotRecorder) emit(s model.ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) all() []model.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ProgressSnapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func TestTracker_PhaseLifecycle(t *testing.T) {
	clock := testutil.FixedClock()
	rec := &snapshotRecorder{}
	tr := sync.NewTracker(clock, time.Second, rec.emit)

	tr.Start(model.PhaseScan, 100)

	snap := tr.GetProgress(model.PhaseScan)
	if snap == nil {
		t.Fatal("GetProgress() = nil for active phase")
	}
	if snap.Current != 0 || snap.Total != 100 || snap.Percentage != 0 {
		t.Errorf("initial snapshot = %+v", snap)
	}

	clock.Advance(10 * time.Second)
	tr.Update(model.PhaseScan, 25, "docs/a.txt")

	snap = tr.GetProgress(model.PhaseScan)
	if snap.Current != 25 || snap.Percentage != 25 {
		t.Errorf("snapshot after update = %+v, want 25/25%%", snap)
	}
	if snap.Message != "docs/a.txt" {
		t.Errorf("message = %q, want docs/a.txt", snap.Message)
	}
	// 25 items in 10s.
	if snap.Rate != 2.5 {
		t.Errorf("rate = %v, want 2.5", snap.Rate)
	}
	// 75 remaining at 2.5/s.
	eta := tr.GetEstimatedTimeRemaining(model.PhaseScan)
	if eta == nil || *eta != 30*time.Second {
		t.Errorf("eta = %v, want 30s", eta)
	}

	tr.Complete(model.PhaseScan)
	if tr.GetProgress(model.PhaseScan) != nil {
		t.Error("phase still active after Complete")
	}

	snaps := rec.all()
	if len(snaps) == 0 {
		t.Fatal("no snapshots emitted")
	}
	last := snaps[len(snaps)-1]
	if last.Percentage != 100 || last.Current != 100 {
		t.Errorf("final snapshot = %+v, want 100%%", last)
	}
}

func TestTracker_ETAUnknownWithoutProgress(t *testing.T) {
	clock := testutil.FixedClock()
	tr := sync.NewTracker(clock, time.Second, nil)

	tr.Start(model.PhaseUpload, 0) // unknown total
	defer tr.Complete(model.PhaseUpload)

	clock.Advance(time.Second)
	tr.Update(model.PhaseUpload, 5, "")

	if eta := tr.GetEstimatedTimeRemaining(model.PhaseUpload); eta != nil {
		t.Errorf("eta = %v, want nil with unknown total", eta)
	}

	snap := tr.GetProgress(model.PhaseUpload)
	if snap.Percentage != 0 {
		t.Errorf("percentage = %v, want 0 with unknown total", snap.Percentage)
	}
}

func TestTracker_EmissionThrottled(t *testing.T) {
	clock := testutil.FixedClock()
	rec := &snapshotRecorder{}
	tr := sync.NewTracker(clock, time.Minute, rec.emit)

	tr.Start(model.PhaseUpload, 10)
	for i := int64(1); i <= 9; i++ {
		tr.Update(model.PhaseUpload, i, "")
	}

	// First update passes the throttle, the rest fall inside the interval.
	if got := len(rec.all()); got != 1 {
		t.Errorf("emissions = %d, want 1 while clock is frozen", got)
	}

	clock.Advance(time.Minute)
	tr.Update(model.PhaseUpload, 10, "")
	if got := len(rec.all()); got != 2 {
		t.Errorf("emissions = %d, want 2 after interval elapsed", got)
	}

	tr.Complete(model.PhaseUpload)
	if got := len(rec.all()); got != 3 {
		t.Errorf("emissions = %d, want terminal emission from Complete", got)
	}
}

func TestTracker_ConcurrentPhases(t *testing.T) {
	clock := testutil.FixedClock()
	tr := sync.NewTracker(clock, time.Second, nil)

	tr.Start(model.PhaseScan, 50)
	tr.Start(model.PhaseUpload, 20)
	tr.Update(model.PhaseScan, 10, "")
	tr.Update(model.PhaseUpload, 5, "")

	snaps := tr.GetAllProgress()
	if len(snaps) != 2 {
		t.Fatalf("active phases = %d, want 2", len(snaps))
	}

	byPhase := map[model.Phase]model.ProgressSnapshot{}
	for _, s := range snaps {
		byPhase[s.Phase] = s
	}
	if byPhase[model.PhaseScan].Current != 10 || byPhase[model.PhaseUpload].Current != 5 {
		t.Errorf("snapshots = %+v", byPhase)
	}

	tr.Complete(model.PhaseScan)
	tr.Complete(model.PhaseUpload)
	if len(tr.GetAllProgress()) != 0 {
		t.Error("phases remain after completing both")
	}
}

func TestTracker_IncrementAdvancesByOne(t *testing.T) {
	clock := testutil.FixedClock()
	tr := sync.NewTracker(clock, time.Second, nil)

	tr.Start(model.PhaseProcess, 3)
	tr.Increment(model.PhaseProcess, "")
	tr.Increment(model.PhaseProcess, "batch 2")

	snap := tr.GetProgress(model.PhaseProcess)
	if snap.Current != 2 {
		t.Errorf("current = %d, want 2", snap.Current)
	}
	if snap.Message != "batch 2" {
		t.Errorf("message = %q, want batch 2", snap.Message)
	}
	tr.Complete(model.PhaseProcess)
}
