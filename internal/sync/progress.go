package sync

import (
	stdsync "sync"
	"time"

	"nassync/internal/model"
)

// EmitFunc receives throttled progress snapshots.
type EmitFunc func(model.ProgressSnapshot)

// Tracker is a named-phase progress accumulator. Any stage may report to it;
// it stays off the critical path by doing only in-memory bookkeeping.
// Emission is throttled to at most once per interval per phase, plus a final
// 100% emission on Complete. A periodic timer drives emission for all active
// phases; it starts lazily on the first Start and stops when no phase remains
// active.
type Tracker struct {
	clock    Clock
	interval time.Duration
	emit     EmitFunc

	mu     stdsync.Mutex
	phases map[model.Phase]*phaseState
	ticker *time.Ticker
	stop   chan struct{}
}

type phaseState struct {
	current   int64
	total     int64
	message   string
	startedAt time.Time
	lastEmit  time.Time
}

// NewTracker creates a Tracker emitting through emit at most once per
// interval per phase. emit may be nil for a poll-only tracker.
func NewTracker(clock Clock, interval time.Duration, emit EmitFunc) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		clock:    clock,
		interval: interval,
		emit:     emit,
		phases:   make(map[model.Phase]*phaseState),
	}
}

// Start begins tracking a phase. total may be 0 when the workload size is
// unknown. Restarting an active phase resets its counters.
func (t *Tracker) Start(phase model.Phase, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.phases[phase] = &phaseState{
		total:     total,
		startedAt: t.clock.Now(),
	}
	if t.stop == nil {
		t.startTimerLocked()
	}
}

// Update sets the current count for a phase and emits if the throttle allows.
func (t *Tracker) Update(phase model.Phase, current int64, message string) {
	t.mu.Lock()
	st, ok := t.phases[phase]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.current = current
	if message != "" {
		st.message = message
	}
	snap, due := t.maybeSnapshotLocked(phase, st, false)
	t.mu.Unlock()

	if due && t.emit != nil {
		t.emit(snap)
	}
}

// Increment advances a phase's count by one.
func (t *Tracker) Increment(phase model.Phase, message string) {
	t.mu.Lock()
	st, ok := t.phases[phase]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.current++
	if message != "" {
		st.message = message
	}
	snap, due := t.maybeSnapshotLocked(phase, st, false)
	t.mu.Unlock()

	if due && t.emit != nil {
		t.emit(snap)
	}
}

// Complete emits a terminal 100% snapshot for the phase and flushes its
// state. The timer stops once no phase remains active.
func (t *Tracker) Complete(phase model.Phase) {
	t.mu.Lock()
	st, ok := t.phases[phase]
	if !ok {
		t.mu.Unlock()
		return
	}
	if st.total < st.current {
		st.total = st.current
	}
	st.current = st.total
	snap := t.snapshotLocked(phase, st)
	snap.Percentage = 100
	delete(t.phases, phase)
	if len(t.phases) == 0 {
		t.stopTimerLocked()
	}
	t.mu.Unlock()

	if t.emit != nil {
		t.emit(snap)
	}
}

// GetProgress returns the current snapshot for a phase, or nil if the phase
// is not active.
func (t *Tracker) GetProgress(phase model.Phase) *model.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.phases[phase]
	if !ok {
		return nil
	}
	snap := t.snapshotLocked(phase, st)
	return &snap
}

// GetAllProgress returns snapshots for every active phase.
func (t *Tracker) GetAllProgress() []model.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snaps := make([]model.ProgressSnapshot, 0, len(t.phases))
	for phase, st := range t.phases {
		snaps = append(snaps, t.snapshotLocked(phase, st))
	}
	return snaps
}

// GetEstimatedTimeRemaining derives an ETA from observed throughput. It is
// nil until at least one unit has completed or when the total is unknown.
func (t *Tracker) GetEstimatedTimeRemaining(phase model.Phase) *time.Duration {
	snap := t.GetProgress(phase)
	if snap == nil {
		return nil
	}
	return snap.ETA
}

func (t *Tracker) snapshotLocked(phase model.Phase, st *phaseState) model.ProgressSnapshot {
	now := t.clock.Now()
	elapsed := now.Sub(st.startedAt)

	snap := model.ProgressSnapshot{
		Phase:   phase,
		Current: st.current,
		Total:   st.total,
		Message: st.message,
		Elapsed: elapsed,
	}
	if st.total > 0 {
		snap.Percentage = float64(st.current) / float64(st.total) * 100
	}
	if st.current > 0 && elapsed > 0 {
		snap.Rate = float64(st.current) / elapsed.Seconds()
		if st.total > 0 && snap.Rate > 0 {
			eta := time.Duration(float64(st.total-st.current) / snap.Rate * float64(time.Second))
			snap.ETA = &eta
		}
	}
	return snap
}

func (t *Tracker) maybeSnapshotLocked(phase model.Phase, st *phaseState, force bool) (model.ProgressSnapshot, bool) {
	now := t.clock.Now()
	if !force && now.Sub(st.lastEmit) < t.interval {
		return model.ProgressSnapshot{}, false
	}
	st.lastEmit = now
	return t.snapshotLocked(phase, st), true
}

func (t *Tracker) startTimerLocked() {
	t.ticker = time.NewTicker(t.interval)
	t.stop = make(chan struct{})
	go t.run(t.ticker, t.stop)
}

func (t *Tracker) stopTimerLocked() {
	if t.stop != nil {
		t.ticker.Stop()
		close(t.stop)
		t.ticker = nil
		t.stop = nil
	}
}

// run periodically emits snapshots for all active phases.
func (t *Tracker) run(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if t.emit == nil {
				continue
			}
			var snaps []model.ProgressSnapshot
			t.mu.Lock()
			for phase, st := range t.phases {
				if snap, due := t.maybeSnapshotLocked(phase, st, true); due {
					snaps = append(snaps, snap)
				}
			}
			t.mu.Unlock()
			for _, snap := range snaps {
				t.emit(snap)
			}
		}
	}
}
