package ix

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxRecordedFailures bounds the failures kept in memory for the final report.
// Listeners still see every failure.
const maxRecordedFailures = 1000

// ProgressKey identifies one worker's progress on one task
type ProgressKey struct {
	Worker int
	Task   string
}

// JobContext is the state shared by every task or consumer of one import job.
// It replaces process-wide counters, so several jobs can run in one process.
type JobContext struct {
	id      string
	started time.Time

	mu            sync.Mutex
	nextTask      int
	progress      map[ProgressKey]int64
	stats         *ImportStat
	listeners     []Listener
	failures      []ImportError
	failureCounts map[ErrorKind]int64

	aborted atomic.Bool
}

// NewJobContext creates the shared state for job id
func NewJobContext(id string, listeners ...Listener) *JobContext {
	return &JobContext{
		id:            id,
		started:       time.Now(),
		progress:      make(map[ProgressKey]int64),
		stats:         NewImportStat(),
		listeners:     append([]Listener(nil), listeners...),
		failureCounts: make(map[ErrorKind]int64),
	}
}

func (jc *JobContext) ID() string {
	return jc.id
}

// Started returns when the job context was created
func (jc *JobContext) Started() time.Time {
	return jc.started
}

func (jc *JobContext) Elapsed() time.Duration {
	return time.Since(jc.started)
}

// AddListener registers l for failures recorded from now on
func (jc *JobContext) AddListener(l Listener) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.listeners = append(jc.listeners, l)
}

// NextTaskID returns "T0", "T1", ... in allocation order
func (jc *JobContext) NextTaskID() string {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	id := fmt.Sprintf("T%d", jc.nextTask)
	jc.nextTask++
	return id
}

// TasksAllocated returns how many task ids were handed out
func (jc *JobContext) TasksAllocated() int {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.nextTask
}

// RecordProgress adds delta committed documents for (worker, task).
// Callers flush at commit time rather than per document.
func (jc *JobContext) RecordProgress(worker int, task string, delta int64) {
	if delta == 0 {
		return
	}
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.progress[ProgressKey{Worker: worker, Task: task}] += delta
}

// DocumentsCreated sums committed documents across all workers and tasks
func (jc *JobContext) DocumentsCreated() int64 {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	var total int64
	for _, n := range jc.progress {
		total += n
	}
	return total
}

// Progress returns a copy of the per-(worker, task) counters
func (jc *JobContext) Progress() map[ProgressKey]int64 {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make(map[ProgressKey]int64, len(jc.progress))
	for k, v := range jc.progress {
		out[k] = v
	}
	return out
}

// MergeStats folds a finished worker's counters into the job aggregate
func (jc *JobContext) MergeStats(s *ImportStat) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.stats.Merge(s)
}

// Stats returns a copy of the job aggregate
func (jc *JobContext) Stats() *ImportStat {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.stats.Clone()
}

// Abort asks every worker to stop at its next node boundary
func (jc *JobContext) Abort() {
	jc.aborted.Store(true)
}

func (jc *JobContext) Aborted() bool {
	return jc.aborted.Load()
}

// RecordFailure stores ev and notifies listeners outside the lock
func (jc *JobContext) RecordFailure(ev ImportError) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	jc.mu.Lock()
	jc.failureCounts[ev.Kind]++
	if len(jc.failures) < maxRecordedFailures {
		jc.failures = append(jc.failures, ev)
	}
	listeners := append([]Listener(nil), jc.listeners...)
	jc.mu.Unlock()

	for _, l := range listeners {
		l.OnImportError(ev)
	}
}

// Failures returns the recorded failures (at most maxRecordedFailures)
func (jc *JobContext) Failures() []ImportError {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return append([]ImportError(nil), jc.failures...)
}

// FailureCount returns the number of failures of every kind
func (jc *JobContext) FailureCount() int64 {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	var total int64
	for _, n := range jc.failureCounts {
		total += n
	}
	return total
}

// FailureCounts returns failures per kind
func (jc *JobContext) FailureCounts() map[ErrorKind]int64 {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make(map[ErrorKind]int64, len(jc.failureCounts))
	for k, v := range jc.failureCounts {
		out[k] = v
	}
	return out
}
