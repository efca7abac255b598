package ix

import "time"

// Report is the final outcome of an import job, whichever engine ran it
type Report struct {
	JobID string
	// DocumentsCreated counts committed leaf documents
	DocumentsCreated int64
	Elapsed          time.Duration
	// Throughput is DocumentsCreated / elapsed_ms * 1000
	Throughput   float64
	Stats        *ImportStat
	Tasks        int
	Failures     []ImportError
	FailureCount int64
	Aborted      bool
	// Err is the first fatal worker error, if any
	Err error
}

// NewReport builds the final report from the shared job state
func NewReport(jc *JobContext, elapsed time.Duration) *Report {
	docs := jc.DocumentsCreated()
	return &Report{
		JobID:            jc.ID(),
		DocumentsCreated: docs,
		Elapsed:          elapsed,
		Throughput:       Rate(docs, elapsed),
		Stats:            jc.Stats(),
		Tasks:            jc.TasksAllocated(),
		Failures:         jc.Failures(),
		FailureCount:     jc.FailureCount(),
		Aborted:          jc.Aborted(),
	}
}

// FailureRate is failures over processed nodes, 0 when nothing was processed
func (r *Report) FailureRate() float64 {
	processed := r.Stats.Get(StatNodesProcessed)
	if processed == 0 {
		if r.FailureCount > 0 {
			return 1
		}
		return 0
	}
	return float64(r.FailureCount) / float64(processed)
}

// ExceedsThreshold reports whether the failure rate is above threshold. A zero threshold never trips.
func (r *Report) ExceedsThreshold(threshold float64) bool {
	return threshold > 0 && r.FailureRate() > threshold
}

// Summary flattens the report for progress emitters
func (r *Report) Summary() map[string]interface{} {
	summary := map[string]interface{}{
		"job_id":            r.JobID,
		"documents_created": r.DocumentsCreated,
		"elapsed":           r.Elapsed.Round(time.Millisecond).String(),
		"docs_per_sec":      r.Throughput,
		"failures":          r.FailureCount,
	}
	if r.Tasks > 0 {
		summary["tasks"] = r.Tasks
	}
	if r.Aborted {
		summary["aborted"] = true
	}
	for k, v := range r.Stats.Snapshot() {
		summary[k] = v
	}
	return summary
}
