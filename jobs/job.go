// Package jobs records import jobs and their node failures in the database,
// so finished and failed imports can be inspected after the process exits.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a job in status s will never change again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Mode names the engine that runs a job
type Mode string

const (
	ModeFork     Mode = "fork"
	ModePipeline Mode = "pipeline"
)

// ParseMode validates a mode name from flags or a manifest
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFork, ModePipeline:
		return Mode(s), nil
	case "":
		return ModeFork, nil
	}
	return "", errors.WithHint(
		errors.NewInvalidRequestError("unknown import mode %q", s),
		"use \"fork\" or \"pipeline\"")
}

// Job is one import run
type Job struct {
	ID               string           `json:"id"`
	Name             string           `json:"name,omitempty"`
	Mode             Mode             `json:"mode"`
	Source           string           `json:"source"`
	Target           string           `json:"target"`
	Status           Status           `json:"status"`
	DocumentsCreated int64            `json:"documents_created"`
	NodesProcessed   int64            `json:"nodes_processed"`
	Failures         int64            `json:"failures"`
	Stats            map[string]int64 `json:"stats,omitempty"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewJob creates a queued job. An empty id gets a random UUID.
func NewJob(id, name string, mode Mode, source, target string) (*Job, error) {
	if source == "" {
		return nil, errors.NewInvalidRequestError("job source cannot be empty")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ModeFork
	}
	if id == "" {
		id = uuid.NewString()
	}
	if target == "" {
		target = "/"
	}

	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Name:      name,
		Mode:      mode,
		Source:    source,
		Target:    target,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Start marks the job running
func (j *Job) Start(now time.Time) {
	j.Status = StatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Finish copies the report's outcome onto the job. A fatal worker error fails
// the job; an aborted run is cancelled even if it committed documents.
func (j *Job) Finish(report *ix.Report, now time.Time) {
	j.DocumentsCreated = report.DocumentsCreated
	j.Failures = report.FailureCount
	if report.Stats != nil {
		j.NodesProcessed = report.Stats.Get(ix.StatNodesProcessed)
		j.Stats = report.Stats.Snapshot()
	}

	switch {
	case report.Err != nil:
		j.Status = StatusFailed
		j.Error = report.Err.Error()
	case report.Aborted:
		j.Status = StatusCancelled
	default:
		j.Status = StatusCompleted
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks a job that could not run at all
func (j *Job) Fail(err error, now time.Time) {
	j.Status = StatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Duration is how long the job ran, or has been running
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// Failure is one recorded node failure
type Failure struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Worker    string    `json:"worker"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}
