package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed", "cancelled"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))

	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFork, m)

	m, err = ParseMode("pipeline")
	require.NoError(t, err)
	assert.Equal(t, ModePipeline, m)

	_, err = ParseMode("parallel")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestNewJob(t *testing.T) {
	job, err := NewJob("", "nightly", "", "/data/export", "")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, ModeFork, job.Mode)
	assert.Equal(t, "/", job.Target)
	assert.Equal(t, StatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	_, err = NewJob("", "", ModeFork, "", "")
	assert.Error(t, err)
}

func TestJobFinish(t *testing.T) {
	stats := ix.NewImportStat()
	stats.Increase(ix.StatNodesProcessed, 12)
	now := time.Now()

	tests := []struct {
		name   string
		report ix.Report
		want   Status
	}{
		{"clean", ix.Report{DocumentsCreated: 10, Stats: stats}, StatusCompleted},
		{"failures alone still complete", ix.Report{DocumentsCreated: 9, FailureCount: 1, Stats: stats}, StatusCompleted},
		{"aborted", ix.Report{DocumentsCreated: 3, Aborted: true, Stats: stats}, StatusCancelled},
		{"fatal", ix.Report{Err: errors.New("commit failed"), Stats: stats}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := NewJob("", "", ModePipeline, "src", "")
			require.NoError(t, err)
			job.Start(now.Add(-time.Second))
			job.Finish(&tt.report, now)

			assert.Equal(t, tt.want, job.Status)
			assert.Equal(t, tt.report.DocumentsCreated, job.DocumentsCreated)
			assert.Equal(t, int64(12), job.NodesProcessed)
			assert.Equal(t, time.Second, job.Duration(now))
			if tt.report.Err != nil {
				assert.Equal(t, "commit failed", job.Error)
			}
		})
	}
}

func TestJobFail(t *testing.T) {
	job, err := NewJob("", "", ModeFork, "src", "")
	require.NoError(t, err)
	assert.Zero(t, job.Duration(time.Now()))

	job.Fail(errors.New("source not found"), time.Now())
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "source not found", job.Error)
	assert.NotNil(t, job.CompletedAt)
}
