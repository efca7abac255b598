package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ixbulk/errors"
	ixtest "github.com/teranos/ixbulk/internal/testing"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/ix/factory"
	"github.com/teranos/ixbulk/ix/fork"
	"github.com/teranos/ixbulk/ix/source/memnode"
	"github.com/teranos/ixbulk/repository/memstore"
)

func TestRecorderLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ixtest.CreateTestDB(t))
	job, err := NewJob("job-rec", "rec", ModeFork, "/data", "")
	require.NoError(t, err)

	rec := NewRecorder(s, job, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, rec.Start(ctx))

	got, err := s.Get(ctx, "job-rec")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	rec.OnProgress(ix.Progress{JobID: "job-rec", Documents: 7, Processed: 9})
	got, err = s.Get(ctx, "job-rec")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.DocumentsCreated)
	assert.Equal(t, int64(9), got.NodesProcessed)
	assert.Equal(t, int64(7), rec.Last().Documents)

	rec.OnImportError(ix.ImportError{Worker: "T1", Path: "/data/x", Kind: ix.ErrorKindMapping, Err: errors.New("bad")})

	stats := ix.NewImportStat()
	stats.Increase(ix.StatNodesProcessed, 11)
	require.NoError(t, rec.Finish(ctx, &ix.Report{JobID: "job-rec", DocumentsCreated: 10, FailureCount: 1, Stats: stats}))

	got, err = s.Get(ctx, "job-rec")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, int64(10), got.DocumentsCreated)
	assert.Equal(t, int64(11), got.NodesProcessed)

	failures, err := s.ListFailures(ctx, "job-rec", 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "/data/x", failures[0].Path)
}

func TestRecorderThrottlesProgress(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ixtest.CreateTestDB(t))
	job, err := NewJob("job-throttle", "", ModePipeline, "/data", "")
	require.NoError(t, err)

	rec := NewRecorder(s, job, time.Hour, nil)
	require.NoError(t, rec.Start(ctx))

	rec.OnProgress(ix.Progress{Documents: 1})
	rec.OnProgress(ix.Progress{Documents: 2})

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.DocumentsCreated)
	assert.Equal(t, int64(2), rec.Last().Documents)
}

func TestRecorderFail(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ixtest.CreateTestDB(t))
	job, err := NewJob("job-fail", "", ModeFork, "/missing", "")
	require.NoError(t, err)

	rec := NewRecorder(s, job, 0, nil)
	require.NoError(t, rec.Start(ctx))
	require.NoError(t, rec.Fail(ctx, errors.New("source not found")))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "source not found", got.Error)
}

func TestRecorderFollowsImporter(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ixtest.CreateTestDB(t))
	job, err := NewJob("job-import", "", ModeFork, "memory", "")
	require.NoError(t, err)

	rec := NewRecorder(s, job, 0, nil)
	require.NoError(t, rec.Start(ctx))

	tree := memnode.Dir("A")
	tree.Add(memnode.Text("good.txt", "x"))
	tree.Add(memnode.Text("big.txt", "too large"))

	f := factory.New(factory.Options{MaxContentBytes: 1}, nil)
	imp := fork.NewImporter(memstore.New(), f, fork.NeverFork, fork.Options{
		JobID:              job.ID,
		BatchSize:          1,
		StatusPollInterval: time.Millisecond,
	}, zaptest.NewLogger(t).Sugar())
	imp.AddListener(rec)
	imp.SetProgressSink(rec)

	report, err := imp.Run(ctx, tree)
	require.NoError(t, err)
	require.NoError(t, rec.Finish(ctx, report))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, int64(1), got.DocumentsCreated)
	assert.Equal(t, report.FailureCount, got.Failures)

	failures, err := s.ListFailures(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "/A/big.txt", failures[0].Path)
	assert.Equal(t, string(ix.ErrorKindMapping), failures[0].Kind)
}
