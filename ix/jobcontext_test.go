package ix

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ixbulk/errors"
)

func TestNextTaskIDIsSequential(t *testing.T) {
	jc := NewJobContext("job")
	assert.Equal(t, "T0", jc.NextTaskID())
	assert.Equal(t, "T1", jc.NextTaskID())
	assert.Equal(t, "T2", jc.NextTaskID())
	assert.Equal(t, 3, jc.TasksAllocated())
}

func TestNextTaskIDUniqueUnderConcurrency(t *testing.T) {
	jc := NewJobContext("job")

	var (
		mu  sync.Mutex
		ids = map[string]bool{}
		wg  sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := jc.NextTaskID()
				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1600)
	assert.True(t, ids["T0"])
	assert.True(t, ids["T1599"])
}

func TestRecordProgress(t *testing.T) {
	jc := NewJobContext("job")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				jc.RecordProgress(w, "T0", 2)
			}
		}(w)
	}
	wg.Wait()
	jc.RecordProgress(9, "T1", 0)

	assert.Equal(t, int64(2000), jc.DocumentsCreated())
	progress := jc.Progress()
	assert.Len(t, progress, 4)
	assert.Equal(t, int64(500), progress[ProgressKey{Worker: 2, Task: "T0"}])
}

func TestMergeStatsReturnsCopy(t *testing.T) {
	jc := NewJobContext("job")
	s := NewImportStat()
	s.Increase(StatCommits, 2)
	jc.MergeStats(s)
	jc.MergeStats(s)

	got := jc.Stats()
	got.Increase(StatCommits, 100)
	assert.Equal(t, int64(4), jc.Stats().Get(StatCommits))
}

func TestRecordFailureNotifiesListeners(t *testing.T) {
	var seen []ImportError
	jc := NewJobContext("job", ListenerFunc(func(ev ImportError) {
		seen = append(seen, ev)
	}))

	jc.RecordFailure(ImportError{Worker: "T1", Path: "/A/n2", Err: errors.New("bad"), Kind: ErrorKindMapping})
	jc.RecordFailure(ImportError{Worker: "T1", Path: "/A/n2", Err: errors.New("bad"), Kind: ErrorKindReplay})

	require.Len(t, seen, 2)
	assert.False(t, seen[0].Time.IsZero())
	assert.Equal(t, int64(2), jc.FailureCount())
	assert.Equal(t, int64(1), jc.FailureCounts()[ErrorKindReplay])
	assert.Len(t, jc.Failures(), 2)
}

func TestAbort(t *testing.T) {
	jc := NewJobContext("job")
	assert.False(t, jc.Aborted())
	jc.Abort()
	assert.True(t, jc.Aborted())
}
