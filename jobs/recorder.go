package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/logger"
)

// maxBufferedFailures bounds the failures a recorder keeps in memory
const maxBufferedFailures = 10000

// Recorder tracks one job while an engine runs it. Failures are buffered and written
// when the job finishes, so workers never wait on the job tables mid-import.
type Recorder struct {
	store *Store
	job   *Job
	log   *zap.SugaredLogger

	mu       sync.Mutex
	failures []ix.ImportError
	dropped  int64
	last     ix.Progress

	sometimes rate.Sometimes
}

var (
	_ ix.Listener     = (*Recorder)(nil)
	_ ix.ProgressSink = (*Recorder)(nil)
)

// NewRecorder records job into store. Progress counters are written at most once per interval.
func NewRecorder(store *Store, job *Job, interval time.Duration, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Recorder{
		store: store,
		job:   job,
		log:   log.With(logger.FieldJobID, job.ID),
	}
	if interval > 0 {
		r.sometimes = rate.Sometimes{Interval: interval}
	} else {
		r.sometimes = rate.Sometimes{Every: 1}
	}
	return r
}

// Job returns the recorded job
func (r *Recorder) Job() *Job {
	return r.job
}

// Start creates the job row and marks it running
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.store.Create(ctx, r.job); err != nil {
		return err
	}
	r.job.Start(time.Now().UTC())
	if err := r.store.Update(ctx, r.job); err != nil {
		return err
	}
	r.log.Infow("Job started", logger.FieldMode, r.job.Mode, logger.FieldSource, r.job.Source)
	return nil
}

func (r *Recorder) OnImportError(ev ix.ImportError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) >= maxBufferedFailures {
		r.dropped++
		return
	}
	r.failures = append(r.failures, ev)
}

func (r *Recorder) OnProgress(p ix.Progress) {
	r.mu.Lock()
	r.last = p
	r.mu.Unlock()

	r.sometimes.Do(func() {
		// progress rows are best effort; the final report overwrites them
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.UpdateProgress(ctx, r.job.ID, p.Documents, p.Processed); err != nil {
			r.log.Debugw("Progress update failed", logger.FieldError, err)
		}
	})
}

// Finish writes the buffered failures and the report's outcome
func (r *Recorder) Finish(ctx context.Context, report *ix.Report) error {
	r.mu.Lock()
	failures := r.failures
	dropped := r.dropped
	r.failures = nil
	r.mu.Unlock()

	var errs error
	if err := r.store.RecordFailures(ctx, r.job.ID, failures); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if dropped > 0 {
		r.log.Warnw("Failures not recorded, buffer full", logger.FieldCount, dropped)
	}

	r.job.Finish(report, time.Now().UTC())
	if err := r.store.Update(ctx, r.job); err != nil {
		errs = errors.CombineErrors(errs, err)
	}

	r.log.Infow("Job finished",
		logger.FieldStatus, r.job.Status,
		logger.FieldDocs, r.job.DocumentsCreated,
		"failures", r.job.Failures)
	return errs
}

// Fail records a job that stopped before the engine produced a report
func (r *Recorder) Fail(ctx context.Context, cause error) error {
	r.job.Fail(cause, time.Now().UTC())
	if err := r.store.Update(ctx, r.job); err != nil {
		return errors.CombineErrors(cause, err)
	}
	return nil
}

// Last returns the most recent progress seen
func (r *Recorder) Last() ix.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
