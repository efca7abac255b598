package fork

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/logger"
)

// shutdownTimeout bounds how long Run waits for idle workers to exit
const shutdownTimeout = 30 * time.Second

// Options configure one recursive-fork import
type Options struct {
	JobID                string
	Target               string
	BatchSize            int
	ThreadCount          int
	PendingQueueCapacity int
	UnitOfWorkTimeout    time.Duration
	StatusPollInterval   time.Duration
	ProgressLogInterval  time.Duration
	MaxDocsPerSecond     float64
}

// OptionsFromConfig maps the import section of the configuration
func OptionsFromConfig(cfg *am.Config) Options {
	return Options{
		BatchSize:            cfg.Import.BatchSize,
		ThreadCount:          cfg.Import.ThreadCount,
		PendingQueueCapacity: cfg.Import.PendingQueueCapacity,
		UnitOfWorkTimeout:    cfg.Import.GetUnitOfWorkTimeout(),
		StatusPollInterval:   cfg.Import.GetStatusPollInterval(),
		ProgressLogInterval:  cfg.Import.GetProgressLogInterval(),
		MaxDocsPerSecond:     cfg.Import.MaxDocsPerSecond,
	}
}

func (o Options) withDefaults() Options {
	if o.JobID == "" {
		o.JobID = uuid.NewString()
	}
	if o.BatchSize < 1 {
		o.BatchSize = am.DefaultBatchSize
	}
	if o.ThreadCount < 1 {
		o.ThreadCount = am.DefaultThreadCount
	}
	if o.PendingQueueCapacity < 0 {
		o.PendingQueueCapacity = 0
	}
	if o.UnitOfWorkTimeout <= 0 {
		o.UnitOfWorkTimeout = am.DefaultUnitOfWorkTimeoutSeconds * time.Second
	}
	if o.StatusPollInterval <= 0 {
		o.StatusPollInterval = am.DefaultStatusPollIntervalMS * time.Millisecond
	}
	if o.ProgressLogInterval <= 0 {
		o.ProgressLogInterval = am.DefaultProgressLogIntervalSecs * time.Second
	}
	return o
}

// Importer owns the worker pool of one recursive-fork import: it resolves the target,
// hands the root task to the pool and polls until no task is queued or running.
type Importer struct {
	repo      ix.Repository
	factory   ix.Factory
	policy    ThreadingPolicy
	opts      Options
	logger    *zap.SugaredLogger
	listeners []ix.Listener
	sink      ix.ProgressSink
}

// NewImporter creates an importer. A nil policy means DefaultPolicy.
func NewImporter(repo ix.Repository, factory ix.Factory, policy ThreadingPolicy, opts Options, log *zap.SugaredLogger) *Importer {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Importer{
		repo:    repo,
		factory: factory,
		policy:  policy,
		opts:    opts.withDefaults(),
		logger:  log.Named("fork"),
	}
}

// AddListener registers l for every failure of subsequent runs
func (imp *Importer) AddListener(l ix.Listener) {
	imp.listeners = append(imp.listeners, l)
}

// SetProgressSink receives progress at every status poll
func (imp *Importer) SetProgressSink(s ix.ProgressSink) {
	imp.sink = s
}

// Run imports source under the configured target and returns when every task finished.
// Cancelling ctx aborts the job: tasks stop at their next node and commit what they wrote.
func (imp *Importer) Run(ctx context.Context, source ix.Node) (*ix.Report, error) {
	opts := imp.opts
	jc := ix.NewJobContext(opts.JobID, imp.listeners...)
	log := imp.logger.With(logger.FieldJobID, opts.JobID)

	resolveCtx := ix.WithWorkerID(ctx, "importer")
	target, err := ix.ResolveTarget(resolveCtx, imp.repo, opts.Target, opts.UnitOfWorkTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve target %q", opts.Target)
	}

	if warning := checkCapacity(opts.ThreadCount); warning != "" {
		log.Warnw("Capacity warning", "warning", warning, logger.FieldThreads, opts.ThreadCount)
	}

	log.Infow("Starting import",
		logger.FieldSource, ix.NodePath(source),
		logger.FieldTarget, target.Path,
		logger.FieldThreads, opts.ThreadCount,
		logger.FieldBatchSize, opts.BatchSize,
		"pending_capacity", opts.PendingQueueCapacity)

	pool := NewPool(ctx, opts.ThreadCount, opts.PendingQueueCapacity, imp.logger)
	defer pool.Shutdown(shutdownTimeout)

	e := &env{
		jc:         jc,
		repo:       imp.repo,
		factory:    imp.factory,
		policy:     imp.policy,
		pool:       pool,
		throttle:   ix.NewThrottle(opts.MaxDocsPerSecond),
		batchSize:  opts.BatchSize,
		uowTimeout: opts.UnitOfWorkTimeout,
		logger:     log,
	}

	root := newTask(e, source, target)
	root.isRoot = true
	if err := pool.Execute(ctx, root); err != nil {
		return nil, errors.Wrap(err, "start root task")
	}

	imp.waitForCompletion(ctx, jc, pool, log)

	report := ix.NewReport(jc, jc.Elapsed())
	log.Infow("Import finished",
		logger.FieldDocs, report.DocumentsCreated,
		logger.FieldDocsPerSec, report.Throughput,
		logger.FieldElapsed, report.Elapsed.String(),
		"tasks", report.Tasks,
		"failures", report.FailureCount,
		"stats", report.Stats.String())
	return report, nil
}

// waitForCompletion polls the pool until nothing is outstanding
func (imp *Importer) waitForCompletion(ctx context.Context, jc *ix.JobContext, pool *Pool, log *zap.SugaredLogger) {
	ticker := time.NewTicker(imp.opts.StatusPollInterval)
	defer ticker.Stop()

	progressLog := rate.Sometimes{Interval: imp.opts.ProgressLogInterval}
	done := ctx.Done()

	for {
		if pool.Idle() {
			return
		}

		select {
		case <-done:
			log.Infow("Import interrupted, waiting for tasks to stop", logger.FieldActive, pool.ActiveCount())
			jc.Abort()
			done = nil
		case <-ticker.C:
		}

		progress := imp.snapshot(jc, pool)
		if imp.sink != nil {
			imp.sink.OnProgress(progress)
		}
		progressLog.Do(func() {
			log.Infow("Import progress",
				logger.FieldDocs, progress.Documents,
				logger.FieldDocsPerSec, progress.DocsPerSecond,
				logger.FieldActive, progress.ActiveWorkers,
				logger.FieldQueued, progress.QueuedTasks)
		})
	}
}

func (imp *Importer) snapshot(jc *ix.JobContext, pool *Pool) ix.Progress {
	elapsed := jc.Elapsed()
	docs := jc.DocumentsCreated()
	return ix.Progress{
		JobID:         jc.ID(),
		Documents:     docs,
		Processed:     jc.Stats().Get(ix.StatNodesProcessed),
		ActiveWorkers: pool.ActiveCount(),
		QueuedTasks:   pool.QueueDepth(),
		Elapsed:       elapsed,
		DocsPerSecond: ix.Rate(docs, elapsed),
	}
}
